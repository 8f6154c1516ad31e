// Package index stores analyzed documents in a bleve full-text index.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// TermsAnalyzerName is the bleve analyzer for pre-tokenized fields.
// Terms arrive already split by the file's analyzer, so bleve only splits
// on the separating spaces and lowercases.
const TermsAnalyzerName = "sourcecolon_terms"

// ErrClosed is returned by operations on a closed sink.
var ErrClosed = errors.New("index is closed")

// Hit is one search result.
type Hit struct {
	ID    string
	Path  string
	Score float64
}

// BleveSink is an analysis.DocumentSink backed by bleve.
type BleveSink struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Open opens the index at path, creating it if needed. An empty path
// gives an in-memory index.
func Open(path string) (*BleveSink, error) {
	m, err := newMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			slog.Info("index_created", slog.String("path", path))
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveSink{index: idx, path: path}, nil
}

func newMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(TermsAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     whitespace.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = TermsAnalyzerName

	doc := bleve.NewDocumentMapping()

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	doc.AddFieldMappingsAt(analysis.FieldPath, pathField)

	for _, name := range []string{analysis.FieldFull, analysis.FieldDefs, analysis.FieldRefs} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = TermsAnalyzerName
		f.Store = false
		doc.AddFieldMappingsAt(name, f)
	}

	im.DefaultMapping = doc
	return im, nil
}

// Index stores doc under id. Every field except the path is run through
// tokens, so the index sees exactly the terms the file's analyzer produced.
// The path field is stored verbatim; it defaults to id.
func (s *BleveSink) Index(ctx context.Context, id string, doc *analysis.Document, tokens analysis.TokenSource) error {
	if id == "" {
		return scerrors.MissingArgument("id")
	}
	if doc == nil {
		return scerrors.MissingArgument("doc")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fields := map[string]interface{}{analysis.FieldPath: id}
	for _, f := range doc.Fields() {
		if f.Name == analysis.FieldPath {
			if len(f.Values) > 0 {
				fields[analysis.FieldPath] = f.Values[0]
			}
			continue
		}
		var terms []string
		for _, v := range f.Values {
			for tok := range tokens.TokenStream(f.Name, v) {
				terms = append(terms, tok.Text)
			}
		}
		fields[f.Name] = strings.Join(terms, " ")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.index.Index(id, fields); err != nil {
		return scerrors.New(scerrors.ErrCodeIndexFailed, fmt.Sprintf("failed to index %s", id), err)
	}
	return nil
}

// Search matches query against field and returns up to limit hits, best first.
func (s *BleveSink) Search(ctx context.Context, field, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(field)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{analysis.FieldPath}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		p, _ := h.Fields[analysis.FieldPath].(string)
		hits = append(hits, Hit{ID: h.ID, Path: p, Score: h.Score})
	}
	return hits, nil
}

// Delete removes documents by id.
func (s *BleveSink) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (s *BleveSink) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.index.DocCount()
}

// Path returns the on-disk location, or "" for an in-memory index.
func (s *BleveSink) Path() string { return s.path }

// Close closes the index. Further calls are no-ops.
func (s *BleveSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

var _ analysis.DocumentSink = (*BleveSink)(nil)
