// Package archive implements the container analyzer: it walks the members of
// tar (plain, gzip or lz4 compressed) and zip-family archives in stream
// order, dispatches each member through the analyzer registry and
// aggregates the members' cross-references.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"iter"
	"log/slog"

	"github.com/pierrec/lz4/v4"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

const (
	// MaxDepth bounds archive nesting; deeper containers are recorded
	// without a rendering.
	MaxDepth = 8
	// MaxMemberSize is the largest member buffered for nested analysis.
	MaxMemberSize = 64 << 20
)

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
	lz4Magic      = []byte{0x04, 0x22, 0x4d, 0x18}
)

// NewFactory returns the container factory. Members are dispatched through
// reg, so the factory is normally registered with reg itself.
func NewFactory(reg *analysis.Registry) *analysis.Factory {
	return &analysis.Factory{
		Name:       "archive",
		Genre:      analysis.GenreArchive,
		Extensions: []string{"tar", "tar.gz", "tgz", "tar.lz4", "zip", "jar", "war", "ear"},
		Signatures: []analysis.Signature{
			{Magic: zipMagic},
			{Offset: 257, Magic: []byte("ustar")},
		},
		New: func(f *analysis.Factory, cfg *config.Config) analysis.Analyzer {
			return &Analyzer{Base: analysis.NewBase(f, cfg), reg: reg}
		},
	}
}

// Entry is one member in encounter order. Fragment is meaningful only
// when Present is set.
type Entry struct {
	Name     string
	Fragment string
	Present  bool
}

// Analyzer is the container analyzer. Member names are added to
// analysis.FieldFull; nested analyzers add their fields to the same document.
type Analyzer struct {
	analysis.Base
	reg     *analysis.Registry
	entries []Entry
}

type depthKey struct{}

func depthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Analyze reads the archive in a single forward pass. A failure of the
// archive stream itself is returned as a stream error; a member that cannot
// be analyzed is recorded without a fragment.
func (a *Analyzer) Analyze(ctx context.Context, doc *analysis.Document, r io.Reader) error {
	if err := a.CheckAnalyze(); err != nil {
		return err
	}

	br := bufio.NewReaderSize(r, analysis.PeekSize)
	magic, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return scerrors.StreamError("archive", err)
	}

	w := &walker{a: a, doc: doc, depth: depthFrom(ctx)}
	switch {
	case bytes.HasPrefix(magic, zipMagic), bytes.HasPrefix(magic, zipEmptyMagic):
		err = w.zip(ctx, br)
	case bytes.HasPrefix(magic, gzipMagic):
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(br); err != nil {
			return scerrors.StreamError("archive", err)
		}
		defer func() { _ = gz.Close() }()
		err = w.tar(ctx, gz)
	case bytes.HasPrefix(magic, lz4Magic):
		err = w.tar(ctx, lz4.NewReader(br))
	default:
		err = w.tar(ctx, br)
	}
	if err != nil {
		return err
	}

	a.entries = w.entries
	a.MarkAnalyzed()
	return nil
}

// Entries returns the recorded members in encounter order.
func (a *Analyzer) Entries() []Entry { return a.entries }

// TokenStream splits member names on path separators and punctuation so
// nested file names are searchable by component.
func (a *Analyzer) TokenStream(field, text string) iter.Seq[analysis.Token] {
	if field == analysis.FieldFull {
		return a.LimitWords(analysis.PathTokens(text))
	}
	return a.Base.TokenStream(field, text)
}

// WriteXref writes a header per member followed by its fragment, if any,
// then releases the recorded entries.
func (a *Analyzer) WriteXref(w io.Writer) error {
	if err := a.CheckRender(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, e := range a.entries {
		_, _ = fmt.Fprintf(bw, "<br/><b>%s</b>", html.EscapeString(e.Name))
		if e.Present {
			_, _ = bw.WriteString("<pre>")
			_, _ = bw.WriteString(e.Fragment)
			_, _ = bw.WriteString("</pre>")
		}
	}
	if err := bw.Flush(); err != nil {
		return scerrors.New(scerrors.ErrCodeXrefWrite, "writing archive xref", err)
	}

	a.entries = nil
	a.MarkRendered()
	return nil
}

// walker carries the state of one pass over an archive.
type walker struct {
	a       *Analyzer
	doc     *analysis.Document
	depth   int
	entries []Entry
}

func (w *walker) tar(ctx context.Context, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return scerrors.StreamError("archive", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if hdr.Typeflag != tar.TypeReg || hdr.Size > MaxMemberSize {
			w.record(hdr.Name)
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return scerrors.StreamError("archive", err)
		}
		if err := w.member(ctx, hdr.Name, data); err != nil {
			return err
		}
	}
}

// zip needs random access to the central directory, so the outer stream is
// read once into memory and members are then visited in directory order.
func (w *walker) zip(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return scerrors.StreamError("archive", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return scerrors.StreamError("archive", err)
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || f.UncompressedSize64 > MaxMemberSize {
			w.record(f.Name)
			continue
		}
		content, err := readZipMember(f)
		if err != nil {
			w.skip(f.Name, scerrors.MemberError(f.Name, err))
			continue
		}
		if err := w.member(ctx, f.Name, content); err != nil {
			return err
		}
	}
	return nil
}

func readZipMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

// record adds a member without a fragment.
func (w *walker) record(name string) {
	w.doc.Add(analysis.FieldFull, name)
	w.entries = append(w.entries, Entry{Name: name})
}

func (w *walker) skip(name string, err error) {
	slog.Debug("archive_member_skipped",
		slog.String("member", name),
		slog.String("error", err.Error()))
	w.record(name)
}

// member dispatches one fully buffered member. Only cancellation is
// returned; every other failure is confined to the member.
func (w *walker) member(ctx context.Context, name string, data []byte) error {
	peek := data[:min(len(data), analysis.PeekSize)]
	f := w.a.reg.Find(name, peek)

	switch {
	case !f.Genre.Renders():
		w.record(name)
		return nil
	case f.Genre == analysis.GenreArchive && w.depth+1 > MaxDepth:
		w.skip(name, fmt.Errorf("nesting deeper than %d", MaxDepth))
		return nil
	}

	scratch := analysis.NewDocument()
	child := f.New(f, w.a.Config())
	childCtx := context.WithValue(ctx, depthKey{}, w.depth+1)
	if err := child.Analyze(childCtx, scratch, bytes.NewReader(data)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		w.skip(name, scerrors.MemberError(name, err))
		return nil
	}
	fragment, err := analysis.RenderString(child)
	if err != nil {
		w.skip(name, scerrors.MemberError(name, err))
		return nil
	}

	w.doc.Add(analysis.FieldFull, name)
	for _, field := range scratch.Fields() {
		for _, v := range field.Values {
			w.doc.Add(field.Name, v)
		}
	}
	w.entries = append(w.entries, Entry{Name: name, Fragment: fragment, Present: true})
	return nil
}
