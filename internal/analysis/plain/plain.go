// Package plain analyzes human-readable text files.
package plain

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// Factory is the catch-all factory: anything nothing else claims is
// treated as text.
var Factory = &analysis.Factory{
	Name:  "plain",
	Genre: analysis.GenrePlain,
	New:   New,
}

// Analyzer indexes the whole text under analysis.FieldFull and renders it
// line by line.
type Analyzer struct {
	analysis.Base
	text string
}

// New creates a plain-text analyzer.
func New(f *analysis.Factory, cfg *config.Config) analysis.Analyzer {
	return &Analyzer{Base: analysis.NewBase(f, cfg)}
}

// Analyze reads the text. Invalid UTF-8 is replaced rather than rejected.
func (a *Analyzer) Analyze(ctx context.Context, doc *analysis.Document, r io.Reader) error {
	if err := a.CheckAnalyze(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return scerrors.StreamError("text", err)
	}
	text := strings.ToValidUTF8(string(data), string(utf8.RuneError))

	a.text = text
	doc.Add(analysis.FieldFull, text)
	a.MarkAnalyzed()
	return nil
}

// WriteXref renders the text with line anchors.
func (a *Analyzer) WriteXref(w io.Writer) error {
	if err := a.CheckRender(); err != nil {
		return err
	}
	lw := analysis.NewLineWriter(w, a.Config())
	lw.WriteText(a.text)
	if err := lw.Err(); err != nil {
		return scerrors.New(scerrors.ErrCodeXrefWrite, fmt.Sprintf("writing xref after line %d", lw.Lines()), err)
	}
	a.text = ""
	a.MarkRendered()
	return nil
}
