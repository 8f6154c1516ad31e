// Package binary indexes the printable strings of executables and class files.
package binary

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// MinStringLength is the shortest printable run indexed.
const MinStringLength = 4

var (
	// ELFFactory matches ELF objects by their magic number.
	ELFFactory = &analysis.Factory{
		Name:       "elf",
		Genre:      analysis.GenreData,
		Extensions: []string{"so", "o"},
		Signatures: []analysis.Signature{{Magic: []byte{0x7f, 'E', 'L', 'F'}}},
		New:        New,
	}

	// ClassFactory matches compiled Java classes.
	ClassFactory = &analysis.Factory{
		Name:       "javaclass",
		Genre:      analysis.GenreData,
		Extensions: []string{"class"},
		Signatures: []analysis.Signature{{Magic: []byte{0xca, 0xfe, 0xba, 0xbe}}},
		New:        New,
	}
)

// Analyzer extracts printable ASCII runs into analysis.FieldFull.
// It has nothing to render.
type Analyzer struct {
	analysis.Base
}

// New creates a binary analyzer.
func New(f *analysis.Factory, cfg *config.Config) analysis.Analyzer {
	return &Analyzer{Base: analysis.NewBase(f, cfg)}
}

// Analyze streams the content once.
func (a *Analyzer) Analyze(ctx context.Context, doc *analysis.Document, r io.Reader) error {
	if err := a.CheckAnalyze(); err != nil {
		return err
	}

	strs, err := Strings(ctx, r, MinStringLength)
	if err != nil {
		return err
	}
	if len(strs) > 0 {
		doc.Add(analysis.FieldFull, strings.Join(strs, "\n"))
	}
	a.MarkAnalyzed()
	return nil
}

// WriteXref writes nothing; it only completes the lifecycle.
func (a *Analyzer) WriteXref(io.Writer) error {
	if err := a.CheckRender(); err != nil {
		return err
	}
	a.MarkRendered()
	return nil
}

// Strings returns the runs of at least minLen printable ASCII bytes in r.
func Strings(ctx context.Context, r io.Reader, minLen int) ([]string, error) {
	br := bufio.NewReader(r)
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if cur.Len() >= minLen {
			out = append(out, cur.String())
		}
		cur.Reset()
	}
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			flush()
			return out, nil
		}
		if err != nil {
			return nil, scerrors.StreamError("binary", err)
		}
		if n++; n%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if c >= 0x20 && c < 0x7f || c == '\t' {
			cur.WriteByte(c)
			continue
		}
		flush()
	}
}
