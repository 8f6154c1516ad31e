package analysis

import (
	"bytes"
	"context"
	"io"
	"iter"
	"path"
	"strings"

	"github.com/sourcecolon/sourcecolon/internal/config"
)

// Genre classifies what an analyzer's output looks like.
type Genre string

const (
	// GenrePlain is human-readable text rendered line by line.
	GenrePlain Genre = "plain"
	// GenreXrefable is source code with symbol-level cross-references.
	GenreXrefable Genre = "xrefable"
	// GenreData is binary content with no useful rendering.
	GenreData Genre = "data"
	// GenreArchive is a container of other files.
	GenreArchive Genre = "archive"
)

// Renders reports whether analyzers of this genre produce a cross-reference
// worth storing.
func (g Genre) Renders() bool {
	return g != GenreData
}

// Analyzer is the capability set every content handler implements.
// An instance analyzes exactly one file and is not safe for concurrent use.
type Analyzer interface {
	// Factory returns the factory that created this instance.
	Factory() *Factory
	// Analyze reads the content from r and adds fields to doc.
	Analyze(ctx context.Context, doc *Document, r io.Reader) error
	// TokenStream tokenizes text as it should be indexed under field.
	TokenStream(field, text string) iter.Seq[Token]
	// WriteXref renders the cross-reference once, after Analyze.
	WriteXref(w io.Writer) error
}

// Constructor builds a fresh analyzer bound to a configuration snapshot.
type Constructor func(f *Factory, cfg *config.Config) Analyzer

// Signature is a magic byte sequence expected at Offset in the content.
type Signature struct {
	Offset int
	Magic  []byte
}

// Matches reports whether peek carries the signature.
func (s Signature) Matches(peek []byte) bool {
	end := s.Offset + len(s.Magic)
	if len(s.Magic) == 0 || s.Offset < 0 || end > len(peek) {
		return false
	}
	return bytes.Equal(peek[s.Offset:end], s.Magic)
}

// Factory pairs matchers with a constructor. Factories are immutable once
// registered and may be shared; the analyzers they build may not.
type Factory struct {
	// Name identifies the factory in logs and status output.
	Name  string
	Genre Genre

	// Names are exact base names, e.g. "Makefile".
	Names []string
	// Extensions are matched case-insensitively against the end of the
	// base name, without the leading dot; multi-part ones like "tar.gz" work.
	Extensions []string
	// Prefixes are base-name prefixes, e.g. "README".
	Prefixes []string
	// Signatures are checked against the peeked content prefix.
	Signatures []Signature

	New Constructor
}

func (f *Factory) matchesName(base string) bool {
	for _, n := range f.Names {
		if n == base {
			return true
		}
	}
	return false
}

func (f *Factory) matchesExtension(base string) bool {
	lower := strings.ToLower(base)
	for _, ext := range f.Extensions {
		suffix := "." + strings.ToLower(ext)
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			return true
		}
	}
	return false
}

func (f *Factory) matchesPrefix(base string) bool {
	for _, p := range f.Prefixes {
		if strings.HasPrefix(base, p) {
			return true
		}
	}
	return false
}

func (f *Factory) matchesSignature(peek []byte) bool {
	for _, s := range f.Signatures {
		if s.Matches(peek) {
			return true
		}
	}
	return false
}

// baseName returns the last element of a slash- or backslash-separated path.
func baseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimRight(name, "/")
	if name == "" {
		return ""
	}
	return path.Base(name)
}
