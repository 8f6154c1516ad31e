package analysis

import (
	"bytes"
	"iter"

	"github.com/sourcecolon/sourcecolon/internal/config"
)

// Base carries what every analyzer shares: its factory, the configuration
// snapshot it was built with, and its lifecycle. Analyzers embed it and
// implement Analyze and WriteXref themselves.
type Base struct {
	Lifecycle
	factory *Factory
	cfg     *config.Config
}

// NewBase binds an analyzer to f and cfg. A nil cfg means the defaults.
func NewBase(f *Factory, cfg *config.Config) Base {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return Base{factory: f, cfg: cfg}
}

// Factory returns the factory that created the analyzer.
func (b *Base) Factory() *Factory { return b.factory }

// Config returns the snapshot the analyzer was created with.
func (b *Base) Config() *config.Config { return b.cfg }

// TokenStream tokenizes paths by component and everything else by symbol,
// capped at the configured word limit.
func (b *Base) TokenStream(field, text string) iter.Seq[Token] {
	var seq iter.Seq[Token]
	if field == FieldPath {
		seq = PathTokens(text)
	} else {
		seq = SymbolTokens(text)
	}
	return b.LimitWords(seq)
}

// LimitWords applies the configured word limit to seq.
func (b *Base) LimitWords(seq iter.Seq[Token]) iter.Seq[Token] {
	if n := b.cfg.Index.WordLimit; n < config.UnlimitedWords {
		return Limit(seq, n)
	}
	return seq
}

// RenderString renders a's cross-reference into a string.
func RenderString(a Analyzer) (string, error) {
	var buf bytes.Buffer
	if err := a.WriteXref(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
