package analysis

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// PeekSize is the number of leading content bytes available to signatures.
const PeekSize = 512

// Registry maps a (name, content prefix) pair to a Factory.
//
// Precedence, most specific first: exact base name, extension, name prefix,
// content signature, then the default factory. Within one class the factory
// registered first wins, so lookups are deterministic for a given
// registration sequence. Registration normally completes at startup; lookups
// may run concurrently with each other and with Register.
type Registry struct {
	store *config.Store

	mu        sync.RWMutex
	factories []*Factory
	byName    map[string]*Factory
	fallback  *Factory
}

// NewRegistry creates a registry whose analyzers read their settings from
// store, falling back to fallback when nothing else matches.
func NewRegistry(store *config.Store, fallback *Factory) (*Registry, error) {
	if fallback == nil || fallback.New == nil {
		return nil, scerrors.MissingArgument("fallback")
	}
	if store == nil {
		store = config.NewStore(nil)
	}
	return &Registry{
		store:    store,
		byName:   map[string]*Factory{fallback.Name: fallback},
		fallback: fallback,
	}, nil
}

// Register appends f to the lookup table. Factory names must be unique.
func (r *Registry) Register(f *Factory) error {
	if f == nil || f.New == nil {
		return scerrors.MissingArgument("factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[f.Name]; dup {
		return scerrors.New(scerrors.ErrCodeInvalidInput,
			fmt.Sprintf("analyzer factory %q already registered", f.Name), nil)
	}
	r.byName[f.Name] = f
	r.factories = append(r.factories, f)

	slog.Debug("analyzer_registered",
		slog.String("factory", f.Name),
		slog.String("genre", string(f.Genre)))
	return nil
}

// Default returns the catch-all factory.
func (r *Registry) Default() *Factory { return r.fallback }

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (*Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byName[name]
	return f, ok
}

// Factories returns the registered factories in registration order,
// excluding the default.
func (r *Registry) Factories() []*Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Factory(nil), r.factories...)
}

// Find selects the factory for a file called name whose content starts with
// peek. peek may be shorter than PeekSize or nil. Find never returns nil.
func (r *Registry) Find(name string, peek []byte) *Factory {
	base := baseName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if base != "" {
		for _, f := range r.factories {
			if f.matchesName(base) {
				return f
			}
		}
		for _, f := range r.factories {
			if f.matchesExtension(base) {
				return f
			}
		}
		for _, f := range r.factories {
			if f.matchesPrefix(base) {
				return f
			}
		}
	}
	if len(peek) > 0 {
		for _, f := range r.factories {
			if f.matchesSignature(peek) {
				return f
			}
		}
	}
	return r.fallback
}

// FindReader peeks at the start of rd and selects a factory. The returned
// reader yields the complete content, peeked bytes included, and must be
// used in place of rd.
func (r *Registry) FindReader(name string, rd io.Reader) (*Factory, io.Reader, error) {
	br, ok := rd.(*bufio.Reader)
	if !ok || br.Size() < PeekSize {
		br = bufio.NewReaderSize(rd, PeekSize)
	}

	peek, err := br.Peek(PeekSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, nil, scerrors.StreamError(name, err)
	}
	return r.Find(name, peek), br, nil
}

// GetAnalyzer returns a fresh analyzer from f bound to the current
// configuration snapshot. A nil f means the default factory.
func (r *Registry) GetAnalyzer(f *Factory) Analyzer {
	if f == nil {
		f = r.fallback
	}
	return f.New(f, r.store.Current())
}

// Store returns the configuration store analyzers are bound to.
func (r *Registry) Store() *config.Store { return r.store }
