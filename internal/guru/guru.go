// Package guru assembles the analyzer registry with every built-in analyzer.
package guru

import (
	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/analysis/archive"
	"github.com/sourcecolon/sourcecolon/internal/analysis/binary"
	"github.com/sourcecolon/sourcecolon/internal/analysis/golang"
	"github.com/sourcecolon/sourcecolon/internal/analysis/plain"
	"github.com/sourcecolon/sourcecolon/internal/config"
)

// NewRegistry returns a registry with the built-in analyzers registered in
// a fixed order, plain text as the default. Registration order decides ties
// within a precedence class:
//
//	archive, golang, elf, javaclass
func NewRegistry(store *config.Store) (*analysis.Registry, error) {
	reg, err := analysis.NewRegistry(store, plain.Factory)
	if err != nil {
		return nil, err
	}
	for _, f := range []*analysis.Factory{
		archive.NewFactory(reg),
		golang.Factory,
		binary.ELFFactory,
		binary.ClassFactory,
	} {
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
