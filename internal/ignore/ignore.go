// Package ignore decides which file and directory names are excluded from
// indexing and from directory listings.
//
// Patterns are doublestar globs matched against a single name:
//
//	*.o       any entry named *.o
//	f:*.log   files only
//	d:.git    directories only
package ignore

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	filePrefix = "f:"
	dirPrefix  = "d:"
)

// Names is a compiled ignore policy. The zero value ignores nothing.
// Names is immutable after construction and safe for concurrent use.
type Names struct {
	any   []string
	files []string
	dirs  []string
}

// New builds a policy from patterns. Invalid patterns are reported.
func New(patterns []string) (*Names, error) {
	if err := ValidatePatterns(patterns); err != nil {
		return nil, err
	}

	n := &Names{}
	for _, p := range patterns {
		switch {
		case strings.HasPrefix(p, filePrefix):
			n.files = append(n.files, strings.TrimPrefix(p, filePrefix))
		case strings.HasPrefix(p, dirPrefix):
			n.dirs = append(n.dirs, strings.TrimPrefix(p, dirPrefix))
		default:
			n.any = append(n.any, p)
		}
	}
	return n, nil
}

// MustNew is New for patterns known to be valid.
func MustNew(patterns []string) *Names {
	n, err := New(patterns)
	if err != nil {
		panic(err)
	}
	return n
}

// ValidatePatterns reports the first pattern that is not a valid glob.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		glob := strings.TrimPrefix(strings.TrimPrefix(p, filePrefix), dirPrefix)
		if glob == "" {
			return fmt.Errorf("empty ignore pattern %q", p)
		}
		if !doublestar.ValidatePattern(glob) {
			return fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	return nil
}

// ShouldIgnore reports whether name matches a pattern regardless of kind,
// or a file-only or directory-only pattern.
func (n *Names) ShouldIgnore(name string) bool {
	if n == nil {
		return false
	}
	return matchAny(n.any, name) || matchAny(n.files, name) || matchAny(n.dirs, name)
}

// ShouldIgnoreFile reports whether a regular file called name is excluded.
func (n *Names) ShouldIgnoreFile(name string) bool {
	if n == nil {
		return false
	}
	return matchAny(n.any, name) || matchAny(n.files, name)
}

// ShouldIgnoreDir reports whether a directory called name is excluded.
func (n *Names) ShouldIgnoreDir(name string) bool {
	if n == nil {
		return false
	}
	return matchAny(n.any, name) || matchAny(n.dirs, name)
}

// Patterns returns the policy in its original prefixed form.
func (n *Names) Patterns() []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.any)+len(n.files)+len(n.dirs))
	out = append(out, n.any...)
	for _, p := range n.files {
		out = append(out, filePrefix+p)
	}
	for _, p := range n.dirs {
		out = append(out, dirPrefix+p)
	}
	return out
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
