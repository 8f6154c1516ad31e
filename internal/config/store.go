package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
	"github.com/sourcecolon/sourcecolon/internal/ignore"
)

// Store owns the current configuration snapshot. It is the only mutable
// state shared between analysis workers, the web read path and the
// configuration listener, and is passed to each of them explicitly.
//
// Readers load the snapshot pointer atomically and therefore always see one
// complete snapshot. Writers are serialized by mu and install a fresh copy:
// single-field setters clone, modify and swap, Replace swaps wholesale.
type Store struct {
	mu         sync.Mutex
	current    atomic.Pointer[Config]
	generation atomic.Uint64
}

// NewStore creates a Store holding a copy of cfg, or the defaults if cfg is nil.
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = NewConfig()
	}
	s := &Store{}
	s.current.Store(cfg.Clone())
	return s
}

// Current returns the active snapshot. Callers must not modify it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Generation counts installed snapshots; it starts at zero.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// Replace validates cfg and installs a copy of it as the current snapshot,
// returning the generation of the installed snapshot. On failure the
// previous snapshot stays active.
func (s *Store) Replace(cfg *Config) (uint64, error) {
	if cfg == nil {
		return 0, scerrors.MissingArgument("cfg")
	}
	if err := cfg.Validate(); err != nil {
		return 0, scerrors.ConfigError("refusing to install invalid configuration", err)
	}

	next := cfg.Clone()

	s.mu.Lock()
	s.current.Store(next)
	gen := s.generation.Add(1)
	s.mu.Unlock()

	slog.Info("config_replaced", slog.Uint64("generation", gen))
	return gen, nil
}

// Serialize encodes the current snapshot.
func (s *Store) Serialize() ([]byte, error) {
	return Serialize(s.Current())
}

// WriteFile persists the current snapshot at path.
func (s *Store) WriteFile(path string) error {
	return WriteFile(path, s.Current())
}

// ReadFile loads the snapshot at path and installs it.
func (s *Store) ReadFile(path string) error {
	cfg, err := ReadFile(path)
	if err != nil {
		return err
	}
	_, err = s.Replace(cfg)
	return err
}

// update applies fn to a private copy of the current snapshot and installs it.
func (s *Store) update(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	fn(next)
	s.current.Store(next)
	s.generation.Add(1)
}

// SourceRoot returns the root of the source tree.
func (s *Store) SourceRoot() string { return s.Current().Paths.SourceRoot }

// SetSourceRoot sets the root of the source tree.
func (s *Store) SetSourceRoot(path string) {
	s.update(func(c *Config) { c.Paths.SourceRoot = path })
}

// DataRoot returns the root of generated data (index, xrefs).
func (s *Store) DataRoot() string { return s.Current().Paths.DataRoot }

// SetDataRoot sets the data root, creating the directory if needed.
func (s *Store) SetDataRoot(path string) error {
	if path != "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create data root %s: %w", path, err)
		}
	}
	s.update(func(c *Config) { c.Paths.DataRoot = path })
	return nil
}

func (s *Store) Ctags() string { return s.Current().Paths.Ctags }

func (s *Store) SetCtags(path string) {
	s.update(func(c *Config) { c.Paths.Ctags = path })
}

func (s *Store) URLPrefix() string { return s.Current().Web.URLPrefix }

func (s *Store) SetURLPrefix(prefix string) {
	s.update(func(c *Config) { c.Web.URLPrefix = prefix })
}

func (s *Store) GenerateHTML() bool { return s.Current().Index.GenerateHTML }

func (s *Store) SetGenerateHTML(v bool) {
	s.update(func(c *Config) { c.Index.GenerateHTML = v })
}

func (s *Store) CompressXref() bool { return s.Current().Index.CompressXref }

func (s *Store) SetCompressXref(v bool) {
	s.update(func(c *Config) { c.Index.CompressXref = v })
}

func (s *Store) QuickContextScan() bool { return s.Current().Index.QuickContextScan }

func (s *Store) SetQuickContextScan(v bool) {
	s.update(func(c *Config) { c.Index.QuickContextScan = v })
}

// IndexWordLimit returns the per-field token cap; UnlimitedWords means none.
func (s *Store) IndexWordLimit() int { return s.Current().Index.WordLimit }

// SetIndexWordLimit sets the per-field token cap. Non-positive values are rejected.
func (s *Store) SetIndexWordLimit(n int) error {
	if n <= 0 {
		return scerrors.ConfigError(fmt.Sprintf("word limit must be positive, got %d", n), nil)
	}
	s.update(func(c *Config) { c.Index.WordLimit = n })
	return nil
}

func (s *Store) Verbose() bool { return s.Current().Verbose }

func (s *Store) SetVerbose(v bool) {
	s.update(func(c *Config) { c.Verbose = v })
}

func (s *Store) AllowLeadingWildcard() bool { return s.Current().Web.AllowLeadingWildcard }

func (s *Store) SetAllowLeadingWildcard(v bool) {
	s.update(func(c *Config) { c.Web.AllowLeadingWildcard = v })
}

// IgnoredNames returns the ignore-policy pattern list; nil means no policy.
func (s *Store) IgnoredNames() IgnoredNames {
	names := s.Current().Index.IgnoredNames
	if names == nil {
		return nil
	}
	return append(IgnoredNames{}, names...)
}

// SetIgnoredNames replaces the ignore-policy pattern list. nil is allowed.
func (s *Store) SetIgnoredNames(names IgnoredNames) error {
	if err := ignore.ValidatePatterns(names); err != nil {
		return scerrors.ConfigError("invalid ignore pattern", err)
	}
	var cp IgnoredNames
	if names != nil {
		cp = append(IgnoredNames{}, names...)
	}
	s.update(func(c *Config) { c.Index.IgnoredNames = cp })
	return nil
}

func (s *Store) BugPage() string { return s.Current().History.BugPage }

func (s *Store) SetBugPage(page string) {
	s.update(func(c *Config) { c.History.BugPage = page })
}

func (s *Store) BugPattern() string { return s.Current().History.BugPattern }

// SetBugPattern sets the issue-tracker ID pattern; it must compile.
func (s *Store) SetBugPattern(pattern string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return scerrors.ConfigError("invalid bug pattern", err)
	}
	s.update(func(c *Config) { c.History.BugPattern = pattern })
	return nil
}

func (s *Store) ReviewPage() string { return s.Current().History.ReviewPage }

func (s *Store) SetReviewPage(page string) {
	s.update(func(c *Config) { c.History.ReviewPage = page })
}

func (s *Store) ReviewPattern() string { return s.Current().History.ReviewPattern }

// SetReviewPattern sets the code-review ID pattern; it must compile.
func (s *Store) SetReviewPattern(pattern string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return scerrors.ConfigError("invalid review pattern", err)
	}
	s.update(func(c *Config) { c.History.ReviewPattern = pattern })
	return nil
}

func (s *Store) RemoteSCMSupported() bool { return s.Current().History.RemoteSCMSupported }

func (s *Store) SetRemoteSCMSupported(v bool) {
	s.update(func(c *Config) { c.History.RemoteSCMSupported = v })
}

func (s *Store) OptimizeDatabase() bool { return s.Current().Index.OptimizeDatabase }

func (s *Store) SetOptimizeDatabase(v bool) {
	s.update(func(c *Config) { c.Index.OptimizeDatabase = v })
}

// IndexLocking reports whether indexing runs hold a cross-process lock.
func (s *Store) IndexLocking() bool { return s.Current().Index.Locking }

func (s *Store) SetIndexLocking(v bool) {
	s.update(func(c *Config) { c.Index.Locking = v })
}

func (s *Store) IndexVersionedFilesOnly() bool { return s.Current().Index.VersionedFilesOnly }

func (s *Store) SetIndexVersionedFilesOnly(v bool) {
	s.update(func(c *Config) { c.Index.VersionedFilesOnly = v })
}

// ObfuscateEMail reports whether rendered xrefs rewrite e-mail addresses.
func (s *Store) ObfuscateEMail() bool { return s.Current().Web.ObfuscateEMail }

func (s *Store) SetObfuscateEMail(v bool) {
	s.update(func(c *Config) { c.Web.ObfuscateEMail = v })
}

func (s *Store) ChattyStatusPage() bool { return s.Current().Web.ChattyStatusPage }

func (s *Store) SetChattyStatusPage(v bool) {
	s.update(func(c *Config) { c.Web.ChattyStatusPage = v })
}
