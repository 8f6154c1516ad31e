// Package config holds the runtime configuration of sourcecolon: the
// snapshot type, its YAML wire form, and the Store through which every
// analysis and serving path reads it.
package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sourcecolon/sourcecolon/internal/ignore"
)

// UnlimitedWords is the IndexWordLimit sentinel meaning "no limit".
const UnlimitedWords = math.MaxInt32

// Config is one snapshot of every tunable setting. Once handed to a Store
// it must be treated as read-only; use Clone to derive a modified copy.
type Config struct {
	Version int           `yaml:"version"`
	Paths   PathsConfig   `yaml:"paths"`
	Index   IndexConfig   `yaml:"index"`
	Web     WebConfig     `yaml:"web"`
	History HistoryConfig `yaml:"history"`

	// Verbose raises the default log level to debug.
	Verbose bool `yaml:"verbose"`
}

// PathsConfig locates the source tree, the generated data and external tools.
type PathsConfig struct {
	SourceRoot string `yaml:"source_root"`
	DataRoot   string `yaml:"data_root"`
	// Ctags is the external tagging tool executable.
	Ctags string `yaml:"ctags"`
}

// IndexConfig controls ingestion.
type IndexConfig struct {
	GenerateHTML     bool `yaml:"generate_html"`
	CompressXref     bool `yaml:"compress_xref"`
	QuickContextScan bool `yaml:"quick_context_scan"`
	// WordLimit caps the number of tokens indexed per field value.
	// UnlimitedWords disables the cap.
	WordLimit          int          `yaml:"word_limit"`
	OptimizeDatabase   bool         `yaml:"optimize_database"`
	Locking            bool         `yaml:"locking"`
	VersionedFilesOnly bool         `yaml:"versioned_files_only"`
	IgnoredNames       IgnoredNames `yaml:"ignored_names"`
}

// WebConfig controls the rendering and serving side.
type WebConfig struct {
	URLPrefix            string `yaml:"url_prefix"`
	AllowLeadingWildcard bool   `yaml:"allow_leading_wildcard"`
	ObfuscateEMail       bool   `yaml:"obfuscate_email"`
	ChattyStatusPage     bool   `yaml:"chatty_status_page"`
}

// HistoryConfig holds issue tracker and code review links plus SCM options.
type HistoryConfig struct {
	BugPage            string `yaml:"bug_page"`
	BugPattern         string `yaml:"bug_pattern"`
	ReviewPage         string `yaml:"review_page"`
	ReviewPattern      string `yaml:"review_pattern"`
	RemoteSCMSupported bool   `yaml:"remote_scm_supported"`
}

// IgnoredNames is the ignore-policy pattern list. A nil value means no
// policy at all and survives serialization as null, distinct from an empty list.
type IgnoredNames []string

// MarshalYAML keeps nil distinguishable from empty on the wire.
func (n IgnoredNames) MarshalYAML() (any, error) {
	if n == nil {
		return nil, nil
	}
	return []string(n), nil
}

// DefaultIgnoredNames are excluded from indexing and listings unless overridden.
var DefaultIgnoredNames = IgnoredNames{
	"d:.git",
	"d:.hg",
	"d:.svn",
	"d:.bzr",
	"d:CVS",
	"d:SCCS",
	"d:RCS",
	".DS_Store",
	".del-*",
	".make.*",
	"*.o",
	"*.a",
	"*.so",
	"*.swp",
	"*~",
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Ctags: "ctags",
		},
		Index: IndexConfig{
			GenerateHTML:     true,
			CompressXref:     true,
			QuickContextScan: true,
			WordLimit:        UnlimitedWords,
			OptimizeDatabase: true,
			IgnoredNames:     append(IgnoredNames(nil), DefaultIgnoredNames...),
		},
		Web: WebConfig{
			URLPrefix: "/source/s?",
		},
		History: HistoryConfig{
			BugPage:       "http://bugs.opensolaris.org/bugdatabase/view_bug.do?bug_id=",
			BugPattern:    `\b([12456789][0-9]{6})\b`,
			ReviewPage:    "http://arc.opensolaris.org/caselog/PSARC/",
			ReviewPattern: `\b(\d{4}/\d{3})\b`,
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.Index.IgnoredNames != nil {
		out.Index.IgnoredNames = append(IgnoredNames{}, c.Index.IgnoredNames...)
	}
	return &out
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Index.WordLimit <= 0 {
		return fmt.Errorf("index.word_limit must be positive, got %d", c.Index.WordLimit)
	}
	if _, err := regexp.Compile(c.History.BugPattern); err != nil {
		return fmt.Errorf("history.bug_pattern: %w", err)
	}
	if _, err := regexp.Compile(c.History.ReviewPattern); err != nil {
		return fmt.Errorf("history.review_pattern: %w", err)
	}
	if err := ignore.ValidatePatterns(c.Index.IgnoredNames); err != nil {
		return fmt.Errorf("index.ignored_names: %w", err)
	}
	return nil
}

// Load reads the configuration file at path on top of the defaults and then
// applies SOURCECOLON_* environment overrides. A missing file is not an error.
//
// Precedence, lowest first:
//  1. Hardcoded defaults
//  2. The YAML file at path
//  3. Environment variables
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if cfg, err = Deserialize(data); err != nil {
				return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies SOURCECOLON_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SOURCECOLON_SOURCE_ROOT"); v != "" {
		c.Paths.SourceRoot = v
	}
	if v := os.Getenv("SOURCECOLON_DATA_ROOT"); v != "" {
		c.Paths.DataRoot = v
	}
	if v := os.Getenv("SOURCECOLON_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Verbose = b
		}
	}
}
