// Package desc stores one-line descriptions of source tree entries, keyed
// by parent directory, for display in directory listings.
package desc

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// DefaultCacheSize is the number of resolved directories kept in memory.
const DefaultCacheSize = 1024

const schema = `
CREATE TABLE IF NOT EXISTS descriptions (
	parent      TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL,
	PRIMARY KEY (parent, name)
) WITHOUT ROWID;
`

// Node is a resolved directory: the descriptions of its children.
type Node struct {
	Path     string
	children map[string]string
}

// NewNode builds a node from a child-name to description map.
func NewNode(path string, children map[string]string) *Node {
	return &Node{Path: normalize(path), children: children}
}

// ChildDescription returns the description of the named child.
func (n *Node) ChildDescription(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	d, ok := n.children[name]
	return d, ok
}

// Len returns the number of described children.
func (n *Node) Len() int { return len(n.children) }

// Table is the description side-table.
type Table struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	cache  *lru.Cache[string, *Node]
	closed bool
}

// Open opens (or creates) the table at path. An empty path keeps the
// table in memory.
func Open(path string) (*Table, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: writes are serialized and an in-memory database
	// lives exactly as long as it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range append(pragmas, schema) {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize description table: %w", err)
		}
	}

	cache, err := lru.New[string, *Node](DefaultCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Table{db: db, path: path, cache: cache}, nil
}

// normalize maps a virtual path to its key form: slash-separated, with no
// leading or trailing slash. The root is "".
func normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return strings.Trim(p, "/")
}

func split(p string) (parent, name string) {
	p = normalize(p)
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// Put sets the description of the entry at path.
func (t *Table) Put(ctx context.Context, path, description string) error {
	parent, name := split(path)
	if name == "" {
		return scerrors.MissingArgument("path")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("description table is closed")
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO descriptions (parent, name, description) VALUES (?, ?, ?)
		 ON CONFLICT (parent, name) DO UPDATE SET description = excluded.description`,
		parent, name, description)
	if err != nil {
		return fmt.Errorf("failed to store description for %s: %w", path, err)
	}
	t.cache.Remove(parent)
	return nil
}

// LoadTSV reads "path<TAB>description" lines in one transaction and returns
// the number stored. Blank lines and lines starting with '#' are skipped.
func (t *Table) LoadTSV(ctx context.Context, r io.Reader) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, fmt.Errorf("description table is closed")
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO descriptions (parent, name, description) VALUES (?, ?, ?)
		 ON CONFLICT (parent, name) DO UPDATE SET description = excluded.description`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	sc := bufio.NewScanner(r)
	count, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, d, ok := strings.Cut(line, "\t")
		parent, name := split(p)
		if !ok || name == "" {
			return 0, scerrors.New(scerrors.ErrCodeInvalidInput,
				fmt.Sprintf("line %d: expected path<TAB>description", lineNo), nil)
		}
		if _, err := stmt.ExecContext(ctx, parent, name, strings.TrimSpace(d)); err != nil {
			return 0, fmt.Errorf("line %d: %w", lineNo, err)
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("failed to read descriptions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit descriptions: %w", err)
	}

	t.cache.Purge()
	slog.Info("descriptions_loaded", slog.Int("count", count))
	return count, nil
}

// ResolveNode returns the node for the directory at path, or false when
// none of its children has a description.
func (t *Table) ResolveNode(path string) (*Node, bool) {
	key := normalize(path)
	if n, ok := t.cache.Get(key); ok {
		return n, n.Len() > 0
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, false
	}

	rows, err := t.db.Query(`SELECT name, description FROM descriptions WHERE parent = ?`, key)
	if err != nil {
		slog.Warn("description_lookup_failed", slog.String("path", key), slog.String("error", err.Error()))
		return nil, false
	}
	defer func() { _ = rows.Close() }()

	children := make(map[string]string)
	for rows.Next() {
		var name, d string
		if err := rows.Scan(&name, &d); err != nil {
			slog.Warn("description_lookup_failed", slog.String("path", key), slog.String("error", err.Error()))
			return nil, false
		}
		children[name] = d
	}
	if err := rows.Err(); err != nil {
		return nil, false
	}

	n := &Node{Path: key, children: children}
	t.cache.Add(key, n)
	return n, n.Len() > 0
}

// ChildDescription returns the description of a child of node.
func (t *Table) ChildDescription(node *Node, name string) (string, bool) {
	return node.ChildDescription(name)
}

// Optimize refreshes the query planner statistics and compacts the file.
func (t *Table) Optimize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("description table is closed")
	}
	for _, stmt := range []string{"PRAGMA optimize", "VACUUM"} {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to optimize description table: %w", err)
		}
	}
	return nil
}

// Close closes the database. Further calls are no-ops.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.db.Close()
}
