// Package web renders the browsable read path: directory listings and
// stored cross-references.
package web

import (
	"bytes"
	"html"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sourcecolon/sourcecolon/internal/desc"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// DateLayout is the calendar format for entries older than a day.
const DateLayout = "02-Jan-2006"

// todayWindow is the age below which an entry is shown as "Today".
const todayWindow = 86400000 * time.Millisecond

// IgnorePolicy excludes names from listings, by kind of entry.
type IgnorePolicy interface {
	ShouldIgnoreFile(name string) bool
	ShouldIgnoreDir(name string) bool
}

// DescriptionTable maps a directory to one-line descriptions of its children.
type DescriptionTable interface {
	ResolveNode(path string) (*desc.Node, bool)
	ChildDescription(node *desc.Node, name string) (string, bool)
}

// SizeFormatter renders a byte count for humans.
type SizeFormatter func(size int64) string

// HumanSize formats sizes with SI units ("1.2 kB").
func HumanSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.Bytes(uint64(size))
}

// ListingOption configures a Listing.
type ListingOption func(*Listing)

// WithNow fixes the instant entries are dated against.
func WithNow(now time.Time) ListingOption {
	return func(l *Listing) { l.now = now }
}

// WithSizeFormatter replaces HumanSize.
func WithSizeFormatter(f SizeFormatter) ListingOption {
	return func(l *Listing) { l.size = f }
}

// Listing renders one directory as an HTML table. The current time is
// captured once, at construction.
type Listing struct {
	ignore IgnorePolicy
	descs  DescriptionTable
	size   SizeFormatter
	now    time.Time
}

// NewListing creates a listing. ignore and descs may be nil.
func NewListing(ignore IgnorePolicy, descs DescriptionTable, opts ...ListingOption) *Listing {
	l := &Listing{
		ignore: ignore,
		descs:  descs,
		size:   HumanSize,
		now:    time.Now(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsReadme reports whether name is shown as a README below the listing.
func IsReadme(name string) bool {
	return strings.HasPrefix(name, "README") ||
		strings.HasSuffix(name, "README") ||
		strings.HasPrefix(name, "readme")
}

// ListTo writes the table for dir to out and returns the README candidates
// among children, in order. virtualPath is the directory's path under the
// source root; "" is the root and gets no parent row. Children are listed in
// the order given. Nothing is written when an argument is missing.
func (l *Listing) ListTo(dir string, out io.Writer, virtualPath string, children []string) ([]string, error) {
	switch {
	case dir == "":
		return nil, scerrors.MissingArgument("directory")
	case out == nil:
		return nil, scerrors.MissingArgument("output")
	}

	var node *desc.Node
	described := false
	if l.descs != nil {
		node, described = l.descs.ResolveNode(virtualPath)
	}

	var buf bytes.Buffer
	buf.WriteString(`<table class="table table-striped">`)
	buf.WriteString(`<tr class="info"><td/><td><strong>Name</strong></td><td><strong>Date</strong></td><td><strong>Size</strong></td>`)
	if described {
		buf.WriteString(`<td><strong>Description</strong></td>`)
	}
	buf.WriteString(`</tr>`)

	if virtualPath != "" {
		buf.WriteString(`<tr><td></td><td><strong><a href="..">..</a></strong></td>`)
		l.writeDateSize(&buf, filepath.Dir(filepath.Clean(dir)))
		buf.WriteString(`</tr>`)
	}

	var readmes []string
	for _, name := range children {
		child := filepath.Join(dir, name)
		childIsDir := isDir(child)
		if l.ignored(name, childIsDir) {
			continue
		}
		if IsReadme(name) {
			readmes = append(readmes, name)
		}

		escaped := html.EscapeString(name)
		buf.WriteString(`<tr><td></td><td><a href="`)
		buf.WriteString(html.EscapeString(url.PathEscape(name)))
		if childIsDir {
			buf.WriteString(`/"><strong>`)
			buf.WriteString(escaped)
			buf.WriteString(`</strong></a>/`)
		} else {
			buf.WriteString(`">`)
			buf.WriteString(escaped)
			buf.WriteString(`</a>`)
		}
		buf.WriteString(`</td>`)
		l.writeDateSize(&buf, child)

		if described {
			if d, ok := l.descs.ChildDescription(node, name); ok {
				buf.WriteString(`<td>`)
				buf.WriteString(html.EscapeString(d))
				buf.WriteString(`</td>`)
			} else {
				buf.WriteString(`<td/>`)
			}
		}
		buf.WriteString(`</tr>`)
	}
	buf.WriteString(`</table>`)

	if _, err := out.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	return readmes, nil
}

func (l *Listing) ignored(name string, dir bool) bool {
	switch {
	case l.ignore == nil:
		return false
	case dir:
		return l.ignore.ShouldIgnoreDir(name)
	default:
		return l.ignore.ShouldIgnoreFile(name)
	}
}

// writeDateSize writes the date and size cells. An entry that cannot be
// stat'ed is dated at the epoch with size zero.
func (l *Listing) writeDateSize(buf *bytes.Buffer, path string) {
	modTime, size := time.Unix(0, 0), int64(0)
	if info, err := os.Stat(path); err == nil {
		modTime, size = info.ModTime(), info.Size()
	}

	buf.WriteString(`<td>`)
	if l.now.Sub(modTime) < todayWindow {
		buf.WriteString("Today")
	} else {
		buf.WriteString(modTime.Format(DateLayout))
	}
	buf.WriteString(`</td><td>`)
	buf.WriteString(l.size(size))
	buf.WriteString(`</td>`)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
