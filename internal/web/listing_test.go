package web

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcecolon/sourcecolon/internal/desc"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
	"github.com/sourcecolon/sourcecolon/internal/ignore"
)

type descTable map[string]*desc.Node

func (d descTable) ResolveNode(path string) (*desc.Node, bool) {
	n, ok := d[path]
	return n, ok
}

func (d descTable) ChildDescription(node *desc.Node, name string) (string, bool) {
	return node.ChildDescription(name)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func touch(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func fixedSize(int64) string { return "-" }

func TestListTo_ParentRowThenChildrenInGivenOrder(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.txt", "a.txt", "README.md"} {
		touch(t, filepath.Join(dir, n), 1, time.Now())
	}

	var out bytes.Buffer
	readmes, err := NewListing(ignore.MustNew(nil), nil).ListTo(dir, &out, "src/lib", []string{"b.txt", "a.txt", "README.md"})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, readmes)

	html := out.String()
	parent := strings.Index(html, `<a href="..">..</a>`)
	b := strings.Index(html, `<a href="b.txt">`)
	a := strings.Index(html, `<a href="a.txt">`)
	r := strings.Index(html, `<a href="README.md">`)
	require.True(t, parent > 0 && b > 0 && a > 0 && r > 0, html)
	assert.Less(t, parent, b)
	assert.Less(t, b, a)
	assert.Less(t, a, r)
	assert.Equal(t, 4, strings.Count(html, "<tr><td></td>"))
}

func TestListTo_ExactMarkupAtRoot(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.Local)
	old := now.Add(-30 * 24 * time.Hour)

	sub := filepath.Join(dir, "d")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.Chtimes(sub, old, old))
	touch(t, filepath.Join(dir, "f.txt"), 5, now.Add(-time.Hour))

	var out bytes.Buffer
	l := NewListing(ignore.MustNew(nil), nil, WithNow(now), WithSizeFormatter(fixedSize))
	readmes, err := l.ListTo(dir, &out, "", []string{"d", "f.txt"})
	require.NoError(t, err)
	assert.Empty(t, readmes)

	want := `<table class="table table-striped">` +
		`<tr class="info"><td/><td><strong>Name</strong></td><td><strong>Date</strong></td><td><strong>Size</strong></td></tr>` +
		`<tr><td></td><td><a href="d/"><strong>d</strong></a>/</td><td>` + old.Format(DateLayout) + `</td><td>-</td></tr>` +
		`<tr><td></td><td><a href="f.txt">f.txt</a></td><td>Today</td><td>-</td></tr>` +
		`</table>`
	assert.Equal(t, want, out.String())
}

func TestListTo_TodayBoundary(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "fresh"), 1, now.Add(-24*time.Hour+time.Minute))
	touch(t, filepath.Join(dir, "stale"), 1, now.Add(-24*time.Hour-time.Minute))

	var out bytes.Buffer
	_, err := NewListing(nil, nil, WithNow(now)).ListTo(dir, &out, "", []string{"fresh", "stale"})
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out.String(), "<td>Today</td>"))
	assert.Contains(t, out.String(), now.Add(-24*time.Hour-time.Minute).Format(DateLayout))
}

func TestListTo_HumanSizes(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "big"), 1500, time.Now())

	var out bytes.Buffer
	_, err := NewListing(nil, nil).ListTo(dir, &out, "", []string{"big"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "<td>1.5 kB</td>")
}

func TestListTo_DescriptionColumn(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "cmd"), 1, time.Now())
	touch(t, filepath.Join(dir, "lib"), 1, time.Now())

	table := descTable{"usr/src": desc.NewNode("usr/src", map[string]string{"cmd": "commands <core>"})}
	l := NewListing(nil, table, WithSizeFormatter(fixedSize))

	var out bytes.Buffer
	_, err := l.ListTo(dir, &out, "usr/src", []string{"cmd", "lib"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `<td><strong>Description</strong></td></tr>`)
	assert.Contains(t, out.String(), `<a href="cmd">cmd</a></td><td>Today</td><td>-</td><td>commands &lt;core&gt;</td></tr>`)
	assert.Contains(t, out.String(), `<a href="lib">lib</a></td><td>Today</td><td>-</td><td/></tr>`)

	out.Reset()
	_, err = l.ListTo(dir, &out, "elsewhere", []string{"cmd"})
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "Description")
	assert.NotContains(t, out.String(), "<td/></tr><tr>")
}

func TestListTo_IgnoredNamesAreSkippedEntirely(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"keep.c", "README.o", "x.o"} {
		touch(t, filepath.Join(dir, n), 1, time.Now())
	}

	var out bytes.Buffer
	readmes, err := NewListing(ignore.MustNew([]string{"*.o"}), nil).ListTo(dir, &out, "", []string{"keep.c", "README.o", "x.o"})
	require.NoError(t, err)
	assert.Empty(t, readmes)
	assert.Contains(t, out.String(), "keep.c")
	assert.NotContains(t, out.String(), ".o")
}

func TestListTo_DirectoryPatternsSkipOnlyDirectories(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "CVS"), 1, time.Now())
	touch(t, filepath.Join(dir, "README.o"), 1, time.Now())
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "README.d"), 0o755))

	policy := ignore.MustNew([]string{"d:CVS", "d:.git", "d:README.d", "f:README.o"})
	var out bytes.Buffer
	readmes, err := NewListing(policy, nil).ListTo(dir, &out, "", []string{"CVS", ".git", "README.o", "README.d"})
	require.NoError(t, err)

	assert.Empty(t, readmes)
	assert.Contains(t, out.String(), `<a href="CVS">CVS</a>`)
	assert.NotContains(t, out.String(), ".git")
	assert.NotContains(t, out.String(), "README")
}

func TestListTo_EscapesNames(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a&b c.txt"), 1, time.Now())

	var out bytes.Buffer
	_, err := NewListing(nil, nil).ListTo(dir, &out, "", []string{"a&b c.txt"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `<a href="a&amp;b%20c.txt">a&amp;b c.txt</a>`)
}

func TestListTo_MissingEntryIsDatedAtEpoch(t *testing.T) {
	var out bytes.Buffer
	_, err := NewListing(nil, nil, WithSizeFormatter(fixedSize)).ListTo(t.TempDir(), &out, "", []string{"gone"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `<a href="gone">gone</a></td><td>`+time.Unix(0, 0).Format(DateLayout)+`</td><td>-</td>`)
}

func TestListTo_Preconditions(t *testing.T) {
	l := NewListing(nil, nil)
	var out bytes.Buffer

	_, err := l.ListTo("", &out, "", []string{"a"})
	assert.ErrorIs(t, err, scerrors.ErrMissingArgument)
	assert.Zero(t, out.Len())

	_, err = l.ListTo(t.TempDir(), nil, "", []string{"a"})
	assert.ErrorIs(t, err, scerrors.ErrMissingArgument)
}

func TestListTo_WriteFailure(t *testing.T) {
	_, err := NewListing(nil, nil).ListTo(t.TempDir(), failingWriter{}, "", nil)
	assert.EqualError(t, err, "disk full")
}

func TestIsReadme(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"README", true},
		{"README.md", true},
		{"docs.README", true},
		{"readme.txt", true},
		{"Readme", false},
		{"my-readme", false},
		{"main.go", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReadme(tt.name))
		})
	}
}
