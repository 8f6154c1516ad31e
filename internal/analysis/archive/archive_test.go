package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/analysis/binary"
	"github.com/sourcecolon/sourcecolon/internal/analysis/golang"
	"github.com/sourcecolon/sourcecolon/internal/analysis/plain"
	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

type member struct {
	name string
	body string
	dir  bool
}

func newRegistry(t *testing.T) (*analysis.Registry, *analysis.Factory) {
	t.Helper()
	reg, err := analysis.NewRegistry(config.NewStore(nil), plain.Factory)
	require.NoError(t, err)
	f := NewFactory(reg)
	require.NoError(t, reg.Register(f))
	require.NoError(t, reg.Register(golang.Factory))
	require.NoError(t, reg.Register(binary.ELFFactory))
	return reg, f
}

func tarBytes(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Mode: 0o644, Size: int64(len(m.body)), Typeflag: tar.TypeReg}
		if m.dir {
			hdr = &tar.Header{Name: m.name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !m.dir {
			_, err := tw.Write([]byte(m.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func zipBytes(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func analyze(t *testing.T, data []byte) (*Analyzer, *analysis.Document) {
	t.Helper()
	reg, f := newRegistry(t)
	a := reg.GetAnalyzer(f).(*Analyzer)
	doc := analysis.NewDocument()
	require.NoError(t, a.Analyze(context.Background(), doc, bytes.NewReader(data)))
	return a, doc
}

func render(t *testing.T, a analysis.Analyzer) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, a.WriteXref(&out))
	return out.String()
}

func names(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestAnalyze_PreservesStreamOrder(t *testing.T) {
	// Given: members that render, that are data, and that fail to decode
	data := tarBytes(t,
		member{name: "src/b.txt", body: "bee\n"},
		member{name: "lib/data.so", body: "\x7fELF\x00\x00payload"},
		member{name: "src/a.txt", body: "ay\n"},
		member{name: "nested/bad.tar", body: "definitely not a tar archive"},
		member{name: "cmd/main.go", body: "package main\n"},
	)

	// When
	a, doc := analyze(t, data)

	// Then: every member is recorded in stream order
	assert.Equal(t, []string{"src/b.txt", "lib/data.so", "src/a.txt", "nested/bad.tar", "cmd/main.go"}, names(a.Entries()))

	present := map[string]bool{}
	for _, e := range a.Entries() {
		present[e.Name] = e.Present
	}
	assert.Equal(t, map[string]bool{
		"src/b.txt": true, "lib/data.so": false, "src/a.txt": true,
		"nested/bad.tar": false, "cmd/main.go": true,
	}, present)

	full := doc.Values(analysis.FieldFull)
	assert.Contains(t, full, "nested/bad.tar")
	assert.Contains(t, full, "bee\n")
	assert.Nil(t, doc.Values(analysis.FieldDefs))

	xref := render(t, a)
	want := `<br/><b>src/b.txt</b><pre><a class="l" name="1" href="#1">1</a> bee` + "\n</pre>" +
		`<br/><b>lib/data.so</b>` +
		`<br/><b>src/a.txt</b><pre><a class="l" name="1" href="#1">1</a> ay` + "\n</pre>" +
		`<br/><b>nested/bad.tar</b>` +
		`<br/><b>cmd/main.go</b><pre><a class="l" name="1" href="#1">1</a> <b>package</b> main` + "\n</pre>"
	assert.Equal(t, want, xref)
}

func TestAnalyze_Compressed(t *testing.T) {
	raw := tarBytes(t, member{name: "x.txt", body: "x\n"}, member{name: "y.txt", body: "y\n"})

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var lz bytes.Buffer
	lw := lz4.NewWriter(&lz)
	_, err = lw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	for name, data := range map[string][]byte{"gzip": gz.Bytes(), "lz4": lz.Bytes()} {
		t.Run(name, func(t *testing.T) {
			a, _ := analyze(t, data)
			assert.Equal(t, []string{"x.txt", "y.txt"}, names(a.Entries()))
			assert.True(t, a.Entries()[1].Present)
		})
	}
}

func TestAnalyze_Zip(t *testing.T) {
	data := zipBytes(t,
		member{name: "META-INF/MANIFEST.MF", body: "Manifest-Version: 1.0\n"},
		member{name: "com/acme/App.class", body: "\xca\xfe\xba\xbe"},
		member{name: "broken.zip", body: "PK\x03\x04 garbage"},
	)
	a, doc := analyze(t, data)

	assert.Equal(t, []string{"META-INF/MANIFEST.MF", "com/acme/App.class", "broken.zip"}, names(a.Entries()))
	assert.True(t, a.Entries()[0].Present)
	assert.False(t, a.Entries()[2].Present)
	assert.Contains(t, doc.Values(analysis.FieldFull), "com/acme/App.class")
}

func TestAnalyze_NestedArchive(t *testing.T) {
	inner := zipBytes(t, member{name: "deep.txt", body: "deep\n"})
	outer := tarBytes(t, member{name: "lib/inner.jar", body: string(inner)})

	a, doc := analyze(t, outer)
	require.Len(t, a.Entries(), 1)
	assert.True(t, a.Entries()[0].Present)
	assert.Contains(t, a.Entries()[0].Fragment, "<br/><b>deep.txt</b><pre>")
	assert.Contains(t, doc.Values(analysis.FieldFull), "deep.txt")
}

func TestAnalyze_DepthLimit(t *testing.T) {
	data := tarBytes(t, member{name: "leaf.txt", body: "leaf\n"})
	for i := 0; i <= MaxDepth; i++ {
		data = tarBytes(t, member{name: "level.tar", body: string(data)})
	}

	a, _ := analyze(t, data)
	xref := render(t, a)

	// Nesting stops at MaxDepth containers below the root.
	assert.Equal(t, MaxDepth+1, strings.Count(xref, "<b>level.tar</b>"))
	assert.NotContains(t, xref, "leaf.txt")
}

func TestAnalyze_DirectoriesRecordedAbsent(t *testing.T) {
	a, _ := analyze(t, tarBytes(t, member{name: "dir/", dir: true}, member{name: "dir/f.txt", body: "f"}))
	assert.Equal(t, []string{"dir/", "dir/f.txt"}, names(a.Entries()))
	assert.False(t, a.Entries()[0].Present)
}

func TestAnalyze_EmptyStream(t *testing.T) {
	a, _ := analyze(t, nil)
	assert.Empty(t, a.Entries())
	assert.Empty(t, render(t, a))
}

type failAfter struct {
	r io.Reader
}

func (f *failAfter) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if errors.Is(err, io.EOF) {
		return n, errors.New("connection reset")
	}
	return n, err
}

func TestAnalyze_OuterStreamFailureIsFatal(t *testing.T) {
	full := tarBytes(t, member{name: "big.txt", body: strings.Repeat("z", 4096)})
	truncated := &failAfter{r: bytes.NewReader(full[:1024])}

	reg, f := newRegistry(t)
	a := reg.GetAnalyzer(f)
	err := a.Analyze(context.Background(), analysis.NewDocument(), truncated)

	require.Error(t, err)
	assert.ErrorIs(t, err, scerrors.ErrStreamRead)
	assert.ErrorIs(t, a.WriteXref(io.Discard), scerrors.ErrNotAnalyzed)
}

func TestAnalyze_CorruptOuterArchive(t *testing.T) {
	reg, f := newRegistry(t)
	a := reg.GetAnalyzer(f)
	err := a.Analyze(context.Background(), analysis.NewDocument(), strings.NewReader("PK\x03\x04 not really"))
	assert.ErrorIs(t, err, scerrors.ErrStreamRead)
}

func TestAnalyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg, f := newRegistry(t)
	a := reg.GetAnalyzer(f)
	err := a.Analyze(ctx, analysis.NewDocument(), bytes.NewReader(tarBytes(t, member{name: "a", body: "a"})))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteXref_Lifecycle(t *testing.T) {
	reg, f := newRegistry(t)
	a := reg.GetAnalyzer(f)

	assert.ErrorIs(t, a.WriteXref(io.Discard), scerrors.ErrNotAnalyzed)

	require.NoError(t, a.Analyze(context.Background(), analysis.NewDocument(), bytes.NewReader(tarBytes(t, member{name: "a.txt", body: "a"}))))
	first := render(t, a)
	assert.NotEmpty(t, first)

	var out bytes.Buffer
	assert.ErrorIs(t, a.WriteXref(&out), scerrors.ErrAlreadyRendered)
	assert.Empty(t, out.String())
}

func TestWriteXref_EscapesMemberNames(t *testing.T) {
	a, _ := analyze(t, tarBytes(t, member{name: "<script>.txt", body: "x"}))
	assert.Contains(t, render(t, a), "<b>&lt;script&gt;.txt</b>")
}

func TestTokenStream_MemberNames(t *testing.T) {
	reg, f := newRegistry(t)
	a := reg.GetAnalyzer(f)

	got := analysis.Collect(a.TokenStream(analysis.FieldFull, "com/acme/App.class"))
	assert.Equal(t, []string{"com", "acme", "app", "class"}, got)

	refs := analysis.Collect(a.TokenStream(analysis.FieldRefs, "foo.bar"))
	assert.Equal(t, []string{"foo", "bar"}, refs)
}

func TestFactory_Matches(t *testing.T) {
	reg, f := newRegistry(t)
	for _, name := range []string{"a.tar", "a.tar.gz", "a.TGZ", "a.tar.lz4", "a.zip", "a.jar", "a.war", "a.ear"} {
		assert.Same(t, f, reg.Find(name, nil), name)
	}

	header := make([]byte, analysis.PeekSize)
	copy(header[257:], "ustar")
	assert.Same(t, f, reg.Find("noext", header))
}
