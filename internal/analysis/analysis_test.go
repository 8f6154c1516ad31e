package analysis

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// textAnalyzer is a minimal analyzer used to exercise the shared machinery.
type textAnalyzer struct {
	Base
	text string
}

func newTextAnalyzer(f *Factory, cfg *config.Config) Analyzer {
	return &textAnalyzer{Base: NewBase(f, cfg)}
}

func (a *textAnalyzer) Analyze(_ context.Context, doc *Document, r io.Reader) error {
	if err := a.CheckAnalyze(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	a.text = string(data)
	doc.Add(FieldFull, a.text)
	a.MarkAnalyzed()
	return nil
}

func (a *textAnalyzer) WriteXref(w io.Writer) error {
	if err := a.CheckRender(); err != nil {
		return err
	}
	lw := NewLineWriter(w, a.Config())
	lw.WriteText(a.text)
	if err := lw.Err(); err != nil {
		return err
	}
	a.MarkRendered()
	return nil
}

func factory(name string, mutate func(*Factory)) *Factory {
	f := &Factory{Name: name, Genre: GenrePlain, New: newTextAnalyzer}
	if mutate != nil {
		mutate(f)
	}
	return f
}

func newTestRegistry(t *testing.T, factories ...*Factory) *Registry {
	t.Helper()
	r, err := NewRegistry(config.NewStore(nil), factory("default", nil))
	require.NoError(t, err)
	for _, f := range factories {
		require.NoError(t, r.Register(f))
	}
	return r
}

func TestDocument_PreservesFieldOrder(t *testing.T) {
	doc := NewDocument()
	doc.Add(FieldPath, "/a/b.c")
	doc.Add(FieldFull, "one")
	doc.Add(FieldPath, "/other")
	doc.Add(FieldFull, "two")

	fields := doc.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, FieldPath, fields[0].Name)
	assert.Equal(t, []string{"/a/b.c", "/other"}, fields[0].Values)
	assert.Equal(t, []string{"one", "two"}, doc.Values(FieldFull))
	assert.Nil(t, doc.Values(FieldDefs))
}

func TestSymbolTokens(t *testing.T) {
	got := Collect(SymbolTokens("int main(void) { return FOO_bar; }"))
	assert.Equal(t, []string{"int", "main", "void", "return", "foo_bar"}, got)

	var offsets [][2]int
	for tok := range SymbolTokens("ab  cd") {
		offsets = append(offsets, [2]int{tok.Start, tok.End})
	}
	assert.Equal(t, [][2]int{{0, 2}, {4, 6}}, offsets)
}

func TestPathTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"src/Main.java", []string{"src", "main", "java"}},
		{`lib\foo-bar_baz.tar.gz`, []string{"lib", "foo", "bar", "baz", "tar", "gz"}},
		{"a:b$c@d e", []string{"a", "b", "c", "d", "e"}},
		{"//", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Collect(PathTokens(tt.in)))
		})
	}
}

func TestTokenStreams_AreRestartable(t *testing.T) {
	seq := PathTokens("a/b/c")
	assert.Equal(t, Collect(seq), Collect(seq))

	count := 0
	for range seq {
		count++
		break
	}
	assert.Equal(t, 1, count)
	assert.Len(t, Collect(seq), 3)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Collect(Limit(SymbolTokens("a b c d"), 2)))
	assert.Nil(t, Collect(Limit(SymbolTokens("a b"), 0)))
	assert.Equal(t, []string{"a", "b"}, Collect(Limit(SymbolTokens("a b"), 10)))
}

func TestBase_TokenStreamHonorsWordLimit(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Index.WordLimit = 3
	b := NewBase(nil, cfg)

	assert.Equal(t, []string{"a", "b", "c"}, Collect(b.TokenStream(FieldFull, "a b c d e")))
	assert.Equal(t, []string{"x", "y", "z"}, Collect(b.TokenStream(FieldPath, "x/y/z/w")))

	unlimited := NewBase(nil, nil)
	assert.Len(t, Collect(unlimited.TokenStream(FieldFull, "a b c d e")), 5)
}

func TestLifecycle(t *testing.T) {
	a := newTextAnalyzer(factory("t", nil), nil)
	var out bytes.Buffer

	// Given: a fresh instance
	// When: rendering before analyzing
	err := a.WriteXref(&out)

	// Then: a defined error and no output
	assert.ErrorIs(t, err, scerrors.ErrNotAnalyzed)
	assert.Empty(t, out.String())

	require.NoError(t, a.Analyze(context.Background(), NewDocument(), strings.NewReader("x")))
	assert.ErrorIs(t, a.Analyze(context.Background(), NewDocument(), strings.NewReader("x")), scerrors.ErrAlreadyAnalyzed)

	require.NoError(t, a.WriteXref(&out))
	rendered := out.String()

	assert.ErrorIs(t, a.WriteXref(&out), scerrors.ErrAlreadyRendered)
	assert.Equal(t, rendered, out.String())
}

func TestLifecycle_StateNames(t *testing.T) {
	var l Lifecycle
	assert.Equal(t, "created", l.State().String())
	l.MarkAnalyzed()
	assert.Equal(t, "analyzed", l.State().String())
	l.MarkRendered()
	assert.Equal(t, "rendered", l.State().String())
}

func TestRegistry_Precedence(t *testing.T) {
	sig := factory("sig", func(f *Factory) {
		f.Signatures = []Signature{{Magic: []byte("MAGIC")}}
	})
	prefix := factory("prefix", func(f *Factory) { f.Prefixes = []string{"READ"} })
	ext := factory("ext", func(f *Factory) { f.Extensions = []string{"md"} })
	exact := factory("exact", func(f *Factory) { f.Names = []string{"README.md"} })
	r := newTestRegistry(t, sig, prefix, ext, exact)

	tests := []struct {
		name string
		file string
		peek string
		want string
	}{
		{"exact beats extension", "docs/README.md", "MAGIC", "exact"},
		{"extension beats prefix", "READ.md", "MAGIC", "ext"},
		{"extension is case-insensitive", "notes.MD", "", "ext"},
		{"prefix beats signature", "READTHIS", "MAGIC", "prefix"},
		{"signature", "blob", "MAGIC and more", "sig"},
		{"default", "blob", "nothing", "default"},
		{"default without name or content", "", "", "default"},
		{"bare extension is not a match", ".md", "", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Find(tt.file, []byte(tt.peek))
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestRegistry_FirstRegisteredWins(t *testing.T) {
	first := factory("first", func(f *Factory) { f.Extensions = []string{"c"} })
	second := factory("second", func(f *Factory) { f.Extensions = []string{"c", "h"} })
	r := newTestRegistry(t, first, second)

	assert.Same(t, first, r.Find("x.c", nil))
	assert.Same(t, second, r.Find("x.h", nil))
}

func TestRegistry_Deterministic(t *testing.T) {
	r := newTestRegistry(t,
		factory("a", func(f *Factory) { f.Signatures = []Signature{{Offset: 2, Magic: []byte("zz")}} }),
		factory("b", func(f *Factory) { f.Signatures = []Signature{{Offset: 2, Magic: []byte("zz")}} }),
	)
	peek := []byte("xxzz")
	assert.Same(t, r.Find("file", peek), r.Find("file", peek))
	assert.Equal(t, "a", r.Find("file", peek).Name)
}

func TestRegistry_SignatureOffsetBeyondPeek(t *testing.T) {
	r := newTestRegistry(t,
		factory("far", func(f *Factory) { f.Signatures = []Signature{{Offset: 10, Magic: []byte("x")}} }))
	assert.Equal(t, "default", r.Find("f", []byte("short")).Name)
}

func TestRegistry_RejectsDuplicatesAndNil(t *testing.T) {
	r := newTestRegistry(t, factory("one", nil))

	assert.Error(t, r.Register(factory("one", nil)))
	assert.Error(t, r.Register(factory("default", nil)))
	assert.ErrorIs(t, r.Register(nil), scerrors.ErrMissingArgument)
	assert.ErrorIs(t, r.Register(&Factory{Name: "nofn"}), scerrors.ErrMissingArgument)

	_, err := NewRegistry(nil, nil)
	assert.ErrorIs(t, err, scerrors.ErrMissingArgument)

	f, ok := r.Lookup("one")
	assert.True(t, ok)
	assert.Equal(t, "one", f.Name)
	assert.Len(t, r.Factories(), 1)
}

func TestRegistry_FindReaderDoesNotConsume(t *testing.T) {
	r := newTestRegistry(t,
		factory("sig", func(f *Factory) { f.Signatures = []Signature{{Magic: []byte("#!")}} }))

	content := "#!/bin/sh\necho hi\n"
	f, rd, err := r.FindReader("script", strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, "sig", f.Name)

	rest, err := io.ReadAll(rd)
	require.NoError(t, err)
	assert.Equal(t, content, string(rest))
}

func TestRegistry_FindReaderLongContent(t *testing.T) {
	r := newTestRegistry(t)
	content := strings.Repeat("x", 3*PeekSize)

	_, rd, err := r.FindReader("big", bufio.NewReaderSize(strings.NewReader(content), 16))
	require.NoError(t, err)

	rest, err := io.ReadAll(rd)
	require.NoError(t, err)
	assert.Len(t, rest, len(content))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestRegistry_FindReaderStreamFailure(t *testing.T) {
	r := newTestRegistry(t)

	_, _, err := r.FindReader("f", failingReader{})
	require.Error(t, err)
	assert.ErrorIs(t, err, scerrors.ErrStreamRead)
}

func TestRegistry_GetAnalyzerIsFresh(t *testing.T) {
	store := config.NewStore(nil)
	r, err := NewRegistry(store, factory("default", nil))
	require.NoError(t, err)

	a1 := r.GetAnalyzer(r.Default())
	a2 := r.GetAnalyzer(nil)
	assert.NotSame(t, a1, a2)
	assert.Same(t, r.Default(), a2.Factory())

	store.SetObfuscateEMail(true)
	a3 := r.GetAnalyzer(nil).(*textAnalyzer)
	assert.True(t, a3.Config().Web.ObfuscateEMail)
	assert.False(t, a1.(*textAnalyzer).Config().Web.ObfuscateEMail)
}

func TestLineWriter_Obfuscation(t *testing.T) {
	tests := []struct {
		name      string
		obfuscate bool
		want      string
	}{
		{"enabled", true, "<a class=\"l\" name=\"1\" href=\"#1\">1</a> user (at) example.org\n"},
		{"disabled", false, "<a class=\"l\" name=\"1\" href=\"#1\">1</a> user@example.org\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			cfg.Web.ObfuscateEMail = tt.obfuscate

			var out bytes.Buffer
			lw := NewLineWriter(&out, cfg)
			lw.WriteText("user@example.org")

			require.NoError(t, lw.Err())
			assert.Equal(t, tt.want, out.String())
			assert.Equal(t, 1, lw.Lines())
		})
	}
}

func TestLineWriter_NumbersLines(t *testing.T) {
	var out bytes.Buffer
	lw := NewLineWriter(&out, nil)
	lw.WriteText(strings.Repeat("x\n", 10))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 10)
	assert.True(t, strings.HasPrefix(lines[0], `<a class="l" name="1" href="#1">1</a> `))
	assert.True(t, strings.HasPrefix(lines[9], `<a class="hl" name="10" href="#10">10</a> `))
}

func TestLineWriter_EmptyTextWritesNothing(t *testing.T) {
	var out bytes.Buffer
	lw := NewLineWriter(&out, nil)
	lw.WriteText("")
	assert.Empty(t, out.String())
	assert.Zero(t, lw.Lines())
}

type shortWriter struct{ n int }

func (w *shortWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, io.ErrShortWrite
	}
	w.n--
	return len(p), nil
}

func TestLineWriter_StickyError(t *testing.T) {
	lw := NewLineWriter(&shortWriter{n: 1}, nil)
	lw.WriteText("a\nb\nc")
	assert.ErrorIs(t, lw.Err(), io.ErrShortWrite)
	assert.Equal(t, 2, lw.Lines())
}

func TestMarkup(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		obfuscate bool
		want      string
	}{
		{"escapes", `a < b && c > "d"`, false, "a &lt; b &amp;&amp; c &gt; &#34;d&#34;"},
		{"links url", "see https://example.org/x?a=1.", false,
			`see <a href="https://example.org/x?a=1">https://example.org/x?a=1</a>.`},
		{"url keeps address", "http://h/p?u=me@x.org", true,
			`<a href="http://h/p?u=me@x.org">http://h/p?u=me@x.org</a>`},
		{"obfuscates several", "a@b.c and d.e@f.g", true, "a (at) b.c and d.e (at) f.g"},
		{"no domain dot", "me@localhost", true, "me@localhost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Markup(tt.in, tt.obfuscate))
		})
	}
}

func TestGenreRenders(t *testing.T) {
	assert.True(t, GenrePlain.Renders())
	assert.True(t, GenreArchive.Renders())
	assert.False(t, GenreData.Renders())
}
