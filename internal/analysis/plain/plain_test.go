package plain

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

func TestAnalyzer_IndexesAndRenders(t *testing.T) {
	a := New(Factory, nil)
	doc := analysis.NewDocument()

	require.NoError(t, a.Analyze(context.Background(), doc, strings.NewReader("hello <world>\nsecond line\n")))
	assert.Equal(t, []string{"hello <world>\nsecond line\n"}, doc.Values(analysis.FieldFull))

	var out bytes.Buffer
	require.NoError(t, a.WriteXref(&out))
	assert.Equal(t,
		"<a class=\"l\" name=\"1\" href=\"#1\">1</a> hello &lt;world&gt;\n"+
			"<a class=\"l\" name=\"2\" href=\"#2\">2</a> second line\n",
		out.String())
}

func TestAnalyzer_ObfuscatesOnlyRendering(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Web.ObfuscateEMail = true
	a := New(Factory, cfg)
	doc := analysis.NewDocument()

	require.NoError(t, a.Analyze(context.Background(), doc, strings.NewReader("user@example.org")))

	var out bytes.Buffer
	require.NoError(t, a.WriteXref(&out))
	assert.Contains(t, out.String(), "user (at) example.org")
	assert.Equal(t, []string{"user@example.org"}, doc.Values(analysis.FieldFull))
}

func TestAnalyzer_Lifecycle(t *testing.T) {
	a := New(Factory, nil)
	var out bytes.Buffer

	assert.ErrorIs(t, a.WriteXref(&out), scerrors.ErrNotAnalyzed)
	require.NoError(t, a.Analyze(context.Background(), analysis.NewDocument(), strings.NewReader("x")))
	require.NoError(t, a.WriteXref(&out))
	assert.ErrorIs(t, a.WriteXref(&out), scerrors.ErrAlreadyRendered)
}

func TestAnalyzer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(Factory, nil)
	assert.ErrorIs(t, a.Analyze(ctx, analysis.NewDocument(), strings.NewReader("x")), context.Canceled)

	// A failed analyze leaves the instance usable.
	require.NoError(t, a.Analyze(context.Background(), analysis.NewDocument(), strings.NewReader("x")))
}

func TestAnalyzer_InvalidUTF8(t *testing.T) {
	a := New(Factory, nil)
	doc := analysis.NewDocument()
	require.NoError(t, a.Analyze(context.Background(), doc, bytes.NewReader([]byte{'a', 0xff, 'b'})))
	assert.Equal(t, []string{"a�b"}, doc.Values(analysis.FieldFull))
}
