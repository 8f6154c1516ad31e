package guru

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/config"
)

func TestNewRegistry_Dispatch(t *testing.T) {
	reg, err := NewRegistry(config.NewStore(nil))
	require.NoError(t, err)

	tests := []struct {
		name string
		peek []byte
		want string
	}{
		{"main.go", nil, "golang"},
		{"lib/app.jar", nil, "archive"},
		{"dist.tar.gz", nil, "archive"},
		{"Foo.class", nil, "javaclass"},
		{"a.out", []byte("\x7fELF\x02"), "elf"},
		{"noext", []byte{0xca, 0xfe, 0xba, 0xbe}, "javaclass"},
		{"notes.txt", []byte("hello"), "plain"},
		{"Makefile", nil, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.Find(tt.name, tt.peek).Name)
		})
	}
	assert.Len(t, reg.Factories(), 4)
}

func TestNewRegistry_EndToEnd(t *testing.T) {
	store := config.NewStore(nil)
	store.SetObfuscateEMail(true)
	reg, err := NewRegistry(store)
	require.NoError(t, err)

	f, r, err := reg.FindReader("AUTHORS", strings.NewReader("Jane <jane@example.org>\n"))
	require.NoError(t, err)

	a := reg.GetAnalyzer(f)
	doc := analysis.NewDocument()
	require.NoError(t, a.Analyze(context.Background(), doc, r))

	var out bytes.Buffer
	require.NoError(t, a.WriteXref(&out))
	assert.Contains(t, out.String(), "Jane &lt;jane (at) example.org&gt;")
}

func TestNewRegistry_Independent(t *testing.T) {
	r1, err := NewRegistry(nil)
	require.NoError(t, err)
	r2, err := NewRegistry(nil)
	require.NoError(t, err)

	a1, _ := r1.Lookup("archive")
	a2, _ := r2.Lookup("archive")
	assert.NotSame(t, a1, a2)
}
