package analysis

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/sourcecolon/sourcecolon/internal/config"
)

var (
	urlRegex   = regexp.MustCompile(`https?://[^\s<>"']+`)
	emailRegex = regexp.MustCompile(`([\w.%+-]+)@([\w-]+(?:\.[\w-]+)+)`)
)

// urlTrailing is punctuation that usually ends a sentence rather than a URL.
const urlTrailing = ".,;:!?)]}"

// LineWriter writes line-numbered cross-reference HTML. Every line starts
// with an anchor carrying its 1-based number. Errors are sticky: after the
// first failed write the rest are skipped and Err reports it.
type LineWriter struct {
	w         io.Writer
	obfuscate bool
	line      int
	err       error
}

// NewLineWriter creates a LineWriter honoring cfg's e-mail obfuscation.
func NewLineWriter(w io.Writer, cfg *config.Config) *LineWriter {
	obfuscate := false
	if cfg != nil {
		obfuscate = cfg.Web.ObfuscateEMail
	}
	return &LineWriter{w: w, obfuscate: obfuscate}
}

// WriteText writes text as a sequence of lines. A final newline does not
// start another line.
func (lw *LineWriter) WriteText(text string) {
	if text == "" {
		return
	}
	text = strings.TrimSuffix(text, "\n")
	for line := range strings.SplitSeq(text, "\n") {
		lw.WriteLine(strings.TrimSuffix(line, "\r"))
	}
}

// WriteLine writes one line of plain text, escaped and linkified.
func (lw *LineWriter) WriteLine(text string) {
	lw.WriteMarkupLine(Markup(text, lw.obfuscate))
}

// WriteMarkupLine writes one line of already-escaped HTML.
func (lw *LineWriter) WriteMarkupLine(markup string) {
	if lw.err != nil {
		return
	}
	lw.line++
	class := "l"
	if lw.line%10 == 0 {
		class = "hl"
	}
	_, lw.err = fmt.Fprintf(lw.w, "<a class=\"%s\" name=\"%d\" href=\"#%d\">%d</a> %s\n",
		class, lw.line, lw.line, lw.line, markup)
}

// Obfuscating reports whether e-mail addresses are rewritten.
func (lw *LineWriter) Obfuscating() bool { return lw.obfuscate }

// Lines returns the number of lines written.
func (lw *LineWriter) Lines() int { return lw.line }

// Err returns the first write error.
func (lw *LineWriter) Err() error { return lw.err }

// Markup escapes text for HTML, turns http(s) URLs into links and, when
// obfuscate is set, rewrites local@domain as "local (at) domain".
func Markup(text string, obfuscate bool) string {
	var b strings.Builder
	rest := text
	for {
		loc := urlRegex.FindStringIndex(rest)
		if loc == nil {
			b.WriteString(markupEmails(rest, obfuscate))
			return b.String()
		}
		url := strings.TrimRight(rest[loc[0]:loc[1]], urlTrailing)
		end := loc[0] + len(url)

		b.WriteString(markupEmails(rest[:loc[0]], obfuscate))
		escaped := html.EscapeString(url)
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, escaped, escaped)
		rest = rest[end:]
	}
}

func markupEmails(text string, obfuscate bool) string {
	if !obfuscate {
		return html.EscapeString(text)
	}
	var b strings.Builder
	last := 0
	for _, m := range emailRegex.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:m[0]]))
		b.WriteString(html.EscapeString(text[m[2]:m[3]]))
		b.WriteString(" (at) ")
		b.WriteString(html.EscapeString(text[m[4]:m[5]]))
		last = m[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}
