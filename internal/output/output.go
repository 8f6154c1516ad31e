// Package output formats CLI messages and progress for terminals and pipes.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const (
	colorAccent = "154"
	colorYellow = "220"
	colorRed    = "196"
	colorGray   = "245"

	progressWidth = 30
)

type styles struct {
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	dim     lipgloss.Style
}

func colorStyles() styles {
	return styles{
		success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		err:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorRed)),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
	}
}

func plainStyles() styles {
	return styles{
		success: lipgloss.NewStyle(),
		warning: lipgloss.NewStyle(),
		err:     lipgloss.NewStyle(),
		dim:     lipgloss.NewStyle(),
	}
}

// Writer prints status lines. Color and in-place progress are used only
// when out is a terminal.
type Writer struct {
	out      io.Writer
	terminal bool
	styles   styles
}

// New creates a Writer for out.
func New(out io.Writer) *Writer {
	w := &Writer{out: out, styles: plainStyles()}
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w.terminal = true
		w.styles = colorStyles()
	}
	return w
}

// Status prints msg after a marker; an empty marker indents instead.
func (w *Writer) Status(marker, msg string) {
	if marker != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", marker, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
	}
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(marker, format string, args ...any) {
	w.Status(marker, fmt.Sprintf(format, args...))
}

func (w *Writer) Successf(format string, args ...any) {
	w.Status(w.styles.success.Render("ok"), fmt.Sprintf(format, args...))
}

func (w *Writer) Warningf(format string, args ...any) {
	w.Status(w.styles.warning.Render("warning:"), fmt.Sprintf(format, args...))
}

func (w *Writer) Errorf(format string, args ...any) {
	w.Status(w.styles.err.Render("error:"), fmt.Sprintf(format, args...))
}

// Detail prints an indented, dimmed line.
func (w *Writer) Detail(msg string) {
	w.Status("", w.styles.dim.Render(msg))
}

// Raw prints text as is.
func (w *Writer) Raw(text string) {
	_, _ = io.WriteString(w.out, text)
}

// Progress reports current of total. On a terminal the line is redrawn in
// place; elsewhere only completion is printed.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	if !w.terminal {
		if current >= total {
			_, _ = fmt.Fprintf(w.out, "%d/%d %s\n", current, total, msg)
		}
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := w.styles.success.Render(renderProgressBar(current, total, progressWidth))
	_, _ = fmt.Fprintf(w.out, "\r[%s] %3.0f%% %s", bar, pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min(max(int(float64(current)/float64(total)*float64(width)), 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
