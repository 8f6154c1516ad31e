// Package golang analyzes Go source files with tree-sitter, extracting
// definitions and references and rendering a symbol-linked cross-reference.
package golang

import (
	"context"
	"fmt"
	"go/token"
	"html"
	"io"
	"net/url"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	tsgo "github.com/smacker/go-tree-sitter/golang"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// Factory matches Go sources by extension.
var Factory = &analysis.Factory{
	Name:       "golang",
	Genre:      analysis.GenreXrefable,
	Extensions: []string{"go"},
	New:        New,
}

type spanKind int

const (
	spanDef spanKind = iota
	spanRef
	spanCall
	spanComment
	spanString
	spanKeyword
)

// span is a leaf of the syntax tree that renders with markup.
type span struct {
	start, end uint32
	kind       spanKind
}

// Analyzer indexes a Go file. Definitions go to analysis.FieldDefs,
// other identifiers to analysis.FieldRefs and the source to analysis.FieldFull.
type Analyzer struct {
	analysis.Base
	src   []byte
	spans []span
	defs  map[string]bool
}

// New creates a Go analyzer.
func New(f *analysis.Factory, cfg *config.Config) analysis.Analyzer {
	return &Analyzer{Base: analysis.NewBase(f, cfg)}
}

// Analyze parses the source. tree-sitter tolerates syntax errors, so only
// read failures and cancellation fail the analysis.
func (a *Analyzer) Analyze(ctx context.Context, doc *analysis.Document, r io.Reader) error {
	if err := a.CheckAnalyze(); err != nil {
		return err
	}

	src, err := io.ReadAll(r)
	if err != nil {
		return scerrors.StreamError("go source", err)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(tsgo.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return fmt.Errorf("failed to parse go source: %w", err)
	}
	if tree == nil {
		return fmt.Errorf("failed to parse go source: nil tree")
	}
	defer tree.Close()

	c := &collector{src: src, defs: make(map[string]bool)}
	c.walk(tree.RootNode())

	doc.Add(analysis.FieldFull, string(src))
	if len(c.defNames) > 0 {
		doc.Add(analysis.FieldDefs, strings.Join(c.defNames, " "))
	}
	if refs := c.refNames(); len(refs) > 0 {
		doc.Add(analysis.FieldRefs, strings.Join(refs, " "))
	}

	a.src = src
	a.spans = c.spans
	a.defs = c.defs
	a.MarkAnalyzed()
	return nil
}

// collector walks the syntax tree once, recording markup spans in source
// order along with definition and reference names.
type collector struct {
	src      []byte
	spans    []span
	defs     map[string]bool
	defNames []string
	refSeen  map[string]bool
	refOrder []string
	defAt    map[uint32]bool
	callAt   map[uint32]bool
}

func (c *collector) walk(n *sitter.Node) {
	if c.defAt == nil {
		c.defAt = make(map[uint32]bool)
		c.callAt = make(map[uint32]bool)
		c.refSeen = make(map[string]bool)
	}
	c.noteDefinitions(n)
	c.noteCall(n)

	switch n.Type() {
	case "comment":
		c.spans = append(c.spans, span{n.StartByte(), n.EndByte(), spanComment})
		return
	case "interpreted_string_literal", "raw_string_literal", "rune_literal":
		c.spans = append(c.spans, span{n.StartByte(), n.EndByte(), spanString})
		return
	case "identifier", "field_identifier", "type_identifier", "package_identifier":
		c.identifier(n)
		return
	}

	if n.ChildCount() == 0 {
		if !n.IsNamed() && token.IsKeyword(n.Type()) {
			c.spans = append(c.spans, span{n.StartByte(), n.EndByte(), spanKeyword})
		}
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child != nil {
			c.walk(child)
		}
	}
}

// noteDefinitions marks the name nodes declared by n.
func (c *collector) noteDefinitions(n *sitter.Node) {
	switch n.Type() {
	case "function_declaration", "method_declaration", "type_spec":
		if name := n.ChildByFieldName("name"); name != nil {
			c.defAt[name.StartByte()] = true
		}
	case "const_spec", "var_spec":
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child != nil && child.Type() == "identifier" {
				c.defAt[child.StartByte()] = true
			}
		}
	}
}

// noteCall marks the callee identifier of a call expression.
func (c *collector) noteCall(n *sitter.Node) {
	if n.Type() != "call_expression" {
		return
	}
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	switch fn.Type() {
	case "identifier":
		c.callAt[fn.StartByte()] = true
	case "selector_expression":
		if field := fn.ChildByFieldName("field"); field != nil {
			c.callAt[field.StartByte()] = true
		}
	}
}

func (c *collector) identifier(n *sitter.Node) {
	name := n.Content(c.src)
	if name == "_" || name == "" {
		return
	}
	start := n.StartByte()
	if c.defAt[start] {
		c.spans = append(c.spans, span{start, n.EndByte(), spanDef})
		if !c.defs[name] {
			c.defs[name] = true
			c.defNames = append(c.defNames, name)
		}
		return
	}

	kind := spanRef
	if c.callAt[start] {
		kind = spanCall
	}
	c.spans = append(c.spans, span{start, n.EndByte(), kind})
	if !c.refSeen[name] {
		c.refSeen[name] = true
		c.refOrder = append(c.refOrder, name)
	}
}

// refNames lists referenced names that are not defined in the file.
func (c *collector) refNames() []string {
	var out []string
	for _, name := range c.refOrder {
		if !c.defs[name] {
			out = append(out, name)
		}
	}
	return out
}

// WriteXref renders the source with definition anchors, same-file links,
// search links for external call targets and highlighted comments,
// strings and keywords.
func (a *Analyzer) WriteXref(w io.Writer) error {
	if err := a.CheckRender(); err != nil {
		return err
	}

	lw := analysis.NewLineWriter(w, a.Config())
	markup := a.markup(lw.Obfuscating())
	if markup != "" {
		markup = strings.TrimSuffix(markup, "\n")
		for line := range strings.SplitSeq(markup, "\n") {
			lw.WriteMarkupLine(strings.TrimSuffix(line, "\r"))
		}
	}
	if err := lw.Err(); err != nil {
		return scerrors.New(scerrors.ErrCodeXrefWrite, fmt.Sprintf("writing xref after line %d", lw.Lines()), err)
	}

	a.src, a.spans, a.defs = nil, nil, nil
	a.MarkRendered()
	return nil
}

// markup renders the whole file as HTML whose tags never span a newline.
func (a *Analyzer) markup(obfuscate bool) string {
	var b strings.Builder
	pos := uint32(0)
	for _, s := range a.spans {
		if s.start < pos || s.end > uint32(len(a.src)) {
			continue
		}
		b.WriteString(html.EscapeString(string(a.src[pos:s.start])))
		text := string(a.src[s.start:s.end])
		switch s.kind {
		case spanDef:
			fmt.Fprintf(&b, `<a class="d" name="%s">%s</a>`, html.EscapeString(text), html.EscapeString(text))
		case spanRef:
			if a.defs[text] {
				fmt.Fprintf(&b, `<a href="#%s">%s</a>`, html.EscapeString(text), html.EscapeString(text))
			} else {
				b.WriteString(html.EscapeString(text))
			}
		case spanCall:
			if a.defs[text] {
				fmt.Fprintf(&b, `<a href="#%s">%s</a>`, html.EscapeString(text), html.EscapeString(text))
			} else {
				href := a.Config().Web.URLPrefix + "defs=" + url.QueryEscape(text)
				fmt.Fprintf(&b, `<a href="%s">%s</a>`, html.EscapeString(href), html.EscapeString(text))
			}
		case spanComment:
			wrapLines(&b, "c", text, obfuscate)
		case spanString:
			wrapLines(&b, "s", text, obfuscate)
		case spanKeyword:
			fmt.Fprintf(&b, "<b>%s</b>", text)
		}
		pos = s.end
	}
	b.WriteString(html.EscapeString(string(a.src[pos:])))
	return b.String()
}

// wrapLines writes text inside <span class=class>, closing and reopening the
// span around each newline.
func wrapLines(b *strings.Builder, class, text string, obfuscate bool) {
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if line == "" {
			continue
		}
		fmt.Fprintf(b, `<span class="%s">%s</span>`, class, analysis.Markup(line, obfuscate))
	}
}
