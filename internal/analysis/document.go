package analysis

import (
	"context"
	"iter"
)

// Field names written by analyzers.
const (
	// FieldFull holds the searchable text of a file, and member names for containers.
	FieldFull = "full"
	// FieldPath holds the virtual path of the file.
	FieldPath = "path"
	// FieldDefs holds symbol definitions.
	FieldDefs = "defs"
	// FieldRefs holds symbol references.
	FieldRefs = "refs"
)

// Field is one named field with its values in insertion order.
type Field struct {
	Name   string
	Values []string
}

// Document is an ordered mapping from field name to one or more values,
// built up during analysis and handed to a DocumentSink.
type Document struct {
	fields []Field
	index  map[string]int
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{index: make(map[string]int)}
}

// Add appends value to the named field. Fields keep the order in which
// they were first added.
func (d *Document) Add(name, value string) {
	if i, ok := d.index[name]; ok {
		d.fields[i].Values = append(d.fields[i].Values, value)
		return
	}
	d.index[name] = len(d.fields)
	d.fields = append(d.fields, Field{Name: name, Values: []string{value}})
}

// Values returns the values of the named field, or nil.
func (d *Document) Values(name string) []string {
	i, ok := d.index[name]
	if !ok {
		return nil
	}
	return d.fields[i].Values
}

// Fields returns the fields in insertion order.
func (d *Document) Fields() []Field {
	return d.fields
}

// Token is one term produced by a token stream.
type Token struct {
	Text string
	// Start and End are byte offsets into the tokenized text.
	Start, End int
	// Position is the 0-based ordinal of the token in its stream.
	Position int
}

// TokenSource supplies the per-field tokenization a sink should apply.
// Every Analyzer is a TokenSource.
type TokenSource interface {
	TokenStream(field, text string) iter.Seq[Token]
}

// DocumentSink is the search backend's ingestion surface.
type DocumentSink interface {
	Index(ctx context.Context, id string, doc *Document, tokens TokenSource) error
}
