package analysis

import (
	"iter"
	"regexp"
	"strings"
)

// symbolRegex matches identifier-like runs: letters, digits and underscores.
var symbolRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// pathDelimiters are the separators PathTokens splits on, besides whitespace.
const pathDelimiters = `/\.-_:$@`

// SymbolTokens yields the lowercased identifier-like runs of text.
// The sequence is finite and may be iterated any number of times.
func SymbolTokens(text string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for i, loc := range symbolRegex.FindAllStringIndex(text, -1) {
			tok := Token{
				Text:     strings.ToLower(text[loc[0]:loc[1]]),
				Start:    loc[0],
				End:      loc[1],
				Position: i,
			}
			if !yield(tok) {
				return
			}
		}
	}
}

// PathTokens yields the lowercased components of a path-like string, so
// "src/Main.java" produces "src", "main" and "java".
func PathTokens(text string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		pos := 0
		start := -1
		emit := func(end int) bool {
			tok := Token{Text: strings.ToLower(text[start:end]), Start: start, End: end, Position: pos}
			pos++
			start = -1
			return yield(tok)
		}
		for i, r := range text {
			if isPathDelimiter(r) {
				if start >= 0 && !emit(i) {
					return
				}
				continue
			}
			if start < 0 {
				start = i
			}
		}
		if start >= 0 {
			emit(len(text))
		}
	}
}

func isPathDelimiter(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return strings.ContainsRune(pathDelimiters, r)
}

// Limit truncates seq after n tokens.
func Limit(seq iter.Seq[Token], n int) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		if n <= 0 {
			return
		}
		count := 0
		for tok := range seq {
			if !yield(tok) {
				return
			}
			count++
			if count >= n {
				return
			}
		}
	}
}

// Collect gathers the token texts of seq.
func Collect(seq iter.Seq[Token]) []string {
	var out []string
	for tok := range seq {
		out = append(out, tok.Text)
	}
	return out
}
