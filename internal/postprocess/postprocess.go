// Package postprocess holds the text transforms applied around the decoders:
// escaping of characters reserved by Moses, subword decoding, markup
// stripping, lowercasing and the first-letter capitalization rule.
//
// Every function is pure and safe for concurrent use.
package postprocess

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// --- Moses special characters ---

// specialChars is ordered: "&" must be escaped first and restored last.
var specialChars = []struct{ char, escaped string }{
	{"&", "&amp;"},
	{"|", "&#124;"},
	{"<", "&lt;"},
	{">", "&gt;"},
	{`"`, "&quot;"},
	{"'", "&apos;"},
	{"[", "&#91;"},
	{"]", "&#93;"},
}

// Escape replaces characters that have a special meaning for Moses.
func Escape(segment string) string {
	for _, sc := range specialChars {
		segment = strings.ReplaceAll(segment, sc.char, sc.escaped)
	}
	return segment
}

// Deescape reverses Escape.
func Deescape(segment string) string {
	for i := len(specialChars) - 1; i >= 0; i-- {
		segment = strings.ReplaceAll(segment, specialChars[i].escaped, specialChars[i].char)
	}
	return segment
}

// --- subword units ---

const bpeSeparator = "@@"

// DecodeBPE joins subword units produced by byte-pair encoding.
func DecodeBPE(segment string) string {
	segment = strings.ReplaceAll(segment, bpeSeparator+" ", "")
	return strings.TrimSuffix(segment, bpeSeparator)
}

// --- markup ---

var (
	markupRe     = regexp.MustCompile(`<[^<>]+>`)
	multiSpaceRe = regexp.MustCompile(` {2,}`)
)

// StripMarkup removes XML tags and collapses the spaces they leave behind.
func StripMarkup(segment string) string {
	if !strings.Contains(segment, "<") {
		return segment
	}
	segment = markupRe.ReplaceAllString(segment, "")
	segment = multiSpaceRe.ReplaceAllString(segment, " ")
	return strings.TrimSpace(segment)
}

// --- casing ---

// Lowercase applies the lowercasing rules of lang (e.g. Turkish dotted i).
// Unknown language codes fall back to language-neutral rules.
func Lowercase(segment, lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Und
	}
	return cases.Lower(tag).String(segment)
}

// RestoreFirstLetter uppercases the first letter of translation when the
// first character of the raw source line is uppercase. Nothing changes when
// lowercase output was requested. Only the first rune of source is examined.
func RestoreFirstLetter(source, translation string, lowercase bool) string {
	if lowercase || source == "" || translation == "" {
		return translation
	}
	first, _ := utf8.DecodeRuneInString(source)
	if !unicode.IsUpper(first) {
		return translation
	}
	r, size := utf8.DecodeRuneInString(translation)
	if r == utf8.RuneError {
		return translation
	}
	return string(unicode.ToUpper(r)) + translation[size:]
}
