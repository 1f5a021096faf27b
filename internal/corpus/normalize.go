package corpus

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeNFC composes a segment to Unicode NFC and trims surrounding
// whitespace.
func NormalizeNFC(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

var romanianReplacer = strings.NewReplacer(
	"Ş", "Ș", "ş", "ș",
	"Ţ", "Ț", "ţ", "ț",
)

// NormalizeRomanian replaces s-cedilla and t-cedilla with the comma-below
// letters.
func NormalizeRomanian(s string) string {
	return romanianReplacer.Replace(s)
}

// NormalizerFor returns the segment normalizer for lang.
func NormalizerFor(lang string) func(string) string {
	if lang == "ro" {
		return func(s string) string { return NormalizeRomanian(NormalizeNFC(s)) }
	}
	return NormalizeNFC
}
