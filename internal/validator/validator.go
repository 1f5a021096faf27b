// Package validator decides whether a parallel segment pair is written in
// the expected source and target languages.
package validator

import (
	"strings"

	"github.com/valpere/mtrain/internal/detector"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter segments produce unreliable results and are accepted without validation.
const minValidationLength = 20

// PairValidator checks both sides of a segment pair. Reuse the instance.
type PairValidator struct {
	det     *detector.Detector
	srcLang string
	trgLang string
}

// New creates a PairValidator for the given ISO 639-1 language codes.
func New(srcLang, trgLang string) *PairValidator {
	return &PairValidator{
		det:     detector.NewForLanguages(srcLang, trgLang),
		srcLang: srcLang,
		trgLang: trgLang,
	}
}

// Accept reports whether source is in the source language and target is in
// the target language.
func (v *PairValidator) Accept(source, target string) bool {
	return v.isLanguage(source, v.srcLang) && v.isLanguage(target, v.trgLang)
}

// isLanguage returns true when text appears to be written in lang. Short
// segments and segments whose language cannot be determined pass.
func (v *PairValidator) isLanguage(text, lang string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if len([]rune(text)) < minValidationLength {
		return true
	}
	detected, ok := v.det.DetectISO(text)
	if !ok {
		return true
	}
	return strings.EqualFold(detected, lang)
}
