// Package detector identifies the language of corpus segments.
package detector

import (
	"strings"
	"sync"

	lingua "github.com/pemistahl/lingua-go"
)

// Detector wraps a lingua detector. Building the underlying models is
// expensive, so the detector is built on first use and then shared.
type Detector struct {
	once     sync.Once
	langs    []lingua.Language
	detector lingua.LanguageDetector
}

// New returns a detector over all languages known to lingua.
func New() *Detector {
	return &Detector{}
}

// NewForLanguages returns a detector restricted to the given ISO 639-1
// codes. Unknown codes are ignored; fewer than two known codes fall back
// to all languages.
func NewForLanguages(codes ...string) *Detector {
	var langs []lingua.Language
	for _, c := range codes {
		iso := lingua.GetIsoCode639_1FromValue(strings.ToUpper(c))
		if iso == lingua.UnknownIsoCode639_1 {
			continue
		}
		langs = append(langs, lingua.GetLanguageFromIsoCode639_1(iso))
	}
	if len(langs) < 2 {
		langs = nil
	}
	return &Detector{langs: langs}
}

func (d *Detector) build() {
	d.once.Do(func() {
		b := lingua.NewLanguageDetectorBuilder()
		if len(d.langs) > 0 {
			d.detector = b.FromLanguages(d.langs...).Build()
			return
		}
		d.detector = b.FromAllLanguages().Build()
	})
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if strings.TrimSpace(text) == "" {
		return lingua.Unknown, false
	}
	d.build()
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the upper-case ISO 639-1 code of text.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}
