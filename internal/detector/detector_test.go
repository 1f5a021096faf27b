package detector

import (
	"testing"
)

func TestDetector_DetectISO(t *testing.T) {
	d := New()

	tests := []struct {
		name     string
		text     string
		wantCode string
		wantOK   bool
	}{
		{
			name:   "empty text",
			text:   "",
			wantOK: false,
		},
		{
			name:   "whitespace only",
			text:   "   ",
			wantOK: false,
		},
		{
			name:     "english text",
			text:     "Hello, this is a test in English.",
			wantCode: "EN",
			wantOK:   true,
		},
		{
			name:     "german text",
			text:     "Hallo, das ist ein Test auf Deutsch.",
			wantCode: "DE",
			wantOK:   true,
		},
		{
			name:     "french text",
			text:     "Bonjour, ceci est un test en français.",
			wantCode: "FR",
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := d.DetectISO(tt.text)
			if ok != tt.wantOK {
				t.Errorf("DetectISO(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
				return
			}
			if tt.wantOK && code != tt.wantCode {
				t.Errorf("DetectISO(%q) = %q, want %q", tt.text, code, tt.wantCode)
			}
		})
	}
}

func TestNewForLanguages(t *testing.T) {
	d := NewForLanguages("en", "de")
	if len(d.langs) != 2 {
		t.Fatalf("expected 2 languages, got %v", d.langs)
	}
	code, ok := d.DetectISO("Das ist ein ganz normaler deutscher Satz.")
	if !ok || code != "DE" {
		t.Errorf("DetectISO = %q, %v; want DE", code, ok)
	}
}

func TestNewForLanguages_UnknownCodesFallBack(t *testing.T) {
	d := NewForLanguages("en", "xx")
	if d.langs != nil {
		t.Errorf("expected fallback to all languages, got %v", d.langs)
	}
}
