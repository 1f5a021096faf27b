package masking_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/masking"
)

var identityCases = []struct {
	unmasked string
	masked   string
	mapping  []masking.Replacement
}{
	{
		"Email me at an@ribute.com . . .",
		"Email me at __email_0__ . . .",
		[]masking.Replacement{{"__email_0__", "an@ribute.com"}},
	},
	{
		"http://www.statmt.org is a terrific site !",
		"__url_0__ is a terrific site !",
		[]masking.Replacement{{"__url_0__", "http://www.statmt.org"}},
	},
	{
		"Here is a terrific site : http://www.statmt.org .",
		"Here is a terrific site : __url_0__ .",
		[]masking.Replacement{{"__url_0__", "http://www.statmt.org"}},
	},
	{
		"<all> in the sky much </all>",
		"__xml_0__ in the sky much __xml_1__",
		[]masking.Replacement{{"__xml_0__", "<all>"}, {"__xml_1__", "</all>"}},
	},
	{
		"in the <b> sky </b> much",
		"in the __xml_0__ sky __xml_1__ much",
		[]masking.Replacement{{"__xml_0__", "<b>"}, {"__xml_1__", "</b>"}},
	},
}

func TestMask_Identity(t *testing.T) {
	m := masking.New(config.MaskingIdentity, true)
	for _, tc := range identityCases {
		got, mapping := m.Mask(tc.unmasked)
		if got != tc.masked {
			t.Errorf("Mask(%q) = %q, want %q", tc.unmasked, got, tc.masked)
		}
		if !equalMapping(mapping, tc.mapping) {
			t.Errorf("Mask(%q) mapping = %v, want %v", tc.unmasked, mapping, tc.mapping)
		}
	}
}

func TestMask_EscapesSpecialChars(t *testing.T) {
	m := masking.New(config.MaskingIdentity, true)
	got, _ := m.Mask("the ships & hung < in the > [ sky ] .")
	want := "the ships &amp; hung &lt; in the &gt; &#91; sky &#93; ."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMask_NoEscape(t *testing.T) {
	m := masking.New(config.MaskingIdentity, false)
	in := "the ships & hung < in the > [ sky ] ."
	got, mapping := m.Mask(in)
	if got != in {
		t.Errorf("expected unchanged segment, got %q", got)
	}
	if len(mapping) != 0 {
		t.Errorf("expected 0 replacements, got %d", len(mapping))
	}
}

func TestUnmask_IdentityRoundTrip(t *testing.T) {
	m := masking.New(config.MaskingIdentity, true)
	for _, tc := range identityCases {
		got := m.Unmask(tc.masked, tc.masked, tc.mapping, nil)
		if got != tc.unmasked {
			t.Errorf("round-trip failed:\n  original: %q\n  restored: %q", tc.unmasked, got)
		}
	}
}

func TestMask_Alignment(t *testing.T) {
	m := masking.New(config.MaskingAlignment, true)

	got, mapping := m.Mask("in the <b> sky </b> much")
	if got != "in the __xml__ sky __xml__ much" {
		t.Errorf("unexpected masked segment %q", got)
	}
	if len(mapping) != 2 || mapping[0].Mask != "__xml__" || mapping[1].Original != "</b>" {
		t.Errorf("unexpected mapping %v", mapping)
	}

	got, mapping = m.Mask("Email me at an@ribute.com or <a> http://www.statmt.org </a>")
	if got != "Email me at __email__ or __xml__ __url__ __xml__" {
		t.Errorf("unexpected masked segment %q", got)
	}
	if len(mapping) != 4 {
		t.Fatalf("expected 4 replacements, got %v", mapping)
	}
}

func TestUnmask_Alignment(t *testing.T) {
	m := masking.New(config.MaskingAlignment, true)

	tests := []struct {
		source    string
		target    string
		mapping   []masking.Replacement
		alignment string
		want      string
	}{
		{
			source:    "Email me at __email__ . . .",
			target:    "Message moi à __email__ . . .",
			mapping:   []masking.Replacement{{"__email__", "an@ribute.com"}},
			alignment: "0-0 1-1 2-2 3-3 4-4 5-5 6-6",
			want:      "Message moi à an@ribute.com . . .",
		},
		{
			source:    "__xml__ in the sky much __xml__",
			target:    "__xml__ dans le ciel beaucoup __xml__",
			mapping:   []masking.Replacement{{"__xml__", "<all>"}, {"__xml__", "</all>"}},
			alignment: "0-0 1-1 2-2 3-3 4-4 5-5",
			want:      "<all> dans le ciel beaucoup </all>",
		},
		{
			source:    "in the __xml__ sky __xml__ much",
			target:    "dans le __xml__ ciel __xml__ beaucoup",
			mapping:   []masking.Replacement{{"__xml__", "<b>"}, {"__xml__", "</b>"}},
			alignment: "0-0 1-1 2-2 3-3 4-4 5-5",
			want:      "dans le <b> ciel </b> beaucoup",
		},
		{
			source: "Email me at __email__ or __xml__ __url__ __xml__",
			target: "Message moi à __email__ ou __xml__ __url__ __xml__",
			mapping: []masking.Replacement{
				{"__url__", "http://www.statmt.org"},
				{"__xml__", "<a>"},
				{"__xml__", "</a>"},
				{"__email__", "an@ribute.com"},
			},
			alignment: "0-0 1-1 2-2 3-3 4-4 5-5 6-6 7-7",
			want:      "Message moi à an@ribute.com ou <a> http://www.statmt.org </a>",
		},
	}

	for _, tt := range tests {
		a, err := masking.ParseAlignment(tt.alignment)
		if err != nil {
			t.Fatalf("ParseAlignment(%q): %v", tt.alignment, err)
		}
		got := m.Unmask(tt.source, tt.target, tt.mapping, a)
		if got != tt.want {
			t.Errorf("Unmask(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestUnmask_MissingMaskLeavesTarget(t *testing.T) {
	m := masking.New(config.MaskingIdentity, true)
	got := m.Unmask("__xml_0__ hello", "bonjour", []masking.Replacement{{"__xml_0__", "<p>"}}, nil)
	if got != "bonjour" {
		t.Errorf("got %q", got)
	}
}

func TestParseAlignment_Malformed(t *testing.T) {
	if _, err := masking.ParseAlignment("0-0 1x1"); err == nil {
		t.Error("expected error for malformed alignment")
	}
	a, err := masking.ParseAlignment("0-0 0-1 2-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(a[0]) != 2 || a[2][0] != 1 {
		t.Errorf("unexpected alignment %v", a)
	}
}

func TestContainsMask(t *testing.T) {
	if !masking.ContainsMask("still __url_0__ here") {
		t.Error("expected mask to be detected")
	}
	if masking.ContainsMask("no masks at all") {
		t.Error("unexpected mask detected")
	}
}

func TestForceTranslation(t *testing.T) {
	got := masking.ForceTranslation("see __url_0__ now")
	want := `see <mask translation="__url_0__">__url_0__</mask> now`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWritePatterns(t *testing.T) {
	var buf bytes.Buffer
	if err := masking.WritePatterns(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, name := range []string{"# xml\n", "# email\n", "# url\n"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected %q in patterns file", name)
		}
	}
}

// helpers

func equalMapping(a, b []masking.Replacement) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
