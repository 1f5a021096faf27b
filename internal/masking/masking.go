// Package masking protects stretches of text (markup, e-mail addresses,
// URLs) during decoding by replacing them with mask tokens such as
// __xml_0__ or __xml__. After decoding, Unmask substitutes the originals
// back.
package masking

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/postprocess"
)

// Pattern is a protected pattern: matches of Regexp are replaced by a mask
// token derived from Name.
type Pattern struct {
	Name   string
	Regexp *regexp.Regexp
}

// ProtectedPatterns are applied in order.
var ProtectedPatterns = []Pattern{
	{Name: "xml", Regexp: regexp.MustCompile(`</?[a-zA-Z_][a-zA-Z_.\-0-9]*[^<>]*/?>`)},
	{Name: "email", Regexp: regexp.MustCompile(`[\w\-_.]+@([\w\-_]+\.)+[a-zA-Z]{2,}`)},
	{Name: "url", Regexp: regexp.MustCompile(`https?://(?:www\.)?[^\s.]+\.[^\s]{2,}|www\.[^\s]+\.[^\s]{2,}`)},
}

var (
	reIdentityMask  = regexp.MustCompile(`^__[a-z]+_\d+__$`)
	reAlignmentMask = regexp.MustCompile(`^__[a-z]+__$`)
	reAnyMask       = regexp.MustCompile(`__[a-z]+(?:_\d+)?__`)
)

// Replacement records one mask token and the text it replaced.
type Replacement struct {
	Mask     string
	Original string
}

// Alignment maps a source token index to the target token indexes it is
// aligned to, as reported by the decoder.
type Alignment map[int][]int

type Masker struct {
	strategy config.MaskingStrategy
	escape   bool
}

// New returns a Masker. When escape is true, Moses special characters are
// escaped after masking.
func New(strategy config.MaskingStrategy, escape bool) *Masker {
	return &Masker{strategy: strategy, escape: escape}
}

// Mask replaces every protected pattern in segment with a mask token and
// returns the masked segment together with the replacements in the order
// they were made.
func (m *Masker) Mask(segment string) (string, []Replacement) {
	var mapping []Replacement
	for _, p := range ProtectedPatterns {
		counter := 0
		segment = p.Regexp.ReplaceAllStringFunc(segment, func(match string) string {
			token := m.token(p.Name, counter)
			counter++
			mapping = append(mapping, Replacement{Mask: token, Original: match})
			return token
		})
	}
	if m.escape {
		segment = postprocess.Escape(segment)
	}
	return segment, mapping
}

func (m *Masker) token(name string, n int) string {
	if m.strategy == config.MaskingIdentity {
		return fmt.Sprintf("__%s_%d__", name, n)
	}
	return fmt.Sprintf("__%s__", name)
}

// IsMask reports whether token is a mask token of the masker's strategy.
func (m *Masker) IsMask(token string) bool {
	if m.strategy == config.MaskingIdentity {
		return reIdentityMask.MatchString(token)
	}
	return reAlignmentMask.MatchString(token)
}

// Unmask restores the originals in target. source is the masked segment
// that was decoded. alignment is only consulted by the alignment strategy
// when a mask token occurs more than once; it may be nil otherwise.
func (m *Masker) Unmask(source, target string, mapping []Replacement, alignment Alignment) string {
	if len(mapping) == 0 {
		return target
	}
	if m.strategy == config.MaskingIdentity || uniqueMasks(mapping) {
		for _, r := range mapping {
			target = strings.Replace(target, r.Mask, r.Original, 1)
		}
		return target
	}

	pending := append([]Replacement(nil), mapping...)
	sourceTokens := strings.Split(source, " ")
	targetTokens := strings.Split(target, " ")
	for si, st := range sourceTokens {
		if !m.IsMask(st) {
			continue
		}
		for _, ti := range alignment[si] {
			if ti < 0 || ti >= len(targetTokens) || !m.IsMask(targetTokens[ti]) {
				continue
			}
			idx := firstOriginal(st, pending)
			if idx < 0 {
				break
			}
			targetTokens[ti] = pending[idx].Original
			pending = append(pending[:idx], pending[idx+1:]...)
			break
		}
	}
	return strings.Join(targetTokens, " ")
}

// ContainsMask reports whether a segment still holds any mask token.
func ContainsMask(segment string) bool {
	return reAnyMask.MatchString(segment)
}

// ForceTranslation wraps mask tokens in Moses XML directives so that the
// decoder copies them verbatim.
func ForceTranslation(segment string) string {
	return reAnyMask.ReplaceAllStringFunc(segment, func(mask string) string {
		return fmt.Sprintf(`<mask translation="%s">%s</mask>`, mask, mask)
	})
}

// ParseAlignment parses word alignment in the "0-0 1-2 1-3" notation.
func ParseAlignment(s string) (Alignment, error) {
	a := Alignment{}
	for _, pair := range strings.Fields(s) {
		src, trg, ok := strings.Cut(pair, "-")
		if !ok {
			return nil, fmt.Errorf("malformed alignment point %q", pair)
		}
		si, err := strconv.Atoi(src)
		if err != nil {
			return nil, fmt.Errorf("malformed alignment point %q: %w", pair, err)
		}
		ti, err := strconv.Atoi(trg)
		if err != nil {
			return nil, fmt.Errorf("malformed alignment point %q: %w", pair, err)
		}
		a[si] = append(a[si], ti)
	}
	return a, nil
}

// WritePatterns writes the protected patterns in the format read by the
// Moses tokenizer's -protected option.
func WritePatterns(w io.Writer) error {
	for _, p := range ProtectedPatterns {
		if _, err := fmt.Fprintf(w, "# %s\n%s\n", p.Name, p.Regexp.String()); err != nil {
			return err
		}
	}
	return nil
}

func uniqueMasks(mapping []Replacement) bool {
	seen := make(map[string]struct{}, len(mapping))
	for _, r := range mapping {
		if _, ok := seen[r.Mask]; ok {
			return false
		}
		seen[r.Mask] = struct{}{}
	}
	return true
}

func firstOriginal(mask string, mapping []Replacement) int {
	for i, r := range mapping {
		if r.Mask == mask {
			return i
		}
	}
	return -1
}
