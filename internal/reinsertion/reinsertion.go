// Package reinsertion puts markup that was stripped before decoding back
// into the translation. Tags are placed with the word alignment or the
// phrase segmentation reported by the Moses decoder, or with both.
package reinsertion

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/masking"
)

var (
	reMarkup      = regexp.MustCompile(`</?[a-zA-Z_][^<>]*>`)
	reOpening     = regexp.MustCompile(`^<[a-zA-Z_][^<>/]*(?:"[^"]*"[^<>/]*)*>$`)
	reClosing     = regexp.MustCompile(`^</[a-zA-Z_][^/<> ]* *>$`)
	reSelfClosing = regexp.MustCompile(`^<[a-zA-Z_][^<>]*/>$`)
	reSpan        = regexp.MustCompile(`^\|(\d+)-(\d+)\|$`)
)

// Span is an inclusive range of token indexes.
type Span struct {
	Start int
	End   int
}

// Phrase links a source span to the target span it was translated into.
type Phrase struct {
	Source Span
	Target Span
}

// Segmentation lists the phrases of a translation in target order.
type Segmentation []Phrase

// Piece is a stretch of a segment that is either one tag or plain text.
type Piece struct {
	Text string
	Tag  bool
}

// Split cuts segment into tags and the text between them.
func Split(segment string) []Piece {
	var pieces []Piece
	last := 0
	for _, loc := range reMarkup.FindAllStringIndex(segment, -1) {
		if loc[0] > last {
			pieces = append(pieces, Piece{Text: segment[last:loc[0]]})
		}
		pieces = append(pieces, Piece{Text: segment[loc[0]:loc[1]], Tag: true})
		last = loc[1]
	}
	if last < len(segment) {
		pieces = append(pieces, Piece{Text: segment[last:]})
	}
	return pieces
}

// IsTag reports whether token is an opening, closing or self-closing tag.
func IsTag(token string) bool {
	return isOpening(token) || isClosing(token) || isSelfClosing(token)
}

func isOpening(token string) bool     { return reOpening.MatchString(token) }
func isClosing(token string) bool     { return reClosing.MatchString(token) }
func isSelfClosing(token string) bool { return reSelfClosing.MatchString(token) }

// ParseSegmentation removes the "|start-end|" phrase markers that the
// decoder writes after every phrase when reporting segmentation, and returns
// the plain translation with the phrases it was made of.
func ParseSegmentation(translation string) (string, Segmentation, error) {
	var words []string
	var seg Segmentation
	start := 0
	for _, tok := range strings.Fields(translation) {
		m := reSpan.FindStringSubmatch(tok)
		if m == nil {
			words = append(words, tok)
			continue
		}
		from, err := strconv.Atoi(m[1])
		if err != nil {
			return "", nil, fmt.Errorf("malformed phrase marker %q: %w", tok, err)
		}
		to, err := strconv.Atoi(m[2])
		if err != nil {
			return "", nil, fmt.Errorf("malformed phrase marker %q: %w", tok, err)
		}
		seg = append(seg, Phrase{
			Source: Span{Start: from, End: to},
			Target: Span{Start: start, End: len(words) - 1},
		})
		start = len(words)
	}
	return strings.Join(words, " "), seg, nil
}

// Reinserter puts stripped tags back into translations.
type Reinserter struct {
	strategy config.ReinsertionStrategy
	forceAll bool
}

// New returns a Reinserter. With forceAll, tags that cannot be placed are
// appended to the translation instead of being dropped.
func New(strategy config.ReinsertionStrategy, forceAll bool) *Reinserter {
	return &Reinserter{strategy: strategy, forceAll: forceAll}
}

// NeedsSegmentation reports whether the decoder must report phrase
// segmentation for this strategy.
func (r *Reinserter) NeedsSegmentation() bool {
	return r.strategy != config.ReinsertionAlignment
}

// Reinsert places the tags of source into target. source holds the
// tokenized source segment with every tag as a single token; target is the
// tokenized translation of the source without tags. Indexes in seg and
// alignment refer to the source without tags.
func (r *Reinserter) Reinsert(source []string, target string, seg Segmentation, alignment masking.Alignment) string {
	var targetTokens []string
	if target != "" {
		targetTokens = strings.Split(target, " ")
	}
	var out []string
	switch r.strategy {
	case config.ReinsertionSegmentation:
		out = r.bySegmentation(source, targetTokens, seg)
	case config.ReinsertionFull:
		out = byRegions(source, targetTokens, seg, alignment)
	default:
		out = r.byAlignment(source, targetTokens, alignment)
	}
	return strings.Join(out, " ")
}

// tagsByPosition groups tags by the index of the text token that follows
// them. It also returns the number of text tokens.
func tagsByPosition(source []string) (map[int][]string, int) {
	tags := map[int][]string{}
	text := 0
	for _, tok := range source {
		if IsTag(tok) {
			tags[text] = append(tags[text], tok)
			continue
		}
		text++
	}
	return tags, text
}

func (r *Reinserter) byAlignment(source, target []string, alignment masking.Alignment) []string {
	tags, textLen := tagsByPosition(source)

	targetToSource := map[int]int{}
	for _, si := range sortedKeys(alignment) {
		for _, ti := range alignment[si] {
			targetToSource[ti] = si
		}
	}

	out := make([]string, 0, len(source)+len(target))
	for ti, tok := range target {
		if si, ok := targetToSource[ti]; ok {
			out = append(out, tags[si]...)
			delete(tags, si)
		}
		out = append(out, tok)
	}
	out = append(out, tags[textLen]...)
	delete(tags, textLen)
	return r.appendRemaining(out, tags)
}

func (r *Reinserter) bySegmentation(source, target []string, seg Segmentation) []string {
	opening := map[int][]string{}
	closing := map[int][]string{}
	text := 0
	for _, tok := range source {
		switch {
		case isClosing(tok):
			closing[text-1] = append(closing[text-1], tok)
		case IsTag(tok):
			opening[text] = append(opening[text], tok)
		default:
			text++
		}
	}

	phrases := append(Segmentation(nil), seg...)
	sort.SliceStable(phrases, func(i, j int) bool { return phrases[i].Target.Start < phrases[j].Target.Start })

	var out []string
	for _, p := range phrases {
		var opened, closed []string
		for i := p.Source.Start; i <= p.Source.End; i++ {
			opened = append(opened, opening[i]...)
			delete(opening, i)
			closed = append(closed, closing[i]...)
			delete(closing, i)
		}
		out = append(out, opened...)
		out = append(out, slice(target, p.Target)...)
		out = append(out, closed...)
	}
	out = r.appendRemaining(out, opening)
	return r.appendRemaining(out, closing)
}

func (r *Reinserter) appendRemaining(out []string, tags map[int][]string) []string {
	if !r.forceAll {
		return out
	}
	for _, k := range sortedKeys(tags) {
		out = append(out, tags[k]...)
	}
	return out
}

// slice returns the tokens of span, clamped to target.
func slice(target []string, s Span) []string {
	start, end := max(s.Start, 0), min(s.End, len(target)-1)
	if start > end {
		return nil
	}
	return target[start : end+1]
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
