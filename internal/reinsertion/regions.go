package reinsertion

import (
	"slices"
	"sort"

	"github.com/valpere/mtrain/internal/masking"
)

// region is a tag pair with the text tokens it encloses. A region without a
// closing tag is a single tag: self-closing, stray closing or never closed.
type region struct {
	open  string
	close string
	// at is the text index before which a single tag goes, or the text index
	// preceding an empty tag pair.
	at      int
	content []int
}

// tagRegions resolves tags innermost first. Content indexes refer to the
// source without tags.
func tagRegions(source []string) []region {
	tokens := slices.Clone(source)
	var regions []region
	for slices.ContainsFunc(tokens, IsTag) {
		var r region
		r, tokens = nextRegion(tokens)
		regions = append(regions, r)
	}
	return regions
}

func nextRegion(tokens []string) (region, []string) {
	openAt, opened := -1, 0
	var content []int
	for i, tok := range tokens {
		switch {
		case isSelfClosing(tok):
			return region{open: tok, at: i - opened}, slices.Delete(tokens, i, i+1)
		case isClosing(tok):
			if openAt < 0 {
				return region{open: tok, at: i}, slices.Delete(tokens, i, i+1)
			}
			r := region{open: tokens[openAt], close: tok, at: openAt - opened, content: content}
			tokens = slices.Delete(tokens, i, i+1)
			return r, slices.Delete(tokens, openAt, openAt+1)
		case isOpening(tok):
			opened++
			openAt = i
			content = nil
		default:
			if openAt >= 0 {
				content = append(content, i-opened)
			}
		}
	}
	// The last opening tag is never closed.
	return region{open: tokens[openAt], at: openAt - (opened - 1)}, slices.Delete(tokens, openAt, openAt+1)
}

type slot struct {
	closing []string
	opening []string
}

// insertions collects tags per target position. At one position closing
// tags come first in the order they were added, then opening tags in
// reverse order, so that nested regions resolved innermost first stay
// well nested.
type insertions struct {
	n     int
	slots map[int]*slot
}

func (in *insertions) at(pos int) *slot {
	pos = min(max(pos, 0), in.n)
	s := in.slots[pos]
	if s == nil {
		s = &slot{}
		in.slots[pos] = s
	}
	return s
}

func (in *insertions) open(pos int, tag string) {
	s := in.at(pos)
	s.opening = append(s.opening, tag)
}

func (in *insertions) close(pos int, tag string) {
	s := in.at(pos)
	s.closing = append(s.closing, tag)
}

func (in *insertions) apply(target []string) []string {
	out := make([]string, 0, len(target)+2*len(in.slots))
	for i := 0; i <= len(target); i++ {
		if s := in.slots[i]; s != nil {
			out = append(out, s.closing...)
			for j := len(s.opening) - 1; j >= 0; j-- {
				out = append(out, s.opening[j])
			}
		}
		if i < len(target) {
			out = append(out, target[i])
		}
	}
	return out
}

// byRegions places every tag region using phrase segmentation where the
// region lines up with phrase boundaries and word alignment elsewhere.
func byRegions(source, target []string, seg Segmentation, alignment masking.Alignment) []string {
	n := len(target)
	in := &insertions{n: n, slots: map[int]*slot{}}
	for _, r := range tagRegions(source) {
		switch {
		case r.close == "":
			pos := n
			if t := alignment[r.at]; len(t) > 0 {
				pos = slices.Min(t)
			}
			in.open(pos, r.open)
		case len(r.content) == 0:
			pos := 0
			if r.at >= 0 {
				pos = n
				if t := alignment[r.at]; len(t) > 0 {
					pos = slices.Max(t) + 1
				}
			}
			in.open(pos, r.open+" "+r.close)
		default:
			start, end := placeRegion(r.content, seg, alignment, n)
			in.open(start, r.open)
			in.close(end, r.close)
		}
	}
	return in.apply(target)
}

// placeRegion returns the target positions of the opening and the closing
// tag of a region enclosing the source tokens content.
func placeRegion(content []int, seg Segmentation, alignment masking.Alignment, n int) (int, int) {
	var aligned []int
	for _, i := range content {
		aligned = append(aligned, alignment[i]...)
	}
	phrases := sourcePhrases(content, seg)
	if len(phrases) == 0 {
		return alignedBounds(aligned, n)
	}

	first, last := phrases[0], phrases[len(phrases)-1]
	coincide := content[0] == first.Source.Start && content[len(content)-1] == last.Source.End
	contiguous := targetContiguous(phrases)
	switch {
	case coincide && contiguous:
		return first.Target.Start, last.Target.End + 1
	case coincide:
		lo, hi := targetBounds(phrases)
		return lo.Target.Start, hi.Target.End + 1
	case contiguous:
		return alignedBounds(aligned, n)
	}

	// Phrases are scattered and only partly inside the region: use the
	// aligned words within the outermost phrases.
	lo, hi := targetBounds(phrases)
	start, end := lo.Target.Start, hi.Target.End+1
	for i := lo.Target.Start; i <= lo.Target.End; i++ {
		if slices.Contains(aligned, i) {
			start = i
			break
		}
	}
	for i := hi.Target.End; i >= hi.Target.Start; i-- {
		if slices.Contains(aligned, i) {
			end = i + 1
			break
		}
	}
	return start, end
}

// sourcePhrases returns the contiguous run of phrases, in target order,
// that cover any of content, sorted by source position.
func sourcePhrases(content []int, seg Segmentation) Segmentation {
	var out Segmentation
	for _, p := range seg {
		covers := slices.ContainsFunc(content, func(i int) bool {
			return p.Source.Start <= i && i <= p.Source.End
		})
		if covers {
			out = append(out, p)
		} else if len(out) > 0 {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Source.Start < out[j].Source.Start })
	return out
}

func targetContiguous(phrases Segmentation) bool {
	for i := 1; i < len(phrases); i++ {
		if phrases[i].Target.Start != phrases[i-1].Target.End+1 {
			return false
		}
	}
	return true
}

// targetBounds returns the phrases that start first and end last in the
// target.
func targetBounds(phrases Segmentation) (Phrase, Phrase) {
	lo, hi := phrases[0], phrases[0]
	for _, p := range phrases[1:] {
		if p.Target.Start < lo.Target.Start {
			lo = p
		}
		if p.Target.End > hi.Target.End {
			hi = p
		}
	}
	return lo, hi
}

func alignedBounds(aligned []int, n int) (int, int) {
	if len(aligned) == 0 {
		return n, n
	}
	return slices.Min(aligned), slices.Max(aligned) + 1
}
