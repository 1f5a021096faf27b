package corpus

import (
	"fmt"
	"strings"
)

// Transform rewrites a segment. Returning false drops it.
type Transform func(Segment) (Segment, bool)

// Chain applies transforms in order and stops at the first drop.
func Chain(ts ...Transform) Transform {
	return func(seg Segment) (Segment, bool) {
		for _, t := range ts {
			if t == nil {
				continue
			}
			var keep bool
			if seg, keep = t(seg); !keep {
				return seg, false
			}
		}
		return seg, true
	}
}

// MapSides applies fn to both sides.
func MapSides(fn func(string) string) Transform {
	return func(seg Segment) (Segment, bool) {
		return Segment{Source: fn(seg.Source), Target: fn(seg.Target)}, true
	}
}

// MapEach applies separate functions to the source and target side.
func MapEach(src, trg func(string) string) Transform {
	return func(seg Segment) (Segment, bool) {
		return Segment{Source: src(seg.Source), Target: trg(seg.Target)}, true
	}
}

// TokenBounds keeps segments whose sides both have between min and max
// whitespace-separated tokens, inclusive.
func TokenBounds(min, max int) Transform {
	return func(seg Segment) (Segment, bool) {
		for _, side := range []string{seg.Source, seg.Target} {
			n := len(strings.Fields(side))
			if n < min || n > max {
				return seg, false
			}
		}
		return seg, true
	}
}

// Accept wraps a predicate as a Transform.
func Accept(pred func(source, target string) bool) Transform {
	return func(seg Segment) (Segment, bool) {
		return seg, pred(seg.Source, seg.Target)
	}
}

// Stats counts segments read and written by Process.
type Stats struct {
	Read    int
	Written int
}

func (s Stats) Dropped() int { return s.Read - s.Written }

// Process streams in through t into out.
func Process(in, out Pair, t Transform) (Stats, error) {
	var stats Stats
	r, err := Open(in)
	if err != nil {
		return stats, err
	}
	defer r.Close()

	w, err := Create(out)
	if err != nil {
		return stats, err
	}
	for r.Next() {
		stats.Read++
		seg, keep := r.Segment(), true
		if t != nil {
			seg, keep = t(seg)
		}
		if !keep {
			continue
		}
		if err := w.Write(seg); err != nil {
			w.Close()
			return stats, fmt.Errorf("failed to write %s: %w", out.Base, err)
		}
		stats.Written++
	}
	if err := r.Err(); err != nil {
		w.Close()
		return stats, err
	}
	return stats, w.Close()
}
