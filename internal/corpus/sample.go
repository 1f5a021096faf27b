package corpus

import (
	"fmt"
	"math/rand"
)

// SplitTargets names the outputs of Split. Tune and Test are skipped when
// their sample size is zero.
type SplitTargets struct {
	Train Pair
	Tune  Pair
	Test  Pair
}

// SplitOptions configures Split.
type SplitOptions struct {
	TuneSize int
	TestSize int
	Seed     int64
	// Normalize is applied to every segment before it is written.
	Normalize Transform
	// Filter is applied to training segments only, after Normalize.
	Filter Transform
}

// SplitStats reports how many segments went to each output.
type SplitStats struct {
	Total   int
	Train   int
	Tune    int
	Test    int
	Dropped int
}

// SampleIndexes draws tune and test line indexes from [0, total) at random
// without replacement. The same seed yields the same indexes.
func SampleIndexes(total, tune, test int, seed int64) (map[int]bool, map[int]bool, error) {
	if tune < 0 || test < 0 {
		return nil, nil, fmt.Errorf("sample sizes must not be negative")
	}
	if tune+test > 0 && tune+test >= total {
		return nil, nil, fmt.Errorf("cannot sample %d tuning and %d evaluation segments from a corpus of %d", tune, test, total)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(total)
	tuneIdx := make(map[int]bool, tune)
	for _, i := range perm[:tune] {
		tuneIdx[i] = true
	}
	testIdx := make(map[int]bool, test)
	for _, i := range perm[tune : tune+test] {
		testIdx[i] = true
	}
	return tuneIdx, testIdx, nil
}

// Split routes every segment of in to the training, tuning or evaluation
// corpus. Sampled segments are removed from the training corpus.
func Split(in Pair, out SplitTargets, opts SplitOptions) (SplitStats, error) {
	var stats SplitStats
	total, err := in.Count()
	if err != nil {
		return stats, err
	}
	tuneIdx, testIdx, err := SampleIndexes(total, opts.TuneSize, opts.TestSize, opts.Seed)
	if err != nil {
		return stats, err
	}

	r, err := Open(in)
	if err != nil {
		return stats, err
	}
	defer r.Close()

	writers := make([]*Writer, 0, 3)
	closeAll := func() error {
		var first error
		for _, w := range writers {
			if err := w.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	open := func(p Pair, enabled bool) (*Writer, error) {
		if !enabled {
			return nil, nil
		}
		w, err := Create(p)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
		return w, nil
	}

	train, err := open(out.Train, true)
	if err != nil {
		return stats, err
	}
	tune, err := open(out.Tune, opts.TuneSize > 0)
	if err != nil {
		closeAll()
		return stats, err
	}
	test, err := open(out.Test, opts.TestSize > 0)
	if err != nil {
		closeAll()
		return stats, err
	}

	for i := 0; r.Next(); i++ {
		stats.Total++
		seg := r.Segment()
		if opts.Normalize != nil {
			seg, _ = opts.Normalize(seg)
		}
		var w *Writer
		switch {
		case tuneIdx[i]:
			w = tune
			stats.Tune++
		case testIdx[i]:
			w = test
			stats.Test++
		default:
			if opts.Filter != nil {
				var keep bool
				if seg, keep = opts.Filter(seg); !keep {
					stats.Dropped++
					continue
				}
			}
			w = train
			stats.Train++
		}
		if err := w.Write(seg); err != nil {
			closeAll()
			return stats, err
		}
	}
	if err := r.Err(); err != nil {
		closeAll()
		return stats, err
	}
	return stats, closeAll()
}
