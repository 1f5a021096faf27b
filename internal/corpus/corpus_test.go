package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePair(t *testing.T, dir, base string, src, trg []string) Pair {
	t.Helper()
	p := NewPair(filepath.Join(dir, base), "en", "de")
	require.NoError(t, os.WriteFile(p.Source(), []byte(strings.Join(src, "\n")+"\n"), 0644))
	require.NoError(t, os.WriteFile(p.Target(), []byte(strings.Join(trg, "\n")+"\n"), 0644))
	return p
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestCountLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")

	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc"), 0644))
	n, err := CountLines(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, os.WriteFile(path, []byte(""), 0644))
	n, err = CountLines(path)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPair_CountMismatch(t *testing.T) {
	p := writePair(t, t.TempDir(), "train", []string{"a", "b", "c"}, []string{"x", "y"})
	_, err := p.Count()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorpusMismatch))
}

func TestReader_Mismatch(t *testing.T) {
	p := writePair(t, t.TempDir(), "train", []string{"a", "b"}, []string{"x"})
	r, err := Open(p)
	require.NoError(t, err)
	defer r.Close()

	n := 0
	for r.Next() {
		n++
	}
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, r.Err(), ErrCorpusMismatch)
}

func TestProcess_TokenBounds(t *testing.T) {
	dir := t.TempDir()
	in := writePair(t, dir, "train",
		[]string{"one", "one two three four", "one two", ""},
		[]string{"eins", "eins zwei", "eins zwei drei", "leer"},
	)
	out := NewPair(filepath.Join(dir, "train.cleaned"), "en", "de")

	stats, err := Process(in, out, TokenBounds(1, 3))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Read)
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 2, stats.Dropped())
	assert.Equal(t, []string{"one", "one two"}, readLines(t, out.Source()))
	assert.Equal(t, []string{"eins", "eins zwei drei"}, readLines(t, out.Target()))
}

func TestChain(t *testing.T) {
	upper := MapSides(strings.ToUpper)
	short := TokenBounds(1, 2)
	tr := Chain(upper, nil, short)

	seg, keep := tr(Segment{Source: "a b", Target: "c"})
	assert.True(t, keep)
	assert.Equal(t, Segment{Source: "A B", Target: "C"}, seg)

	_, keep = tr(Segment{Source: "a b c", Target: "c"})
	assert.False(t, keep)
}

func TestSampleIndexes(t *testing.T) {
	tune, test, err := SampleIndexes(100, 10, 5, 42)
	require.NoError(t, err)
	assert.Len(t, tune, 10)
	assert.Len(t, test, 5)
	for i := range tune {
		assert.False(t, test[i], "index %d sampled twice", i)
	}

	again, _, err := SampleIndexes(100, 10, 5, 42)
	require.NoError(t, err)
	assert.Equal(t, tune, again)

	_, _, err = SampleIndexes(10, 8, 2, 1)
	assert.Error(t, err)

	_, _, err = SampleIndexes(0, 0, 0, 1)
	assert.NoError(t, err)
}

func TestSplit(t *testing.T) {
	dir := t.TempDir()
	var src, trg []string
	for i := 0; i < 20; i++ {
		src = append(src, "source  "+strings.Repeat("x", i+1))
		trg = append(trg, "target "+strings.Repeat("y", i+1))
	}
	in := writePair(t, dir, "raw", src, trg)
	targets := SplitTargets{
		Train: NewPair(filepath.Join(dir, "corpus", "train"), "en", "de"),
		Tune:  NewPair(filepath.Join(dir, "corpus", "tune"), "en", "de"),
		Test:  NewPair(filepath.Join(dir, "corpus", "test"), "en", "de"),
	}

	stats, err := Split(in, targets, SplitOptions{
		TuneSize:  4,
		TestSize:  3,
		Seed:      7,
		Normalize: MapSides(strings.TrimSpace),
	})
	require.NoError(t, err)
	assert.Equal(t, SplitStats{Total: 20, Train: 13, Tune: 4, Test: 3}, stats)

	for _, p := range []Pair{targets.Train, targets.Tune, targets.Test} {
		n, err := p.Count()
		require.NoError(t, err)
		assert.Greater(t, n, 0)
	}

	// Every input line ends up in exactly one output.
	seen := map[string]int{}
	for _, p := range []Pair{targets.Train, targets.Tune, targets.Test} {
		for _, l := range readLines(t, p.Target()) {
			seen[l]++
		}
	}
	assert.Len(t, seen, 20)
}

func TestSplit_FilterOnlyTraining(t *testing.T) {
	dir := t.TempDir()
	in := writePair(t, dir, "raw",
		[]string{"a", "b", "c", "d"},
		[]string{"a", "b", "c", "d"},
	)
	targets := SplitTargets{
		Train: NewPair(filepath.Join(dir, "train"), "en", "de"),
		Tune:  NewPair(filepath.Join(dir, "tune"), "en", "de"),
	}
	dropAll := Accept(func(string, string) bool { return false })

	stats, err := Split(in, targets, SplitOptions{TuneSize: 1, Seed: 3, Filter: dropAll})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tune)
	assert.Equal(t, 0, stats.Train)
	assert.Equal(t, 3, stats.Dropped)
	assert.False(t, targets.Test.Exists())
}

func TestNormalize(t *testing.T) {
	// "e" followed by a combining acute accent composes to a single rune.
	assert.Equal(t, "caf\u00e9", NormalizeNFC(" cafe\u0301 "))
	assert.Equal(t, "Ști", NormalizeRomanian("Şti"))
	assert.Equal(t, "ști", NormalizerFor("ro")("şti"))
	assert.Equal(t, "şti", NormalizerFor("tr")("şti"))
}

func TestLink(t *testing.T) {
	dir := t.TempDir()
	target := writePair(t, dir, "train.cleaned", []string{"a"}, []string{"b"})
	link := NewPair(filepath.Join(dir, "train.final"), "en", "de")

	require.NoError(t, Link(target, link))
	// Linking twice replaces the existing links.
	require.NoError(t, Link(target, link))

	assert.Equal(t, []string{"a"}, readLines(t, link.Source()))
	dest, err := os.Readlink(link.Target())
	require.NoError(t, err)
	assert.Equal(t, "train.cleaned.de", dest)
}

func TestMapLines(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.en")
	out := filepath.Join(dir, "out.en")
	require.NoError(t, WriteLines(in, []string{"One", "", "Three"}))

	require.NoError(t, MapLines(in, out, strings.ToUpper))

	lines, err := ReadLines(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"ONE", "", "THREE"}, lines)
}
