// Package corpus reads, writes, splits and cleans parallel corpora. A
// corpus is a pair of line-aligned files <base>.<src> and <base>.<trg>.
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrCorpusMismatch is returned when the two sides of a corpus do not have
// the same number of lines.
var ErrCorpusMismatch = errors.New("corpus sides differ in length")

// maxLineSize bounds a single corpus line.
const maxLineSize = 1 << 20

// Pair names both sides of a parallel corpus.
type Pair struct {
	Base    string
	SrcLang string
	TrgLang string
}

func NewPair(base, srcLang, trgLang string) Pair {
	return Pair{Base: base, SrcLang: srcLang, TrgLang: trgLang}
}

func (p Pair) Source() string { return p.Base + "." + p.SrcLang }
func (p Pair) Target() string { return p.Base + "." + p.TrgLang }

// Exists reports whether both sides are present.
func (p Pair) Exists() bool {
	for _, path := range []string{p.Source(), p.Target()} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Count returns the number of segments, failing with ErrCorpusMismatch when
// the sides differ.
func (p Pair) Count() (int, error) {
	src, err := CountLines(p.Source())
	if err != nil {
		return 0, err
	}
	trg, err := CountLines(p.Target())
	if err != nil {
		return 0, err
	}
	if src != trg {
		return 0, fmt.Errorf("%w: %s has %d lines, %s has %d", ErrCorpusMismatch, p.Source(), src, p.Target(), trg)
	}
	return src, nil
}

// CountLines counts newline-terminated lines, plus a final unterminated one.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open corpus file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	count := 0
	last := byte('\n')
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				count++
			}
		}
		if n > 0 {
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	if last != '\n' {
		count++
	}
	return count, nil
}

// Segment is one line pair.
type Segment struct {
	Source string
	Target string
}

// Reader iterates over the segments of a Pair.
type Reader struct {
	pair     Pair
	src, trg *os.File
	srcScan  *bufio.Scanner
	trgScan  *bufio.Scanner
	seg      Segment
	err      error
}

func Open(p Pair) (*Reader, error) {
	src, err := os.Open(p.Source())
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	trg, err := os.Open(p.Target())
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	return &Reader{
		pair:    p,
		src:     src,
		trg:     trg,
		srcScan: newScanner(src),
		trgScan: newScanner(trg),
	}, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	return s
}

// Next advances to the next segment. It returns false at the end of the
// corpus or on error; check Err afterwards.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	okSrc := r.srcScan.Scan()
	okTrg := r.trgScan.Scan()
	if okSrc != okTrg {
		if err := firstErr(r.srcScan.Err(), r.trgScan.Err()); err != nil {
			r.err = err
		} else {
			r.err = fmt.Errorf("%w: %s", ErrCorpusMismatch, r.pair.Base)
		}
		return false
	}
	if !okSrc {
		r.err = firstErr(r.srcScan.Err(), r.trgScan.Err())
		return false
	}
	r.seg = Segment{Source: r.srcScan.Text(), Target: r.trgScan.Text()}
	return true
}

func (r *Reader) Segment() Segment { return r.seg }
func (r *Reader) Err() error       { return r.err }

func (r *Reader) Close() error {
	return firstErr(r.src.Close(), r.trg.Close())
}

// Writer writes segments to both sides of a Pair.
type Writer struct {
	src, trg *os.File
	srcBuf   *bufio.Writer
	trgBuf   *bufio.Writer
	count    int
}

// Create truncates or creates both sides, creating parent directories.
func Create(p Pair) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(p.Base), 0755); err != nil {
		return nil, fmt.Errorf("failed to create corpus directory: %w", err)
	}
	src, err := os.Create(p.Source())
	if err != nil {
		return nil, fmt.Errorf("failed to create corpus: %w", err)
	}
	trg, err := os.Create(p.Target())
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create corpus: %w", err)
	}
	return &Writer{
		src:    src,
		trg:    trg,
		srcBuf: bufio.NewWriter(src),
		trgBuf: bufio.NewWriter(trg),
	}, nil
}

func (w *Writer) Write(seg Segment) error {
	if _, err := w.srcBuf.WriteString(seg.Source + "\n"); err != nil {
		return err
	}
	if _, err := w.trgBuf.WriteString(seg.Target + "\n"); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of segments written so far.
func (w *Writer) Count() int { return w.count }

func (w *Writer) Close() error {
	return firstErr(
		w.srcBuf.Flush(),
		w.trgBuf.Flush(),
		w.src.Close(),
		w.trg.Close(),
	)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Link points both sides of link at the corresponding sides of target with
// relative symlinks, replacing existing files.
func Link(target, link Pair) error {
	for _, side := range [][2]string{
		{target.Source(), link.Source()},
		{target.Target(), link.Target()},
	} {
		rel, err := filepath.Rel(filepath.Dir(side[1]), side[0])
		if err != nil {
			return err
		}
		if err := os.Remove(side[1]); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Symlink(rel, side[1]); err != nil {
			return fmt.Errorf("failed to link %s: %w", side[1], err)
		}
	}
	return nil
}

// ReadLines reads a single-language text file into memory.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := newScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}

// WriteLines writes lines to path, one per line, replacing any existing file.
func WriteLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		w.WriteString(l)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MapLines applies fn to every line of in and writes the result to out.
func MapLines(in, out string, fn func(string) string) error {
	lines, err := ReadLines(in)
	if err != nil {
		return err
	}
	for i, l := range lines {
		lines[i] = fn(l)
	}
	return WriteLines(out, lines)
}
