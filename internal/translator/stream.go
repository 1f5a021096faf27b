package translator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// TranslateStream translates r line by line and writes one output line per
// input line to w. Blank lines are written back unchanged without reaching
// the engine. Batch engines get the whole input in one call; other engines are
// flushed after every line so that interactive use works.
func TranslateStream(ctx context.Context, e Engine, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	bw := bufio.NewWriter(w)

	if e.Batch() {
		var lines []string
		for sc.Scan() {
			lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		out, err := e.TranslateAll(ctx, lines)
		if err != nil {
			return err
		}
		for _, t := range out {
			bw.WriteString(t)
			bw.WriteByte('\n')
		}
		return bw.Flush()
	}

	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		t := line
		if strings.TrimSpace(line) != "" {
			var err error
			if t, err = e.Translate(ctx, line); err != nil {
				return fmt.Errorf("line %d: %w", n, err)
			}
		}
		bw.WriteString(t)
		bw.WriteByte('\n')
		if err := bw.Flush(); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}
