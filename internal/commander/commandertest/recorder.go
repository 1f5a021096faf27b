// Package commandertest provides a Runner that records invocations instead
// of executing them.
package commandertest

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/valpere/mtrain/internal/commander"
)

// Recorder implements commander.Runner. RunFunc, when set, decides the
// outcome of Run; by default every command succeeds and, if it has a Stdout
// path, copies Stdin to Stdout so downstream stages find their inputs.
type Recorder struct {
	mu       sync.Mutex
	Commands []commander.Command
	Started  []commander.Command

	RunFunc     func(cmd commander.Command) error
	ProcessFunc func(cmd commander.Command, line string) (string, error)
}

func (r *Recorder) Run(_ context.Context, cmd commander.Command) error {
	r.mu.Lock()
	r.Commands = append(r.Commands, cmd)
	r.mu.Unlock()

	if r.RunFunc != nil {
		return r.RunFunc(cmd)
	}
	return CopyThrough(cmd)
}

func (r *Recorder) Start(_ context.Context, cmd commander.Command) (commander.LineProcessor, error) {
	r.mu.Lock()
	r.Started = append(r.Started, cmd)
	r.mu.Unlock()
	return &lineProcessor{cmd: cmd, rec: r}, nil
}

// Names returns the executable names of all recorded Run calls in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.Commands))
	for i, c := range r.Commands {
		names[i] = c.Name
	}
	return names
}

// Ran reports whether a command whose name contains substr was run.
func (r *Recorder) Ran(substr string) bool {
	for _, n := range r.Names() {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

// CopyThrough copies cmd.Stdin to cmd.Stdout, or touches Stdout when there
// is no input.
func CopyThrough(cmd commander.Command) error {
	if cmd.Stdout == "" {
		return nil
	}
	var data []byte
	if cmd.Stdin != "" {
		var err error
		if data, err = os.ReadFile(cmd.Stdin); err != nil {
			return err
		}
	}
	return os.WriteFile(cmd.Stdout, data, 0644)
}

type lineProcessor struct {
	cmd commander.Command
	rec *Recorder
}

func (p *lineProcessor) Process(line string) (string, error) {
	if p.rec.ProcessFunc != nil {
		return p.rec.ProcessFunc(p.cmd, line)
	}
	return line, nil
}

func (p *lineProcessor) Close() error { return nil }
