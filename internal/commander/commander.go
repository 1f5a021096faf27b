// Package commander runs the external toolkits: one-shot commands that read
// and write files, and long-running processes that translate line by line.
package commander

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Command describes one external tool invocation. Stdin and Stdout, when set,
// are file paths wired to the process instead of shell redirections.
type Command struct {
	Name        string
	Args        []string
	Stdin       string
	Stdout      string
	Dir         string
	Env         []string
	Description string
}

func (c Command) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	if c.Stdin != "" {
		b.WriteString(" < " + c.Stdin)
	}
	if c.Stdout != "" {
		b.WriteString(" > " + c.Stdout)
	}
	return b.String()
}

// LineProcessor sends one line to a running process and reads one line back.
type LineProcessor interface {
	Process(line string) (string, error)
	Close() error
}

// Runner executes commands. Every call blocks until the tool finishes.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
	Start(ctx context.Context, cmd Command) (LineProcessor, error)
}

// ExitError reports a failed tool with the tail of its stderr.
type ExitError struct {
	Command string
	Err     error
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command failed: %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command failed: %s: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

const stderrTail = 2048

type ExecRunner struct {
	logger *zap.SugaredLogger
}

func NewExecRunner(logger *zap.SugaredLogger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	if c.Description != "" {
		r.logger.Info(c.Description)
	}
	r.logger.Debugw("executing", "command", c.String())

	cmd := r.command(ctx, c)

	if c.Stdin != "" {
		in, err := os.Open(c.Stdin)
		if err != nil {
			return fmt.Errorf("failed to open input for %s: %w", c.Name, err)
		}
		defer in.Close()
		cmd.Stdin = in
	}
	if c.Stdout != "" {
		out, err := os.Create(c.Stdout)
		if err != nil {
			return fmt.Errorf("failed to create output for %s: %w", c.Name, err)
		}
		defer out.Close()
		cmd.Stdout = out
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return &ExitError{Command: c.String(), Err: err, Stderr: tail(stderr.String())}
	}
	r.logger.Debugw("finished", "command", c.Name, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Start launches a process that answers each input line with exactly one
// output line, e.g. the Moses decoder or an unbuffered tokenizer.
func (r *ExecRunner) Start(ctx context.Context, c Command) (LineProcessor, error) {
	r.logger.Debugw("starting", "command", c.String())

	cmd := r.command(ctx, c)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, &ExitError{Command: c.String(), Err: err}
	}
	return &process{
		name:   c.Name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

type process struct {
	mu     sync.Mutex
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	closed bool
}

func (p *process) Process(line string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", fmt.Errorf("%s: process already closed", p.name)
	}
	line = strings.ReplaceAll(line, "\n", " ")
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return "", fmt.Errorf("%s: failed to write: %w", p.name, err)
	}
	out, err := p.stdout.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%s: failed to read: %w", p.name, err)
	}
	return strings.TrimRight(out, "\r\n"), nil
}

func (p *process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.stdin.Close()
	return p.cmd.Wait()
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return "..." + s[len(s)-stderrTail:]
	}
	return s
}
