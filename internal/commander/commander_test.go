package commander

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestCommand_String(t *testing.T) {
	c := Command{Name: "lmplz", Args: []string{"-o", "5"}, Stdin: "in.txt", Stdout: "out.arpa"}
	assert.Equal(t, "lmplz -o 5 < in.txt > out.arpa", c.String())
}

func TestExecRunner_RunRedirects(t *testing.T) {
	requireTool(t, "tr")
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(in, []byte("Hello World\n"), 0644))

	r := NewExecRunner(nil)
	err := r.Run(context.Background(), Command{Name: "tr", Args: []string{"A-Z", "a-z"}, Stdin: in, Stdout: out})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(got))
}

func TestExecRunner_RunFailure(t *testing.T) {
	requireTool(t, "sh")
	r := NewExecRunner(nil)
	err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Contains(t, exitErr.Error(), "broken")
}

func TestExecRunner_StartLineByLine(t *testing.T) {
	requireTool(t, "cat")
	r := NewExecRunner(nil)
	p, err := r.Start(context.Background(), Command{Name: "cat", Args: []string{"-u"}})
	require.NoError(t, err)
	defer p.Close()

	for _, line := range []string{"first", "second line", ""} {
		out, err := p.Process(line)
		require.NoError(t, err)
		assert.Equal(t, line, out)
	}
	require.NoError(t, p.Close())
	_, err = p.Process("after close")
	assert.Error(t, err)
}
