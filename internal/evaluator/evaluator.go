// Package evaluator scores a trained engine on its held-out test corpus.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
)

const ToolMultEval = "multeval"

// Score is one metric value computed for one processing variant.
type Score struct {
	Variant string
	Metric  string
	Value   float64
}

type Evaluator interface {
	Evaluate(ctx context.Context, basepath string) ([]Score, error)
}

type Options struct {
	Runner  commander.Runner
	Tools   config.Toolchain
	Logger  *zap.SugaredLogger
	FS      afero.Fs
	Threads int
	TempDir string

	// Lowercase scores lowercased output and references.
	Lowercase bool
	// Extended scores every combination of lowercasing and detokenization.
	Extended bool
}

// New returns the evaluator for tool.
func New(tool string, opts Options) (Evaluator, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("evaluator: no command runner")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	switch strings.ToLower(tool) {
	case ToolMultEval, "":
		return &MultEval{opts: opts}, nil
	}
	return nil, fmt.Errorf("%w: unsupported evaluation tool %q", config.ErrInvalidArgument, tool)
}
