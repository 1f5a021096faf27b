// Package backend trains translation engines. An Adapter wraps one toolkit
// and turns the final corpora of a model directory into engine artifacts.
package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/corpus"
	"github.com/valpere/mtrain/internal/layout"
)

// ErrTuningNotSupported is returned by adapters that validate during
// training instead of tuning afterwards.
var ErrTuningNotSupported = errors.New("tuning not supported by backend")

// Adapter is implemented by every backend. Calls are made in the order
// Train, Tune (optional), Finalize.
type Adapter interface {
	Name() config.Backend
	Train(ctx context.Context) error
	Tune(ctx context.Context) error
	Finalize(ctx context.Context) error
}

// Env carries the collaborators shared by all adapters.
type Env struct {
	Runner commander.Runner
	Tools  config.Toolchain
	Layout layout.Layout
	Logger *zap.SugaredLogger
}

// New returns the adapter for cfg.Backend.
func New(cfg *config.TrainingConfig, env Env) (Adapter, error) {
	if env.Logger == nil {
		env.Logger = zap.NewNop().Sugar()
	}
	switch cfg.Backend {
	case config.BackendStatistical:
		return &Statistical{cfg: cfg, env: env}, nil
	case config.BackendNeural:
		return &Neural{cfg: cfg, env: env}, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidArgument, cfg.Backend)
}

func finalPair(l layout.Layout, basename string, suffixes ...string) corpus.Pair {
	suffixes = append([]string{layout.SuffixFinal}, suffixes...)
	return corpus.NewPair(l.Corpus(basename, suffixes...), l.SrcLang, l.TrgLang)
}
