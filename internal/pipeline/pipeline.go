// Package pipeline runs the training stages of a model directory in order:
// preprocessing, casing, engine training, tuning, finalization and
// evaluation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/valpere/mtrain/internal/backend"
	"github.com/valpere/mtrain/internal/casing"
	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/evaluator"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/store"
)

// Journal records the progress of a run. *store.Store implements it.
type Journal interface {
	StartStage(ctx context.Context, runID, stage string) error
	FinishStage(ctx context.Context, runID, stage string) error
	FailStage(ctx context.Context, runID, stage string, cause error) error
	CompleteRun(ctx context.Context, runID string) error
	SaveScore(ctx context.Context, runID string, sc store.Score) error
}

type Options struct {
	Config config.TrainingConfig
	Tools  config.Toolchain
	Runner commander.Runner
	Logger *zap.SugaredLogger
	FS     afero.Fs

	// Journal and RunID enable progress recording. A nil Journal disables it.
	Journal Journal
	RunID   string

	// Adapter, Casing and Evaluator replace the components selected from
	// Config when set.
	Adapter   backend.Adapter
	Casing    casing.Strategy
	Evaluator evaluator.Evaluator
}

// Orchestrator drives one training run. It is not reusable.
type Orchestrator struct {
	cfg    config.TrainingConfig
	opts   Options
	layout layout.Layout
	logger *zap.SugaredLogger
	stage  Stage
}

// New validates and resolves the configuration and selects the backend
// adapter, casing strategy and evaluator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("pipeline: no command runner")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	cfg, defaulted := opts.Config.Resolve()
	if defaulted {
		opts.Logger.Warnw("no tuning corpus given for neural backend, sampling from training data",
			"segments", cfg.Tuning.Size)
	}

	l := layout.New(cfg.OutputDir, cfg.SrcLang, cfg.TrgLang)
	o := &Orchestrator{cfg: cfg, opts: opts, layout: l, logger: opts.Logger, stage: StageInit}

	var err error
	if o.opts.Adapter == nil {
		o.opts.Adapter, err = backend.New(&o.cfg, backend.Env{Runner: opts.Runner, Tools: opts.Tools, Layout: l, Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
	}
	if o.opts.Casing == nil {
		o.opts.Casing, err = casing.Resolve(&o.cfg, casing.Env{Runner: opts.Runner, Tools: opts.Tools, Layout: l, Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
	}
	if o.opts.Evaluator == nil && !cfg.Evaluation.IsZero() {
		o.opts.Evaluator, err = evaluator.New(evaluator.ToolMultEval, evaluator.Options{
			Runner:    opts.Runner,
			Tools:     opts.Tools,
			Logger:    opts.Logger,
			FS:        opts.FS,
			Threads:   cfg.Threads,
			TempDir:   cfg.TempDir,
			Lowercase: cfg.EvalLowercase,
			Extended:  cfg.ExtendedEval,
		})
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Config returns the resolved configuration.
func (o *Orchestrator) Config() config.TrainingConfig { return o.cfg }

// Stage returns the stage reached so far.
func (o *Orchestrator) Stage() Stage { return o.stage }

// Run executes all stages. The first failing stage aborts the run and is
// reported as a *StageError.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Infow("starting training",
		"backend", o.cfg.Backend,
		"casing", o.opts.Casing.Name(),
		"src", o.cfg.SrcLang,
		"trg", o.cfg.TrgLang,
		"output", o.cfg.OutputDir,
		"dry_run", o.cfg.DryRun,
	)

	if err := o.step(ctx, StagePreprocess, o.preprocess); err != nil {
		return err
	}
	if err := o.step(ctx, StageCasing, o.casing); err != nil {
		return err
	}
	if o.cfg.DryRun {
		o.logger.Infow("dry run, skipping engine training")
		return o.done(ctx)
	}
	if err := o.step(ctx, StageEngineTrain, o.opts.Adapter.Train); err != nil {
		return err
	}
	if !o.cfg.Tuning.IsZero() {
		if err := o.step(ctx, StageTune, o.tune); err != nil {
			return err
		}
	}
	if err := o.step(ctx, StageFinalize, o.opts.Adapter.Finalize); err != nil {
		return err
	}
	if o.opts.Evaluator != nil && !o.cfg.Evaluation.IsZero() {
		if err := o.step(ctx, StageEval, o.evaluate); err != nil {
			return err
		}
	}
	return o.done(ctx)
}

func (o *Orchestrator) step(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	o.stage = stage
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, stage, err)
	}
	o.logger.Infow("stage started", "stage", stage)
	if o.opts.Journal != nil {
		if err := o.opts.Journal.StartStage(ctx, o.opts.RunID, string(stage)); err != nil {
			return &StageError{Stage: stage, Err: err}
		}
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		return o.fail(ctx, stage, err)
	}
	o.logger.Infow("stage finished", "stage", stage, "duration", time.Since(start).Round(time.Millisecond))

	if o.opts.Journal != nil {
		if err := o.opts.Journal.FinishStage(ctx, o.opts.RunID, string(stage)); err != nil {
			return &StageError{Stage: stage, Err: err}
		}
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, stage Stage, err error) error {
	o.logger.Errorw("stage failed", "stage", stage, "error", err)
	if o.opts.Journal != nil {
		// The run context may be cancelled already; the failure is still
		// recorded.
		if jerr := o.opts.Journal.FailStage(context.WithoutCancel(ctx), o.opts.RunID, string(stage), err); jerr != nil {
			o.logger.Warnw("failed to record stage failure", "stage", stage, "error", jerr)
		}
	}
	return &StageError{Stage: stage, Err: err}
}

func (o *Orchestrator) done(ctx context.Context) error {
	o.stage = StageDone
	if o.opts.Journal != nil {
		if err := o.opts.Journal.CompleteRun(ctx, o.opts.RunID); err != nil {
			return &StageError{Stage: StageDone, Err: err}
		}
	}
	o.logger.Infow("training finished", "output", o.cfg.OutputDir)
	return nil
}

func (o *Orchestrator) casing(ctx context.Context) error {
	basenames := []string{layout.BasenameTrain}
	if !o.cfg.Tuning.IsZero() {
		basenames = append(basenames, layout.BasenameTune)
	}
	o.logger.Infow("preparing casing", "strategy", o.opts.Casing.Name())
	return o.opts.Casing.Prepare(ctx, basenames)
}

func (o *Orchestrator) tune(ctx context.Context) error {
	err := o.opts.Adapter.Tune(ctx)
	if errors.Is(err, backend.ErrTuningNotSupported) {
		o.logger.Infow("tuning skipped, the backend validates during training", "backend", o.opts.Adapter.Name())
		return nil
	}
	return err
}

func (o *Orchestrator) evaluate(ctx context.Context) error {
	scores, err := o.opts.Evaluator.Evaluate(ctx, o.cfg.OutputDir)
	if err != nil {
		return err
	}
	if o.opts.Journal == nil {
		return nil
	}
	for _, s := range scores {
		sc := store.Score{Variant: s.Variant, Metric: s.Metric, Value: s.Value}
		if err := o.opts.Journal.SaveScore(ctx, o.opts.RunID, sc); err != nil {
			return err
		}
	}
	return nil
}
