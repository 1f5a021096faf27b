// Package casing resolves the casing strategy of a training run into
// exactly one implementation, trains its model and applies it to the
// cleaned corpora. Each implementation writes <basename>.final.<lang>.
package casing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/corpus"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/mosesini"
	"github.com/valpere/mtrain/internal/postprocess"
)

// Strategy prepares the final corpora for engine training.
type Strategy interface {
	Name() config.CasingStrategy
	// Prepare trains the casing model, if any, and writes the final corpus
	// for every basename whose cleaned corpus exists.
	Prepare(ctx context.Context, basenames []string) error
}

// Env carries the collaborators shared by all strategies.
type Env struct {
	Runner commander.Runner
	Tools  config.Toolchain
	Layout layout.Layout
	Logger *zap.SugaredLogger
}

// Resolve returns the single Strategy selected by cfg.
func Resolve(cfg *config.TrainingConfig, env Env) (Strategy, error) {
	if env.Logger == nil {
		env.Logger = zap.NewNop().Sugar()
	}
	switch cfg.Casing {
	case config.CasingNone:
		return &NoOp{env: env}, nil
	case config.CasingTruecasing:
		return &Truecaser{env: env}, nil
	case config.CasingRecasing:
		return &Recaser{
			env:              env,
			threads:          cfg.Threads,
			tempDir:          cfg.TempDir,
			keepUncompressed: cfg.KeepUncompressed,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown casing strategy %q", config.ErrInvalidArgument, cfg.Casing)
}

func pair(l layout.Layout, basename string, suffixes ...string) corpus.Pair {
	return corpus.NewPair(l.Corpus(basename, suffixes...), l.SrcLang, l.TrgLang)
}

// forEachCorpus calls fn with the cleaned and final pair of every basename
// whose cleaned corpus exists.
func forEachCorpus(l layout.Layout, basenames []string, fn func(base string, cleaned, final corpus.Pair) error) error {
	for _, base := range basenames {
		cleaned := pair(l, base, layout.SuffixCleaned)
		if !cleaned.Exists() {
			continue
		}
		if err := fn(base, cleaned, pair(l, base, layout.SuffixFinal)); err != nil {
			return fmt.Errorf("%s corpus: %w", base, err)
		}
	}
	return nil
}

// --- none ---

// NoOp keeps the original casing.
type NoOp struct {
	env Env
}

func (n *NoOp) Name() config.CasingStrategy { return config.CasingNone }

func (n *NoOp) Prepare(_ context.Context, basenames []string) error {
	return forEachCorpus(n.env.Layout, basenames, func(_ string, cleaned, final corpus.Pair) error {
		return corpus.Link(cleaned, final)
	})
}

// --- truecasing ---

// Truecaser trains one truecasing model per language and truecases both
// sides of every corpus.
type Truecaser struct {
	env Env
}

func (t *Truecaser) Name() config.CasingStrategy { return config.CasingTruecasing }

func (t *Truecaser) Prepare(ctx context.Context, basenames []string) error {
	l := t.env.Layout
	if err := os.MkdirAll(l.TruecasingDir(), 0755); err != nil {
		return fmt.Errorf("failed to create truecasing directory: %w", err)
	}

	train := pair(l, layout.BasenameTrain, layout.SuffixCleaned)
	for _, side := range []struct{ lang, path string }{
		{l.SrcLang, train.Source()},
		{l.TrgLang, train.Target()},
	} {
		err := t.env.Runner.Run(ctx, commander.Command{
			Name: t.env.Tools.Moses("scripts/recaser/train-truecaser.perl"),
			Args: []string{
				"--model", l.TruecaseModel(side.lang),
				"--corpus", side.path,
			},
			Description: fmt.Sprintf("Training truecaser for %s", side.lang),
		})
		if err != nil {
			return fmt.Errorf("failed to train truecaser: %w", err)
		}
	}

	return forEachCorpus(l, basenames, func(base string, cleaned, final corpus.Pair) error {
		truecased := pair(l, base, layout.SuffixTruecased)
		for _, side := range [][3]string{
			{l.SrcLang, cleaned.Source(), truecased.Source()},
			{l.TrgLang, cleaned.Target(), truecased.Target()},
		} {
			cmd := TruecaseCommand(t.env.Tools, l, side[0])
			cmd.Stdin, cmd.Stdout = side[1], side[2]
			if err := t.env.Runner.Run(ctx, cmd); err != nil {
				return fmt.Errorf("failed to truecase: %w", err)
			}
		}
		return corpus.Link(truecased, final)
	})
}

// --- recasing ---

// Recaser trains a monolingual recasing model on the cased target side and
// lowercases both sides of every corpus.
type Recaser struct {
	env              Env
	threads          int
	tempDir          string
	keepUncompressed bool
}

func (r *Recaser) Name() config.CasingStrategy { return config.CasingRecasing }

func (r *Recaser) Prepare(ctx context.Context, basenames []string) error {
	l := r.env.Layout
	if err := os.MkdirAll(l.RecasingDir(), 0755); err != nil {
		return fmt.Errorf("failed to create recasing directory: %w", err)
	}

	train := pair(l, layout.BasenameTrain, layout.SuffixCleaned)
	err := r.env.Runner.Run(ctx, commander.Command{
		Name: r.env.Tools.Moses("scripts/recaser/train-recaser.perl"),
		Args: []string{
			"--dir", l.RecasingDir(),
			"--corpus", train.Target(),
			"--train-script", r.env.Tools.Moses("scripts/training/train-model.perl"),
			"--lm", "KENLM",
			"--build-lm", r.env.Tools.Moses("bin/lmplz"),
			"--cores", fmt.Sprint(r.threads),
		},
		Env:         []string{"TMPDIR=" + r.tempDir},
		Description: "Training recaser",
	})
	if err != nil {
		return fmt.Errorf("failed to train recaser: %w", err)
	}

	if !r.keepUncompressed {
		if err := r.compress(ctx); err != nil {
			return err
		}
	}

	return forEachCorpus(l, basenames, func(base string, cleaned, final corpus.Pair) error {
		lowercased := pair(l, base, layout.SuffixLowercased)
		stats, err := corpus.Process(cleaned, lowercased, corpus.MapEach(
			func(s string) string { return postprocess.Lowercase(s, l.SrcLang) },
			func(s string) string { return postprocess.Lowercase(s, l.TrgLang) },
		))
		if err != nil {
			return fmt.Errorf("failed to lowercase: %w", err)
		}
		r.env.Logger.Debugw("lowercased corpus", "corpus", base, "segments", stats.Written)
		return corpus.Link(lowercased, final)
	})
}

// compress replaces the recaser's phrase table with a compact one.
func (r *Recaser) compress(ctx context.Context) error {
	l := r.env.Layout
	table := filepath.Join(l.RecasingDir(), "phrase-table.gz")
	compact := filepath.Join(l.RecasingDir(), "phrase-table")
	err := r.env.Runner.Run(ctx, commander.Command{
		Name: r.env.Tools.Moses("bin/processPhraseTableMin"),
		Args: []string{
			"-in", table,
			"-out", compact,
			"-nscores", "4",
			"-threads", fmt.Sprint(r.threads),
		},
		Description: "Compressing recasing phrase table",
	})
	if err != nil {
		return fmt.Errorf("failed to compress recasing model: %w", err)
	}
	ini := l.RecasingMosesIni()
	if err := mosesini.RewriteFile(ini, ini, mosesini.Compact(compact+".minphr", "")); err != nil {
		return err
	}
	if err := os.Remove(table); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// --- runtime commands ---

// TruecaseCommand applies the truecasing model of lang line by line.
func TruecaseCommand(tools config.Toolchain, l layout.Layout, lang string) commander.Command {
	return commander.Command{
		Name: tools.Moses("scripts/recaser/truecase.perl"),
		Args: []string{"--model", l.TruecaseModel(lang), "-b"},
	}
}

// DetruecaseCommand uppercases sentence-initial words of truecased output.
func DetruecaseCommand(tools config.Toolchain) commander.Command {
	return commander.Command{
		Name: tools.Moses("scripts/recaser/detruecase.perl"),
		Args: []string{"-b"},
	}
}

// RecaseCommand runs the recasing model as a monotone decoder.
func RecaseCommand(tools config.Toolchain, l layout.Layout) commander.Command {
	return commander.Command{
		Name: tools.Moses("bin/moses"),
		Args: []string{"-f", l.RecasingMosesIni(), "-dl", "1", "-v", "0"},
	}
}
