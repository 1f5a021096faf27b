package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/valpere/mtrain/internal/backend"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/corpus"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/masking"
	"github.com/valpere/mtrain/internal/postprocess"
	"github.com/valpere/mtrain/internal/validator"
)

func (o *Orchestrator) pair(basename string, suffixes ...string) corpus.Pair {
	return corpus.NewPair(o.layout.Corpus(basename, suffixes...), o.cfg.SrcLang, o.cfg.TrgLang)
}

func (o *Orchestrator) preprocess(ctx context.Context) error {
	if err := o.layout.Create(); err != nil {
		return err
	}
	if err := config.SaveSnapshot(o.opts.FS, o.layout.Snapshot(), o.cfg); err != nil {
		return err
	}

	strategy := config.EffectiveMasking(o.cfg.Masking, o.cfg.XML)
	var protected string
	if strategy != config.MaskingNone {
		var err error
		if protected, err = o.writeProtectedPatterns(strategy); err != nil {
			return err
		}
	}

	if err := o.split(); err != nil {
		return err
	}
	if err := o.copyExternal(); err != nil {
		return err
	}

	basenames := []string{layout.BasenameTrain}
	switch {
	case o.cfg.Tuning.IsSample():
		basenames = append(basenames, layout.BasenameTune)
	case o.cfg.Tuning.IsExternal() && o.cfg.PreprocessExternal:
		basenames = append(basenames, layout.BasenameTune)
	case o.cfg.Tuning.IsExternal():
		// Used as is; only the casing stage still applies.
		if _, err := corpus.Process(o.pair(layout.BasenameTune), o.pair(layout.BasenameTune, layout.SuffixCleaned), nil); err != nil {
			return fmt.Errorf("tuning corpus: %w", err)
		}
	}

	for _, base := range basenames {
		if err := o.tokenize(ctx, base, protected); err != nil {
			return fmt.Errorf("%s corpus: %w", base, err)
		}
		if err := o.clean(base, strategy); err != nil {
			return fmt.Errorf("%s corpus: %w", base, err)
		}
	}
	return nil
}

func (o *Orchestrator) writeProtectedPatterns(strategy config.MaskingStrategy) (string, error) {
	dir := o.layout.MaskingDir(string(strategy))
	if err := o.opts.FS.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, layout.ProtectedPatternsName)
	f, err := o.opts.FS.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to write protected patterns: %w", err)
	}
	if err := masking.WritePatterns(f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write protected patterns: %w", err)
	}
	return path, f.Close()
}

func (o *Orchestrator) normalizer() corpus.Transform {
	t := corpus.MapEach(corpus.NormalizerFor(o.cfg.SrcLang), corpus.NormalizerFor(o.cfg.TrgLang))
	if o.cfg.XML == config.XMLStrip {
		t = corpus.Chain(t, corpus.MapSides(postprocess.StripMarkup))
	}
	return t
}

// split divides the raw corpus into training data and the sampled held-out
// corpora.
func (o *Orchestrator) split() error {
	raw := corpus.NewPair(o.cfg.Basepath, o.cfg.SrcLang, o.cfg.TrgLang)
	if info, err := os.Stat(raw.Source()); err == nil {
		o.logger.Infow("reading training corpus", "basepath", o.cfg.Basepath, "size", humanize.Bytes(uint64(info.Size())))
	}

	opts := corpus.SplitOptions{
		Seed:      o.cfg.SampleSeed,
		Normalize: o.normalizer(),
	}
	if o.cfg.Tuning.IsSample() {
		opts.TuneSize = o.cfg.Tuning.Size
	}
	if o.cfg.Evaluation.IsSample() {
		opts.TestSize = o.cfg.Evaluation.Size
	}
	if o.cfg.FilterLanguage {
		opts.Filter = corpus.Accept(validator.New(o.cfg.SrcLang, o.cfg.TrgLang).Accept)
	}

	stats, err := corpus.Split(raw, corpus.SplitTargets{
		Train: o.pair(layout.BasenameTrain),
		Tune:  o.pair(layout.BasenameTune),
		Test:  o.pair(layout.BasenameTest),
	}, opts)
	if err != nil {
		return err
	}
	o.logger.Infow("corpus split",
		"total", humanize.Comma(int64(stats.Total)),
		"train", humanize.Comma(int64(stats.Train)),
		"tune", humanize.Comma(int64(stats.Tune)),
		"test", humanize.Comma(int64(stats.Test)),
		"language_filtered", humanize.Comma(int64(stats.Dropped)),
	)
	return nil
}

// copyExternal brings external held-out corpora into the model directory.
func (o *Orchestrator) copyExternal() error {
	external := []struct {
		spec config.CorpusSpec
		base string
	}{
		{o.cfg.Tuning, layout.BasenameTune},
		{o.cfg.Evaluation, layout.BasenameTest},
	}
	for _, e := range external {
		if !e.spec.IsExternal() {
			continue
		}
		in := corpus.NewPair(e.spec.Path, o.cfg.SrcLang, o.cfg.TrgLang)
		stats, err := corpus.Process(in, o.pair(e.base), o.normalizer())
		if err != nil {
			return fmt.Errorf("external %s corpus: %w", e.base, err)
		}
		o.logger.Infow("external corpus copied", "corpus", e.base, "path", e.spec.Path, "segments", humanize.Comma(int64(stats.Written)))
	}
	return nil
}

func (o *Orchestrator) tokenize(ctx context.Context, base, protected string) error {
	in := o.pair(base)
	out := o.pair(base, layout.SuffixTokenized)
	for _, side := range []struct{ in, out, lang string }{
		{in.Source(), out.Source(), o.cfg.SrcLang},
		{in.Target(), out.Target(), o.cfg.TrgLang},
	} {
		cmd := backend.TokenizeCommand(o.opts.Tools, side.lang, o.cfg.Threads, protected)
		cmd.Stdin, cmd.Stdout = side.in, side.out
		cmd.Description = "tokenizing " + filepath.Base(side.in)
		if err := o.opts.Runner.Run(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// clean masks or escapes the tokenized corpus and, for training data,
// enforces the token bounds.
func (o *Orchestrator) clean(base string, strategy config.MaskingStrategy) error {
	var escape corpus.Transform
	if strategy != config.MaskingNone {
		m := masking.New(strategy, true)
		escape = corpus.MapSides(func(s string) string {
			masked, _ := m.Mask(s)
			return masked
		})
	} else {
		escape = corpus.MapSides(postprocess.Escape)
	}
	t := escape
	if base == layout.BasenameTrain {
		t = corpus.Chain(escape, corpus.TokenBounds(o.cfg.MinTokens, o.cfg.MaxTokens))
	}

	stats, err := corpus.Process(o.pair(base, layout.SuffixTokenized), o.pair(base, layout.SuffixCleaned), t)
	if err != nil {
		return err
	}
	o.logger.Infow("corpus cleaned",
		"corpus", base,
		"kept", humanize.Comma(int64(stats.Written)),
		"dropped", humanize.Comma(int64(stats.Dropped())),
	)
	if stats.Written == 0 {
		return fmt.Errorf("no segments left after cleaning")
	}
	return nil
}
