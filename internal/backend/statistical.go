package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/corpus"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/mosesini"
)

// Statistical trains a phrase-based Moses engine: fast_align word
// alignment, a KenLM language model, phrase and reordering tables and,
// optionally, MERT tuning.
type Statistical struct {
	cfg *config.TrainingConfig
	env Env
}

func (s *Statistical) Name() config.Backend { return config.BackendStatistical }

func (s *Statistical) Train(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"word alignment", s.align},
		{"language model", s.languageModel},
		{"translation model", s.translationModel},
		{"table compression", s.compress},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func (s *Statistical) alignmentBase() string {
	return filepath.Join(s.env.Layout.WordAlignmentDir(), "aligned")
}

func (s *Statistical) align(ctx context.Context) error {
	l := s.env.Layout
	dir := l.WordAlignmentDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	joined := filepath.Join(dir, fmt.Sprintf("corpus.%s-%s", l.SrcLang, l.TrgLang))
	if err := writeFastAlignInput(finalPair(l, layout.BasenameTrain), joined); err != nil {
		return err
	}

	forward := filepath.Join(dir, "forward.align")
	reverse := filepath.Join(dir, "reverse.align")
	fastAlign := s.env.Tools.FastAlign("fast_align")
	for _, run := range []struct {
		out  string
		args []string
		desc string
	}{
		{forward, []string{"-i", joined, "-d", "-o", "-v"}, "Aligning words (forward)"},
		{reverse, []string{"-i", joined, "-d", "-o", "-v", "-r"}, "Aligning words (reverse)"},
	} {
		cmd := commander.Command{Name: fastAlign, Args: run.args, Stdout: run.out, Description: run.desc}
		if err := s.env.Runner.Run(ctx, cmd); err != nil {
			return err
		}
	}

	heuristic := s.cfg.Statistical.AlignmentHeuristic
	return s.env.Runner.Run(ctx, commander.Command{
		Name:        s.env.Tools.FastAlign("atools"),
		Args:        []string{"-i", forward, "-j", reverse, "-c", heuristic},
		Stdout:      s.alignmentBase() + "." + heuristic,
		Description: "Symmetrizing word alignment: " + heuristic,
	})
}

// writeFastAlignInput joins both sides of p into "source ||| target" lines.
func writeFastAlignInput(p corpus.Pair, path string) error {
	r, err := corpus.Open(p)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := newLineWriter(f)
	for r.Next() {
		seg := r.Segment()
		w.WriteLine(seg.Source + " ||| " + seg.Target)
	}
	if err := r.Err(); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Statistical) languageModel(ctx context.Context) error {
	l := s.env.Layout
	if err := os.MkdirAll(l.LanguageModelDir(), 0755); err != nil {
		return err
	}
	err := s.env.Runner.Run(ctx, commander.Command{
		Name: s.env.Tools.Moses("bin/lmplz"),
		Args: []string{
			"-o", fmt.Sprint(s.cfg.Statistical.NGramOrder),
			"-S", "30%",
			"-T", s.cfg.TempDir,
			"--discount_fallback",
		},
		Stdin:       finalPair(l, layout.BasenameTrain).Target(),
		Stdout:      l.LanguageModelARPA(),
		Description: fmt.Sprintf("Training %d-gram language model", s.cfg.Statistical.NGramOrder),
	})
	if err != nil {
		return err
	}
	err = s.env.Runner.Run(ctx, commander.Command{
		Name:        s.env.Tools.Moses("bin/build_binary"),
		Args:        []string{"-i", l.LanguageModelARPA(), l.LanguageModel()},
		Description: "Binarizing language model",
	})
	if err != nil {
		return err
	}
	if !s.cfg.KeepUncompressed {
		return removeIfExists(l.LanguageModelARPA())
	}
	return nil
}

func (s *Statistical) translationModel(ctx context.Context) error {
	l := s.env.Layout
	p := s.cfg.Statistical
	return s.env.Runner.Run(ctx, commander.Command{
		Name: s.env.Tools.Moses("scripts/training/train-model.perl"),
		Args: []string{
			"-root-dir", l.TranslationModelDir(),
			"-corpus", l.Corpus(layout.BasenameTrain, layout.SuffixFinal),
			"-f", l.SrcLang,
			"-e", l.TrgLang,
			"-alignment", p.AlignmentHeuristic,
			"-alignment-file", s.alignmentBase(),
			"-first-step", "4",
			"-last-step", "9",
			"-reordering", p.ReorderingModel,
			"-max-phrase-length", fmt.Sprint(p.MaxPhraseLength),
			"-lm", fmt.Sprintf("0:%d:%s:8", p.NGramOrder, l.LanguageModel()),
			"-cores", fmt.Sprint(s.cfg.Threads),
			"-temp-dir", s.cfg.TempDir,
		},
		Description: "Training translation model",
	})
}

func (s *Statistical) uncompressedTables() (phrase, reordering string) {
	dir := s.env.Layout.TranslationModelModelDir()
	return filepath.Join(dir, "phrase-table.gz"),
		filepath.Join(dir, fmt.Sprintf("reordering-table.wbe-%s.gz", s.cfg.Statistical.ReorderingModel))
}

func (s *Statistical) compress(ctx context.Context) error {
	l := s.env.Layout
	if err := os.MkdirAll(l.CompressedDir(), 0755); err != nil {
		return err
	}
	phrase, reordering := s.uncompressedTables()
	compactPhrase := filepath.Join(l.CompressedDir(), "phrase-table")
	compactReordering := filepath.Join(l.CompressedDir(), "reordering-table")
	threads := fmt.Sprint(s.cfg.Threads)

	cmds := []commander.Command{
		{
			Name:        s.env.Tools.Moses("bin/processPhraseTableMin"),
			Args:        []string{"-in", phrase, "-out", compactPhrase, "-nscores", "4", "-threads", threads},
			Description: "Compressing phrase table",
		},
		{
			Name:        s.env.Tools.Moses("bin/processLexicalTableMin"),
			Args:        []string{"-in", reordering, "-out", compactReordering, "-threads", threads},
			Description: "Compressing reordering table",
		},
	}
	for _, cmd := range cmds {
		if err := s.env.Runner.Run(ctx, cmd); err != nil {
			return err
		}
	}

	if err := mosesini.RewriteFile(l.BaseMosesIni(), l.CompressedIni(),
		mosesini.Compact(compactPhrase+".minphr", compactReordering)); err != nil {
		return err
	}
	if s.cfg.KeepUncompressed {
		return nil
	}
	for _, path := range []string{phrase, reordering} {
		if err := removeIfExists(path); err != nil {
			return err
		}
	}
	return nil
}

// Tune runs MERT on the tuning corpus starting from the compressed model.
func (s *Statistical) Tune(ctx context.Context) error {
	l := s.env.Layout
	tune := finalPair(l, layout.BasenameTune)
	if !tune.Exists() {
		return fmt.Errorf("tuning corpus %s not found", tune.Base)
	}
	if err := os.MkdirAll(l.TuningDir(), 0755); err != nil {
		return err
	}
	return s.env.Runner.Run(ctx, commander.Command{
		Name: s.env.Tools.Moses("scripts/training/mert-moses.pl"),
		Args: []string{
			tune.Source(),
			tune.Target(),
			s.env.Tools.Moses("bin/moses"),
			l.CompressedIni(),
			"--mertdir", s.env.Tools.Moses("bin"),
			"--working-dir", l.TuningDir(),
			"--decoder-flags", fmt.Sprintf("-threads %d", s.cfg.Threads),
			"--no-filter-phrase-table",
		},
		Description: "Tuning engine with MERT",
	})
}

// Finalize points engine/moses.ini at the tuned configuration, or at the
// untuned compressed one when no tuning took place.
func (s *Statistical) Finalize(_ context.Context) error {
	l := s.env.Layout
	target := l.TunedMosesIni()
	if _, err := os.Stat(target); err != nil {
		target = l.CompressedIni()
		s.env.Logger.Infow("no tuned configuration found, using untuned model", "config", target)
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("moses configuration not found: %w", err)
	}
	rel, err := filepath.Rel(l.EngineDir(), target)
	if err != nil {
		return err
	}
	if err := removeIfExists(l.FinalMosesIni()); err != nil {
		return err
	}
	return os.Symlink(rel, l.FinalMosesIni())
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
