package translator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valpere/mtrain/internal/backend"
	"github.com/valpere/mtrain/internal/casing"
	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/corpus"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/masking"
	"github.com/valpere/mtrain/internal/postprocess"
)

// NematusEngine translates whole inputs at once. Every call runs the
// preprocessing tools, the decoder and the postprocessing tools over files
// in a scratch directory.
type NematusEngine struct {
	layout layout.Layout
	info   config.EngineInfo
	deps   Deps
	opts   Options
}

func newNematusEngine(l layout.Layout, info config.EngineInfo, deps Deps, opts Options) *NematusEngine {
	return &NematusEngine{layout: l, info: info, deps: deps, opts: opts}
}

func (e *NematusEngine) Name() config.Backend { return config.BackendNeural }
func (e *NematusEngine) Batch() bool          { return true }
func (e *NematusEngine) Close() error         { return nil }

func (e *NematusEngine) Translate(ctx context.Context, segment string) (string, error) {
	out, err := e.TranslateAll(ctx, []string{segment})
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// TranslateAll translates segments with a single decoder run. Blank
// segments are not sent to the decoder and are returned unchanged.
func (e *NematusEngine) TranslateAll(ctx context.Context, segments []string) ([]string, error) {
	results := make([]string, len(segments))
	var input []string
	var positions []int
	for i, s := range segments {
		if strings.TrimSpace(s) == "" {
			results[i] = s
			continue
		}
		input = append(input, s)
		positions = append(positions, i)
	}
	if len(input) == 0 {
		return results, nil
	}

	dir, err := os.MkdirTemp(e.opts.TempDir, "mtrain-nematus-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	if e.opts.KeepTemp {
		e.deps.Logger.Infow("keeping scratch directory", "dir", dir)
	} else {
		defer os.RemoveAll(dir)
	}

	start := time.Now()
	output, err := e.translateFiles(ctx, dir, input)
	if err != nil {
		return nil, err
	}
	if len(output) != len(input) {
		return nil, fmt.Errorf("decoder returned %d lines for %d segments", len(output), len(input))
	}
	for i, t := range output {
		results[positions[i]] = postprocess.RestoreFirstLetter(input[i], t, e.opts.Lowercase)
	}
	e.deps.Logger.Debugw("translated batch", "segments", len(input), "duration", time.Since(start))
	return results, nil
}

func (e *NematusEngine) translateFiles(ctx context.Context, dir string, input []string) ([]string, error) {
	src, trg := e.info.SrcLang, e.info.TrgLang
	step := 0
	current := filepath.Join(dir, "input")
	next := func(name string) string {
		step++
		return filepath.Join(dir, fmt.Sprintf("%02d.%s", step, name))
	}
	if err := corpus.WriteLines(current, input); err != nil {
		return nil, err
	}

	run := func(name string, cmd commander.Command) error {
		cmd.Stdin = current
		cmd.Stdout = next(name)
		if err := e.deps.Runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		current = cmd.Stdout
		return nil
	}
	transform := func(name string, fn func(string) string) error {
		out := next(name)
		if err := corpus.MapLines(current, out, fn); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		current = out
		return nil
	}

	// Masking follows the model as trained. Nematus reports no alignment,
	// so only identity masks can be restored.
	strategy := config.EffectiveMasking(e.info.Masking, e.info.XML)
	var masker *masking.Masker
	var protected string
	if strategy != config.MaskingNone {
		masker = masking.New(strategy, true)
		protected = filepath.Join(e.layout.MaskingDir(string(strategy)), layout.ProtectedPatternsName)
	}
	masked := make([]string, 0, len(input))
	mappings := make([][]masking.Replacement, 0, len(input))

	steps := []func() error{
		func() error {
			if e.info.XML != config.XMLStrip {
				return nil
			}
			return transform("strip", postprocess.StripMarkup)
		},
		func() error { return run("tokenize", backend.TokenizeCommand(e.deps.Tools, src, 1, protected)) },
		func() error {
			if masker == nil {
				return transform("escape", postprocess.Escape)
			}
			return transform("mask", func(s string) string {
				s, mapping := masker.Mask(s)
				masked = append(masked, s)
				mappings = append(mappings, mapping)
				return s
			})
		},
		func() error {
			switch e.info.Casing {
			case config.CasingTruecasing:
				return run("truecase", casing.TruecaseCommand(e.deps.Tools, e.layout, src))
			case config.CasingRecasing:
				return transform("lowercase", func(s string) string { return postprocess.Lowercase(s, src) })
			}
			return nil
		},
		func() error { return run("bpe", backend.ApplyBPECommand(e.deps.Tools, e.layout, src)) },
		func() error {
			return run("translate", backend.NematusTranslateCommand(e.deps.Tools, e.layout, e.opts.Device))
		},
		func() error {
			return transform("decode", func(s string) string { return postprocess.Deescape(postprocess.DecodeBPE(s)) })
		},
		func() error {
			if masker == nil {
				return nil
			}
			line := 0
			return transform("unmask", func(s string) string {
				defer func() { line++ }()
				if line >= len(mappings) {
					return s
				}
				s = masker.Unmask(masked[line], s, mappings[line], nil)
				if masking.ContainsMask(s) {
					e.deps.Logger.Debugw("mask tokens left in translation", "line", line+1, "translation", s)
				}
				return s
			})
		},
		func() error {
			switch {
			case e.opts.Lowercase:
				return transform("lowercase", func(s string) string { return postprocess.Lowercase(s, trg) })
			case e.info.Casing == config.CasingTruecasing:
				return run("detruecase", casing.DetruecaseCommand(e.deps.Tools))
			case e.info.Casing == config.CasingRecasing:
				return run("recase", casing.RecaseCommand(e.deps.Tools, e.layout))
			}
			return nil
		},
		func() error {
			if e.opts.Tokenized {
				return nil
			}
			return run("detokenize", backend.DetokenizeCommand(e.deps.Tools, trg))
		},
	}
	for _, s := range steps {
		if err := s(); err != nil {
			return nil, err
		}
	}
	return corpus.ReadLines(current)
}
