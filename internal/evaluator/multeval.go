package evaluator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/valpere/mtrain/internal/backend"
	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/corpus"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/postprocess"
	"github.com/valpere/mtrain/internal/translator"
)

// meteorLanguages are the target languages METEOR 1.4 has resources for.
var meteorLanguages = map[string]bool{
	"en": true, "ar": true, "cz": true, "fr": true, "de": true, "es": true,
	"da": true, "fi": true, "hu": true, "it": true, "nl": true, "no": true,
	"pt": true, "ro": true, "ru": true, "se": true, "tr": true,
}

var (
	reMetricHeader = regexp.MustCompile(`([A-Za-z]+) \(s_sel/s_opt/p\)`)
	reMetricValue  = regexp.MustCompile(`(-?[0-9]+(?:\.[0-9]+)?|NaN) \(`)
)

// Variant is one way of processing hypothesis and reference before scoring.
type Variant struct {
	Lowercase   bool
	Detokenize  bool
	StripMarkup bool
}

// Name joins the processing options, e.g. "cased.detokenized".
func (v Variant) Name() string {
	parts := []string{"cased", "tokenized"}
	if v.Lowercase {
		parts[0] = "lowercased"
	}
	if v.Detokenize {
		parts[1] = "detokenized"
	}
	if v.StripMarkup {
		parts = append(parts, "without_markup")
	}
	return strings.Join(parts, ".")
}

// Variants returns the processing variants to score.
func Variants(lowercase, extended, stripMarkup bool) []Variant {
	if !extended {
		return []Variant{{Lowercase: lowercase, Detokenize: true, StripMarkup: stripMarkup}}
	}
	var vs []Variant
	for _, lc := range []bool{true, false} {
		for _, detok := range []bool{true, false} {
			vs = append(vs, Variant{Lowercase: lc, Detokenize: detok, StripMarkup: stripMarkup})
		}
	}
	return vs
}

// MultEval translates the test corpus once and scores it with multeval.sh
// for every processing variant.
type MultEval struct {
	opts Options
}

func (m *MultEval) Evaluate(ctx context.Context, basepath string) ([]Score, error) {
	info, err := config.LoadEngineInfo(m.opts.FS, layout.New(basepath, "", "").Snapshot())
	if err != nil {
		return nil, err
	}
	l := layout.New(basepath, info.SrcLang, info.TrgLang)
	test := corpus.NewPair(l.Corpus(layout.BasenameTest), info.SrcLang, info.TrgLang)
	if _, err := test.Count(); err != nil {
		return nil, fmt.Errorf("evaluation corpus: %w", err)
	}
	dir := l.MultEvalDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	hypTokenized := filepath.Join(dir, "hypothesis.raw."+info.TrgLang)
	if err := m.translate(ctx, basepath, test.Source(), hypTokenized); err != nil {
		return nil, err
	}

	// Hypotheses come out tokenized; references come in raw. Produce the
	// other form of each once and pick per variant.
	hypDetokenized := filepath.Join(dir, "hypothesis.raw.detokenized."+info.TrgLang)
	refTokenized := filepath.Join(dir, "reference.raw.tokenized."+info.TrgLang)
	detok := backend.DetokenizeCommand(m.opts.Tools, info.TrgLang)
	detok.Stdin, detok.Stdout = hypTokenized, hypDetokenized
	tok := backend.TokenizeCommand(m.opts.Tools, info.TrgLang, m.opts.Threads, "")
	tok.Stdin, tok.Stdout = test.Target(), refTokenized
	for _, cmd := range []commander.Command{detok, tok} {
		if err := m.opts.Runner.Run(ctx, cmd); err != nil {
			return nil, err
		}
	}

	var scores []Score
	for _, v := range Variants(m.opts.Lowercase, m.opts.Extended, info.XML != config.XMLNone) {
		hyp, ref := hypTokenized, refTokenized
		if v.Detokenize {
			hyp, ref = hypDetokenized, test.Target()
		}
		s, err := m.score(ctx, dir, info.TrgLang, v, hyp, ref)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name(), err)
		}
		for _, sc := range s {
			m.opts.Logger.Infow("evaluation score", "variant", sc.Variant, "metric", sc.Metric, "value", sc.Value)
		}
		scores = append(scores, s...)
	}
	return scores, nil
}

func (m *MultEval) translate(ctx context.Context, basepath, source, hypothesis string) error {
	segments, err := corpus.ReadLines(source)
	if err != nil {
		return err
	}
	engine, err := translator.Open(ctx, basepath, translator.Deps{
		Runner: m.opts.Runner,
		Tools:  m.opts.Tools,
		Logger: m.opts.Logger,
		FS:     m.opts.FS,
	}, translator.Options{Tokenized: true, TempDir: m.opts.TempDir})
	if err != nil {
		return err
	}
	defer engine.Close()

	m.opts.Logger.Infow("translating evaluation corpus", "segments", len(segments))
	start := time.Now()
	translations, err := engine.TranslateAll(ctx, segments)
	if err != nil {
		return fmt.Errorf("failed to translate evaluation corpus: %w", err)
	}
	m.opts.Logger.Debugw("evaluation corpus translated", "duration", time.Since(start))
	return corpus.WriteLines(hypothesis, translations)
}

func (m *MultEval) score(ctx context.Context, dir, trgLang string, v Variant, hypIn, refIn string) ([]Score, error) {
	process := func(s string) string {
		if v.StripMarkup {
			s = postprocess.StripMarkup(s)
		}
		if v.Lowercase {
			s = postprocess.Lowercase(s, trgLang)
		}
		return strings.TrimSpace(s)
	}
	name := v.Name()
	hyp := filepath.Join(dir, fmt.Sprintf("hypothesis.%s.%s", name, trgLang))
	ref := filepath.Join(dir, fmt.Sprintf("reference.%s.%s", name, trgLang))
	if err := corpus.MapLines(hypIn, hyp, process); err != nil {
		return nil, err
	}
	if err := corpus.MapLines(refIn, ref, process); err != nil {
		return nil, err
	}

	out := filepath.Join(dir, fmt.Sprintf("hypothesis.%s.%s", name, ToolMultEval))
	cmd := MultEvalCommand(m.opts.Tools, m.opts.Threads, trgLang, ref, hyp)
	cmd.Stdout = out
	if !meteorLanguages[trgLang] {
		m.opts.Logger.Warnw("target language not supported by METEOR, scoring without it", "lang", trgLang)
	}
	if err := m.opts.Runner.Run(ctx, cmd); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, err
	}
	return ParseOutput(name, string(data))
}

// MultEvalCommand scores hypothesis against reference. METEOR is requested
// only for target languages it supports.
func MultEvalCommand(tools config.Toolchain, threads int, trgLang, reference, hypothesis string) commander.Command {
	args := []string{
		"eval",
		"--verbosity", "0",
		"--bleu.verbosity", "0",
		"--threads", strconv.Itoa(threads),
	}
	if meteorLanguages[trgLang] {
		args = append(args, "--meteor.language", trgLang)
	} else {
		args = append(args, "--metrics", "bleu,ter,length")
	}
	args = append(args, "--refs", reference, "--hyps-baseline", hypothesis)
	return commander.Command{Name: tools.MultEval(), Args: args}
}

// ParseOutput reads the baseline row of a multeval.sh result table.
func ParseOutput(variant, output string) ([]Score, error) {
	var metrics []string
	for _, line := range strings.Split(output, "\n") {
		if metrics == nil {
			for _, m := range reMetricHeader.FindAllStringSubmatch(line, -1) {
				metrics = append(metrics, strings.ToLower(m[1]))
			}
			continue
		}
		if !strings.HasPrefix(strings.TrimSpace(line), "baseline") {
			continue
		}
		values := reMetricValue.FindAllStringSubmatch(line, -1)
		if len(values) != len(metrics) {
			return nil, fmt.Errorf("multeval baseline has %d values for %d metrics", len(values), len(metrics))
		}
		scores := make([]Score, len(metrics))
		for i, name := range metrics {
			v, err := strconv.ParseFloat(values[i][1], 64)
			if err != nil {
				return nil, fmt.Errorf("multeval %s value: %w", name, err)
			}
			scores[i] = Score{Variant: variant, Metric: name, Value: v}
		}
		return scores, nil
	}
	return nil, fmt.Errorf("no baseline scores in multeval output")
}
