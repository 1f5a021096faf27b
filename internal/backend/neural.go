package backend

import (
	"context"
	"fmt"
	"os"
	"text/template"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/layout"
)

// Neural trains a Nematus encoder-decoder on byte-pair encoded corpora.
// Validation runs inside training, so there is no separate tuning step.
type Neural struct {
	cfg *config.TrainingConfig
	env Env
}

func (n *Neural) Name() config.Backend { return config.BackendNeural }

func (n *Neural) Train(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"learn bpe", n.learnBPE},
		{"apply bpe", n.applyBPE},
		{"build dictionaries", n.buildDictionaries},
		{"validation script", n.writeValidateScript},
		{"train model", n.trainModel},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func (n *Neural) learnBPE(ctx context.Context) error {
	l := n.env.Layout
	if err := os.MkdirAll(l.BPEDir(), 0755); err != nil {
		return err
	}
	train := finalPair(l, layout.BasenameTrain)
	return n.env.Runner.Run(ctx, commander.Command{
		Name: n.env.Tools.Python,
		Args: []string{
			n.env.Tools.Subword("subword_nmt/learn_joint_bpe_and_vocab.py"),
			"--input", train.Source(), train.Target(),
			"--write-vocabulary", l.BPEVocab(l.SrcLang), l.BPEVocab(l.TrgLang),
			"--symbols", fmt.Sprint(n.cfg.Neural.BPEOperations),
			"--output", l.BPEModel(),
		},
		Description: fmt.Sprintf("Learning joint BPE model: %d operations", n.cfg.Neural.BPEOperations),
	})
}

func (n *Neural) applyBPE(ctx context.Context) error {
	l := n.env.Layout
	for _, base := range []string{layout.BasenameTrain, layout.BasenameTune} {
		in := finalPair(l, base)
		if !in.Exists() {
			continue
		}
		out := finalPair(l, base, layout.SuffixBPE)
		for _, side := range [][3]string{
			{l.SrcLang, in.Source(), out.Source()},
			{l.TrgLang, in.Target(), out.Target()},
		} {
			cmd := ApplyBPECommand(n.env.Tools, l, side[0])
			cmd.Stdin, cmd.Stdout = side[1], side[2]
			cmd.Description = fmt.Sprintf("Applying BPE model to %s.%s", base, side[0])
			if err := n.env.Runner.Run(ctx, cmd); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *Neural) buildDictionaries(ctx context.Context) error {
	train := finalPair(n.env.Layout, layout.BasenameTrain, layout.SuffixBPE)
	return n.env.Runner.Run(ctx, commander.Command{
		Name: n.env.Tools.Python,
		Args: []string{
			n.env.Tools.Nematus("data/build_dictionary.py"),
			train.Source(),
			train.Target(),
		},
		Description: "Building network dictionaries from BPE corpus",
	})
}

var validateScript = template.Must(template.New("validate").Parse(`#!/bin/sh
# Scores the model checkpoint given as $1 on the tuning corpus.
set -e
export THEANO_FLAGS=mode=FAST_RUN,floatX=float32,device={{.Device}},gpuarray.preallocate={{.Preallocate}}
{{.Python}} {{.Translate}} -m "$1" -k 12 -n -p 1 < {{.Source}} > "$1.dev.output"
sed 's/@@ //g' < "$1.dev.output" > "$1.dev.output.postprocessed"
{{.BLEU}} {{.Reference}} < "$1.dev.output.postprocessed" | cut -f 3 -d ' ' | cut -f 1 -d ','
`))

func (n *Neural) writeValidateScript(_ context.Context) error {
	if n.cfg.Neural.ExternalValidation != "" {
		return nil
	}
	l := n.env.Layout
	tune := finalPair(l, layout.BasenameTune, layout.SuffixBPE)
	if !tune.Exists() {
		return nil
	}
	if err := os.MkdirAll(l.NeuralModelDir(), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.NeuralValidateScript(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	err = validateScript.Execute(f, map[string]string{
		"Device":      n.cfg.Neural.DeviceValidate,
		"Preallocate": n.cfg.Neural.PreallocateValidate,
		"Python":      n.env.Tools.Python,
		"Translate":   n.env.Tools.Nematus("nematus/translate.py"),
		"Source":      tune.Source(),
		"Reference":   finalPair(l, layout.BasenameTune).Target(),
		"BLEU":        n.env.Tools.Moses("scripts/generic/multi-bleu.perl"),
	})
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// validationScript returns the script passed to Nematus, or "" when there
// is no tuning corpus to validate on.
func (n *Neural) validationScript() string {
	if n.cfg.Neural.ExternalValidation != "" {
		return n.cfg.Neural.ExternalValidation
	}
	if _, err := os.Stat(n.env.Layout.NeuralValidateScript()); err != nil {
		return ""
	}
	return n.env.Layout.NeuralValidateScript()
}

func (n *Neural) trainModel(ctx context.Context) error {
	l := n.env.Layout
	p := n.cfg.Neural
	if err := os.MkdirAll(l.NeuralModelDir(), 0755); err != nil {
		return err
	}
	train := finalPair(l, layout.BasenameTrain, layout.SuffixBPE)
	args := []string{
		n.env.Tools.Nematus("nematus/train.py"),
		"--model", l.NeuralModel(),
		"--source_dataset", train.Source(),
		"--target_dataset", train.Target(),
		"--dictionaries", train.Source() + ".json", train.Target() + ".json",
		"--dim_word", fmt.Sprint(p.EmbeddingSize),
		"--dim", fmt.Sprint(p.HiddenSize),
		"--max_epochs", fmt.Sprint(p.MaxEpochs),
		"--finish_after", fmt.Sprint(p.MaxUpdates),
		"--saveFreq", fmt.Sprint(p.SaveFreq),
		"--reload",
	}
	tune := finalPair(l, layout.BasenameTune, layout.SuffixBPE)
	if tune.Exists() {
		args = append(args,
			"--valid_source_dataset", tune.Source(),
			"--valid_target_dataset", tune.Target(),
			"--validFreq", fmt.Sprint(p.ValidationFreq),
		)
		if script := n.validationScript(); script != "" {
			args = append(args, "--external_validation_script", script)
		}
	}
	return n.env.Runner.Run(ctx, commander.Command{
		Name: n.env.Tools.Python,
		Args: args,
		Env: []string{
			theanoFlags(p.DeviceTrain, p.PreallocateTrain),
			fmt.Sprintf("OMP_NUM_THREADS=%d", n.cfg.Threads),
		},
		Description: "Training neural model",
	})
}

func (n *Neural) Tune(_ context.Context) error {
	return ErrTuningNotSupported
}

// Finalize checks that training produced a model.
func (n *Neural) Finalize(_ context.Context) error {
	if _, err := os.Stat(n.env.Layout.NeuralModel()); err != nil {
		return fmt.Errorf("neural model not found: %w", err)
	}
	return nil
}

