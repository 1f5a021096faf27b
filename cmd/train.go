/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/pipeline"
	"github.com/valpere/mtrain/internal/store"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a translation engine from a parallel corpus",
	Long: `Train a translation engine from the parallel corpus <basepath>.<src> and
<basepath>.<trg> into an output directory.

Held-out corpora (--tune, --eval) are either a number of segments sampled
from the training corpus or the basepath of an external corpus.

Examples:
  mtrain train -b data/europarl -o models/en-de -s en -t de --tune 2000 --eval 1000
  mtrain train -b data/europarl -o models/en-de-nmt -s en -t de --backend nematus`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	d := config.Default()
	f := trainCmd.Flags()
	f.StringP("basepath", "b", "", "Basepath of the training corpus (required)")
	f.StringP("output", "o", "", "Model directory to create (required)")
	f.StringP("src", "s", "", "Source language code (required)")
	f.StringP("trg", "t", "", "Target language code (required)")
	f.String("backend", string(d.Backend), "Backend: moses or nematus")
	f.String("casing", string(d.Casing), "Casing strategy: none, truecasing or recasing")
	f.String("tune", "", "Tuning corpus: sample size or basepath")
	f.String("eval", "", "Evaluation corpus: sample size or basepath")
	f.String("xml-input", "", "Markup handling: pass-through, strip or mask")
	f.String("masking", "", "Masking strategy: identity or alignment")
	f.Bool("preprocess-external", false, "Preprocess an external tuning corpus like the training corpus")
	f.Bool("eval-lowercase", false, "Lowercase hypothesis and reference before scoring")
	f.Bool("extended-eval", false, "Score every combination of lowercasing and detokenization")
	f.Int("min-tokens", d.MinTokens, "Minimum tokens per training segment")
	f.Int("max-tokens", d.MaxTokens, "Maximum tokens per training segment")
	f.Bool("filter-language", false, "Drop training segments not written in the expected languages")
	f.Int("threads", d.Threads, "Threads for external tools")
	f.String("temp-dir", d.TempDir, "Directory for temporary files")
	f.Bool("keep-uncompressed", false, "Keep uncompressed model tables")
	f.Bool("dry-run", false, "Stop after preprocessing and casing")
	f.Int64("seed", d.SampleSeed, "Random seed for held-out sampling")
	f.Bool("force", false, "Retrain into a directory that already holds a trained engine")

	f.Int("ngram-order", d.Statistical.NGramOrder, "Language model n-gram order")
	f.String("alignment-heuristic", d.Statistical.AlignmentHeuristic, "Word alignment symmetrization heuristic")
	f.String("reordering-model", d.Statistical.ReorderingModel, "Lexicalized reordering model")
	f.Int("max-phrase-length", d.Statistical.MaxPhraseLength, "Maximum phrase length")

	f.Int("bpe-ops", d.Neural.BPEOperations, "Number of BPE merge operations")
	f.String("device-train", d.Neural.DeviceTrain, "Training device")
	f.String("preallocate-train", d.Neural.PreallocateTrain, "GPU memory preallocated for training")
	f.String("device-validate", d.Neural.DeviceValidate, "Validation device")
	f.String("preallocate-validate", d.Neural.PreallocateValidate, "GPU memory preallocated for validation")
	f.Int("validation-freq", d.Neural.ValidationFreq, "Validate every N updates")
	f.Int("save-freq", d.Neural.SaveFreq, "Save the model every N updates")
	f.String("external-validation-script", "", "Use this validation script instead of the generated one")
	f.Int("max-epochs", d.Neural.MaxEpochs, "Maximum training epochs")
	f.Int("max-updates", d.Neural.MaxUpdates, "Maximum training updates")
	f.Int("hidden-size", d.Neural.HiddenSize, "Hidden layer size")
	f.Int("embedding-size", d.Neural.EmbeddingSize, "Word embedding size")

	bindFlags(f, map[string]string{
		"basepath":                   "basepath",
		"output":                     "output_dir",
		"src":                        "src_lang",
		"trg":                        "trg_lang",
		"backend":                    "backend",
		"casing":                     "casing",
		"tune":                       "tune",
		"eval":                       "eval",
		"xml-input":                  "xml_strategy",
		"masking":                    "masking_strategy",
		"preprocess-external":        "preprocess_external",
		"eval-lowercase":             "eval_lowercase",
		"extended-eval":              "extended_eval",
		"min-tokens":                 "min_tokens",
		"max-tokens":                 "max_tokens",
		"filter-language":            "filter_language",
		"threads":                    "threads",
		"temp-dir":                   "temp_dir",
		"keep-uncompressed":          "keep_uncompressed",
		"dry-run":                    "dry_run",
		"seed":                       "sample_seed",
		"force":                      "force",
		"ngram-order":                "statistical.ngram_order",
		"alignment-heuristic":        "statistical.alignment_heuristic",
		"reordering-model":           "statistical.reordering_model",
		"max-phrase-length":          "statistical.max_phrase_length",
		"bpe-ops":                    "neural.bpe_operations",
		"device-train":               "neural.device_train",
		"preallocate-train":          "neural.preallocate_train",
		"device-validate":            "neural.device_validate",
		"preallocate-validate":       "neural.preallocate_validate",
		"validation-freq":            "neural.validation_freq",
		"save-freq":                  "neural.save_freq",
		"external-validation-script": "neural.external_validation_script",
		"max-epochs":                 "neural.max_epochs",
		"max-updates":                "neural.max_updates",
		"hidden-size":                "neural.hidden_size",
		"embedding-size":             "neural.embedding_size",
	})
}

// bindFlags makes every flag readable through viper under its config key,
// so that values can also come from the config file or MTRAIN_ variables.
func bindFlags(f *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

// trainingConfig assembles the TrainingConfig from flags, environment and
// config file.
func trainingConfig() (config.TrainingConfig, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode options: %w", err)
	}

	var err error
	if cfg.Backend, err = config.ParseBackend(viper.GetString("backend")); err != nil {
		return cfg, err
	}
	if cfg.Casing, err = config.ParseCasingStrategy(viper.GetString("casing")); err != nil {
		return cfg, err
	}
	if cfg.XML, err = config.ParseXMLStrategy(viper.GetString("xml_strategy")); err != nil {
		return cfg, err
	}
	if cfg.Masking, err = config.ParseMaskingStrategy(viper.GetString("masking_strategy")); err != nil {
		return cfg, err
	}
	if cfg.Tuning, err = config.ParseCorpusSpec(viper.GetString("tune")); err != nil {
		return cfg, err
	}
	if cfg.Evaluation, err = config.ParseCorpusSpec(viper.GetString("eval")); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := trainingConfig()
	if err != nil {
		return err
	}
	tools, err := config.LoadToolchain(viper.GetViper())
	if err != nil {
		return err
	}
	if err := config.CheckToolchain(tools, cfg.Backend, !cfg.Evaluation.IsZero()); err != nil {
		return err
	}

	l := layout.New(cfg.OutputDir, cfg.SrcLang, cfg.TrgLang)
	if err := os.MkdirAll(l.LogsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	db, err := store.New(l.Journal())
	if err != nil {
		return fmt.Errorf("failed to open run journal: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	last, err := db.LastRun(ctx)
	if err != nil {
		return err
	}
	if last != nil && last.Status == store.StatusCompleted && !last.DryRun && !viper.GetBool("force") {
		return fmt.Errorf("%w: %s already holds an engine trained by run %s, use --force to retrain",
			config.ErrInvalidArgument, cfg.OutputDir, last.ID)
	}

	runID, err := db.CreateRun(ctx, store.Run{
		Backend: string(cfg.Backend),
		SrcLang: cfg.SrcLang,
		TrgLang: cfg.TrgLang,
		Casing:  string(cfg.Casing),
		DryRun:  cfg.DryRun,
	})
	if err != nil {
		return err
	}

	runLogger, err := newLogger(viper.GetString("log_level"), filepath.Join(l.LogsDir(), "train-"+runID+".log"))
	if err != nil {
		return err
	}
	defer runLogger.Sync()
	runLogger = runLogger.With("run", runID)

	o, err := pipeline.New(pipeline.Options{
		Config:  cfg,
		Tools:   tools,
		Runner:  commander.NewExecRunner(runLogger),
		Logger:  runLogger,
		Journal: db,
		RunID:   runID,
	})
	if err != nil {
		_ = db.FailStage(ctx, runID, string(pipeline.StageInit), err)
		return err
	}
	if err := o.Run(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Engine trained in %s (run %s)\n", cfg.OutputDir, runID)
	return nil
}
