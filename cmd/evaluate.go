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
	"syscall"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/evaluator"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/store"
)

var (
	evalModelDir  string
	evalTool      string
	evalThreads   int
	evalLowercase bool
	evalExtended  bool
	evalSave      bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a trained engine on its test corpus",
	Long: `Translate corpus/test.<src> of a model directory and score the result
against corpus/test.<trg> with MultEval (BLEU, METEOR, TER, length).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := afero.NewOsFs()
		l := layout.New(evalModelDir, "", "")
		info, err := config.LoadEngineInfo(fs, l.Snapshot())
		if err != nil {
			return err
		}
		tools, err := config.LoadToolchain(viper.GetViper())
		if err != nil {
			return err
		}
		if err := config.CheckToolchain(tools, info.Backend, true); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := evaluator.New(evalTool, evaluator.Options{
			Runner:    commander.NewExecRunner(logger),
			Tools:     tools,
			Logger:    logger,
			FS:        fs,
			Threads:   evalThreads,
			Lowercase: evalLowercase,
			Extended:  evalExtended,
		})
		if err != nil {
			return err
		}
		scores, err := e.Evaluate(ctx, evalModelDir)
		if err != nil {
			return err
		}

		if evalSave {
			if err := saveScores(cmd, l.Journal(), scores); err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VARIANT\tMETRIC\tSCORE")
		for _, s := range scores {
			fmt.Fprintf(w, "%s\t%s\t%.2f\n", s.Variant, s.Metric, s.Value)
		}
		return w.Flush()
	},
}

// saveScores attaches scores to the last run recorded in the journal.
func saveScores(cmd *cobra.Command, journal string, scores []evaluator.Score) error {
	db, err := store.New(journal)
	if err != nil {
		return fmt.Errorf("failed to open run journal: %w", err)
	}
	defer db.Close()

	last, err := db.LastRun(cmd.Context())
	if err != nil {
		return err
	}
	if last == nil {
		return fmt.Errorf("no run recorded in %s", journal)
	}
	for _, s := range scores {
		if err := db.SaveScore(cmd.Context(), last.ID, store.Score{Variant: s.Variant, Metric: s.Metric, Value: s.Value}); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evalModelDir, "model", "m", "", "Model directory created by mtrain train (required)")
	evaluateCmd.Flags().StringVar(&evalTool, "tool", evaluator.ToolMultEval, "Evaluation tool")
	evaluateCmd.Flags().IntVar(&evalThreads, "threads", 1, "Threads for the evaluation tool")
	evaluateCmd.Flags().BoolVar(&evalLowercase, "lowercase", false, "Lowercase hypothesis and reference before scoring")
	evaluateCmd.Flags().BoolVar(&evalExtended, "extended", false, "Score every combination of lowercasing and detokenization")
	evaluateCmd.Flags().BoolVar(&evalSave, "save", false, "Record the scores with the last run of the model directory")

	evaluateCmd.MarkFlagRequired("model")
}
