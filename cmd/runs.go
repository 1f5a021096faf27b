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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/store"
)

var runsModelDir string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the training runs of a model directory",
	Long:  `List training runs recorded in the journal of a model directory, or show the stages and scores of one run.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openJournal()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tBACKEND\tLANGS\tCASING\tDRY RUN\tSTATUS\tSTARTED\tDURATION")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s-%s\t%s\t%v\t%s\t%s\t%s\n",
				r.ID, r.Backend, r.SrcLang, r.TrgLang, r.Casing, r.DryRun, r.Status,
				r.StartedAt.Format("2006-01-02 15:04"), duration(r.StartedAt, r.FinishedAt))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show stages and scores of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openJournal()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s: %s %s-%s, %s\n", run.ID, run.Backend, run.SrcLang, run.TrgLang, run.Status)
		if run.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", run.Error)
		}

		stages, err := db.Stages(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nSTAGE\tSTATUS\tDURATION\tERROR")
		for _, s := range stages {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Status, duration(s.StartedAt, s.FinishedAt), s.Error)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		scores, err := db.Scores(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		if len(scores) == 0 {
			return nil
		}
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nVARIANT\tMETRIC\tSCORE")
		for _, s := range scores {
			fmt.Fprintf(w, "%s\t%s\t%.2f\n", s.Variant, s.Metric, s.Value)
		}
		return w.Flush()
	},
}

func openJournal() (*store.Store, error) {
	path := layout.New(runsModelDir, "", "").Journal()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no run journal in %s", runsModelDir)
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run journal: %w", err)
	}
	return db, nil
}

func duration(start, finish time.Time) string {
	if finish.IsZero() {
		return "-"
	}
	return finish.Sub(start).Round(time.Second).String()
}

func init() {
	runsCmd.PersistentFlags().StringVarP(&runsModelDir, "model", "m", "", "Model directory (required)")
	runsCmd.MarkPersistentFlagRequired("model")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
