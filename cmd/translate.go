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
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/translator"
)

var (
	modelDir   string
	inputFile  string
	outputFile string

	lowercaseOutput bool
	tokenizedOutput bool
	keepTemp        bool
	translateTemp   string
	device          string

	xmlInput      string
	reinsertion   string
	forceReinsert bool
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate text with a trained engine",
	Long: `Translate text line by line with an engine trained by "mtrain train".

Input is read from stdin and written to stdout unless --input or --output
is given. Every input line yields exactly one output line; blank lines are
written back unchanged.

With --xml-input strip-reinsert, markup is removed before decoding and put
back into the translation (statistical engines only).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := translateOptions()
		if err != nil {
			return err
		}

		fs := afero.NewOsFs()
		info, err := config.LoadEngineInfo(fs, layout.New(modelDir, "", "").Snapshot())
		if err != nil {
			return err
		}
		tools, err := config.LoadToolchain(viper.GetViper())
		if err != nil {
			return err
		}
		if err := config.CheckToolchain(tools, info.Backend, false); err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if inputFile != "" {
			f, err := os.Open(inputFile)
			if err != nil {
				return fmt.Errorf("failed to read input file: %w", err)
			}
			defer f.Close()
			in = f
		}
		var out io.Writer = cmd.OutOrStdout()
		if outputFile != "" {
			if inputFile != "" && filepath.Clean(inputFile) == filepath.Clean(outputFile) {
				return fmt.Errorf("input file and output file cannot be the same")
			}
			if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine, err := translator.Open(ctx, modelDir, translator.Deps{
			Runner: commander.NewExecRunner(logger),
			Tools:  tools,
			Logger: logger,
			FS:     fs,
		}, opts)
		if err != nil {
			return err
		}
		defer engine.Close()

		logger.Infow("translating", "model", modelDir, "backend", engine.Name(), "src", info.SrcLang, "trg", info.TrgLang)
		return translator.TranslateStream(ctx, engine, in, out)
	},
}

// translateOptions builds the engine options from the translate flags.
func translateOptions() (translator.Options, error) {
	xml, err := config.ParseXMLStrategy(xmlInput)
	if err != nil {
		return translator.Options{}, err
	}
	placement, err := config.ParseReinsertionStrategy(reinsertion)
	if err != nil {
		return translator.Options{}, err
	}
	return translator.Options{
		Lowercase:     lowercaseOutput,
		Tokenized:     tokenizedOutput,
		KeepTemp:      keepTemp,
		TempDir:       translateTemp,
		Device:        device,
		XML:           xml,
		Reinsertion:   placement,
		ForceReinsert: forceReinsert,
	}, nil
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&modelDir, "model", "m", "", "Model directory created by mtrain train (required)")
	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file (default stdin)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default stdout)")
	translateCmd.Flags().BoolVar(&lowercaseOutput, "lowercase", false, "Lowercase the translation instead of restoring case")
	translateCmd.Flags().BoolVar(&tokenizedOutput, "tokenized", false, "Do not detokenize the translation")
	translateCmd.Flags().BoolVar(&keepTemp, "keep-temp", false, "Keep scratch files of batch translation")
	translateCmd.Flags().StringVar(&translateTemp, "temp-dir", "", "Directory for scratch files (default system temp)")
	translateCmd.Flags().StringVar(&device, "device", "cpu", "Neural decoding device")
	translateCmd.Flags().StringVar(&xmlInput, "xml-input", "", "Override markup handling of the model: strip-reinsert (default as trained)")
	translateCmd.Flags().StringVar(&reinsertion, "reinsertion", string(config.ReinsertionAlignment), "Markup reinsertion: full, segmentation or alignment")
	translateCmd.Flags().BoolVar(&forceReinsert, "force-reinsert", false, "Append tags that cannot be placed instead of dropping them")

	translateCmd.MarkFlagRequired("model")
}
