package backend

import (
	"fmt"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/layout"
)

// bpeVocabThreshold is the minimum frequency of a subword unit in the
// vocabulary before apply_bpe splits it further.
const bpeVocabThreshold = 50

// TokenizeCommand tokenizes text in lang. Escaping of Moses special
// characters is left to the caller. protectedPatterns may be empty.
func TokenizeCommand(tools config.Toolchain, lang string, threads int, protectedPatterns string) commander.Command {
	args := []string{"-q", "-l", lang, "-no-escape", "-b"}
	if threads > 1 {
		args = append(args, "-threads", fmt.Sprint(threads))
	}
	if protectedPatterns != "" {
		args = append(args, "-protected", protectedPatterns)
	}
	return commander.Command{
		Name: tools.Moses("scripts/tokenizer/tokenizer.perl"),
		Args: args,
	}
}

// DetokenizeCommand joins tokens of lang back into running text.
func DetokenizeCommand(tools config.Toolchain, lang string) commander.Command {
	return commander.Command{
		Name: tools.Moses("scripts/tokenizer/detokenizer.perl"),
		Args: []string{"-q", "-l", lang, "-b"},
	}
}

// DecoderFlags select what the decoder reads and reports besides the
// translation.
type DecoderFlags struct {
	// Alignment appends the word alignment after "|||".
	Alignment bool
	// Segmentation writes a "|start-end|" source span after every phrase.
	Segmentation bool
	// XMLInput accepts forced translations in the input.
	XMLInput bool
}

// DecoderCommand starts the Moses decoder on the final configuration.
func DecoderCommand(tools config.Toolchain, l layout.Layout, flags DecoderFlags) commander.Command {
	args := []string{"-f", l.FinalMosesIni(), "-v", "0", "-threads", "1"}
	if flags.Alignment {
		args = append(args, "-print-alignment-info")
	}
	if flags.Segmentation {
		args = append(args, "-report-segmentation")
	}
	if flags.XMLInput {
		args = append(args, "-xml-input", "exclusive")
	}
	return commander.Command{Name: tools.Moses("bin/moses"), Args: args}
}

// ApplyBPECommand segments text of lang into subword units.
func ApplyBPECommand(tools config.Toolchain, l layout.Layout, lang string) commander.Command {
	return commander.Command{
		Name: tools.Python,
		Args: []string{
			tools.Subword("subword_nmt/apply_bpe.py"),
			"-c", l.BPEModel(),
			"--vocabulary", l.BPEVocab(lang),
			"--vocabulary-threshold", fmt.Sprint(bpeVocabThreshold),
		},
	}
}

// NematusTranslateCommand translates stdin to stdout with the trained model.
func NematusTranslateCommand(tools config.Toolchain, l layout.Layout, device string) commander.Command {
	cmd := commander.Command{
		Name: tools.Python,
		Args: []string{
			tools.Nematus("nematus/translate.py"),
			"-m", l.NeuralModel(),
			"-k", "12",
			"-n",
			"-p", "1",
		},
	}
	if device != "" {
		cmd.Env = []string{theanoFlags(device, "")}
	}
	return cmd
}

func theanoFlags(device, preallocate string) string {
	flags := "THEANO_FLAGS=mode=FAST_RUN,floatX=float32,device=" + device
	if preallocate != "" {
		flags += ",gpuarray.preallocate=" + preallocate
	}
	return flags
}
