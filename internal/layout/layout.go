// Package layout names every file and directory inside a model directory.
// Training writes to these paths and the translation runtime reads from them,
// so both sides must go through this package.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	SnapshotName = "mtrain.yaml"
	JournalName  = "journal.db"

	BasenameTrain = "train"
	BasenameTune  = "tune"
	BasenameTest  = "test"

	SuffixTokenized  = "tokenized"
	SuffixCleaned    = "cleaned"
	SuffixLowercased = "lowercased"
	SuffixTruecased  = "truecased"
	SuffixMasked     = "masked"
	SuffixFinal      = "final"
	SuffixBPE        = "bpe"

	// ProtectedPatternsName is written next to masking artifacts so the
	// runtime tokenizer protects the same spans as training did.
	ProtectedPatternsName = "protected-patterns.dat"
)

// Layout resolves paths below one model directory.
type Layout struct {
	Root    string
	SrcLang string
	TrgLang string
}

func New(root, srcLang, trgLang string) Layout {
	return Layout{Root: filepath.Clean(root), SrcLang: srcLang, TrgLang: trgLang}
}

func (l Layout) CorpusDir() string     { return filepath.Join(l.Root, "corpus") }
func (l Layout) EngineDir() string     { return filepath.Join(l.Root, "engine") }
func (l Layout) EvaluationDir() string { return filepath.Join(l.Root, "evaluation") }
func (l Layout) LogsDir() string       { return filepath.Join(l.Root, "logs") }
func (l Layout) Snapshot() string      { return filepath.Join(l.Root, SnapshotName) }
func (l Layout) Journal() string       { return filepath.Join(l.Root, JournalName) }

// Corpus returns the language-less basepath of a corpus inside corpus/, e.g.
// Corpus("train", "cleaned") is corpus/train.cleaned.
func (l Layout) Corpus(basename string, suffixes ...string) string {
	name := basename
	for _, s := range suffixes {
		name += "." + s
	}
	return filepath.Join(l.CorpusDir(), name)
}

// Side appends a language extension to a corpus basepath.
func Side(basepath, lang string) string {
	return basepath + "." + lang
}

// Casing model locations.
func (l Layout) TruecasingDir() string { return filepath.Join(l.EngineDir(), "truecasing") }
func (l Layout) TruecaseModel(lang string) string {
	return filepath.Join(l.TruecasingDir(), "model."+lang)
}
func (l Layout) RecasingDir() string      { return filepath.Join(l.EngineDir(), "recasing") }
func (l Layout) RecasingMosesIni() string { return filepath.Join(l.RecasingDir(), "moses.ini") }
func (l Layout) MaskingDir(strategy string) string {
	return filepath.Join(l.EngineDir(), "masking", strategy)
}

// Statistical artifacts.
func (l Layout) LanguageModelDir() string { return filepath.Join(l.EngineDir(), "lm") }
func (l Layout) LanguageModelARPA() string {
	return filepath.Join(l.LanguageModelDir(), fmt.Sprintf("%s.arpa", l.TrgLang))
}
func (l Layout) LanguageModel() string {
	return filepath.Join(l.LanguageModelDir(), fmt.Sprintf("%s.blm", l.TrgLang))
}
func (l Layout) TranslationModelDir() string { return filepath.Join(l.EngineDir(), "tm") }
func (l Layout) WordAlignmentDir() string    { return filepath.Join(l.TranslationModelDir(), "word_alignment") }
func (l Layout) TranslationModelModelDir() string {
	return filepath.Join(l.TranslationModelDir(), "model")
}
func (l Layout) CompressedDir() string { return filepath.Join(l.TranslationModelDir(), "compressed") }
func (l Layout) BaseMosesIni() string  { return filepath.Join(l.TranslationModelModelDir(), "moses.ini") }
func (l Layout) CompressedIni() string { return filepath.Join(l.CompressedDir(), "moses.ini") }
func (l Layout) TuningDir() string     { return filepath.Join(l.EngineDir(), "tuning") }
func (l Layout) TunedMosesIni() string { return filepath.Join(l.TuningDir(), "moses.ini") }
func (l Layout) FinalMosesIni() string { return filepath.Join(l.EngineDir(), "moses.ini") }

// Neural artifacts.
func (l Layout) BPEDir() string { return filepath.Join(l.EngineDir(), "bpe") }
func (l Layout) BPEModel() string {
	return filepath.Join(l.BPEDir(), fmt.Sprintf("%s-%s.bpe", l.SrcLang, l.TrgLang))
}
func (l Layout) BPEVocab(lang string) string { return filepath.Join(l.BPEDir(), "vocab."+lang) }
func (l Layout) NeuralModelDir() string      { return filepath.Join(l.EngineDir(), "model") }
func (l Layout) NeuralModel() string         { return filepath.Join(l.NeuralModelDir(), "model.npz") }
func (l Layout) NeuralValidateScript() string {
	return filepath.Join(l.NeuralModelDir(), "validate.sh")
}

// Evaluation artifacts.
func (l Layout) MultEvalDir() string { return filepath.Join(l.EvaluationDir(), "multeval") }

// Create makes the top-level directories of a fresh model directory.
func (l Layout) Create() error {
	for _, dir := range []string{l.Root, l.CorpusDir(), l.EngineDir(), l.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
