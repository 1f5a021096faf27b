// Package config holds the training configuration model shared by the
// training pipeline and the translation runtime.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrEnvironment     = errors.New("invalid environment")
)

type Backend string

const (
	BackendStatistical Backend = "moses"
	BackendNeural      Backend = "nematus"
)

func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(s)) {
	case BackendStatistical, "statistical", "smt":
		return BackendStatistical, nil
	case BackendNeural, "neural", "nmt":
		return BackendNeural, nil
	}
	return "", fmt.Errorf("%w: unknown backend %q", ErrInvalidArgument, s)
}

// CasingStrategy decides which casing model is trained and which transform
// is applied before engine training and before decoding.
type CasingStrategy string

const (
	CasingNone       CasingStrategy = "none"
	CasingTruecasing CasingStrategy = "truecasing"
	CasingRecasing   CasingStrategy = "recasing"
)

func ParseCasingStrategy(s string) (CasingStrategy, error) {
	switch CasingStrategy(strings.ToLower(s)) {
	case CasingNone, "":
		return CasingNone, nil
	case CasingTruecasing, "truecase":
		return CasingTruecasing, nil
	case CasingRecasing, "recase":
		return CasingRecasing, nil
	}
	return "", fmt.Errorf("%w: unknown casing strategy %q", ErrInvalidArgument, s)
}

type XMLStrategy string

const (
	XMLNone        XMLStrategy = ""
	XMLPassThrough XMLStrategy = "pass-through"
	XMLStrip       XMLStrategy = "strip"
	XMLMask        XMLStrategy = "mask"
	// XMLStripReinsert strips markup before decoding and puts it back into
	// the translation. It only applies at translation time.
	XMLStripReinsert XMLStrategy = "strip-reinsert"
)

func ParseXMLStrategy(s string) (XMLStrategy, error) {
	switch XMLStrategy(strings.ToLower(s)) {
	case XMLNone:
		return XMLNone, nil
	case XMLPassThrough:
		return XMLPassThrough, nil
	case XMLStrip:
		return XMLStrip, nil
	case XMLMask:
		return XMLMask, nil
	case XMLStripReinsert:
		return XMLStripReinsert, nil
	}
	return "", fmt.Errorf("%w: unknown xml strategy %q", ErrInvalidArgument, s)
}

// ReinsertionStrategy selects the decoder report used to place stripped
// markup in a translation.
type ReinsertionStrategy string

const (
	ReinsertionFull         ReinsertionStrategy = "full"
	ReinsertionSegmentation ReinsertionStrategy = "segmentation"
	ReinsertionAlignment    ReinsertionStrategy = "alignment"
)

func ParseReinsertionStrategy(s string) (ReinsertionStrategy, error) {
	switch ReinsertionStrategy(strings.ToLower(s)) {
	case ReinsertionAlignment, "":
		return ReinsertionAlignment, nil
	case ReinsertionSegmentation:
		return ReinsertionSegmentation, nil
	case ReinsertionFull:
		return ReinsertionFull, nil
	}
	return "", fmt.Errorf("%w: unknown reinsertion strategy %q", ErrInvalidArgument, s)
}

type MaskingStrategy string

const (
	MaskingNone      MaskingStrategy = ""
	MaskingIdentity  MaskingStrategy = "identity"
	MaskingAlignment MaskingStrategy = "alignment"
)

func ParseMaskingStrategy(s string) (MaskingStrategy, error) {
	switch MaskingStrategy(strings.ToLower(s)) {
	case MaskingNone:
		return MaskingNone, nil
	case MaskingIdentity:
		return MaskingIdentity, nil
	case MaskingAlignment:
		return MaskingAlignment, nil
	}
	return "", fmt.Errorf("%w: unknown masking strategy %q", ErrInvalidArgument, s)
}

// EffectiveMasking returns the masking strategy in force: an explicit
// masking strategy, or identity masking when markup is masked.
func EffectiveMasking(masking MaskingStrategy, xml XMLStrategy) MaskingStrategy {
	if masking != MaskingNone {
		return masking
	}
	if xml == XMLMask {
		return MaskingIdentity
	}
	return MaskingNone
}

// DefaultNeuralTuningSize is the number of segments sampled from the training
// corpus when the neural backend is selected without a validation set.
const DefaultNeuralTuningSize = 2000

type StatisticalParams struct {
	NGramOrder         int    `yaml:"ngram_order" mapstructure:"ngram_order"`
	AlignmentHeuristic string `yaml:"alignment_heuristic" mapstructure:"alignment_heuristic"`
	ReorderingModel    string `yaml:"reordering_model" mapstructure:"reordering_model"`
	MaxPhraseLength    int    `yaml:"max_phrase_length" mapstructure:"max_phrase_length"`
}

type NeuralParams struct {
	BPEOperations       int    `yaml:"bpe_operations" mapstructure:"bpe_operations"`
	DeviceTrain         string `yaml:"device_train" mapstructure:"device_train"`
	PreallocateTrain    string `yaml:"preallocate_train" mapstructure:"preallocate_train"`
	DeviceValidate      string `yaml:"device_validate" mapstructure:"device_validate"`
	PreallocateValidate string `yaml:"preallocate_validate" mapstructure:"preallocate_validate"`
	ValidationFreq      int    `yaml:"validation_freq" mapstructure:"validation_freq"`
	SaveFreq            int    `yaml:"save_freq" mapstructure:"save_freq"`
	ExternalValidation  string `yaml:"external_validation_script,omitempty" mapstructure:"external_validation_script"`
	MaxEpochs           int    `yaml:"max_epochs" mapstructure:"max_epochs"`
	MaxUpdates          int    `yaml:"max_updates" mapstructure:"max_updates"`
	HiddenSize          int    `yaml:"hidden_size" mapstructure:"hidden_size"`
	EmbeddingSize       int    `yaml:"embedding_size" mapstructure:"embedding_size"`
}

// TrainingConfig is built once per training invocation, resolved, and then
// treated as read-only by every stage.
type TrainingConfig struct {
	Basepath  string  `yaml:"basepath" mapstructure:"basepath"`
	OutputDir string  `yaml:"output_dir" mapstructure:"output_dir"`
	SrcLang   string  `yaml:"src_lang" mapstructure:"src_lang"`
	TrgLang   string  `yaml:"trg_lang" mapstructure:"trg_lang"`
	Backend   Backend `yaml:"backend" mapstructure:"backend"`

	Casing  CasingStrategy  `yaml:"casing" mapstructure:"casing"`
	XML     XMLStrategy     `yaml:"xml_strategy,omitempty" mapstructure:"xml_strategy"`
	Masking MaskingStrategy `yaml:"masking_strategy,omitempty" mapstructure:"masking_strategy"`

	Tuning             CorpusSpec `yaml:"tuning" mapstructure:"-"`
	Evaluation         CorpusSpec `yaml:"evaluation" mapstructure:"-"`
	PreprocessExternal bool       `yaml:"preprocess_external" mapstructure:"preprocess_external"`
	EvalLowercase      bool       `yaml:"eval_lowercase" mapstructure:"eval_lowercase"`
	ExtendedEval       bool       `yaml:"extended_eval" mapstructure:"extended_eval"`
	MinTokens          int        `yaml:"min_tokens" mapstructure:"min_tokens"`
	MaxTokens          int        `yaml:"max_tokens" mapstructure:"max_tokens"`
	FilterLanguage     bool       `yaml:"filter_language" mapstructure:"filter_language"`
	Threads            int        `yaml:"threads" mapstructure:"threads"`
	TempDir            string     `yaml:"temp_dir" mapstructure:"temp_dir"`
	KeepUncompressed   bool       `yaml:"keep_uncompressed" mapstructure:"keep_uncompressed"`
	DryRun             bool       `yaml:"dry_run" mapstructure:"dry_run"`
	SampleSeed         int64      `yaml:"sample_seed" mapstructure:"sample_seed"`

	Statistical StatisticalParams `yaml:"statistical" mapstructure:"statistical"`
	Neural      NeuralParams      `yaml:"neural" mapstructure:"neural"`
}

// Default returns a TrainingConfig populated with the defaults used by the
// command line.
func Default() TrainingConfig {
	return TrainingConfig{
		Backend:    BackendStatistical,
		Casing:     CasingTruecasing,
		MinTokens:  1,
		MaxTokens:  80,
		Threads:    8,
		TempDir:    "/tmp",
		SampleSeed: 42,
		Statistical: StatisticalParams{
			NGramOrder:         5,
			AlignmentHeuristic: "grow-diag-final-and",
			ReorderingModel:    "msd-bidirectional-fe",
			MaxPhraseLength:    7,
		},
		Neural: NeuralParams{
			BPEOperations:       89500,
			DeviceTrain:         "cuda0",
			PreallocateTrain:    "0.8",
			DeviceValidate:      "cuda1",
			PreallocateValidate: "0.2",
			ValidationFreq:      10000,
			SaveFreq:            30000,
			MaxEpochs:           5000,
			MaxUpdates:          10000000,
			HiddenSize:          1024,
			EmbeddingSize:       512,
		},
	}
}

// Validate rejects incompatible or missing options. It is called before any
// pipeline stage runs.
func (c *TrainingConfig) Validate() error {
	if c.Basepath == "" {
		return fmt.Errorf("%w: basepath is required", ErrInvalidArgument)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output directory is required", ErrInvalidArgument)
	}
	if c.SrcLang == "" || c.TrgLang == "" {
		return fmt.Errorf("%w: source and target language are required", ErrInvalidArgument)
	}
	if c.SrcLang == c.TrgLang {
		return fmt.Errorf("%w: source and target language must differ", ErrInvalidArgument)
	}
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if _, err := ParseCasingStrategy(string(c.Casing)); err != nil {
		return err
	}
	if c.MinTokens < 1 || c.MaxTokens < c.MinTokens {
		return fmt.Errorf("%w: token bounds [%d, %d] are invalid", ErrInvalidArgument, c.MinTokens, c.MaxTokens)
	}
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be positive", ErrInvalidArgument)
	}
	if c.Tuning.Size < 0 || c.Evaluation.Size < 0 {
		return fmt.Errorf("%w: sample sizes must not be negative", ErrInvalidArgument)
	}
	if c.XML == XMLStripReinsert {
		return fmt.Errorf("%w: xml strategy %s applies to translation only, train with %s", ErrInvalidArgument, XMLStripReinsert, XMLStrip)
	}
	if c.Backend == BackendStatistical {
		if c.Masking != MaskingNone && c.XML == XMLMask {
			return fmt.Errorf("%w: choose either masking or xml mask, not both", ErrInvalidArgument)
		}
		if c.Statistical.NGramOrder < 1 {
			return fmt.Errorf("%w: n-gram order must be positive", ErrInvalidArgument)
		}
	}
	if c.Backend == BackendNeural {
		if c.Neural.BPEOperations < 1 {
			return fmt.Errorf("%w: bpe operations must be positive", ErrInvalidArgument)
		}
		// Nematus reports no word alignment to unmask by.
		if c.Masking == MaskingAlignment {
			return fmt.Errorf("%w: %s masking needs decoder alignment, use %s with %s", ErrInvalidArgument, MaskingAlignment, MaskingIdentity, BackendNeural)
		}
	}
	return nil
}

// Resolve returns a copy of c with backend-dependent defaults filled in.
// The second return value reports whether the tuning spec was synthesized.
func (c TrainingConfig) Resolve() (TrainingConfig, bool) {
	c.OutputDir = filepath.Clean(c.OutputDir)
	if c.Backend == BackendNeural && c.Tuning.IsZero() {
		c.Tuning = CorpusSpec{Size: DefaultNeuralTuningSize}
		return c, true
	}
	return c, false
}
