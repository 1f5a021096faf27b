package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() TrainingConfig {
	cfg := Default()
	cfg.Basepath = "/data/corpus/train"
	cfg.OutputDir = "/models/en-fr"
	cfg.SrcLang = "en"
	cfg.TrgLang = "fr"
	return cfg
}

func TestParseCorpusSpec(t *testing.T) {
	tests := []struct {
		in   string
		want CorpusSpec
	}{
		{"", CorpusSpec{}},
		{"1000", CorpusSpec{Size: 1000}},
		{" 2000 ", CorpusSpec{Size: 2000}},
		{"/data/heldout", CorpusSpec{Path: "/data/heldout"}},
		{"tune/corpus", CorpusSpec{Path: "tune/corpus"}},
	}
	for _, tt := range tests {
		got, err := ParseCorpusSpec(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	sample, _ := ParseCorpusSpec("1000")
	assert.True(t, sample.IsSample())
	assert.False(t, sample.IsExternal())

	path, _ := ParseCorpusSpec("/data/heldout")
	assert.True(t, path.IsExternal())
	assert.Equal(t, "/data/heldout", path.String())
}

func TestParseCorpusSpec_Negative(t *testing.T) {
	_, err := ParseCorpusSpec("-5")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestResolve_NeuralDefaultsTuning(t *testing.T) {
	cfg := validConfig()
	cfg.Backend = BackendNeural

	resolved, defaulted := cfg.Resolve()
	assert.True(t, defaulted)
	assert.Equal(t, DefaultNeuralTuningSize, resolved.Tuning.Size)
	assert.Equal(t, 2000, resolved.Tuning.Size)
	assert.True(t, cfg.Tuning.IsZero(), "Resolve must not mutate the receiver")
}

func TestResolve_NeuralKeepsExplicitTuning(t *testing.T) {
	cfg := validConfig()
	cfg.Backend = BackendNeural
	cfg.Tuning = CorpusSpec{Path: "/data/dev"}

	resolved, defaulted := cfg.Resolve()
	assert.False(t, defaulted)
	assert.Equal(t, "/data/dev", resolved.Tuning.Path)
}

func TestResolve_StatisticalLeavesTuningUnset(t *testing.T) {
	resolved, defaulted := validConfig().Resolve()
	assert.False(t, defaulted)
	assert.True(t, resolved.Tuning.IsZero())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TrainingConfig)
		wantErr bool
	}{
		{"defaults are valid", func(*TrainingConfig) {}, false},
		{"missing basepath", func(c *TrainingConfig) { c.Basepath = "" }, true},
		{"same languages", func(c *TrainingConfig) { c.TrgLang = "en" }, true},
		{"bad token bounds", func(c *TrainingConfig) { c.MinTokens, c.MaxTokens = 10, 5 }, true},
		{"masking with xml mask", func(c *TrainingConfig) {
			c.Masking = MaskingIdentity
			c.XML = XMLMask
		}, true},
		{"masking with xml mask on neural", func(c *TrainingConfig) {
			c.Backend = BackendNeural
			c.Masking = MaskingIdentity
			c.XML = XMLMask
		}, false},
		{"alignment masking on neural", func(c *TrainingConfig) {
			c.Backend = BackendNeural
			c.Masking = MaskingAlignment
		}, true},
		{"identity masking on neural", func(c *TrainingConfig) {
			c.Backend = BackendNeural
			c.Masking = MaskingIdentity
		}, false},
		{"strip-reinsert is translation only", func(c *TrainingConfig) { c.XML = XMLStripReinsert }, true},
		{"unknown backend", func(c *TrainingConfig) { c.Backend = "fairseq" }, true},
		{"zero threads", func(c *TrainingConfig) { c.Threads = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseReinsertionStrategy(t *testing.T) {
	for in, want := range map[string]ReinsertionStrategy{
		"":             ReinsertionAlignment,
		"Alignment":    ReinsertionAlignment,
		"segmentation": ReinsertionSegmentation,
		"full":         ReinsertionFull,
	} {
		got, err := ParseReinsertionStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseReinsertionStrategy("heuristic")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	xml, err := ParseXMLStrategy("strip-reinsert")
	require.NoError(t, err)
	assert.Equal(t, XMLStripReinsert, xml)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, backend := range []Backend{BackendStatistical, BackendNeural} {
		for _, casing := range []CasingStrategy{CasingNone, CasingTruecasing, CasingRecasing} {
			cfg := validConfig()
			cfg.Backend = backend
			cfg.Casing = casing
			cfg.Tuning = CorpusSpec{Size: 1000}
			cfg.Evaluation = CorpusSpec{Path: "/data/test"}

			path := filepath.Join("/models", string(backend), string(casing), "mtrain.yaml")
			require.NoError(t, SaveSnapshot(fs, path, cfg))

			info, err := LoadEngineInfo(fs, path)
			require.NoError(t, err)
			assert.Equal(t, backend, info.Backend)
			assert.Equal(t, casing, info.Casing)
			assert.Equal(t, "en", info.SrcLang)

			loaded, err := LoadSnapshot(fs, path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		}
	}
}

func TestResolveEngine_Invalid(t *testing.T) {
	_, err := ResolveEngine([]byte("backend: marian\ncasing: none\n"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLoadEngineInfo_Missing(t *testing.T) {
	_, err := LoadEngineInfo(afero.NewMemMapFs(), "/nowhere/mtrain.yaml")
	assert.Error(t, err)
}

func TestCheckToolchain(t *testing.T) {
	moses := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(moses, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(moses, "bin", "moses"), nil, 0755))

	err := CheckToolchain(Toolchain{MosesHome: moses}, BackendStatistical, false)
	assert.ErrorIs(t, err, ErrEnvironment)
	assert.Contains(t, err.Error(), "FASTALIGN_HOME")

	fastAlign := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fastAlign, "fast_align"), nil, 0755))
	assert.NoError(t, CheckToolchain(Toolchain{MosesHome: moses, FastAlignHome: fastAlign}, BackendStatistical, false))

	err = CheckToolchain(Toolchain{MosesHome: moses, FastAlignHome: fastAlign}, BackendStatistical, true)
	assert.ErrorIs(t, err, ErrEnvironment)
}

func TestLoadToolchain_FromEnv(t *testing.T) {
	t.Setenv("MOSES_HOME", "/opt/moses")
	t.Setenv("MULTEVAL_HOME", "/opt/multeval")

	tc, err := LoadToolchain(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "/opt/moses", tc.MosesHome)
	assert.Equal(t, "/opt/moses/bin/moses", tc.Moses("bin/moses"))
	assert.Equal(t, "/opt/multeval/multeval.sh", tc.MultEval())
	assert.Equal(t, "python3", tc.Python)
}

func TestEffectiveMasking(t *testing.T) {
	assert.Equal(t, MaskingNone, EffectiveMasking(MaskingNone, XMLNone))
	assert.Equal(t, MaskingNone, EffectiveMasking(MaskingNone, XMLStrip))
	assert.Equal(t, MaskingIdentity, EffectiveMasking(MaskingNone, XMLMask))
	assert.Equal(t, MaskingAlignment, EffectiveMasking(MaskingAlignment, XMLPassThrough))
}
