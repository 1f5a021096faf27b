package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Toolchain locates the external toolkits. Every field is a base directory
// read from the environment.
type Toolchain struct {
	MosesHome     string `mapstructure:"moses_home"`
	FastAlignHome string `mapstructure:"fastalign_home"`
	NematusHome   string `mapstructure:"nematus_home"`
	SubwordHome   string `mapstructure:"subword_nmt_home"`
	MultEvalHome  string `mapstructure:"multeval_home"`
	Python        string `mapstructure:"python"`
}

var toolchainEnv = map[string]string{
	"moses_home":       "MOSES_HOME",
	"fastalign_home":   "FASTALIGN_HOME",
	"nematus_home":     "NEMATUS_HOME",
	"subword_nmt_home": "SUBWORD_NMT_HOME",
	"multeval_home":    "MULTEVAL_HOME",
	"python":           "MTRAIN_PYTHON",
}

// LoadToolchain binds the toolkit environment variables on v and decodes them.
func LoadToolchain(v *viper.Viper) (Toolchain, error) {
	for key, env := range toolchainEnv {
		if err := v.BindEnv(key, env); err != nil {
			return Toolchain{}, err
		}
	}
	v.SetDefault("python", "python3")
	var tc Toolchain
	if err := v.Unmarshal(&tc); err != nil {
		return Toolchain{}, fmt.Errorf("failed to decode toolchain: %w", err)
	}
	return tc, nil
}

func (t Toolchain) Moses(rel string) string     { return filepath.Join(t.MosesHome, rel) }
func (t Toolchain) FastAlign(rel string) string { return filepath.Join(t.FastAlignHome, rel) }
func (t Toolchain) Nematus(rel string) string   { return filepath.Join(t.NematusHome, rel) }
func (t Toolchain) Subword(rel string) string   { return filepath.Join(t.SubwordHome, rel) }
func (t Toolchain) MultEval() string            { return filepath.Join(t.MultEvalHome, "multeval.sh") }

// CheckToolchain fails fast when a toolkit required by backend (and by
// evaluation, if requested) is not configured.
func CheckToolchain(t Toolchain, backend Backend, withEval bool) error {
	type requirement struct{ env, dir, marker string }
	reqs := []requirement{{"MOSES_HOME", t.MosesHome, "bin/moses"}}
	switch backend {
	case BackendStatistical:
		reqs = append(reqs, requirement{"FASTALIGN_HOME", t.FastAlignHome, "fast_align"})
	case BackendNeural:
		reqs = append(reqs,
			requirement{"NEMATUS_HOME", t.NematusHome, "nematus"},
			requirement{"SUBWORD_NMT_HOME", t.SubwordHome, "subword_nmt"},
		)
	}
	if withEval {
		reqs = append(reqs, requirement{"MULTEVAL_HOME", t.MultEvalHome, "multeval.sh"})
	}
	for _, r := range reqs {
		if r.dir == "" {
			return fmt.Errorf("%w: %s is not set", ErrEnvironment, r.env)
		}
		if _, err := os.Stat(filepath.Join(r.dir, r.marker)); err != nil {
			return fmt.Errorf("%w: %s=%s does not contain %s", ErrEnvironment, r.env, r.dir, r.marker)
		}
	}
	return nil
}
