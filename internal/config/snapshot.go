package config

import (
	"fmt"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"
)

// EngineInfo is the subset of a training snapshot the translation runtime
// needs to rebuild the preprocessing chain of a trained engine.
type EngineInfo struct {
	Backend Backend
	Casing  CasingStrategy
	XML     XMLStrategy
	Masking MaskingStrategy
	SrcLang string
	TrgLang string
}

// SaveSnapshot writes cfg as YAML to path, creating parent directories.
func SaveSnapshot(fs afero.Fs, path string, cfg TrainingConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config snapshot: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config snapshot: %w", err)
	}
	return nil
}

func LoadSnapshot(fs afero.Fs, path string) (TrainingConfig, error) {
	var cfg TrainingConfig
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config snapshot: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config snapshot %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveEngine derives backend and strategies from snapshot content alone.
// It never looks at the directory layout.
func ResolveEngine(data []byte) (EngineInfo, error) {
	var cfg TrainingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineInfo{}, fmt.Errorf("failed to parse config snapshot: %w", err)
	}
	backend, err := ParseBackend(string(cfg.Backend))
	if err != nil {
		return EngineInfo{}, err
	}
	casing, err := ParseCasingStrategy(string(cfg.Casing))
	if err != nil {
		return EngineInfo{}, err
	}
	return EngineInfo{
		Backend: backend,
		Casing:  casing,
		XML:     cfg.XML,
		Masking: cfg.Masking,
		SrcLang: cfg.SrcLang,
		TrgLang: cfg.TrgLang,
	}, nil
}

func LoadEngineInfo(fs afero.Fs, path string) (EngineInfo, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return EngineInfo{}, fmt.Errorf("not a trained engine, cannot read %s: %w", path, err)
	}
	return ResolveEngine(data)
}
