package config

import (
	"fmt"
	"strconv"
	"strings"
)

// CorpusSpec selects a held-out corpus. Either Size segments are sampled from
// the training corpus, or Path names the basepath of an external corpus.
type CorpusSpec struct {
	Size int    `yaml:"size,omitempty"`
	Path string `yaml:"path,omitempty"`
}

// ParseCorpusSpec treats a value that parses as an integer as a sample count
// and anything else as a path.
func ParseCorpusSpec(s string) (CorpusSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CorpusSpec{}, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return CorpusSpec{}, fmt.Errorf("%w: negative sample size %d", ErrInvalidArgument, n)
		}
		return CorpusSpec{Size: n}, nil
	}
	return CorpusSpec{Path: s}, nil
}

func (s CorpusSpec) IsZero() bool {
	return s.Size == 0 && s.Path == ""
}

func (s CorpusSpec) IsSample() bool {
	return s.Size > 0
}

func (s CorpusSpec) IsExternal() bool {
	return s.Path != ""
}

func (s CorpusSpec) String() string {
	switch {
	case s.IsExternal():
		return s.Path
	case s.IsSample():
		return strconv.Itoa(s.Size)
	}
	return ""
}
