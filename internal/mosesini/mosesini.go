// Package mosesini edits Moses decoder configuration files. Only the
// [feature] section is interpreted; every other line is kept verbatim.
package mosesini

import (
	"fmt"
	"os"
	"strings"
)

// Feature is one line of the [feature] section, e.g.
// "PhraseDictionaryMemory name=TranslationModel0 path=/x/phrase-table.gz".
type Feature struct {
	Type string
	Args []Arg
}

type Arg struct {
	Key   string
	Value string
}

// ParseFeature splits a feature line into its type and key=value arguments.
func ParseFeature(line string) (Feature, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.Contains(fields[0], "=") {
		return Feature{}, false
	}
	f := Feature{Type: fields[0]}
	for _, field := range fields[1:] {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return Feature{}, false
		}
		f.Args = append(f.Args, Arg{Key: k, Value: v})
	}
	return f, true
}

func (f Feature) Get(key string) (string, bool) {
	for _, a := range f.Args {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Set replaces the value of key, appending the argument if it is missing.
func (f *Feature) Set(key, value string) {
	for i := range f.Args {
		if f.Args[i].Key == key {
			f.Args[i].Value = value
			return
		}
	}
	f.Args = append(f.Args, Arg{Key: key, Value: value})
}

func (f Feature) String() string {
	var b strings.Builder
	b.WriteString(f.Type)
	for _, a := range f.Args {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value)
	}
	return b.String()
}

// RewriteFeatures calls fn for every feature line; fn edits the feature in
// place.
func RewriteFeatures(data []byte, fn func(f *Feature)) []byte {
	lines := strings.Split(string(data), "\n")
	inFeatures := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			inFeatures = trimmed == "[feature]"
			continue
		}
		if !inFeatures || trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		f, ok := ParseFeature(trimmed)
		if !ok {
			continue
		}
		fn(&f)
		lines[i] = f.String()
	}
	return []byte(strings.Join(lines, "\n"))
}

// Features returns all feature lines of data.
func Features(data []byte) []Feature {
	var out []Feature
	RewriteFeatures(data, func(f *Feature) { out = append(out, *f) })
	return out
}

// RewriteFile reads in, rewrites its features and writes the result to out.
func RewriteFile(in, out string, fn func(f *Feature)) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("failed to read moses.ini: %w", err)
	}
	if err := os.WriteFile(out, RewriteFeatures(data, fn), 0644); err != nil {
		return fmt.Errorf("failed to write moses.ini: %w", err)
	}
	return nil
}

// Compact points phrase and reordering table features at their compressed
// versions. An empty reorderingTable leaves reordering features unchanged.
func Compact(phraseTable, reorderingTable string) func(f *Feature) {
	return func(f *Feature) {
		switch f.Type {
		case "PhraseDictionaryMemory":
			f.Type = "PhraseDictionaryCompact"
			f.Set("path", phraseTable)
		case "LexicalReordering":
			if _, ok := f.Get("path"); ok && reorderingTable != "" {
				f.Set("path", reorderingTable)
			}
		}
	}
}
