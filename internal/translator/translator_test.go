package translator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/commander/commandertest"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/layout"
)

var testTools = config.Toolchain{
	MosesHome:   "/opt/moses",
	NematusHome: "/opt/nematus",
	SubwordHome: "/opt/subword-nmt",
	Python:      "python3",
}

func trainedEngine(t *testing.T, mutate func(*config.TrainingConfig)) (string, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	dir := "/models/en-de"
	cfg := config.Default()
	cfg.Basepath = "/data/train"
	cfg.OutputDir = dir
	cfg.SrcLang = "en"
	cfg.TrgLang = "de"
	if mutate != nil {
		mutate(&cfg)
	}
	if err := config.SaveSnapshot(fs, layout.New(dir, "", "").Snapshot(), cfg); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	return dir, fs
}

func isDecoder(cmd commander.Command) bool {
	return strings.HasSuffix(cmd.Name, "bin/moses") && strings.Contains(strings.Join(cmd.Args, " "), "engine/moses.ini")
}

func isNematus(cmd commander.Command) bool {
	return len(cmd.Args) > 0 && strings.HasSuffix(cmd.Args[0], "translate.py")
}

// decoderStub counts decoder calls and answers with a fixed function.
type decoderStub struct {
	mu     sync.Mutex
	calls  []string
	answer func(string) string
}

func (d *decoderStub) process(cmd commander.Command, line string) (string, error) {
	if !isDecoder(cmd) {
		return line, nil
	}
	d.mu.Lock()
	d.calls = append(d.calls, line)
	d.mu.Unlock()
	if d.answer != nil {
		return d.answer(line), nil
	}
	return line, nil
}

func TestOpen_SelectsEngineFromSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		backend config.Backend
		want    config.Backend
		batch   bool
	}{
		{"statistical", config.BackendStatistical, config.BackendStatistical, false},
		{"neural", config.BackendNeural, config.BackendNeural, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, fs := trainedEngine(t, func(c *config.TrainingConfig) { c.Backend = tt.backend })
			e, err := Open(context.Background(), dir, Deps{Runner: &commandertest.Recorder{}, Tools: testTools, FS: fs}, Options{})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer e.Close()
			if e.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", e.Name(), tt.want)
			}
			if e.Batch() != tt.batch {
				t.Errorf("Batch() = %v, want %v", e.Batch(), tt.batch)
			}
		})
	}
}

func TestOpen_MissingSnapshot(t *testing.T) {
	_, err := Open(context.Background(), "/nowhere", Deps{Runner: &commandertest.Recorder{}, FS: afero.NewMemMapFs()}, Options{})
	if err == nil {
		t.Fatal("expected error for a directory without snapshot")
	}
}

func TestMosesEngine_StartsToolsForCasing(t *testing.T) {
	tests := []struct {
		casing config.CasingStrategy
		want   string
		absent string
	}{
		{config.CasingTruecasing, "truecase.perl", "-dl"},
		{config.CasingRecasing, "-dl", "truecase.perl"},
	}
	for _, tt := range tests {
		t.Run(string(tt.casing), func(t *testing.T) {
			dir, fs := trainedEngine(t, func(c *config.TrainingConfig) { c.Casing = tt.casing })
			rec := &commandertest.Recorder{}
			e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer e.Close()

			var started []string
			for _, c := range rec.Started {
				started = append(started, c.String())
			}
			all := strings.Join(started, "\n")
			if !strings.Contains(all, tt.want) {
				t.Errorf("started tools do not contain %q:\n%s", tt.want, all)
			}
			if strings.Contains(all, tt.absent) {
				t.Errorf("started tools unexpectedly contain %q:\n%s", tt.absent, all)
			}
		})
	}
}

func TestTranslateStream_EmptyLinesSkipDecoder(t *testing.T) {
	dir, fs := trainedEngine(t, nil)
	stub := &decoderStub{}
	rec := &commandertest.Recorder{ProcessFunc: stub.process}
	e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	var out bytes.Buffer
	if err := TranslateStream(context.Background(), e, strings.NewReader("hello world\n\n   \ngood bye\n"), &out); err != nil {
		t.Fatalf("TranslateStream: %v", err)
	}

	if got, want := out.String(), "hello world\n\n   \ngood bye\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if len(stub.calls) != 2 {
		t.Errorf("decoder called %d times, want 2: %q", len(stub.calls), stub.calls)
	}
}

func TestMosesEngine_BlankSegmentUnchanged(t *testing.T) {
	dir, fs := trainedEngine(t, nil)
	stub := &decoderStub{}
	rec := &commandertest.Recorder{ProcessFunc: stub.process}
	e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	got, err := e.Translate(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "   " {
		t.Errorf("Translate(%q) = %q, want the segment unchanged", "   ", got)
	}
	if len(stub.calls) != 0 {
		t.Errorf("decoder called for a blank segment: %q", stub.calls)
	}
}

func TestMosesEngine_CapitalizationRule(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		lowercase bool
		want      string
	}{
		{"uppercase source", "Hello world", false, "Hallo welt"},
		{"lowercase source", "hello world", false, "hallo welt"},
		{"lowercase requested", "Hello world", true, "hallo welt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, fs := trainedEngine(t, nil)
			stub := &decoderStub{answer: func(string) string { return "hallo welt" }}
			rec := &commandertest.Recorder{ProcessFunc: stub.process}
			e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{Lowercase: tt.lowercase})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer e.Close()

			got, err := e.Translate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Translate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Translate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMosesEngine_EscapesDecoderInput(t *testing.T) {
	dir, fs := trainedEngine(t, func(c *config.TrainingConfig) { c.Casing = config.CasingNone })
	stub := &decoderStub{}
	rec := &commandertest.Recorder{ProcessFunc: stub.process}
	e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	got, err := e.Translate(context.Background(), "a < b & c")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if stub.calls[0] != "a &lt; b &amp; c" {
		t.Errorf("decoder input = %q", stub.calls[0])
	}
	if got != "a < b & c" {
		t.Errorf("Translate() = %q, want de-escaped output", got)
	}
}

func TestMosesEngine_AlignmentMasking(t *testing.T) {
	dir, fs := trainedEngine(t, func(c *config.TrainingConfig) {
		c.Casing = config.CasingNone
		c.Masking = config.MaskingAlignment
	})
	stub := &decoderStub{answer: func(string) string { return "siehe __url__ ||| 0-0 1-1" }}
	rec := &commandertest.Recorder{ProcessFunc: stub.process}
	e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	got, err := e.Translate(context.Background(), "see http://example.com")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "siehe http://example.com" {
		t.Errorf("Translate() = %q", got)
	}
	if !strings.Contains(stub.calls[0], `<mask translation="__url__">__url__</mask>`) {
		t.Errorf("decoder input is not forced: %q", stub.calls[0])
	}

	var decoder commander.Command
	for _, c := range rec.Started {
		if isDecoder(c) {
			decoder = c
		}
	}
	args := strings.Join(decoder.Args, " ")
	for _, want := range []string{"-print-alignment-info", "-xml-input exclusive"} {
		if !strings.Contains(args, want) {
			t.Errorf("decoder args %q lack %q", args, want)
		}
	}
	for _, c := range rec.Started {
		if strings.HasSuffix(c.Name, "tokenizer.perl") && !strings.Contains(strings.Join(c.Args, " "), "protected-patterns.dat") {
			t.Errorf("tokenizer does not protect masked patterns: %s", c)
		}
	}
}

func decoderArgs(rec *commandertest.Recorder) string {
	for _, c := range rec.Started {
		if isDecoder(c) {
			return strings.Join(c.Args, " ")
		}
	}
	return ""
}

func TestMosesEngine_StripReinsert(t *testing.T) {
	tests := []struct {
		name         string
		reinsertion  config.ReinsertionStrategy
		answer       string
		segmentation bool
	}{
		{"alignment", config.ReinsertionAlignment, "Hallo Welt ||| 0-0 1-1", false},
		{"default is alignment", "", "Hallo Welt ||| 0-0 1-1", false},
		{"segmentation", config.ReinsertionSegmentation, "Hallo |0-0| Welt |1-1| ||| 0-0 1-1", true},
		{"full", config.ReinsertionFull, "Hallo |0-0| Welt |1-1| ||| 0-0 1-1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, fs := trainedEngine(t, func(c *config.TrainingConfig) {
				c.Casing = config.CasingNone
				c.XML = config.XMLStrip
			})
			stub := &decoderStub{answer: func(string) string { return tt.answer }}
			rec := &commandertest.Recorder{ProcessFunc: stub.process}
			opts := Options{XML: config.XMLStripReinsert, Reinsertion: tt.reinsertion}
			e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, opts)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer e.Close()

			got, err := e.Translate(context.Background(), "<b>Hello</b> world")
			if err != nil {
				t.Fatalf("Translate: %v", err)
			}
			if got != "<b> Hallo </b> Welt" {
				t.Errorf("Translate() = %q", got)
			}
			if stub.calls[0] != "Hello world" {
				t.Errorf("decoder input = %q, want markup stripped", stub.calls[0])
			}

			args := decoderArgs(rec)
			if !strings.Contains(args, "-print-alignment-info") {
				t.Errorf("decoder args %q lack alignment output", args)
			}
			if strings.Contains(args, "-report-segmentation") != tt.segmentation {
				t.Errorf("decoder args %q, segmentation wanted: %v", args, tt.segmentation)
			}
		})
	}
}

func TestOpen_RejectsXMLOverride(t *testing.T) {
	tests := []struct {
		name    string
		backend config.Backend
		xml     config.XMLStrategy
	}{
		{"reinsertion on neural", config.BackendNeural, config.XMLStripReinsert},
		{"markup handling the model was not trained with", config.BackendStatistical, config.XMLMask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, fs := trainedEngine(t, func(c *config.TrainingConfig) { c.Backend = tt.backend })
			_, err := Open(context.Background(), dir, Deps{Runner: &commandertest.Recorder{}, Tools: testTools, FS: fs}, Options{XML: tt.xml})
			if !errors.Is(err, config.ErrInvalidArgument) {
				t.Errorf("Open() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

// nematusInputs records what the neural decoder reads.
type nematusInputs struct {
	mu    sync.Mutex
	lines []string
}

func (n *nematusInputs) run(cmd commander.Command) error {
	if isNematus(cmd) {
		data, err := os.ReadFile(cmd.Stdin)
		if err != nil {
			return err
		}
		n.mu.Lock()
		n.lines = append(n.lines, strings.Split(strings.TrimRight(string(data), "\n"), "\n")...)
		n.mu.Unlock()
	}
	return commandertest.CopyThrough(cmd)
}

func TestNematusEngine_StripsMarkup(t *testing.T) {
	dir, fs := trainedEngine(t, func(c *config.TrainingConfig) {
		c.Backend = config.BackendNeural
		c.Casing = config.CasingNone
		c.XML = config.XMLStrip
	})
	inputs := &nematusInputs{}
	rec := &commandertest.Recorder{RunFunc: inputs.run}
	e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{TempDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := e.Translate(context.Background(), "<b>Hello</b> world")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(inputs.lines) != 1 || inputs.lines[0] != "Hello world" {
		t.Errorf("decoder input = %q, want markup stripped", inputs.lines)
	}
	if got != "Hello world" {
		t.Errorf("Translate() = %q", got)
	}
}

func TestNematusEngine_IdentityMasking(t *testing.T) {
	dir, fs := trainedEngine(t, func(c *config.TrainingConfig) {
		c.Backend = config.BackendNeural
		c.Casing = config.CasingNone
		c.Masking = config.MaskingIdentity
	})
	inputs := &nematusInputs{}
	rec := &commandertest.Recorder{RunFunc: inputs.run}
	e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{TempDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	input := []string{"see http://example.com now", "", "mail me@example.org or http://x.org/a"}
	got, err := e.TranslateAll(context.Background(), input)
	if err != nil {
		t.Fatalf("TranslateAll: %v", err)
	}
	want := []string{"see __url_0__ now", "mail __email_0__ or __url_0__"}
	if len(inputs.lines) != len(want) {
		t.Fatalf("decoder input = %q", inputs.lines)
	}
	for i := range want {
		if inputs.lines[i] != want[i] {
			t.Errorf("decoder line %d = %q, want %q", i+1, inputs.lines[i], want[i])
		}
	}
	for i := range input {
		if got[i] != input[i] {
			t.Errorf("line %d = %q, want %q", i+1, got[i], input[i])
		}
	}

	tokenizerProtects := false
	for _, c := range rec.Commands {
		if strings.HasSuffix(c.Name, "tokenizer.perl") && strings.Contains(strings.Join(c.Args, " "), "protected-patterns.dat") {
			tokenizerProtects = true
		}
	}
	if !tokenizerProtects {
		t.Error("tokenizer does not protect masked patterns")
	}
}

func TestNematusEngine_BatchLeavesNoTempFiles(t *testing.T) {
	dir, fs := trainedEngine(t, func(c *config.TrainingConfig) { c.Backend = config.BackendNeural })
	tmp := t.TempDir()
	rec := &commandertest.Recorder{}
	e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{TempDir: tmp})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	input := []string{"Hello world", "a & b", "Good night"}
	got, err := e.TranslateAll(context.Background(), input)
	if err != nil {
		t.Fatalf("TranslateAll: %v", err)
	}
	for i := range input {
		if got[i] != input[i] {
			t.Errorf("line %d = %q, want %q", i+1, got[i], input[i])
		}
	}

	translations := 0
	for _, c := range rec.Commands {
		if isNematus(c) {
			translations++
		}
	}
	if translations != 1 {
		t.Errorf("decoder ran %d times, want 1", translations)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch directory left behind: %v", entries)
	}
}

func TestNematusEngine_KeepTemp(t *testing.T) {
	dir, fs := trainedEngine(t, func(c *config.TrainingConfig) { c.Backend = config.BackendNeural })
	tmp := t.TempDir()
	e, err := Open(context.Background(), dir, Deps{Runner: &commandertest.Recorder{}, Tools: testTools, FS: fs}, Options{TempDir: tmp, KeepTemp: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.Translate(context.Background(), "Hello"); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 1 {
		t.Errorf("expected the scratch directory to be kept, found %d entries", len(entries))
	}
}

func TestNematusEngine_LineCountMismatch(t *testing.T) {
	dir, fs := trainedEngine(t, func(c *config.TrainingConfig) { c.Backend = config.BackendNeural })
	tmp := t.TempDir()
	rec := &commandertest.Recorder{
		RunFunc: func(cmd commander.Command) error {
			if isNematus(cmd) {
				return os.WriteFile(cmd.Stdout, []byte("only one\n"), 0644)
			}
			return commandertest.CopyThrough(cmd)
		},
	}
	e, err := Open(context.Background(), dir, Deps{Runner: rec, Tools: testTools, FS: fs}, Options{TempDir: tmp})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := e.TranslateAll(context.Background(), []string{"one", "two"}); err == nil {
		t.Fatal("expected error for short decoder output")
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("scratch directory left behind after failure: %v", entries)
	}
}

func TestTranslateStream_BatchKeepsBlankLines(t *testing.T) {
	dir, fs := trainedEngine(t, func(c *config.TrainingConfig) { c.Backend = config.BackendNeural })
	e, err := Open(context.Background(), dir, Deps{Runner: &commandertest.Recorder{}, Tools: testTools, FS: fs}, Options{TempDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var out bytes.Buffer
	if err := TranslateStream(context.Background(), e, strings.NewReader("first\n\n  \nfourth\n"), &out); err != nil {
		t.Fatalf("TranslateStream: %v", err)
	}
	if got, want := out.String(), "first\n\n  \nfourth\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestSplitDecoderOutput(t *testing.T) {
	translation, alignment, err := splitDecoderOutput("das ist gut ||| 0-0 1-1 2-2", true)
	if err != nil {
		t.Fatalf("splitDecoderOutput: %v", err)
	}
	if translation != "das ist gut" {
		t.Errorf("translation = %q", translation)
	}
	if len(alignment) != 3 || alignment[2][0] != 2 {
		t.Errorf("alignment = %v", alignment)
	}

	if _, _, err := splitDecoderOutput("x ||| 0-a", true); err == nil {
		t.Error("expected error for malformed alignment")
	}
}
