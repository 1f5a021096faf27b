package translator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/valpere/mtrain/internal/backend"
	"github.com/valpere/mtrain/internal/casing"
	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/layout"
	"github.com/valpere/mtrain/internal/masking"
	"github.com/valpere/mtrain/internal/postprocess"
	"github.com/valpere/mtrain/internal/reinsertion"
)

// MosesEngine translates one segment at a time through persistent tool
// processes. It is safe for concurrent use; segments are serialized.
type MosesEngine struct {
	info   config.EngineInfo
	opts   Options
	xml    config.XMLStrategy
	logger *zap.SugaredLogger
	mu     sync.Mutex
	procs  []commander.LineProcessor

	tokenizer   commander.LineProcessor
	truecaser   commander.LineProcessor
	decoder     commander.LineProcessor
	recaser     commander.LineProcessor
	detokenizer commander.LineProcessor
	masker      *masking.Masker
	reinserter  *reinsertion.Reinserter
	flags       backend.DecoderFlags
}

func newMosesEngine(ctx context.Context, l layout.Layout, info config.EngineInfo, deps Deps, opts Options) (*MosesEngine, error) {
	e := &MosesEngine{info: info, opts: opts, xml: effectiveXML(info, opts), logger: deps.Logger}

	// Masking follows the model as trained, whatever the markup handling.
	strategy := config.EffectiveMasking(info.Masking, info.XML)
	var protected string
	if strategy != config.MaskingNone {
		protected = filepath.Join(l.MaskingDir(string(strategy)), layout.ProtectedPatternsName)
		e.masker = masking.New(strategy, true)
		e.flags.Alignment = strategy == config.MaskingAlignment
		e.flags.XMLInput = true
	}
	if e.xml == config.XMLStripReinsert {
		placement, err := config.ParseReinsertionStrategy(string(opts.Reinsertion))
		if err != nil {
			return nil, err
		}
		e.reinserter = reinsertion.New(placement, opts.ForceReinsert)
		e.flags.Alignment = true
		e.flags.Segmentation = e.reinserter.NeedsSegmentation()
	}

	var err error
	start := func(cmd commander.Command) commander.LineProcessor {
		if err != nil {
			return nil
		}
		var p commander.LineProcessor
		p, err = deps.Runner.Start(ctx, cmd)
		if err == nil {
			e.procs = append(e.procs, p)
		}
		return p
	}

	e.tokenizer = start(backend.TokenizeCommand(deps.Tools, info.SrcLang, 1, protected))
	switch info.Casing {
	case config.CasingTruecasing:
		e.truecaser = start(casing.TruecaseCommand(deps.Tools, l, info.SrcLang))
	case config.CasingRecasing:
		e.recaser = start(casing.RecaseCommand(deps.Tools, l))
	}
	e.decoder = start(backend.DecoderCommand(deps.Tools, l, e.flags))
	if !opts.Tokenized {
		e.detokenizer = start(backend.DetokenizeCommand(deps.Tools, info.TrgLang))
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to start moses engine: %w", err)
	}
	return e, nil
}

func (e *MosesEngine) Name() config.Backend { return config.BackendStatistical }
func (e *MosesEngine) Batch() bool          { return false }

// Translate translates one segment. A blank segment is returned unchanged.
func (e *MosesEngine) Translate(ctx context.Context, segment string) (string, error) {
	if strings.TrimSpace(segment) == "" {
		return segment, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	source, markup, err := e.preprocess(segment)
	if err != nil {
		return "", err
	}
	var mapping []masking.Replacement
	var decoderInput string
	if e.masker != nil {
		source, mapping = e.masker.Mask(source)
		decoderInput = masking.ForceTranslation(source)
	} else {
		source = postprocess.Escape(source)
		decoderInput = source
	}

	output, err := e.decoder.Process(decoderInput)
	if err != nil {
		return "", fmt.Errorf("decoder: %w", err)
	}
	target, alignment, err := splitDecoderOutput(output, e.flags.Alignment)
	if err != nil {
		return "", err
	}
	var seg reinsertion.Segmentation
	if e.flags.Segmentation {
		if target, seg, err = reinsertion.ParseSegmentation(target); err != nil {
			return "", err
		}
	}
	if e.masker != nil {
		target = e.masker.Unmask(source, target, mapping, alignment)
		if masking.ContainsMask(target) {
			e.logger.Debugw("mask tokens left in translation", "translation", target)
		}
	}

	target, err = e.postprocess(target, markup, seg, alignment)
	if err != nil {
		return "", err
	}
	return postprocess.RestoreFirstLetter(segment, target, e.opts.Lowercase), nil
}

// preprocess tokenizes and cases segment. When markup is reinserted later,
// it also returns the tokenized segment with every tag as one token.
func (e *MosesEngine) preprocess(segment string) (string, []string, error) {
	var tokens string
	var markup []string
	var err error
	switch e.xml {
	case config.XMLStripReinsert:
		if tokens, markup, err = e.tokenizeMarkup(segment); err != nil {
			return "", nil, err
		}
	case config.XMLStrip:
		segment = postprocess.StripMarkup(segment)
		fallthrough
	default:
		if tokens, err = e.tokenizer.Process(segment); err != nil {
			return "", nil, fmt.Errorf("tokenizer: %w", err)
		}
	}
	switch e.info.Casing {
	case config.CasingTruecasing:
		if tokens, err = e.truecaser.Process(tokens); err != nil {
			return "", nil, fmt.Errorf("truecaser: %w", err)
		}
	case config.CasingRecasing:
		tokens = postprocess.Lowercase(tokens, e.info.SrcLang)
	}
	return tokens, markup, nil
}

// tokenizeMarkup tokenizes the text between the tags of segment. It returns
// the tokens without tags and the tokens with tags.
func (e *MosesEngine) tokenizeMarkup(segment string) (string, []string, error) {
	var text, markup []string
	for _, p := range reinsertion.Split(segment) {
		if p.Tag {
			markup = append(markup, p.Text)
			continue
		}
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		tokens, err := e.tokenizer.Process(strings.TrimSpace(p.Text))
		if err != nil {
			return "", nil, fmt.Errorf("tokenizer: %w", err)
		}
		fields := strings.Fields(tokens)
		text = append(text, fields...)
		markup = append(markup, fields...)
	}
	return strings.Join(text, " "), markup, nil
}

func (e *MosesEngine) postprocess(target string, markup []string, seg reinsertion.Segmentation, alignment masking.Alignment) (string, error) {
	var err error
	switch {
	case e.opts.Lowercase:
		target = postprocess.Lowercase(target, e.info.TrgLang)
	case e.recaser != nil:
		if target, err = e.recaser.Process(target); err != nil {
			return "", fmt.Errorf("recaser: %w", err)
		}
	}
	target = postprocess.Deescape(target)
	if e.reinserter != nil {
		target = e.reinserter.Reinsert(markup, target, seg, alignment)
	}
	if e.detokenizer != nil {
		if target, err = e.detokenizer.Process(target); err != nil {
			return "", fmt.Errorf("detokenizer: %w", err)
		}
	}
	return target, nil
}

// effectiveXML returns the markup handling at translation time: the
// override in opts, or the one the model was trained with.
func effectiveXML(info config.EngineInfo, opts Options) config.XMLStrategy {
	if opts.XML != config.XMLNone {
		return opts.XML
	}
	return info.XML
}

func (e *MosesEngine) TranslateAll(ctx context.Context, segments []string) ([]string, error) {
	out := make([]string, len(segments))
	for i, s := range segments {
		t, err := e.Translate(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}
		out[i] = t
	}
	return out, nil
}

func (e *MosesEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, p := range e.procs {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.procs = nil
	return errors.Join(errs...)
}

// splitDecoderOutput separates the translation from the word alignment the
// decoder appends after "|||" when alignment output is enabled.
func splitDecoderOutput(output string, withAlignment bool) (string, masking.Alignment, error) {
	if !withAlignment {
		return strings.TrimSpace(output), nil, nil
	}
	translation, points, found := strings.Cut(output, "|||")
	if !found {
		return strings.TrimSpace(output), nil, nil
	}
	alignment, err := masking.ParseAlignment(points)
	if err != nil {
		return "", nil, fmt.Errorf("decoder alignment: %w", err)
	}
	return strings.TrimSpace(translation), alignment, nil
}
