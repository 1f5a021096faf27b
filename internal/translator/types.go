package translator

import (
	"context"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/valpere/mtrain/internal/commander"
	"github.com/valpere/mtrain/internal/config"
)

// Options control postprocessing of translations.
type Options struct {
	// Lowercase lowercases the output instead of restoring case.
	Lowercase bool
	// Tokenized keeps the output tokenized and escaped.
	Tokenized bool
	// KeepTemp keeps the scratch directory of batch engines.
	KeepTemp bool
	// TempDir is the parent of batch scratch directories; "" means the
	// system default.
	TempDir string
	// Device selects the neural decoding device, e.g. "cpu" or "cuda0".
	Device string
	// XML overrides the markup handling the model was trained with. Only
	// config.XMLStripReinsert differs from the training value; "" keeps it.
	XML config.XMLStrategy
	// Reinsertion selects how stripped markup is put back with
	// config.XMLStripReinsert.
	Reinsertion config.ReinsertionStrategy
	// ForceReinsert appends tags that cannot be placed instead of dropping
	// them.
	ForceReinsert bool
}

// Deps are the collaborators of an engine.
type Deps struct {
	Runner commander.Runner
	Tools  config.Toolchain
	Logger *zap.SugaredLogger
	FS     afero.Fs
}

// Engine translates segments with a trained model directory.
type Engine interface {
	Name() config.Backend
	// Translate translates one segment. A blank segment is returned
	// unchanged without reaching the decoder.
	Translate(ctx context.Context, segment string) (string, error)
	// TranslateAll translates segments in order.
	TranslateAll(ctx context.Context, segments []string) ([]string, error)
	// Batch reports whether the engine prefers whole inputs over single
	// segments.
	Batch() bool
	Close() error
}
