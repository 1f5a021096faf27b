// Package translator translates text with an engine trained by the
// pipeline. It rebuilds the preprocessing and postprocessing chain used in
// training from the configuration snapshot of the model directory.
package translator

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/valpere/mtrain/internal/config"
	"github.com/valpere/mtrain/internal/layout"
)

// Open reads the snapshot below basepath and returns the matching engine.
// Long-running tool processes of the engine live until Close or until ctx
// is cancelled.
func Open(ctx context.Context, basepath string, deps Deps, opts Options) (Engine, error) {
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("translator: no command runner")
	}

	snapshot := layout.New(basepath, "", "").Snapshot()
	info, err := config.LoadEngineInfo(deps.FS, snapshot)
	if err != nil {
		return nil, err
	}
	if err := checkXMLOverride(info, opts); err != nil {
		return nil, err
	}
	l := layout.New(basepath, info.SrcLang, info.TrgLang)
	deps.Logger.Debugw("opening engine",
		"backend", info.Backend,
		"casing", info.Casing,
		"masking", config.EffectiveMasking(info.Masking, info.XML),
		"xml", effectiveXML(info, opts),
	)

	switch info.Backend {
	case config.BackendStatistical:
		e, err := newMosesEngine(ctx, l, info, deps, opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.BackendNeural:
		return newNematusEngine(l, info, deps, opts), nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidArgument, info.Backend)
}

// checkXMLOverride rejects markup handling the engine cannot honour.
// Reinsertion needs the word alignment that only the Moses decoder reports.
func checkXMLOverride(info config.EngineInfo, opts Options) error {
	switch opts.XML {
	case config.XMLNone, info.XML:
		return nil
	case config.XMLStripReinsert:
		if info.Backend != config.BackendStatistical {
			return fmt.Errorf("%w: xml strategy %s needs the %s backend", config.ErrInvalidArgument, opts.XML, config.BackendStatistical)
		}
		return nil
	}
	return fmt.Errorf("%w: model was trained with xml strategy %q, cannot translate with %q", config.ErrInvalidArgument, info.XML, opts.XML)
}
