package pipeline

import "fmt"

type Stage string

const (
	StageInit        Stage = "INIT"
	StagePreprocess  Stage = "PREPROCESS"
	StageCasing      Stage = "CASING"
	StageEngineTrain Stage = "ENGINE_TRAIN"
	StageTune        Stage = "TUNE"
	StageFinalize    Stage = "FINALIZE"
	StageEval        Stage = "EVAL"
	StageDone        Stage = "DONE"
)

// Stages lists the stages in execution order.
var Stages = []Stage{
	StageInit,
	StagePreprocess,
	StageCasing,
	StageEngineTrain,
	StageTune,
	StageFinalize,
	StageEval,
	StageDone,
}

// StageError reports the stage a run failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
