package evaluation

import (
	"errors"
	"fmt"
)

// ErrSuperseded is returned by a stage when a newer evaluation for the same
// pull request made the current one obsolete.
var ErrSuperseded = errors.New("evaluation superseded by newer pull request state")

// StageError is an external-call failure that ends a run in ERROR with Code.
type StageError struct {
	Stage string
	Code  ReasonCode
	Err   error
}

// NewStageError wraps err for stage with the reason code it maps to.
func NewStageError(stage string, code ReasonCode, err error) *StageError {
	return &StageError{Stage: stage, Code: code, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Code, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
