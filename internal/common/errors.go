package common

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by clients, services and the HTTP layer.
var (
	// ErrCollaboratorUnavailable marks a timeout or connection failure to an external service.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrEmbedding marks a failed embedding call or a malformed embedding batch.
	ErrEmbedding = errors.New("embedding error")

	// ErrInvalidInput marks a malformed query or ticker list.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPipelineFatal marks a query that failed in a stage it cannot proceed without.
	ErrPipelineFatal = errors.New("pipeline failed")
)

// Pipeline stage names, in execution order.
const (
	StageClearIndex      = "CLEAR_INDEX"
	StageFetchMarketData = "FETCH_MARKET_DATA"
	StageAnalyze         = "ANALYZE"
	StageIngestNews      = "INGEST_NEWS"
	StageRetrieve        = "RETRIEVE"
	StageCompose         = "COMPOSE"
	StageDone            = "DONE"
)

// PipelineError wraps the failure of a fatal pipeline stage.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes both the fatal marker and the underlying cause to errors.Is/As.
func (e *PipelineError) Unwrap() []error {
	return []error{ErrPipelineFatal, e.Err}
}

// NewPipelineError wraps err as a fatal failure of stage.
func NewPipelineError(stage string, err error) *PipelineError {
	return &PipelineError{Stage: stage, Err: err}
}

// StageOf returns the failed stage name if err is a PipelineError.
func StageOf(err error) (string, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}
