package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared by the pipeline and the HTTP layer.
var (
	ErrValidation    = errors.New("invalid request")
	ErrJobFailed     = errors.New("generation job failed")
	ErrEmptyOutput   = errors.New("no usable output")
	ErrJobTimeout    = errors.New("generation job timed out")
	ErrStorageWrite  = errors.New("storage write failed")
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	ErrCaption       = errors.New("caption unavailable")
)

// ValidationError identifies the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// JobError reports a generation job that reached the failed state.
type JobError struct {
	Kind   JobKind
	JobID  string
	Detail string
}

func (e *JobError) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = "no error detail"
	}
	return fmt.Sprintf("%s job %s failed: %s", e.Kind, e.JobID, detail)
}

func (e *JobError) Unwrap() error { return ErrJobFailed }
