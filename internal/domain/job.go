package domain

import "strings"

// JobKind names the pipeline stage a generation job belongs to.
type JobKind string

const (
	JobKindInpaint JobKind = "inpaint"
	JobKindCaption JobKind = "caption"
	JobKindRefine  JobKind = "refine"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// GenerationJob is the local view of a job running on an external generation
// service. It is created by a submit call and mutated only by polling.
type GenerationJob struct {
	ExternalJobID string
	Status        JobStatus
	// Output is the raw JSON output of the job; nil until it succeeds.
	Output      []byte
	OutputURLs  []string
	ErrorDetail string
}

// JobSpec describes one submission to a generation service.
type JobSpec struct {
	Kind         JobKind
	ModelVersion string
	Input        map[string]any
}

// ModelName strips the version hash from an "owner/name:version" identifier.
func (s JobSpec) ModelName() string {
	name, _, _ := strings.Cut(s.ModelVersion, ":")
	return name
}
