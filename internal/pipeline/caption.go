package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"adstudio/internal/domain"
)

// Captioner derives a short description of an image.
type Captioner interface {
	Caption(ctx context.Context, imageURL string) (string, error)
}

// SyncService runs a generation job in a single synchronous call.
type SyncService interface {
	Run(ctx context.Context, spec domain.JobSpec) (*domain.GenerationJob, error)
}

// ModelCaptioner captions images with a hosted captioning model.
type ModelCaptioner struct {
	service      SyncService
	modelVersion string
}

// NewModelCaptioner returns a captioner running modelVersion on service.
func NewModelCaptioner(service SyncService, modelVersion string) *ModelCaptioner {
	return &ModelCaptioner{service: service, modelVersion: modelVersion}
}

// Caption implements Captioner.
func (c *ModelCaptioner) Caption(ctx context.Context, imageURL string) (string, error) {
	spec := domain.JobSpec{
		Kind:         domain.JobKindCaption,
		ModelVersion: c.modelVersion,
		Input:        map[string]any{"image": imageURL},
	}
	job, err := c.service.Run(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("run caption job: %w", err)
	}
	switch job.Status {
	case domain.JobStatusSucceeded:
	case domain.JobStatusFailed:
		return "", &domain.JobError{Kind: domain.JobKindCaption, JobID: job.ExternalJobID, Detail: job.ErrorDetail}
	default:
		return "", fmt.Errorf("caption job %s still %s: %w", job.ExternalJobID, job.Status, domain.ErrCaption)
	}
	return ParseCaption(job.Output)
}

// taskWrapper matches Florence-2 style output, a stringified mapping from the
// task token to its answer: {'<MORE_DETAILED_CAPTION>': 'A watch ...'}.
var taskWrapper = regexp.MustCompile(`^\{\s*['"]<[A-Z_]+>['"]\s*:\s*['"](.*)['"]\s*\}$`)

// ParseCaption extracts the caption from a captioning model's JSON output.
// Accepted shapes are a string, a list of string fragments, or an object with
// a "caption" or "text" field. Anything else, or an empty caption, wraps
// domain.ErrCaption.
func ParseCaption(output []byte) (string, error) {
	if len(output) == 0 {
		return "", fmt.Errorf("caption output is empty: %w", domain.ErrCaption)
	}
	var text string
	var asString string
	var asList []string
	var asObject struct {
		Caption *string `json:"caption"`
		Text    *string `json:"text"`
	}
	switch {
	case json.Unmarshal(output, &asString) == nil:
		text = asString
	case json.Unmarshal(output, &asList) == nil:
		text = strings.Join(asList, "")
	case json.Unmarshal(output, &asObject) == nil && (asObject.Caption != nil || asObject.Text != nil):
		if asObject.Caption != nil {
			text = *asObject.Caption
		} else {
			text = *asObject.Text
		}
	default:
		return "", fmt.Errorf("unrecognized caption output %.80s: %w", output, domain.ErrCaption)
	}
	text = strings.TrimSpace(text)
	if m := taskWrapper.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if text == "" {
		return "", fmt.Errorf("caption is blank: %w", domain.ErrCaption)
	}
	return text, nil
}

// RefinePrompt joins the configured prefix and a caption.
func RefinePrompt(prefix, caption string) string {
	return prefix + caption
}
