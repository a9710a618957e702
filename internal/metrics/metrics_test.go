package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"adstudio/internal/domain"
)

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&domain.ValidationError{Field: "prompt", Reason: "is required"}, "invalid"},
		{fmt.Errorf("pipeline: %w", domain.ErrJobTimeout), "timeout"},
		{&domain.JobError{Kind: domain.JobKindRefine, JobID: "x"}, "job_failed"},
		{fmt.Errorf("inpaint: %w", domain.ErrEmptyOutput), "empty_output"},
		{errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		if got := Outcome(tc.err); got != tc.want {
			t.Fatalf("Outcome(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ObserveRequest(nil)
	c.ObserveStage("inpaint", time.Now(), nil)
	c.ObservePolls(domain.JobKindInpaint, 3)
	c.ManifestFailed()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{
		`adstudio_pipeline_requests_total{outcome="ok"} 1`,
		"adstudio_pipeline_stage_duration_seconds_count",
		"adstudio_generation_poll_attempts_count",
		"adstudio_manifest_write_failures_total 1",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics output missing %q", name)
		}
	}
}

func TestNilCollectorsAreNoop(t *testing.T) {
	var c *Collectors
	c.ObserveRequest(errors.New("x"))
	c.ObserveStage("refine", time.Now(), nil)
	c.ObservePolls(domain.JobKindRefine, 1)
	c.ManifestFailed()
}
