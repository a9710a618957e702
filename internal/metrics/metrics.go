package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adstudio/internal/domain"
)

// Collectors groups the pipeline's Prometheus instruments. A nil *Collectors
// is valid and records nothing.
type Collectors struct {
	requests         *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	pollAttempts     *prometheus.HistogramVec
	manifestFailures prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adstudio",
			Name:      "pipeline_requests_total",
			Help:      "Pipeline requests by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adstudio",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Wall time spent per pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage", "outcome"}),
		pollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adstudio",
			Name:      "generation_poll_attempts",
			Help:      "Status polls issued per generation job.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
		}, []string{"kind"}),
		manifestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adstudio",
			Name:      "manifest_write_failures_total",
			Help:      "Manifest writes that failed and were skipped.",
		}),
	}
	reg.MustRegister(c.requests, c.stageDuration, c.pollAttempts, c.manifestFailures)
	return c
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveRequest counts a finished pipeline request.
func (c *Collectors) ObserveRequest(err error) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(Outcome(err)).Inc()
}

// ObserveStage records how long stage took since start.
func (c *Collectors) ObserveStage(stage string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage, Outcome(err)).Observe(time.Since(start).Seconds())
}

// ObservePolls records the number of status polls a job needed.
func (c *Collectors) ObservePolls(kind domain.JobKind, attempts int) {
	if c == nil {
		return
	}
	c.pollAttempts.WithLabelValues(string(kind)).Observe(float64(attempts))
}

// ManifestFailed counts a swallowed manifest write failure.
func (c *Collectors) ManifestFailed() {
	if c == nil {
		return
	}
	c.manifestFailures.Inc()
}

// Outcome maps an error to a low-cardinality label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrJobTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrJobFailed):
		return "job_failed"
	case errors.Is(err, domain.ErrEmptyOutput):
		return "empty_output"
	case errors.Is(err, domain.ErrCaption):
		return "caption_failed"
	case errors.Is(err, domain.ErrStorageWrite):
		return "storage_failed"
	case errors.Is(err, domain.ErrUpstreamFetch):
		return "fetch_failed"
	default:
		return "error"
	}
}
