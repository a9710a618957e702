package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
)

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken = errors.New("replicate: api token is required")

// Options configures the Replicate predictions client.
type Options struct {
	APIToken       string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// SyncWait bounds how long Run asks the API to hold the connection open.
	SyncWait time.Duration
}

// Client performs HTTP calls to the Replicate predictions API.
type Client struct {
	token      string
	baseURL    string
	syncWait   time.Duration
	httpClient *http.Client
	logger     *infra.Logger
}

// Prediction mirrors the subset of the prediction resource the pipeline reads.
type Prediction struct {
	ID      string          `json:"id"`
	Version string          `json:"version"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Error   json.RawMessage `json:"error"`
	Logs    string          `json:"logs"`
}

type createRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type errorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("replicate: invalid base url: %w", err)
	}
	syncWait := opts.SyncWait
	if syncWait <= 0 || syncWait > 60*time.Second {
		syncWait = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		token:      strings.TrimSpace(opts.APIToken),
		baseURL:    baseURL,
		syncWait:   syncWait,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.token != ""
}

// Submit creates a prediction and returns its initial state without waiting.
func (c *Client) Submit(ctx context.Context, spec domain.JobSpec) (*domain.GenerationJob, error) {
	pred, err := c.create(ctx, spec, "")
	if err != nil {
		return nil, err
	}
	return c.job(pred), nil
}

// Get fetches the current state of a prediction.
func (c *Client) Get(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("replicate: prediction id is required")
	}
	var pred Prediction
	if err := c.do(ctx, http.MethodGet, "/predictions/"+url.PathEscape(jobID), nil, "", &pred); err != nil {
		return nil, err
	}
	return c.job(&pred), nil
}

// Run creates a prediction in synchronous mode. The API holds the request
// open until the prediction finishes or the wait window elapses; a prediction
// still running after that is returned as is for the caller to judge.
func (c *Client) Run(ctx context.Context, spec domain.JobSpec) (*domain.GenerationJob, error) {
	wait := fmt.Sprintf("wait=%d", int(c.syncWait/time.Second))
	pred, err := c.create(ctx, spec, wait)
	if err != nil {
		return nil, err
	}
	return c.job(pred), nil
}

const maxLoggedLogs = 2000

// job converts pred and logs the tail of the model logs for failed runs.
func (c *Client) job(pred *Prediction) *domain.GenerationJob {
	job := pred.Job()
	if job.Status == domain.JobStatusFailed {
		logs := strings.TrimSpace(pred.Logs)
		if len(logs) > maxLoggedLogs {
			logs = logs[len(logs)-maxLoggedLogs:]
		}
		c.logger.Warn().
			Str("job_id", pred.ID).
			Str("version", pred.Version).
			Str("status", pred.Status).
			Str("error", job.ErrorDetail).
			Str("logs", logs).
			Msg("replicate: prediction failed")
	}
	return job
}

func (c *Client) create(ctx context.Context, spec domain.JobSpec, prefer string) (*Prediction, error) {
	version := versionHash(spec.ModelVersion)
	if version == "" {
		return nil, errors.New("replicate: model version is required")
	}
	body, err := json.Marshal(createRequest{Version: version, Input: spec.Input})
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	var pred Prediction
	if err := c.do(ctx, http.MethodPost, "/predictions", body, prefer, &pred); err != nil {
		return nil, err
	}
	if pred.ID == "" {
		return nil, errors.New("replicate: prediction id missing from response")
	}
	c.logger.Debug().
		Str("model", spec.ModelName()).
		Str("kind", string(spec.Kind)).
		Str("job_id", pred.ID).
		Str("status", pred.Status).
		Msg("replicate: prediction created")
	return &pred, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, prefer string, out any) error {
	if !c.HasCredentials() {
		return ErrMissingAPIToken
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			return fmt.Errorf("replicate: %s (status %d)", detail.Detail, resp.StatusCode)
		}
		return fmt.Errorf("replicate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

// Job converts the prediction into the pipeline's job view.
func (p *Prediction) Job() *domain.GenerationJob {
	job := &domain.GenerationJob{
		ExternalJobID: p.ID,
		Status:        mapStatus(p.Status),
	}
	if job.Status == domain.JobStatusSucceeded && len(p.Output) > 0 && string(p.Output) != "null" {
		job.Output = []byte(p.Output)
		job.OutputURLs = outputURLs(p.Output)
	}
	if job.Status == domain.JobStatusFailed {
		job.ErrorDetail = errorDetail(p)
	}
	return job
}

func mapStatus(status string) domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded":
		return domain.JobStatusSucceeded
	case "failed", "canceled", "aborted":
		return domain.JobStatusFailed
	case "processing":
		return domain.JobStatusProcessing
	default:
		return domain.JobStatusQueued
	}
}

// outputURLs extracts URLs from an output that is either a single URL or a
// list of URLs. Any other shape yields nil.
func outputURLs(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		urls := make([]string, 0, len(list))
		for _, u := range list {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		return urls
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && isHTTPURL(single) {
		return []string{strings.TrimSpace(single)}
	}
	return nil
}

func errorDetail(p *Prediction) string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		if strings.EqualFold(p.Status, "canceled") {
			return "prediction was canceled"
		}
		return ""
	}
	var msg string
	if err := json.Unmarshal(p.Error, &msg); err == nil {
		return msg
	}
	return string(p.Error)
}

func versionHash(modelVersion string) string {
	modelVersion = strings.TrimSpace(modelVersion)
	if _, hash, ok := strings.Cut(modelVersion, ":"); ok {
		return hash
	}
	return modelVersion
}

func isHTTPURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

// Download fetches a generated file from its delivery URL. Delivery URLs are
// pre-signed, so no credentials are attached.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(fileURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("replicate: invalid file url: %s", fileURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("replicate: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: read file: %w", err)
	}
	format := resp.Header.Get("Content-Type")
	if format == "" || format == "application/octet-stream" {
		format = http.DetectContentType(data)
	}
	return data, format, nil
}
