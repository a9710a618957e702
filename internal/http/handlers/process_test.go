package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"adstudio/internal/domain"
	"adstudio/internal/middleware"
)

type stubPipeline struct {
	calls int
	last  *domain.ImageRequest
	urls  []string
	err   error
}

func (s *stubPipeline) Run(ctx context.Context, req *domain.ImageRequest) ([]string, error) {
	s.calls++
	s.last = req
	return s.urls, s.err
}

func imageDataURI(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func doProcess(t *testing.T, app *App, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := middleware.RequestID(http.HandlerFunc(app.ProcessImage))
	req := httptest.NewRequest(http.MethodPost, "/api/process-image", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestProcessImageRejectsOutOfRangeSize(t *testing.T) {
	uri := imageDataURI(t)
	for _, size := range []float64{0.1, 0.7} {
		pipe := &stubPipeline{}
		body := fmt.Sprintf(`{"imageData":%q,"prompt":"watch","productSize":%v}`, uri, size)
		rec := doProcess(t, NewApp(pipe, nil), body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("size %v: status = %d, want 400", size, rec.Code)
		}
		if msg, _ := decodeBody(t, rec)["error"].(string); !strings.Contains(msg, "productSize") {
			t.Fatalf("size %v: error %q should name productSize", size, msg)
		}
		if pipe.calls != 0 {
			t.Fatalf("size %v: pipeline called %d times", size, pipe.calls)
		}
	}
}

func TestProcessImageRejectsMalformedJSON(t *testing.T) {
	pipe := &stubPipeline{}
	rec := doProcess(t, NewApp(pipe, nil), `{"imageData":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if pipe.calls != 0 {
		t.Fatalf("pipeline called %d times", pipe.calls)
	}
}

func TestProcessImageSuccess(t *testing.T) {
	pipe := &stubPipeline{urls: []string{"https://bucket/outputs/a.webp", "https://bucket/outputs/b.webp"}}
	body := fmt.Sprintf(`{"imageData":%q,"prompt":" watch in a forest ","productSize":0.4}`, imageDataURI(t))
	rec := doProcess(t, NewApp(pipe, nil), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp processImageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(pipe.urls, resp.FinalImageURLs); diff != "" {
		t.Fatalf("urls mismatch (-want +got):\n%s", diff)
	}
	if pipe.calls != 1 {
		t.Fatalf("pipeline called %d times", pipe.calls)
	}
	if pipe.last.RequestID != "req-42" || pipe.last.Prompt != "watch in a forest" || pipe.last.ProductSizeFactor != 0.4 {
		t.Fatalf("unexpected request %+v", pipe.last)
	}
}

func TestProcessImageEmptyResultIsArray(t *testing.T) {
	pipe := &stubPipeline{}
	body := fmt.Sprintf(`{"imageData":%q,"prompt":"watch","productSize":0.2}`, imageDataURI(t))
	rec := doProcess(t, NewApp(pipe, nil), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"finalImageUrls":[]`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestProcessImageMapsPipelineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "job failed", err: &domain.JobError{Kind: domain.JobKindRefine, JobID: "p1", Detail: "NSFW content detected"}, code: http.StatusInternalServerError},
		{name: "empty output", err: fmt.Errorf("pipeline: %w", domain.ErrEmptyOutput), code: http.StatusInternalServerError},
		{name: "storage", err: fmt.Errorf("pipeline: stage input: %w", domain.ErrStorageWrite), code: http.StatusInternalServerError},
		{name: "timeout", err: fmt.Errorf("pipeline: %w", domain.ErrJobTimeout), code: http.StatusGatewayTimeout},
		{name: "other", err: errors.New("boom"), code: http.StatusInternalServerError},
	}
	uri := imageDataURI(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pipe := &stubPipeline{err: tc.err}
			body := fmt.Sprintf(`{"imageData":%q,"prompt":"watch","productSize":0.5}`, uri)
			rec := doProcess(t, NewApp(pipe, nil), body)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			if msg, _ := decodeBody(t, rec)["error"].(string); msg != tc.err.Error() {
				t.Fatalf("error = %q, want %q", msg, tc.err.Error())
			}
		})
	}
}

func TestProcessImageBodyTooLarge(t *testing.T) {
	pipe := &stubPipeline{}
	h := middleware.BodyLimit(16)(http.HandlerFunc(NewApp(pipe, nil).ProcessImage))
	req := httptest.NewRequest(http.MethodPost, "/api/process-image", strings.NewReader(`{"imageData":"data:image/png;base64,AAAA"}`))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if pipe.calls != 0 {
		t.Fatalf("pipeline called %d times", pipe.calls)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewApp(&stubPipeline{}, nil).Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "ok" {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestProcessImageNamesMistypedField(t *testing.T) {
	uri := imageDataURI(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "size as string", body: fmt.Sprintf(`{"imageData":%q,"prompt":"watch","productSize":"0.4"}`, uri), want: "productSize: must be a number"},
		{name: "prompt as number", body: fmt.Sprintf(`{"imageData":%q,"prompt":7,"productSize":0.4}`, uri), want: "prompt: must be a string"},
		{name: "image as object", body: `{"imageData":{},"prompt":"watch","productSize":0.4}`, want: "imageData: must be a string"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pipe := &stubPipeline{}
			rec := doProcess(t, NewApp(pipe, nil), tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if msg, _ := decodeBody(t, rec)["error"].(string); msg != tc.want {
				t.Fatalf("error = %q, want %q", msg, tc.want)
			}
			if pipe.calls != 0 {
				t.Fatalf("pipeline called %d times", pipe.calls)
			}
		})
	}
}

func TestProcessImageAppliesImageLimits(t *testing.T) {
	pipe := &stubPipeline{}
	app := NewApp(pipe, nil)
	app.ImageLimits.MaxSide = 1
	body := fmt.Sprintf(`{"imageData":%q,"prompt":"watch","productSize":0.4}`, imageDataURI(t))
	rec := doProcess(t, app, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if msg, _ := decodeBody(t, rec)["error"].(string); msg != "imageData: dimensions too large" {
		t.Fatalf("error = %q", msg)
	}
	if pipe.calls != 0 {
		t.Fatalf("pipeline called %d times", pipe.calls)
	}
}
