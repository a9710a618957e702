package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/pipeline"
)

// ImagePipeline runs the generation pipeline for one validated request.
type ImagePipeline interface {
	Run(ctx context.Context, req *domain.ImageRequest) ([]string, error)
}

// App holds the dependencies shared by the HTTP handlers.
type App struct {
	Pipeline    ImagePipeline
	Logger      *infra.Logger
	ImageLimits pipeline.ImageLimits
}

// NewApp builds an App with default image limits. A nil logger discards.
func NewApp(pipe ImagePipeline, logger *infra.Logger) *App {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &App{Pipeline: pipe, Logger: logger, ImageLimits: pipeline.DefaultImageLimits}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}
