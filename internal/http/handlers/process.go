package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"

	"adstudio/internal/domain"
	"adstudio/internal/middleware"
	"adstudio/internal/pipeline"
)

type processImageResponse struct {
	FinalImageURLs []string `json:"finalImageUrls"`
}

// ProcessImage validates the upload, runs the pipeline and returns the public
// URLs of the refined images.
func (a *App) ProcessImage(w http.ResponseWriter, r *http.Request) {
	var raw pipeline.RawRequest
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			a.error(w, http.StatusBadRequest, typeErr.Field+": "+expectedType(typeErr.Type.Kind()))
			return
		}
		a.error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	req, err := pipeline.ValidateWithLimits(raw, a.ImageLimits)
	if err != nil {
		a.error(w, http.StatusBadRequest, err.Error())
		return
	}
	req.RequestID = middleware.RequestIDFromContext(r.Context())

	urls, err := a.Pipeline.Run(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		a.Logger.Error().Err(err).Str("request_id", req.RequestID).Int("status", code).Msg("process image failed")
		a.error(w, code, err.Error())
		return
	}
	if urls == nil {
		urls = []string{}
	}
	a.json(w, http.StatusOK, processImageResponse{FinalImageURLs: urls})
}

func expectedType(kind reflect.Kind) string {
	switch kind {
	case reflect.String:
		return "must be a string"
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
		return "must be a number"
	default:
		return "has the wrong type"
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
