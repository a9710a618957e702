package handlers

import (
	"net/http"
)

// Health is a liveness probe. It does not reach the model provider or storage.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "service": "adstudio"})
}
