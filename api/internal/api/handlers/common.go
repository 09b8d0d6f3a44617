// api/internal/api/handlers/common.go
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"kari/api/internal/core/domain"
)

// HandleError maps a service/domain error to the appropriate HTTP status and
// writes a structured JSON body, so individual handlers don't each hand-roll
// status-code mapping.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &verr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "validation failed: " + verr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, `{"message": "Not found"}`, http.StatusNotFound)
	default:
		slog.Default().Error("unhandled request error", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		http.Error(w, `{"message": "Internal server error"}`, http.StatusInternalServerError)
	}
}
