package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError maps store and engine errors onto status codes. Anything
// unexpected is logged and reported as 500 without leaking details.
func respondError(w http.ResponseWriter, log *zap.Logger, err error) {
	var already *exam.AlreadySubmittedError
	switch {
	case errors.As(err, &already):
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":    "test already submitted",
			"previous": already.Previous,
		})
	case errors.Is(err, exam.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, exam.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, exam.ErrUsernameTaken):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
