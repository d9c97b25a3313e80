package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps err to an HTTP status using its apperr.Kind when present,
// falling back to status for unclassified errors.
func writeError(w http.ResponseWriter, status int, err error) {
	var kind apperr.Kind
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		kind = appErr.Kind
		if mapped, ok := statusForKind[kind]; ok {
			status = mapped
		}
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}

var statusForKind = map[apperr.Kind]int{
	apperr.ConfigInvalid:           http.StatusBadRequest,
	apperr.SourceAuthInvalid:       http.StatusUnauthorized,
	apperr.DestinationAuthInvalid:  http.StatusUnauthorized,
	apperr.RateLimited:             http.StatusTooManyRequests,
	apperr.Transient:               http.StatusBadGateway,
	apperr.NotFound:                http.StatusNotFound,
	apperr.Conflict:                http.StatusConflict,
	apperr.Cancelled:               http.StatusRequestTimeout,
	apperr.Fatal:                   http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
