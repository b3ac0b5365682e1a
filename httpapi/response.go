package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sagarc03/blobcache"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(ErrorResponse{Error: errCode, Message: message}); err != nil {
		slog.Error("encode error response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

// WriteJSON writes a JSON success response.
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
	return nil
}

// HandleError maps a blobcache sentinel error to a status code and writes
// the response, in one place so handlers never duplicate the mapping.
func HandleError(w http.ResponseWriter, err error) {
	slog.Error("request error", "error", err)

	switch {
	case errors.Is(err, blobcache.ErrNotFound), errors.Is(err, blobcache.ErrExpired):
		WriteError(w, http.StatusNotFound, "not_found", "file not found")
	case errors.Is(err, blobcache.ErrValidation):
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, blobcache.ErrSizeExceeded):
		WriteError(w, http.StatusRequestEntityTooLarge, "size_exceeded", err.Error())
	case errors.Is(err, blobcache.ErrMimeNotAllowed):
		WriteError(w, http.StatusBadRequest, "mime_not_allowed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing bearer token")
	case errors.Is(err, blobcache.ErrBackendMissing):
		WriteError(w, http.StatusInternalServerError, "backend_missing", "stored object is missing")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
