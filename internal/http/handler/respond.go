package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"keepsake/internal/gift"
	"keepsake/internal/logging"
)

const maxBodyBytes = 1 << 20

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: msg}})
}

func writeInvalid(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]apiError{"error": {
		Code:    "validation_failed",
		Message: "request has invalid fields",
		Fields:  fields,
	}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return false
	}
	return true
}

// writeStoreError maps repository errors to responses. Anything unknown is
// logged and reported as a 500 without detail.
func writeStoreError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	switch {
	case errors.Is(err, gift.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, gift.ErrCardOpened):
		writeError(w, http.StatusConflict, "card_opened", err.Error())
	case errors.Is(err, gift.ErrNotPending):
		writeError(w, http.StatusConflict, "not_pending", err.Error())
	case errors.Is(err, gift.ErrInvalidKind):
		writeInvalid(w, map[string]string{"product_kind": err.Error()})
	case errors.Is(err, gift.ErrInvalidCardSet):
		writeInvalid(w, map[string]string{"cards": err.Error()})
	case errors.Is(err, gift.ErrTooManyImages):
		writeInvalid(w, map[string]string{"images": err.Error()})
	case errors.Is(err, gift.ErrEmptyPatch):
		writeError(w, http.StatusBadRequest, "empty_patch", err.Error())
	default:
		log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "server error")
	}
}
