// Package api exposes the inbound HTTP surface: send, bulk, template,
// history, stats, cancellation and device registration.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pushline/go-push-delivery/pkg/push"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorBody{Error: message})
}

// writeDomainError maps call-level failures onto HTTP statuses. Partial
// delivery failure never lands here; it travels inside the Result body.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, push.ErrUninitialized):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, push.ErrTemplateNotFound), errors.Is(err, push.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, push.ErrEmptyAddressList):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
