package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// TokenAPI manages device registration so the registry knows where to
// deliver for a user.
type TokenAPI struct {
	registry push.DeviceRegistry
	logger   *slog.Logger
}

func NewTokenAPI(registry push.DeviceRegistry, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		registry: registry,
		logger:   logger.With("component", "TokenAPI"),
	}
}

func (a *TokenAPI) RegisterRoutes(r chi.Router) {
	r.Post("/register", a.Register)
	r.Post("/unregister", a.Unregister)
}

type registerRequest struct {
	UserID  string       `json:"user_id"`
	Channel push.Channel `json:"channel"`
	Token   string       `json:"token"`
}

func (a *TokenAPI) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r)
	if !ok {
		return
	}

	addr := push.Address{Channel: req.Channel, Token: req.Token}
	if err := a.registry.Register(r.Context(), req.UserID, addr); err != nil {
		a.logger.Error("Failed to register address", "user_id", req.UserID, "channel", req.Channel, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	a.logger.Info("Address registered", "user_id", req.UserID, "channel", req.Channel)
	w.WriteHeader(http.StatusNoContent)
}

func (a *TokenAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r)
	if !ok {
		return
	}

	addr := push.Address{Channel: req.Channel, Token: req.Token}
	if err := a.registry.Unregister(r.Context(), req.UserID, addr); err != nil {
		// Idempotency is preferred for unregister; log and carry on.
		a.logger.Warn("Failed to unregister address", "user_id", req.UserID, "channel", req.Channel, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *TokenAPI) decode(w http.ResponseWriter, r *http.Request) (registerRequest, bool) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return req, false
	}
	if req.UserID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing user_id")
		return req, false
	}
	if !req.Channel.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "unknown channel")
		return req, false
	}
	if req.Token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing token")
		return req, false
	}
	return req, true
}
