package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dxbevents/eventkeeper/internal/apperr"
	"github.com/dxbevents/eventkeeper/internal/auth"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	config auth.Config
	logger *slog.Logger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(config auth.Config, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		config: config,
		logger: logger,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	token, expiresAt, err := h.config.Login(req.Password)
	switch {
	case errors.Is(err, auth.ErrDisabled):
		writeError(w, h.logger, apperr.Configuration("api.login", err.Error()))
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.logger.Warn("failed login attempt", "ip", r.RemoteAddr)
		writeJSON(w, h.logger, http.StatusUnauthorized, errorBody{Error: errorDetail{Kind: "unauthorized", Message: "invalid credentials"}})
		return
	case err != nil:
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("successful login", "ip", r.RemoteAddr)
	writeJSON(w, h.logger, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}
