package handlers

import (
	"errors"
	"net/http"

	"github.com/wonny/bullscan/internal/auth"
	"github.com/wonny/bullscan/internal/scan"
	"github.com/wonny/bullscan/pkg/logger"
)

// AuthHandler serves registration, login and session checks
type AuthHandler struct {
	auth   *auth.Service
	limits *scan.Limits
	logger *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc *auth.Service, limits *scan.Limits, log *logger.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, limits: limits, logger: log}
}

// Register creates an account
// POST /api/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tok, err := h.auth.Register(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrUserExists):
		respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidInvite):
		respondError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		h.logger.WithError(err).Error("Registration failed")
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"token":   tok.AccessToken,
		"expires": tok.ExpiresAt,
		"user":    tok.User,
	})
}

// Login exchanges credentials for a token
// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tok, err := h.auth.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	case errors.Is(err, auth.ErrAccountDisabled):
		respondError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		h.logger.WithError(err).Error("Login failed")
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	respondOK(w, map[string]interface{}{
		"token":   tok.AccessToken,
		"expires": tok.ExpiresAt,
		"user":    tok.User,
	})
}

// Logout revokes the current token
// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	if err := h.auth.Logout(r.Context(), claims); err != nil {
		h.logger.WithError(err).Error("Logout failed")
		respondError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	respondOK(w, nil)
}

// CheckLogin returns the current account with its tier quotas
// GET /api/check_login
func (h *AuthHandler) CheckLogin(w http.ResponseWriter, r *http.Request) {
	username, _ := caller(r)
	user, err := h.auth.User(r.Context(), username)
	if errors.Is(err, auth.ErrUserNotFound) {
		respondError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to load user")
		respondError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	used, err := h.limits.Used(r.Context(), username)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read scan counter")
	}

	respondOK(w, map[string]interface{}{
		"logged_in":        true,
		"user":             user,
		"scans_today":      used,
		"can_view_results": h.limits.CanViewResults(user.Tier) == nil,
	})
}
