package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"divgate/internal/pkg/errors"
	"divgate/internal/platform/auth"
	"divgate/internal/platform/config"
)

// AuthHandler issues operator tokens for the admin API. There is a single
// operator account configured under admin.
type AuthHandler struct {
	admin    config.AdminConfig
	tokenSvc *auth.TokenService
}

func NewAuthHandler(admin config.AdminConfig, tokenSvc *auth.TokenService) *AuthHandler {
	return &AuthHandler{admin: admin, tokenSvc: tokenSvc}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if !auth.CheckAdmin(h.admin.Username, h.admin.PasswordHash, req.Username, req.Password) {
		log.Warn().Str("username", req.Username).Msg("admin login rejected")
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid credentials", nil)
		return
	}

	token, expires, err := h.tokenSvc.GenerateAccessToken(req.Username, auth.RoleAdmin)
	if err != nil {
		log.Error().Err(err).Msg("failed to sign admin token")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expires.Truncate(time.Second).Unix(),
	})
}
