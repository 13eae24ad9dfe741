package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "divgate/internal/api/context"
	"divgate/internal/engine/keys"
	"divgate/internal/engine/tiers"
	"divgate/internal/pkg/errors"
	"divgate/internal/pkg/validator"
	"divgate/internal/platform/models"
	"divgate/internal/platform/repositories"
)

// CredentialAdmin is the write side of the credential store.
type CredentialAdmin interface {
	Create(ctx context.Context, cred *models.APICredential) error
	GetByID(ctx context.Context, id string) (*models.APICredential, error)
	ListByAccount(ctx context.Context, accountID string) ([]*models.APICredential, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	Rotate(ctx context.Context, id, newHash, newPrefix string) error
}

// CredentialInvalidator drops a cached credential so a revoke or rotate
// takes effect before the cache entry expires.
type CredentialInvalidator interface {
	Invalidate(hash string)
}

type TierLookup interface {
	Lookup(name string) (tiers.Policy, bool)
}

type APIKeyHandler struct {
	repo      CredentialAdmin
	resolver  CredentialInvalidator
	tiers     TierLookup
	keyPrefix string
	now       func() time.Time
}

func NewAPIKeyHandler(repo CredentialAdmin, resolver CredentialInvalidator, registry TierLookup, keyPrefix string) *APIKeyHandler {
	return &APIKeyHandler{
		repo:      repo,
		resolver:  resolver,
		tiers:     registry,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

type IssueKeyRequest struct {
	AccountID     string `json:"account_id"`
	Name          string `json:"name"`
	Tier          string `json:"tier"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// IssuedKey carries the raw secret. It is returned exactly once.
type IssuedKey struct {
	*models.APICredential
	Key string `json:"key"`
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req IssueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validator.AccountID(req.AccountID); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "account_id is required and may only contain letters, digits, '-' and '_'", nil)
		return
	}
	if req.ExpiresInDays < 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "expires_in_days must not be negative", nil)
		return
	}
	policy, ok := h.tiers.Lookup(req.Tier)
	if !ok {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown tier", map[string]string{"tier": req.Tier})
		return
	}

	secret, hash, display, err := keys.Generate(h.keyPrefix)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate api key")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate key", nil)
		return
	}

	now := h.now()
	cred := &models.APICredential{
		ID:        "key_" + uuid.NewString(),
		AccountID: req.AccountID,
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: display,
		Tier:      policy.Name,
		IsActive:  true,
		CreatedAt: now.Unix(),
	}
	if req.ExpiresInDays > 0 {
		exp := now.AddDate(0, 0, req.ExpiresInDays).Unix()
		cred.ExpiresAt = &exp
	}

	if err := h.repo.Create(r.Context(), cred); err != nil {
		log.Error().Err(err).Str("account_id", req.AccountID).Msg("failed to store api key")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create key", nil)
		return
	}

	log.Info().Str("key_id", cred.ID).Str("account_id", cred.AccountID).Str("tier", cred.Tier).Msg("api key issued")
	errors.WriteJSON(w, http.StatusCreated, IssuedKey{APICredential: cred, Key: secret})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	accountID := params.ByName("account_id")

	creds, err := h.repo.ListByAccount(r.Context(), accountID)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to list api keys")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list keys", nil)
		return
	}
	if creds == nil {
		creds = []*models.APICredential{}
	}
	errors.WriteJSON(w, http.StatusOK, creds)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	keyID := params.ByName("key_id")

	cred, err := h.repo.GetByID(r.Context(), keyID)
	if err != nil {
		log.Error().Err(err).Str("key_id", keyID).Msg("failed to load api key")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to revoke key", nil)
		return
	}
	if cred == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "API key not found", nil)
		return
	}

	if _, err := h.repo.Revoke(r.Context(), keyID, h.now()); err != nil {
		log.Error().Err(err).Str("key_id", keyID).Msg("failed to revoke api key")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to revoke key", nil)
		return
	}
	h.resolver.Invalidate(cred.KeyHash)

	log.Info().Str("key_id", keyID).Str("account_id", cred.AccountID).Msg("api key revoked")
	w.WriteHeader(http.StatusNoContent)
}

// Rotate replaces the secret behind a key. The credential ID is kept, so
// usage already counted this month stays with the key.
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	keyID := params.ByName("key_id")

	cred, err := h.repo.GetByID(r.Context(), keyID)
	if err != nil {
		log.Error().Err(err).Str("key_id", keyID).Msg("failed to load api key")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to rotate key", nil)
		return
	}
	if cred == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "API key not found", nil)
		return
	}

	secret, hash, display, err := keys.Generate(h.keyPrefix)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate api key")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate key", nil)
		return
	}

	if err := h.repo.Rotate(r.Context(), keyID, hash, display); err != nil {
		if stderrors.Is(err, repositories.ErrConflict) {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Revoked keys cannot be rotated", nil)
			return
		}
		log.Error().Err(err).Str("key_id", keyID).Msg("failed to rotate api key")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to rotate key", nil)
		return
	}
	h.resolver.Invalidate(cred.KeyHash)

	cred.KeyHash = hash
	cred.KeyPrefix = display
	log.Info().Str("key_id", keyID).Str("account_id", cred.AccountID).Msg("api key rotated")
	errors.WriteJSON(w, http.StatusOK, IssuedKey{APICredential: cred, Key: secret})
}
