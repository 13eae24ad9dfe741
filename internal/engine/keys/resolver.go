package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"divgate/internal/platform/models"
)

// ErrNotFound is returned by a CredentialStore when no credential has the
// given hash.
var ErrNotFound = errors.New("credential not found")

// CredentialStore is the durable record of issued keys.
type CredentialStore interface {
	LookupByHash(ctx context.Context, hash string) (*models.APICredential, error)
}

type AuthReason string

const (
	AuthMissing  AuthReason = "missing"
	AuthInvalid  AuthReason = "invalid"
	AuthInactive AuthReason = "inactive"
	AuthExpired  AuthReason = "expired"
)

// AuthError rejects a caller whose key cannot be accepted.
type AuthError struct {
	Reason AuthReason
}

func (e *AuthError) Error() string {
	switch e.Reason {
	case AuthMissing:
		return "API key required"
	case AuthInactive:
		return "API key is inactive"
	case AuthExpired:
		return "API key has expired"
	default:
		return "invalid API key"
	}
}

// StoreError wraps a failed or timed-out credential lookup. The caller must
// reject the request.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("credential store: %v", e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

type Resolver struct {
	store  CredentialStore
	prefix string
	cache  *CredentialCache
	group  singleflight.Group
}

type ResolverConfig struct {
	// KeyPrefix, when set, rejects secrets without the issued shape before
	// any lookup.
	KeyPrefix string
	// CacheTTL of zero disables caching.
	CacheTTL time.Duration
}

func NewResolver(store CredentialStore, cfg ResolverConfig) *Resolver {
	r := &Resolver{store: store, prefix: cfg.KeyPrefix}
	if cfg.CacheTTL > 0 {
		r.cache = NewCredentialCache(cfg.CacheTTL)
	}
	return r
}

// Resolve maps a presented secret to its credential. It never logs the
// secret and never falls back to an implicit tier.
func (r *Resolver) Resolve(ctx context.Context, secret string, now time.Time) (*models.APICredential, error) {
	if secret == "" {
		return nil, &AuthError{Reason: AuthMissing}
	}
	if !WellFormed(secret, r.prefix) {
		return nil, &AuthError{Reason: AuthInvalid}
	}

	cred, err := r.lookup(ctx, Hash(secret))
	if err != nil {
		return nil, err
	}
	if err := checkUsable(cred, now); err != nil {
		return nil, err
	}
	return cred, nil
}

func (r *Resolver) lookup(ctx context.Context, hash string) (*models.APICredential, error) {
	if r.cache != nil {
		if cred, ok := r.cache.Get(hash); ok {
			return cred, nil
		}
	}

	v, err, _ := r.group.Do(hash, func() (interface{}, error) {
		return r.store.LookupByHash(ctx, hash)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &AuthError{Reason: AuthInvalid}
		}
		return nil, &StoreError{Err: err}
	}

	cred := v.(*models.APICredential)
	if cred == nil {
		return nil, &AuthError{Reason: AuthInvalid}
	}
	if r.cache != nil {
		r.cache.Set(hash, cred)
	}
	return cred, nil
}

// Invalidate drops a cached credential, e.g. after revocation in this
// process.
func (r *Resolver) Invalidate(hash string) {
	if r.cache != nil {
		r.cache.Delete(hash)
	}
}

func checkUsable(cred *models.APICredential, now time.Time) error {
	if !cred.IsActive || cred.RevokedAt != nil {
		return &AuthError{Reason: AuthInactive}
	}
	if cred.ExpiresAt != nil && now.Unix() >= *cred.ExpiresAt {
		return &AuthError{Reason: AuthExpired}
	}
	return nil
}
