// Package admission decides, per inbound request, whether a caller may use
// the API. It resolves the key, looks up the tier, applies the feature gate
// and then counts the call against the quota windows.
package admission

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"divgate/internal/engine/features"
	"divgate/internal/engine/keys"
	"divgate/internal/engine/quota"
	"divgate/internal/engine/tiers"
	"divgate/internal/pkg/metrics"
	"divgate/internal/platform/models"
)

type CredentialResolver interface {
	Resolve(ctx context.Context, secret string, now time.Time) (*models.APICredential, error)
}

type PolicySource interface {
	PolicyFor(name string) tiers.Policy
}

type FeatureGate interface {
	Check(policy tiers.Policy, req features.Requirement, now time.Time) error
}

type QuotaEnforcer interface {
	CheckAndConsume(ctx context.Context, credentialID string, policy tiers.Policy, now time.Time) (quota.Result, error)
}

// AdmitRequest is what the transport layer extracts from a request.
// Invalid carries a parameter error found while building Requirement; it is
// reported only once the key has been authenticated.
type AdmitRequest struct {
	Secret      string
	Requirement features.Requirement
	Invalid     error
}

// Decision is the outcome of an admitted request. On rejection after a key
// was resolved, Admit also returns the partial Decision so the caller can
// audit the attempt and render rate headers.
type Decision struct {
	Credential *models.APICredential
	Policy     tiers.Policy
	Quota      quota.Result
	DecidedAt  time.Time
}

type Config struct {
	// StoreTimeout bounds each backing-store call. Zero means no bound
	// beyond the caller's context.
	StoreTimeout time.Duration
	Now          func() time.Time
	Metrics      *metrics.Collector
}

type Pipeline struct {
	resolver CredentialResolver
	policies PolicySource
	gate     FeatureGate
	enforcer QuotaEnforcer
	timeout  time.Duration
	now      func() time.Time
	metrics  *metrics.Collector
}

func NewPipeline(resolver CredentialResolver, policies PolicySource, gate FeatureGate, enforcer QuotaEnforcer, cfg Config) *Pipeline {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		resolver: resolver,
		policies: policies,
		gate:     gate,
		enforcer: enforcer,
		timeout:  cfg.StoreTimeout,
		now:      now,
		metrics:  cfg.Metrics,
	}
}

// Admit runs the admission steps in order: resolve, policy, request
// validity, feature gate, quota. The gate runs before the quota so a gated request never spends
// budget. Every error is terminal for the request.
func (p *Pipeline) Admit(ctx context.Context, req AdmitRequest) (*Decision, error) {
	start := time.Now()
	now := p.now()

	d, err := p.admit(ctx, req, now)

	tier := ""
	if d != nil {
		tier = d.Policy.Name
	}
	outcome := "admitted"
	if err != nil {
		outcome = strings.ToLower(Classify(err, now).Code)
	}
	p.metrics.ObserveAdmission(tier, outcome, time.Since(start))
	return d, err
}

func (p *Pipeline) admit(ctx context.Context, req AdmitRequest, now time.Time) (*Decision, error) {
	resolveCtx, cancel := p.withTimeout(ctx)
	cred, err := p.resolver.Resolve(resolveCtx, req.Secret, now)
	cancel()
	if err != nil {
		var storeErr *keys.StoreError
		if errors.As(err, &storeErr) {
			p.metrics.ObserveStoreError("resolve")
			log.Warn().Err(storeErr.Err).Msg("credential store unavailable, rejecting request")
			return nil, &ServiceUnavailableError{Op: "resolve credential", Err: storeErr.Err}
		}
		return nil, err
	}

	d := &Decision{
		Credential: cred,
		Policy:     p.policies.PolicyFor(cred.Tier),
		DecidedAt:  now,
	}

	if req.Invalid != nil {
		return d, &InvalidRequestError{Err: req.Invalid}
	}

	if err := p.gate.Check(d.Policy, req.Requirement, now); err != nil {
		return d, err
	}

	quotaCtx, cancel := p.withTimeout(ctx)
	res, err := p.enforcer.CheckAndConsume(quotaCtx, cred.ID, d.Policy, now)
	cancel()
	d.Quota = res
	if err != nil {
		var exceeded *QuotaExceededError
		if errors.As(err, &exceeded) {
			return d, err
		}
		p.metrics.ObserveStoreError("quota")
		log.Warn().Err(err).Str("credential_id", cred.ID).Msg("counter store unavailable, rejecting request")
		return d, &ServiceUnavailableError{Op: "consume quota", Err: err}
	}
	return d, nil
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}
