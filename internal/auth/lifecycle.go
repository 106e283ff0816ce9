package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Anneragh/ui-development-kit-sub001/internal/api"
	"github.com/Anneragh/ui-development-kit-sub001/internal/crypto"
	"github.com/Anneragh/ui-development-kit-sub001/internal/environments"
	"github.com/Anneragh/ui-development-kit-sub001/internal/secret"
)

// refreshLookahead is how far before actual expiry a token is already
// treated as needing refresh, so callers never race real expiry.
const refreshLookahead = 5 * time.Minute

// TenantProber confirms a token is accepted server-side, independent of
// local expiry bookkeeping. *api.Client satisfies it.
type TenantProber interface {
	FetchTenant(ctx context.Context, baseURL, token string) (*api.Tenant, error)
}

// ValidationResult is the transient outcome of a credential check. It is
// recomputed on every call and never persisted.
type ValidationResult struct {
	Mode         environments.AuthMode
	IsValid      bool
	NeedsRefresh bool
	Token        string
	Expiry       time.Time
}

// TokenLifecycle decides whether an environment's stored credentials are
// usable, expiring, or dead, and drives the matching flow's refresh.
type TokenLifecycle struct {
	secrets *secret.Store
	probe   TenantProber
	oauth   *OAuthFlow
	pat     *PATFlow
	session *SessionHandle
	logger  *slog.Logger
	now     func() time.Time
}

// NewTokenLifecycle wires the decision engine.
func NewTokenLifecycle(secrets *secret.Store, probe TenantProber, oauth *OAuthFlow, pat *PATFlow, session *SessionHandle, logger *slog.Logger) *TokenLifecycle {
	return &TokenLifecycle{
		secrets: secrets,
		probe:   probe,
		oauth:   oauth,
		pat:     pat,
		session: session,
		logger:  logger,
		now:     time.Now,
	}
}

// Validate checks the environment's stored credentials against local expiry
// bookkeeping and, when those look fine, against the upstream itself.
func (l *TokenLifecycle) Validate(ctx context.Context, env environments.Environment) (ValidationResult, error) {
	switch env.AuthMode {
	case environments.AuthModeOAuth:
		return l.validateOAuth(ctx, env)
	case environments.AuthModePAT:
		return l.validatePAT(ctx, env)
	default:
		return ValidationResult{}, fmt.Errorf("environment %q has unknown auth mode %q", env.Name, env.AuthMode)
	}
}

func (l *TokenLifecycle) validateOAuth(ctx context.Context, env environments.Environment) (ValidationResult, error) {
	result := ValidationResult{Mode: environments.AuthModeOAuth}

	bundle, ok, err := loadBundle(l.secrets, env.Name)
	if err != nil {
		return result, err
	}

	if !ok {
		// Nothing stored means nothing to refresh from.
		return result, nil
	}

	now := l.now()

	if !bundle.RefreshExpiry.IsZero() && !bundle.RefreshExpiry.After(now) {
		// The refresh token itself is dead. Only a fresh interactive
		// login can recover this session.
		l.logger.Debug("refresh token expired", slog.String("environment", env.Name))
		return result, nil
	}

	if bundle.AccessExpiry.IsZero() || !bundle.AccessExpiry.After(now.Add(refreshLookahead)) {
		result.NeedsRefresh = true
		result.Token = bundle.RefreshToken
		result.Expiry = bundle.AccessExpiry

		return result, nil
	}

	if _, err := l.probe.FetchTenant(ctx, env.BaseURL, bundle.AccessToken); err != nil {
		// The upstream is the ground truth. A rejected or failed probe
		// downgrades to refresh even though local expiry looked fine.
		l.logger.Warn("token probe failed",
			slog.String("environment", env.Name),
			slog.String("error", err.Error()))

		result.NeedsRefresh = true
		result.Token = bundle.RefreshToken
		result.Expiry = bundle.AccessExpiry

		return result, nil
	}

	result.IsValid = true
	result.Token = bundle.AccessToken
	result.Expiry = bundle.AccessExpiry

	return result, nil
}

func (l *TokenLifecycle) validatePAT(ctx context.Context, env environments.Environment) (ValidationResult, error) {
	result := ValidationResult{Mode: environments.AuthModePAT}

	_, idOK, err := l.secrets.Get(env.Name, secret.KeyPATClientID)
	if err != nil {
		return result, err
	}

	_, secretOK, err := l.secrets.Get(env.Name, secret.KeyPATClientSecret)
	if err != nil {
		return result, err
	}

	if !idOK || !secretOK {
		return result, nil
	}

	token, tokenOK, err := l.secrets.Get(env.Name, secret.KeyPATAccessToken)
	if err != nil {
		return result, err
	}

	if !tokenOK {
		result.NeedsRefresh = true
		return result, nil
	}

	expiry, expErr := crypto.TokenExpiry(string(token))
	if expErr != nil || expiry.IsZero() || !expiry.After(l.now().Add(refreshLookahead)) {
		// Expired or unknown expiry both cost the same to fix: one
		// client-credentials exchange.
		result.NeedsRefresh = true
		result.Expiry = expiry

		return result, nil
	}

	if _, err := l.probe.FetchTenant(ctx, env.BaseURL, string(token)); err != nil {
		if api.IsAuthStatus(err) {
			result.NeedsRefresh = true
			result.Expiry = expiry

			return result, nil
		}

		// Transient outages do not force a re-exchange. The token looked
		// fine locally, so treat it as still valid.
		l.logger.Warn("token probe inconclusive, assuming token still valid",
			slog.String("environment", env.Name),
			slog.String("error", err.Error()))
	}

	result.IsValid = true
	result.Token = string(token)
	result.Expiry = expiry

	return result, nil
}

// Refresh renews the environment's credentials through the flow matching
// its auth mode and returns the new access token. If the environment owns
// the active session, the session's bearer token is updated in place.
func (l *TokenLifecycle) Refresh(ctx context.Context, env environments.Environment) (string, error) {
	var (
		token string
		err   error
	)

	switch env.AuthMode {
	case environments.AuthModeOAuth:
		var bundle *CredentialBundle

		bundle, err = l.oauth.Refresh(ctx, env)
		if err == nil {
			token = bundle.AccessToken
		}
	case environments.AuthModePAT:
		token, err = l.pat.Refresh(ctx, env)
	default:
		return "", fmt.Errorf("environment %q has unknown auth mode %q", env.Name, env.AuthMode)
	}

	if err != nil {
		return "", err
	}

	if current, ok := l.session.Current(); ok && current.Environment == env.Name {
		current.Token = token
		l.session.Set(current)
	}

	return token, nil
}
