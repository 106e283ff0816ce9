package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Anneragh/ui-development-kit-sub001/internal/environments"
	errs "github.com/Anneragh/ui-development-kit-sub001/internal/errors"
)

// statusConcurrency caps how many environments are validated at once.
const statusConcurrency = 4

// Orchestrator is the public entry point: it unifies login, disconnect and
// status checks, dispatching to the OAuth or PAT flow based on each
// environment's configured mode.
type Orchestrator struct {
	registry  *environments.Registry
	lifecycle *TokenLifecycle
	oauth     *OAuthFlow
	pat       *PATFlow
	session   *SessionHandle
	logger    *slog.Logger
}

// NewOrchestrator wires the orchestrator over its collaborators.
func NewOrchestrator(registry *environments.Registry, lifecycle *TokenLifecycle, oauth *OAuthFlow, pat *PATFlow, session *SessionHandle, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		lifecycle: lifecycle,
		oauth:     oauth,
		pat:       pat,
		session:   session,
		logger:    logger,
	}
}

// Login connects to the named environment, reusing stored credentials when
// they are still good, refreshing when they are expiring, and falling back
// to a full login (interactive for OAuth, stored-credential exchange for
// PAT) when nothing usable remains.
func (o *Orchestrator) Login(ctx context.Context, name string) (*Session, error) {
	env, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}

	result, err := o.lifecycle.Validate(ctx, env)
	if err != nil {
		return nil, err
	}

	if result.IsValid {
		o.logger.Info("reusing stored credentials", slog.String("environment", name))
		return o.connect(env, result.Token)
	}

	if result.NeedsRefresh {
		token, refreshErr := o.lifecycle.Refresh(ctx, env)
		if refreshErr == nil {
			o.logger.Info("refreshed credentials", slog.String("environment", name))
			return o.connect(env, token)
		}

		if errors.Is(refreshErr, errs.ErrEncryptionUnavailable) {
			return nil, refreshErr
		}

		// A failed refresh is recoverable by re-authenticating, so fall
		// through to the full login below.
		o.logger.Warn("refresh failed, falling back to full login",
			slog.String("environment", name),
			slog.String("error", refreshErr.Error()))
	}

	token, err := o.fullLogin(ctx, env)
	if err != nil {
		return nil, err
	}

	return o.connect(env, token)
}

// LoginPAT registers fresh client credentials for a PAT environment and
// connects with the token they mint.
func (o *Orchestrator) LoginPAT(ctx context.Context, name, clientID, clientSecret string) (*Session, error) {
	env, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if env.AuthMode != environments.AuthModePAT {
		return nil, fmt.Errorf("environment %q uses %s auth, not pat: %w", name, env.AuthMode, errs.ErrConfiguration)
	}

	token, err := o.pat.Login(ctx, env, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	return o.connect(env, token)
}

func (o *Orchestrator) fullLogin(ctx context.Context, env environments.Environment) (string, error) {
	switch env.AuthMode {
	case environments.AuthModeOAuth:
		bundle, err := o.oauth.Login(ctx, env)
		if err != nil {
			return "", err
		}

		return bundle.AccessToken, nil

	case environments.AuthModePAT:
		// A PAT login with no explicit credentials re-exchanges the stored
		// id and secret from when the environment was registered.
		return o.pat.Refresh(ctx, env)

	default:
		return "", fmt.Errorf("environment %q has unknown auth mode %q", env.Name, env.AuthMode)
	}
}

// connect publishes the session and marks the environment active.
func (o *Orchestrator) connect(env environments.Environment, token string) (*Session, error) {
	session := Session{
		Environment: env.Name,
		BaseURL:     env.BaseURL,
		Token:       token,
		Mode:        env.AuthMode,
	}

	o.session.Set(session)

	if err := o.registry.SetActive(env.Name); err != nil {
		return nil, err
	}

	o.logger.Info("connected", slog.String("environment", env.Name), slog.String("mode", string(env.AuthMode)))

	return &session, nil
}

// Disconnect clears the active session. Registered environments and their
// stored secrets are untouched.
func (o *Orchestrator) Disconnect() {
	o.session.Clear()
	o.logger.Info("disconnected")
}

// EnvironmentStatus pairs an environment with its validation outcome.
type EnvironmentStatus struct {
	Environment environments.Environment
	Result      ValidationResult
	Err         error
}

// Status validates every registered environment concurrently. Per-
// environment failures are reported in the corresponding entry rather than
// aborting the sweep.
func (o *Orchestrator) Status(ctx context.Context) []EnvironmentStatus {
	envs := o.registry.List()
	statuses := make([]EnvironmentStatus, len(envs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)

	for i, env := range envs {
		statuses[i].Environment = env

		g.Go(func() error {
			statuses[i].Result, statuses[i].Err = o.lifecycle.Validate(ctx, env)
			return nil
		})
	}

	_ = g.Wait()

	return statuses
}
