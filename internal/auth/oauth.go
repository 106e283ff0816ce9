package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Anneragh/ui-development-kit-sub001/internal/api"
	"github.com/Anneragh/ui-development-kit-sub001/internal/crypto"
	"github.com/Anneragh/ui-development-kit-sub001/internal/environments"
	errs "github.com/Anneragh/ui-development-kit-sub001/internal/errors"
	"github.com/Anneragh/ui-development-kit-sub001/internal/secret"
)

const (
	// defaultPollInterval is the fixed spacing between relay token polls.
	defaultPollInterval = 2 * time.Second

	// defaultPollTimeout caps the polling loop wall-clock regardless of
	// external cancellation.
	defaultPollTimeout = 5 * time.Minute

	// oauthKeyBits is the RSA key size for per-environment keypairs.
	oauthKeyBits = 2048
)

// RelayClient is the slice of the relay API the OAuth flow needs.
// *api.Relay satisfies it.
type RelayClient interface {
	StartAuth(ctx context.Context, req api.AuthRequest) (*api.AuthSession, error)
	FetchToken(ctx context.Context, id string) (envelope []byte, ready bool, err error)
	Refresh(ctx context.Context, req api.RefreshRequest) (*api.RefreshResponse, error)
}

// CredentialBundle is a complete OAuth token set. A bundle missing either
// token is invalid and is never persisted.
type CredentialBundle struct {
	AccessToken   string
	AccessExpiry  time.Time
	RefreshToken  string
	RefreshExpiry time.Time
}

// OAuthFlow runs the relayed browser authorization: keypair provisioning,
// session start, human handoff, bounded polling, envelope decryption and
// bundle persistence.
type OAuthFlow struct {
	secrets  *secret.Store
	relay    RelayClient
	launcher Launcher
	logger   *slog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewOAuthFlow wires an OAuth flow with the default poll cadence.
func NewOAuthFlow(secrets *secret.Store, relay RelayClient, launcher Launcher, logger *slog.Logger) *OAuthFlow {
	return &OAuthFlow{
		secrets:      secrets,
		relay:        relay,
		launcher:     launcher,
		logger:       logger,
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
	}
}

// EnsureKeyPair returns the environment's public key PEM, generating and
// persisting a fresh keypair only when none is stored. Reusing an existing
// key keeps an in-flight relay session valid across login retries.
func (f *OAuthFlow) EnsureKeyPair(environment string) ([]byte, error) {
	pub, pubOK, err := f.secrets.Get(environment, secret.KeyOAuthPublicKey)
	if err != nil {
		return nil, err
	}

	_, privOK, err := f.secrets.Get(environment, secret.KeyOAuthPrivateKey)
	if err != nil {
		return nil, err
	}

	if pubOK && privOK {
		return pub, nil
	}

	pair, err := crypto.GenerateKeyPair(oauthKeyBits)
	if err != nil {
		return nil, fmt.Errorf("provisioning keypair for %q: %w", environment, err)
	}

	if err := f.secrets.Set(environment, secret.KeyOAuthPrivateKey, pair.PrivatePEM); err != nil {
		return nil, err
	}

	if err := f.secrets.Set(environment, secret.KeyOAuthPublicKey, pair.PublicPEM); err != nil {
		return nil, err
	}

	f.logger.Info("generated OAuth keypair", slog.String("environment", environment))

	return pair.PublicPEM, nil
}

// Login runs the full relayed authorization for env and returns the
// persisted bundle. Cancelling ctx stops polling without writing any
// credential state.
func (f *OAuthFlow) Login(ctx context.Context, env environments.Environment) (*CredentialBundle, error) {
	publicPEM, err := f.EnsureKeyPair(env.Name)
	if err != nil {
		return nil, err
	}

	session, err := f.relay.StartAuth(ctx, api.AuthRequest{
		Tenant:     env.TenantURL,
		APIBaseURL: env.BaseURL,
		PublicKey:  string(publicPEM),
	})
	if err != nil {
		return nil, err
	}

	if err := f.launcher.Open(session.AuthURL); err != nil {
		// A browser that refuses to open is a human-facing problem, not a
		// protocol failure. Surface the URL and keep polling.
		f.logger.Warn("could not open browser, visit the URL manually",
			slog.String("url", session.AuthURL),
			slog.String("error", err.Error()))
	} else {
		f.logger.Info("waiting for authorization in browser", slog.String("url", session.AuthURL))
	}

	envelope, err := f.pollForToken(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	return f.storeEnvelope(env.Name, envelope)
}

// pollForToken polls the relay at a fixed interval until the envelope is
// ready, the wall-clock cap elapses, or ctx is cancelled. Transient relay
// failures are logged and polling continues.
func (f *OAuthFlow) pollForToken(ctx context.Context, sessionID string) ([]byte, error) {
	deadline := time.NewTimer(f.pollTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline.C:
			return nil, fmt.Errorf("no authorization after %s: %w", f.pollTimeout, errs.ErrTimeout)

		case <-ticker.C:
			envelope, ready, err := f.relay.FetchToken(ctx, sessionID)
			if err != nil {
				if api.IsTransient(err) {
					f.logger.Warn("token poll failed, retrying", slog.String("error", err.Error()))
					continue
				}

				return nil, err
			}

			if !ready {
				continue
			}

			return envelope, nil
		}
	}
}

// storeEnvelope decrypts the relay envelope with the environment's private
// key, extracts the token pair and persists the bundle. Either token
// missing from the payload fails the whole exchange; a partial bundle is
// never written.
func (f *OAuthFlow) storeEnvelope(environment string, envelope []byte) (*CredentialBundle, error) {
	privatePEM, ok, err := f.secrets.Get(environment, secret.KeyOAuthPrivateKey)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("no private key stored for %q: %w", environment, errs.ErrDecryptionFailed)
	}

	payload, err := crypto.DecryptHybrid(envelope, privatePEM)
	if err != nil {
		return nil, err
	}

	bundle := CredentialBundle{
		AccessToken:  firstString(payload, "accessToken", "access_token"),
		RefreshToken: firstString(payload, "refreshToken", "refresh_token"),
	}

	if bundle.AccessToken == "" || bundle.RefreshToken == "" {
		return nil, fmt.Errorf("token payload for %q is missing access or refresh token: %w",
			environment, errs.ErrAuthenticationFailed)
	}

	bundle.AccessExpiry = f.bestEffortExpiry(environment, "access", bundle.AccessToken)
	bundle.RefreshExpiry = f.bestEffortExpiry(environment, "refresh", bundle.RefreshToken)

	if err := storeBundle(f.secrets, environment, bundle); err != nil {
		return nil, err
	}

	f.logger.Info("stored OAuth credential bundle",
		slog.String("environment", environment),
		slog.Time("accessExpiry", bundle.AccessExpiry))

	return &bundle, nil
}

// Refresh exchanges the stored refresh token for a new bundle via the relay
// and persists it whole.
func (f *OAuthFlow) Refresh(ctx context.Context, env environments.Environment) (*CredentialBundle, error) {
	refreshToken, ok, err := f.secrets.Get(env.Name, secret.KeyOAuthRefreshToken)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("no refresh token stored for %q: %w", env.Name, errs.ErrAuthenticationFailed)
	}

	resp, err := f.relay.Refresh(ctx, api.RefreshRequest{
		RefreshToken: string(refreshToken),
		APIBaseURL:   env.BaseURL,
		Tenant:       env.TenantURL,
	})
	if err != nil {
		return nil, fmt.Errorf("refreshing tokens for %q: %w", env.Name, err)
	}

	bundle := CredentialBundle{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	bundle.AccessExpiry = f.bestEffortExpiry(env.Name, "access", bundle.AccessToken)
	bundle.RefreshExpiry = f.bestEffortExpiry(env.Name, "refresh", bundle.RefreshToken)

	if err := storeBundle(f.secrets, env.Name, bundle); err != nil {
		return nil, err
	}

	return &bundle, nil
}

// bestEffortExpiry reads the exp claim from a token. Tokens without a
// readable exp get a zero expiry, which the lifecycle treats as unknown.
func (f *OAuthFlow) bestEffortExpiry(environment, kind, token string) time.Time {
	expiry, err := crypto.TokenExpiry(token)
	if err != nil {
		f.logger.Debug("token has no readable expiry",
			slog.String("environment", environment),
			slog.String("token", kind),
			slog.String("error", err.Error()))

		return time.Time{}
	}

	return expiry
}

// firstString returns the first non-empty string value among the given
// gjson paths.
func firstString(payload []byte, paths ...string) string {
	for _, path := range paths {
		if v := gjson.GetBytes(payload, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}

	return ""
}

// storeBundle persists a complete bundle under the environment's namespace.
func storeBundle(s *secret.Store, environment string, b CredentialBundle) error {
	writes := []struct {
		key   string
		value []byte
	}{
		{secret.KeyOAuthAccessToken, []byte(b.AccessToken)},
		{secret.KeyOAuthExpiry, marshalExpiry(b.AccessExpiry)},
		{secret.KeyOAuthRefreshToken, []byte(b.RefreshToken)},
		{secret.KeyOAuthRefreshExpiry, marshalExpiry(b.RefreshExpiry)},
	}

	for _, w := range writes {
		if err := s.Set(environment, w.key, w.value); err != nil {
			return err
		}
	}

	return nil
}

// loadBundle reads the stored bundle. ok is false when either token is
// absent, since a one-token bundle is not usable.
func loadBundle(s *secret.Store, environment string) (CredentialBundle, bool, error) {
	access, accessOK, err := s.Get(environment, secret.KeyOAuthAccessToken)
	if err != nil {
		return CredentialBundle{}, false, err
	}

	refresh, refreshOK, err := s.Get(environment, secret.KeyOAuthRefreshToken)
	if err != nil {
		return CredentialBundle{}, false, err
	}

	if !accessOK || !refreshOK {
		return CredentialBundle{}, false, nil
	}

	bundle := CredentialBundle{
		AccessToken:  string(access),
		RefreshToken: string(refresh),
	}

	if raw, ok, err := s.Get(environment, secret.KeyOAuthExpiry); err != nil {
		return CredentialBundle{}, false, err
	} else if ok {
		bundle.AccessExpiry = unmarshalExpiry(raw)
	}

	if raw, ok, err := s.Get(environment, secret.KeyOAuthRefreshExpiry); err != nil {
		return CredentialBundle{}, false, err
	} else if ok {
		bundle.RefreshExpiry = unmarshalExpiry(raw)
	}

	return bundle, true, nil
}

func marshalExpiry(t time.Time) []byte {
	if t.IsZero() {
		return nil
	}

	return []byte(t.UTC().Format(time.RFC3339))
}

func unmarshalExpiry(raw []byte) time.Time {
	t, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}
	}

	return t
}
