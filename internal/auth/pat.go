package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Anneragh/ui-development-kit-sub001/internal/environments"
	errs "github.com/Anneragh/ui-development-kit-sub001/internal/errors"
	"github.com/Anneragh/ui-development-kit-sub001/internal/secret"
)

// tokenEndpointPath is the client-credentials token endpoint relative to an
// environment's API base URL.
const tokenEndpointPath = "/oauth/token"

// PATFlow acquires bearer tokens through the client-credentials grant. The
// client id and secret are long-lived operator-supplied values; the access
// token they mint is short-lived and regenerated on demand. There is no
// separate refresh token, the credential refreshes itself.
type PATFlow struct {
	secrets    *secret.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPATFlow wires a client-credentials flow. A nil httpClient falls back
// to http.DefaultClient.
func NewPATFlow(secrets *secret.Store, httpClient *http.Client, logger *slog.Logger) *PATFlow {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &PATFlow{
		secrets:    secrets,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Login persists the client id and secret, then exchanges them for an
// access token. The credentials are stored before the exchange so a failed
// first exchange can be retried with Refresh.
func (f *PATFlow) Login(ctx context.Context, env environments.Environment, clientID, clientSecret string) (string, error) {
	if clientID == "" || clientSecret == "" {
		return "", fmt.Errorf("client id and secret are required for %q: %w", env.Name, errs.ErrConfiguration)
	}

	if err := f.secrets.Set(env.Name, secret.KeyPATClientID, []byte(clientID)); err != nil {
		return "", err
	}

	if err := f.secrets.Set(env.Name, secret.KeyPATClientSecret, []byte(clientSecret)); err != nil {
		return "", err
	}

	return f.exchange(ctx, env, clientID, clientSecret)
}

// Refresh re-runs the client-credentials exchange with the stored id and
// secret.
func (f *PATFlow) Refresh(ctx context.Context, env environments.Environment) (string, error) {
	clientID, idOK, err := f.secrets.Get(env.Name, secret.KeyPATClientID)
	if err != nil {
		return "", err
	}

	clientSecret, secretOK, err := f.secrets.Get(env.Name, secret.KeyPATClientSecret)
	if err != nil {
		return "", err
	}

	if !idOK || !secretOK {
		return "", fmt.Errorf("no client credentials stored for %q: %w", env.Name, errs.ErrAuthenticationFailed)
	}

	return f.exchange(ctx, env, string(clientID), string(clientSecret))
}

// exchange performs the grant and persists the minted access token. The
// response body's own expiry metadata is not trusted; the lifecycle derives
// expiry from the token's exp claim instead.
func (f *PATFlow) exchange(ctx context.Context, env environments.Environment, clientID, clientSecret string) (string, error) {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     strings.TrimRight(env.BaseURL, "/") + tokenEndpointPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)

	tok, err := cfg.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", fmt.Errorf("token exchange for %q returned status %d: %s: %w",
				env.Name, retrieveErr.Response.StatusCode,
				excerpt(retrieveErr.Body), errs.ErrAuthenticationFailed)
		}

		return "", fmt.Errorf("token exchange for %q: %w", env.Name, err)
	}

	if tok.AccessToken == "" {
		return "", fmt.Errorf("token exchange for %q returned no access token: %w",
			env.Name, errs.ErrAuthenticationFailed)
	}

	if err := f.secrets.Set(env.Name, secret.KeyPATAccessToken, []byte(tok.AccessToken)); err != nil {
		return "", err
	}

	f.logger.Info("stored access token", slog.String("environment", env.Name))

	return tok.AccessToken, nil
}

// excerpt trims an upstream error body for inclusion in error messages.
func excerpt(body []byte) string {
	const maxLen = 256

	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	return s
}
