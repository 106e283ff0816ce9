package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Relay talks to the stateless OAuth relay. The relay terminates the
// browser redirect on our behalf and hands the resulting tokens back as a
// hybrid-encrypted envelope only the requesting client can open.
type Relay struct {
	client  *Client
	baseURL string
}

// NewRelay creates a relay client rooted at baseURL.
func NewRelay(baseURL string, client *Client) *Relay {
	return &Relay{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// AuthRequest opens a relay authorization session.
type AuthRequest struct {
	Tenant     string `json:"tenant"`
	APIBaseURL string `json:"apiBaseURL"`
	PublicKey  string `json:"publicKey"`
}

// AuthSession identifies an in-flight relay session and the URL the human
// must visit to approve it.
type AuthSession struct {
	ID      string `json:"id"`
	AuthURL string `json:"authURL"`
}

// StartAuth registers a new authorization session with the relay.
func (r *Relay) StartAuth(ctx context.Context, req AuthRequest) (*AuthSession, error) {
	var session AuthSession
	if err := r.client.doJSON(ctx, http.MethodPost, r.baseURL+"/auth", "", req, &session); err != nil {
		return nil, fmt.Errorf("starting relay authorization: %w", err)
	}

	if session.ID == "" || session.AuthURL == "" {
		return nil, fmt.Errorf("relay returned an incomplete session (id=%q)", session.ID)
	}

	return &session, nil
}

// tokenInfoResponse is the 200 body of the token poll: the hybrid envelope
// serialized as a string.
type tokenInfoResponse struct {
	TokenInfo string `json:"tokenInfo"`
}

// FetchToken polls the relay for the outcome of session id. A 202 means the
// human has not finished approving yet (ready=false, no error). A 200
// carries the encrypted token envelope.
func (r *Relay) FetchToken(ctx context.Context, id string) (envelope []byte, ready bool, err error) {
	pollURL := r.baseURL + "/auth/token/" + url.PathEscape(id)

	status, body, err := r.client.do(ctx, http.MethodGet, pollURL, "", nil)
	if err != nil {
		return nil, false, fmt.Errorf("polling relay token: %w", err)
	}

	switch {
	case status == http.StatusAccepted:
		return nil, false, nil

	case status == http.StatusOK:
		var resp tokenInfoResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, false, fmt.Errorf("decoding relay token response: %w", err)
		}

		if resp.TokenInfo == "" {
			return nil, false, fmt.Errorf("relay returned an empty token envelope")
		}

		return []byte(resp.TokenInfo), true, nil

	default:
		statusErr := &StatusError{StatusCode: status, Body: sanitizeResponseBody(body)}
		if isTransientStatus(status) {
			return nil, false, fmt.Errorf("polling relay token: %w", &TransientError{Err: statusErr})
		}

		return nil, false, fmt.Errorf("polling relay token: %w", statusErr)
	}
}

// RefreshRequest asks the relay to exchange a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	APIBaseURL   string `json:"apiBaseURL"`
	Tenant       string `json:"tenant"`
}

// RefreshResponse carries the renewed token pair. Unlike the initial
// exchange, the refresh response is not enveloped: no keypair is involved.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new token pair via the relay.
func (r *Relay) Refresh(ctx context.Context, req RefreshRequest) (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := r.client.doJSON(ctx, http.MethodPost, r.baseURL+"/auth/refresh", "", req, &resp); err != nil {
		return nil, fmt.Errorf("refreshing via relay: %w", err)
	}

	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, fmt.Errorf("relay refresh returned an incomplete token pair")
	}

	return &resp, nil
}
