// Package token fetches the short-lived credential that authorizes one
// realtime session with the voice service.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/planfit/go-coach/internal/httpc"
)

// ErrCredentialUnavailable indicates the token endpoint was unreachable,
// returned a non-success status, or returned a body without the secret.
var ErrCredentialUnavailable = errors.New("token: credential unavailable")

// Credential is a short-lived bearer secret for one realtime session.
// It is held in memory only and never persisted.
type Credential struct {
	// Value is the bearer secret.
	Value string

	// ExpiresAt is when the secret stops working, if the endpoint said.
	ExpiresAt time.Time

	// SessionID is the upstream session identifier, if the endpoint said.
	SessionID string
}

// Token returns the credential as an oauth2 bearer token.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: c.Value,
		TokenType:   "Bearer",
		Expiry:      c.ExpiresAt,
	}
}

// Expired reports whether the credential's expiry has passed.
// A credential without a known expiry never reports expired.
func (c *Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// Client fetches credentials from a token endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for fetches.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient creates a credential client for the given token endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     httpc.Client,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// tokenResponse is the shape of the token endpoint's success body.
// Only client_secret.value is required; the rest is passed through
// from the upstream session mint when present.
type tokenResponse struct {
	ID           string `json:"id"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Fetch makes one GET request to the token endpoint. No retries: a failed
// fetch fails the session attempt.
func (c *Client) Fetch(ctx context.Context) (*Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bad endpoint %q: %v", ErrCredentialUnavailable, c.endpoint, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: endpoint returned %s", ErrCredentialUnavailable, resp.Status)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrCredentialUnavailable, err)
	}

	if body.ClientSecret.Value == "" {
		return nil, fmt.Errorf("%w: response missing client_secret.value", ErrCredentialUnavailable)
	}

	cred := &Credential{
		Value:     body.ClientSecret.Value,
		SessionID: body.ID,
	}
	if body.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(body.ClientSecret.ExpiresAt, 0)
	}

	return cred, nil
}

// TokenSource returns an oauth2.TokenSource that fetches a fresh credential
// per call. Realtime secrets are single-session, so nothing is cached.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &fetchSource{ctx: ctx, client: c}
}

type fetchSource struct {
	ctx    context.Context
	client *Client
}

func (s *fetchSource) Token() (*oauth2.Token, error) {
	cred, err := s.client.Fetch(s.ctx)
	if err != nil {
		return nil, err
	}
	return cred.Token(), nil
}

var _ oauth2.TokenSource = (*fetchSource)(nil)
