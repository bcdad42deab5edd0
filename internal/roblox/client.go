// Package roblox implements the authenticated HTTP layer and the thin
// service wrappers over the Roblox web APIs: presence, voice, social actions
// and game lookup. All requests go through Client, which owns cookie
// attachment, the CSRF bootstrap and hardware-bound-auth signing.
package roblox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/altmanapp/altman/internal/cache"
	"github.com/altmanapp/altman/internal/crypto"
)

const (
	securityCookie = ".ROBLOSECURITY"
	csrfHeader     = "x-csrf-token"
	boundAuthHdr   = "x-bound-auth-token"

	// banStatusTTL bounds how long a cookie's moderation state is trusted
	// without re-checking.
	banStatusTTL = 5 * time.Minute
)

// ErrCSRFTokenMissing is returned when a 403 challenge response carries no
// anti-CSRF token to retry with.
var ErrCSRFTokenMissing = errors.New("csrf token missing from response")

// NetworkError wraps a transport-level failure (connection refused, timeout)
// so callers can tell it apart from meaningful non-2xx responses.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// Response is the raw result of a request: the layer does not interpret
// application-level error bodies. Many 4xx statuses are business states
// (a banned account answers 403), not failures.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// AuthConfig carries everything needed to authenticate one request on behalf
// of an account.
type AuthConfig struct {
	// Cookie is the session cookie value (without the cookie name).
	Cookie string
	// HBAPrivateKey is the account's PEM-encoded signing key, if any.
	HBAPrivateKey string
	// HBAEnabled turns bound-auth-token signing on for this account.
	HBAEnabled bool
}

// LegacyAuth returns an AuthConfig that authenticates with the cookie alone,
// for accounts without hardware-bound auth.
func LegacyAuth(cookie string) AuthConfig {
	return AuthConfig{Cookie: cookie}
}

// Endpoints holds the base URLs of the remote services, overridable in tests.
type Endpoints struct {
	Presence   string
	Voice      string
	Friends    string
	Users      string
	Games      string
	Moderation string
	Web        string
}

// DefaultEndpoints returns the production API hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Presence:   "https://presence.roblox.com",
		Voice:      "https://voice.roblox.com",
		Friends:    "https://friends.roblox.com",
		Users:      "https://users.roblox.com",
		Games:      "https://games.roblox.com",
		Moderation: "https://usermoderation.roblox.com",
		Web:        "https://www.roblox.com",
	}
}

// Client performs authenticated requests against the web APIs. It is safe
// for concurrent use.
type Client struct {
	http      *http.Client
	log       *zap.Logger
	endpoints Endpoints
	banCache  *cache.Cache[string, BanStatus]
}

// NewClient constructs a Client with an explicit request timeout.
// A zero timeout leaves requests unbounded.
func NewClient(timeout time.Duration, log *zap.Logger) *Client {
	return NewClientWith(&http.Client{Timeout: timeout}, DefaultEndpoints(), log)
}

// NewClientWith is NewClient with an injected http.Client and endpoints,
// for tests.
func NewClientWith(hc *http.Client, endpoints Endpoints, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:      hc,
		log:       log,
		endpoints: endpoints,
		banCache:  cache.New[string, BanStatus](banStatusTTL),
	}
}

// Endpoints returns the base URLs the client targets.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// Get issues a GET request with the given extra headers.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, headers, nil)
}

// Post issues a POST request with the given extra headers and body.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, headers, body)
}

// PostWithCSRF issues an authenticated state-mutating POST.
//
// The anti-CSRF token is bootstrapped: the first attempt goes out without a
// token; if the server answers 403 with a token header, the request is
// retried exactly once with the token attached. A second 403 is returned to
// the caller as a response, not an error. When hardware-bound auth is
// enabled a fresh bound auth token is computed per attempt over the exact
// URL, method and body; a signing failure aborts the send entirely so a
// malformed or unsigned request is never transmitted.
func (c *Client) PostWithCSRF(ctx context.Context, url string, auth AuthConfig, body []byte) (*Response, error) {
	resp, err := c.authedPost(ctx, url, auth, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}

	token := resp.Header.Get(csrfHeader)
	if token == "" {
		return resp, ErrCSRFTokenMissing
	}

	c.log.Debug("retrying with csrf token", zap.String("url", url))
	return c.authedPost(ctx, url, auth, body, token)
}

func (c *Client) authedPost(ctx context.Context, url string, auth AuthConfig, body []byte, csrfToken string) (*Response, error) {
	headers := map[string]string{
		"Cookie":       securityCookie + "=" + auth.Cookie,
		"Content-Type": "application/json",
	}
	if csrfToken != "" {
		headers[csrfHeader] = csrfToken
	}

	if auth.HBAEnabled && auth.HBAPrivateKey != "" {
		token, err := crypto.GenerateBoundAuthToken(auth.HBAPrivateKey, url, http.MethodPost, body)
		if err != nil {
			return nil, fmt.Errorf("bound auth token: %w", err)
		}
		headers[boundAuthHdr] = token
	}

	return c.do(ctx, http.MethodPost, url, headers, body)
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
