// Package supabase implements gateway.Gateway against a Supabase project:
// GoTrue for email OTP auth (/auth/v1) and PostgREST for row access
// (/rest/v1). Any backend speaking the same JSON-over-HTTPS surface works.
//
// The client holds the backend-issued access token for the current session
// and persists it through a TokenStore so sessions survive process
// restarts. The token is a JWT; its claims (sub, exp) are read locally to
// rebuild session metadata, while validity is always confirmed with the
// backend — a local parse alone is never trusted for restore.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/gateway"
)

// Config configures the Supabase client.
type Config struct {
	// ProjectURL is the project base URL, e.g. https://abc.supabase.co
	ProjectURL string
	// AnonKey is the public API key sent as the apikey header and as the
	// bearer token until a user session exists.
	AnonKey string
	// TokenPath is where the session token file lives. Empty disables
	// persistence (tests).
	TokenPath string
	// Timeout bounds each HTTP round trip. Zero means 15s.
	Timeout time.Duration
}

// Client is a gateway.Gateway backed by a Supabase project.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	store   *TokenStore
	logger  *slog.Logger

	mu    sync.Mutex
	token string // current user access token, "" when signed out
}

var _ gateway.Gateway = (*Client)(nil)

// New creates a Client and loads any persisted session token.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ProjectURL == "" {
		return nil, errors.New("supabase: project URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("supabase: anon key is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.ProjectURL, "/"),
		anonKey: cfg.AnonKey,
		http:    &http.Client{Timeout: timeout},
		store:   NewTokenStore(cfg.TokenPath),
		logger:  logger,
	}

	if tok, err := c.store.Load(); err != nil {
		logger.Warn("could not load persisted session token", slog.String("error", err.Error()))
	} else if tok != "" {
		c.token = tok
	}
	return c, nil
}

// do performs one JSON request. A non-2xx status is translated into the
// gateway error contract; transport failures become network errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, extraHeaders map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("supabase: encoding %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("supabase: building %s %s: %w", method, path, err)
	}

	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.Network(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Network(fmt.Sprintf("%s %s: reading response", method, path), err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, c.mapError(method, path, resp.StatusCode, raw)
}

// bearer returns the user token when a session exists, else the anon key.
func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token
	}
	return c.anonKey
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	var err error
	if token == "" {
		err = c.store.Clear()
	} else {
		err = c.store.Save(token)
	}
	if err != nil {
		c.logger.Warn("persisting session token failed", slog.String("error", err.Error()))
	}
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// errorBody is the loose error shape shared by GoTrue and PostgREST.
type errorBody struct {
	Code             string `json:"code"`
	ErrorCode        string `json:"error_code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.Message, b.Msg, b.ErrorDescription} {
		if s != "" {
			return s
		}
	}
	return ""
}

// mapError converts an HTTP failure into the gateway error contract.
func (c *Client) mapError(method, path string, status int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body) // best effort; empty body below

	msg := body.text()
	if msg == "" {
		msg = fmt.Sprintf("%s %s: backend returned %d", method, path, status)
	}

	switch {
	// PostgREST reports a violated uniqueness constraint as 409 with the
	// Postgres duplicate-key code.
	case status == http.StatusConflict || body.Code == "23505":
		return apperror.Conflict("unique_violation", msg)

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if strings.Contains(strings.ToLower(msg), "expired") || body.ErrorCode == "otp_expired" {
			return apperror.AuthFailed("code_expired", msg)
		}
		return apperror.AuthFailed("invalid_code", msg)

	case status == http.StatusNotFound:
		return apperror.NotFound("resource", path)

	case status == http.StatusBadRequest:
		// GoTrue reports a wrong OTP as 400/403 depending on version.
		if body.ErrorCode == "otp_expired" {
			return apperror.AuthFailed("code_expired", msg)
		}
		if strings.Contains(path, "/auth/") {
			return apperror.AuthFailed("invalid_code", msg)
		}
		return apperror.ValidationFailed("request", msg)

	default:
		return apperror.Network(fmt.Sprintf("%s %s", method, path),
			fmt.Errorf("status %d: %s", status, msg))
	}
}
