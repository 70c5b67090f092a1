package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/model"
)

// SendOTP asks GoTrue to email a one-time code, creating the auth user on
// first contact.
func (c *Client) SendOTP(ctx context.Context, email string) error {
	body := map[string]any{
		"email":       email,
		"create_user": true,
	}
	if _, err := c.do(ctx, "POST", "/auth/v1/otp", nil, body, nil); err != nil {
		return fmt.Errorf("supabase: sending otp: %w", err)
	}
	return nil
}

// verifyResponse is GoTrue's token-grant response.
type verifyResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// VerifyOTP exchanges the emailed code for a session and installs its
// access token as the client's bearer credential.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*model.Session, error) {
	body := map[string]any{
		"type":  "email",
		"email": email,
		"token": code,
	}
	raw, err := c.do(ctx, "POST", "/auth/v1/verify", nil, body, nil)
	if err != nil {
		return nil, err
	}

	var vr verifyResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return nil, fmt.Errorf("supabase: decoding verify response: %w", err)
	}
	if vr.AccessToken == "" || vr.User.ID == "" {
		return nil, apperror.AuthFailed("invalid_code", "backend returned no session")
	}

	now := time.Now()
	sess := &model.Session{
		UserID:      vr.User.ID,
		AccessToken: vr.AccessToken,
		IssuedAt:    now,
	}
	switch {
	case vr.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(vr.ExpiresAt, 0)
	case vr.ExpiresIn > 0:
		sess.ExpiresAt = now.Add(time.Duration(vr.ExpiresIn) * time.Second)
	}

	c.setToken(vr.AccessToken)
	return sess, nil
}

// CurrentSession rebuilds the session from the persisted token.
//
// The token's claims give us user ID and expiry without a round trip, but
// the backend still gets the final word: a GET /auth/v1/user with the token
// confirms it has not been revoked. An invalid or expired token clears the
// store and reports "no session" rather than an error — restore is allowed
// to find nothing, never to half-succeed.
func (c *Client) CurrentSession(ctx context.Context) (*model.Session, error) {
	token := c.currentToken()
	if token == "" {
		return nil, nil
	}

	claims, err := parseTokenClaims(token)
	if err != nil {
		c.logger.Warn("persisted token is not a readable JWT, discarding",
			slog.String("error", err.Error()))
		c.setToken("")
		return nil, nil
	}
	if !claims.expiresAt.IsZero() && time.Now().After(claims.expiresAt) {
		c.setToken("")
		return nil, nil
	}

	raw, err := c.do(ctx, "GET", "/auth/v1/user", nil, nil, nil)
	if err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			// Revoked or rejected server-side; stale token is useless.
			c.setToken("")
			return nil, nil
		}
		return nil, err
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("supabase: decoding user response: %w", err)
	}
	if user.ID == "" || (claims.subject != "" && claims.subject != user.ID) {
		c.setToken("")
		return nil, nil
	}

	return &model.Session{
		UserID:      user.ID,
		AccessToken: token,
		IssuedAt:    claims.issuedAt,
		ExpiresAt:   claims.expiresAt,
	}, nil
}

// SignOut revokes the backend session. The local token is cleared first so
// a backend failure can never leave credentials behind.
func (c *Client) SignOut(ctx context.Context) error {
	token := c.currentToken()
	c.setToken("")
	if token == "" {
		return nil
	}

	_, err := c.do(ctx, "POST", "/auth/v1/logout", nil, nil,
		map[string]string{"Authorization": "Bearer " + token})
	if err != nil {
		return fmt.Errorf("supabase: signing out: %w", err)
	}
	return nil
}

type tokenClaims struct {
	subject   string
	issuedAt  time.Time
	expiresAt time.Time
}

// parseTokenClaims reads sub/iat/exp without verifying the signature — the
// HMAC secret lives on the backend, and CurrentSession confirms validity
// with the backend anyway.
func parseTokenClaims(token string) (tokenClaims, error) {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return tokenClaims{}, err
	}

	out := tokenClaims{subject: claims.Subject}
	if claims.IssuedAt != nil {
		out.issuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.expiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
