package model

import "time"

// Session is the authenticated state for the current process.
//
// It is owned exclusively by the SessionManager: created on a successful OTP
// verification (or restored from the backend's persisted token) and destroyed
// on sign-out or expiry. At most one Session is active per process at a time.
//
// The AccessToken is the backend-issued bearer credential. We treat it as
// opaque here; the supabase gateway knows it is a JWT and reads its claims.
type Session struct {
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"-"` // never serialized into logs or responses
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at time now.
// A zero ExpiresAt means the backend did not communicate an expiry; such a
// session is treated as live and left to the backend to reject.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
