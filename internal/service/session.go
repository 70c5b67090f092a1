// Package service contains the business logic layer of the application.
//
// The layering mirrors the rest of the codebase:
//
//	cmd (CLI / jobs)     → drives the services
//	service              → validates, enforces rules, orchestrates
//	gateway              → talks JSON to the persistence + auth backend
//
// Every service receives the gateway boundary as an interface, so tests run
// against an in-memory fake and the production wiring picks the Supabase or
// embedded SQLite gateway in main.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/gateway"
	"github.com/akashpatel/courseloop/internal/model"
)

// DefaultCallTimeout bounds every gateway round trip. A stalled call is
// aborted and surfaces as a network error.
const DefaultCallTimeout = 15 * time.Second

// OTP requests are throttled per email address. The backend throttles too;
// enforcing it locally keeps a misbehaving client from ever hitting the
// backend limit.
const (
	otpRequestInterval = 30 * time.Second
	otpRequestBurst    = 1
)

// SessionState is the authentication state of this process.
type SessionState int

const (
	// StateSignedOut — no session; the only operations allowed are
	// RequestOTP and RestoreSession.
	StateSignedOut SessionState = iota
	// StateOTPSent — a code has been emailed; exactly one verification
	// context (the email it was sent to) is outstanding.
	StateOTPSent
	// StateAuthenticated — a live session exists. The profile may or may
	// not be known yet; a user is auth-verified before they are onboarded.
	StateAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateOTPSent:
		return "otp_sent"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// SessionManager owns the session lifecycle for this process.
//
// It is the single writer of the session: no other component mutates it, and
// each mutation happens under the manager's lock after the corresponding
// gateway call completes.
//
// SIGN-OUT WINS: a sign-out immediately forces StateSignedOut, even while a
// VerifyOTP or RestoreSession is still in flight. Each in-flight operation
// captures an epoch before its gateway call and commits its Authenticated
// transition only if the epoch is unchanged; SignOut bumps the epoch, so a
// late completion is discarded rather than resurrecting a session the user
// just abandoned.
type SessionManager struct {
	gw       gateway.Gateway
	profiles *ProfileService
	logger   *slog.Logger
	timeout  time.Duration

	// Institutional email suffixes accepted by RequestOTP (lowercase,
	// leading dot), e.g. ".edu". Checked before any network call.
	allowedDomains []string

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter // per-email OTP throttle

	mu           sync.Mutex
	state        SessionState
	session      *model.Session
	profile      *model.Profile
	pendingEmail string // set while state == StateOTPSent
	epoch        uint64 // bumped by SignOut; guards late completions
}

// NewSessionManager creates a SessionManager. allowedDomains defaults to
// {".edu"} when empty.
func NewSessionManager(gw gateway.Gateway, profiles *ProfileService, allowedDomains []string, logger *slog.Logger) *SessionManager {
	if len(allowedDomains) == 0 {
		allowedDomains = []string{".edu"}
	}
	normalized := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if !strings.HasPrefix(d, ".") {
			d = "." + d
		}
		normalized = append(normalized, d)
	}

	return &SessionManager{
		gw:             gw,
		profiles:       profiles,
		logger:         logger,
		timeout:        DefaultCallTimeout,
		allowedDomains: normalized,
		limiters:       make(map[string]*rate.Limiter),
		state:          StateSignedOut,
	}
}

// State returns the current state of the machine.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the active session, or nil when signed out or
// awaiting verification.
func (m *SessionManager) Session() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Profile returns a copy of the authenticated user's profile, or nil when
// the profile is not known (signed out, or authenticated but not onboarded).
func (m *SessionManager) Profile() *model.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return nil
	}
	p := *m.profile
	return &p
}

// ProfileKnown reports whether the authenticated user has a profile yet.
// False while authenticated means the caller should run onboarding.
func (m *SessionManager) ProfileKnown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAuthenticated && m.profile != nil
}

// RestoreSession asks the backend for a persisted session and, if one
// exists, re-enters StateAuthenticated, fetching the profile along the way.
//
// Fail-safe: on ANY backend error the machine lands in StateSignedOut — a
// partially read session is never trusted. A missing profile is not an
// error; it means the user is auth-verified but not yet onboarded.
func (m *SessionManager) RestoreSession(ctx context.Context) error {
	epoch := m.currentEpoch()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	sess, err := m.gw.CurrentSession(ctx)
	if err != nil {
		m.forceSignedOutLocal()
		return fmt.Errorf("service/session: restoring session: %w", err)
	}
	if sess == nil || sess.Expired(time.Now()) {
		m.forceSignedOutLocal()
		return nil
	}

	profile, err := m.profiles.GetProfile(ctx, sess.UserID)
	switch {
	case err == nil:
		// onboarded user
	case errors.Is(err, apperror.ErrNotFound):
		profile = nil // authenticated, profile unknown
	default:
		m.forceSignedOutLocal()
		return fmt.Errorf("service/session: loading profile during restore: %w", err)
	}

	if !m.commitAuthenticated(epoch, sess, profile) {
		m.logger.Info("discarding restored session, sign-out happened first",
			slog.String("userID", sess.UserID),
		)
		return nil
	}

	m.logger.Info("session restored",
		slog.String("userID", sess.UserID),
		slog.Bool("profileKnown", profile != nil),
	)
	return nil
}

// RequestOTP validates the email against the institutional allow-list and
// asks the backend to send a one-time code. On success the machine moves to
// StateOTPSent with this email as the sole outstanding verification context.
//
// The domain check is mandatory and happens before any network call.
func (m *SessionManager) RequestOTP(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := m.validateEmail(email); err != nil {
		return err
	}
	// Reserve (rather than consume) the rate-limit token: a send that never
	// reaches the backend must not burn the interval, or the caller's retry
	// after a network error would be rejected as rate_limited.
	res := m.limiter(email).Reserve()
	if !res.OK() || res.Delay() > 0 {
		res.Cancel()
		return apperror.ValidationFailed("rate_limited",
			"a code was just sent to this address, wait before requesting another")
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.gw.SendOTP(ctx, email); err != nil {
		res.Cancel()
		return fmt.Errorf("service/session: sending otp to %s: %w", email, err)
	}

	m.mu.Lock()
	m.state = StateOTPSent
	m.pendingEmail = email
	m.mu.Unlock()

	m.logger.Info("otp sent", slog.String("email", email))
	return nil
}

// VerifyOTP exchanges the emailed code for a session.
//
// A wrong code is recoverable: the machine stays in StateOTPSent and the
// caller re-prompts. Any other failure (expired context, transport error,
// profile load failure) drops to StateSignedOut — the machine never parks in
// a half-authenticated state.
func (m *SessionManager) VerifyOTP(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	m.mu.Lock()
	if m.state != StateOTPSent || m.pendingEmail != email {
		m.mu.Unlock()
		return apperror.AuthFailed("code_expired",
			"no outstanding verification code for this email, request a new one")
	}
	epoch := m.epoch
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	sess, err := m.gw.VerifyOTP(ctx, email, code)
	if err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			// Wrong code: stay in OTPSent so the user can retype it.
			return err
		}
		m.forceSignedOutLocal()
		return fmt.Errorf("service/session: verifying otp for %s: %w", email, err)
	}

	profile, err := m.profiles.GetProfile(ctx, sess.UserID)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		// New user: auth-verified but not onboarded. Not an error.
		profile = nil
	default:
		m.forceSignedOutLocal()
		return fmt.Errorf("service/session: loading profile after verify: %w", err)
	}

	if !m.commitAuthenticated(epoch, sess, profile) {
		m.logger.Info("discarding verified session, sign-out happened first",
			slog.String("userID", sess.UserID),
		)
		return nil
	}

	m.logger.Info("otp verified",
		slog.String("userID", sess.UserID),
		slog.Bool("profileKnown", profile != nil),
	)
	return nil
}

// SignOut clears local session state unconditionally and then invalidates
// the backend session. A failed remote sign-out is logged, never surfaced:
// from the caller's point of view sign-out always succeeds, and stale
// credentials are never retained locally.
func (m *SessionManager) SignOut(ctx context.Context) {
	m.mu.Lock()
	m.epoch++ // discard any in-flight Authenticated transition
	m.state = StateSignedOut
	m.session = nil
	m.profile = nil
	m.pendingEmail = ""
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.gw.SignOut(ctx); err != nil {
		m.logger.Warn("backend sign-out failed, local state already cleared",
			slog.String("error", err.Error()),
		)
	}
}

// RefreshProfile re-reads the authenticated user's profile, typically after
// onboarding completes. No-op when not authenticated.
func (m *SessionManager) RefreshProfile(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.session == nil {
		m.mu.Unlock()
		return apperror.AuthFailed("not_authenticated", "sign in first")
	}
	userID := m.session.UserID
	epoch := m.epoch
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	profile, err := m.profiles.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/session: refreshing profile: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return nil // signed out meanwhile
	}
	if errors.Is(err, apperror.ErrNotFound) {
		m.profile = nil
	} else {
		m.profile = profile
	}
	return nil
}

func (m *SessionManager) validateEmail(email string) error {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return apperror.ValidationFailed("email", "enter a valid email address")
	}
	domain := email[at+1:]
	for _, suffix := range m.allowedDomains {
		if strings.HasSuffix("."+domain, suffix) {
			return nil
		}
	}
	return apperror.ValidationFailed("email",
		fmt.Sprintf("use your university email address (%s)", strings.Join(m.allowedDomains, ", ")))
}

func (m *SessionManager) limiter(email string) *rate.Limiter {
	m.limMu.Lock()
	defer m.limMu.Unlock()
	lim, ok := m.limiters[email]
	if !ok {
		lim = rate.NewLimiter(rate.Every(otpRequestInterval), otpRequestBurst)
		m.limiters[email] = lim
	}
	return lim
}

func (m *SessionManager) currentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// commitAuthenticated installs the session iff no sign-out happened since
// the operation began. Returns false when the transition was discarded.
func (m *SessionManager) commitAuthenticated(epoch uint64, sess *model.Session, profile *model.Profile) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return false
	}
	m.state = StateAuthenticated
	m.session = sess
	m.profile = profile
	m.pendingEmail = ""
	return true
}

// forceSignedOutLocal resets local state without touching the backend.
// Used on failure paths where the machine must not stay half-authenticated.
func (m *SessionManager) forceSignedOutLocal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateSignedOut
	m.session = nil
	m.profile = nil
	m.pendingEmail = ""
}
