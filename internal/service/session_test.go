package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/akashpatel/courseloop/internal/apperror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestSessionManager wires a SessionManager against the fake gateway
// with the default .edu allow-list.
func newTestSessionManager(f *fakeGateway) *SessionManager {
	logger := testLogger()
	profiles := NewProfileService(f, logger)
	return NewSessionManager(f, profiles, nil, logger)
}

func TestRequestOTP_InstitutionalEmail(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}
	if got := m.State(); got != StateOTPSent {
		t.Errorf("State() = %v, want %v", got, StateOTPSent)
	}
}

func TestRequestOTP_RejectsNonInstitutionalEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
	}{
		{"gmail address", "student@gmail.com"},
		{"missing domain", "student@"},
		{"missing at sign", "student.edu"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeGateway()
			m := newTestSessionManager(f)

			err := m.RequestOTP(context.Background(), tt.email)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("RequestOTP(%q) error = %v, want ErrValidation", tt.email, err)
			}
			if got := m.State(); got != StateSignedOut {
				t.Errorf("State() = %v, want unchanged %v", got, StateSignedOut)
			}
			// The domain check must run before any network call.
			if len(f.otpCodes) != 0 {
				t.Error("gateway SendOTP was reached for an invalid email")
			}
		})
	}
}

func TestRequestOTP_RateLimited(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("first RequestOTP() error = %v", err)
	}
	err := m.RequestOTP(context.Background(), "student@state.edu")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("second RequestOTP() error = %v, want ErrValidation (rate limited)", err)
	}
	// A different address is not throttled by the first one's limiter.
	if err := m.RequestOTP(context.Background(), "other@state.edu"); err != nil {
		t.Errorf("RequestOTP(other) error = %v", err)
	}
}

func TestRequestOTP_SendFailureDoesNotBurnLimiter(t *testing.T) {
	f := newFakeGateway()
	f.sendOTPErr = apperror.Network("send otp", errors.New("connection refused"))
	m := newTestSessionManager(f)

	err := m.RequestOTP(context.Background(), "student@state.edu")
	if !errors.Is(err, apperror.ErrNetwork) {
		t.Fatalf("RequestOTP() error = %v, want ErrNetwork", err)
	}

	// A send that never reached the backend must not count against the
	// interval: the immediate retry goes through.
	f.sendOTPErr = nil
	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("retry after network failure error = %v", err)
	}

	// The successful send does consume it.
	err = m.RequestOTP(context.Background(), "student@state.edu")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("third RequestOTP() error = %v, want ErrValidation (rate limited)", err)
	}
}

func TestVerifyOTP_CorrectCode(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}
	if err := m.VerifyOTP(context.Background(), "student@state.edu", "123456"); err != nil {
		t.Fatalf("VerifyOTP() error = %v", err)
	}

	if got := m.State(); got != StateAuthenticated {
		t.Fatalf("State() = %v, want %v", got, StateAuthenticated)
	}
	sess := m.Session()
	if sess == nil || sess.UserID == "" {
		t.Fatal("Session() = nil or empty user after successful verify")
	}
	// New user: no profile row yet, so authenticated-but-not-onboarded.
	if m.ProfileKnown() {
		t.Error("ProfileKnown() = true for a brand-new user, want false")
	}
}

func TestVerifyOTP_WrongCodeStaysInOTPSent(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}

	err := m.VerifyOTP(context.Background(), "student@state.edu", "000000")
	if !errors.Is(err, apperror.ErrAuth) {
		t.Fatalf("VerifyOTP() error = %v, want ErrAuth", err)
	}
	if got := m.State(); got != StateOTPSent {
		t.Errorf("State() = %v, want %v (user can retype the code)", got, StateOTPSent)
	}

	// The right code still works afterwards.
	if err := m.VerifyOTP(context.Background(), "student@state.edu", "123456"); err != nil {
		t.Fatalf("VerifyOTP() with correct code after wrong one: %v", err)
	}
	if got := m.State(); got != StateAuthenticated {
		t.Errorf("State() = %v, want %v", got, StateAuthenticated)
	}
}

func TestVerifyOTP_NoOutstandingContext(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	err := m.VerifyOTP(context.Background(), "student@state.edu", "123456")
	if !errors.Is(err, apperror.ErrAuth) {
		t.Fatalf("VerifyOTP() without RequestOTP: error = %v, want ErrAuth", err)
	}

	// A code requested for one email cannot be verified against another.
	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}
	err = m.VerifyOTP(context.Background(), "someone.else@state.edu", "123456")
	if !errors.Is(err, apperror.ErrAuth) {
		t.Fatalf("VerifyOTP() with mismatched email: error = %v, want ErrAuth", err)
	}
}

func TestVerifyOTP_LoadsExistingProfile(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	// The fake derives user IDs from the email's local part.
	f.seedRow("profiles", map[string]any{
		"id":       "user-student",
		"username": "night_owl",
	})

	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}
	if err := m.VerifyOTP(context.Background(), "student@state.edu", "123456"); err != nil {
		t.Fatalf("VerifyOTP() error = %v", err)
	}

	if !m.ProfileKnown() {
		t.Fatal("ProfileKnown() = false for an onboarded user")
	}
	if got := m.Profile().Username; got != "night_owl" {
		t.Errorf("Profile().Username = %q, want %q", got, "night_owl")
	}
}

func TestVerifyOTP_NetworkFailureLandsSignedOut(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}
	f.verifyOTPErr = apperror.Network("verify otp", errors.New("connection reset"))

	err := m.VerifyOTP(context.Background(), "student@state.edu", "123456")
	if !errors.Is(err, apperror.ErrNetwork) {
		t.Fatalf("VerifyOTP() error = %v, want ErrNetwork", err)
	}
	// Never a half-authenticated state: transport failures drop to SignedOut.
	if got := m.State(); got != StateSignedOut {
		t.Errorf("State() = %v, want %v", got, StateSignedOut)
	}
}

func TestSignOut_ClearsLocalStateEvenWhenBackendFails(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}
	if err := m.VerifyOTP(context.Background(), "student@state.edu", "123456"); err != nil {
		t.Fatalf("VerifyOTP() error = %v", err)
	}

	f.signOutErr = apperror.Network("sign out", errors.New("backend down"))
	m.SignOut(context.Background())

	if got := m.State(); got != StateSignedOut {
		t.Errorf("State() = %v, want %v", got, StateSignedOut)
	}
	if m.Session() != nil {
		t.Error("Session() != nil after SignOut")
	}
	if m.Profile() != nil {
		t.Error("Profile() != nil after SignOut")
	}
}

// TestSignOutWins exercises the ordering rule: a sign-out issued while a
// VerifyOTP is in flight forces SignedOut no matter which completes first.
func TestSignOutWins(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}

	barrier := make(chan struct{})
	f.verifyBarrier = barrier

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Blocks inside the gateway until the barrier opens.
		_ = m.VerifyOTP(context.Background(), "student@state.edu", "123456")
	}()

	m.SignOut(context.Background())
	close(barrier) // let the in-flight verify complete late
	wg.Wait()

	if got := m.State(); got != StateSignedOut {
		t.Fatalf("State() = %v after sign-out raced verify, want %v", got, StateSignedOut)
	}
	if m.Session() != nil {
		t.Error("Session() != nil — late verify resurrected a signed-out session")
	}
}

func TestRestoreSession_NoPersistedSession(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	if err := m.RestoreSession(context.Background()); err != nil {
		t.Fatalf("RestoreSession() error = %v, want nil for no-session", err)
	}
	if got := m.State(); got != StateSignedOut {
		t.Errorf("State() = %v, want %v", got, StateSignedOut)
	}
}

func TestRestoreSession_ValidSession(t *testing.T) {
	f := newFakeGateway()
	m := newTestSessionManager(f)

	// Authenticate once so the fake persists a session, then build a fresh
	// manager — simulating a process restart.
	if err := m.RequestOTP(context.Background(), "student@state.edu"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}
	if err := m.VerifyOTP(context.Background(), "student@state.edu", "123456"); err != nil {
		t.Fatalf("VerifyOTP() error = %v", err)
	}

	m2 := newTestSessionManager(f)
	if err := m2.RestoreSession(context.Background()); err != nil {
		t.Fatalf("RestoreSession() error = %v", err)
	}
	if got := m2.State(); got != StateAuthenticated {
		t.Fatalf("State() = %v, want %v", got, StateAuthenticated)
	}
	if m2.ProfileKnown() {
		t.Error("ProfileKnown() = true, want false (no profile row was created)")
	}
}

func TestRestoreSession_BackendErrorFailsSafe(t *testing.T) {
	f := newFakeGateway()
	f.currentErr = apperror.Network("current session", errors.New("timeout"))
	m := newTestSessionManager(f)

	err := m.RestoreSession(context.Background())
	if !errors.Is(err, apperror.ErrNetwork) {
		t.Fatalf("RestoreSession() error = %v, want ErrNetwork", err)
	}
	if got := m.State(); got != StateSignedOut {
		t.Errorf("State() = %v, want %v (never trust a partially read session)", got, StateSignedOut)
	}
}
