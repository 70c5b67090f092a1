package sqlitegw

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"golang.org/x/crypto/bcrypt"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/model"
)

const sessionTTL = 7 * 24 * time.Hour

// SendOTP generates a 6-digit code for the email and stores its bcrypt
// hash. There is no mail delivery locally; the code is logged so the
// developer can read it off the console.
func (db *DB) SendOTP(ctx context.Context, email string) error {
	code, err := randomCode()
	if err != nil {
		return fmt.Errorf("sqlitegw: generating code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("sqlitegw: hashing code: %w", err)
	}

	expires := timestamp(time.Now().Add(db.otpTTL))
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO auth_otp_codes (email, code_hash, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (email) DO UPDATE SET code_hash = excluded.code_hash, expires_at = excluded.expires_at`,
		email, string(hash), expires)
	if err != nil {
		return fmt.Errorf("sqlitegw: storing code: %w", err)
	}

	db.logger.Info("local backend: one-time code issued", "email", email, "code", code)
	return nil
}

// VerifyOTP checks the code against the stored hash, then creates the auth
// user on first verification and opens a session.
func (db *DB) VerifyOTP(ctx context.Context, email, code string) (*model.Session, error) {
	var codeHash, expiresAt string
	err := db.conn.QueryRowContext(ctx,
		"SELECT code_hash, expires_at FROM auth_otp_codes WHERE email = ?", email).
		Scan(&codeHash, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.AuthFailed("code_expired", "no active code for this email, request a new one")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitegw: loading code: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil || time.Now().After(expiry) {
		db.conn.ExecContext(ctx, "DELETE FROM auth_otp_codes WHERE email = ?", email)
		return nil, apperror.AuthFailed("code_expired", "the code expired, request a new one")
	}
	if bcrypt.CompareHashAndPassword([]byte(codeHash), []byte(code)) != nil {
		return nil, apperror.AuthFailed("invalid_code", "that code is not correct")
	}

	// Code accepted: it is single-use.
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM auth_otp_codes WHERE email = ?", email); err != nil {
		return nil, fmt.Errorf("sqlitegw: consuming code: %w", err)
	}

	userID, err := db.ensureUser(ctx, email)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	token := xid.New().String()
	expires := now.Add(sessionTTL)
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO auth_sessions (token, user_id, issued_at, expires_at) VALUES (?, ?, ?, ?)",
		token, userID, timestamp(now), timestamp(expires))
	if err != nil {
		return nil, fmt.Errorf("sqlitegw: opening session: %w", err)
	}

	return &model.Session{
		UserID:      userID,
		AccessToken: token,
		IssuedAt:    now,
		ExpiresAt:   expires,
	}, nil
}

// CurrentSession returns the most recent unexpired session, or (nil, nil)
// when none exists. Expired sessions are pruned on the way through.
func (db *DB) CurrentSession(ctx context.Context) (*model.Session, error) {
	if _, err := db.conn.ExecContext(ctx,
		"DELETE FROM auth_sessions WHERE expires_at < ?", timestamp(time.Now())); err != nil {
		return nil, fmt.Errorf("sqlitegw: pruning sessions: %w", err)
	}

	var token, userID, issuedAt, expiresAt string
	err := db.conn.QueryRowContext(ctx,
		"SELECT token, user_id, issued_at, expires_at FROM auth_sessions ORDER BY issued_at DESC LIMIT 1").
		Scan(&token, &userID, &issuedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitegw: loading session: %w", err)
	}

	issued, _ := time.Parse(time.RFC3339Nano, issuedAt)
	expires, _ := time.Parse(time.RFC3339Nano, expiresAt)
	return &model.Session{
		UserID:      userID,
		AccessToken: token,
		IssuedAt:    issued,
		ExpiresAt:   expires,
	}, nil
}

// SignOut invalidates every open session for this client.
func (db *DB) SignOut(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM auth_sessions"); err != nil {
		return fmt.Errorf("sqlitegw: closing sessions: %w", err)
	}
	return nil
}

// ensureUser finds or creates the auth user for email. The UNIQUE
// constraint on email makes concurrent first verifications converge on one
// row.
func (db *DB) ensureUser(ctx context.Context, email string) (string, error) {
	var id string
	err := db.conn.QueryRowContext(ctx,
		"SELECT id FROM auth_users WHERE email = ?", email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sqlitegw: loading user: %w", err)
	}

	id = uuid.NewString()
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO auth_users (id, email, created_at) VALUES (?, ?, ?)",
		id, email, timestamp(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race; the other writer's row wins.
			if qerr := db.conn.QueryRowContext(ctx,
				"SELECT id FROM auth_users WHERE email = ?", email).Scan(&id); qerr != nil {
				return "", fmt.Errorf("sqlitegw: re-querying user after conflict: %w", qerr)
			}
			return id, nil
		}
		return "", fmt.Errorf("sqlitegw: creating user: %w", err)
	}
	return id, nil
}

// randomCode draws six cryptographically random digits.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
