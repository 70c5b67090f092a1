// Package gateway declares the boundary to the remote persistence + auth
// backend.
//
// Everything above this interface (the services) is backend-agnostic: any
// request/response JSON store with row-level CRUD, filtered selects, email
// OTP and an atomic counter primitive satisfies it. The two implementations
// in this repo are gateway/supabase (production, JSON over HTTPS) and
// gateway/sqlitegw (embedded, for local development and tests).
//
// ERROR CONTRACT (implementations must honor it, services rely on it):
//   - Insert into a table with a violated uniqueness constraint returns an
//     error matching apperror.ErrConflict.
//   - Transport-level failures (refused, timeout, 5xx) match
//     apperror.ErrNetwork.
//   - VerifyOTP with a wrong code matches apperror.ErrAuth with reason
//     "invalid_code"; with an expired or never-sent code, "code_expired".
//   - Select with no matching rows returns an empty slice and a nil error;
//     absence is not an error at this layer.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akashpatel/courseloop/internal/model"
)

// Table names, shared by every implementation and the reconcile job.
const (
	TableProfiles    = "profiles"
	TablePosts       = "posts"
	TableComments    = "comments"
	TableCourses     = "courses"
	TableUserCourses = "user_courses"
)

// Filters is a conjunction of exact-match column filters
// (each entry maps to `column = value`).
type Filters map[string]string

// Order is an optional sort for Select. A nil *Order means backend order.
type Order struct {
	Column     string
	Descending bool
}

// Authenticator is the email-OTP auth surface of the backend.
type Authenticator interface {
	// SendOTP emails a one-time code. The backend creates the auth user on
	// first contact; no session exists until the code is verified.
	SendOTP(ctx context.Context, email string) error

	// VerifyOTP exchanges a code for a session.
	VerifyOTP(ctx context.Context, email, code string) (*model.Session, error)

	// CurrentSession returns the persisted session, or (nil, nil) when the
	// backend has none for this client.
	CurrentSession(ctx context.Context) (*model.Session, error)

	// SignOut invalidates the backend session and discards the persisted
	// token.
	SignOut(ctx context.Context) error
}

// RowStore is generic row access over the five app tables.
type RowStore interface {
	Select(ctx context.Context, table string, filters Filters, order *Order) ([]json.RawMessage, error)

	// Insert writes one row and returns the stored representation (with
	// backend-populated fields such as created_at).
	Insert(ctx context.Context, table string, row any) (json.RawMessage, error)

	// Update applies patch to every row matching filters. Patch keys are
	// column names; only supplied keys change.
	Update(ctx context.Context, table string, patch map[string]any, filters Filters) error

	// Increment atomically adds delta to a numeric column on every matching
	// row, as a single server-side operation. This is the only sanctioned
	// way to touch an engagement counter; a client-side read-modify-write
	// loses concurrent updates.
	Increment(ctx context.Context, table, column string, filters Filters, delta int) error
}

// Gateway is the full backend boundary consumed by the services.
type Gateway interface {
	Authenticator
	RowStore
}

// Decode unmarshals a slice of raw rows into typed records.
func Decode[T any](rows []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, raw := range rows {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("gateway: decoding row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeOne unmarshals a single raw row.
func DecodeOne[T any](raw json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("gateway: decoding row: %w", err)
	}
	return &v, nil
}
