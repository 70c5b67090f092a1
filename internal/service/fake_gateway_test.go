package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/gateway"
	"github.com/akashpatel/courseloop/internal/model"
)

// fakeGateway is an in-memory gateway.Gateway with the same semantics the
// services rely on from a real backend: uniqueness constraints, atomic
// increments, and the documented error contract. It is safe for concurrent
// use because several tests hammer it from many goroutines on purpose.
//
// Error injection: set the *Err fields to force failures, and barriers/hooks
// to control interleaving.
type fakeGateway struct {
	mu        sync.Mutex
	tables    map[string][]map[string]any
	nextID    int
	lastStamp time.Time

	otpCodes map[string]string // email → outstanding code
	session  *model.Session    // what CurrentSession returns

	sendOTPErr    error
	verifyOTPErr  error
	currentErr    error
	signOutErr    error
	selectErr     error
	insertErr     map[string]error // per table
	updateErr     error
	incrementErr  error
	verifyBarrier chan struct{} // when non-nil, VerifyOTP blocks on it

	beforeInsert func(table string) // runs outside the lock, for race setup

	signOutCalls int
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		tables:    make(map[string][]map[string]any),
		otpCodes:  make(map[string]string),
		insertErr: make(map[string]error),
	}
}

// --- Authenticator ---

func (f *fakeGateway) SendOTP(_ context.Context, email string) error {
	if f.sendOTPErr != nil {
		return f.sendOTPErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otpCodes[email] = "123456"
	return nil
}

func (f *fakeGateway) VerifyOTP(_ context.Context, email, code string) (*model.Session, error) {
	if f.verifyBarrier != nil {
		<-f.verifyBarrier
	}
	if f.verifyOTPErr != nil {
		return nil, f.verifyOTPErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	want, ok := f.otpCodes[email]
	if !ok {
		return nil, apperror.AuthFailed("code_expired", "no code outstanding")
	}
	if code != want {
		return nil, apperror.AuthFailed("invalid_code", "wrong verification code")
	}
	delete(f.otpCodes, email)

	sess := &model.Session{
		UserID:      "user-" + strings.SplitN(email, "@", 2)[0],
		AccessToken: "fake-token",
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	f.session = sess
	return sess, nil
}

func (f *fakeGateway) CurrentSession(_ context.Context) (*model.Session, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *fakeGateway) SignOut(_ context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	f.session = nil
	f.mu.Unlock()
	return f.signOutErr
}

// --- RowStore ---

func (f *fakeGateway) Select(_ context.Context, table string, filters gateway.Filters, order *gateway.Order) ([]json.RawMessage, error) {
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []map[string]any
	for _, row := range f.tables[table] {
		if rowMatches(row, filters) {
			matched = append(matched, row)
		}
	}
	if order != nil {
		sortRows(matched, order)
	}

	out := make([]json.RawMessage, 0, len(matched))
	for _, row := range matched {
		raw, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (f *fakeGateway) Insert(_ context.Context, table string, rowAny any) (json.RawMessage, error) {
	if err := f.insertErr[table]; err != nil {
		return nil, err
	}
	if f.beforeInsert != nil {
		f.beforeInsert(table)
	}

	raw, err := json.Marshal(rowAny)
	if err != nil {
		return nil, err
	}
	row := make(map[string]any)
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(table, row)
}

func (f *fakeGateway) insertLocked(table string, row map[string]any) (json.RawMessage, error) {
	if err := f.checkUniqueLocked(table, row); err != nil {
		return nil, err
	}
	if _, ok := row["id"]; !ok && table != gateway.TableUserCourses {
		f.nextID++
		row["id"] = fmt.Sprintf("%s-%d", table, f.nextID)
	}
	if _, ok := row["created_at"]; !ok {
		// Fixed-width and strictly increasing so lexicographic ordering in
		// Select matches chronological ordering.
		now := time.Now().UTC()
		if !now.After(f.lastStamp) {
			now = f.lastStamp.Add(time.Microsecond)
		}
		f.lastStamp = now
		row["created_at"] = now.Format("2006-01-02T15:04:05.000000000Z07:00")
	}
	f.tables[table] = append(f.tables[table], row)
	return json.Marshal(row)
}

// checkUniqueLocked enforces the constraints the real schema carries.
func (f *fakeGateway) checkUniqueLocked(table string, row map[string]any) error {
	var keys [][]string
	switch table {
	case gateway.TableCourses:
		keys = [][]string{{"course_code", "professor_name"}}
	case gateway.TableProfiles:
		keys = [][]string{{"id"}, {"username"}}
	case gateway.TableUserCourses:
		keys = [][]string{{"user_id", "course_id"}}
	default:
		return nil
	}
	for _, key := range keys {
		for _, existing := range f.tables[table] {
			same := true
			for _, col := range key {
				if fmt.Sprint(existing[col]) != fmt.Sprint(row[col]) {
					same = false
					break
				}
			}
			if same {
				return apperror.Conflict("unique_violation",
					fmt.Sprintf("%s: duplicate key (%s)", table, strings.Join(key, ",")))
			}
		}
	}
	return nil
}

func (f *fakeGateway) Update(_ context.Context, table string, patch map[string]any, filters gateway.Filters) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	// Username uniqueness also binds on update.
	if table == gateway.TableProfiles {
		if username, ok := patch["username"]; ok {
			for _, row := range f.tables[table] {
				if fmt.Sprint(row["username"]) == fmt.Sprint(username) && !rowMatches(row, filters) {
					return apperror.Conflict("unique_violation", "profiles: duplicate username")
				}
			}
		}
	}

	for _, row := range f.tables[table] {
		if rowMatches(row, filters) {
			for k, v := range patch {
				row[k] = v
			}
		}
	}
	return nil
}

func (f *fakeGateway) Increment(_ context.Context, table, column string, filters gateway.Filters, delta int) error {
	if f.incrementErr != nil {
		return f.incrementErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, row := range f.tables[table] {
		if rowMatches(row, filters) {
			var current float64 // JSON numbers land as float64
			switch v := row[column].(type) {
			case int:
				current = float64(v)
			case float64:
				current = v
			}
			row[column] = current + float64(delta)
		}
	}
	return nil
}

// --- test helpers ---

// seedRow inserts a row directly, bypassing error injection.
func (f *fakeGateway) seedRow(table string, row map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.insertLocked(table, row); err != nil {
		panic(err)
	}
}

// rowCount returns how many rows in table match filters.
func (f *fakeGateway) rowCount(table string, filters gateway.Filters) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.tables[table] {
		if rowMatches(row, filters) {
			n++
		}
	}
	return n
}

// counterValue reads a numeric column from the first matching row.
func (f *fakeGateway) counterValue(table, column string, filters gateway.Filters) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.tables[table] {
		if rowMatches(row, filters) {
			switch v := row[column].(type) {
			case int:
				return v
			case float64:
				return int(v)
			}
		}
	}
	return -1
}

func rowMatches(row map[string]any, filters gateway.Filters) bool {
	for col, want := range filters {
		got, ok := row[col]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func sortRows(rows []map[string]any, order *gateway.Order) {
	// Insertion sort; test data is tiny.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0; j-- {
			a := fmt.Sprint(rows[j-1][order.Column])
			b := fmt.Sprint(rows[j][order.Column])
			swap := a > b
			if order.Descending {
				swap = a < b
			}
			if !swap {
				break
			}
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}
