package sqlitegw

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/gateway"
)

// Select returns matching rows as JSON objects, optionally ordered.
func (db *DB) Select(ctx context.Context, table string, filters gateway.Filters, order *gateway.Order) ([]json.RawMessage, error) {
	cols, err := columnsFor(table)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + table
	where, args, err := buildWhere(cols, filters)
	if err != nil {
		return nil, err
	}
	query += where

	if order != nil {
		if !cols[order.Column] {
			return nil, fmt.Errorf("sqlitegw: unknown order column %q on %s", order.Column, table)
		}
		query += " ORDER BY " + order.Column
		if order.Descending {
			query += " DESC"
		}
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitegw: selecting from %s: %w", table, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		obj, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitegw: scanning %s row: %w", table, err)
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("sqlitegw: encoding %s row: %w", table, err)
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitegw: reading %s rows: %w", table, err)
	}
	if out == nil {
		out = []json.RawMessage{}
	}
	return out, nil
}

// Insert writes one row and returns it as stored. The id (where the table
// has one) and created_at are filled in when the caller omits them.
func (db *DB) Insert(ctx context.Context, table string, row any) (json.RawMessage, error) {
	cols, err := columnsFor(table)
	if err != nil {
		return nil, err
	}

	values, err := rowValues(row)
	if err != nil {
		return nil, err
	}
	if cols["id"] {
		// A typed struct row marshals its zero ID as "", not as an absent
		// key; both mean "mint one here".
		if s, ok := values["id"].(string); ok && s == "" {
			delete(values, "id")
		}
		if _, ok := values["id"]; !ok {
			values["id"] = xid.New().String()
		}
	}
	// A struct with a zero time.Time marshals created_at as the year-one
	// sentinel; treat that the same as an omitted column.
	if s, ok := values["created_at"].(string); ok && strings.HasPrefix(s, "0001-01-01") {
		delete(values, "created_at")
	}
	if _, ok := values["created_at"]; !ok {
		values["created_at"] = timestamp(time.Now())
	}

	names := make([]string, 0, len(values))
	for name := range values {
		if !cols[name] {
			return nil, fmt.Errorf("sqlitegw: unknown column %q on %s", name, table)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		placeholders[i] = "?"
		args[i] = values[name]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("unique_violation",
				fmt.Sprintf("a %s row with these values already exists", table))
		}
		return nil, fmt.Errorf("sqlitegw: inserting into %s: %w", table, err)
	}

	stored, err := db.readBack(ctx, table, cols, values)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Update applies patch to every row matching filters.
func (db *DB) Update(ctx context.Context, table string, patch map[string]any, filters gateway.Filters) error {
	cols, err := columnsFor(table)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}

	names := make([]string, 0, len(patch))
	for name := range patch {
		if !cols[name] {
			return fmt.Errorf("sqlitegw: unknown column %q on %s", name, table)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+len(filters))
	for i, name := range names {
		sets[i] = name + " = ?"
		args = append(args, patch[name])
	}

	where, whereArgs, err := buildWhere(cols, filters)
	if err != nil {
		return err
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where)
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("unique_violation",
				fmt.Sprintf("the update would duplicate a unique %s value", table))
		}
		return fmt.Errorf("sqlitegw: updating %s: %w", table, err)
	}
	return nil
}

// Increment adds delta to column on every matching row in one UPDATE.
// SQLite executes the statement atomically, so concurrent increments never
// lose each other.
func (db *DB) Increment(ctx context.Context, table, column string, filters gateway.Filters, delta int) error {
	cols, err := columnsFor(table)
	if err != nil {
		return err
	}
	if !cols[column] {
		return fmt.Errorf("sqlitegw: unknown column %q on %s", column, table)
	}

	where, args, err := buildWhere(cols, filters)
	if err != nil {
		return err
	}
	args = append([]any{delta}, args...)

	query := fmt.Sprintf("UPDATE %s SET %s = %s + ?%s", table, column, column, where)
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlitegw: incrementing %s.%s: %w", table, column, err)
	}
	return nil
}

// buildWhere renders filters as " WHERE a = ? AND b = ?" with deterministic
// column order. Empty filters produce an empty string (match everything).
func buildWhere(cols map[string]bool, filters gateway.Filters) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	names := make([]string, 0, len(filters))
	for name := range filters {
		if !cols[name] {
			return "", nil, fmt.Errorf("sqlitegw: unknown filter column %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	conds := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		conds[i] = name + " = ?"
		args[i] = filters[name]
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// rowValues flattens row (a struct with json tags, or a map) into column
// values via a JSON round trip, dropping nulls so omitted optional fields
// fall back to column defaults.
func rowValues(row any) (map[string]any, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("sqlitegw: encoding row: %w", err)
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("sqlitegw: row must encode to a JSON object: %w", err)
	}
	for name, v := range values {
		if v == nil {
			delete(values, name)
		}
	}
	return values, nil
}

// readBack fetches the just-inserted row so Insert can return the stored
// representation, matching the remote backend's return=representation
// behavior.
func (db *DB) readBack(ctx context.Context, table string, cols map[string]bool, values map[string]any) (json.RawMessage, error) {
	filters := gateway.Filters{}
	if cols["id"] {
		filters["id"] = fmt.Sprint(values["id"])
	} else {
		// user_courses has a composite key instead of an id.
		filters["user_id"] = fmt.Sprint(values["user_id"])
		filters["course_id"] = fmt.Sprint(values["course_id"])
	}
	rows, err := db.Select(ctx, table, filters, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("sqlitegw: reading back %s row: got %d rows", table, len(rows))
	}
	return rows[0], nil
}

// scanRow reads the current result row into a JSON-ready map. TEXT comes
// back as []byte from the driver and is converted to string; INTEGER stays
// numeric so counters decode as numbers.
func scanRow(rows interface {
	Columns() ([]string, error)
	Scan(...any) error
}) (map[string]any, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	ptrs := make([]any, len(names))
	vals := make([]any, len(names))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	obj := make(map[string]any, len(names))
	for i, name := range names {
		switch v := vals[i].(type) {
		case []byte:
			obj[name] = string(v)
		default:
			obj[name] = v
		}
	}
	return obj, nil
}
