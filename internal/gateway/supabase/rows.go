package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/akashpatel/courseloop/internal/gateway"
)

// Select performs GET /rest/v1/{table} with eq filters and optional order.
func (c *Client) Select(ctx context.Context, table string, filters gateway.Filters, order *gateway.Order) ([]json.RawMessage, error) {
	query := url.Values{}
	for col, val := range filters {
		query.Set(col, "eq."+val)
	}
	if order != nil {
		dir := "asc"
		if order.Descending {
			dir = "desc"
		}
		query.Set("order", order.Column+"."+dir)
	}

	raw, err := c.do(ctx, "GET", "/rest/v1/"+url.PathEscape(table), query, nil, nil)
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("supabase: decoding %s rows: %w", table, err)
	}
	return rows, nil
}

// Insert performs POST /rest/v1/{table}. Prefer: return=representation asks
// PostgREST to echo the stored row (with server-populated defaults), which
// comes back as a one-element array.
func (c *Client) Insert(ctx context.Context, table string, row any) (json.RawMessage, error) {
	raw, err := c.do(ctx, "POST", "/rest/v1/"+url.PathEscape(table), nil, row,
		map[string]string{"Prefer": "return=representation"})
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("supabase: decoding %s insert response: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("supabase: %s insert returned no representation", table)
	}
	return rows[0], nil
}

// Update performs PATCH /rest/v1/{table} limited by eq filters.
func (c *Client) Update(ctx context.Context, table string, patch map[string]any, filters gateway.Filters) error {
	query := url.Values{}
	for col, val := range filters {
		query.Set(col, "eq."+val)
	}

	if _, err := c.do(ctx, "PATCH", "/rest/v1/"+url.PathEscape(table), query, patch, nil); err != nil {
		return err
	}
	return nil
}

// Increment calls the `increment` SQL function through PostgREST RPC. The
// function applies `col = col + delta` to the matching rows as one
// statement, which is what makes concurrent counter updates safe — the
// alternative, patching a client-computed value, silently loses updates.
//
// Expected function signature on the backend:
//
//	create function increment(tbl text, col text, match jsonb, delta int)
func (c *Client) Increment(ctx context.Context, table, column string, filters gateway.Filters, delta int) error {
	body := map[string]any{
		"tbl":   table,
		"col":   column,
		"match": filters,
		"delta": delta,
	}
	if _, err := c.do(ctx, "POST", "/rest/v1/rpc/increment", nil, body, nil); err != nil {
		return err
	}
	return nil
}
