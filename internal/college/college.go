// Package college searches the U.S. Dept. of Education College Scorecard
// API for school names during onboarding.
//
// The search is strictly best-effort: any failure — transport, bad status,
// unparseable body — yields an empty result and a log line, never an error.
// A user who cannot autocomplete their school can still type it in, so
// nothing upstream should branch on this call failing.
package college

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultBaseURL = "https://api.data.gov/ed/collegescorecard/v1/schools"

	// The response keys are literal dotted names ("school.name"), not nested
	// objects, which is why this package parses with gjson instead of
	// struct tags.
	searchFields = "id,school.name,school.city,school.state"
)

// College is one school search result.
type College struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

// Client queries the Scorecard API. Zero-value fields fall back to sane
// defaults in New.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// New builds a client. baseURL may be empty for the real API; the proxy
// binary passes its own upstream, and tests pass an httptest server.
func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Search returns schools whose name matches query. An empty query and every
// failure mode return an empty slice.
func (c *Client) Search(ctx context.Context, query string) []College {
	query = strings.TrimSpace(query)
	if query == "" {
		return []College{}
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("fields", searchFields)
	params.Set("school.name", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		c.logger.Warn("college search: building request", "error", err)
		return []College{}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("college search: request failed", "error", err)
		return []College{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("college search: unexpected status",
			"status", resp.StatusCode, "query", query)
		return []College{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Warn("college search: reading response", "error", err)
		return []College{}
	}
	return parseResults(body)
}

// parseResults extracts the results array. The upstream id is numeric; it is
// normalized to a string here so callers never care.
func parseResults(body []byte) []College {
	results := gjson.GetBytes(body, "results")
	if !results.IsArray() {
		return []College{}
	}

	out := make([]College, 0, len(results.Array()))
	results.ForEach(func(_, item gjson.Result) bool {
		name := item.Get("school\\.name").String()
		if name == "" {
			return true
		}
		id := item.Get("id")
		c := College{
			Name:  name,
			City:  item.Get("school\\.city").String(),
			State: item.Get("school\\.state").String(),
		}
		if id.Type == gjson.Number {
			c.ID = fmt.Sprintf("%d", id.Int())
		} else {
			c.ID = id.String()
		}
		out = append(out, c)
		return true
	})
	return out
}
