package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akashpatel/courseloop/internal/college"
)

type stubSearcher struct {
	gotQuery string
	results  []college.College
}

func (s *stubSearcher) Search(_ context.Context, query string) []college.College {
	s.gotQuery = query
	return s.results
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleSearch(t *testing.T) {
	stub := &stubSearcher{results: []college.College{
		{ID: "166027", Name: "Harvard University", City: "Cambridge", State: "MA"},
	}}
	h := NewCollegeHandler(stub, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/colleges?q=harvard", nil)
	rec := httptest.NewRecorder()
	h.HandleSearch(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "harvard", stub.gotQuery)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Harvard University", resp.Results[0].Name)
}

func TestHandleSearch_NoResultsIsOK(t *testing.T) {
	h := NewCollegeHandler(&stubSearcher{results: []college.College{}}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/colleges?q=zzzz", nil)
	rec := httptest.NewRecorder()
	h.HandleSearch(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[]}`, rec.Body.String())
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	stub := &stubSearcher{}
	h := NewCollegeHandler(stub, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/colleges?q=%20%20", nil)
	rec := httptest.NewRecorder()
	h.HandleSearch(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error)
	assert.Empty(t, stub.gotQuery)
}
