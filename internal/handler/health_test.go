package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeHealthStore struct {
	pingErr error
	total   int
}

func (f *fakeHealthStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeHealthStore) CountTokens(context.Context) (int, error) { return f.total, nil }

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := NewHealthHandler(&fakeHealthStore{total: 12})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", rr.Code)
		}
		var body HealthResponse
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Status != "healthy" || body.TotalTokens != 12 {
			t.Fatalf("unexpected body: %+v", body)
		}
	})

	t.Run("database down", func(t *testing.T) {
		h := NewHealthHandler(&fakeHealthStore{pingErr: errors.New("connection refused")})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status: %d", rr.Code)
		}
		var body HealthResponse
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Status != "unhealthy" {
			t.Fatalf("unexpected status field: %q", body.Status)
		}
	})
}
