package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
	"cajero/backend/internal/store/memory"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected allowed origin *, got %q", got)
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/invoices", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	body, _ := json.Marshal(domain.LoginRequest{Email: memory.SeedAdmin, Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}

	// Another client is not affected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.2:5000"
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a different client, got %d", res.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"email":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestWrongMethodIsRejected(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/login", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	res := httptest.NewRecorder()

	writeServiceError(res, req, errors.New("pq: relation secret_table has a problem"))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "secret_table") {
		t.Fatalf("internal detail leaked: %s", res.Body.String())
	}
	if !strings.Contains(res.Body.String(), "internal server error") {
		t.Fatalf("expected generic message, got %s", res.Body.String())
	}
}

func TestStatusForMapsSentinels(t *testing.T) {
	tests := []struct {
		err      error
		conflict int
		want     int
	}{
		{fmt.Errorf("%w: number is required", store.ErrInvalidInput), http.StatusConflict, http.StatusBadRequest},
		{&store.InsufficientStockError{Requested: 2, Available: 1}, http.StatusConflict, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusConflict, http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict, http.StatusConflict},
		{store.ErrConflict, http.StatusBadRequest, http.StatusBadRequest},
		{fmt.Errorf("%w: relation missing", store.ErrSchemaNotReady), http.StatusConflict, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusConflict, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err, tt.conflict); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func TestParseTimeParam(t *testing.T) {
	got, err := parseTimeParam("2026-03-04")
	if err != nil || got == nil || got.Day() != 4 {
		t.Fatalf("expected date-only parse, got %v %v", got, err)
	}
	got, err = parseTimeParam("2026-03-04T10:00:00-05:00")
	if err != nil || got == nil || got.UTC().Hour() != 15 {
		t.Fatalf("expected RFC 3339 parse, got %v %v", got, err)
	}
	if got, err := parseTimeParam(""); got != nil || err != nil {
		t.Fatalf("expected nil for empty input")
	}
	if _, err := parseTimeParam("04/03/2026"); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}
}
