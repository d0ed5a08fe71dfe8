package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cajero/backend/internal/authz"
	"cajero/backend/internal/domain"
	"cajero/backend/internal/reporting"
	"cajero/backend/internal/service"
	"cajero/backend/internal/store"
	"cajero/backend/internal/syncer"
)

const maxBodyBytes = 1 << 20

type Options struct {
	AllowedOrigin  string
	RequestTimeout time.Duration
	// Sync is nil unless the server runs offline against a remote database.
	Sync *syncer.Reconciler
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	reports        *reporting.Aggregator
	sync           *syncer.Reconciler
	allowedOrigin  string
	requestTimeout time.Duration
	loginLimiter   *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, reports *reporting.Aggregator, opts Options) *API {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:        svc,
		auth:           auth,
		reports:        reports,
		sync:           opts.Sync,
		allowedOrigin:  opts.AllowedOrigin,
		requestTimeout: opts.RequestTimeout,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/signup", a.handleSignup)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/me", a.requireAuth(a.handleMe, authz.AnyRole))

	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, authz.AdminOnly))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, authz.AdminOnly))

	mux.HandleFunc("GET /api/v1/clients", a.requireAuth(a.handleListClients, authz.AnyRole))
	mux.HandleFunc("POST /api/v1/clients", a.requireAuth(a.handleCreateClient, authz.AnyRole))
	mux.HandleFunc("GET /api/v1/clients/{id}", a.requireAuth(a.handleGetClient, authz.AnyRole))
	mux.HandleFunc("PUT /api/v1/clients/{id}", a.requireAuth(a.handleUpdateClient, authz.AnyRole))
	mux.HandleFunc("DELETE /api/v1/clients/{id}", a.requireAuth(a.handleDeleteClient, authz.AdminOnly))

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, authz.AnyRole))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, authz.AdminOnly))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, authz.AnyRole))
	mux.HandleFunc("PUT /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, authz.AdminOnly))
	mux.HandleFunc("DELETE /api/v1/products/{id}", a.requireAuth(a.handleDeleteProduct, authz.AdminOnly))

	mux.HandleFunc("POST /api/v1/invoices", a.requireAuth(a.handleCreateInvoice, authz.AnyRole))
	mux.HandleFunc("GET /api/v1/invoices", a.requireAuth(a.handleListInvoices, authz.AnyRole))
	mux.HandleFunc("GET /api/v1/invoices/{id}", a.requireAuth(a.handleGetInvoice, authz.AnyRole))
	mux.HandleFunc("PUT /api/v1/invoices/{id}", a.requireAuth(a.handleUpdateInvoice, authz.AnyRole))
	mux.HandleFunc("DELETE /api/v1/invoices/{id}", a.requireAuth(a.handleDeleteInvoice, authz.AdminOnly))

	mux.HandleFunc("POST /api/v1/reports/close-shift", a.requireAuth(a.handleCloseShift, authz.AnyRole))
	mux.HandleFunc("GET /api/v1/reports/last-shift-closeout", a.requireAuth(a.handleLastCloseout, authz.AdminOnly))
	mux.HandleFunc("GET /api/v1/reports/dashboard", a.requireAuth(a.handleDashboard, authz.AdminOnly))
	mux.HandleFunc("GET /api/v1/reports/revenue", a.requireAuth(a.handleRevenue, authz.AdminOnly))
	mux.HandleFunc("GET /api/v1/reports/top-products", a.requireAuth(a.handleTopProducts, authz.AdminOnly))

	mux.HandleFunc("POST /api/v1/sync/run", a.requireAuth(a.handleSyncRun, authz.AdminOnly))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles []domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		if rec, ok := w.(*statusRecorder); ok {
			rec.tenant = actor.TenantID
		}

		if !authz.Allow(roles, actor.Role) {
			writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

// actorFrom is only called behind requireAuth.
func actorFrom(r *http.Request) domain.Actor {
	actor, _ := service.ActorFromContext(r.Context())
	return actor
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	tenant string
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if a.requestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)

		var event *zerolog.Event
		switch {
		case rec.status >= 500:
			event = log.Error()
		case rec.status >= 400:
			event = log.Warn()
		default:
			event = log.Info()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Str("tenant", rec.tenant).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTimeParam accepts RFC 3339 or a bare YYYY-MM-DD date (UTC midnight).
func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// statusFor maps service and store errors to HTTP statuses. conflict is the
// status used for ErrConflict, which differs between routes.
func statusFor(err error, conflict int) int {
	switch {
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return conflict
	case errors.Is(err, store.ErrSchemaNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFor(err, http.StatusConflict), err)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeJSON(w, status, map[string]any{
			"error":     err.Error(),
			"productId": stockErr.ProductID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
		return
	}

	// 4xx messages are user-facing; 5xx details stay in the log.
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		log.Warn().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("database schema not ready")
		msg = "database schema is not ready"
	case status >= 500:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
