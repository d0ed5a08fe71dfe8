package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many attempts"))
		return
	}

	var req domain.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Signup(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	log.Info().Str("tenant", resp.User.TenantID).Msg("tenant signed up")
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) || errors.Is(err, errInactiveAccount) {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := a.auth.Me(r.Context(), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.ListUsers(r.Context(), actorFrom(r).TenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	user, err := a.auth.CreateUser(r.Context(), actorFrom(r).TenantID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := a.service.ListClients(r.Context(), actorFrom(r).TenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (a *API) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req domain.ClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	client, err := a.service.CreateClient(r.Context(), actorFrom(r).TenantID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

func (a *API) handleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := a.service.GetClient(r.Context(), actorFrom(r).TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (a *API) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	var req domain.ClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	client, err := a.service.UpdateClient(r.Context(), actorFrom(r).TenantID, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (a *API) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteClient(r.Context(), actorFrom(r).TenantID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), actorFrom(r).TenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), actorFrom(r).TenantID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), actorFrom(r).TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// handleUpdateProduct rejects a stock field through DisallowUnknownFields.
func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), actorFrom(r).TenantID, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), actorFrom(r).TenantID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	actor := actorFrom(r)
	resp, err := a.service.CreateInvoice(r.Context(), actor.TenantID, actor.UserID, req)
	if err != nil {
		// A duplicate number is a client mistake on this route.
		writeError(w, r, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.InvoiceFilter{
		Status:   domain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(query.Get("status")))),
		ClientID: strings.TrimSpace(query.Get("clientId")),
		Limit:    parsePositiveLimit(query.Get("limit"), 100, 500),
	}

	invoices, err := a.service.ListInvoices(r.Context(), actorFrom(r).TenantID, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := a.service.GetInvoice(r.Context(), actorFrom(r).TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	invoice, err := a.service.UpdateInvoice(r.Context(), actorFrom(r).TenantID, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteInvoice(r.Context(), actorFrom(r).TenantID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleCloseShift(w http.ResponseWriter, r *http.Request) {
	var req domain.CloseShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	actor := actorFrom(r)
	summary, err := a.service.CloseShift(r.Context(), actor.TenantID, actor.UserID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleLastCloseout(w http.ResponseWriter, r *http.Request) {
	registerID := strings.TrimSpace(r.URL.Query().Get("cashRegisterId"))
	writeJSON(w, http.StatusOK, a.reports.LastCloseout(r.Context(), actorFrom(r).TenantID, registerID))
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.reports.Dashboard(r.Context(), actorFrom(r).TenantID))
}

func (a *API) handleRevenue(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, to, err := parseRange(query.Get("from"), query.Get("to"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	period := domain.RevenuePeriod(strings.ToLower(strings.TrimSpace(query.Get("period"))))

	report, err := a.reports.Revenue(r.Context(), actorFrom(r).TenantID, period, from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, to, err := parseRange(query.Get("from"), query.Get("to"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	limit := parsePositiveLimit(query.Get("limit"), 10, 100)

	top := a.reports.TopProducts(r.Context(), actorFrom(r).TenantID, limit, from, to)
	writeJSON(w, http.StatusOK, map[string]any{"products": top})
}

func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if a.sync == nil {
		writeError(w, r, http.StatusConflict, errors.New("sync is not configured"))
		return
	}

	report, err := a.sync.RunOnce(r.Context())
	if err != nil {
		// Per-entity failures are part of the report.
		log.Warn().Err(err).Msg("on-demand sync finished with errors")
	}
	writeJSON(w, http.StatusOK, report)
}

func parseRange(rawFrom string, rawTo string) (*time.Time, *time.Time, error) {
	from, err := parseTimeParam(rawFrom)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: from must be RFC 3339 or YYYY-MM-DD", store.ErrInvalidInput)
	}
	to, err := parseTimeParam(rawTo)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: to must be RFC 3339 or YYYY-MM-DD", store.ErrInvalidInput)
	}
	return from, to, nil
}
