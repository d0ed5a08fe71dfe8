package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/pricing"
	"cajero/backend/internal/store"
	"cajero/backend/internal/xid"
)

// CreateInvoice validates the request, then prices the lines, decrements
// stock and writes the invoice in one unit of work. Nothing is persisted when
// any line fails.
func (s *Service) CreateInvoice(ctx context.Context, tenantID string, userID string, req domain.InvoiceCreateRequest) (domain.InvoiceCreateResponse, error) {
	req, err := s.normalizeInvoiceRequest(req)
	if err != nil {
		return domain.InvoiceCreateResponse{}, err
	}

	if req.ClientID != "" {
		if _, err := s.repo.GetClient(ctx, tenantID, req.ClientID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.InvoiceCreateResponse{}, fmt.Errorf("%w: client %s not found", store.ErrNotFound, req.ClientID)
			}
			return domain.InvoiceCreateResponse{}, err
		}
	}
	exists, err := s.repo.InvoiceNumberExists(ctx, tenantID, req.Number)
	if err != nil {
		return domain.InvoiceCreateResponse{}, err
	}
	if exists {
		return domain.InvoiceCreateResponse{}, fmt.Errorf("%w: invoice number %s already exists", store.ErrConflict, req.Number)
	}

	now := s.now()
	invoice := domain.Invoice{
		ID:              xid.New(),
		TenantID:        tenantID,
		ClientID:        req.ClientID,
		Number:          req.Number,
		Status:          req.Status,
		IssueDate:       now,
		PaymentMethod:   req.PaymentMethod,
		Currency:        req.Currency,
		IsCreditSale:    req.IsCreditSale,
		Notes:           req.Notes,
		CreatedByUserID: userID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.IssueDate != nil {
		invoice.IssueDate = req.IssueDate.UTC()
	}

	var warnings []string
	err = s.repo.RunInTx(ctx, func(tx store.Tx) error {
		products, err := lockProducts(ctx, tx, tenantID, req.Items)
		if err != nil {
			return err
		}

		remaining := make(map[string]int, len(products))
		for id, product := range products {
			remaining[id] = product.Stock
		}

		lines := make([]pricing.Line, 0, len(req.Items))
		items := make([]domain.InvoiceItem, 0, len(req.Items))
		for _, itemReq := range req.Items {
			product := products[itemReq.ProductID]
			available := remaining[product.ID]
			if itemReq.Quantity > available {
				return &store.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   itemReq.Quantity,
					Available:   available,
				}
			}
			remaining[product.ID] = available - itemReq.Quantity

			unitPrice := product.Price
			if itemReq.UnitPrice != nil {
				unitPrice = pricing.Round(*itemReq.UnitPrice)
			}
			line := pricing.LineAmounts(unitPrice, itemReq.Quantity, req.ApplyIva)
			lines = append(lines, line)
			items = append(items, domain.InvoiceItem{
				ID:             xid.New(),
				InvoiceID:      invoice.ID,
				ProductID:      product.ID,
				Description:    defaultString(itemReq.Description, product.Name),
				Quantity:       itemReq.Quantity,
				UnitPrice:      unitPrice,
				TaxRateApplied: line.RateApplied,
				TaxAmount:      line.Tax,
				TotalAmount:    line.Total,
			})
		}

		for _, id := range sortedKeys(remaining) {
			if remaining[id] == products[id].Stock {
				continue
			}
			if err := tx.UpdateProductStock(ctx, tenantID, id, remaining[id]); err != nil {
				return err
			}
			if pricing.IsLowStock(remaining[id]) {
				warnings = append(warnings, pricing.LowStockWarning(products[id].Name, remaining[id]))
			}
		}

		totals := pricing.Sum(lines)
		invoice.Subtotal = totals.Subtotal
		invoice.TaxTotal = totals.TaxTotal
		invoice.Total = totals.Total
		invoice.TotalPaid = invoice.Total
		if invoice.IsCreditSale {
			invoice.TotalPaid = decimal.Zero
			if req.TotalPaid != nil {
				invoice.TotalPaid = pricing.Round(*req.TotalPaid)
			}
		}
		invoice.Items = items

		return tx.InsertInvoice(ctx, invoice)
	})
	if err != nil {
		return domain.InvoiceCreateResponse{}, err
	}

	s.reports.InvalidateTenant(ctx, tenantID)
	if len(warnings) > 0 {
		log.Warn().Str("tenant", tenantID).Str("invoice", invoice.Number).Strs("warnings", warnings).Msg("low stock after sale")
	}

	created, err := s.repo.GetInvoice(ctx, tenantID, invoice.ID)
	if err != nil {
		return domain.InvoiceCreateResponse{}, err
	}
	if warnings == nil {
		warnings = []string{}
	}
	return domain.InvoiceCreateResponse{Invoice: *created, Warnings: warnings}, nil
}

func (s *Service) normalizeInvoiceRequest(req domain.InvoiceCreateRequest) (domain.InvoiceCreateRequest, error) {
	req.Number = strings.TrimSpace(req.Number)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.PaymentMethod = strings.ToUpper(defaultString(req.PaymentMethod, domain.PaymentMethodCash))
	req.Currency = strings.ToUpper(defaultString(req.Currency, s.defaultCurrency))
	req.Notes = strings.TrimSpace(req.Notes)
	if req.Status == "" {
		req.Status = domain.InvoiceStatusIssued
	}

	if req.Number == "" {
		return req, fmt.Errorf("%w: number is required", store.ErrInvalidInput)
	}
	if !req.Status.Valid() {
		return req, fmt.Errorf("%w: status %q is not valid", store.ErrInvalidInput, req.Status)
	}
	if len(req.Items) == 0 {
		return req, fmt.Errorf("%w: at least one item is required", store.ErrInvalidInput)
	}
	for i := range req.Items {
		item := &req.Items[i]
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return req, fmt.Errorf("%w: item %d: productId is required", store.ErrInvalidInput, i+1)
		}
		if item.Quantity < 1 {
			return req, fmt.Errorf("%w: item %d: quantity must be at least 1", store.ErrInvalidInput, i+1)
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return req, fmt.Errorf("%w: item %d: unitPrice must not be negative", store.ErrInvalidInput, i+1)
		}
	}
	if req.TotalPaid != nil && req.TotalPaid.IsNegative() {
		return req, fmt.Errorf("%w: totalPaid must not be negative", store.ErrInvalidInput)
	}
	return req, nil
}

// lockProducts locks each distinct product once, in id order, so concurrent
// invoices over the same products cannot deadlock.
func lockProducts(ctx context.Context, tx store.Tx, tenantID string, items []domain.InvoiceItemRequest) (map[string]domain.Product, error) {
	ids := make(map[string]struct{}, len(items))
	for _, item := range items {
		ids[item.ProductID] = struct{}{}
	}

	products := make(map[string]domain.Product, len(ids))
	for _, id := range sortedKeys(ids) {
		product, err := tx.GetProductForUpdate(ctx, tenantID, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: product %s not found", store.ErrNotFound, id)
			}
			return nil, err
		}
		if !product.IsActive {
			return nil, fmt.Errorf("%w: product %s is inactive", store.ErrInvalidInput, product.Name)
		}
		products[id] = *product
	}
	return products, nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Service) ListInvoices(ctx context.Context, tenantID string, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q is not valid", store.ErrInvalidInput, filter.Status)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListInvoices(ctx, tenantID, filter)
}

func (s *Service) GetInvoice(ctx context.Context, tenantID string, invoiceID string) (domain.Invoice, error) {
	invoice, err := s.repo.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

// UpdateInvoice edits header fields only. Lines, amounts and stock stay as
// they were when the invoice was created.
func (s *Service) UpdateInvoice(ctx context.Context, tenantID string, invoiceID string, req domain.InvoiceUpdateRequest) (domain.Invoice, error) {
	existing, err := s.repo.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}

	updated := *existing
	if req.Number != nil {
		number := strings.TrimSpace(*req.Number)
		if number == "" {
			return domain.Invoice{}, fmt.Errorf("%w: number must not be empty", store.ErrInvalidInput)
		}
		updated.Number = number
	}
	if req.ClientID != nil {
		clientID := strings.TrimSpace(*req.ClientID)
		if clientID != "" {
			if _, err := s.repo.GetClient(ctx, tenantID, clientID); err != nil {
				return domain.Invoice{}, err
			}
		}
		updated.ClientID = clientID
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return domain.Invoice{}, fmt.Errorf("%w: status %q is not valid", store.ErrInvalidInput, *req.Status)
		}
		updated.Status = *req.Status
	}
	if req.IssueDate != nil {
		updated.IssueDate = req.IssueDate.UTC()
	}
	if req.PaymentMethod != nil {
		updated.PaymentMethod = strings.ToUpper(defaultString(*req.PaymentMethod, domain.PaymentMethodCash))
	}
	if req.Currency != nil {
		updated.Currency = strings.ToUpper(defaultString(*req.Currency, s.defaultCurrency))
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.IsCreditSale != nil {
		updated.IsCreditSale = *req.IsCreditSale
	}
	if req.TotalPaid != nil {
		if req.TotalPaid.IsNegative() {
			return domain.Invoice{}, fmt.Errorf("%w: totalPaid must not be negative", store.ErrInvalidInput)
		}
		updated.TotalPaid = pricing.Round(*req.TotalPaid)
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateInvoice(ctx, updated)
	if err != nil {
		return domain.Invoice{}, err
	}
	s.reports.InvalidateTenant(ctx, tenantID)
	return *saved, nil
}

// DeleteInvoice removes the invoice and its lines. Stock is not restored.
func (s *Service) DeleteInvoice(ctx context.Context, tenantID string, invoiceID string) error {
	if err := s.repo.DeleteInvoice(ctx, tenantID, invoiceID); err != nil {
		return err
	}
	s.reports.InvalidateTenant(ctx, tenantID)
	return nil
}
