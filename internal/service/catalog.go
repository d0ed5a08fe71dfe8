package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
	"cajero/backend/internal/xid"
)

func (s *Service) ListClients(ctx context.Context, tenantID string) ([]domain.Client, error) {
	return s.repo.ListClients(ctx, tenantID)
}

func (s *Service) GetClient(ctx context.Context, tenantID string, clientID string) (domain.Client, error) {
	client, err := s.repo.GetClient(ctx, tenantID, clientID)
	if err != nil {
		return domain.Client{}, err
	}
	return *client, nil
}

func (s *Service) CreateClient(ctx context.Context, tenantID string, req domain.ClientRequest) (domain.Client, error) {
	req, err := normalizeClient(req)
	if err != nil {
		return domain.Client{}, err
	}
	now := s.now()
	created, err := s.repo.CreateClient(ctx, domain.Client{
		ID:        xid.New(),
		TenantID:  tenantID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		TaxID:     req.TaxID,
		Address:   req.Address,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Client{}, err
	}
	return *created, nil
}

func (s *Service) UpdateClient(ctx context.Context, tenantID string, clientID string, req domain.ClientRequest) (domain.Client, error) {
	req, err := normalizeClient(req)
	if err != nil {
		return domain.Client{}, err
	}
	existing, err := s.repo.GetClient(ctx, tenantID, clientID)
	if err != nil {
		return domain.Client{}, err
	}

	updated := *existing
	updated.Name = req.Name
	updated.Email = req.Email
	updated.Phone = req.Phone
	updated.TaxID = req.TaxID
	updated.Address = req.Address
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateClient(ctx, updated)
	if err != nil {
		return domain.Client{}, err
	}
	return *saved, nil
}

// DeleteClient keeps the client's invoices; they lose the client reference.
func (s *Service) DeleteClient(ctx context.Context, tenantID string, clientID string) error {
	if err := s.repo.DeleteClient(ctx, tenantID, clientID); err != nil {
		return err
	}
	s.reports.InvalidateTenant(ctx, tenantID)
	return nil
}

func normalizeClient(req domain.ClientRequest) (domain.ClientRequest, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.TaxID = strings.TrimSpace(req.TaxID)
	req.Address = strings.TrimSpace(req.Address)

	if req.Name == "" {
		return req, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return req, fmt.Errorf("%w: email is not valid", store.ErrInvalidInput)
		}
	}
	return req, nil
}

func (s *Service) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, tenantID)
}

func (s *Service) GetProduct(ctx context.Context, tenantID string, productID string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, tenantID string, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))

	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	if req.Price.IsNegative() || req.Cost.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: price and cost must not be negative", store.ErrInvalidInput)
	}
	if req.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock must not be negative", store.ErrInvalidInput)
	}
	taxRate := decimal.Zero
	if req.DefaultTaxRate != nil {
		if err := validateRate(*req.DefaultTaxRate); err != nil {
			return domain.Product{}, err
		}
		taxRate = *req.DefaultTaxRate
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := s.now()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:             xid.New(),
		TenantID:       tenantID,
		Name:           req.Name,
		SKU:            req.SKU,
		Price:          req.Price.Round(2),
		Cost:           req.Cost.Round(2),
		Stock:          req.Stock,
		DefaultTaxRate: taxRate,
		IsActive:       active,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.reports.InvalidateTenant(ctx, tenantID)
	return *created, nil
}

// UpdateProduct never touches stock.
func (s *Service) UpdateProduct(ctx context.Context, tenantID string, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.SKU != nil {
		updated.SKU = strings.ToUpper(strings.TrimSpace(*req.SKU))
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
		}
		updated.Price = req.Price.Round(2)
	}
	if req.Cost != nil {
		if req.Cost.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: cost must not be negative", store.ErrInvalidInput)
		}
		updated.Cost = req.Cost.Round(2)
	}
	if req.DefaultTaxRate != nil {
		if err := validateRate(*req.DefaultTaxRate); err != nil {
			return domain.Product{}, err
		}
		updated.DefaultTaxRate = *req.DefaultTaxRate
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.reports.InvalidateTenant(ctx, tenantID)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, tenantID string, productID string) error {
	if err := s.repo.DeleteProduct(ctx, tenantID, productID); err != nil {
		return err
	}
	s.reports.InvalidateTenant(ctx, tenantID)
	return nil
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: tax rate must be between 0 and 1", store.ErrInvalidInput)
	}
	return nil
}
