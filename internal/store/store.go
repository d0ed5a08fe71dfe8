package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cajero/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSchemaNotReady    = errors.New("schema not ready")
)

// InsufficientStockError names the product and both quantities. It matches
// ErrInsufficientStock with errors.Is.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type AccountStore interface {
	CreateTenantWithAdmin(ctx context.Context, tenant domain.Tenant, admin domain.User) error
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUser(ctx context.Context, tenantID string, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context, tenantID string) ([]domain.User, error)
}

type ClientStore interface {
	ListClients(ctx context.Context, tenantID string) ([]domain.Client, error)
	GetClient(ctx context.Context, tenantID string, clientID string) (*domain.Client, error)
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	DeleteClient(ctx context.Context, tenantID string, clientID string) error
}

// ProductStore never writes stock on update; see Tx.UpdateProductStock.
type ProductStore interface {
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, tenantID string, productID string) error
}

type InvoiceStore interface {
	InvoiceNumberExists(ctx context.Context, tenantID string, number string) (bool, error)
	ListInvoices(ctx context.Context, tenantID string, filter domain.InvoiceFilter) ([]domain.Invoice, error)
	GetInvoice(ctx context.Context, tenantID string, invoiceID string) (*domain.Invoice, error)
	UpdateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	DeleteInvoice(ctx context.Context, tenantID string, invoiceID string) error
}

// ReportStore is read-only. Missing tables surface as ErrSchemaNotReady.
type ReportStore interface {
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	LatestCloseout(ctx context.Context, tenantID string, cashRegisterID string) (*domain.ShiftCloseout, error)
	SumSales(ctx context.Context, tenantID string, window domain.SalesWindow) (domain.SalesTotal, error)
	CatalogCounts(ctx context.Context, tenantID string, lowStockThreshold int) (domain.CatalogCounts, error)
	RevenueSeries(ctx context.Context, tenantID string, period domain.RevenuePeriod, from time.Time, to time.Time, loc *time.Location) ([]domain.RevenuePoint, error)
	TopProducts(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error)
}

// Tx is the unit of work handed to Repository.RunInTx. Rows read through
// GetProductForUpdate stay locked until the unit of work ends.
type Tx interface {
	GetProductForUpdate(ctx context.Context, tenantID string, productID string) (*domain.Product, error)
	UpdateProductStock(ctx context.Context, tenantID string, productID string, stock int) error
	GetClient(ctx context.Context, tenantID string, clientID string) (*domain.Client, error)
	InsertInvoice(ctx context.Context, invoice domain.Invoice) error

	GetCashRegister(ctx context.Context, tenantID string, cashRegisterID string) (*domain.CashRegister, error)
	SaveCashRegister(ctx context.Context, register domain.CashRegister) error
	LatestCloseout(ctx context.Context, tenantID string, cashRegisterID string) (*domain.ShiftCloseout, error)
	SumSales(ctx context.Context, tenantID string, window domain.SalesWindow) (domain.SalesTotal, error)
	InsertCloseout(ctx context.Context, closeout domain.ShiftCloseout) error
}

// Repository is the tenant-scoped data store. Every method filters by tenant.
type Repository interface {
	AccountStore
	ClientStore
	ProductStore
	InvoiceStore
	ReportStore

	// RunInTx commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
