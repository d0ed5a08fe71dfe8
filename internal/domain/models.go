package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money goes over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleCashier Role = "CASHIER"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCashier
}

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusIssued    InvoiceStatus = "ISSUED"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusIssued, InvoiceStatusPaid, InvoiceStatusCancelled:
		return true
	}
	return false
}

// CountsAsSale reports whether invoices in this status contribute to sales totals.
func (s InvoiceStatus) CountsAsSale() bool {
	return s == InvoiceStatusIssued || s == InvoiceStatusPaid
}

// SaleStatuses lists the statuses summed by closeouts and reports.
var SaleStatuses = []InvoiceStatus{InvoiceStatusIssued, InvoiceStatusPaid}

const (
	PaymentMethodCash = "CASH"
	DefaultCurrency   = "COP"
)

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Client struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	TaxID     string    `json:"taxId,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Product.DefaultTaxRate is informational; invoice totals use the flat VAT rate.
type Product struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId"`
	Name           string          `json:"name"`
	SKU            string          `json:"sku,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Cost           decimal.Decimal `json:"cost"`
	Stock          int             `json:"stock"`
	DefaultTaxRate decimal.Decimal `json:"defaultTaxRate"`
	IsActive       bool            `json:"isActive"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type Invoice struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	ClientID        string          `json:"clientId,omitempty"`
	Number          string          `json:"number"`
	Status          InvoiceStatus   `json:"status"`
	IssueDate       time.Time       `json:"issueDate"`
	PaymentMethod   string          `json:"paymentMethod"`
	Currency        string          `json:"currency"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxTotal        decimal.Decimal `json:"taxTotal"`
	Total           decimal.Decimal `json:"total"`
	TotalPaid       decimal.Decimal `json:"totalPaid"`
	IsCreditSale    bool            `json:"isCreditSale"`
	Notes           string          `json:"notes"`
	CreatedByUserID string          `json:"createdByUserId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Client          *Client         `json:"client,omitempty"`
	Items           []InvoiceItem   `json:"items"`
}

type InvoiceItem struct {
	ID             string          `json:"id"`
	InvoiceID      string          `json:"invoiceId"`
	ProductID      string          `json:"productId,omitempty"`
	Description    string          `json:"description"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	TaxRateApplied decimal.Decimal `json:"taxRateApplied"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Product        *Product        `json:"product,omitempty"`
}

type CashRegister struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId"`
	Name           string          `json:"name"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	IsActive       bool            `json:"isActive"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ShiftCloseout is append-only: once written it is never updated.
type ShiftCloseout struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	CashRegisterID  string          `json:"cashRegisterId"`
	ClosingTime     time.Time       `json:"closingTime"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	FinalBalance    decimal.Decimal `json:"finalBalance"`
	SalesTotal      decimal.Decimal `json:"salesTotal"`
	ClosedByUserID  string          `json:"closedByUserId"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (c ShiftCloseout) Summary() CloseoutSummary {
	return CloseoutSummary{
		ID:              c.ID,
		ClosingTime:     c.ClosingTime,
		SalesTotal:      c.SalesTotal,
		StartingBalance: c.StartingBalance,
		FinalBalance:    c.FinalBalance,
	}
}

// Actor is the authenticated caller resolved from the bearer token.
type Actor struct {
	UserID   string
	TenantID string
	Email    string
	Role     Role
}
