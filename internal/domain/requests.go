package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SignupRequest struct {
	TenantName string `json:"tenantName"`
	Timezone   string `json:"timezone,omitempty"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	AccessToken string  `json:"accessToken"`
	ExpiresAt   string  `json:"expiresAt"`
	User        User    `json:"user"`
	Tenant      *Tenant `json:"tenant,omitempty"`
}

type UserCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type ClientRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	TaxID   string `json:"taxId,omitempty"`
	Address string `json:"address,omitempty"`
}

type ProductCreateRequest struct {
	Name           string           `json:"name"`
	SKU            string           `json:"sku,omitempty"`
	Price          decimal.Decimal  `json:"price"`
	Cost           decimal.Decimal  `json:"cost"`
	Stock          int              `json:"stock"`
	DefaultTaxRate *decimal.Decimal `json:"defaultTaxRate,omitempty"`
	IsActive       *bool            `json:"isActive,omitempty"`
}

// ProductUpdateRequest has no stock field: stock only moves through invoices.
type ProductUpdateRequest struct {
	Name           *string          `json:"name,omitempty"`
	SKU            *string          `json:"sku,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Cost           *decimal.Decimal `json:"cost,omitempty"`
	DefaultTaxRate *decimal.Decimal `json:"defaultTaxRate,omitempty"`
	IsActive       *bool            `json:"isActive,omitempty"`
}

type InvoiceItemRequest struct {
	ProductID   string           `json:"productId"`
	Quantity    int              `json:"quantity"`
	Description string           `json:"description,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unitPrice,omitempty"`
	// TaxRate is accepted for compatibility and not used for totals.
	TaxRate *decimal.Decimal `json:"taxRate,omitempty"`
}

type InvoiceCreateRequest struct {
	Number        string               `json:"number"`
	ClientID      string               `json:"clientId,omitempty"`
	Items         []InvoiceItemRequest `json:"items"`
	IssueDate     *time.Time           `json:"issueDate,omitempty"`
	Status        InvoiceStatus        `json:"status,omitempty"`
	PaymentMethod string               `json:"paymentMethod,omitempty"`
	Currency      string               `json:"currency,omitempty"`
	ApplyIva      bool                 `json:"applyIva"`
	IsCreditSale  bool                 `json:"isCreditSale,omitempty"`
	TotalPaid     *decimal.Decimal     `json:"totalPaid,omitempty"`
	Notes         string               `json:"notes,omitempty"`
}

type InvoiceCreateResponse struct {
	Invoice  Invoice  `json:"invoice"`
	Warnings []string `json:"warnings"`
}

type InvoiceUpdateRequest struct {
	Number        *string          `json:"number,omitempty"`
	ClientID      *string          `json:"clientId,omitempty"`
	Status        *InvoiceStatus   `json:"status,omitempty"`
	IssueDate     *time.Time       `json:"issueDate,omitempty"`
	PaymentMethod *string          `json:"paymentMethod,omitempty"`
	Currency      *string          `json:"currency,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	TotalPaid     *decimal.Decimal `json:"totalPaid,omitempty"`
	IsCreditSale  *bool            `json:"isCreditSale,omitempty"`
}

type InvoiceFilter struct {
	Status   InvoiceStatus
	ClientID string
	Limit    int
}

type CloseShiftRequest struct {
	CashRegisterID  string           `json:"cashRegisterId"`
	StartingBalance *decimal.Decimal `json:"startingBalance,omitempty"`
	FinalBalance    *decimal.Decimal `json:"finalBalance"`
}

type CloseoutSummary struct {
	ID              string          `json:"id"`
	ClosingTime     time.Time       `json:"closingTime"`
	SalesTotal      decimal.Decimal `json:"salesTotal"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	FinalBalance    decimal.Decimal `json:"finalBalance"`
}
