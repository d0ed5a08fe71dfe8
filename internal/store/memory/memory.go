package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
	"cajero/backend/internal/syncer"
	"cajero/backend/internal/xid"
)

// Store is the offline data store. A single mutex serializes writers, and
// RunInTx holds it for the whole unit of work.
type Store struct {
	mu        sync.RWMutex
	tenants   map[string]domain.Tenant
	users     map[string]domain.User
	clients   map[string]domain.Client
	products  map[string]domain.Product
	invoices  map[string]domain.Invoice
	registers map[string]domain.CashRegister
	closeouts map[string]domain.ShiftCloseout
	dirty     map[string]map[string]struct{}
	now       func() time.Time
}

var (
	_ store.Repository    = (*Store)(nil)
	_ syncer.LocalReplica = (*Store)(nil)
)

func New() *Store {
	dirty := make(map[string]map[string]struct{}, len(syncer.Entities))
	for _, entity := range syncer.Entities {
		dirty[entity] = make(map[string]struct{})
	}
	return &Store{
		tenants:   make(map[string]domain.Tenant),
		users:     make(map[string]domain.User),
		clients:   make(map[string]domain.Client),
		products:  make(map[string]domain.Product),
		invoices:  make(map[string]domain.Invoice),
		registers: make(map[string]domain.CashRegister),
		closeouts: make(map[string]domain.ShiftCloseout),
		dirty:     dirty,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

const (
	SeedTenantID = "demo-tenant"
	SeedAdmin    = "admin@cajero.local"
	SeedCashier  = "cashier@cajero.local"
)

// NewSeeded returns a store with a demo tenant, an admin, a cashier and a few
// products. Passwords come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
func NewSeeded() *Store {
	s := New()
	now := s.now()

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Msg("memory store: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	s.tenants[SeedTenantID] = domain.Tenant{ID: SeedTenantID, Name: "Demo Store", CreatedAt: now, UpdatedAt: now}
	for _, u := range []struct {
		email    string
		name     string
		password string
		role     domain.Role
	}{
		{SeedAdmin, "Admin", adminPwd, domain.RoleAdmin},
		{SeedCashier, "Cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("email", u.email).Msg("memory store: hash seed password")
		}
		user := domain.User{
			ID:           xid.New(),
			TenantID:     SeedTenantID,
			Email:        u.email,
			Name:         u.name,
			PasswordHash: string(hash),
			Role:         u.role,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.users[user.ID] = user
	}

	for _, p := range []struct {
		sku   string
		name  string
		price string
		cost  string
		stock int
	}{
		{"CAF-250", "Cafe molido 250g", "12500", "8000", 40},
		{"ARZ-1KG", "Arroz 1kg", "4800", "3500", 60},
		{"LEC-1L", "Leche entera 1L", "4200", "3100", 24},
		{"PAN-TAJ", "Pan tajado", "6500", "4200", 8},
	} {
		product := domain.Product{
			ID:             xid.New(),
			TenantID:       SeedTenantID,
			Name:           p.name,
			SKU:            p.sku,
			Price:          decimal.RequireFromString(p.price),
			Cost:           decimal.RequireFromString(p.cost),
			Stock:          p.stock,
			DefaultTaxRate: decimal.Zero,
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.products[product.ID] = product
	}
	return s
}

func envOr(key string, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func registerKey(tenantID string, cashRegisterID string) string {
	return tenantID + "/" + cashRegisterID
}

func (s *Store) markDirty(entity string, key string) {
	s.dirty[entity][key] = struct{}{}
}

func (s *Store) CreateTenantWithAdmin(_ context.Context, tenant domain.Tenant, admin domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.ID]; exists {
		return fmt.Errorf("%w: tenant %s already exists", store.ErrConflict, tenant.ID)
	}
	if s.emailTakenLocked(admin.Email) {
		return fmt.Errorf("%w: email %s already registered", store.ErrConflict, admin.Email)
	}
	s.tenants[tenant.ID] = tenant
	s.users[admin.ID] = admin
	s.markDirty(syncer.EntityTenants, tenant.ID)
	s.markDirty(syncer.EntityUsers, admin.ID)
	return nil
}

func (s *Store) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tenant, nil
}

func (s *Store) emailTakenLocked(email string) bool {
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return true
		}
	}
	return false
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[user.TenantID]; !ok {
		return nil, store.ErrNotFound
	}
	if s.emailTakenLocked(user.Email) {
		return nil, fmt.Errorf("%w: email %s already registered", store.ErrConflict, user.Email)
	}
	s.users[user.ID] = user
	s.markDirty(syncer.EntityUsers, user.ID)
	created := user
	return &created, nil
}

func (s *Store) GetUser(_ context.Context, tenantID string, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok || user.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			found := user
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, tenantID string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, 8)
	for _, user := range s.users {
		if user.TenantID == tenantID {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (s *Store) ListClients(_ context.Context, tenantID string) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, 16)
	for _, client := range s.clients {
		if client.TenantID == tenantID {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })
	return clients, nil
}

func (s *Store) GetClient(_ context.Context, tenantID string, clientID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getClientLocked(tenantID, clientID)
}

func (s *Store) getClientLocked(tenantID string, clientID string) (*domain.Client, error) {
	client, ok := s.clients[clientID]
	if !ok || client.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &client, nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[client.TenantID]; !ok {
		return nil, store.ErrNotFound
	}
	s.clients[client.ID] = client
	s.markDirty(syncer.EntityClients, client.ID)
	created := client
	return &created, nil
}

func (s *Store) UpdateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getClientLocked(client.TenantID, client.ID)
	if err != nil {
		return nil, err
	}
	client.CreatedAt = existing.CreatedAt
	s.clients[client.ID] = client
	s.markDirty(syncer.EntityClients, client.ID)
	updated := client
	return &updated, nil
}

func (s *Store) DeleteClient(_ context.Context, tenantID string, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getClientLocked(tenantID, clientID); err != nil {
		return err
	}
	delete(s.clients, clientID)
	delete(s.dirty[syncer.EntityClients], clientID)

	now := s.now()
	for id, invoice := range s.invoices {
		if invoice.TenantID == tenantID && invoice.ClientID == clientID {
			invoice.ClientID = ""
			invoice.UpdatedAt = now
			s.invoices[id] = invoice
			s.markDirty(syncer.EntityInvoices, id)
		}
	}
	return nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, 32)
	for _, product := range s.products {
		if product.TenantID == tenantID {
			products = append(products, product)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProductLocked(tenantID, productID)
}

func (s *Store) getProductLocked(tenantID string, productID string) (*domain.Product, error) {
	product, ok := s.products[productID]
	if !ok || product.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) skuTakenLocked(tenantID string, sku string, exceptID string) bool {
	if sku == "" {
		return false
	}
	for id, product := range s.products {
		if id != exceptID && product.TenantID == tenantID && product.SKU == sku {
			return true
		}
	}
	return false
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[product.TenantID]; !ok {
		return nil, store.ErrNotFound
	}
	if product.Stock < 0 {
		return nil, fmt.Errorf("%w: stock must not be negative", store.ErrInvalidInput)
	}
	if s.skuTakenLocked(product.TenantID, product.SKU, "") {
		return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
	}
	s.products[product.ID] = product
	s.markDirty(syncer.EntityProducts, product.ID)
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getProductLocked(product.TenantID, product.ID)
	if err != nil {
		return nil, err
	}
	if s.skuTakenLocked(product.TenantID, product.SKU, product.ID) {
		return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
	}
	product.Stock = existing.Stock
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	s.markDirty(syncer.EntityProducts, product.ID)
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, tenantID string, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProductLocked(tenantID, productID); err != nil {
		return err
	}
	delete(s.products, productID)
	delete(s.dirty[syncer.EntityProducts], productID)

	now := s.now()
	for id, invoice := range s.invoices {
		if invoice.TenantID != tenantID {
			continue
		}
		touched := false
		for i := range invoice.Items {
			if invoice.Items[i].ProductID == productID {
				invoice.Items[i].ProductID = ""
				touched = true
			}
		}
		if touched {
			invoice.UpdatedAt = now
			s.invoices[id] = invoice
			s.markDirty(syncer.EntityInvoices, id)
		}
	}
	return nil
}

func (s *Store) InvoiceNumberExists(_ context.Context, tenantID string, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invoiceNumberTakenLocked(tenantID, number, ""), nil
}

func (s *Store) invoiceNumberTakenLocked(tenantID string, number string, exceptID string) bool {
	for id, invoice := range s.invoices {
		if id != exceptID && invoice.TenantID == tenantID && invoice.Number == number {
			return true
		}
	}
	return false
}

func (s *Store) ListInvoices(_ context.Context, tenantID string, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, 32)
	for _, invoice := range s.invoices {
		if invoice.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && invoice.Status != filter.Status {
			continue
		}
		if filter.ClientID != "" && invoice.ClientID != filter.ClientID {
			continue
		}
		invoices = append(invoices, s.hydrateLocked(invoice, false))
	}
	sort.Slice(invoices, func(i, j int) bool {
		if invoices[i].IssueDate.Equal(invoices[j].IssueDate) {
			return invoices[i].ID > invoices[j].ID
		}
		return invoices[i].IssueDate.After(invoices[j].IssueDate)
	})
	if filter.Limit > 0 && len(invoices) > filter.Limit {
		invoices = invoices[:filter.Limit]
	}
	return invoices, nil
}

func (s *Store) GetInvoice(_ context.Context, tenantID string, invoiceID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoices[invoiceID]
	if !ok || invoice.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	hydrated := s.hydrateLocked(invoice, true)
	return &hydrated, nil
}

// hydrateLocked copies the invoice and attaches its client and, when
// withProducts is set, each item's product.
func (s *Store) hydrateLocked(invoice domain.Invoice, withProducts bool) domain.Invoice {
	invoice.Items = slices.Clone(invoice.Items)
	if invoice.ClientID != "" {
		if client, ok := s.clients[invoice.ClientID]; ok {
			invoice.Client = &client
		}
	}
	if withProducts {
		for i := range invoice.Items {
			if product, ok := s.products[invoice.Items[i].ProductID]; ok {
				invoice.Items[i].Product = &product
			}
		}
	}
	return invoice
}

func (s *Store) UpdateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.invoices[invoice.ID]
	if !ok || existing.TenantID != invoice.TenantID {
		return nil, store.ErrNotFound
	}
	if s.invoiceNumberTakenLocked(invoice.TenantID, invoice.Number, invoice.ID) {
		return nil, fmt.Errorf("%w: invoice number %s already exists", store.ErrConflict, invoice.Number)
	}
	// Lines and amounts are fixed at creation.
	invoice.Items = existing.Items
	invoice.Subtotal = existing.Subtotal
	invoice.TaxTotal = existing.TaxTotal
	invoice.Total = existing.Total
	invoice.CreatedAt = existing.CreatedAt
	invoice.CreatedByUserID = existing.CreatedByUserID
	invoice.Client = nil
	s.invoices[invoice.ID] = invoice
	s.markDirty(syncer.EntityInvoices, invoice.ID)

	hydrated := s.hydrateLocked(invoice, true)
	return &hydrated, nil
}

func (s *Store) DeleteInvoice(_ context.Context, tenantID string, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[invoiceID]
	if !ok || invoice.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.invoices, invoiceID)
	delete(s.dirty[syncer.EntityInvoices], invoiceID)
	return nil
}

func (s *Store) LatestCloseout(_ context.Context, tenantID string, cashRegisterID string) (*domain.ShiftCloseout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestCloseout(s.closeouts, nil, tenantID, cashRegisterID)
}

func latestCloseout(committed map[string]domain.ShiftCloseout, staged []domain.ShiftCloseout, tenantID string, cashRegisterID string) (*domain.ShiftCloseout, error) {
	var latest *domain.ShiftCloseout
	consider := func(c domain.ShiftCloseout) {
		if c.TenantID != tenantID || (cashRegisterID != "" && c.CashRegisterID != cashRegisterID) {
			return
		}
		if latest == nil || c.ClosingTime.After(latest.ClosingTime) {
			found := c
			latest = &found
		}
	}
	for _, c := range committed {
		consider(c)
	}
	for _, c := range staged {
		consider(c)
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) SumSales(_ context.Context, tenantID string, window domain.SalesWindow) (domain.SalesTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumSales(s.invoices, nil, tenantID, window), nil
}

func sumSales(committed map[string]domain.Invoice, staged []domain.Invoice, tenantID string, window domain.SalesWindow) domain.SalesTotal {
	total := domain.SalesTotal{Total: decimal.Zero}
	add := func(invoice domain.Invoice) {
		if invoice.TenantID != tenantID || !invoice.Status.CountsAsSale() || !window.Contains(invoice.IssueDate) {
			return
		}
		total.Total = total.Total.Add(invoice.Total)
		total.Invoices++
	}
	for _, invoice := range committed {
		add(invoice)
	}
	for _, invoice := range staged {
		add(invoice)
	}
	return total
}

func (s *Store) CatalogCounts(_ context.Context, tenantID string, lowStockThreshold int) (domain.CatalogCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts domain.CatalogCounts
	for _, product := range s.products {
		if product.TenantID != tenantID {
			continue
		}
		counts.Products++
		if product.IsActive && product.Stock <= lowStockThreshold {
			counts.LowStockProducts++
		}
	}
	for _, client := range s.clients {
		if client.TenantID == tenantID {
			counts.Clients++
		}
	}
	return counts, nil
}

func (s *Store) RevenueSeries(_ context.Context, tenantID string, period domain.RevenuePeriod, from time.Time, to time.Time, loc *time.Location) ([]domain.RevenuePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := domain.SalesWindow{From: &from, Until: &to}
	buckets := make(map[string]*domain.RevenuePoint)
	for _, invoice := range s.invoices {
		if invoice.TenantID != tenantID || !invoice.Status.CountsAsSale() || !window.Contains(invoice.IssueDate) {
			continue
		}
		label := domain.BucketLabel(domain.BucketStart(invoice.IssueDate, period, loc), period)
		point, ok := buckets[label]
		if !ok {
			point = &domain.RevenuePoint{Bucket: label, Total: decimal.Zero}
			buckets[label] = point
		}
		point.Total = point.Total.Add(invoice.Total)
		point.Invoices++
	}

	points := make([]domain.RevenuePoint, 0, len(buckets))
	for _, point := range buckets {
		points = append(points, *point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Bucket < points[j].Bucket })
	return points, nil
}

func (s *Store) TopProducts(_ context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.TopProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := domain.SalesWindow{From: &from, Until: &to}
	byProduct := make(map[string]*domain.TopProduct)
	for _, invoice := range s.invoices {
		if invoice.TenantID != tenantID || !invoice.Status.CountsAsSale() || !window.Contains(invoice.IssueDate) {
			continue
		}
		for _, item := range invoice.Items {
			if item.ProductID == "" {
				continue
			}
			entry, ok := byProduct[item.ProductID]
			if !ok {
				name := item.Description
				if product, exists := s.products[item.ProductID]; exists {
					name = product.Name
				}
				entry = &domain.TopProduct{ProductID: item.ProductID, Name: name, Revenue: decimal.Zero}
				byProduct[item.ProductID] = entry
			}
			entry.Quantity += item.Quantity
			entry.Revenue = entry.Revenue.Add(item.TotalAmount)
		}
	}

	top := make([]domain.TopProduct, 0, len(byProduct))
	for _, entry := range byProduct {
		top = append(top, *entry)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Quantity != top[j].Quantity {
			return top[i].Quantity > top[j].Quantity
		}
		if !top[i].Revenue.Equal(top[j].Revenue) {
			return top[i].Revenue.GreaterThan(top[j].Revenue)
		}
		return top[i].ProductID < top[j].ProductID
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}
