package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
)

const clientColumns = `id, tenant_id, name, email, phone, tax_id, address, created_at, updated_at`

func scanClient(row rowScanner) (*domain.Client, error) {
	var c domain.Client
	var email, phone, taxID, address sql.NullString
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &email, &phone, &taxID, &address, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Email = email.String
	c.Phone = phone.String
	c.TaxID = taxID.String
	c.Address = address.String
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

const productColumns = `id, tenant_id, name, sku, price, cost, stock, default_tax_rate, is_active, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var sku sql.NullString
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &sku, &p.Price, &p.Cost, &p.Stock, &p.DefaultTaxRate, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.SKU = sku.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) ListClients(ctx context.Context, tenantID string) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+` FROM clients WHERE tenant_id = $1 ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 32)
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *client)
	}
	return clients, rows.Err()
}

func (s *Store) GetClient(ctx context.Context, tenantID string, clientID string) (*domain.Client, error) {
	return getClient(ctx, s.db, tenantID, clientID)
}

func getClient(ctx context.Context, q queryer, tenantID string, clientID string) (*domain.Client, error) {
	client, err := scanClient(q.QueryRowContext(ctx, `
		SELECT `+clientColumns+` FROM clients WHERE tenant_id = $1 AND id = $2
	`, tenantID, clientID))
	if err != nil {
		return nil, mapError(err)
	}
	return client, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, client.ID, client.TenantID, client.Name, nullIfEmpty(client.Email), nullIfEmpty(client.Phone),
		nullIfEmpty(client.TaxID), nullIfEmpty(client.Address), client.CreatedAt, client.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	created := client
	return &created, nil
}

func (s *Store) UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	updated, err := scanClient(s.db.QueryRowContext(ctx, `
		UPDATE clients
		SET name = $3, email = $4, phone = $5, tax_id = $6, address = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+clientColumns,
		client.TenantID, client.ID, client.Name, nullIfEmpty(client.Email), nullIfEmpty(client.Phone),
		nullIfEmpty(client.TaxID), nullIfEmpty(client.Address), client.UpdatedAt))
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

func (s *Store) DeleteClient(ctx context.Context, tenantID string, clientID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE tenant_id = $1 AND id = $2`, tenantID, clientID)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE tenant_id = $1 ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *product)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID))
	if err != nil {
		return nil, mapError(err)
	}
	return product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.TenantID, product.Name, nullIfEmpty(product.SKU), product.Price, product.Cost,
		product.Stock, product.DefaultTaxRate, product.IsActive, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
		return nil, mapError(err)
	}
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, sku = $4, price = $5, cost = $6, default_tax_rate = $7, is_active = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+productColumns,
		product.TenantID, product.ID, product.Name, nullIfEmpty(product.SKU), product.Price, product.Cost,
		product.DefaultTaxRate, product.IsActive, product.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
		return nil, mapError(err)
	}
	return updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, tenantID string, productID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE tenant_id = $1 AND id = $2`, tenantID, productID)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
