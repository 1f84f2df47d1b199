package server

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/posync/internal/models"
)

// SeedData is an initial catalog loaded into an empty store
type SeedData struct {
	Categories []models.Category
	Products   []models.Product
	Clients    []models.Client
	Sessions   []models.InventorySession
}

// DemoSeed is a small catalog for local runs of posync-server
func DemoSeed(now time.Time) SeedData {
	return SeedData{
		Categories: []models.Category{
			{ID: "cat-drinks", Name: "Drinks"},
			{ID: "cat-pantry", Name: "Pantry"},
			{ID: "cat-tea", Name: "Tea", ParentID: "cat-drinks"},
		},
		Products: []models.Product{
			{ID: "p-coffee", SKU: "7790001", Name: "Ground coffee 500g", CategoryID: "cat-drinks", PriceCents: 1250, Stock: 40},
			{ID: "p-tea", SKU: "7790002", Name: "Green tea 20 bags", CategoryID: "cat-tea", PriceCents: 450, Stock: 60},
			{ID: "p-rice", SKU: "7790003", Name: "Rice 1kg", CategoryID: "cat-pantry", PriceCents: 320, Stock: 100},
			{ID: "p-oil", SKU: "7790004", Name: "Olive oil 1l", CategoryID: "cat-pantry", PriceCents: 1890, Stock: 12},
		},
		Clients: []models.Client{
			{ID: "c-walkin", Name: "Walk-in"},
			{ID: "c-acme", Name: "Acme Catering", TaxID: "30-71234567-9", Email: "orders@acme.example"},
		},
		Sessions: []models.InventorySession{
			{ID: "inv-main", Name: "Main floor count", Status: models.SessionOpen, OpenedAt: now},
		},
	}
}

// Seed inserts data, leaving rows that already exist untouched
func (s *Store) Seed(ctx context.Context, data SeedData) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(timeLayout)
	for _, c := range data.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO categories (id, name, parent_id) VALUES (?, ?, ?)`,
			c.ID, c.Name, c.ParentID); err != nil {
			return fmt.Errorf("seed category %s: %w", c.ID, err)
		}
	}
	for _, p := range data.Products {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO products (id, sku, name, category_id, price_cents, stock, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SKU, p.Name, p.CategoryID, p.PriceCents, p.Stock, now); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	for _, c := range data.Clients {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO clients (id, name, tax_id, email, phone) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.TaxID, c.Email, c.Phone); err != nil {
			return fmt.Errorf("seed client %s: %w", c.ID, err)
		}
	}
	for _, sess := range data.Sessions {
		status := sess.Status
		if status == "" {
			status = models.SessionOpen
		}
		opened := sess.OpenedAt
		if opened.IsZero() {
			opened = s.now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO inventory_sessions (id, name, status, opened_at) VALUES (?, ?, ?, ?)`,
			sess.ID, sess.Name, string(status), opened.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("seed session %s: %w", sess.ID, err)
		}
	}
	return tx.Commit()
}

// CloseSession marks an inventory session closed; later count lines are rejected
func (s *Store) CloseSession(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE inventory_sessions SET status = ? WHERE id = ?`, string(models.SessionClosed), id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
