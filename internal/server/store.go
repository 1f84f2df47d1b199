package server

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/posync/internal/models"
)

// Business-rule errors returned by the store
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnknownProduct    = errors.New("unknown product")
	ErrSessionNotFound   = errors.New("inventory session not found")
	ErrSessionClosed     = errors.New("inventory session closed")
)

const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is the backend's catalog, sales ledger, and inventory counts
type Store struct {
	conn *sql.DB
	now  func() time.Time
}

// OpenStore opens the database at path, ":memory:" for a throwaway store,
// and runs migrations.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single connection: an in-memory database lives only as long as its connection.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if path != ":memory:" {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA foreign_keys=ON")

	if err := migrateUp(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Store{conn: conn, now: time.Now}, nil
}

func migrateUp(conn *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(conn, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Ping checks the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	return s.conn.Close()
}

// --- Catalog ---

// ListProducts returns the product catalog ordered by name
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, sku, name, category_id, price_cents, stock, updated_at FROM products ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		var updatedAt string
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.PriceCents, &p.Stock, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("product %s: %w", p.ID, err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListClients returns all clients ordered by name
func (s *Store) ListClients(ctx context.Context) ([]models.Client, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, tax_id, email, phone FROM clients ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := []models.Client{}
	for rows.Next() {
		var c models.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.TaxID, &c.Email, &c.Phone); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// ListCategories returns all categories ordered by name
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, parent_id FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetInventorySession returns a session with its recorded items in sequence order
func (s *Store) GetInventorySession(ctx context.Context, id string) (*models.InventorySession, error) {
	var sess models.InventorySession
	var status, openedAt string
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, name, status, opened_at FROM inventory_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Name, &status, &openedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Status = models.SessionStatus(status)
	if sess.OpenedAt, err = parseTime(openedAt); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, sequence, product_id, quantity, counted_at, counted_by
		FROM inventory_items WHERE session_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, fmt.Errorf("list session items: %w", err)
	}
	defer rows.Close()

	sess.Items = []models.InventoryItem{}
	for rows.Next() {
		var it models.InventoryItem
		var countedAt string
		if err := rows.Scan(&it.ID, &it.Sequence, &it.ProductID, &it.Quantity, &countedAt, &it.CountedBy); err != nil {
			return nil, fmt.Errorf("scan session item: %w", err)
		}
		if it.CountedAt, err = parseTime(countedAt); err != nil {
			return nil, fmt.Errorf("session item %s: %w", it.ID, err)
		}
		sess.Items = append(sess.Items, it)
	}
	return &sess, rows.Err()
}

// --- Writes ---

// RecordSale stores a sale and takes its quantities out of stock. A token
// seen before returns the original receipt with Replayed set and changes
// nothing.
func (s *Store) RecordSale(ctx context.Context, token, terminalID string, sale models.Sale) (models.SaleReceipt, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.SaleReceipt{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if receipt, err := saleByToken(ctx, tx, token); err == nil {
		receipt.Replayed = true
		return receipt, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.SaleReceipt{}, err
	}

	need := map[string]int64{}
	for _, l := range sale.Lines {
		need[l.ProductID] += l.Quantity
	}
	for productID, qty := range need {
		var stock int64
		err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ?`, productID).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) {
			return models.SaleReceipt{}, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
		}
		if err != nil {
			return models.SaleReceipt{}, fmt.Errorf("check stock: %w", err)
		}
		if stock < qty {
			return models.SaleReceipt{}, fmt.Errorf("%w: %s has %d, sale needs %d", ErrInsufficientStock, productID, stock, qty)
		}
	}

	now := s.now().UTC()
	for productID, qty := range need {
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ?`,
			qty, now.Format(timeLayout), productID); err != nil {
			return models.SaleReceipt{}, fmt.Errorf("update stock: %w", err)
		}
	}

	var number int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(number), 0) + 1 FROM sales`).Scan(&number); err != nil {
		return models.SaleReceipt{}, fmt.Errorf("next sale number: %w", err)
	}

	payments, err := json.Marshal(sale.Payments)
	if err != nil {
		return models.SaleReceipt{}, fmt.Errorf("encode payments: %w", err)
	}
	soldAt := sale.SoldAt
	if soldAt.IsZero() {
		soldAt = now
	}

	receipt := models.SaleReceipt{
		ID:         uuid.NewString(),
		Token:      token,
		Number:     number,
		TotalCents: sale.TotalCents(),
		RecordedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sales (id, number, token, terminal_id, client_id, total_cents, payments, note, sold_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.ID, number, token, terminalID, sale.ClientID, receipt.TotalCents, string(payments),
		sale.Note, soldAt.UTC().Format(timeLayout), now.Format(timeLayout)); err != nil {
		return models.SaleReceipt{}, fmt.Errorf("insert sale: %w", err)
	}
	for i, l := range sale.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, position, product_id, quantity, unit_price_cents)
			VALUES (?, ?, ?, ?, ?)`,
			receipt.ID, i, l.ProductID, l.Quantity, l.UnitPriceCents); err != nil {
			return models.SaleReceipt{}, fmt.Errorf("insert sale line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.SaleReceipt{}, fmt.Errorf("commit: %w", err)
	}
	return receipt, nil
}

func saleByToken(ctx context.Context, tx *sql.Tx, token string) (models.SaleReceipt, error) {
	var r models.SaleReceipt
	var recordedAt string
	err := tx.QueryRowContext(ctx,
		`SELECT id, token, number, total_cents, recorded_at FROM sales WHERE token = ?`, token,
	).Scan(&r.ID, &r.Token, &r.Number, &r.TotalCents, &recordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("lookup sale token: %w", err)
	}
	if r.RecordedAt, err = parseTime(recordedAt); err != nil {
		return r, fmt.Errorf("sale %s: %w", r.ID, err)
	}
	return r, nil
}

// AddInventoryItem appends a count line to an open session. Lines get
// consecutive sequence numbers in arrival order. A token seen before
// returns the original result with Replayed set.
func (s *Store) AddInventoryItem(ctx context.Context, sessionID, token, terminalID string, line models.InventoryCountLine) (models.InventoryLineResult, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.InventoryLineResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var res models.InventoryLineResult
	var recordedAt string
	err = tx.QueryRowContext(ctx,
		`SELECT id, token, session_id, sequence, recorded_at FROM inventory_items WHERE token = ?`, token,
	).Scan(&res.ID, &res.Token, &res.SessionID, &res.Sequence, &recordedAt)
	if err == nil {
		if res.RecordedAt, err = parseTime(recordedAt); err != nil {
			return models.InventoryLineResult{}, fmt.Errorf("inventory item %s: %w", res.ID, err)
		}
		res.Replayed = true
		return res, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.InventoryLineResult{}, fmt.Errorf("lookup item token: %w", err)
	}

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM inventory_sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.InventoryLineResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return models.InventoryLineResult{}, fmt.Errorf("get session: %w", err)
	}
	if models.SessionStatus(status) != models.SessionOpen {
		return models.InventoryLineResult{}, fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = ?`, line.ProductID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return models.InventoryLineResult{}, fmt.Errorf("%w: %s", ErrUnknownProduct, line.ProductID)
	}
	if err != nil {
		return models.InventoryLineResult{}, fmt.Errorf("check product: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM inventory_items WHERE session_id = ?`, sessionID,
	).Scan(&res.Sequence); err != nil {
		return models.InventoryLineResult{}, fmt.Errorf("next sequence: %w", err)
	}

	now := s.now().UTC()
	countedAt := line.CountedAt
	if countedAt.IsZero() {
		countedAt = now
	}
	res.ID = uuid.NewString()
	res.Token = token
	res.SessionID = sessionID
	res.RecordedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_items (id, session_id, sequence, product_id, quantity, counted_at, counted_by, terminal_id, token, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, sessionID, res.Sequence, line.ProductID, line.Quantity,
		countedAt.UTC().Format(timeLayout), line.CountedBy, terminalID, token, now.Format(timeLayout)); err != nil {
		return models.InventoryLineResult{}, fmt.Errorf("insert item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.InventoryLineResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// CountSales returns the number of recorded sales
func (s *Store) CountSales(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sales: %w", err)
	}
	return n, nil
}
