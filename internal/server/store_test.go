package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/marcus/posync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Seed(context.Background(), DemoSeed(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return store
}

func oneLineSale(productID string, qty int64) models.Sale {
	return models.Sale{Lines: []models.SaleLine{{ProductID: productID, Quantity: qty, UnitPriceCents: 100}}}
}

func stockOf(t *testing.T, s *Store, id string) int64 {
	t.Helper()
	products, err := s.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	for _, p := range products {
		if p.ID == id {
			return p.Stock
		}
	}
	t.Fatalf("product %s not found", id)
	return 0
}

func TestRecordSaleReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RecordSale(ctx, "tok-1", "term-1", oneLineSale("p-oil", 2))
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if first.Replayed || first.Number != 1 || first.TotalCents != 200 {
		t.Errorf("first receipt = %+v", first)
	}

	again, err := s.RecordSale(ctx, "tok-1", "term-1", oneLineSale("p-oil", 2))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.Replayed || again.ID != first.ID || again.Number != first.Number {
		t.Errorf("replay receipt = %+v, want original %+v", again, first)
	}

	if n, _ := s.CountSales(ctx); n != 1 {
		t.Errorf("CountSales = %d, want 1", n)
	}
	if got := stockOf(t, s, "p-oil"); got != 10 {
		t.Errorf("stock = %d, want 10 (decremented once)", got)
	}
}

func TestRecordSaleStockRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two lines of the same product are checked together.
	sale := models.Sale{Lines: []models.SaleLine{
		{ProductID: "p-oil", Quantity: 7, UnitPriceCents: 100},
		{ProductID: "p-oil", Quantity: 6, UnitPriceCents: 100},
	}}
	if _, err := s.RecordSale(ctx, "tok-a", "", sale); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := stockOf(t, s, "p-oil"); got != 12 {
		t.Errorf("rejected sale changed stock to %d", got)
	}

	if _, err := s.RecordSale(ctx, "tok-b", "", oneLineSale("p-ghost", 1)); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
	// A rejected token was never recorded, so it can be used again.
	if _, err := s.RecordSale(ctx, "tok-a", "", oneLineSale("p-oil", 1)); err != nil {
		t.Fatalf("retry with fixed payload: %v", err)
	}
}

func TestAddInventoryItemSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, tok := range []string{"l-1", "l-2", "l-3"} {
		res, err := s.AddInventoryItem(ctx, "inv-main", tok, "", models.InventoryCountLine{ProductID: "p-rice", Quantity: int64(i + 1)})
		if err != nil {
			t.Fatalf("AddInventoryItem %s: %v", tok, err)
		}
		if res.Sequence != int64(i+1) {
			t.Errorf("%s sequence = %d, want %d", tok, res.Sequence, i+1)
		}
	}

	replay, err := s.AddInventoryItem(ctx, "inv-main", "l-2", "", models.InventoryCountLine{ProductID: "p-rice", Quantity: 99})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Replayed || replay.Sequence != 2 {
		t.Errorf("replay = %+v", replay)
	}

	sess, err := s.GetInventorySession(ctx, "inv-main")
	if err != nil {
		t.Fatalf("GetInventorySession: %v", err)
	}
	if len(sess.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(sess.Items))
	}
	for i, it := range sess.Items {
		if it.Quantity != int64(i+1) {
			t.Errorf("item %d quantity = %d, want %d", i, it.Quantity, i+1)
		}
	}
}

func TestAddInventoryItemSessionRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	line := models.InventoryCountLine{ProductID: "p-rice", Quantity: 1}

	if _, err := s.AddInventoryItem(ctx, "nope", "x-1", "", line); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := s.CloseSession(ctx, "inv-main"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if _, err := s.AddInventoryItem(ctx, "inv-main", "x-2", "", line); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSeedIsRepeatable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Seed(ctx, DemoSeed(time.Now())); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	cats, _ := s.ListCategories(ctx)
	if len(cats) != 3 {
		t.Errorf("categories = %d, want 3", len(cats))
	}
	clients, _ := s.ListClients(ctx)
	if len(clients) != 2 {
		t.Errorf("clients = %d, want 2", len(clients))
	}
}

func TestReplayWithCorruptTimestampFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RecordSale(ctx, "tok-1", "term-1", oneLineSale("p-oil", 1))
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	again, err := s.RecordSale(ctx, "tok-1", "term-1", oneLineSale("p-oil", 1))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.RecordedAt.Equal(first.RecordedAt) {
		t.Errorf("replayed RecordedAt = %v, want %v", again.RecordedAt, first.RecordedAt)
	}

	if _, err := s.AddInventoryItem(ctx, "inv-main", "tok-2", "term-1", models.InventoryCountLine{ProductID: "p-tea", Quantity: 4}); err != nil {
		t.Fatalf("AddInventoryItem: %v", err)
	}

	if _, err := s.conn.ExecContext(ctx, `UPDATE sales SET recorded_at = 'yesterday'`); err != nil {
		t.Fatalf("corrupt sales: %v", err)
	}
	if _, err := s.conn.ExecContext(ctx, `UPDATE inventory_items SET recorded_at = 'yesterday'`); err != nil {
		t.Fatalf("corrupt items: %v", err)
	}

	if _, err := s.RecordSale(ctx, "tok-1", "term-1", oneLineSale("p-oil", 1)); err == nil || !strings.Contains(err.Error(), "parse timestamp") {
		t.Errorf("sale replay error = %v, want a timestamp parse error", err)
	}
	if _, err := s.AddInventoryItem(ctx, "inv-main", "tok-2", "term-1", models.InventoryCountLine{ProductID: "p-tea", Quantity: 4}); err == nil || !strings.Contains(err.Error(), "parse timestamp") {
		t.Errorf("item replay error = %v, want a timestamp parse error", err)
	}
}
