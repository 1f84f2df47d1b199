package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/posync/internal/faults"
	"github.com/marcus/posync/internal/models"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// openTestDB opens a store in a temp dir with a fixed clock and sequential tokens
func openTestDB(t *testing.T) *DB {
	t.Helper()
	n := 0
	db, err := Open(t.TempDir(),
		WithClock(func() time.Time { return testNow }),
		WithTokenGenerator(func() string {
			n++
			return fmt.Sprintf("tok-%d", n)
		}),
	)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, dbFile)); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if db.Dir() != dir {
		t.Errorf("Dir = %q, want %q", db.Dir(), dir)
	}

	version, dirty, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("SchemaVersion = %d dirty=%v, want 1 clean", version, dirty)
	}
}

func TestReopenKeepsPending(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	op, err := models.NewPendingOperation(&models.SalePayload{Sale: sampleSale()}, "", testNow)
	if err != nil {
		t.Fatalf("NewPendingOperation: %v", err)
	}
	stored, err := db.Enqueue(ctx, op)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Simulate a crash mid-submission.
	if err := db.UpdateAttempt(ctx, stored.Token, AttemptUpdate{
		State:         models.StateSubmitting,
		NextAttemptAt: testNow,
	}); err != nil {
		t.Fatalf("UpdateAttempt: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	got, err := db.GetPending(ctx, stored.Token)
	if err != nil {
		t.Fatalf("GetPending after reopen: %v", err)
	}
	if got.State != models.StateQueued {
		t.Errorf("State = %s, want QUEUED after recovery", got.State)
	}
	if string(got.Payload) != string(stored.Payload) {
		t.Errorf("payload changed across restart: %s vs %s", got.Payload, stored.Payload)
	}
}

func TestStorageErrorsAreClassified(t *testing.T) {
	db := openTestDB(t)
	db.conn.Close()

	_, err := db.CountPending(context.Background())
	if !errors.Is(err, faults.ErrStorage) {
		t.Fatalf("expected storage fault, got %v", err)
	}
	if faults.Classify(err) != faults.ClassStorage {
		t.Errorf("Classify = %s, want storage", faults.Classify(err))
	}
}

func sampleSale() models.Sale {
	return models.Sale{
		Lines:  []models.SaleLine{{ProductID: "p-1", Quantity: 1, UnitPriceCents: 250}},
		SoldAt: testNow,
	}
}
