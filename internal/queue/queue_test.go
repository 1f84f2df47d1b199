package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marcus/posync/internal/db"
	"github.com/marcus/posync/internal/faults"
	"github.com/marcus/posync/internal/models"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestQueue(t *testing.T) (*Queue, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	store, err := db.Open(t.TempDir(), db.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := New(store, Options{
		Backoff: Backoff{Base: time.Second, Max: time.Minute},
		Now:     clock.Now,
	})
	return q, clock
}

func due(cands []Candidate) int {
	n := 0
	for _, c := range cands {
		if c.Due {
			n++
		}
	}
	return n
}

func salePayload() *models.SalePayload {
	return &models.SalePayload{Sale: models.Sale{
		Lines: []models.SaleLine{{ProductID: "p-1", Quantity: 1, UnitPriceCents: 100}},
	}}
}

func TestCompleteAcked(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, salePayload(), "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	op, err = q.Begin(ctx, op)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	outcome, err := q.Complete(ctx, op, nil)
	if err != nil || outcome != Acked {
		t.Fatalf("Complete = %s, %v", outcome, err)
	}
	if n, _ := q.Count(ctx); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestCompleteRetryableBacksOff(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	op, _ := q.Enqueue(ctx, salePayload(), "")
	op, _ = q.Begin(ctx, op)

	cause := fmt.Errorf("status 503: %w", faults.ErrServerUnavailable)
	outcome, err := q.Complete(ctx, op, cause)
	if err != nil || outcome != Retryable {
		t.Fatalf("Complete = %s, %v", outcome, err)
	}

	got, err := q.Get(ctx, op.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != models.StateQueued || got.Attempts != 1 {
		t.Errorf("after retry: state %s attempts %d", got.State, got.Attempts)
	}
	if !got.NextAttemptAt.Equal(clock.now.Add(time.Second)) {
		t.Errorf("NextAttemptAt = %v, want now+1s", got.NextAttemptAt)
	}

	ready, _ := q.Ready(ctx, nil, true)
	if len(ready) != 1 || ready[0].Due {
		t.Errorf("gated Ready before backoff elapsed = %+v, want one op not due", ready)
	}
	if ready, _ := q.Ready(ctx, nil, false); due(ready) != 1 {
		t.Errorf("ungated Ready returned %d due ops, want 1", due(ready))
	}
	clock.now = clock.now.Add(2 * time.Second)
	if ready, _ := q.Ready(ctx, nil, true); due(ready) != 1 {
		t.Errorf("gated Ready returned %d due ops after backoff, want 1", due(ready))
	}
}

func TestCompleteTerminalThenRequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	op, _ := q.Enqueue(ctx, salePayload(), "")
	op, _ = q.Begin(ctx, op)

	cause := fmt.Errorf("insufficient_stock: %w", faults.ErrServerRejected)
	outcome, err := q.Complete(ctx, op, cause)
	if err != nil || outcome != Terminal {
		t.Fatalf("Complete = %s, %v", outcome, err)
	}

	flagged, err := q.NeedsAttention(ctx)
	if err != nil {
		t.Fatalf("NeedsAttention: %v", err)
	}
	if len(flagged) != 1 || flagged[0].Token != op.Token {
		t.Fatalf("NeedsAttention = %+v", flagged)
	}
	if ready, _ := q.Ready(ctx, nil, false); len(ready) != 0 {
		t.Errorf("terminal op should not be ready")
	}
	if n, _ := q.Count(ctx); n != 1 {
		t.Errorf("terminal op must stay counted, Count = %d", n)
	}

	if err := q.Requeue(ctx, op.Token); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if ready, _ := q.Ready(ctx, nil, true); due(ready) != 1 {
		t.Errorf("requeued op should be ready")
	}
	if err := q.Requeue(ctx, op.Token); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Requeue: expected ErrInvalidTransition, got %v", err)
	}
}

func TestDiscard(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a, _ := q.Enqueue(ctx, salePayload(), "")
	b, _ := q.Enqueue(ctx, salePayload(), "")
	b, _ = q.Begin(ctx, b)

	if err := q.Discard(ctx, b.Token); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("discarding a submitting op: expected ErrInvalidTransition, got %v", err)
	}
	if err := q.Discard(ctx, a.Token); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := q.Get(ctx, a.Token); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("discarded op still present: %v", err)
	}
}

func TestAckAfterDiscardIsHarmless(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	op, _ := q.Enqueue(ctx, salePayload(), "")
	submitting, _ := q.Begin(ctx, op)
	// Another path removed the row while the request was in flight.
	if err := q.store.Dequeue(ctx, op.Token); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if _, err := q.Complete(ctx, submitting, nil); err != nil {
		t.Errorf("Complete after removal: %v", err)
	}
}

func TestReadyFiltersKinds(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, salePayload(), "")
	line := &models.InventoryLinePayload{SessionID: "s-1", Line: models.InventoryCountLine{ProductID: "p-1", Quantity: 2}}
	q.Enqueue(ctx, line, "")

	ready, err := q.Ready(ctx, []models.OperationKind{models.KindInventoryCountLine}, true)
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if len(ready) != 1 || ready[0].Op.Kind != models.KindInventoryCountLine {
		t.Errorf("Ready = %+v", ready)
	}
}

// flakyStore fails the next Dequeue and UpdateAttempt calls it is told to
type flakyStore struct {
	*db.DB
	failDequeue int
	failUpdate  int
}

var errDiskBusy = errors.New("database is locked")

func (s *flakyStore) Dequeue(ctx context.Context, token string) error {
	if s.failDequeue > 0 {
		s.failDequeue--
		return faults.Storage("dequeue", errDiskBusy)
	}
	return s.DB.Dequeue(ctx, token)
}

func (s *flakyStore) UpdateAttempt(ctx context.Context, token string, u db.AttemptUpdate) error {
	if s.failUpdate > 0 {
		s.failUpdate--
		return faults.Storage("update attempt", errDiskBusy)
	}
	return s.DB.UpdateAttempt(ctx, token, u)
}

func newFlakyQueue(t *testing.T) (*Queue, *flakyStore) {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	fs := &flakyStore{DB: store}
	return New(fs, Options{Backoff: Backoff{Base: time.Second, Max: time.Minute}}), fs
}

func TestCompleteStoreFailureReleasesOperation(t *testing.T) {
	q, fs := newFlakyQueue(t)
	ctx := context.Background()

	op, _ := q.Enqueue(ctx, salePayload(), "")
	op, err := q.Begin(ctx, op)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	fs.failDequeue = 1
	if _, err := q.Complete(ctx, op, nil); !errors.Is(err, errDiskBusy) {
		t.Fatalf("Complete = %v, want the store error", err)
	}
	got, err := q.Get(ctx, op.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != models.StateQueued || got.Attempts != 0 {
		t.Errorf("after failed ack: state %s attempts %d, want QUEUED 0", got.State, got.Attempts)
	}
}

func TestReadyReclaimsStuckSubmitting(t *testing.T) {
	q, fs := newFlakyQueue(t)
	ctx := context.Background()

	op, _ := q.Enqueue(ctx, salePayload(), "")
	op, _ = q.Begin(ctx, op)

	// Neither the outcome nor the release can be written.
	fs.failUpdate = 2
	cause := fmt.Errorf("status 503: %w", faults.ErrServerUnavailable)
	if _, err := q.Complete(ctx, op, cause); err == nil {
		t.Fatal("expected Complete to fail")
	}
	got, _ := q.Get(ctx, op.Token)
	if got.State != models.StateSubmitting {
		t.Fatalf("state = %s, want SUBMITTING", got.State)
	}

	ready, err := q.Ready(ctx, nil, true)
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if len(ready) != 1 || !ready[0].Due || ready[0].Op.State != models.StateQueued {
		t.Fatalf("Ready = %+v, want the stuck op back as QUEUED", ready)
	}

	op, err = q.Begin(ctx, ready[0].Op)
	if err != nil {
		t.Fatalf("Begin on reclaimed op: %v", err)
	}
	if _, err := q.Complete(ctx, op, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if n, _ := q.Count(ctx); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}
