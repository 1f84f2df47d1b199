// Package queue is the pending operation queue: durable unacknowledged
// mutations and the state machine that moves them between attempts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/posync/internal/db"
	"github.com/marcus/posync/internal/models"
)

// Store is the persistence the queue needs. *db.DB implements it.
type Store interface {
	Enqueue(ctx context.Context, op models.PendingOperation) (models.PendingOperation, error)
	Dequeue(ctx context.Context, token string) error
	GetPending(ctx context.Context, token string) (models.PendingOperation, error)
	ListPending(ctx context.Context, kinds ...models.OperationKind) ([]models.PendingOperation, error)
	CountPending(ctx context.Context, kinds ...models.OperationKind) (int, error)
	UpdateAttempt(ctx context.Context, token string, u db.AttemptUpdate) error
}

// Options configures a Queue
type Options struct {
	Backoff Backoff
	Now     func() time.Time
	Logger  *slog.Logger
}

// Queue persists pending operations and applies attempt outcomes
type Queue struct {
	store   Store
	backoff Backoff
	now     func() time.Time
	log     *slog.Logger
}

// New returns a queue over store
func New(store Store, opts Options) *Queue {
	q := &Queue{
		store:   store,
		backoff: opts.Backoff,
		now:     opts.Now,
		log:     opts.Logger,
	}
	if q.backoff == (Backoff{}) {
		q.backoff = DefaultBackoff
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.log == nil {
		q.log = slog.Default()
	}
	return q
}

// Enqueue stores p as a new QUEUED operation under token (minted by the
// store when empty)
func (q *Queue) Enqueue(ctx context.Context, p models.Payload, token string) (models.PendingOperation, error) {
	op, err := models.NewPendingOperation(p, token, q.now())
	if err != nil {
		return models.PendingOperation{}, err
	}
	stored, err := q.store.Enqueue(ctx, op)
	if err != nil {
		return models.PendingOperation{}, err
	}
	q.log.Info("queued operation", "token", stored.Token, "kind", stored.Kind, "parent", stored.ParentRef)
	return stored, nil
}

// Candidate is an operation a drain looks at
type Candidate struct {
	Op models.PendingOperation
	// Due is unset while the operation waits out its backoff
	Due bool
}

// Ready returns the QUEUED operations of kinds in creation order. With
// honorBackoff set, operations whose NextAttemptAt is still ahead come back
// with Due unset; they stay in the list so later operations that must follow
// them can be held back.
//
// An operation found SUBMITTING was left there by a drain that could not
// record its outcome, and is returned as QUEUED. Callers must not run two
// drains over the same kinds at once.
func (q *Queue) Ready(ctx context.Context, kinds []models.OperationKind, honorBackoff bool) ([]Candidate, error) {
	ops, err := q.store.ListPending(ctx, kinds...)
	if err != nil {
		return nil, err
	}
	now := q.now()
	ready := make([]Candidate, 0, len(ops))
	for _, op := range ops {
		switch op.State {
		case models.StateQueued:
		case models.StateSubmitting:
			q.log.Warn("reclaiming operation left submitting", "token", op.Token, "kind", op.Kind)
			op.State = models.StateQueued
		default:
			continue
		}
		due := !honorBackoff || !op.NextAttemptAt.After(now)
		ready = append(ready, Candidate{Op: op, Due: due})
	}
	return ready, nil
}

// Begin marks op SUBMITTING before it is sent
func (q *Queue) Begin(ctx context.Context, op models.PendingOperation) (models.PendingOperation, error) {
	next, err := Begin(op)
	if err != nil {
		return op, err
	}
	if err := q.store.UpdateAttempt(ctx, next.Token, attemptOf(next)); err != nil {
		return op, err
	}
	return next, nil
}

// Complete records the result of submitting op and returns the outcome applied
func (q *Queue) Complete(ctx context.Context, op models.PendingOperation, submitErr error) (Outcome, error) {
	outcome := OutcomeOf(submitErr)
	var next time.Time
	if outcome == Retryable {
		next = q.now().Add(q.backoff.Delay(op.Attempts + 1))
	}

	updated, deleted, err := Resolve(op, outcome, submitErr, next)
	if err != nil {
		return outcome, err
	}

	if deleted {
		if err := q.store.Dequeue(ctx, op.Token); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				q.log.Warn("acknowledged operation already removed", "token", op.Token)
				return outcome, nil
			}
			q.release(ctx, op)
			return outcome, err
		}
		q.log.Info("operation acknowledged", "token", op.Token, "kind", op.Kind)
		return outcome, nil
	}

	if err := q.store.UpdateAttempt(ctx, updated.Token, attemptOf(updated)); err != nil {
		q.release(ctx, op)
		return outcome, err
	}
	if outcome == Terminal {
		q.log.Warn("operation rejected, needs attention",
			"token", op.Token, "kind", op.Kind, "err", submitErr)
	} else {
		q.log.Info("operation will be retried",
			"token", op.Token, "kind", op.Kind, "attempts", updated.Attempts,
			"next_attempt", updated.NextAttemptAt, "err", submitErr)
	}
	return outcome, nil
}

// release puts a SUBMITTING op back to QUEUED, attempt metadata unchanged,
// after its outcome could not be stored. If that fails too the next Ready
// reclaims it.
func (q *Queue) release(ctx context.Context, op models.PendingOperation) {
	op.State = models.StateQueued
	if err := q.store.UpdateAttempt(ctx, op.Token, attemptOf(op)); err != nil {
		q.log.Warn("could not release operation", "token", op.Token, "err", err)
		return
	}
	q.log.Warn("outcome not stored, operation queued again", "token", op.Token)
}

// Requeue returns a FAILED_TERMINAL operation to the queue, typically after
// the user fixed what the server rejected
func (q *Queue) Requeue(ctx context.Context, token string) error {
	op, err := q.store.GetPending(ctx, token)
	if err != nil {
		return err
	}
	next, err := Reopen(op, q.now())
	if err != nil {
		return err
	}
	if err := q.store.UpdateAttempt(ctx, token, attemptOf(next)); err != nil {
		return err
	}
	q.log.Info("operation requeued", "token", token, "kind", op.Kind)
	return nil
}

// Discard deletes an operation the user reconciled by hand. An operation
// that is being submitted cannot be discarded.
func (q *Queue) Discard(ctx context.Context, token string) error {
	op, err := q.store.GetPending(ctx, token)
	if err != nil {
		return err
	}
	if op.State == models.StateSubmitting {
		return fmt.Errorf("%w: operation %s is being submitted", ErrInvalidTransition, token)
	}
	if err := q.store.Dequeue(ctx, token); err != nil {
		return err
	}
	q.log.Warn("operation discarded", "token", token, "kind", op.Kind, "attempts", op.Attempts)
	return nil
}

// Get returns the operation with token
func (q *Queue) Get(ctx context.Context, token string) (models.PendingOperation, error) {
	return q.store.GetPending(ctx, token)
}

// List returns every pending operation of kinds, all kinds when none are given
func (q *Queue) List(ctx context.Context, kinds ...models.OperationKind) ([]models.PendingOperation, error) {
	return q.store.ListPending(ctx, kinds...)
}

// Count returns the number of pending operations of kinds
func (q *Queue) Count(ctx context.Context, kinds ...models.OperationKind) (int, error) {
	return q.store.CountPending(ctx, kinds...)
}

// NeedsAttention returns operations flagged FAILED_TERMINAL
func (q *Queue) NeedsAttention(ctx context.Context, kinds ...models.OperationKind) ([]models.PendingOperation, error) {
	ops, err := q.store.ListPending(ctx, kinds...)
	if err != nil {
		return nil, err
	}
	flagged := []models.PendingOperation{}
	for _, op := range ops {
		if op.NeedsAttention() {
			flagged = append(flagged, op)
		}
	}
	return flagged, nil
}

func attemptOf(op models.PendingOperation) db.AttemptUpdate {
	return db.AttemptUpdate{
		State:         op.State,
		Attempts:      op.Attempts,
		LastError:     op.LastError,
		NextAttemptAt: op.NextAttemptAt,
	}
}
