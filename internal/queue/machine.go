package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcus/posync/internal/faults"
	"github.com/marcus/posync/internal/models"
)

// ErrInvalidTransition is returned when an operation cannot move to the requested state
var ErrInvalidTransition = errors.New("invalid state transition")

// Outcome is the result of one submission attempt
type Outcome int

const (
	// Acked: the server acknowledged the token; the operation is deleted.
	Acked Outcome = iota
	// Retryable: transient failure; the operation returns to QUEUED.
	Retryable
	// Terminal: the server rejected the payload; the operation is kept and flagged.
	Terminal
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "ACKED"
	case Retryable:
		return "FAILED_RETRYABLE"
	case Terminal:
		return "FAILED_TERMINAL"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// OutcomeOf maps a submission error to its outcome. Only a server rejection
// is terminal; everything else may succeed on a later attempt.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Acked
	}
	if faults.Classify(err).Retryable() {
		return Retryable
	}
	if faults.IsRejected(err) {
		return Terminal
	}
	// Storage faults and anything else unretryable stay queued rather than
	// flagging a payload the server never judged.
	return Retryable
}

// Begin moves a QUEUED operation to SUBMITTING
func Begin(op models.PendingOperation) (models.PendingOperation, error) {
	if op.State != models.StateQueued {
		return op, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, op.State, models.StateSubmitting)
	}
	op.State = models.StateSubmitting
	return op, nil
}

// Resolve applies the outcome of an attempt to a SUBMITTING operation.
// It reports deleted=true for Acked; otherwise it returns the updated
// operation. next is when a retryable operation may be tried again.
func Resolve(op models.PendingOperation, outcome Outcome, cause error, next time.Time) (updated models.PendingOperation, deleted bool, err error) {
	if op.State != models.StateSubmitting {
		return op, false, fmt.Errorf("%w: %s resolved as %s", ErrInvalidTransition, op.State, outcome)
	}
	switch outcome {
	case Acked:
		return op, true, nil
	case Retryable:
		op.State = models.StateQueued
		op.Attempts++
		op.LastError = errorText(cause)
		op.NextAttemptAt = next
		return op, false, nil
	case Terminal:
		op.State = models.StateFailedTerminal
		op.Attempts++
		op.LastError = errorText(cause)
		return op, false, nil
	}
	return op, false, fmt.Errorf("%w: unknown outcome %d", ErrInvalidTransition, int(outcome))
}

// Reopen moves a FAILED_TERMINAL operation back to QUEUED for another try.
// The attempt count is kept.
func Reopen(op models.PendingOperation, now time.Time) (models.PendingOperation, error) {
	if op.State != models.StateFailedTerminal {
		return op, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, op.State, models.StateQueued)
	}
	op.State = models.StateQueued
	op.NextAttemptAt = now
	return op, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
