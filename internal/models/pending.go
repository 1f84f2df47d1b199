package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OperationKind tags the mutation family of a pending operation
type OperationKind string

const (
	KindSale               OperationKind = "SALE"
	KindInventoryCountLine OperationKind = "INVENTORY_COUNT_LINE"
)

// AllKinds lists every operation kind
var AllKinds = []OperationKind{KindSale, KindInventoryCountLine}

// Valid reports whether k is a known kind
func (k OperationKind) Valid() bool {
	switch k {
	case KindSale, KindInventoryCountLine:
		return true
	}
	return false
}

// OperationState is the persisted state of a pending operation.
// Acknowledged operations are deleted, and a retryable failure goes straight
// back to StateQueued, so neither has a stored state of its own.
type OperationState string

const (
	StateQueued         OperationState = "QUEUED"
	StateSubmitting     OperationState = "SUBMITTING"
	StateFailedTerminal OperationState = "FAILED_TERMINAL"
)

// PendingOperation is a durable record of a mutation the server has not acknowledged
type PendingOperation struct {
	Seq           int64 // store insertion order
	Token         string
	Kind          OperationKind
	ParentRef     string
	Payload       json.RawMessage
	CreatedAt     time.Time
	Attempts      int
	LastError     string
	State         OperationState
	NextAttemptAt time.Time
}

// NeedsAttention reports whether the operation left the automatic retry cycle
func (op PendingOperation) NeedsAttention() bool {
	return op.State == StateFailedTerminal
}

// Decode returns the typed payload of the operation
func (op PendingOperation) Decode() (Payload, error) {
	return DecodePayload(op.Kind, op.Payload)
}

// Payload is the typed body of a pending operation. Each kind has exactly
// one implementation.
type Payload interface {
	Kind() OperationKind
	// ParentRef is the parent entity the mutation belongs to, if any.
	ParentRef() string
	// CausalKey groups operations that must apply in creation order.
	// Empty means independent.
	CausalKey() string
}

// SalePayload carries an offline sale
type SalePayload struct {
	Sale Sale `json:"sale"`
}

func (*SalePayload) Kind() OperationKind { return KindSale }
func (*SalePayload) ParentRef() string   { return "" }
func (*SalePayload) CausalKey() string   { return "" }

// InventoryLinePayload carries a count line for an inventory session
type InventoryLinePayload struct {
	SessionID string             `json:"session_id"`
	Line      InventoryCountLine `json:"line"`
}

func (*InventoryLinePayload) Kind() OperationKind { return KindInventoryCountLine }
func (p *InventoryLinePayload) ParentRef() string { return p.SessionID }
func (p *InventoryLinePayload) CausalKey() string {
	return p.SessionID + "/" + p.Line.ProductID
}

// ErrUnknownKind is returned when a stored kind has no payload type
var ErrUnknownKind = errors.New("unknown operation kind")

// DecodePayload decodes raw into the payload type registered for kind
func DecodePayload(kind OperationKind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindSale:
		p = &SalePayload{}
	case KindInventoryCountLine:
		p = &InventoryLinePayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// NewPendingOperation builds a queued operation for p. The token is left as
// given; the store assigns one when it is empty.
func NewPendingOperation(p Payload, token string, now time.Time) (PendingOperation, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return PendingOperation{
		Token:         token,
		Kind:          p.Kind(),
		ParentRef:     p.ParentRef(),
		Payload:       raw,
		CreatedAt:     now,
		State:         StateQueued,
		NextAttemptAt: now,
	}, nil
}
