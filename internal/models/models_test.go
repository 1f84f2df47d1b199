package models

import (
	"errors"
	"testing"
	"time"
)

func TestParseCollectionKey(t *testing.T) {
	tests := []struct {
		in      string
		want    CollectionKey
		wantErr bool
	}{
		{in: "products", want: ProductsKey},
		{in: "clients", want: ClientsKey},
		{in: " categories ", want: CategoriesKey},
		{in: "inventory_sessions/s-1", want: InventorySessionKey("s-1")},
		{in: "sessions/s-2", want: InventorySessionKey("s-2")},
		{in: "inventory_sessions", wantErr: true},
		{in: "products/x", wantErr: true},
		{in: "invoices", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCollectionKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCollectionKey(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCollectionKey(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCollectionKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCollectionKeyString(t *testing.T) {
	if got := ProductsKey.String(); got != "products" {
		t.Errorf("got %q, want products", got)
	}
	if got := InventorySessionKey("abc").String(); got != "inventory_sessions/abc" {
		t.Errorf("got %q, want inventory_sessions/abc", got)
	}
}

func TestDecodePayloadDispatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	line := &InventoryLinePayload{
		SessionID: "s-1",
		Line:      InventoryCountLine{ProductID: "p-9", Quantity: 4, CountedAt: now},
	}
	op, err := NewPendingOperation(line, "tok-1", now)
	if err != nil {
		t.Fatalf("NewPendingOperation: %v", err)
	}
	if op.Kind != KindInventoryCountLine {
		t.Errorf("Kind = %s, want %s", op.Kind, KindInventoryCountLine)
	}
	if op.ParentRef != "s-1" {
		t.Errorf("ParentRef = %q, want s-1", op.ParentRef)
	}
	if op.State != StateQueued {
		t.Errorf("State = %s, want QUEUED", op.State)
	}

	p, err := op.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := p.(*InventoryLinePayload)
	if !ok {
		t.Fatalf("Decode returned %T, want *InventoryLinePayload", p)
	}
	if got.CausalKey() != "s-1/p-9" {
		t.Errorf("CausalKey = %q, want s-1/p-9", got.CausalKey())
	}
	if got.Line.Quantity != 4 {
		t.Errorf("Quantity = %d, want 4", got.Line.Quantity)
	}
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	_, err := DecodePayload("REFUND", []byte(`{}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestSaleValidate(t *testing.T) {
	ok := Sale{Lines: []SaleLine{{ProductID: "p1", Quantity: 2, UnitPriceCents: 150}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid sale rejected: %v", err)
	}
	if ok.TotalCents() != 300 {
		t.Errorf("TotalCents = %d, want 300", ok.TotalCents())
	}

	bad := []Sale{
		{},
		{Lines: []SaleLine{{Quantity: 1}}},
		{Lines: []SaleLine{{ProductID: "p1", Quantity: 0}}},
		{
			Lines:    []SaleLine{{ProductID: "p1", Quantity: 1, UnitPriceCents: 500}},
			Payments: []Payment{{Method: PaymentCash, AmountCents: 100}},
		},
	}
	for i, s := range bad {
		if err := s.Validate(); !errors.Is(err, ErrInvalidSale) {
			t.Errorf("case %d: expected ErrInvalidSale, got %v", i, err)
		}
	}
}
