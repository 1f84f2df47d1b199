package models

import (
	"errors"
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle of a physical-inventory session
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// PaymentMethod represents how a sale was tendered
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCredit   PaymentMethod = "credit" // client account
)

// Product is a sellable catalog item
type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	CategoryID string    `json:"category_id,omitempty"`
	PriceCents int64     `json:"price_cents"`
	Stock      int64     `json:"stock"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Client is a customer that sales can be billed to
type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Category groups products in the catalog
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// InventorySession is a physical stock count in progress or finished
type InventorySession struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Status   SessionStatus   `json:"status"`
	OpenedAt time.Time       `json:"opened_at"`
	Items    []InventoryItem `json:"items"`
}

// InventoryItem is a count line as recorded by the server
type InventoryItem struct {
	ID        string    `json:"id"`
	Sequence  int64     `json:"sequence"`
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	CountedAt time.Time `json:"counted_at"`
	CountedBy string    `json:"counted_by,omitempty"`
}

// SaleLine is one product line of a sale
type SaleLine struct {
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Payment is one tender applied to a sale
type Payment struct {
	Method      PaymentMethod `json:"method"`
	AmountCents int64         `json:"amount_cents"`
}

// Sale is a completed checkout at a terminal
type Sale struct {
	ClientID string     `json:"client_id,omitempty"`
	Lines    []SaleLine `json:"lines"`
	Payments []Payment  `json:"payments,omitempty"`
	Note     string     `json:"note,omitempty"`
	SoldAt   time.Time  `json:"sold_at"`
}

// ErrInvalidSale is returned by Sale.Validate for locally detectable problems
var ErrInvalidSale = errors.New("invalid sale")

// TotalCents sums the line totals
func (s Sale) TotalCents() int64 {
	var total int64
	for _, l := range s.Lines {
		total += l.Quantity * l.UnitPriceCents
	}
	return total
}

// Validate checks the sale before it is submitted or queued
func (s Sale) Validate() error {
	if len(s.Lines) == 0 {
		return fmt.Errorf("%w: no lines", ErrInvalidSale)
	}
	for i, l := range s.Lines {
		if l.ProductID == "" {
			return fmt.Errorf("%w: line %d has no product", ErrInvalidSale, i+1)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidSale, i+1)
		}
		if l.UnitPriceCents < 0 {
			return fmt.Errorf("%w: line %d has a negative price", ErrInvalidSale, i+1)
		}
	}
	if len(s.Payments) > 0 {
		var paid int64
		for _, p := range s.Payments {
			paid += p.AmountCents
		}
		if paid < s.TotalCents() {
			return fmt.Errorf("%w: payments %d do not cover total %d", ErrInvalidSale, paid, s.TotalCents())
		}
	}
	return nil
}

// SaleReceipt is the server's answer to a sale submission
type SaleReceipt struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	Number     int64     `json:"number"`
	TotalCents int64     `json:"total_cents"`
	RecordedAt time.Time `json:"recorded_at"`
	Replayed   bool      `json:"replayed,omitempty"`
}

// InventoryCountLine is one counted quantity captured at a terminal
type InventoryCountLine struct {
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	CountedAt time.Time `json:"counted_at"`
	CountedBy string    `json:"counted_by,omitempty"`
}

// ErrInvalidCountLine is returned by InventoryCountLine.Validate
var ErrInvalidCountLine = errors.New("invalid count line")

// Validate checks the line before it is submitted or queued
func (l InventoryCountLine) Validate() error {
	if l.ProductID == "" {
		return fmt.Errorf("%w: no product", ErrInvalidCountLine)
	}
	if l.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidCountLine)
	}
	return nil
}

// InventoryLineResult is the server's answer to a count line submission
type InventoryLineResult struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	SessionID  string    `json:"session_id"`
	Sequence   int64     `json:"sequence"`
	RecordedAt time.Time `json:"recorded_at"`
	Replayed   bool      `json:"replayed,omitempty"`
}
