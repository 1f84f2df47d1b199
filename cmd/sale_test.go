package cmd

import (
	"testing"

	"github.com/marcus/posync/internal/models"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12", 1200, false},
		{"12.5", 1250, false},
		{"12.50", 1250, false},
		{"0.05", 5, false},
		{" 3.10 ", 310, false},
		{"", 0, true},
		{".50", 0, true},
		{"12.", 0, true},
		{"12.505", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
		{"1.x", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMoney(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMoney(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMoney(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseLine(t *testing.T) {
	spec, err := parseLine("p-coffee:2")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if spec.productID != "p-coffee" || spec.quantity != 2 || spec.price != -1 {
		t.Errorf("spec = %+v", spec)
	}

	spec, err = parseLine("p-mug:1:9.90")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if spec.price != 990 {
		t.Errorf("price = %d, want 990", spec.price)
	}

	for _, bad := range []string{"p-coffee", ":2", "p-coffee:0", "p-coffee:x", "a:1:2:3", "p:1:bad"} {
		if _, err := parseLine(bad); err == nil {
			t.Errorf("parseLine(%q) succeeded", bad)
		}
	}
}

func TestParsePayment(t *testing.T) {
	p, err := parsePayment("Cash:20")
	if err != nil {
		t.Fatalf("parsePayment: %v", err)
	}
	if p.Method != models.PaymentCash || p.AmountCents != 2000 {
		t.Errorf("payment = %+v", p)
	}

	for _, bad := range []string{"cash", "bitcoin:1", "card:-1"} {
		if _, err := parsePayment(bad); err == nil {
			t.Errorf("parsePayment(%q) succeeded", bad)
		}
	}
}

func TestKindFlag(t *testing.T) {
	var f kindFlag
	if err := f.Set("sale,count"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := f.Set("SALES"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(f.kinds) != 2 {
		t.Fatalf("kinds = %v, want 2 distinct", f.kinds)
	}
	if got := f.String(); got != "SALE,INVENTORY_COUNT_LINE" {
		t.Errorf("String() = %q", got)
	}
	if f.Type() != "kind" {
		t.Errorf("Type() = %q", f.Type())
	}
	if err := f.Set("refund"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret("abc"); got != "***" {
		t.Errorf("maskSecret(abc) = %q", got)
	}
	if got := maskSecret("secret-key-1234"); got != "***********1234" {
		t.Errorf("maskSecret = %q", got)
	}
}
