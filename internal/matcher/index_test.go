package matcher

import (
	"testing"

	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
)

func TestIndexExactAmount(t *testing.T) {
	index := testIndex(
		testInvoice("inv-1", day(5), 1500.00),
		testInvoice("inv-2", day(6), 1500.00),
		testInvoice("inv-3", day(7), 2000.00),
	)

	got := index.ExactAmount(decimal.NewFromFloat(1500.00))
	if len(got) != 2 {
		t.Fatalf("expected 2 invoices for 1500.00, got %d", len(got))
	}
	if got := index.ExactAmount(decimal.NewFromFloat(999.99)); len(got) != 0 {
		t.Errorf("expected no invoices for unknown amount, got %d", len(got))
	}
}

func TestIndexDateRange(t *testing.T) {
	index := testIndex(
		testInvoice("inv-1", day(5), 100),
		testInvoice("inv-2", day(10), 200),
		testInvoice("inv-3", day(15), 300),
		testInvoice("inv-4", day(20), 400),
	)

	got := index.InDateRange(day(8), day(16))
	if len(got) != 2 {
		t.Fatalf("expected 2 invoices in range, got %d", len(got))
	}
	if got[0].UUID != "inv-2" || got[1].UUID != "inv-3" {
		t.Errorf("range results out of order: %s, %s", got[0].UUID, got[1].UUID)
	}
	if got := index.InDateRange(day(25), day(30)); len(got) != 0 {
		t.Errorf("expected empty range, got %d", len(got))
	}
}

func TestIndexLookbackWindow(t *testing.T) {
	// Issued 10 days before the period; a 15-day lookback keeps it, a 5-day
	// lookback drops it.
	early := testInvoice("inv-early", day(1).AddDate(0, 0, -10), 100)

	wide := NewCandidateIndex([]*models.InvoiceRecord{early}, nil, day(1), day(31), 15)
	if wide.Size() != 1 {
		t.Error("lookback window should keep the late-cleared invoice")
	}
	narrow := NewCandidateIndex([]*models.InvoiceRecord{early}, nil, day(1), day(31), 5)
	if narrow.Size() != 0 {
		t.Error("invoice outside the lookback window should be excluded")
	}
}

func TestIndexTokens(t *testing.T) {
	invoice := testInvoice("A1B2C3D4-1111-2222-3333-444455556666", day(5), 100)
	invoice.Serie = "FAC"
	invoice.Folio = "1234"
	index := testIndex(invoice)

	for _, token := range []string{
		"a1b2c3d4-1111-2222-3333-444455556666",
		"A1B2C3D4-1111-2222-3333-444455556666",
		"a1b2c3d4111122223333444455556666", // dashless form
		"1234",
		"FAC1234",
	} {
		if got := index.ByToken(token); len(got) != 1 {
			t.Errorf("ByToken(%q) = %d invoices, want 1", token, len(got))
		}
	}
	if got := index.ByToken("9999"); len(got) != 0 {
		t.Errorf("unexpected invoices for unknown token: %d", len(got))
	}
}

func TestIndexByCounterparty(t *testing.T) {
	invoice := testInvoice("inv-1", day(5), 100)
	invoice.CounterpartyID = "bbb020202bbb"
	index := testIndex(invoice)

	if got := index.ByCounterparty("BBB020202BBB"); len(got) != 1 {
		t.Errorf("counterparty lookup should be case-insensitive, got %d", len(got))
	}
}
