package matcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func testInvoice(uuid string, issue time.Time, total float64) *models.InvoiceRecord {
	return &models.InvoiceRecord{
		UUID:          uuid,
		CompanyID:     "AAA010101AAA",
		IssueDate:     issue,
		Total:         decimal.NewFromFloat(total),
		PaymentScheme: models.SchemePUE,
	}
}

func testPending(id string, date time.Time, amount float64) *models.BankMovement {
	return &models.BankMovement{
		ID:        id,
		CompanyID: "AAA010101AAA",
		Date:      date,
		Concept:   "SPEI RECIBIDO",
		Amount:    decimal.NewFromFloat(amount),
		Direction: models.DirectionAbono,
		Status:    models.StatusPendiente,
	}
}

func testIndex(invoices ...*models.InvoiceRecord) *CandidateIndex {
	return NewCandidateIndex(invoices, nil, day(1), day(31), 30)
}

func testEngine(t *testing.T) *MatchingEngine {
	t.Helper()
	engine, err := NewMatchingEngine(DefaultMatchingConfig(), nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestExactMatch(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(9), 1500.00)
	movement := testPending("mov-1", day(10), 1500.00)

	result := engine.Match(movement, testIndex(invoice), NewClaimSet())

	if !result.Matched {
		t.Fatal("expected exact match")
	}
	if result.Winner.Method != models.MethodExacto {
		t.Errorf("expected method exacto, got %s", result.Winner.Method)
	}
	if result.Winner.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", result.Winner.Confidence)
	}
	if !result.Winner.AmountDiff.IsZero() {
		t.Errorf("exact match must have zero amount diff, got %s", result.Winner.AmountDiff)
	}
	if result.Winner.DaysDiff > 3 {
		t.Errorf("exact match must respect date tolerance, got %d days", result.Winner.DaysDiff)
	}
}

func TestExactMatchRejectsBeyondDateTolerance(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(1), 1500.00)
	movement := testPending("mov-1", day(10), 1500.00)

	result := engine.Match(movement, testIndex(invoice), NewClaimSet())

	if result.Matched && result.Winner.Method == models.MethodExacto {
		t.Error("exact strategy must not match 9 days apart with tolerance 3")
	}
}

func TestReferenceMatch(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("a1b2c3d4-1111-2222-3333-444455556666", day(2), 1200.00)
	movement := testPending("mov-1", day(20), 998.50)
	movement.Reference = "PAGO A1B2C3D4-1111-2222-3333-444455556666"

	result := engine.Match(movement, testIndex(invoice), NewClaimSet())

	if !result.Matched {
		t.Fatal("expected reference match despite amount mismatch")
	}
	if result.Winner.Method != models.MethodReferencia {
		t.Errorf("expected method referencia, got %s", result.Winner.Method)
	}
	if result.Winner.Confidence != 0.90 {
		t.Errorf("expected confidence 0.90, got %f", result.Winner.Confidence)
	}
}

func TestReferenceMatchByFolio(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(2), 1200.00)
	invoice.Folio = "45678"
	movement := testPending("mov-1", day(20), 500.00)
	movement.Concept = "TRANSFERENCIA FACTURA 45678"

	result := engine.Match(movement, testIndex(invoice), NewClaimSet())

	if !result.Matched || result.Winner.Method != models.MethodReferencia {
		t.Fatalf("expected folio reference match, got %+v", result)
	}
}

func TestToleranceMatch(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(9), 1500.50)
	movement := testPending("mov-1", day(10), 1500.00)

	result := engine.Match(movement, testIndex(invoice), NewClaimSet())

	if !result.Matched {
		t.Fatal("expected tolerance match")
	}
	if result.Winner.Method != models.MethodAproximado {
		t.Errorf("expected method aproximado, got %s", result.Winner.Method)
	}
	if result.Winner.Confidence >= 0.80 {
		t.Errorf("deviation must scale confidence below 0.80, got %f", result.Winner.Confidence)
	}
	if result.Winner.Confidence < 0.60 {
		t.Errorf("within tolerance confidence must stay above 0.60, got %f", result.Winner.Confidence)
	}
}

func TestComplementAggregation(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-ppd", day(2), 5000.00)
	invoice.PaymentScheme = models.SchemePPD
	invoice.Complements = []models.ComplementLink{
		{UUID: "comp-1", Amount: decimal.NewFromInt(2000), PaymentDate: day(8)},
		{UUID: "comp-2", Amount: decimal.NewFromInt(1500), PaymentDate: day(12)},
		{UUID: "comp-3", Amount: decimal.NewFromInt(1500), PaymentDate: day(15)},
	}
	// Issue date far enough that the exact strategy stays out of the way.
	invoice.IssueDate = day(2)
	movement := testPending("mov-1", day(16), 5000.00)

	claims := NewClaimSet()
	result := engine.Match(movement, testIndex(invoice), claims)

	if !result.Matched {
		t.Fatal("expected deferred-payment aggregation match")
	}
	if result.Winner.Method != models.MethodComplementoPPD {
		t.Errorf("expected method complemento_ppd, got %s", result.Winner.Method)
	}
	if result.Winner.Confidence != 0.90 {
		t.Errorf("expected confidence 0.90, got %f", result.Winner.Confidence)
	}
	if len(result.Winner.ClaimIDs) != 3 {
		t.Errorf("expected all three complements claimed, got %v", result.Winner.ClaimIDs)
	}
	for _, id := range []string{"comp-1", "comp-2", "comp-3"} {
		if !claims.IsClaimed(id) {
			t.Errorf("complement %s should be claimed", id)
		}
	}
}

func TestComplementGroupBound(t *testing.T) {
	config := DefaultMatchingConfig()
	config.MaxComplementGroup = 2
	engine, err := NewMatchingEngine(config, nil)
	if err != nil {
		t.Fatal(err)
	}

	invoice := testInvoice("inv-ppd", day(2), 5000.00)
	invoice.PaymentScheme = models.SchemePPD
	invoice.Complements = []models.ComplementLink{
		{UUID: "comp-1", Amount: decimal.NewFromInt(2000), PaymentDate: day(8)},
		{UUID: "comp-2", Amount: decimal.NewFromInt(1500), PaymentDate: day(12)},
		{UUID: "comp-3", Amount: decimal.NewFromInt(1500), PaymentDate: day(15)},
	}
	movement := testPending("mov-1", day(16), 5000.00)

	result := engine.Match(movement, testIndex(invoice), NewClaimSet())

	if result.Matched && result.Winner.Method == models.MethodComplementoPPD {
		t.Error("a three-complement window must not match with MaxComplementGroup=2")
	}
}

func TestPendingWithSuggestions(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(10), 1000.00)
	// Deviates 50.00, far beyond the 1.00 tolerance; no reference or text.
	movement := testPending("mov-1", day(10), 1050.00)

	result := engine.Match(movement, testIndex(invoice), NewClaimSet())

	if result.Matched {
		t.Fatal("movement beyond tolerance must not be silently matched")
	}
	if len(result.Suggestions) == 0 {
		t.Fatal("expected suggestions for the near-miss candidate")
	}
	if result.Suggestions[0].InvoiceUUID != "inv-1" {
		t.Errorf("unexpected suggested invoice %s", result.Suggestions[0].InvoiceUUID)
	}
}

func TestHeuristicCounterpartyRFCBoost(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(9), 9500.00)
	invoice.CounterpartyID = "BBB020202BBB"
	index := testIndex(invoice)

	// 500.00 off on the amount: the weighted score alone stays below the
	// acceptance threshold.
	plain := testPending("mov-1", day(10), 9000.00)
	if result := engine.Match(plain, index, NewClaimSet()); result.Matched {
		t.Fatalf("without the issuer RFC the score must stay below threshold, got %+v", result.Winner)
	}

	tagged := testPending("mov-2", day(10), 9000.00)
	tagged.Concept = "SPEI RECIBIDO BBB020202BBB"
	result := engine.Match(tagged, index, NewClaimSet())

	if !result.Matched {
		t.Fatal("issuer RFC in the concept should lift the score over the threshold")
	}
	if result.Winner.Method != models.MethodHeuristica {
		t.Errorf("expected method heuristica, got %s", result.Winner.Method)
	}
	if result.Winner.Confidence != 0.85 {
		t.Errorf("heuristic confidence must cap at 0.85, got %f", result.Winner.Confidence)
	}
}

func TestSuggestionsExcludeClaimedInvoices(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(10), 1000.00)
	index := testIndex(invoice)
	claims := NewClaimSet()

	winner := testPending("mov-1", day(10), 1000.00)
	if result := engine.Match(winner, index, claims); !result.Matched {
		t.Fatal("first movement should claim the invoice")
	}

	nearMiss := testPending("mov-2", day(10), 1050.00)
	result := engine.Match(nearMiss, index, claims)

	if result.Matched {
		t.Fatal("second movement must stay pending")
	}
	for _, suggestion := range result.Suggestions {
		if suggestion.InvoiceUUID == "inv-1" {
			t.Error("suggestions must not point at an invoice claimed in the same run")
		}
	}
}

func TestClaimUniquenessAcrossMovements(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(9), 1500.00)
	index := testIndex(invoice)
	claims := NewClaimSet()

	first := testPending("mov-1", day(10), 1500.00)
	second := testPending("mov-2", day(10), 1500.00)

	r1 := engine.Match(first, index, claims)
	r2 := engine.Match(second, index, claims)

	if !r1.Matched {
		t.Fatal("first movement should match")
	}
	if r2.Matched {
		t.Fatal("second movement must not reuse the claimed invoice")
	}
}

func TestManualMovementUntouched(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(9), 1500.00)
	movement := testPending("mov-1", day(10), 1500.00)
	movement.Status = models.StatusManual
	movement.MatchedInvoiceID = "other"

	result := engine.Match(movement, testIndex(invoice), NewClaimSet())

	if result.Matched || len(result.Suggestions) != 0 {
		t.Error("manual movements must never be evaluated by the pipeline")
	}
}

func TestTieBreakPrefersCloserDate(t *testing.T) {
	engine := testEngine(t)
	far := testInvoice("inv-far", day(7), 1500.00)
	near := testInvoice("inv-near", day(10), 1500.00)
	movement := testPending("mov-1", day(10), 1500.00)

	result := engine.Match(movement, testIndex(far, near), NewClaimSet())

	if !result.Matched || result.Winner.Invoice.UUID != "inv-near" {
		t.Errorf("tie-break should prefer the closer date, got %+v", result.Winner)
	}
}

func TestTieBreakPrefersEarlierIssueThenUUID(t *testing.T) {
	engine := testEngine(t)
	// Same amount, same date distance (both on the movement date).
	b := testInvoice("inv-b", day(10), 1500.00)
	a := testInvoice("inv-a", day(10), 1500.00)
	movement := testPending("mov-1", day(10), 1500.00)

	result := engine.Match(movement, testIndex(b, a), NewClaimSet())

	if !result.Matched || result.Winner.Invoice.UUID != "inv-a" {
		t.Errorf("tie-break should fall back to UUID order, got %+v", result.Winner)
	}
}

func TestMatchingIsDeterministic(t *testing.T) {
	build := func() (*MatchingEngine, *CandidateIndex, []*models.BankMovement) {
		engine := testEngine(t)
		var invoices []*models.InvoiceRecord
		for i := 0; i < 10; i++ {
			invoices = append(invoices,
				testInvoice(fmt.Sprintf("inv-%02d", i), day(5+i%5), 1500.00))
		}
		index := testIndex(invoices...)
		var movements []*models.BankMovement
		for i := 0; i < 10; i++ {
			movements = append(movements,
				testPending(fmt.Sprintf("mov-%02d", i), day(6+i%5), 1500.00))
		}
		return engine, index, movements
	}

	runOnce := func() []string {
		engine, index, movements := build()
		claims := NewClaimSet()
		assigned := make([]string, len(movements))
		for i, movement := range movements {
			result := engine.Match(movement, index, claims)
			if result.Matched {
				assigned[i] = result.Winner.Invoice.UUID
			}
		}
		return assigned
	}

	first := runOnce()
	second := runOnce()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("run diverged at movement %d: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestHistoricalPatternMatch(t *testing.T) {
	engine := testEngine(t)
	invoice := testInvoice("inv-1", day(10), 7500.00)
	invoice.CounterpartyID = "BBB020202BBB"
	patterns := []HistoricalPattern{{
		CounterpartyID: "BBB020202BBB",
		Concept:        "SPEI RECIBIDO ACEROS MONTERREY SA",
	}}
	index := NewCandidateIndex([]*models.InvoiceRecord{invoice}, patterns, day(1), day(31), 30)

	movement := testPending("mov-1", day(12), 9999.00)
	movement.Concept = "SPEI RECIBIDO ACEROS MONTERREY SA"

	result := engine.Match(movement, index, NewClaimSet())

	if !result.Matched {
		t.Fatal("expected historical pattern match")
	}
	if result.Winner.Method != models.MethodPatronHistorico {
		t.Errorf("expected method patron_historico, got %s", result.Winner.Method)
	}
	if result.Winner.Confidence != 0.70 {
		t.Errorf("expected confidence 0.70, got %f", result.Winner.Confidence)
	}
}
