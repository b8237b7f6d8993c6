package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testMovement() *BankMovement {
	return &BankMovement{
		ID:        "mov-1",
		CompanyID: "AAA010101AAA",
		Date:      time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Concept:   "SPEI RECIBIDO BANCO 123",
		Amount:    decimal.NewFromFloat(1500.00),
		Direction: DirectionAbono,
		Status:    StatusPendiente,
	}
}

func TestBankMovementValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BankMovement)
		wantErr bool
	}{
		{"valid", func(m *BankMovement) {}, false},
		{"empty id", func(m *BankMovement) { m.ID = "" }, true},
		{"empty company", func(m *BankMovement) { m.CompanyID = "" }, true},
		{"zero date", func(m *BankMovement) { m.Date = time.Time{} }, true},
		{"zero amount", func(m *BankMovement) { m.Amount = decimal.Zero }, true},
		{"bad direction", func(m *BankMovement) { m.Direction = "retiro" }, true},
		{"bad status", func(m *BankMovement) { m.Status = "descartado" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMovement()
			tt.mutate(m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAssignMatch(t *testing.T) {
	m := testMovement()
	at := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	m.AssignMatch("uuid-1", MethodExacto, 0.95, at)

	if m.Status != StatusConciliado {
		t.Errorf("expected status conciliado, got %s", m.Status)
	}
	if m.MatchedInvoiceID != "uuid-1" {
		t.Errorf("expected matched invoice uuid-1, got %s", m.MatchedInvoiceID)
	}
	if m.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", m.Confidence)
	}
	if m.ReconciledAt == nil || !m.ReconciledAt.Equal(at) {
		t.Errorf("expected reconciliation time %v, got %v", at, m.ReconciledAt)
	}
}

func TestResetAssignment(t *testing.T) {
	m := testMovement()
	m.AssignMatch("uuid-1", MethodExacto, 0.95, time.Now())

	m.ResetAssignment()

	if m.Status != StatusPendiente {
		t.Errorf("expected status pendiente after reset, got %s", m.Status)
	}
	if m.MatchedInvoiceID != "" || m.Confidence != 0 || m.MatchMethod != "" {
		t.Error("expected assignment fields cleared after reset")
	}
}

func TestResetAssignmentIgnoresManual(t *testing.T) {
	m := testMovement()
	m.Status = StatusManual
	m.MatchedInvoiceID = "uuid-1"
	m.MatchMethod = MethodManual
	m.Confidence = 1.0

	m.ResetAssignment()

	if m.Status != StatusManual {
		t.Errorf("manual movement must not be reset, got status %s", m.Status)
	}
	if m.MatchedInvoiceID != "uuid-1" {
		t.Error("manual assignment must survive reset")
	}
}

func TestIsAssignable(t *testing.T) {
	m := testMovement()
	if !m.IsAssignable() {
		t.Error("pending movement should be assignable")
	}
	m.Status = StatusConciliado
	if m.IsAssignable() {
		t.Error("reconciled movement should not be assignable")
	}
	m.Status = StatusManual
	if m.IsAssignable() {
		t.Error("manual movement should not be assignable")
	}
}

func TestInvoiceValidate(t *testing.T) {
	base := func() *InvoiceRecord {
		return &InvoiceRecord{
			UUID:          "11111111-2222-3333-4444-555555555555",
			CompanyID:     "AAA010101AAA",
			IssueDate:     time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
			Total:         decimal.NewFromFloat(1500.00),
			PaymentScheme: SchemePUE,
		}
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid invoice rejected: %v", err)
	}

	inv := base()
	inv.PaymentScheme = SchemePUE
	inv.Complements = []ComplementLink{{UUID: "c1", Amount: decimal.NewFromInt(100)}}
	if err := inv.Validate(); err == nil {
		t.Error("PUE invoice with complements should be rejected")
	}

	inv = base()
	inv.Total = decimal.NewFromInt(-1)
	if err := inv.Validate(); err == nil {
		t.Error("negative total should be rejected")
	}
}

func TestComplementTotal(t *testing.T) {
	inv := &InvoiceRecord{
		Complements: []ComplementLink{
			{UUID: "c1", Amount: decimal.NewFromInt(2000)},
			{UUID: "c2", Amount: decimal.NewFromInt(1500)},
			{UUID: "c3", Amount: decimal.NewFromInt(1500)},
		},
	}
	if !inv.ComplementTotal().Equal(decimal.NewFromInt(5000)) {
		t.Errorf("expected complement total 5000, got %s", inv.ComplementTotal())
	}
}

func TestRunScope(t *testing.T) {
	run := &ReconciliationRun{CompanyID: "AAA010101AAA", Month: 1, Year: 2024}
	if got := run.Scope(); got != "AAA010101AAA/2024-01" {
		t.Errorf("unexpected scope %q", got)
	}
}
