// Package models defines the domain types shared by the reconciliation engine:
// bank movements extracted from statements, CFDI invoice records, statement
// file metadata, reconciliation runs and their derived artifacts (suggestions,
// alerts, statistics).
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MovementDirection classifies a bank movement as money leaving (cargo) or
// entering (abono) the account.
type MovementDirection string

const (
	// DirectionCargo is a charge: money leaving the account.
	DirectionCargo MovementDirection = "cargo"
	// DirectionAbono is a credit: money entering the account.
	DirectionAbono MovementDirection = "abono"
)

// String returns the string representation of MovementDirection.
func (d MovementDirection) String() string {
	return string(d)
}

// IsValid checks if the direction is one of the known values.
func (d MovementDirection) IsValid() bool {
	return d == DirectionCargo || d == DirectionAbono
}

// MovementStatus is the reconciliation state of a bank movement.
//
// State machine: PENDIENTE (initial) -> CONCILIADO (auto-matched) or
// -> MANUAL (external override). A MANUAL movement is never reassigned by
// the automatic pipeline; CONCILIADO movements are reset to PENDIENTE only
// under force-reprocess.
type MovementStatus string

const (
	StatusPendiente  MovementStatus = "pendiente"
	StatusConciliado MovementStatus = "conciliado"
	StatusManual     MovementStatus = "manual"
)

// String returns the string representation of MovementStatus.
func (s MovementStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the known values.
func (s MovementStatus) IsValid() bool {
	return s == StatusPendiente || s == StatusConciliado || s == StatusManual
}

// MatchMethod identifies which strategy produced a reconciliation.
type MatchMethod string

const (
	MethodExacto          MatchMethod = "exacto"
	MethodReferencia      MatchMethod = "referencia"
	MethodAproximado      MatchMethod = "aproximado"
	MethodComplementoPPD  MatchMethod = "complemento_ppd"
	MethodHeuristica      MatchMethod = "heuristica"
	MethodPatronHistorico MatchMethod = "patron_historico"
	MethodManual          MatchMethod = "manual"
)

// String returns the string representation of MatchMethod.
func (m MatchMethod) String() string {
	return string(m)
}

// BankMovement is a single canonical movement produced by the normalizer from
// OCR-extracted statement rows. It is the unit the matching pipeline operates
// on; only the pipeline (auto) or an explicit manual assignment mutate its
// reconciliation fields.
type BankMovement struct {
	ID              string            `json:"id"`
	CompanyID       string            `json:"empresa_rfc"`
	StatementFileID string            `json:"archivo_id"`
	Date            time.Time         `json:"fecha"`
	Concept         string            `json:"concepto"`
	Amount          decimal.Decimal   `json:"monto"`
	Direction       MovementDirection `json:"tipo"`
	Reference       string            `json:"referencia,omitempty"`
	RunningBalance  *decimal.Decimal  `json:"saldo,omitempty"`

	Status           MovementStatus `json:"estado"`
	MatchedInvoiceID string         `json:"cfdi_uuid,omitempty"`
	Confidence       float64        `json:"nivel_confianza,omitempty"`
	MatchMethod      MatchMethod    `json:"metodo_conciliacion,omitempty"`
	Notes            string         `json:"notas,omitempty"`

	// Duplicate marks a row the normalizer identified as a repeat of an
	// earlier (date, amount, reference) triple in the same statement file.
	Duplicate bool `json:"duplicado,omitempty"`

	ReconciledAt *time.Time `json:"fecha_conciliacion,omitempty"`
}

// Validate performs basic validation on the BankMovement.
func (m *BankMovement) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("movement ID cannot be empty")
	}
	if strings.TrimSpace(m.CompanyID) == "" {
		return fmt.Errorf("movement company RFC cannot be empty")
	}
	if m.Date.IsZero() {
		return fmt.Errorf("movement date cannot be zero")
	}
	if m.Amount.IsZero() {
		return fmt.Errorf("movement amount cannot be zero")
	}
	if !m.Direction.IsValid() {
		return fmt.Errorf("invalid movement direction: %s", m.Direction)
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("invalid movement status: %s", m.Status)
	}
	return nil
}

// IsAssignable reports whether the automatic pipeline may assign this
// movement. MANUAL movements are locked against auto overwrite.
func (m *BankMovement) IsAssignable() bool {
	return m.Status == StatusPendiente
}

// AssignMatch marks the movement as reconciled against an invoice.
func (m *BankMovement) AssignMatch(invoiceUUID string, method MatchMethod, confidence float64, at time.Time) {
	m.Status = StatusConciliado
	m.MatchedInvoiceID = invoiceUUID
	m.MatchMethod = method
	m.Confidence = confidence
	m.ReconciledAt = &at
}

// ResetAssignment returns an auto-reconciled movement to PENDIENTE. It is a
// no-op for MANUAL movements, which only an explicit external request may
// reassess.
func (m *BankMovement) ResetAssignment() {
	if m.Status != StatusConciliado {
		return
	}
	m.Status = StatusPendiente
	m.MatchedInvoiceID = ""
	m.MatchMethod = ""
	m.Confidence = 0
	m.ReconciledAt = nil
}

// String returns a compact representation for logging.
func (m *BankMovement) String() string {
	return fmt.Sprintf("BankMovement{ID: %s, Fecha: %s, Monto: %s, Tipo: %s, Estado: %s}",
		m.ID, m.Date.Format("2006-01-02"), m.Amount.String(), m.Direction, m.Status)
}

// MarshalJSON renders amounts as strings to keep currency values exact on the
// wire.
func (m *BankMovement) MarshalJSON() ([]byte, error) {
	type Alias BankMovement
	aux := &struct {
		Amount string  `json:"monto"`
		Saldo  *string `json:"saldo,omitempty"`
		Date   string  `json:"fecha"`
		*Alias
	}{
		Amount: m.Amount.String(),
		Date:   m.Date.Format("2006-01-02"),
		Alias:  (*Alias)(m),
	}
	if m.RunningBalance != nil {
		s := m.RunningBalance.String()
		aux.Saldo = &s
	}
	return json.Marshal(aux)
}

// PaymentScheme distinguishes single-payment invoices from installment
// (deferred) invoices settled through payment complements.
type PaymentScheme string

const (
	// SchemePUE: pago en una sola exhibicion, settled in full at issuance.
	SchemePUE PaymentScheme = "PUE"
	// SchemePPD: pago en parcialidades o diferido, settled through linked
	// payment complements.
	SchemePPD PaymentScheme = "PPD"
)

// IsValid checks if the payment scheme is one of the known values.
func (p PaymentScheme) IsValid() bool {
	return p == SchemePUE || p == SchemePPD
}

// ComplementLink is one payment complement applied to a deferred (PPD)
// invoice. The parent invoice keeps its links in chronological order.
type ComplementLink struct {
	UUID        string          `json:"uuid"`
	Amount      decimal.Decimal `json:"importe_pagado"`
	PaymentDate time.Time       `json:"fecha_pago"`
}

// InvoiceRecord is a CFDI as supplied by the invoice store. Records are
// immutable within a run; consumption is tracked separately by the claim set,
// never by mutating the record.
type InvoiceRecord struct {
	UUID             string           `json:"uuid"`
	CompanyID        string           `json:"empresa_rfc"`
	Folio            string           `json:"folio,omitempty"`
	Serie            string           `json:"serie,omitempty"`
	IssueDate        time.Time        `json:"fecha"`
	Total            decimal.Decimal  `json:"total"`
	PaymentScheme    PaymentScheme    `json:"metodo_pago"`
	Complements      []ComplementLink `json:"complementos,omitempty"`
	CounterpartyID   string           `json:"rfc_contraparte"`
	CounterpartyName string           `json:"nombre_contraparte,omitempty"`
}

// Validate performs basic validation on the InvoiceRecord.
func (inv *InvoiceRecord) Validate() error {
	if strings.TrimSpace(inv.UUID) == "" {
		return fmt.Errorf("invoice UUID cannot be empty")
	}
	if strings.TrimSpace(inv.CompanyID) == "" {
		return fmt.Errorf("invoice company RFC cannot be empty")
	}
	if inv.IssueDate.IsZero() {
		return fmt.Errorf("invoice issue date cannot be zero")
	}
	if inv.Total.IsNegative() {
		return fmt.Errorf("invoice total cannot be negative")
	}
	if !inv.PaymentScheme.IsValid() {
		return fmt.Errorf("invalid payment scheme: %s", inv.PaymentScheme)
	}
	if inv.PaymentScheme == SchemePUE && len(inv.Complements) > 0 {
		return fmt.Errorf("single-payment invoice cannot carry payment complements")
	}
	return nil
}

// ComplementTotal sums the amounts of all linked payment complements.
func (inv *InvoiceRecord) ComplementTotal() decimal.Decimal {
	total := decimal.Zero
	for _, c := range inv.Complements {
		total = total.Add(c.Amount)
	}
	return total
}

// String returns a compact representation for logging.
func (inv *InvoiceRecord) String() string {
	return fmt.Sprintf("InvoiceRecord{UUID: %s, Fecha: %s, Total: %s, Metodo: %s}",
		inv.UUID, inv.IssueDate.Format("2006-01-02"), inv.Total.String(), inv.PaymentScheme)
}

// StatementFile is the metadata record of one ingested bank statement. The
// content hash is the per-company uniqueness key that rejects duplicate
// re-ingestion before any run is created.
type StatementFile struct {
	ID                string    `json:"id"`
	CompanyID         string    `json:"empresa_rfc"`
	Bank              string    `json:"banco"`
	PeriodStart       time.Time `json:"periodo_inicio"`
	PeriodEnd         time.Time `json:"periodo_fin"`
	ContentHash       string    `json:"hash_archivo"`
	ProcessingSuccess bool      `json:"procesado_exitosamente"`
	MovementCount     int       `json:"total_movimientos"`
	Errors            []string  `json:"errores,omitempty"`
	CreatedAt         time.Time `json:"fecha_creacion"`
}

// Validate performs basic validation on the StatementFile.
func (sf *StatementFile) Validate() error {
	if strings.TrimSpace(sf.CompanyID) == "" {
		return fmt.Errorf("statement file company RFC cannot be empty")
	}
	if strings.TrimSpace(sf.ContentHash) == "" {
		return fmt.Errorf("statement file content hash cannot be empty")
	}
	if !sf.PeriodEnd.IsZero() && !sf.PeriodStart.IsZero() && sf.PeriodEnd.Before(sf.PeriodStart) {
		return fmt.Errorf("statement period end %s precedes start %s",
			sf.PeriodEnd.Format("2006-01-02"), sf.PeriodStart.Format("2006-01-02"))
	}
	return nil
}

// RunStatus is the lifecycle state of a reconciliation run.
type RunStatus string

const (
	RunActive    RunStatus = "activa"
	RunCompleted RunStatus = "completada"
	RunFailed    RunStatus = "fallida"
)

// ReconciliationRun scopes one execution of the pipeline to a
// (company, month, year) triple. At most one active or completed run may
// exist per scope unless force-reprocess supersedes it.
type ReconciliationRun struct {
	ID              string          `json:"id"`
	CompanyID       string          `json:"empresa_rfc"`
	Month           int             `json:"mes"`
	Year            int             `json:"anio"`
	ToleranceAmount decimal.Decimal `json:"tolerancia_monto"`
	ToleranceDays   int             `json:"dias_tolerancia"`
	ForceReprocess  bool            `json:"forzar_reproceso"`
	Status          RunStatus       `json:"estado"`
	StartedAt       time.Time       `json:"fecha_inicio"`
	FinishedAt      *time.Time      `json:"fecha_fin,omitempty"`
	Stats           *RunStats       `json:"estadisticas,omitempty"`
}

// Scope returns the uniqueness key of the run.
func (r *ReconciliationRun) Scope() string {
	return fmt.Sprintf("%s/%04d-%02d", r.CompanyID, r.Year, r.Month)
}

// Validate performs basic validation on the ReconciliationRun.
func (r *ReconciliationRun) Validate() error {
	if strings.TrimSpace(r.CompanyID) == "" {
		return fmt.Errorf("run company RFC cannot be empty")
	}
	if r.Month < 1 || r.Month > 12 {
		return fmt.Errorf("run month must be between 1 and 12: %d", r.Month)
	}
	if r.Year < 2000 || r.Year > 2100 {
		return fmt.Errorf("run year out of range: %d", r.Year)
	}
	if r.ToleranceAmount.IsNegative() {
		return fmt.Errorf("tolerance amount cannot be negative: %s", r.ToleranceAmount)
	}
	if r.ToleranceDays < 0 {
		return fmt.Errorf("tolerance days cannot be negative: %d", r.ToleranceDays)
	}
	return nil
}

// RunStats is the aggregate snapshot computed by the report aggregator and
// persisted on the run for idempotent re-query.
type RunStats struct {
	TotalMovements         int                 `json:"total_movimientos"`
	TotalInvoices          int                 `json:"total_cfdis_periodo"`
	Conciliados            int                 `json:"movimientos_conciliados"`
	Pendientes             int                 `json:"movimientos_pendientes"`
	Manuales               int                 `json:"movimientos_manuales"`
	ByMethod               map[MatchMethod]int `json:"conciliados_por_metodo,omitempty"`
	PercentConciliado      float64             `json:"porcentaje_conciliacion"`
	AmountConciliado       decimal.Decimal     `json:"monto_total_conciliado"`
	AmountPendiente        decimal.Decimal     `json:"monto_total_pendiente"`
	AverageConfidence      float64             `json:"nivel_confianza_promedio"`
	AverageDaysToReconcile float64             `json:"dias_promedio_conciliacion"`
	ElapsedSeconds         float64             `json:"tiempo_total_segundos"`
}

// MatchSuggestion is an ephemeral candidate assignment retained for PENDING
// movements when no strategy accepted a match. It is produced per run and is
// not authoritative movement state.
type MatchSuggestion struct {
	MovementID     string          `json:"movimiento_id"`
	InvoiceUUID    string          `json:"cfdi_uuid"`
	Confidence     float64         `json:"nivel_confianza"`
	Reason         MatchMethod     `json:"razon"`
	AmountDiff     decimal.Decimal `json:"diferencia_monto"`
	DaysDiff       int             `json:"diferencia_dias"`
	TextSimilarity float64         `json:"similitud_concepto"`
}

// AlertType enumerates the post-run anomaly classes.
type AlertType string

const (
	AlertDescuadreMayor        AlertType = "DESCUADRE_MAYOR"
	AlertMovimientosDuplicados AlertType = "MOVIMIENTOS_DUPLICADOS"
	AlertReferenciasFaltantes  AlertType = "REFERENCIAS_FALTANTES"
	AlertFechasInconsistentes  AlertType = "FECHAS_INCONSISTENTES"
)

// AlertSeverity grades an alert for triage.
type AlertSeverity string

const (
	SeverityAlta  AlertSeverity = "alta"
	SeverityMedia AlertSeverity = "media"
	SeverityBaja  AlertSeverity = "baja"
)

// CriticalAlert is a computed post-run anomaly. Alerts are derived from the
// final movement set and are not persisted as movement state.
type CriticalAlert struct {
	Type              AlertType       `json:"tipo"`
	Message           string          `json:"mensaje"`
	Severity          AlertSeverity   `json:"gravedad"`
	AffectedCount     int             `json:"movimientos_afectados"`
	TotalAmount       decimal.Decimal `json:"monto_total,omitempty"`
	RecommendedAction string          `json:"accion_recomendada"`
}
