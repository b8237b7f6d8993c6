// Package storage defines the persistence contracts of the reconciliation
// engine and provides two implementations: an in-memory store for tests and
// single-shot CLI runs, and a SQLite store for the service deployment.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
)

// MovementFilter selects movements for queries. Nil/zero fields are ignored.
type MovementFilter struct {
	CompanyID string
	Status    models.MovementStatus
	Direction models.MovementDirection
	DateFrom  *time.Time
	DateTo    *time.Time
	AmountMin *decimal.Decimal
	AmountMax *decimal.Decimal
	Limit     int
	Offset    int
}

// MovementStore persists bank movements and their reconciliation state.
type MovementStore interface {
	SaveMovements(ctx context.Context, movements []*models.BankMovement) error
	UpdateMovement(ctx context.Context, movement *models.BankMovement) error
	MovementByID(ctx context.Context, id string) (*models.BankMovement, error)
	// MovementsByPeriod returns the company's movements dated in [from, to],
	// ordered by date then id.
	MovementsByPeriod(ctx context.Context, companyID string, from, to time.Time) ([]*models.BankMovement, error)
	// ManualMovements returns every MANUAL movement of the company, across
	// all periods, for historical-pattern mining.
	ManualMovements(ctx context.Context, companyID string) ([]*models.BankMovement, error)
	// QueryMovements returns a page of movements matching the filter plus the
	// total count before pagination.
	QueryMovements(ctx context.Context, filter MovementFilter) ([]*models.BankMovement, int, error)
}

// InvoiceStore supplies the company's CFDI records.
type InvoiceStore interface {
	SaveInvoices(ctx context.Context, invoices []*models.InvoiceRecord) error
	InvoiceByUUID(ctx context.Context, uuid string) (*models.InvoiceRecord, error)
	// InvoicesByPeriod returns the company's invoices issued in [from, to],
	// ordered by issue date then UUID.
	InvoicesByPeriod(ctx context.Context, companyID string, from, to time.Time) ([]*models.InvoiceRecord, error)
}

// RunStore owns the run-scope uniqueness invariant. CreateRun must be an
// atomic create-if-absent on (companyId, year, month).
type RunStore interface {
	// CreateRun registers a new run. It fails with a conflict error when the
	// scope already holds an active run, or holds a completed run and
	// force is false. With force, a finished prior run is superseded.
	CreateRun(ctx context.Context, run *models.ReconciliationRun, force bool) error
	UpdateRun(ctx context.Context, run *models.ReconciliationRun) error
	RunByScope(ctx context.Context, companyID string, month, year int) (*models.ReconciliationRun, error)
	RunsByCompany(ctx context.Context, companyID string) ([]*models.ReconciliationRun, error)
}

// StatementFileStore persists statement metadata and enforces per-company
// content-hash uniqueness.
type StatementFileStore interface {
	// SaveStatementFile stores the file metadata. It fails with a duplicate
	// error when the company already ingested a file with the same hash.
	SaveStatementFile(ctx context.Context, file *models.StatementFile) error
	StatementFileByID(ctx context.Context, id string) (*models.StatementFile, error)
	StatementFilesByCompany(ctx context.Context, companyID string) ([]*models.StatementFile, error)
}

// Store bundles the four persistence contracts.
type Store interface {
	MovementStore
	InvoiceStore
	RunStore
	StatementFileStore
}
