package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
	"cfdi-reconciler/pkg/errors"
)

// SQLiteStore is the durable Store implementation used by the service
// deployment. Amounts are persisted as exact decimal strings, dates as
// RFC 3339 strings, and complement links as a JSON column on the invoice row.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS movements (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	statement_file_id TEXT NOT NULL,
	date              TEXT NOT NULL,
	concept           TEXT NOT NULL DEFAULT '',
	amount            TEXT NOT NULL,
	direction         TEXT NOT NULL,
	reference         TEXT NOT NULL DEFAULT '',
	running_balance   TEXT,
	status            TEXT NOT NULL,
	matched_invoice   TEXT NOT NULL DEFAULT '',
	confidence        REAL NOT NULL DEFAULT 0,
	match_method      TEXT NOT NULL DEFAULT '',
	notes             TEXT NOT NULL DEFAULT '',
	duplicate         INTEGER NOT NULL DEFAULT 0,
	reconciled_at     TEXT
);
CREATE INDEX IF NOT EXISTS idx_movements_company_date ON movements(company_id, date);
CREATE INDEX IF NOT EXISTS idx_movements_status ON movements(company_id, status);

CREATE TABLE IF NOT EXISTS invoices (
	uuid              TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	folio             TEXT NOT NULL DEFAULT '',
	serie             TEXT NOT NULL DEFAULT '',
	issue_date        TEXT NOT NULL,
	total             TEXT NOT NULL,
	payment_scheme    TEXT NOT NULL,
	complements       TEXT NOT NULL DEFAULT '[]',
	counterparty_id   TEXT NOT NULL DEFAULT '',
	counterparty_name TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_invoices_company_date ON invoices(company_id, issue_date);

CREATE TABLE IF NOT EXISTS runs (
	scope            TEXT PRIMARY KEY,
	id               TEXT NOT NULL,
	company_id       TEXT NOT NULL,
	month            INTEGER NOT NULL,
	year             INTEGER NOT NULL,
	tolerance_amount TEXT NOT NULL,
	tolerance_days   INTEGER NOT NULL,
	force_reprocess  INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	started_at       TEXT NOT NULL,
	finished_at      TEXT,
	stats            TEXT
);

CREATE TABLE IF NOT EXISTS statement_files (
	id             TEXT PRIMARY KEY,
	company_id     TEXT NOT NULL,
	bank           TEXT NOT NULL DEFAULT '',
	period_start   TEXT,
	period_end     TEXT,
	content_hash   TEXT NOT NULL,
	success        INTEGER NOT NULL DEFAULT 0,
	movement_count INTEGER NOT NULL DEFAULT 0,
	errors         TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL,
	UNIQUE(company_id, content_hash)
);
`

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.NewStorageError("failed to open database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.NewStorageError("failed to initialize schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	sqliteErr, ok := err.(sqlite3.Error)
	if !ok {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) SaveMovements(ctx context.Context, movements []*models.BankMovement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO movements
		(id, company_id, statement_file_id, date, concept, amount, direction,
		 reference, running_balance, status, matched_invoice, confidence,
		 match_method, notes, duplicate, reconciled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewStorageError("failed to prepare movement insert", err)
	}
	defer stmt.Close()

	for _, m := range movements {
		if err := m.Validate(); err != nil {
			return errors.NewValidationError(errors.CodeInvalidMovement, err.Error())
		}
		var balance interface{}
		if m.RunningBalance != nil {
			balance = m.RunningBalance.String()
		}
		_, err := stmt.ExecContext(ctx,
			m.ID, m.CompanyID, m.StatementFileID, m.Date.Format(time.RFC3339),
			m.Concept, m.Amount.String(), string(m.Direction), m.Reference,
			balance, string(m.Status), m.MatchedInvoiceID, m.Confidence,
			string(m.MatchMethod), m.Notes, boolToInt(m.Duplicate),
			formatTimePtr(m.ReconciledAt))
		if err != nil {
			return errors.NewStorageError("failed to insert movement", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("failed to commit movements", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateMovement(ctx context.Context, m *models.BankMovement) error {
	var balance interface{}
	if m.RunningBalance != nil {
		balance = m.RunningBalance.String()
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE movements SET
			date = ?, concept = ?, amount = ?, direction = ?, reference = ?,
			running_balance = ?, status = ?, matched_invoice = ?, confidence = ?,
			match_method = ?, notes = ?, duplicate = ?, reconciled_at = ?
		WHERE id = ?`,
		m.Date.Format(time.RFC3339), m.Concept, m.Amount.String(),
		string(m.Direction), m.Reference, balance, string(m.Status),
		m.MatchedInvoiceID, m.Confidence, string(m.MatchMethod), m.Notes,
		boolToInt(m.Duplicate), formatTimePtr(m.ReconciledAt), m.ID)
	if err != nil {
		return errors.NewStorageError("failed to update movement", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStorageError("failed to read update result", err)
	}
	if affected == 0 {
		return errors.NewNotFoundError(errors.CodeMovementNotFound,
			fmt.Sprintf("movement %s not found", m.ID))
	}
	return nil
}

const movementColumns = `id, company_id, statement_file_id, date, concept, amount,
	direction, reference, running_balance, status, matched_invoice, confidence,
	match_method, notes, duplicate, reconciled_at`

func scanMovement(scanner interface{ Scan(...interface{}) error }) (*models.BankMovement, error) {
	var m models.BankMovement
	var date string
	var amount string
	var balance, reconciledAt sql.NullString
	var duplicate int

	err := scanner.Scan(&m.ID, &m.CompanyID, &m.StatementFileID, &date,
		&m.Concept, &amount, (*string)(&m.Direction), &m.Reference, &balance,
		(*string)(&m.Status), &m.MatchedInvoiceID, &m.Confidence,
		(*string)(&m.MatchMethod), &m.Notes, &duplicate, &reconciledAt)
	if err != nil {
		return nil, err
	}

	if m.Date, err = time.Parse(time.RFC3339, date); err != nil {
		return nil, fmt.Errorf("corrupt movement date %q: %w", date, err)
	}
	if m.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt movement amount %q: %w", amount, err)
	}
	if balance.Valid && balance.String != "" {
		b, err := decimal.NewFromString(balance.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt running balance %q: %w", balance.String, err)
		}
		m.RunningBalance = &b
	}
	m.Duplicate = duplicate != 0
	if m.ReconciledAt, err = parseTimePtr(reconciledAt); err != nil {
		return nil, fmt.Errorf("corrupt reconciliation timestamp: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) MovementByID(ctx context.Context, id string) (*models.BankMovement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE id = ?`, id)
	movement, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeMovementNotFound,
			fmt.Sprintf("movement %s not found", id))
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to load movement", err)
	}
	return movement, nil
}

func (s *SQLiteStore) queryMovementRows(ctx context.Context, query string, args ...interface{}) ([]*models.BankMovement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("failed to query movements", err)
	}
	defer rows.Close()

	var result []*models.BankMovement
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, errors.NewStorageError("failed to scan movement", err)
		}
		result = append(result, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("movement iteration failed", err)
	}
	return result, nil
}

func (s *SQLiteStore) MovementsByPeriod(ctx context.Context, companyID string, from, to time.Time) ([]*models.BankMovement, error) {
	return s.queryMovementRows(ctx,
		`SELECT `+movementColumns+` FROM movements
		 WHERE company_id = ? AND date >= ? AND date <= ?
		 ORDER BY date, id`,
		companyID, from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (s *SQLiteStore) ManualMovements(ctx context.Context, companyID string) ([]*models.BankMovement, error) {
	return s.queryMovementRows(ctx,
		`SELECT `+movementColumns+` FROM movements
		 WHERE company_id = ? AND status = ?
		 ORDER BY date, id`,
		companyID, string(models.StatusManual))
}

func (s *SQLiteStore) QueryMovements(ctx context.Context, filter MovementFilter) ([]*models.BankMovement, int, error) {
	var conditions []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		conditions = append(conditions, cond)
		args = append(args, arg)
	}
	if filter.CompanyID != "" {
		add("company_id = ?", filter.CompanyID)
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.Direction != "" {
		add("direction = ?", string(filter.Direction))
	}
	if filter.DateFrom != nil {
		add("date >= ?", filter.DateFrom.Format(time.RFC3339))
	}
	if filter.DateTo != nil {
		add("date <= ?", filter.DateTo.Format(time.RFC3339))
	}
	if filter.AmountMin != nil {
		add("CAST(amount AS REAL) >= ?", mustFloat(*filter.AmountMin))
	}
	if filter.AmountMax != nil {
		add("CAST(amount AS REAL) <= ?", mustFloat(*filter.AmountMax))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewStorageError("failed to count movements", err)
	}

	query := `SELECT ` + movementColumns + ` FROM movements` + where + ` ORDER BY date, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", filter.Offset)
	}

	movements, err := s.queryMovementRows(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) SaveInvoices(ctx context.Context, invoices []*models.InvoiceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO invoices
		(uuid, company_id, folio, serie, issue_date, total, payment_scheme,
		 complements, counterparty_id, counterparty_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewStorageError("failed to prepare invoice insert", err)
	}
	defer stmt.Close()

	for _, invoice := range invoices {
		if err := invoice.Validate(); err != nil {
			return errors.NewValidationError(errors.CodeInvalidInvoice, err.Error())
		}
		complements, err := json.Marshal(invoice.Complements)
		if err != nil {
			return errors.NewStorageError("failed to encode complements", err)
		}
		_, err = stmt.ExecContext(ctx,
			strings.ToLower(invoice.UUID), invoice.CompanyID, invoice.Folio,
			invoice.Serie, invoice.IssueDate.Format(time.RFC3339),
			invoice.Total.String(), string(invoice.PaymentScheme),
			string(complements), invoice.CounterpartyID, invoice.CounterpartyName)
		if err != nil {
			return errors.NewStorageError("failed to insert invoice", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("failed to commit invoices", err)
	}
	return nil
}

func scanInvoice(scanner interface{ Scan(...interface{}) error }) (*models.InvoiceRecord, error) {
	var inv models.InvoiceRecord
	var issueDate, total, complements string

	err := scanner.Scan(&inv.UUID, &inv.CompanyID, &inv.Folio, &inv.Serie,
		&issueDate, &total, (*string)(&inv.PaymentScheme), &complements,
		&inv.CounterpartyID, &inv.CounterpartyName)
	if err != nil {
		return nil, err
	}

	if inv.IssueDate, err = time.Parse(time.RFC3339, issueDate); err != nil {
		return nil, fmt.Errorf("corrupt invoice date %q: %w", issueDate, err)
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("corrupt invoice total %q: %w", total, err)
	}
	if err := json.Unmarshal([]byte(complements), &inv.Complements); err != nil {
		return nil, fmt.Errorf("corrupt complement links: %w", err)
	}
	return &inv, nil
}

const invoiceColumns = `uuid, company_id, folio, serie, issue_date, total,
	payment_scheme, complements, counterparty_id, counterparty_name`

func (s *SQLiteStore) InvoiceByUUID(ctx context.Context, uuid string) (*models.InvoiceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE uuid = ?`,
		strings.ToLower(uuid))
	invoice, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeInvoiceNotFound,
			fmt.Sprintf("invoice %s not found", uuid))
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to load invoice", err)
	}
	return invoice, nil
}

func (s *SQLiteStore) InvoicesByPeriod(ctx context.Context, companyID string, from, to time.Time) ([]*models.InvoiceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE company_id = ? AND issue_date >= ? AND issue_date <= ?
		 ORDER BY issue_date, uuid`,
		companyID, from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return nil, errors.NewStorageError("failed to query invoices", err)
	}
	defer rows.Close()

	var result []*models.InvoiceRecord
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, errors.NewStorageError("failed to scan invoice", err)
		}
		result = append(result, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("invoice iteration failed", err)
	}
	return result, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ReconciliationRun, force bool) error {
	if err := run.Validate(); err != nil {
		return errors.NewValidationError(errors.CodeInvalidRequest, err.Error())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM runs WHERE scope = ?`, run.Scope()).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
		// Scope free.
	case err != nil:
		return errors.NewStorageError("failed to check run scope", err)
	case status == string(models.RunActive):
		return errors.NewRunInProgressError(run.Scope())
	// A failed prior run leaves the scope free so a retry needs no force.
	case status == string(models.RunCompleted) && !force:
		return errors.NewConflictError(errors.CodeRunInProgress,
			fmt.Sprintf("a completed run already exists for %s", run.Scope())).
			WithContext("scope", run.Scope()).
			WithSuggestion("Repeat the request with forzar_reproceso to supersede the prior run")
	}

	stats, err := encodeStats(run.Stats)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(scope, id, company_id, month, year, tolerance_amount, tolerance_days,
		 force_reprocess, status, started_at, finished_at, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Scope(), run.ID, run.CompanyID, run.Month, run.Year,
		run.ToleranceAmount.String(), run.ToleranceDays,
		boolToInt(run.ForceReprocess), string(run.Status),
		run.StartedAt.Format(time.RFC3339), formatTimePtr(run.FinishedAt), stats)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewRunInProgressError(run.Scope())
		}
		return errors.NewStorageError("failed to create run", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("failed to commit run", err)
	}
	return nil
}

func encodeStats(stats *models.RunStats) (interface{}, error) {
	if stats == nil {
		return nil, nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, errors.NewStorageError("failed to encode run stats", err)
	}
	return string(data), nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.ReconciliationRun) error {
	stats, err := encodeStats(run.Stats)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET id = ?, tolerance_amount = ?, tolerance_days = ?,
			force_reprocess = ?, status = ?, started_at = ?, finished_at = ?, stats = ?
		WHERE scope = ?`,
		run.ID, run.ToleranceAmount.String(), run.ToleranceDays,
		boolToInt(run.ForceReprocess), string(run.Status),
		run.StartedAt.Format(time.RFC3339), formatTimePtr(run.FinishedAt),
		stats, run.Scope())
	if err != nil {
		return errors.NewStorageError("failed to update run", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStorageError("failed to read update result", err)
	}
	if affected == 0 {
		return errors.NewNotFoundError(errors.CodeRunNotFound,
			fmt.Sprintf("run for %s not found", run.Scope()))
	}
	return nil
}

func scanRun(scanner interface{ Scan(...interface{}) error }) (*models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	var scope, tolerance, startedAt string
	var force int
	var finishedAt, stats sql.NullString

	err := scanner.Scan(&scope, &run.ID, &run.CompanyID, &run.Month, &run.Year,
		&tolerance, &run.ToleranceDays, &force, (*string)(&run.Status),
		&startedAt, &finishedAt, &stats)
	if err != nil {
		return nil, err
	}

	if run.ToleranceAmount, err = decimal.NewFromString(tolerance); err != nil {
		return nil, fmt.Errorf("corrupt tolerance amount %q: %w", tolerance, err)
	}
	run.ForceReprocess = force != 0
	if run.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("corrupt run start time %q: %w", startedAt, err)
	}
	if run.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, fmt.Errorf("corrupt run finish time: %w", err)
	}
	if stats.Valid && stats.String != "" {
		run.Stats = &models.RunStats{}
		if err := json.Unmarshal([]byte(stats.String), run.Stats); err != nil {
			return nil, fmt.Errorf("corrupt run stats: %w", err)
		}
	}
	return &run, nil
}

const runColumns = `scope, id, company_id, month, year, tolerance_amount,
	tolerance_days, force_reprocess, status, started_at, finished_at, stats`

func (s *SQLiteStore) RunByScope(ctx context.Context, companyID string, month, year int) (*models.ReconciliationRun, error) {
	scope := fmt.Sprintf("%s/%04d-%02d", companyID, year, month)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE scope = ?`, scope)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeRunNotFound,
			fmt.Sprintf("no run found for %s", scope))
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to load run", err)
	}
	return run, nil
}

func (s *SQLiteStore) RunsByCompany(ctx context.Context, companyID string) ([]*models.ReconciliationRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE company_id = ? ORDER BY started_at DESC`,
		companyID)
	if err != nil {
		return nil, errors.NewStorageError("failed to query runs", err)
	}
	defer rows.Close()

	var result []*models.ReconciliationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.NewStorageError("failed to scan run", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("run iteration failed", err)
	}
	return result, nil
}

func (s *SQLiteStore) SaveStatementFile(ctx context.Context, file *models.StatementFile) error {
	if err := file.Validate(); err != nil {
		return errors.NewValidationError(errors.CodeInvalidRequest, err.Error())
	}
	fileErrors, err := json.Marshal(file.Errors)
	if err != nil {
		return errors.NewStorageError("failed to encode file errors", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO statement_files
		(id, company_id, bank, period_start, period_end, content_hash, success,
		 movement_count, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.CompanyID, file.Bank,
		file.PeriodStart.Format(time.RFC3339), file.PeriodEnd.Format(time.RFC3339),
		file.ContentHash, boolToInt(file.ProcessingSuccess), file.MovementCount,
		string(fileErrors), file.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewDuplicateFileError(file.ContentHash)
		}
		return errors.NewStorageError("failed to insert statement file", err)
	}
	return nil
}

func scanStatementFile(scanner interface{ Scan(...interface{}) error }) (*models.StatementFile, error) {
	var file models.StatementFile
	var periodStart, periodEnd, createdAt, fileErrors string
	var success int

	err := scanner.Scan(&file.ID, &file.CompanyID, &file.Bank, &periodStart,
		&periodEnd, &file.ContentHash, &success, &file.MovementCount,
		&fileErrors, &createdAt)
	if err != nil {
		return nil, err
	}

	if file.PeriodStart, err = time.Parse(time.RFC3339, periodStart); err != nil {
		return nil, fmt.Errorf("corrupt period start %q: %w", periodStart, err)
	}
	if file.PeriodEnd, err = time.Parse(time.RFC3339, periodEnd); err != nil {
		return nil, fmt.Errorf("corrupt period end %q: %w", periodEnd, err)
	}
	if file.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt creation time %q: %w", createdAt, err)
	}
	file.ProcessingSuccess = success != 0
	if err := json.Unmarshal([]byte(fileErrors), &file.Errors); err != nil {
		return nil, fmt.Errorf("corrupt file errors: %w", err)
	}
	return &file, nil
}

const fileColumns = `id, company_id, bank, period_start, period_end,
	content_hash, success, movement_count, errors, created_at`

func (s *SQLiteStore) StatementFileByID(ctx context.Context, id string) (*models.StatementFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM statement_files WHERE id = ?`, id)
	file, err := scanStatementFile(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(errors.CodeRunNotFound,
			fmt.Sprintf("statement file %s not found", id))
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to load statement file", err)
	}
	return file, nil
}

func (s *SQLiteStore) StatementFilesByCompany(ctx context.Context, companyID string) ([]*models.StatementFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM statement_files
		 WHERE company_id = ? ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, errors.NewStorageError("failed to query statement files", err)
	}
	defer rows.Close()

	var result []*models.StatementFile
	for rows.Next() {
		file, err := scanStatementFile(rows)
		if err != nil {
			return nil, errors.NewStorageError("failed to scan statement file", err)
		}
		result = append(result, file)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("statement file iteration failed", err)
	}
	return result, nil
}
