// Package normalizer converts raw statement rows, as extracted by OCR or CSV
// export, into canonical BankMovement values. Row-level failures are collected
// rather than aborting the file: a statement with a handful of unreadable rows
// still yields every movement that could be parsed.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
	"cfdi-reconciler/pkg/errors"
	"cfdi-reconciler/pkg/logger"
)

// RawMovement is one statement row before canonicalization. All fields are
// strings exactly as extracted; banks disagree on date layout, amount
// formatting and whether charges and credits share a column or come split.
type RawMovement struct {
	Fecha      string `json:"fecha"`
	Concepto   string `json:"concepto"`
	Monto      string `json:"monto,omitempty"`
	Cargo      string `json:"cargo,omitempty"`
	Abono      string `json:"abono,omitempty"`
	Referencia string `json:"referencia,omitempty"`
	Saldo      string `json:"saldo,omitempty"`
}

// RowError records a row that could not be normalized, with its 1-based
// position in the source file.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

// Result is the outcome of normalizing one statement file.
type Result struct {
	Movements []*models.BankMovement
	RowErrors []RowError
	// Duplicates counts movements flagged as repeats of an earlier
	// (date, amount, reference) triple within the same file.
	Duplicates int
}

// Normalizer canonicalizes raw statement rows.
type Normalizer struct {
	logger logger.Logger
}

// New creates a Normalizer.
func New(log logger.Logger) *Normalizer {
	if log == nil {
		log = logger.Global()
	}
	return &Normalizer{logger: log.WithComponent("normalizer")}
}

// Normalize converts rows into BankMovements owned by the given company and
// statement file. It never returns an error for bad rows; those are reported
// in Result.RowErrors. It fails only when the file yields no movements at all.
func (n *Normalizer) Normalize(companyID, fileID string, rows []RawMovement) (*Result, error) {
	result := &Result{}
	seen := make(map[string]bool, len(rows))

	for i, row := range rows {
		movement, err := n.normalizeRow(companyID, fileID, row)
		if err != nil {
			result.RowErrors = append(result.RowErrors, RowError{Row: i + 1, Err: err})
			continue
		}

		key := duplicateKey(movement)
		if seen[key] {
			movement.Duplicate = true
			result.Duplicates++
		}
		seen[key] = true

		result.Movements = append(result.Movements, movement)
	}

	n.logger.WithFields(logger.Fields{
		"file_id":    fileID,
		"rows":       len(rows),
		"movements":  len(result.Movements),
		"row_errors": len(result.RowErrors),
		"duplicates": result.Duplicates,
	}).Info("Statement normalized")

	if len(rows) > 0 && len(result.Movements) == 0 {
		return result, errors.NewIngestionError(errors.CodeEmptyFile,
			"no movement could be extracted from the statement", nil).
			WithContext("row_errors", len(result.RowErrors))
	}
	return result, nil
}

func (n *Normalizer) normalizeRow(companyID, fileID string, row RawMovement) (*models.BankMovement, error) {
	date, err := models.ParseMovementDate(row.Fecha)
	if err != nil {
		return nil, errors.NewIngestionError(errors.CodeRowParsing, "unparseable date", err).
			WithContext("fecha", row.Fecha)
	}

	amount, direction, err := resolveAmount(row)
	if err != nil {
		return nil, err
	}

	movement := &models.BankMovement{
		ID:              uuid.NewString(),
		CompanyID:       companyID,
		StatementFileID: fileID,
		Date:            date,
		Concept:         strings.TrimSpace(row.Concepto),
		Amount:          amount,
		Direction:       direction,
		Reference:       strings.TrimSpace(row.Referencia),
		Status:          models.StatusPendiente,
	}

	if strings.TrimSpace(row.Saldo) != "" {
		if balance, err := models.ParseAmount(row.Saldo); err == nil {
			movement.RunningBalance = &balance
		}
	}

	if err := movement.Validate(); err != nil {
		return nil, errors.NewIngestionError(errors.CodeRowParsing, "invalid movement", err)
	}
	return movement, nil
}

// resolveAmount determines the movement amount and direction. Split
// cargo/abono columns win over a single signed monto column; a negative monto
// means a charge.
func resolveAmount(row RawMovement) (amount decimal.Decimal, direction models.MovementDirection, err error) {
	cargo := strings.TrimSpace(row.Cargo)
	abono := strings.TrimSpace(row.Abono)

	switch {
	case cargo != "" && abono != "":
		return amount, "", errors.NewIngestionError(errors.CodeRowParsing,
			"row carries both cargo and abono amounts", nil)
	case cargo != "":
		amount, err = parsePositive(cargo)
		return amount, models.DirectionCargo, err
	case abono != "":
		amount, err = parsePositive(abono)
		return amount, models.DirectionAbono, err
	}

	amount, perr := models.ParseAmount(row.Monto)
	if perr != nil {
		return amount, "", errors.NewIngestionError(errors.CodeRowParsing, "unparseable amount", perr).
			WithContext("monto", row.Monto)
	}
	if amount.IsNegative() {
		return amount.Neg(), models.DirectionCargo, nil
	}
	return amount, models.DirectionAbono, nil
}

func parsePositive(raw string) (decimal.Decimal, error) {
	amount, err := models.ParseAmount(raw)
	if err != nil {
		return amount, errors.NewIngestionError(errors.CodeRowParsing, "unparseable amount", err).
			WithContext("monto", raw)
	}
	if amount.IsNegative() {
		amount = amount.Neg()
	}
	return amount, nil
}

// duplicateKey builds the (date, amount, reference) identity used to flag
// repeated rows within a file.
func duplicateKey(m *models.BankMovement) string {
	return m.Date.Format("2006-01-02") + "|" + m.Amount.String() + "|" + m.Reference
}

// HashContent returns the SHA-256 hex digest of a statement file's bytes.
// It is the uniqueness key that rejects re-ingestion of the same export.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
