package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cfdi-reconciler/internal/models"
	"cfdi-reconciler/pkg/errors"
)

// MemoryStore is an in-memory Store implementation. It is safe for concurrent
// use and backs tests and single-shot CLI reconciliations.
type MemoryStore struct {
	mu        sync.RWMutex
	movements map[string]*models.BankMovement
	invoices  map[string]*models.InvoiceRecord
	runs      map[string]*models.ReconciliationRun // keyed by scope
	files     map[string]*models.StatementFile
	hashes    map[string]string // companyID|hash -> file id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		movements: make(map[string]*models.BankMovement),
		invoices:  make(map[string]*models.InvoiceRecord),
		runs:      make(map[string]*models.ReconciliationRun),
		files:     make(map[string]*models.StatementFile),
		hashes:    make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) SaveMovements(_ context.Context, movements []*models.BankMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, movement := range movements {
		if err := movement.Validate(); err != nil {
			return errors.NewValidationError(errors.CodeInvalidMovement, err.Error())
		}
		clone := *movement
		s.movements[movement.ID] = &clone
	}
	return nil
}

func (s *MemoryStore) UpdateMovement(_ context.Context, movement *models.BankMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.movements[movement.ID]; !ok {
		return errors.NewNotFoundError(errors.CodeMovementNotFound,
			fmt.Sprintf("movement %s not found", movement.ID))
	}
	clone := *movement
	s.movements[movement.ID] = &clone
	return nil
}

func (s *MemoryStore) MovementByID(_ context.Context, id string) (*models.BankMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	movement, ok := s.movements[id]
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeMovementNotFound,
			fmt.Sprintf("movement %s not found", id))
	}
	clone := *movement
	return &clone, nil
}

func (s *MemoryStore) MovementsByPeriod(_ context.Context, companyID string, from, to time.Time) ([]*models.BankMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.BankMovement
	for _, movement := range s.movements {
		if movement.CompanyID != companyID {
			continue
		}
		if movement.Date.Before(from) || movement.Date.After(to) {
			continue
		}
		clone := *movement
		result = append(result, &clone)
	}
	sortMovements(result)
	return result, nil
}

func (s *MemoryStore) ManualMovements(_ context.Context, companyID string) ([]*models.BankMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.BankMovement
	for _, movement := range s.movements {
		if movement.CompanyID == companyID && movement.Status == models.StatusManual {
			clone := *movement
			result = append(result, &clone)
		}
	}
	sortMovements(result)
	return result, nil
}

func (s *MemoryStore) QueryMovements(_ context.Context, filter MovementFilter) ([]*models.BankMovement, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.BankMovement
	for _, movement := range s.movements {
		if !matchesFilter(movement, filter) {
			continue
		}
		clone := *movement
		matched = append(matched, &clone)
	}
	sortMovements(matched)

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func matchesFilter(m *models.BankMovement, f MovementFilter) bool {
	if f.CompanyID != "" && m.CompanyID != f.CompanyID {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Direction != "" && m.Direction != f.Direction {
		return false
	}
	if f.DateFrom != nil && m.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && m.Date.After(*f.DateTo) {
		return false
	}
	if f.AmountMin != nil && m.Amount.LessThan(*f.AmountMin) {
		return false
	}
	if f.AmountMax != nil && m.Amount.GreaterThan(*f.AmountMax) {
		return false
	}
	return true
}

func sortMovements(movements []*models.BankMovement) {
	sort.Slice(movements, func(i, j int) bool {
		if !movements[i].Date.Equal(movements[j].Date) {
			return movements[i].Date.Before(movements[j].Date)
		}
		return movements[i].ID < movements[j].ID
	})
}

func (s *MemoryStore) SaveInvoices(_ context.Context, invoices []*models.InvoiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, invoice := range invoices {
		if err := invoice.Validate(); err != nil {
			return errors.NewValidationError(errors.CodeInvalidInvoice, err.Error())
		}
		clone := *invoice
		s.invoices[strings.ToLower(invoice.UUID)] = &clone
	}
	return nil
}

func (s *MemoryStore) InvoiceByUUID(_ context.Context, uuid string) (*models.InvoiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	invoice, ok := s.invoices[strings.ToLower(uuid)]
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeInvoiceNotFound,
			fmt.Sprintf("invoice %s not found", uuid))
	}
	clone := *invoice
	return &clone, nil
}

func (s *MemoryStore) InvoicesByPeriod(_ context.Context, companyID string, from, to time.Time) ([]*models.InvoiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.InvoiceRecord
	for _, invoice := range s.invoices {
		if !strings.EqualFold(invoice.CompanyID, companyID) {
			continue
		}
		if invoice.IssueDate.Before(from) || invoice.IssueDate.After(to) {
			continue
		}
		clone := *invoice
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].IssueDate.Equal(result[j].IssueDate) {
			return result[i].IssueDate.Before(result[j].IssueDate)
		}
		return result[i].UUID < result[j].UUID
	})
	return result, nil
}

func scopeKey(companyID string, month, year int) string {
	return fmt.Sprintf("%s/%04d-%02d", companyID, year, month)
}

func (s *MemoryStore) CreateRun(_ context.Context, run *models.ReconciliationRun, force bool) error {
	if err := run.Validate(); err != nil {
		return errors.NewValidationError(errors.CodeInvalidRequest, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopeKey(run.CompanyID, run.Month, run.Year)
	if existing, ok := s.runs[key]; ok {
		if existing.Status == models.RunActive {
			return errors.NewRunInProgressError(existing.Scope())
		}
		// A failed prior run leaves the scope free so a retry needs no force.
		if existing.Status == models.RunCompleted && !force {
			return errors.NewConflictError(errors.CodeRunInProgress,
				fmt.Sprintf("a completed run already exists for %s", existing.Scope())).
				WithContext("scope", existing.Scope()).
				WithSuggestion("Repeat the request with forzar_reproceso to supersede the prior run")
		}
	}
	clone := *run
	s.runs[key] = &clone
	return nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run *models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopeKey(run.CompanyID, run.Month, run.Year)
	if _, ok := s.runs[key]; !ok {
		return errors.NewNotFoundError(errors.CodeRunNotFound,
			fmt.Sprintf("run for %s not found", run.Scope()))
	}
	clone := *run
	s.runs[key] = &clone
	return nil
}

func (s *MemoryStore) RunByScope(_ context.Context, companyID string, month, year int) (*models.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[scopeKey(companyID, month, year)]
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeRunNotFound,
			fmt.Sprintf("no run found for %s", scopeKey(companyID, month, year)))
	}
	clone := *run
	return &clone, nil
}

func (s *MemoryStore) RunsByCompany(_ context.Context, companyID string) ([]*models.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.ReconciliationRun
	for _, run := range s.runs {
		if run.CompanyID == companyID {
			clone := *run
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

func (s *MemoryStore) SaveStatementFile(_ context.Context, file *models.StatementFile) error {
	if err := file.Validate(); err != nil {
		return errors.NewValidationError(errors.CodeInvalidRequest, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hashKey := file.CompanyID + "|" + file.ContentHash
	if _, ok := s.hashes[hashKey]; ok {
		return errors.NewDuplicateFileError(file.ContentHash)
	}
	clone := *file
	s.files[file.ID] = &clone
	s.hashes[hashKey] = file.ID
	return nil
}

func (s *MemoryStore) StatementFileByID(_ context.Context, id string) (*models.StatementFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, ok := s.files[id]
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeRunNotFound,
			fmt.Sprintf("statement file %s not found", id))
	}
	clone := *file
	return &clone, nil
}

func (s *MemoryStore) StatementFilesByCompany(_ context.Context, companyID string) ([]*models.StatementFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.StatementFile
	for _, file := range s.files {
		if file.CompanyID == companyID {
			clone := *file
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
