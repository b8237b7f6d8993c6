// Package reconciler orchestrates reconciliation runs: run-scope locking,
// movement loading, parallel strategy evaluation, serialized claim
// resolution, alert generation and report aggregation.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/matcher"
	"cfdi-reconciler/internal/models"
	"cfdi-reconciler/internal/normalizer"
	"cfdi-reconciler/internal/reporter"
	"cfdi-reconciler/internal/storage"
	"cfdi-reconciler/pkg/errors"
	"cfdi-reconciler/pkg/logger"
)

// Config holds the service-level options.
type Config struct {
	Matching *matcher.MatchingConfig
	Alerts   *AlertConfig
	// Workers bounds the parallel evaluation phase. Zero means one worker
	// per CPU.
	Workers int
}

// DefaultConfig returns the standard service configuration.
func DefaultConfig() *Config {
	return &Config{
		Matching: matcher.DefaultMatchingConfig(),
		Alerts:   DefaultAlertConfig(),
	}
}

// Service is the reconciliation engine's entry point. It owns the run
// lifecycle and delegates matching to the strategy pipeline.
type Service struct {
	store      storage.Store
	normalizer *normalizer.Normalizer
	alerts     *AlertGenerator
	aggregator *reporter.Aggregator
	config     *Config
	logger     logger.Logger
}

// NewService creates a Service backed by the given store.
func NewService(store storage.Store, config *Config, log logger.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Matching == nil {
		config.Matching = matcher.DefaultMatchingConfig()
	}
	if err := config.Matching.Validate(); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, err.Error())
	}
	if log == nil {
		log = logger.Global()
	}
	return &Service{
		store:      store,
		normalizer: normalizer.New(log),
		alerts:     NewAlertGenerator(config.Alerts),
		aggregator: reporter.NewAggregator(),
		config:     config,
		logger:     log.WithComponent("reconciler"),
	}, nil
}

// ReconcileRequest describes one reconciliation run. Profile selects a named
// tolerance preset ("estricto", "relajado", "estandar"); the explicit
// tolerance fields override whichever base applies.
type ReconcileRequest struct {
	CompanyID       string           `json:"rfc_empresa"`
	Month           int              `json:"mes"`
	Year            int              `json:"anio"`
	Profile         string           `json:"perfil,omitempty"`
	ToleranceAmount *decimal.Decimal `json:"tolerancia_monto,omitempty"`
	ToleranceDays   *int             `json:"dias_tolerancia,omitempty"`
	Force           bool             `json:"forzar_reproceso,omitempty"`
}

// Reconcile executes a full run for the requested (company, month, year)
// scope. It fails fast with a conflict error when a run already holds the
// scope; with Force, a finished prior run is superseded and its automatic
// assignments are reset before the pipeline reapplies the strategies. MANUAL
// movements are never touched.
func (s *Service) Reconcile(ctx context.Context, req ReconcileRequest) (*reporter.Summary, error) {
	started := time.Now()

	matchingConfig := s.config.Matching.Clone()
	if req.Profile != "" {
		profile, err := matcher.MatchingProfile(req.Profile)
		if err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidRequest, err.Error())
		}
		matchingConfig = profile
	}
	if req.ToleranceAmount != nil {
		matchingConfig.ToleranceAmount = *req.ToleranceAmount
	}
	if req.ToleranceDays != nil {
		matchingConfig.ToleranceDays = *req.ToleranceDays
	}

	engine, err := matcher.NewMatchingEngine(matchingConfig, s.logger)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidRequest, err.Error())
	}

	run := &models.ReconciliationRun{
		ID:              uuid.NewString(),
		CompanyID:       req.CompanyID,
		Month:           req.Month,
		Year:            req.Year,
		ToleranceAmount: matchingConfig.ToleranceAmount,
		ToleranceDays:   matchingConfig.ToleranceDays,
		ForceReprocess:  req.Force,
		Status:          models.RunActive,
		StartedAt:       started,
	}
	if err := run.Validate(); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidRequest, err.Error())
	}

	periodStart, periodEnd, err := models.MonthPeriod(req.Month, req.Year)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidRequest, err.Error())
	}

	movements, err := s.store.MovementsByPeriod(ctx, req.CompanyID, periodStart, periodEnd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load movements")
	}
	if len(movements) == 0 {
		return nil, errors.NewNotFoundError(errors.CodePeriodEmpty,
			fmt.Sprintf("no movements found for %s in %04d-%02d",
				req.CompanyID, req.Year, req.Month)).
			WithSuggestion("Ingest the statement file for the period before reconciling")
	}

	if err := s.store.CreateRun(ctx, run, req.Force); err != nil {
		return nil, err
	}

	log := s.logger.WithRun(run.ID).WithFields(logger.Fields{
		"company": req.CompanyID,
		"period":  fmt.Sprintf("%04d-%02d", req.Year, req.Month),
	})
	log.WithField("movements", len(movements)).Info("Reconciliation run started")

	summary, err := s.execute(ctx, run, engine, movements, periodStart, periodEnd, log)
	if err != nil {
		s.failRun(run, log)
		return nil, err
	}
	return summary, nil
}

// failRun marks the run failed so the scope does not stay locked as active.
// Uses a fresh context because the run's context may already be cancelled.
func (s *Service) failRun(run *models.ReconciliationRun, log logger.Logger) {
	now := time.Now()
	run.Status = models.RunFailed
	run.FinishedAt = &now
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateRun(ctx, run); err != nil {
		log.WithError(err).Error("Failed to mark run as failed")
	}
}

func (s *Service) execute(ctx context.Context, run *models.ReconciliationRun,
	engine *matcher.MatchingEngine, movements []*models.BankMovement,
	periodStart, periodEnd time.Time, log logger.Logger) (*reporter.Summary, error) {

	config := engine.Config()

	if run.ForceReprocess {
		reset := 0
		for _, movement := range movements {
			if movement.Status == models.StatusConciliado {
				movement.ResetAssignment()
				reset++
			}
		}
		log.WithField("reset", reset).Info("Prior automatic assignments reset")
	}

	windowStart := periodStart.AddDate(0, 0, -config.LookbackDays)
	windowEnd := periodEnd.AddDate(0, 0, config.LookbackDays)
	invoices, err := s.store.InvoicesByPeriod(ctx, run.CompanyID, windowStart, windowEnd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load invoices")
	}

	patterns, err := s.historicalPatterns(ctx, run.CompanyID)
	if err != nil {
		return nil, err
	}

	index := matcher.NewCandidateIndex(invoices, patterns, periodStart, periodEnd, config.LookbackDays)
	log.WithFields(logger.Fields{
		"invoices": index.Size(),
		"patterns": len(patterns),
	}).Info("Candidate index built")

	// Deterministic processing order: date, then id.
	sort.Slice(movements, func(i, j int) bool {
		if !movements[i].Date.Equal(movements[j].Date) {
			return movements[i].Date.Before(movements[j].Date)
		}
		return movements[i].ID < movements[j].ID
	})

	claims := matcher.NewClaimSet()
	for _, movement := range movements {
		if movement.MatchedInvoiceID != "" && !movement.IsAssignable() {
			claims.Claim(movement.ID, movement.MatchedInvoiceID)
		}
	}

	evaluations, err := s.evaluateAll(ctx, engine, index, movements, log)
	if err != nil {
		return nil, err
	}

	// Serialized resolution keeps claim contention deterministic: claims are
	// granted strictly in movement order.
	now := time.Now()
	var suggestions []models.MatchSuggestion
	for i, movement := range movements {
		result := engine.Resolve(movement, evaluations[i], claims)
		if result.Matched {
			movement.AssignMatch(result.Winner.Invoice.UUID, result.Winner.Method,
				result.Winner.Confidence, now)
			continue
		}
		suggestions = append(suggestions, result.Suggestions...)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.NewMatchingError(errors.CodeRunCancelled, "run cancelled", err)
	}

	if err := logger.TimedOperation(log, "persist_movements", func() error {
		return s.store.SaveMovements(ctx, movements)
	}); err != nil {
		return nil, errors.Wrap(err, "failed to persist movement state")
	}

	alerts := s.alerts.Generate(movements, periodStart, periodEnd)
	stats := s.aggregator.Stats(movements, index.Size(), time.Since(run.StartedAt))

	finished := time.Now()
	run.Status = models.RunCompleted
	run.FinishedAt = &finished
	run.Stats = stats
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return nil, errors.Wrap(err, "failed to finalize run")
	}

	log.WithFields(logger.Fields{
		"conciliados": stats.Conciliados,
		"pendientes":  stats.Pendientes,
		"percent":     stats.PercentConciliado,
		"alerts":      len(alerts),
		"elapsed":     time.Since(run.StartedAt).Round(time.Millisecond).String(),
	}).Info("Reconciliation run completed")

	return &reporter.Summary{
		Run:         run,
		Stats:       stats,
		Alerts:      alerts,
		Suggestions: suggestions,
	}, nil
}

// evaluateAll runs the pure evaluation phase on a worker pool. The result
// slice is indexed by movement position, so parallelism cannot change the
// outcome.
func (s *Service) evaluateAll(ctx context.Context, engine *matcher.MatchingEngine,
	index *matcher.CandidateIndex, movements []*models.BankMovement,
	log logger.Logger) ([][]matcher.Evaluation, error) {

	workers := s.config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(movements) {
		workers = len(movements)
	}

	evaluations := make([][]matcher.Evaluation, len(movements))
	indices := make(chan int)
	progress := logger.NewProgressTracker(log, "evaluate_movements", len(movements), 2*time.Second)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				evaluations[i] = engine.Evaluate(movements[i], index)
				progress.Add(1)
			}
		}()
	}

feed:
	for i := range movements {
		select {
		case indices <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indices)
	wg.Wait()
	progress.Done()

	if err := ctx.Err(); err != nil {
		return nil, errors.NewMatchingError(errors.CodeRunCancelled, "run cancelled", err)
	}
	return evaluations, nil
}

// historicalPatterns mines the company's MANUAL reconciliations for concept
// patterns usable by the historical-pattern strategy.
func (s *Service) historicalPatterns(ctx context.Context, companyID string) ([]matcher.HistoricalPattern, error) {
	manual, err := s.store.ManualMovements(ctx, companyID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load manual reconciliations")
	}

	var patterns []matcher.HistoricalPattern
	for _, movement := range manual {
		if movement.MatchedInvoiceID == "" {
			continue
		}
		invoice, err := s.store.InvoiceByUUID(ctx, movement.MatchedInvoiceID)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, errors.Wrap(err, "failed to load invoice for pattern")
		}
		if invoice.CounterpartyID == "" {
			continue
		}
		patterns = append(patterns, matcher.HistoricalPattern{
			CounterpartyID: invoice.CounterpartyID,
			Concept:        movement.Concept,
			Reference:      movement.Reference,
		})
	}
	return patterns, nil
}

// IngestRequest carries one statement file and its extracted rows.
type IngestRequest struct {
	CompanyID   string                   `json:"rfc_empresa"`
	Bank        string                   `json:"banco"`
	PeriodStart time.Time                `json:"periodo_inicio"`
	PeriodEnd   time.Time                `json:"periodo_fin"`
	Content     []byte                   `json:"-"`
	Rows        []normalizer.RawMovement `json:"movimientos"`
}

// IngestResult reports the outcome of a statement ingestion.
type IngestResult struct {
	File      *models.StatementFile `json:"archivo"`
	Movements int                   `json:"movimientos_guardados"`
	RowErrors []string              `json:"errores_filas,omitempty"`
}

// IngestStatement normalizes and stores one statement file's movements. A
// file whose content hash was already seen for the company is rejected before
// any movement is stored.
func (s *Service) IngestStatement(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.CompanyID == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidRequest, "rfc_empresa is required")
	}
	if len(req.Rows) == 0 {
		return nil, errors.NewIngestionError(errors.CodeEmptyFile,
			"statement contains no movement rows", nil)
	}

	hash, err := contentHash(req)
	if err != nil {
		return nil, err
	}

	fileID := uuid.NewString()
	result, err := s.normalizer.Normalize(req.CompanyID, fileID, req.Rows)
	if err != nil {
		return nil, err
	}

	rowErrors := make([]string, len(result.RowErrors))
	for i, rowErr := range result.RowErrors {
		rowErrors[i] = rowErr.Error()
	}

	file := &models.StatementFile{
		ID:                fileID,
		CompanyID:         req.CompanyID,
		Bank:              req.Bank,
		PeriodStart:       req.PeriodStart,
		PeriodEnd:         req.PeriodEnd,
		ContentHash:       hash,
		ProcessingSuccess: len(result.RowErrors) == 0,
		MovementCount:     len(result.Movements),
		Errors:            rowErrors,
		CreatedAt:         time.Now(),
	}
	if err := s.store.SaveStatementFile(ctx, file); err != nil {
		return nil, err
	}
	if err := s.store.SaveMovements(ctx, result.Movements); err != nil {
		return nil, errors.Wrap(err, "failed to store movements")
	}

	s.logger.WithFields(logger.Fields{
		"company":   req.CompanyID,
		"file_id":   fileID,
		"movements": len(result.Movements),
		"errors":    len(result.RowErrors),
	}).Info("Statement ingested")

	return &IngestResult{
		File:      file,
		Movements: len(result.Movements),
		RowErrors: rowErrors,
	}, nil
}

// contentHash hashes the raw file bytes when available, falling back to the
// canonical JSON of the extracted rows.
func contentHash(req IngestRequest) (string, error) {
	if len(req.Content) > 0 {
		return normalizer.HashContent(req.Content), nil
	}
	data, err := json.Marshal(req.Rows)
	if err != nil {
		return "", errors.NewIngestionError(errors.CodeRowParsing,
			"failed to fingerprint statement rows", err)
	}
	return normalizer.HashContent(data), nil
}

// AssignManual applies an accountant's override: the movement is locked as
// MANUAL against the given invoice and the automatic pipeline will never
// reassign it.
func (s *Service) AssignManual(ctx context.Context, movementID, invoiceUUID, notes string) (*models.BankMovement, error) {
	movement, err := s.store.MovementByID(ctx, movementID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.store.InvoiceByUUID(ctx, invoiceUUID)
	if err != nil {
		return nil, err
	}
	if movement.CompanyID != invoice.CompanyID {
		return nil, errors.NewValidationError(errors.CodeInvalidRequest,
			"movement and invoice belong to different companies")
	}

	now := time.Now()
	movement.Status = models.StatusManual
	movement.MatchedInvoiceID = invoice.UUID
	movement.MatchMethod = models.MethodManual
	movement.Confidence = 1.0
	movement.Notes = notes
	movement.ReconciledAt = &now

	if err := s.store.UpdateMovement(ctx, movement); err != nil {
		return nil, errors.Wrap(err, "failed to store manual assignment")
	}

	s.logger.WithFields(logger.Fields{
		"movement_id": movementID,
		"invoice":     invoiceUUID,
	}).Info("Manual assignment recorded")
	return movement, nil
}

// QueryMovements returns a page of movements matching the filter plus the
// total count.
func (s *Service) QueryMovements(ctx context.Context, filter storage.MovementFilter) ([]*models.BankMovement, int, error) {
	return s.store.QueryMovements(ctx, filter)
}

// RunReport returns the persisted run for a scope, including its stats
// snapshot, for idempotent re-query.
func (s *Service) RunReport(ctx context.Context, companyID string, month, year int) (*models.ReconciliationRun, error) {
	return s.store.RunByScope(ctx, companyID, month, year)
}

// CompanyRuns returns every run of the company, most recent first.
func (s *Service) CompanyRuns(ctx context.Context, companyID string) ([]*models.ReconciliationRun, error) {
	return s.store.RunsByCompany(ctx, companyID)
}
