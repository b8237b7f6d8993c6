// Package reporter computes run-level statistics over the final movement set
// and assembles the summary returned to callers and persisted on the run.
package reporter

import (
	"time"

	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
)

// Summary is the full outcome bundle of a reconciliation run.
type Summary struct {
	Run         *models.ReconciliationRun `json:"proceso"`
	Stats       *models.RunStats          `json:"estadisticas"`
	Alerts      []models.CriticalAlert    `json:"alertas_criticas"`
	Suggestions []models.MatchSuggestion  `json:"sugerencias"`
}

// Aggregator computes RunStats from a run's final movement set.
type Aggregator struct{}

// NewAggregator creates an Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Stats aggregates the movements processed by a run. invoiceCount is the size
// of the candidate window the run matched against; elapsed is the wall-clock
// run duration.
func (a *Aggregator) Stats(movements []*models.BankMovement, invoiceCount int, elapsed time.Duration) *models.RunStats {
	stats := &models.RunStats{
		TotalMovements:   len(movements),
		TotalInvoices:    invoiceCount,
		ByMethod:         make(map[models.MatchMethod]int),
		AmountConciliado: decimal.Zero,
		AmountPendiente:  decimal.Zero,
		ElapsedSeconds:   elapsed.Seconds(),
	}

	confidenceSum := 0.0
	daysSum := 0
	timestamped := 0
	for _, movement := range movements {
		switch movement.Status {
		case models.StatusConciliado:
			stats.Conciliados++
			stats.ByMethod[movement.MatchMethod]++
			stats.AmountConciliado = stats.AmountConciliado.Add(movement.Amount)
			confidenceSum += movement.Confidence
		case models.StatusManual:
			stats.Manuales++
			stats.ByMethod[models.MethodManual]++
			stats.AmountConciliado = stats.AmountConciliado.Add(movement.Amount)
			confidenceSum += movement.Confidence
		default:
			stats.Pendientes++
			stats.AmountPendiente = stats.AmountPendiente.Add(movement.Amount)
			continue
		}
		if movement.ReconciledAt != nil {
			daysSum += models.DaysBetween(movement.Date, *movement.ReconciledAt)
			timestamped++
		}
	}

	reconciled := stats.Conciliados + stats.Manuales
	if stats.TotalMovements > 0 {
		stats.PercentConciliado = float64(reconciled) * 100 / float64(stats.TotalMovements)
	}
	if reconciled > 0 {
		stats.AverageConfidence = confidenceSum / float64(reconciled)
	}
	if timestamped > 0 {
		stats.AverageDaysToReconcile = float64(daysSum) / float64(timestamped)
	}
	return stats
}
