package reconciler

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
)

// AlertConfig holds the thresholds of the post-run anomaly detection.
type AlertConfig struct {
	// LargeAmountThreshold is the unreconciled-movement amount above which a
	// DESCUADRE_MAYOR alert fires.
	LargeAmountThreshold decimal.Decimal `json:"umbral_descuadre"`

	// MissingReferenceShare is the fraction of movements with empty or
	// unusable references above which REFERENCIAS_FALTANTES fires.
	MissingReferenceShare float64 `json:"proporcion_sin_referencia"`

	// Severity bands. An alert is alta when its affected count or aggregate
	// amount reaches the high band, media at the mid band, baja otherwise.
	HighCount  int             `json:"banda_alta_movimientos"`
	MidCount   int             `json:"banda_media_movimientos"`
	HighAmount decimal.Decimal `json:"banda_alta_monto"`
	MidAmount  decimal.Decimal `json:"banda_media_monto"`
}

// DefaultAlertConfig returns the standard alert thresholds.
func DefaultAlertConfig() *AlertConfig {
	return &AlertConfig{
		LargeAmountThreshold:  decimal.NewFromInt(10000),
		MissingReferenceShare: 0.50,
		HighCount:             10,
		MidCount:              3,
		HighAmount:            decimal.NewFromInt(100000),
		MidAmount:             decimal.NewFromInt(10000),
	}
}

// AlertGenerator derives critical alerts from a run's final movement set. It
// runs once per run, after every movement has been resolved.
type AlertGenerator struct {
	config *AlertConfig
}

// NewAlertGenerator creates an AlertGenerator.
func NewAlertGenerator(config *AlertConfig) *AlertGenerator {
	if config == nil {
		config = DefaultAlertConfig()
	}
	return &AlertGenerator{config: config}
}

// Generate inspects the final movement set and returns the alerts that fire.
// periodStart and periodEnd are the statement period used for the
// date-consistency check.
func (g *AlertGenerator) Generate(movements []*models.BankMovement, periodStart, periodEnd time.Time) []models.CriticalAlert {
	var alerts []models.CriticalAlert

	if alert := g.largePending(movements); alert != nil {
		alerts = append(alerts, *alert)
	}
	if alert := g.duplicates(movements); alert != nil {
		alerts = append(alerts, *alert)
	}
	if alert := g.missingReferences(movements); alert != nil {
		alerts = append(alerts, *alert)
	}
	if alert := g.datesOutsidePeriod(movements, periodStart, periodEnd); alert != nil {
		alerts = append(alerts, *alert)
	}
	return alerts
}

// largePending fires when at least one pending movement's amount exceeds the
// configured threshold.
func (g *AlertGenerator) largePending(movements []*models.BankMovement) *models.CriticalAlert {
	count := 0
	total := decimal.Zero
	for _, movement := range movements {
		if movement.Status != models.StatusPendiente {
			continue
		}
		if movement.Amount.GreaterThan(g.config.LargeAmountThreshold) {
			count++
			total = total.Add(movement.Amount)
		}
	}
	if count == 0 {
		return nil
	}
	return &models.CriticalAlert{
		Type: models.AlertDescuadreMayor,
		Message: fmt.Sprintf("%d movimientos sin conciliar superan %s",
			count, g.config.LargeAmountThreshold.StringFixed(2)),
		Severity:      g.severity(count, total),
		AffectedCount: count,
		TotalAmount:   total,
		RecommendedAction: "Revisar manualmente los movimientos de monto alto y " +
			"verificar si existen CFDI pendientes de timbrar",
	}
}

func (g *AlertGenerator) duplicates(movements []*models.BankMovement) *models.CriticalAlert {
	count := 0
	total := decimal.Zero
	for _, movement := range movements {
		if movement.Duplicate {
			count++
			total = total.Add(movement.Amount)
		}
	}
	if count == 0 {
		return nil
	}
	return &models.CriticalAlert{
		Type: models.AlertMovimientosDuplicados,
		Message: fmt.Sprintf("%d movimientos duplicados detectados en el estado de cuenta",
			count),
		Severity:      g.severity(count, total),
		AffectedCount: count,
		TotalAmount:   total,
		RecommendedAction: "Confirmar con el banco si se trata de cargos duplicados " +
			"y solicitar la devolucion en su caso",
	}
}

func (g *AlertGenerator) missingReferences(movements []*models.BankMovement) *models.CriticalAlert {
	if len(movements) == 0 {
		return nil
	}
	count := 0
	for _, movement := range movements {
		if movement.Reference == "" {
			count++
		}
	}
	share := float64(count) / float64(len(movements))
	if share <= g.config.MissingReferenceShare {
		return nil
	}
	return &models.CriticalAlert{
		Type: models.AlertReferenciasFaltantes,
		Message: fmt.Sprintf("%.0f%% de los movimientos no tienen referencia utilizable",
			share*100),
		Severity:      g.severity(count, decimal.Zero),
		AffectedCount: count,
		RecommendedAction: "Solicitar a los clientes que incluyan folio o UUID del CFDI " +
			"en la referencia de sus transferencias",
	}
}

func (g *AlertGenerator) datesOutsidePeriod(movements []*models.BankMovement, periodStart, periodEnd time.Time) *models.CriticalAlert {
	if periodStart.IsZero() || periodEnd.IsZero() {
		return nil
	}
	count := 0
	for _, movement := range movements {
		if movement.Date.Before(periodStart) || movement.Date.After(periodEnd) {
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return &models.CriticalAlert{
		Type: models.AlertFechasInconsistentes,
		Message: fmt.Sprintf("%d movimientos tienen fecha fuera del periodo del estado de cuenta",
			count),
		Severity:      g.severity(count, decimal.Zero),
		AffectedCount: count,
		RecommendedAction: "Verificar la extraccion del estado de cuenta; las fechas " +
			"pueden haberse leido incorrectamente",
	}
}

// severity grades an alert from its affected count and aggregate amount.
func (g *AlertGenerator) severity(count int, total decimal.Decimal) models.AlertSeverity {
	if count >= g.config.HighCount || total.GreaterThanOrEqual(g.config.HighAmount) {
		return models.SeverityAlta
	}
	if count >= g.config.MidCount || total.GreaterThanOrEqual(g.config.MidAmount) {
		return models.SeverityMedia
	}
	return models.SeverityBaja
}
