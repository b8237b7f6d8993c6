package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
)

// MatchingConfig holds the tunable parameters of the strategy pipeline.
// Confidence values and acceptance thresholds are explicit per-strategy maps
// so a deployment can tighten or relax individual strategies without touching
// code.
type MatchingConfig struct {
	// ToleranceAmount is the maximum absolute amount deviation accepted by
	// the approximate strategies.
	ToleranceAmount decimal.Decimal `json:"tolerancia_monto"`

	// ToleranceDays is the maximum date distance, in calendar days, accepted
	// by the exact and approximate strategies.
	ToleranceDays int `json:"dias_tolerancia"`

	// LookbackDays widens the invoice window on both sides of the statement
	// period to catch late-cleared payments.
	LookbackDays int `json:"dias_retroactivos"`

	// BaseConfidence is the confidence each strategy assigns to its matches.
	BaseConfidence map[models.MatchMethod]float64 `json:"confianza_base"`

	// AcceptThreshold is the minimum confidence at which each strategy's best
	// candidate is accepted. A candidate below its strategy's threshold falls
	// through to the next strategy.
	AcceptThreshold map[models.MatchMethod]float64 `json:"umbral_aceptacion"`

	// HeuristicWeights balance the weighted-heuristic strategy components.
	// They must sum to 1.
	HeuristicWeights HeuristicWeights `json:"pesos_heuristica"`

	// HeuristicWindowDays bounds the candidate pool the weighted heuristic
	// and historical-pattern strategies consider around the movement date.
	HeuristicWindowDays int `json:"ventana_heuristica_dias"`

	// PatternSimilarity is the minimum concept similarity against a prior
	// manual reconciliation for the historical-pattern strategy to fire.
	PatternSimilarity float64 `json:"similitud_patron"`

	// MaxComplementGroup bounds the deferred-payment aggregation search to
	// contiguous chronological complement windows of at most this size.
	MaxComplementGroup int `json:"max_grupo_complementos"`

	// MaxSuggestions is how many candidates are retained as suggestions when
	// no strategy accepts a match.
	MaxSuggestions int `json:"max_sugerencias"`
}

// HeuristicWeights are the component weights of the weighted-heuristic
// strategy.
type HeuristicWeights struct {
	Amount float64 `json:"monto"`
	Date   float64 `json:"fecha"`
	Text   float64 `json:"concepto"`
}

// DefaultMatchingConfig returns the standard configuration.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		ToleranceAmount: decimal.NewFromFloat(1.00),
		ToleranceDays:   3,
		LookbackDays:    30,
		BaseConfidence: map[models.MatchMethod]float64{
			models.MethodExacto:          0.95,
			models.MethodReferencia:      0.90,
			models.MethodAproximado:      0.80,
			models.MethodComplementoPPD:  0.90,
			models.MethodHeuristica:      0.85,
			models.MethodPatronHistorico: 0.70,
		},
		AcceptThreshold: map[models.MatchMethod]float64{
			models.MethodExacto:          0.95,
			models.MethodReferencia:      0.90,
			models.MethodAproximado:      0.60,
			models.MethodComplementoPPD:  0.90,
			models.MethodHeuristica:      0.85,
			models.MethodPatronHistorico: 0.70,
		},
		HeuristicWeights:    HeuristicWeights{Amount: 0.40, Date: 0.30, Text: 0.30},
		HeuristicWindowDays: 15,
		PatternSimilarity:   0.80,
		MaxComplementGroup:  6,
		MaxSuggestions:      3,
	}
}

// StrictMatchingConfig returns a configuration with tight tolerances for
// companies that require near-exact reconciliation.
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.ToleranceAmount = decimal.NewFromFloat(0.01)
	config.ToleranceDays = 1
	config.LookbackDays = 15
	config.AcceptThreshold[models.MethodAproximado] = 0.75
	config.AcceptThreshold[models.MethodHeuristica] = 0.90
	config.PatternSimilarity = 0.90
	return config
}

// RelaxedMatchingConfig returns a configuration with loose tolerances for
// noisy statements.
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.ToleranceAmount = decimal.NewFromFloat(10.00)
	config.ToleranceDays = 7
	config.LookbackDays = 45
	config.AcceptThreshold[models.MethodAproximado] = 0.50
	config.AcceptThreshold[models.MethodHeuristica] = 0.75
	config.PatternSimilarity = 0.70
	return config
}

// MatchingProfile returns the preset configuration for a profile name:
// "estricto", "relajado", or "estandar" (also the empty string).
func MatchingProfile(name string) (*MatchingConfig, error) {
	switch name {
	case "", "estandar":
		return DefaultMatchingConfig(), nil
	case "estricto":
		return StrictMatchingConfig(), nil
	case "relajado":
		return RelaxedMatchingConfig(), nil
	}
	return nil, fmt.Errorf("unknown matching profile: %s", name)
}

// Validate checks configuration consistency.
func (c *MatchingConfig) Validate() error {
	if c.ToleranceAmount.IsNegative() {
		return fmt.Errorf("tolerance amount cannot be negative: %s", c.ToleranceAmount)
	}
	if c.ToleranceDays < 0 {
		return fmt.Errorf("tolerance days cannot be negative: %d", c.ToleranceDays)
	}
	if c.LookbackDays < 0 {
		return fmt.Errorf("lookback days cannot be negative: %d", c.LookbackDays)
	}
	for method, value := range c.BaseConfidence {
		if value < 0 || value > 1 {
			return fmt.Errorf("base confidence for %s out of range: %f", method, value)
		}
	}
	for method, value := range c.AcceptThreshold {
		if value < 0 || value > 1 {
			return fmt.Errorf("accept threshold for %s out of range: %f", method, value)
		}
	}
	sum := c.HeuristicWeights.Amount + c.HeuristicWeights.Date + c.HeuristicWeights.Text
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("heuristic weights must sum to 1, got %f", sum)
	}
	if c.PatternSimilarity < 0 || c.PatternSimilarity > 1 {
		return fmt.Errorf("pattern similarity out of range: %f", c.PatternSimilarity)
	}
	if c.MaxComplementGroup < 1 {
		return fmt.Errorf("max complement group must be at least 1: %d", c.MaxComplementGroup)
	}
	if c.MaxSuggestions < 0 {
		return fmt.Errorf("max suggestions cannot be negative: %d", c.MaxSuggestions)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *MatchingConfig) Clone() *MatchingConfig {
	clone := *c
	clone.BaseConfidence = make(map[models.MatchMethod]float64, len(c.BaseConfidence))
	for k, v := range c.BaseConfidence {
		clone.BaseConfidence[k] = v
	}
	clone.AcceptThreshold = make(map[models.MatchMethod]float64, len(c.AcceptThreshold))
	for k, v := range c.AcceptThreshold {
		clone.AcceptThreshold[k] = v
	}
	return &clone
}

// confidence returns the base confidence for a strategy, defaulting to 0.
func (c *MatchingConfig) confidence(method models.MatchMethod) float64 {
	return c.BaseConfidence[method]
}

// threshold returns the acceptance threshold for a strategy, defaulting to 1
// so an unconfigured strategy never accepts.
func (c *MatchingConfig) threshold(method models.MatchMethod) float64 {
	if value, ok := c.AcceptThreshold[method]; ok {
		return value
	}
	return 1.0
}
