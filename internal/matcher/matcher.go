// Package matcher implements the reconciliation core: the per-run candidate
// index over a company's invoices, the ordered multi-strategy pipeline that
// assigns bank movements to invoices, and the claim set that guarantees no
// invoice is consumed twice within a run.
package matcher

import (
	"sort"

	"cfdi-reconciler/internal/models"
	"cfdi-reconciler/pkg/logger"
)

// Evaluation is the output of one strategy for one movement: its candidates
// in deterministic tie-break order. Evaluations carry no claim state, so they
// can be produced concurrently and resolved later in a serialized pass.
type Evaluation struct {
	Method     models.MatchMethod
	Candidates []Candidate
}

// MatchResult is the outcome of resolving one movement.
type MatchResult struct {
	Matched bool
	// Winner is the accepted candidate when Matched is true.
	Winner *Candidate
	// Suggestions are the strongest unaccepted candidates, retained when the
	// movement stays pending.
	Suggestions []models.MatchSuggestion
}

// MatchingEngine runs the strategy pipeline. It holds no per-movement state,
// so one engine serves all workers of a run.
type MatchingEngine struct {
	config     *MatchingConfig
	strategies []Strategy
	logger     logger.Logger
}

// NewMatchingEngine creates an engine with the default strategy order.
func NewMatchingEngine(config *MatchingConfig, log logger.Logger) (*MatchingEngine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Global()
	}
	return &MatchingEngine{
		config:     config,
		strategies: DefaultStrategies(),
		logger:     log.WithComponent("matcher"),
	}, nil
}

// Config returns the engine's configuration.
func (e *MatchingEngine) Config() *MatchingConfig {
	return e.config
}

// Evaluate runs every strategy for one movement and returns the evaluations
// in strategy priority order. It is pure: no claims are consulted and no
// state is mutated, so callers may evaluate movements on parallel workers.
// Movements that are not assignable (MANUAL, or already reconciled) yield
// nil.
func (e *MatchingEngine) Evaluate(movement *models.BankMovement, index *CandidateIndex) []Evaluation {
	if !movement.IsAssignable() {
		return nil
	}
	var evaluations []Evaluation
	for _, strategy := range e.strategies {
		candidates := strategy.Evaluate(movement, index, e.config)
		if len(candidates) == 0 {
			continue
		}
		sortCandidates(candidates)
		evaluations = append(evaluations, Evaluation{
			Method:     strategy.Name(),
			Candidates: candidates,
		})
	}
	return evaluations
}

// Resolve walks the evaluations in strategy priority order and accepts the
// first candidate that reaches its strategy's threshold and whose claim
// succeeds. A candidate whose invoices were already consumed by an earlier
// movement is skipped and resolution falls through to the next candidate,
// then the next strategy. When nothing is accepted, the strongest candidates
// across all strategies are returned as suggestions.
//
// Callers must resolve movements in a deterministic order (the run service
// uses date-then-id) so that claim contention is decided identically on every
// run over identical inputs.
func (e *MatchingEngine) Resolve(movement *models.BankMovement, evaluations []Evaluation, claims *ClaimSet) MatchResult {
	var pool []Candidate
	for _, evaluation := range evaluations {
		threshold := e.config.threshold(evaluation.Method)
		for i := range evaluation.Candidates {
			candidate := &evaluation.Candidates[i]
			if candidate.Confidence < threshold {
				break // sorted by confidence, the rest are weaker
			}
			if !claims.Claim(movement.ID, candidate.ClaimIDs...) {
				continue // consumed by another movement, fall through
			}
			e.logger.WithFields(logger.Fields{
				"movement_id": movement.ID,
				"invoice":     candidate.Invoice.UUID,
				"method":      candidate.Method,
				"confidence":  candidate.Confidence,
			}).Debug("Movement matched")
			return MatchResult{Matched: true, Winner: candidate}
		}
		pool = append(pool, evaluation.Candidates...)
	}
	return MatchResult{Suggestions: e.suggestions(movement, pool, claims)}
}

// Match evaluates and resolves a single movement in one step.
func (e *MatchingEngine) Match(movement *models.BankMovement, index *CandidateIndex, claims *ClaimSet) MatchResult {
	return e.Resolve(movement, e.Evaluate(movement, index), claims)
}

// suggestions picks the strongest candidates from the pool, one entry per
// invoice, in deterministic order. Candidates whose invoices were already
// consumed by another movement are dropped so a pending movement never
// suggests an assignment the run has ruled out.
func (e *MatchingEngine) suggestions(movement *models.BankMovement, pool []Candidate, claims *ClaimSet) []models.MatchSuggestion {
	if len(pool) == 0 || e.config.MaxSuggestions == 0 {
		return nil
	}
	sortCandidates(pool)

	seen := make(map[string]bool, e.config.MaxSuggestions)
	var suggestions []models.MatchSuggestion
	for _, candidate := range pool {
		if seen[candidate.Invoice.UUID] || claims.AnyClaimed(candidate.ClaimIDs) {
			continue
		}
		seen[candidate.Invoice.UUID] = true
		suggestions = append(suggestions, models.MatchSuggestion{
			MovementID:     movement.ID,
			InvoiceUUID:    candidate.Invoice.UUID,
			Confidence:     candidate.Confidence,
			Reason:         candidate.Method,
			AmountDiff:     candidate.AmountDiff,
			DaysDiff:       candidate.DaysDiff,
			TextSimilarity: candidate.TextSimilarity,
		})
		if len(suggestions) == e.config.MaxSuggestions {
			break
		}
	}
	return suggestions
}

// sortCandidates orders candidates deterministically: highest confidence,
// then smallest amount deviation, then smallest date distance, then earliest
// issue date, with the invoice UUID as the final stabilizer so identical
// inputs always produce identical orderings.
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if cmp := a.AmountDiff.Cmp(b.AmountDiff); cmp != 0 {
			return cmp < 0
		}
		if a.DaysDiff != b.DaysDiff {
			return a.DaysDiff < b.DaysDiff
		}
		if !a.Invoice.IssueDate.Equal(b.Invoice.IssueDate) {
			return a.Invoice.IssueDate.Before(b.Invoice.IssueDate)
		}
		return a.Invoice.UUID < b.Invoice.UUID
	})
}
