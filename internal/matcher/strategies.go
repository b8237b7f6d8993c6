package matcher

import (
	"strings"

	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
)

// Candidate is one potential assignment produced by a strategy.
type Candidate struct {
	Invoice        *models.InvoiceRecord
	Method         models.MatchMethod
	Confidence     float64
	AmountDiff     decimal.Decimal // absolute deviation from the movement amount
	DaysDiff       int             // absolute calendar-day distance
	TextSimilarity float64

	// ClaimIDs are the ids this candidate consumes when accepted: the invoice
	// UUID, or the complement UUIDs for a deferred-payment aggregation.
	ClaimIDs []string
}

// Strategy evaluates one movement against the candidate index and returns its
// candidates. Strategies are pure: they never mutate the movement, the index
// or shared state, which keeps per-movement matching safe to parallelize.
type Strategy interface {
	Name() models.MatchMethod
	Evaluate(movement *models.BankMovement, index *CandidateIndex, config *MatchingConfig) []Candidate
}

// DefaultStrategies returns the pipeline in its fixed priority order. The
// order is a static property: exact equality first, explicit references next,
// then tolerance, deferred-payment aggregation, the weighted heuristic, and
// historical patterns last.
func DefaultStrategies() []Strategy {
	return []Strategy{
		&exactStrategy{},
		&referenceStrategy{},
		&toleranceStrategy{},
		&complementStrategy{},
		&heuristicStrategy{},
		&historicalStrategy{},
	}
}

// exactStrategy matches a movement to an invoice with the identical
// currency-exact amount issued within the date tolerance.
type exactStrategy struct{}

func (s *exactStrategy) Name() models.MatchMethod { return models.MethodExacto }

func (s *exactStrategy) Evaluate(movement *models.BankMovement, index *CandidateIndex, config *MatchingConfig) []Candidate {
	var candidates []Candidate
	for _, invoice := range index.ExactAmount(movement.Amount) {
		if !models.WithinDays(movement.Date, invoice.IssueDate, config.ToleranceDays) {
			continue
		}
		candidates = append(candidates, Candidate{
			Invoice:    invoice,
			Method:     s.Name(),
			Confidence: config.confidence(s.Name()),
			AmountDiff: decimal.Zero,
			DaysDiff:   models.DaysBetween(movement.Date, invoice.IssueDate),
			ClaimIDs:   []string{invoice.UUID},
		})
	}
	return candidates
}

// referenceStrategy matches when an invoice's UUID, folio or serie+folio
// appears verbatim in the movement reference or concept. An explicit
// reference outranks amount agreement, so amount and date play no part in the
// condition.
type referenceStrategy struct{}

func (s *referenceStrategy) Name() models.MatchMethod { return models.MethodReferencia }

func (s *referenceStrategy) Evaluate(movement *models.BankMovement, index *CandidateIndex, config *MatchingConfig) []Candidate {
	text := movement.Reference + " " + movement.Concept

	var tokens []string
	tokens = append(tokens, ExtractUUIDs(text)...)
	tokens = append(tokens, ExtractSeries(text)...)
	tokens = append(tokens, ExtractFolios(text)...)

	seen := make(map[string]bool)
	var candidates []Candidate
	for _, token := range tokens {
		for _, invoice := range index.ByToken(token) {
			if seen[invoice.UUID] {
				continue
			}
			seen[invoice.UUID] = true
			candidates = append(candidates, Candidate{
				Invoice:    invoice,
				Method:     s.Name(),
				Confidence: config.confidence(s.Name()),
				AmountDiff: movement.Amount.Sub(invoice.Total).Abs(),
				DaysDiff:   models.DaysBetween(movement.Date, invoice.IssueDate),
				ClaimIDs:   []string{invoice.UUID},
			})
		}
	}
	return candidates
}

// toleranceStrategy matches within the configured amount and date tolerances,
// with confidence scaled down linearly by the normalized deviations.
type toleranceStrategy struct{}

func (s *toleranceStrategy) Name() models.MatchMethod { return models.MethodAproximado }

func (s *toleranceStrategy) Evaluate(movement *models.BankMovement, index *CandidateIndex, config *MatchingConfig) []Candidate {
	from := movement.Date.AddDate(0, 0, -config.ToleranceDays)
	to := movement.Date.AddDate(0, 0, config.ToleranceDays)

	var candidates []Candidate
	for _, invoice := range index.InDateRange(from, to) {
		amountDiff := movement.Amount.Sub(invoice.Total).Abs()
		if amountDiff.GreaterThan(config.ToleranceAmount) {
			continue
		}
		days := models.DaysBetween(movement.Date, invoice.IssueDate)

		amountDev := 0.0
		if config.ToleranceAmount.IsPositive() {
			amountDev, _ = amountDiff.Div(config.ToleranceAmount).Float64()
		}
		dateDev := 0.0
		if config.ToleranceDays > 0 {
			dateDev = float64(days) / float64(config.ToleranceDays)
		}
		confidence := config.confidence(s.Name()) - 0.10*amountDev - 0.10*dateDev

		candidates = append(candidates, Candidate{
			Invoice:    invoice,
			Method:     s.Name(),
			Confidence: confidence,
			AmountDiff: amountDiff,
			DaysDiff:   days,
			ClaimIDs:   []string{invoice.UUID},
		})
	}
	return candidates
}

// complementStrategy matches a movement against a contiguous chronological
// window of payment complements on a deferred (PPD) invoice whose amounts sum
// to the movement amount within tolerance. The window size is bounded by
// MaxComplementGroup; no unbounded subset search is attempted.
type complementStrategy struct{}

func (s *complementStrategy) Name() models.MatchMethod { return models.MethodComplementoPPD }

func (s *complementStrategy) Evaluate(movement *models.BankMovement, index *CandidateIndex, config *MatchingConfig) []Candidate {
	var candidates []Candidate
	for _, invoice := range index.Invoices() {
		if invoice.PaymentScheme != models.SchemePPD || len(invoice.Complements) == 0 {
			continue
		}
		for start := 0; start < len(invoice.Complements); start++ {
			sum := decimal.Zero
			for end := start; end < len(invoice.Complements) && end-start < config.MaxComplementGroup; end++ {
				sum = sum.Add(invoice.Complements[end].Amount)
				if sum.Sub(movement.Amount).Abs().GreaterThan(config.ToleranceAmount) {
					if sum.GreaterThan(movement.Amount.Add(config.ToleranceAmount)) {
						break // amounts are positive, the window can only grow
					}
					continue
				}

				window := invoice.Complements[start : end+1]
				claimIDs := make([]string, len(window))
				for i, link := range window {
					claimIDs[i] = link.UUID
				}
				candidates = append(candidates, Candidate{
					Invoice:    invoice,
					Method:     s.Name(),
					Confidence: config.confidence(s.Name()),
					AmountDiff: sum.Sub(movement.Amount).Abs(),
					DaysDiff:   models.DaysBetween(movement.Date, window[len(window)-1].PaymentDate),
					ClaimIDs:   claimIDs,
				})
			}
		}
	}
	return candidates
}

// heuristicStrategy scores candidates by a weighted combination of amount
// closeness, date closeness and concept text similarity, boosted when a
// taxpayer RFC extracted from the movement text names the invoice issuer.
// Only scores above the strategy threshold are accepted; weaker ones still
// feed suggestions.
type heuristicStrategy struct{}

func (s *heuristicStrategy) Name() models.MatchMethod { return models.MethodHeuristica }

// suggestionFloor drops heuristic candidates too weak to be useful even as
// suggestions.
const suggestionFloor = 0.30

// counterpartyBoost is added to the weighted score when the movement text
// carries the invoice issuer's RFC. An explicit RFC is a strong signal, so
// the boost alone lifts a plausible candidate over the acceptance threshold.
const counterpartyBoost = 0.40

func (s *heuristicStrategy) Evaluate(movement *models.BankMovement, index *CandidateIndex, config *MatchingConfig) []Candidate {
	from := movement.Date.AddDate(0, 0, -config.HeuristicWindowDays)
	to := movement.Date.AddDate(0, 0, config.HeuristicWindowDays)
	concept := CleanBankConcept(movement.Concept)

	rfcs := make(map[string]bool)
	for _, rfc := range ExtractRFCs(movement.Reference + " " + movement.Concept) {
		rfcs[rfc] = true
	}

	var candidates []Candidate
	for _, invoice := range index.InDateRange(from, to) {
		amountDiff := movement.Amount.Sub(invoice.Total).Abs()
		amountScore := 0.0
		if movement.Amount.IsPositive() {
			dev, _ := amountDiff.Div(movement.Amount).Float64()
			if dev < 1 {
				amountScore = 1 - dev
			}
		}

		days := models.DaysBetween(movement.Date, invoice.IssueDate)
		dateScore := dateCloseness(days)

		textScore := TextSimilarity(concept, invoice.CounterpartyName)

		score := config.HeuristicWeights.Amount*amountScore +
			config.HeuristicWeights.Date*dateScore +
			config.HeuristicWeights.Text*textScore
		if rfcs[strings.ToUpper(invoice.CounterpartyID)] {
			score += counterpartyBoost
		}
		if score < suggestionFloor {
			continue
		}

		confidence := score
		if limit := config.confidence(s.Name()); confidence > limit {
			confidence = limit
		}
		candidates = append(candidates, Candidate{
			Invoice:        invoice,
			Method:         s.Name(),
			Confidence:     confidence,
			AmountDiff:     amountDiff,
			DaysDiff:       days,
			TextSimilarity: textScore,
			ClaimIDs:       []string{invoice.UUID},
		})
	}
	return candidates
}

// dateCloseness decays linearly from 1 at zero days to 0 at thirty days.
func dateCloseness(days int) float64 {
	if days >= 30 {
		return 0
	}
	return 1 - float64(days)/30
}

// historicalStrategy matches a movement whose concept resembles a prior
// manual reconciliation, proposing invoices from the same counterparty.
type historicalStrategy struct{}

func (s *historicalStrategy) Name() models.MatchMethod { return models.MethodPatronHistorico }

func (s *historicalStrategy) Evaluate(movement *models.BankMovement, index *CandidateIndex, config *MatchingConfig) []Candidate {
	concept := CleanBankConcept(movement.Concept)
	if concept == "" {
		return nil
	}

	// Best pattern similarity per counterparty.
	matched := make(map[string]float64)
	for _, pattern := range index.Patterns() {
		similarity := TextSimilarity(concept, CleanBankConcept(pattern.Concept))
		if similarity < config.PatternSimilarity {
			continue
		}
		if similarity > matched[pattern.CounterpartyID] {
			matched[pattern.CounterpartyID] = similarity
		}
	}
	if len(matched) == 0 {
		return nil
	}

	from := movement.Date.AddDate(0, 0, -config.HeuristicWindowDays)
	to := movement.Date.AddDate(0, 0, config.HeuristicWindowDays)

	var candidates []Candidate
	for counterparty, similarity := range matched {
		for _, invoice := range index.ByCounterparty(counterparty) {
			if invoice.IssueDate.Before(from) || invoice.IssueDate.After(to) {
				continue
			}
			candidates = append(candidates, Candidate{
				Invoice:        invoice,
				Method:         s.Name(),
				Confidence:     config.confidence(s.Name()),
				AmountDiff:     movement.Amount.Sub(invoice.Total).Abs(),
				DaysDiff:       models.DaysBetween(movement.Date, invoice.IssueDate),
				TextSimilarity: similarity,
				ClaimIDs:       []string{invoice.UUID},
			})
		}
	}
	return candidates
}
