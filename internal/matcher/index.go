package matcher

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cfdi-reconciler/internal/models"
)

// HistoricalPattern is a digest of a prior manual reconciliation used by the
// historical-pattern strategy: what the bank concept looked like and which
// counterparty the accountant assigned it to.
type HistoricalPattern struct {
	CounterpartyID string
	Concept        string
	Reference      string
}

// CandidateIndex provides the per-run lookup structures over a company's
// invoice set. It is built once per run, restricted to the statement period
// plus a lookback window, and is read-only afterwards so concurrent matching
// workers can share it without locking.
type CandidateIndex struct {
	invoices []*models.InvoiceRecord

	// exactAmount maps a currency-exact amount to the invoices issued for it.
	exactAmount map[string][]*models.InvoiceRecord

	// byDate holds invoices sorted by issue date for O(log n) range queries.
	byDate []*models.InvoiceRecord

	// tokens maps normalized reference tokens (UUID, folio, serie+folio) to
	// the invoices that carry them.
	tokens map[string][]*models.InvoiceRecord

	// byCounterparty groups invoices by issuer RFC for the historical and
	// heuristic strategies.
	byCounterparty map[string][]*models.InvoiceRecord

	patterns []HistoricalPattern

	periodStart time.Time
	periodEnd   time.Time
}

// NewCandidateIndex builds the index over invoices whose issue date falls in
// [periodStart - lookbackDays, periodEnd + lookbackDays]. Historical patterns
// from prior manual reconciliations may be nil.
func NewCandidateIndex(invoices []*models.InvoiceRecord, patterns []HistoricalPattern,
	periodStart, periodEnd time.Time, lookbackDays int) *CandidateIndex {

	windowStart := periodStart.AddDate(0, 0, -lookbackDays)
	windowEnd := periodEnd.AddDate(0, 0, lookbackDays)

	index := &CandidateIndex{
		exactAmount:    make(map[string][]*models.InvoiceRecord),
		tokens:         make(map[string][]*models.InvoiceRecord),
		byCounterparty: make(map[string][]*models.InvoiceRecord),
		patterns:       patterns,
		periodStart:    periodStart,
		periodEnd:      periodEnd,
	}

	for _, invoice := range invoices {
		if invoice.IssueDate.Before(windowStart) || invoice.IssueDate.After(windowEnd) {
			continue
		}
		index.invoices = append(index.invoices, invoice)

		amountKey := invoice.Total.String()
		index.exactAmount[amountKey] = append(index.exactAmount[amountKey], invoice)

		for _, token := range invoiceTokens(invoice) {
			index.tokens[token] = append(index.tokens[token], invoice)
		}

		if invoice.CounterpartyID != "" {
			key := strings.ToUpper(invoice.CounterpartyID)
			index.byCounterparty[key] = append(index.byCounterparty[key], invoice)
		}
	}

	index.byDate = make([]*models.InvoiceRecord, len(index.invoices))
	copy(index.byDate, index.invoices)
	sort.Slice(index.byDate, func(i, j int) bool {
		if !index.byDate[i].IssueDate.Equal(index.byDate[j].IssueDate) {
			return index.byDate[i].IssueDate.Before(index.byDate[j].IssueDate)
		}
		return index.byDate[i].UUID < index.byDate[j].UUID
	})

	return index
}

// invoiceTokens derives the searchable tokens of an invoice: its UUID (dashed
// and dashless), its folio, and the serie+folio concatenation.
func invoiceTokens(invoice *models.InvoiceRecord) []string {
	var tokens []string
	if invoice.UUID != "" {
		uuid := strings.ToLower(invoice.UUID)
		tokens = append(tokens, uuid, strings.ReplaceAll(uuid, "-", ""))
	}
	if invoice.Folio != "" {
		tokens = append(tokens, strings.ToLower(invoice.Folio))
		if invoice.Serie != "" {
			tokens = append(tokens, strings.ToLower(invoice.Serie+invoice.Folio))
		}
	}
	return tokens
}

// ExactAmount returns the invoices issued for exactly the given amount.
func (idx *CandidateIndex) ExactAmount(amount decimal.Decimal) []*models.InvoiceRecord {
	return idx.exactAmount[amount.String()]
}

// InDateRange returns the invoices issued in [from, to], inclusive, ordered
// by issue date.
func (idx *CandidateIndex) InDateRange(from, to time.Time) []*models.InvoiceRecord {
	lo := sort.Search(len(idx.byDate), func(i int) bool {
		return !idx.byDate[i].IssueDate.Before(from)
	})
	hi := sort.Search(len(idx.byDate), func(i int) bool {
		return idx.byDate[i].IssueDate.After(to)
	})
	if lo >= hi {
		return nil
	}
	return idx.byDate[lo:hi]
}

// ByToken returns the invoices whose UUID, folio or serie+folio equals the
// given token (case-insensitive).
func (idx *CandidateIndex) ByToken(token string) []*models.InvoiceRecord {
	return idx.tokens[strings.ToLower(token)]
}

// ByCounterparty returns the invoices issued by the given RFC.
func (idx *CandidateIndex) ByCounterparty(rfc string) []*models.InvoiceRecord {
	return idx.byCounterparty[strings.ToUpper(rfc)]
}

// Patterns returns the historical manual-reconciliation patterns.
func (idx *CandidateIndex) Patterns() []HistoricalPattern {
	return idx.patterns
}

// Invoices returns every invoice in the index window.
func (idx *CandidateIndex) Invoices() []*models.InvoiceRecord {
	return idx.invoices
}

// Period returns the statement period the index was built for, without the
// lookback extension.
func (idx *CandidateIndex) Period() (time.Time, time.Time) {
	return idx.periodStart, idx.periodEnd
}

// Size returns the number of indexed invoices.
func (idx *CandidateIndex) Size() int {
	return len(idx.invoices)
}
