package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfdi-reconciler/internal/models"
	"cfdi-reconciler/pkg/errors"
)

func storeMovement(id string, date time.Time, amount float64, status models.MovementStatus) *models.BankMovement {
	return &models.BankMovement{
		ID:        id,
		CompanyID: "AAA010101AAA",
		Date:      date,
		Amount:    decimal.NewFromFloat(amount),
		Direction: models.DirectionAbono,
		Status:    status,
	}
}

func TestMemoryStoreMovements(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	jan10 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	jan20 := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveMovements(ctx, []*models.BankMovement{
		storeMovement("m2", jan20, 200, models.StatusPendiente),
		storeMovement("m1", jan10, 100, models.StatusPendiente),
	}))

	movements, err := store.MovementsByPeriod(ctx, "AAA010101AAA",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, "m1", movements[0].ID, "movements should come back date-ordered")

	// Updates are copies: mutating the returned value must not leak.
	movements[0].Status = models.StatusConciliado
	reloaded, err := store.MovementByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendiente, reloaded.Status)

	_, err = store.MovementByID(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryStoreQueryFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var movements []*models.BankMovement
	for i := 0; i < 10; i++ {
		m := storeMovement(
			string(rune('a'+i)), base.AddDate(0, 0, i), float64(100*(i+1)),
			models.StatusPendiente)
		if i%2 == 0 {
			m.Status = models.StatusConciliado
			m.MatchedInvoiceID = "inv"
			m.MatchMethod = models.MethodExacto
		}
		movements = append(movements, m)
	}
	require.NoError(t, store.SaveMovements(ctx, movements))

	pending, total, err := store.QueryMovements(ctx, MovementFilter{
		CompanyID: "AAA010101AAA",
		Status:    models.StatusPendiente,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, pending, 5)

	min := decimal.NewFromInt(500)
	page, total, err := store.QueryMovements(ctx, MovementFilter{
		CompanyID: "AAA010101AAA",
		AmountMin: &min,
		Limit:     2,
		Offset:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, total, "total counts matches before pagination")
	require.Len(t, page, 2)
	assert.Equal(t, "g", page[0].ID)
}

func TestMemoryStoreRunConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	run := &models.ReconciliationRun{
		ID:        "run-1",
		CompanyID: "AAA010101AAA",
		Month:     1,
		Year:      2024,
		Status:    models.RunActive,
		StartedAt: time.Now(),
	}
	require.NoError(t, store.CreateRun(ctx, run, false))

	// Active scope conflicts even with force.
	second := *run
	second.ID = "run-2"
	err := store.CreateRun(ctx, &second, true)
	require.True(t, errors.IsConflict(err))
	assert.Equal(t, errors.CodeRunInProgress, errors.GetCode(err))

	// Completed scope conflicts without force, yields with force.
	run.Status = models.RunCompleted
	require.NoError(t, store.UpdateRun(ctx, run))
	err = store.CreateRun(ctx, &second, false)
	require.True(t, errors.IsConflict(err))
	require.NoError(t, store.CreateRun(ctx, &second, true))

	stored, err := store.RunByScope(ctx, "AAA010101AAA", 1, 2024)
	require.NoError(t, err)
	assert.Equal(t, "run-2", stored.ID)
}

func TestMemoryStoreFailedRunFreesScope(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	run := &models.ReconciliationRun{
		ID:        "run-1",
		CompanyID: "AAA010101AAA",
		Month:     1,
		Year:      2024,
		Status:    models.RunActive,
		StartedAt: time.Now(),
	}
	require.NoError(t, store.CreateRun(ctx, run, false))

	run.Status = models.RunFailed
	require.NoError(t, store.UpdateRun(ctx, run))

	// Retrying a failed scope must not demand forzar_reproceso.
	retry := *run
	retry.ID = "run-2"
	retry.Status = models.RunActive
	require.NoError(t, store.CreateRun(ctx, &retry, false))

	stored, err := store.RunByScope(ctx, "AAA010101AAA", 1, 2024)
	require.NoError(t, err)
	assert.Equal(t, "run-2", stored.ID)
}

func TestMemoryStoreDuplicateFile(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	file := &models.StatementFile{
		ID:          "f1",
		CompanyID:   "AAA010101AAA",
		ContentHash: "abc123",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.SaveStatementFile(ctx, file))

	dup := *file
	dup.ID = "f2"
	err := store.SaveStatementFile(ctx, &dup)
	require.True(t, errors.IsConflict(err))
	assert.Equal(t, errors.CodeDuplicateFile, errors.GetCode(err))

	// Same hash for a different company is fine.
	other := *file
	other.ID = "f3"
	other.CompanyID = "BBB020202BBB"
	assert.NoError(t, store.SaveStatementFile(ctx, &other))
}

func TestMemoryStoreInvoices(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	invoice := &models.InvoiceRecord{
		UUID:          "INV-1",
		CompanyID:     "AAA010101AAA",
		IssueDate:     time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		Total:         decimal.NewFromInt(1500),
		PaymentScheme: models.SchemePUE,
	}
	require.NoError(t, store.SaveInvoices(ctx, []*models.InvoiceRecord{invoice}))

	// UUID lookup is case-insensitive.
	got, err := store.InvoiceByUUID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, invoice.UUID, got.UUID)

	period, err := store.InvoicesByPeriod(ctx, "AAA010101AAA",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, period, 1)

	none, err := store.InvoicesByPeriod(ctx, "BBB020202BBB",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, none, "invoices are scoped per company")
}
