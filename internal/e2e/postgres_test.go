//go:build integration

package e2e

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/db"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/migrations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/returns"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

type pgLedger struct {
	pool        *pgxpool.Pool
	medicines   *medicines.Repository
	delegations *delegations.Service
	sales       *sales.Service
	returns     *returns.Service
}

func newPostgres(t *testing.T) pgLedger {
	t.Helper()
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pharmacy_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	migrator, err := migrations.New(dsn, nil)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := db.New(ctx, dsn, 20)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	audit := shared.NewAuditLogger(pool)
	return pgLedger{
		pool:        pool,
		medicines:   medicines.NewRepository(pool),
		delegations: delegations.NewService(delegations.NewRepository(pool), audit, nil, nil, nil),
		sales:       sales.NewService(sales.NewRepository(pool), nil, audit, nil, nil, nil),
		returns:     returns.NewService(returns.NewRepository(pool), audit, nil, nil, nil, nil),
	}
}

func (l pgLedger) medicine(t *testing.T, qty int64) int64 {
	t.Helper()
	m, err := l.medicines.Create(context.Background(), medicines.Medicine{
		Name:              "Amoxicillin 500mg",
		Quantity:          qty,
		SellingPrice:      decimal.RequireFromString("20"),
		LowStockThreshold: 10,
	})
	require.NoError(t, err)
	return m.ID
}

func (l pgLedger) central(t *testing.T, id int64) int64 {
	t.Helper()
	var q int64
	require.NoError(t, l.pool.QueryRow(context.Background(), `SELECT quantity FROM medicines WHERE id = $1`, id).Scan(&q))
	return q
}

func (l pgLedger) roleRemaining(t *testing.T, id int64, role shared.Role) int64 {
	t.Helper()
	items, _, err := l.delegations.List(context.Background(), delegations.ListFilter{MedicineID: id, DelegatedTo: role})
	require.NoError(t, err)
	var total int64
	for _, d := range items {
		total += d.RemainingQuantity
	}
	return total
}

func TestPostgresLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newPostgres(t)
	m := l.medicine(t, 100)

	_, err := l.delegations.Create(ctx, delegations.CreateInput{MedicineID: m, DelegatedTo: shared.RoleIPP, Quantity: 150})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = l.delegations.Create(ctx, delegations.CreateInput{MedicineID: m, DelegatedTo: shared.RoleIPP, Quantity: 30, ActorID: 1})
	require.NoError(t, err)
	require.EqualValues(t, 70, l.central(t, m))
	require.EqualValues(t, 30, l.roleRemaining(t, m, shared.RoleIPP))

	receipt, err := l.sales.Record(ctx, sales.RecordInput{
		Lines:          []sales.LineInput{{MedicineID: m, Quantity: 10}},
		Actor:          ippNurse,
		IdempotencyKey: "pg-sale-1",
	})
	require.NoError(t, err)
	replay, err := l.sales.Record(ctx, sales.RecordInput{
		Lines:          []sales.LineInput{{MedicineID: m, Quantity: 10}},
		Actor:          ippNurse,
		IdempotencyKey: "pg-sale-1",
	})
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.Equal(t, receipt.ID, replay.ID)
	require.EqualValues(t, 20, l.roleRemaining(t, m, shared.RoleIPP))

	ret, err := l.returns.Create(ctx, returns.CreateInput{
		SaleID: receipt.ID,
		Items:  []returns.ItemInput{{MedicineID: m, Quantity: 4}},
		Actor:  ippNurse,
	})
	require.NoError(t, err)
	require.EqualValues(t, 24, l.roleRemaining(t, m, shared.RoleIPP))

	got, err := l.sales.Get(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusPartialReturn, got.Lines[0].Status)

	require.NoError(t, l.returns.Delete(ctx, ret.ID, admin))
	require.EqualValues(t, 20, l.roleRemaining(t, m, shared.RoleIPP))
	got, err = l.sales.Get(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusCompleted, got.Lines[0].Status)
	require.EqualValues(t, 70, l.central(t, m))

	result, err := l.sales.List(ctx, sales.ListFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, result.Totals.TxCount)
	require.EqualValues(t, 10, result.Totals.ItemsSold)
}

func TestPostgresConcurrentSalesNeverOversell(t *testing.T) {
	ctx := context.Background()
	l := newPostgres(t)
	m := l.medicine(t, 100)
	_, err := l.delegations.Create(ctx, delegations.CreateInput{MedicineID: m, DelegatedTo: shared.RoleIPP, Quantity: 30})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.sales.Record(ctx, sales.RecordInput{Lines: []sales.LineInput{{MedicineID: m, Quantity: 2}}, Actor: ippNurse})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, shared.ErrInsufficientStock):
				fail++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 15, ok)
	require.Equal(t, 5, fail)
	require.EqualValues(t, 0, l.roleRemaining(t, m, shared.RoleIPP))
	require.EqualValues(t, 70, l.central(t, m))
}
