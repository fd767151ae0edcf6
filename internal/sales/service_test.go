package sales_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/observability"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/cache"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/testing/memstore"
)

var (
	ipp   = shared.Principal{UserID: 7, Name: "IPP Nurse", Role: shared.RoleIPP}
	admin = shared.Principal{UserID: 1, Name: "Admin", Role: shared.RoleAdmin}
)

type fixture struct {
	store       *memstore.Store
	sales       *sales.Service
	delegations *delegations.Service
}

func newFixture(t *testing.T, c sales.CachePort) fixture {
	t.Helper()
	store := memstore.New()
	metrics := observability.NewMetrics()
	return fixture{
		store:       store,
		sales:       sales.NewService(store.Sales(), c, nil, nil, metrics, nil),
		delegations: delegations.NewService(store.Delegations(), nil, nil, metrics, nil),
	}
}

func (f fixture) delegate(t *testing.T, med int64, role shared.Role, qty int64, date time.Time) delegations.Delegation {
	t.Helper()
	d, err := f.delegations.Create(context.Background(), delegations.CreateInput{
		MedicineID: med, DelegatedTo: role, Quantity: qty, DelegationDate: date, ActorID: admin.UserID,
	})
	require.NoError(t, err)
	return d
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestIPPSaleDrawsFromDelegationOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	med := f.store.AddMedicine("Amoxicillin", 100, "50")
	f.delegate(t, med, shared.RoleIPP, 30, time.Time{})

	receipt, err := f.sales.Record(ctx, sales.RecordInput{
		PatientName: "Ada",
		Lines:       []sales.LineInput{{MedicineID: med, Quantity: 10}},
		Actor:       ipp,
	})
	require.NoError(t, err)
	require.Len(t, receipt.Lines, 1)
	line := receipt.Lines[0]
	assert.Equal(t, sales.StatusCompleted, line.Status)
	assert.Equal(t, sales.SourceDelegation, line.Source())
	assert.True(t, dec("500").Equal(receipt.TotalAmount), receipt.TotalAmount.String())
	assert.NotEmpty(t, receipt.Reference)

	assert.EqualValues(t, 70, f.store.Quantity(med))
	assert.EqualValues(t, 20, f.store.RoleRemaining(med, shared.RoleIPP))
}

func TestSaleAllocatesOldestDelegationFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	med := f.store.AddMedicine("Amoxicillin", 100, "50")
	older := f.delegate(t, med, shared.RoleDispensary, 5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := f.delegate(t, med, shared.RoleDispensary, 10, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	receipt, err := f.sales.Record(ctx, sales.RecordInput{
		Lines: []sales.LineInput{{MedicineID: med, Quantity: 8}},
		Actor: shared.Principal{UserID: 3, Role: shared.RoleDispensary},
	})
	require.NoError(t, err)
	allocs := receipt.Lines[0].Allocations
	require.Len(t, allocs, 2)
	assert.Equal(t, older.ID, allocs[0].DelegationID)
	assert.EqualValues(t, 5, allocs[0].Quantity)
	assert.Equal(t, newer.ID, allocs[1].DelegationID)
	assert.EqualValues(t, 3, allocs[1].Quantity)

	assert.EqualValues(t, 0, f.store.Remaining(older.ID))
	assert.EqualValues(t, 7, f.store.Remaining(newer.ID))
}

func TestSaleNeverTouchesAnotherRolesDelegation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	med := f.store.AddMedicine("Amoxicillin", 100, "50")
	f.delegate(t, med, shared.RoleDispensary, 30, time.Time{})

	_, err := f.sales.Record(ctx, sales.RecordInput{
		Lines: []sales.LineInput{{MedicineID: med, Quantity: 1}},
		Actor: ipp,
	})
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.EqualValues(t, 0, stockErr.Available)
	assert.EqualValues(t, 30, f.store.RoleRemaining(med, shared.RoleDispensary))
}

func TestCentralSaleDecrementsStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	med := f.store.AddMedicine("Paracetamol", 40, "12.50")

	receipt, err := f.sales.Record(ctx, sales.RecordInput{
		Lines: []sales.LineInput{{MedicineID: med, Quantity: 4, SellingPrice: ptr(dec("15"))}},
		Actor: admin,
	})
	require.NoError(t, err)
	assert.Equal(t, sales.SourceCentral, receipt.Lines[0].Source())
	assert.True(t, dec("60").Equal(receipt.Subtotal))
	assert.EqualValues(t, 36, f.store.Quantity(med))

	_, err = f.sales.Record(ctx, sales.RecordInput{
		Lines: []sales.LineInput{{MedicineID: med, Quantity: 37}},
		Actor: admin,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.EqualValues(t, 36, f.store.Quantity(med))
}

func TestZeroSellingPriceSellsForFree(t *testing.T) {
	f := newFixture(t, nil)
	med := f.store.AddMedicine("Oral rehydration salts", 10, "8")

	receipt, err := f.sales.Record(context.Background(), sales.RecordInput{
		Lines: []sales.LineInput{{MedicineID: med, Quantity: 2, SellingPrice: ptr(dec("0"))}},
		Actor: admin,
	})
	require.NoError(t, err)
	assert.True(t, receipt.Lines[0].SellingPrice.IsZero())
	assert.True(t, receipt.TotalAmount.IsZero(), receipt.TotalAmount.String())
	assert.EqualValues(t, 8, f.store.Quantity(med))
}

func TestMultiLineSaleIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.store.AddMedicine("Amoxicillin", 10, "50")
	b := f.store.AddMedicine("Paracetamol", 2, "10")

	_, err := f.sales.Record(ctx, sales.RecordInput{
		Lines: []sales.LineInput{{MedicineID: a, Quantity: 5}, {MedicineID: b, Quantity: 3}},
		Actor: admin,
	})
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, b, stockErr.MedicineID)
	assert.EqualValues(t, 10, f.store.Quantity(a))
	_, receipts, _ := f.store.Counts()
	assert.Zero(t, receipts)
}

func TestSaleRollsBackWhenInsertFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	med := f.store.AddMedicine("Amoxicillin", 100, "50")
	f.delegate(t, med, shared.RoleIPP, 30, time.Time{})
	f.store.FailOn("InsertAllocation", errors.New("connection reset"))

	_, err := f.sales.Record(ctx, sales.RecordInput{Lines: []sales.LineInput{{MedicineID: med, Quantity: 10}}, Actor: ipp})
	require.Error(t, err)
	_, receipts, _ := f.store.Counts()
	assert.Zero(t, receipts)
	assert.EqualValues(t, 30, f.store.RoleRemaining(med, shared.RoleIPP))
}

func TestSaleValidation(t *testing.T) {
	f := newFixture(t, nil)
	med := f.store.AddMedicine("Amoxicillin", 100, "50")
	for _, in := range []sales.RecordInput{
		{Actor: admin},
		{Lines: []sales.LineInput{{MedicineID: med, Quantity: 0}}, Actor: admin},
		{Lines: []sales.LineInput{{MedicineID: med, Quantity: 1}, {MedicineID: med, Quantity: 2}}, Actor: admin},
		{Lines: []sales.LineInput{{MedicineID: med, Quantity: 1, SellingPrice: ptr(dec("-1"))}}, Actor: admin},
		{Lines: []sales.LineInput{{MedicineID: med, Quantity: 1}}, Actor: shared.Principal{Role: "pharmacist"}},
	} {
		_, err := f.sales.Record(context.Background(), in)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	bad := dec("101")
	_, err := f.sales.Record(context.Background(), sales.RecordInput{
		Lines: []sales.LineInput{{MedicineID: med, Quantity: 1}}, Actor: admin, Discount: &bad,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDiscounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	med := f.store.AddMedicine("Insulin", 1000, "100")
	f.store.SetUnitDiscount("Paediatrics", dec("10"))
	f.store.SetUnitDiscount("Staff", dec("-500"))

	cases := []struct {
		name     string
		unit     string
		override *decimal.Decimal
		total    string
	}{
		{name: "percentage unit", unit: "paediatrics", total: "1800"},
		{name: "flat unit", unit: "Staff", total: "1500"},
		{name: "unknown unit", unit: "Radiology", total: "2000"},
		{name: "override wins", unit: "Staff", override: ptr(dec("25")), total: "1500"},
		{name: "flat above subtotal", override: ptr(dec("-5000")), total: "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			receipt, err := f.sales.Record(ctx, sales.RecordInput{
				Unit:     tc.unit,
				Discount: tc.override,
				Lines:    []sales.LineInput{{MedicineID: med, Quantity: 20}},
				Actor:    admin,
			})
			require.NoError(t, err)
			assert.True(t, dec("2000").Equal(receipt.Subtotal))
			assert.True(t, dec(tc.total).Equal(receipt.TotalAmount), "total %s", receipt.TotalAmount)
		})
	}
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func TestRecordReplaysIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	med := f.store.AddMedicine("Amoxicillin", 100, "50")
	in := sales.RecordInput{Lines: []sales.LineInput{{MedicineID: med, Quantity: 3}}, Actor: admin, IdempotencyKey: "sale-1"}

	first, err := f.sales.Record(ctx, in)
	require.NoError(t, err)
	second, err := f.sales.Record(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Reference, second.Reference)
	assert.EqualValues(t, 97, f.store.Quantity(med))
}

func TestListTotalsAreCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, cache.NewVersioned(client, "sales", time.Minute))
	med := f.store.AddMedicine("Amoxicillin", 100, "50")

	day := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)
	_, err := f.sales.Record(ctx, sales.RecordInput{Lines: []sales.LineInput{{MedicineID: med, Quantity: 2}}, Actor: admin, SaleDate: day})
	require.NoError(t, err)

	filter := sales.ListFilter{From: day.Truncate(24 * time.Hour), To: day.Truncate(24 * time.Hour)}
	result, err := f.sales.List(ctx, filter)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.EqualValues(t, 1, result.Totals.TxCount)
	assert.EqualValues(t, 2, result.Totals.ItemsSold)
	assert.True(t, dec("100").Equal(result.Totals.Revenue))

	_, err = f.sales.Record(ctx, sales.RecordInput{Lines: []sales.LineInput{{MedicineID: med, Quantity: 1}}, Actor: admin, SaleDate: day.Add(time.Hour)})
	require.NoError(t, err)
	result, err = f.sales.List(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
	assert.EqualValues(t, 2, result.Totals.TxCount)
	assert.EqualValues(t, 3, result.Totals.ItemsSold)

	outside, err := f.sales.List(ctx, sales.ListFilter{From: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Empty(t, outside.Items)
	assert.Zero(t, outside.Totals.TxCount)

	_, err = f.sales.List(ctx, sales.ListFilter{From: day, To: day.AddDate(0, 0, -1)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestGetUnknownReceipt(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sales.Get(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
