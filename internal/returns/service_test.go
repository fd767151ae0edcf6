package returns_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/observability"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/returns"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/testing/memstore"
)

var (
	ipp   = shared.Principal{UserID: 7, Role: shared.RoleIPP}
	admin = shared.Principal{UserID: 1, Role: shared.RoleAdmin}
)

type counter struct{ calls int }

func (c *counter) Invalidate(context.Context) { c.calls++ }

type fixture struct {
	store       *memstore.Store
	delegations *delegations.Service
	sales       *sales.Service
	returns     *returns.Service
	salesCache  *counter
	stockCache  *counter
}

func newFixture() fixture {
	store := memstore.New()
	metrics := observability.NewMetrics()
	f := fixture{store: store, salesCache: &counter{}, stockCache: &counter{}}
	f.delegations = delegations.NewService(store.Delegations(), nil, nil, metrics, nil)
	f.sales = sales.NewService(store.Sales(), nil, nil, nil, metrics, nil)
	f.returns = returns.NewService(store.Returns(), nil, f.salesCache, f.stockCache, metrics, nil)
	return f
}

func (f fixture) sell(t *testing.T, actor shared.Principal, lines ...sales.LineInput) sales.Receipt {
	t.Helper()
	r, err := f.sales.Record(context.Background(), sales.RecordInput{Lines: lines, Actor: actor})
	require.NoError(t, err)
	return r
}

func (f fixture) giveBack(t *testing.T, saleID, med, qty int64) returns.Return {
	t.Helper()
	r, err := f.returns.Create(context.Background(), returns.CreateInput{
		SaleID: saleID,
		Items:  []returns.ItemInput{{MedicineID: med, Quantity: qty}},
		Actor:  admin,
	})
	require.NoError(t, err)
	return r
}

func TestDelegatedSaleReturnGoesBackToDelegation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Amoxicillin", 100, "50")
	_, err := f.delegations.Create(ctx, delegations.CreateInput{MedicineID: med, DelegatedTo: shared.RoleIPP, Quantity: 30})
	require.NoError(t, err)
	receipt := f.sell(t, ipp, sales.LineInput{MedicineID: med, Quantity: 10})
	require.EqualValues(t, 70, f.store.Quantity(med))
	require.EqualValues(t, 20, f.store.RoleRemaining(med, shared.RoleIPP))

	ret := f.giveBack(t, receipt.ID, med, 10)
	assert.True(t, ret.IsFullReturn)
	assert.True(t, decimal.RequireFromString("500").Equal(ret.TotalReturned))
	require.Len(t, ret.Items, 1)
	require.Len(t, ret.Items[0].Credits, 1)

	assert.EqualValues(t, 70, f.store.Quantity(med))
	assert.EqualValues(t, 30, f.store.RoleRemaining(med, shared.RoleIPP))
	line, ok := f.store.Line(receipt.ID, med)
	require.True(t, ok)
	assert.Equal(t, sales.StatusReturned, line.Status)
	assert.EqualValues(t, 10, line.ReturnedQuantity)
	assert.Equal(t, 1, f.salesCache.calls)
	assert.Zero(t, f.stockCache.calls)
}

func TestCentralSaleReturnGoesBackToStock(t *testing.T) {
	f := newFixture()
	med := f.store.AddMedicine("Paracetamol", 20, "10")
	receipt := f.sell(t, admin, sales.LineInput{MedicineID: med, Quantity: 6})
	require.EqualValues(t, 14, f.store.Quantity(med))

	ret := f.giveBack(t, receipt.ID, med, 4)
	assert.False(t, ret.IsFullReturn)
	assert.Empty(t, ret.Items[0].Credits)
	assert.EqualValues(t, 18, f.store.Quantity(med))
	assert.Equal(t, 1, f.stockCache.calls)
}

func TestPartialReturnsThenOverReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Paracetamol", 20, "10")
	receipt := f.sell(t, admin, sales.LineInput{MedicineID: med, Quantity: 5})

	f.giveBack(t, receipt.ID, med, 2)
	line, _ := f.store.Line(receipt.ID, med)
	assert.Equal(t, sales.StatusPartialReturn, line.Status)
	assert.EqualValues(t, 2, line.ReturnedQuantity)

	second := f.giveBack(t, receipt.ID, med, 3)
	assert.True(t, second.IsFullReturn)
	line, _ = f.store.Line(receipt.ID, med)
	assert.Equal(t, sales.StatusReturned, line.Status)
	assert.EqualValues(t, 5, line.ReturnedQuantity)

	_, err := f.returns.Create(ctx, returns.CreateInput{
		SaleID: receipt.ID,
		Items:  []returns.ItemInput{{MedicineID: med, Quantity: 1}},
		Actor:  admin,
	})
	var over *shared.OverReturnError
	require.ErrorAs(t, err, &over)
	assert.EqualValues(t, 0, over.Outstanding)
	assert.EqualValues(t, 1, over.Requested)
	assert.EqualValues(t, 20, f.store.Quantity(med))
	_, _, n := f.store.Counts()
	assert.Equal(t, 2, n)
}

func TestCreateRejectsUnknownSaleAndMedicine(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Paracetamol", 20, "10")
	other := f.store.AddMedicine("Ibuprofen", 20, "10")
	receipt := f.sell(t, admin, sales.LineInput{MedicineID: med, Quantity: 5})

	_, err := f.returns.Create(ctx, returns.CreateInput{SaleID: 999, Items: []returns.ItemInput{{MedicineID: med, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.returns.Create(ctx, returns.CreateInput{SaleID: receipt.ID, Items: []returns.ItemInput{{MedicineID: other, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.returns.Create(ctx, returns.CreateInput{SaleID: receipt.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReturnCreditsNewestAllocationFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Amoxicillin", 100, "50")
	older, err := f.delegations.Create(ctx, delegations.CreateInput{
		MedicineID: med, DelegatedTo: shared.RoleIPP, Quantity: 4, DelegationDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	newer, err := f.delegations.Create(ctx, delegations.CreateInput{
		MedicineID: med, DelegatedTo: shared.RoleIPP, Quantity: 10, DelegationDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	receipt := f.sell(t, ipp, sales.LineInput{MedicineID: med, Quantity: 7})
	require.EqualValues(t, 0, f.store.Remaining(older.ID))
	require.EqualValues(t, 7, f.store.Remaining(newer.ID))

	ret := f.giveBack(t, receipt.ID, med, 5)
	credits := ret.Items[0].Credits
	require.Len(t, credits, 2)
	assert.Equal(t, newer.ID, credits[0].DelegationID)
	assert.EqualValues(t, 3, credits[0].Quantity)
	assert.Equal(t, older.ID, credits[1].DelegationID)
	assert.EqualValues(t, 2, credits[1].Quantity)
	assert.EqualValues(t, 2, f.store.Remaining(older.ID))
	assert.EqualValues(t, 10, f.store.Remaining(newer.ID))
}

func TestDeleteReturnIsExactInverse(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Amoxicillin", 100, "50")
	_, err := f.delegations.Create(ctx, delegations.CreateInput{MedicineID: med, DelegatedTo: shared.RoleIPP, Quantity: 30})
	require.NoError(t, err)
	receipt := f.sell(t, ipp, sales.LineInput{MedicineID: med, Quantity: 10})

	for i := 0; i < 2; i++ {
		ret := f.giveBack(t, receipt.ID, med, 4)
		assert.EqualValues(t, 24, f.store.RoleRemaining(med, shared.RoleIPP))
		require.NoError(t, f.returns.Delete(ctx, ret.ID, admin))

		assert.EqualValues(t, 70, f.store.Quantity(med))
		assert.EqualValues(t, 20, f.store.RoleRemaining(med, shared.RoleIPP))
		line, _ := f.store.Line(receipt.ID, med)
		assert.Equal(t, sales.StatusCompleted, line.Status)
		assert.Zero(t, line.ReturnedQuantity)
		_, err := f.returns.Get(ctx, ret.ID)
		require.ErrorIs(t, err, shared.ErrNotFound)
	}
}

func TestDeleteRejectedWhenRestoredStockWasSold(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Paracetamol", 5, "10")
	receipt := f.sell(t, admin, sales.LineInput{MedicineID: med, Quantity: 5})
	ret := f.giveBack(t, receipt.ID, med, 3)
	require.EqualValues(t, 3, f.store.Quantity(med))
	f.sell(t, admin, sales.LineInput{MedicineID: med, Quantity: 2})

	err := f.returns.Delete(ctx, ret.ID, admin)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.EqualValues(t, 1, stockErr.Available)
	assert.EqualValues(t, 3, stockErr.Requested)

	assert.EqualValues(t, 1, f.store.Quantity(med))
	line, _ := f.store.Line(receipt.ID, med)
	assert.EqualValues(t, 3, line.ReturnedQuantity)
	_, err = f.returns.Get(ctx, ret.ID)
	require.NoError(t, err)
}

func TestDeleteUnknownReturn(t *testing.T) {
	f := newFixture()
	err := f.returns.Delete(context.Background(), 42, admin)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateReplaysIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Paracetamol", 20, "10")
	receipt := f.sell(t, admin, sales.LineInput{MedicineID: med, Quantity: 5})
	in := returns.CreateInput{
		SaleID:         receipt.ID,
		Items:          []returns.ItemInput{{MedicineID: med, Quantity: 2}},
		Actor:          admin,
		IdempotencyKey: "ret-1",
	}
	first, err := f.returns.Create(ctx, in)
	require.NoError(t, err)
	second, err := f.returns.Create(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.EqualValues(t, 17, f.store.Quantity(med))
}

func TestRefundOverrideAndListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Paracetamol", 20, "10")
	receipt := f.sell(t, admin, sales.LineInput{MedicineID: med, Quantity: 5})
	refund := decimal.RequireFromString("7.50")
	ret, err := f.returns.Create(ctx, returns.CreateInput{
		SaleID: receipt.ID,
		Items:  []returns.ItemInput{{MedicineID: med, Quantity: 1, RefundAmount: &refund}},
		Actor:  admin,
	})
	require.NoError(t, err)
	assert.True(t, refund.Equal(ret.TotalReturned))
	assert.True(t, receipt.TotalAmount.Equal(ret.TotalOriginal))

	items, page, err := f.returns.List(ctx, returns.ListFilter{SaleID: receipt.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Paracetamol", items[0].Items[0].MedicineName)

	items, _, err = f.returns.List(ctx, returns.ListFilter{SaleID: receipt.ID + 100})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDiscountedReturnRefundsWhatWasPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Ceftriaxone", 50, "200")
	flat := decimal.RequireFromString("-500")
	receipt, err := f.sales.Record(ctx, sales.RecordInput{
		Lines:    []sales.LineInput{{MedicineID: med, Quantity: 10}},
		Discount: &flat,
		Actor:    admin,
	})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("1500").Equal(receipt.TotalAmount), receipt.TotalAmount.String())

	first := f.giveBack(t, receipt.ID, med, 3)
	assert.True(t, decimal.RequireFromString("450").Equal(first.TotalReturned), first.TotalReturned.String())
	rest := f.giveBack(t, receipt.ID, med, 7)
	assert.True(t, decimal.RequireFromString("1050").Equal(rest.TotalReturned), rest.TotalReturned.String())
	assert.True(t, rest.IsFullReturn)

	result, err := f.sales.List(ctx, sales.ListFilter{})
	require.NoError(t, err)
	assert.True(t, result.Totals.Revenue.IsZero(), result.Totals.Revenue.String())
	assert.True(t, decimal.RequireFromString("1500").Equal(result.Totals.Refunded), result.Totals.Refunded.String())
}

func TestRefundCannotExceedWhatWasPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	med := f.store.AddMedicine("Ceftriaxone", 50, "200")
	receipt := f.sell(t, admin, sales.LineInput{MedicineID: med, Quantity: 2})

	huge := decimal.RequireFromString("1000000")
	_, err := f.returns.Create(ctx, returns.CreateInput{
		SaleID: receipt.ID,
		Items:  []returns.ItemInput{{MedicineID: med, Quantity: 1, RefundAmount: &huge}},
		Actor:  admin,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.EqualValues(t, 48, f.store.Quantity(med))

	generous := decimal.RequireFromString("350")
	_, err = f.returns.Create(ctx, returns.CreateInput{
		SaleID: receipt.ID,
		Items:  []returns.ItemInput{{MedicineID: med, Quantity: 1, RefundAmount: &generous}},
		Actor:  admin,
	})
	require.NoError(t, err)

	more := decimal.RequireFromString("60")
	_, err = f.returns.Create(ctx, returns.CreateInput{
		SaleID: receipt.ID,
		Items:  []returns.ItemInput{{MedicineID: med, Quantity: 1, RefundAmount: &more}},
		Actor:  admin,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	last := f.giveBack(t, receipt.ID, med, 1)
	assert.True(t, decimal.RequireFromString("50").Equal(last.TotalReturned), last.TotalReturned.String())

	result, err := f.sales.List(ctx, sales.ListFilter{})
	require.NoError(t, err)
	assert.True(t, result.Totals.Revenue.IsZero(), result.Totals.Revenue.String())
}
