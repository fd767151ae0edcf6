package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Sales returns the sale ledger view of the store.
func (s *Store) Sales() sales.Repository {
	return &saleRepo{s: s}
}

type saleRepo struct {
	s *Store
}

type saleTx struct {
	s *Store
}

func (r *saleRepo) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return r.s.withTx(func() error { return fn(ctx, &saleTx{s: r.s}) })
}

func (r *saleRepo) GetReceipt(ctx context.Context, id int64) (sales.Receipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	receipt, ok := r.s.st.receipt(id)
	if !ok {
		return sales.Receipt{}, shared.NotFoundf("sale %d", id)
	}
	return receipt, nil
}

func (r *saleRepo) matching(filter sales.ListFilter) []sales.Receipt {
	var out []sales.Receipt
	for _, rec := range r.s.st.receipts {
		if !filter.From.IsZero() && rec.SaleDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !rec.SaleDate.Before(filter.To.AddDate(0, 0, 1)) {
			continue
		}
		full, _ := r.s.st.receipt(rec.ID)
		out = append(out, full)
	}
	return out
}

func (r *saleRepo) ListReceipts(ctx context.Context, filter sales.ListFilter) ([]sales.Receipt, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.matching(filter)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SaleDate.Equal(out[j].SaleDate) {
			return out[i].SaleDate.After(out[j].SaleDate)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, filter.Page), len(out), nil
}

func (r *saleRepo) Totals(ctx context.Context, filter sales.ListFilter) (sales.Totals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	totals := sales.Totals{Revenue: decimal.Zero, Refunded: decimal.Zero}
	for _, rec := range r.matching(filter) {
		totals.TxCount++
		totals.Revenue = totals.Revenue.Add(rec.TotalAmount)
		for _, l := range rec.Lines {
			totals.ItemsSold += l.Outstanding()
		}
		for _, ret := range r.s.st.returns {
			if ret.SaleID == rec.ID {
				totals.Refunded = totals.Refunded.Add(ret.TotalReturned)
			}
		}
	}
	totals.Revenue = totals.Revenue.Sub(totals.Refunded)
	return totals, nil
}

func (r *saleRepo) UnitDiscount(ctx context.Context, unit string) (decimal.Decimal, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.st.units[strings.ToLower(unit)]
	return d, ok, nil
}

func (t *saleTx) ClaimIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	id, claimed := t.s.st.claim(shared.IdempotencySales, key)
	return id, claimed, nil
}

func (t *saleTx) CompleteIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	t.s.st.complete(shared.IdempotencySales, key, resourceID)
	return nil
}

func (t *saleTx) LockMedicine(ctx context.Context, id int64) (medicines.Stock, error) {
	return t.s.st.stock(id)
}

func (t *saleTx) SetMedicineQuantity(ctx context.Context, id, quantity int64) error {
	if err := t.s.failure("SetMedicineQuantity"); err != nil {
		return err
	}
	return t.s.st.setQuantity(id, quantity)
}

func (t *saleTx) LockBalances(ctx context.Context, medicineID int64, role shared.Role) ([]delegations.Balance, error) {
	return t.s.st.balances(medicineID, role), nil
}

func (t *saleTx) InsertReceipt(ctx context.Context, r sales.Receipt) (sales.Receipt, error) {
	if err := t.s.failure("InsertReceipt"); err != nil {
		return sales.Receipt{}, err
	}
	r.ID = t.s.st.id()
	r.CreatedAt = t.s.now()
	stored := r
	stored.Lines = nil
	t.s.st.receipts = append(t.s.st.receipts, stored)
	return r, nil
}

func (t *saleTx) InsertSale(ctx context.Context, s sales.Sale) (int64, error) {
	if err := t.s.failure("InsertSale"); err != nil {
		return 0, err
	}
	for _, l := range t.s.st.lines {
		if l.ReceiptID == s.ReceiptID && l.MedicineID == s.MedicineID {
			return 0, fmt.Errorf("duplicate sale line for medicine %d", s.MedicineID)
		}
	}
	s.ID = t.s.st.id()
	s.Allocations = nil
	t.s.st.lines = append(t.s.st.lines, s)
	return s.ID, nil
}

func (t *saleTx) InsertAllocation(ctx context.Context, a sales.Allocation) (int64, error) {
	if err := t.s.failure("InsertAllocation"); err != nil {
		return 0, err
	}
	a.ID = t.s.st.id()
	t.s.st.allocations = append(t.s.st.allocations, a)
	return a.ID, nil
}
