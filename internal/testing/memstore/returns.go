package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/returns"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Returns returns the return ledger view of the store.
func (s *Store) Returns() returns.Repository {
	return &returnRepo{s: s}
}

type returnRepo struct {
	s *Store
}

type returnTx struct {
	s *Store
}

func (r *returnRepo) WithTx(ctx context.Context, fn func(context.Context, returns.TxRepository) error) error {
	return r.s.withTx(func() error { return fn(ctx, &returnTx{s: r.s}) })
}

func (r *returnRepo) Get(ctx context.Context, id int64) (returns.Return, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ret := range r.s.st.returns {
		if ret.ID == id {
			return r.s.st.fullReturn(ret), nil
		}
	}
	return returns.Return{}, shared.NotFoundf("return %d", id)
}

func (r *returnRepo) List(ctx context.Context, filter returns.ListFilter) ([]returns.Return, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []returns.Return
	for _, ret := range r.s.st.returns {
		if filter.SaleID == 0 || ret.SaleID == filter.SaleID {
			out = append(out, r.s.st.fullReturn(ret))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReturnDate.Equal(out[j].ReturnDate) {
			return out[i].ReturnDate.After(out[j].ReturnDate)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, filter.Page), len(out), nil
}

func (t *returnTx) ClaimIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	id, claimed := t.s.st.claim(shared.IdempotencyReturns, key)
	return id, claimed, nil
}

func (t *returnTx) CompleteIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	t.s.st.complete(shared.IdempotencyReturns, key, resourceID)
	return nil
}

func (t *returnTx) LockReceipt(ctx context.Context, saleID int64) (sales.Receipt, error) {
	receipt, ok := t.s.st.receipt(saleID)
	if !ok {
		return sales.Receipt{}, shared.NotFoundf("sale %d", saleID)
	}
	return receipt, nil
}

func (t *returnTx) LockMedicine(ctx context.Context, id int64) (medicines.Stock, error) {
	return t.s.st.stock(id)
}

func (t *returnTx) SetMedicineQuantity(ctx context.Context, id, quantity int64) error {
	if err := t.s.failure("SetMedicineQuantity"); err != nil {
		return err
	}
	return t.s.st.setQuantity(id, quantity)
}

func (t *returnTx) LockBalance(ctx context.Context, delegationID int64) (delegations.Balance, error) {
	for _, d := range t.s.st.delegations {
		if d.ID == delegationID {
			return t.s.st.balance(d), nil
		}
	}
	return delegations.Balance{}, shared.NotFoundf("delegation %d", delegationID)
}

func (t *returnTx) SetLineReturned(ctx context.Context, lineID, returned int64, status sales.Status) error {
	for i := range t.s.st.lines {
		l := &t.s.st.lines[i]
		if l.ID != lineID {
			continue
		}
		if returned < 0 || returned > l.Quantity {
			return fmt.Errorf("sales_returned_check violated for line %d", lineID)
		}
		l.ReturnedQuantity, l.Status = returned, status
		return nil
	}
	return shared.NotFoundf("sale line %d", lineID)
}

func (t *returnTx) SetAllocationReturned(ctx context.Context, allocationID, returned int64) error {
	for i := range t.s.st.allocations {
		a := &t.s.st.allocations[i]
		if a.ID != allocationID {
			continue
		}
		if returned < 0 || returned > a.Quantity {
			return fmt.Errorf("sale_allocations_returned_check violated for allocation %d", allocationID)
		}
		a.ReturnedQuantity = returned
		return nil
	}
	return shared.NotFoundf("allocation %d", allocationID)
}

func (t *returnTx) InsertReturn(ctx context.Context, r returns.Return) (returns.Return, error) {
	if err := t.s.failure("InsertReturn"); err != nil {
		return returns.Return{}, err
	}
	r.ID = t.s.st.id()
	r.CreatedAt = t.s.now()
	for i := range r.Items {
		item := &r.Items[i]
		item.ID = t.s.st.id()
		item.ReturnID = r.ID
		for j := range item.Credits {
			c := &item.Credits[j]
			c.ID = t.s.st.id()
			c.ReturnItemID = item.ID
			t.s.st.credits = append(t.s.st.credits, *c)
		}
		stored := *item
		stored.Credits = nil
		t.s.st.items = append(t.s.st.items, stored)
	}
	stored := r
	stored.Items = nil
	t.s.st.returns = append(t.s.st.returns, stored)
	return r, nil
}

func (t *returnTx) LockReturn(ctx context.Context, id int64) (returns.Return, error) {
	for _, ret := range t.s.st.returns {
		if ret.ID == id {
			return t.s.st.fullReturn(ret), nil
		}
	}
	return returns.Return{}, shared.NotFoundf("return %d", id)
}

func (t *returnTx) DeleteReturn(ctx context.Context, id int64) error {
	if err := t.s.failure("DeleteReturn"); err != nil {
		return err
	}
	idx := -1
	for i, ret := range t.s.st.returns {
		if ret.ID == id {
			idx = i
		}
	}
	if idx < 0 {
		return shared.NotFoundf("return %d", id)
	}
	t.s.st.returns = append(t.s.st.returns[:idx:idx], t.s.st.returns[idx+1:]...)

	itemIDs := make(map[int64]bool)
	items := t.s.st.items[:0:0]
	for _, item := range t.s.st.items {
		if item.ReturnID == id {
			itemIDs[item.ID] = true
			continue
		}
		items = append(items, item)
	}
	t.s.st.items = items
	credits := t.s.st.credits[:0:0]
	for _, c := range t.s.st.credits {
		if !itemIDs[c.ReturnItemID] {
			credits = append(credits, c)
		}
	}
	t.s.st.credits = credits
	return nil
}
