// Package memstore is an in-memory implementation of the ledger repositories
// used by tests. Every transaction holds one lock over the whole store and
// restores a snapshot when the callback fails, so callers observe the same
// all-or-nothing behaviour as the PostgreSQL repositories.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/returns"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

type state struct {
	nextID        int64
	medicines     map[int64]medicines.Medicine
	units         map[string]decimal.Decimal
	delegations   []delegations.Delegation
	adjustments   []delegations.Adjustment
	notifications []delegations.Notification
	receipts      []sales.Receipt
	lines         []sales.Sale
	allocations   []sales.Allocation
	returns       []returns.Return
	items         []returns.Item
	credits       []returns.Credit
	idempotency   map[string]int64
}

func (s *state) clone() *state {
	c := *s
	c.medicines = make(map[int64]medicines.Medicine, len(s.medicines))
	for k, v := range s.medicines {
		c.medicines[k] = v
	}
	c.units = make(map[string]decimal.Decimal, len(s.units))
	for k, v := range s.units {
		c.units[k] = v
	}
	c.idempotency = make(map[string]int64, len(s.idempotency))
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	c.delegations = append([]delegations.Delegation(nil), s.delegations...)
	c.adjustments = append([]delegations.Adjustment(nil), s.adjustments...)
	c.notifications = append([]delegations.Notification(nil), s.notifications...)
	c.receipts = append([]sales.Receipt(nil), s.receipts...)
	c.lines = append([]sales.Sale(nil), s.lines...)
	c.allocations = append([]sales.Allocation(nil), s.allocations...)
	c.returns = append([]returns.Return(nil), s.returns...)
	c.items = append([]returns.Item(nil), s.items...)
	c.credits = append([]returns.Credit(nil), s.credits...)
	return &c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds the ledger tables in memory.
type Store struct {
	mu   sync.Mutex
	st   *state
	fail map[string]error
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st: &state{
			medicines:   make(map[int64]medicines.Medicine),
			units:       make(map[string]decimal.Decimal),
			idempotency: make(map[string]int64),
		},
		fail: make(map[string]error),
		now:  time.Now,
	}
}

// FailOn makes the named transactional operation return err until cleared
// with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *Store) failure(op string) error {
	return s.fail[op]
}

// AddMedicine seeds a medicine with central quantity qty and a selling price.
func (s *Store) AddMedicine(name string, qty int64, price string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.id()
	now := s.now()
	s.st.medicines[id] = medicines.Medicine{
		ID:                id,
		Name:              name,
		Quantity:          qty,
		SellingPrice:      decimal.RequireFromString(price),
		LowStockThreshold: 10,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	return id
}

// SetUnitDiscount configures the discount of a unit.
func (s *Store) SetUnitDiscount(unit string, discount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.units[strings.ToLower(unit)] = discount
}

// Quantity returns the central quantity of a medicine.
func (s *Store) Quantity(medicineID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.medicines[medicineID].Quantity
}

// Remaining returns the projected balance of one delegation.
func (s *Store) Remaining(delegationID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.st.delegations {
		if d.ID == delegationID {
			return s.st.balance(d).Remaining()
		}
	}
	return 0
}

// RoleRemaining sums the balances of every delegation of a medicine to role.
func (s *Store) RoleRemaining(medicineID int64, role shared.Role) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return delegations.TotalRemaining(s.st.balances(medicineID, role))
}

// Outstanding sums delegated balances of a medicine across every role.
func (s *Store) Outstanding(medicineID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, d := range s.st.delegations {
		if d.MedicineID == medicineID {
			total += s.st.balance(d).Remaining()
		}
	}
	return total
}

// NetSold sums units of a medicine sold and not returned.
func (s *Store) NetSold(medicineID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, l := range s.st.lines {
		if l.MedicineID == medicineID {
			total += l.Quantity - l.ReturnedQuantity
		}
	}
	return total
}

// Line returns the sale line of medicineID on a receipt.
func (s *Store) Line(receiptID, medicineID int64) (sales.Sale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.st.lines {
		if l.ReceiptID == receiptID && l.MedicineID == medicineID {
			return s.st.withAllocations(l), true
		}
	}
	return sales.Sale{}, false
}

// Counts reports how many delegations, receipts and returns exist.
func (s *Store) Counts() (delegationCount, receiptCount, returnCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.delegations), len(s.st.receipts), len(s.st.returns)
}

func (s *Store) withTx(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *state) balance(d delegations.Delegation) delegations.Balance {
	b := delegations.Balance{
		DelegationID:     d.ID,
		MedicineID:       d.MedicineID,
		DelegatedTo:      d.DelegatedTo,
		OriginalQuantity: d.OriginalQuantity,
		DelegationDate:   d.DelegationDate,
	}
	for _, a := range s.allocations {
		if a.DelegationID == d.ID {
			b.Consumed += a.Quantity - a.ReturnedQuantity
		}
	}
	for _, adj := range s.adjustments {
		if adj.DelegationID == d.ID {
			b.Adjusted += adj.Quantity
		}
	}
	return b
}

func (s *state) balances(medicineID int64, role shared.Role) []delegations.Balance {
	var out []delegations.Balance
	for _, d := range s.delegations {
		if d.MedicineID == medicineID && d.DelegatedTo == role {
			out = append(out, s.balance(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DelegationDate.Equal(out[j].DelegationDate) {
			return out[i].DelegationDate.Before(out[j].DelegationDate)
		}
		return out[i].DelegationID < out[j].DelegationID
	})
	return out
}

func (s *state) stock(id int64) (medicines.Stock, error) {
	m, ok := s.medicines[id]
	if !ok {
		return medicines.Stock{}, shared.NotFoundf("medicine %d", id)
	}
	return medicines.Stock{ID: m.ID, Name: m.Name, Quantity: m.Quantity, SellingPrice: m.SellingPrice}, nil
}

func (s *state) setQuantity(id, qty int64) error {
	m, ok := s.medicines[id]
	if !ok {
		return shared.NotFoundf("medicine %d", id)
	}
	if qty < 0 {
		return errors.New("medicines_quantity_check violated")
	}
	m.Quantity = qty
	s.medicines[id] = m
	return nil
}

func (s *state) claim(module, key string) (int64, bool) {
	k := module + "\x00" + key
	if id, ok := s.idempotency[k]; ok {
		return id, false
	}
	s.idempotency[k] = 0
	return 0, true
}

func (s *state) complete(module, key string, id int64) {
	s.idempotency[module+"\x00"+key] = id
}

func (s *state) withAllocations(l sales.Sale) sales.Sale {
	l.Allocations = nil
	for _, a := range s.allocations {
		if a.SaleID == l.ID {
			l.Allocations = append(l.Allocations, a)
		}
	}
	l.Refunded = decimal.Zero
	for _, item := range s.items {
		if item.SaleLineID == l.ID {
			l.Refunded = l.Refunded.Add(item.RefundAmount)
		}
	}
	if m, ok := s.medicines[l.MedicineID]; ok {
		l.MedicineName = m.Name
	}
	return l
}

func (s *state) receipt(id int64) (sales.Receipt, bool) {
	for _, r := range s.receipts {
		if r.ID != id {
			continue
		}
		r.Lines = nil
		for _, l := range s.lines {
			if l.ReceiptID == id {
				r.Lines = append(r.Lines, s.withAllocations(l))
			}
		}
		return r, true
	}
	return sales.Receipt{}, false
}

func (s *state) delegation(d delegations.Delegation) delegations.Delegation {
	d.RemainingQuantity = s.balance(d).Remaining()
	if m, ok := s.medicines[d.MedicineID]; ok {
		d.MedicineName = m.Name
	}
	return d
}

func (s *state) fullReturn(r returns.Return) returns.Return {
	r.Items = nil
	for _, item := range s.items {
		if item.ReturnID != r.ID {
			continue
		}
		item.Credits = nil
		for _, c := range s.credits {
			if c.ReturnItemID == item.ID {
				item.Credits = append(item.Credits, c)
			}
		}
		if m, ok := s.medicines[item.MedicineID]; ok {
			item.MedicineName = m.Name
		}
		r.Items = append(r.Items, item)
	}
	return r
}

func page[T any](items []T, p shared.PageRequest) []T {
	p = p.Normalize()
	start := min(p.Offset(), len(items))
	end := min(start+p.Limit(), len(items))
	return items[start:end]
}

// Medicines returns the catalogue view of the store.
func (s *Store) Medicines() medicines.RepositoryPort {
	return &medicineRepo{s: s}
}

type medicineRepo struct {
	s *Store
}

func (r *medicineRepo) Create(ctx context.Context, m medicines.Medicine) (medicines.Medicine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = r.s.st.id()
	m.CreatedAt, m.UpdatedAt = r.s.now(), r.s.now()
	r.s.st.medicines[m.ID] = m
	return m, nil
}

func (r *medicineRepo) Get(ctx context.Context, id int64) (medicines.Medicine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.st.medicines[id]
	if !ok {
		return medicines.Medicine{}, shared.NotFoundf("medicine %d", id)
	}
	return m, nil
}

func (r *medicineRepo) List(ctx context.Context, filter medicines.ListFilter) ([]medicines.Medicine, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []medicines.Medicine
	for _, m := range r.s.st.medicines {
		if filter.Search == "" || strings.Contains(strings.ToLower(m.Name), strings.ToLower(filter.Search)) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, filter.Page), len(out), nil
}

func (r *medicineRepo) AlertCandidates(ctx context.Context, asOf time.Time) ([]medicines.Medicine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]medicines.Medicine, 0, len(r.s.st.medicines))
	for _, m := range r.s.st.medicines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
