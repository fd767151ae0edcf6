package memstore

import (
	"context"
	"sort"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Delegations returns the delegation ledger view of the store.
func (s *Store) Delegations() delegations.Repository {
	return &delegationRepo{s: s}
}

type delegationRepo struct {
	s *Store
}

type delegationTx struct {
	s *Store
}

func (r *delegationRepo) WithTx(ctx context.Context, fn func(context.Context, delegations.TxRepository) error) error {
	return r.s.withTx(func() error { return fn(ctx, &delegationTx{s: r.s}) })
}

func (r *delegationRepo) Get(ctx context.Context, id int64) (delegations.Delegation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.st.delegations {
		if d.ID == id {
			return r.s.st.delegation(d), nil
		}
	}
	return delegations.Delegation{}, shared.NotFoundf("delegation %d", id)
}

func (r *delegationRepo) List(ctx context.Context, filter delegations.ListFilter) ([]delegations.Delegation, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []delegations.Delegation
	for _, d := range r.s.st.delegations {
		if filter.MedicineID != 0 && d.MedicineID != filter.MedicineID {
			continue
		}
		if filter.DelegatedTo != "" && d.DelegatedTo != filter.DelegatedTo {
			continue
		}
		out = append(out, r.s.st.delegation(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DelegationDate.Equal(out[j].DelegationDate) {
			return out[i].DelegationDate.After(out[j].DelegationDate)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, filter.Page), len(out), nil
}

func (r *delegationRepo) ListNotifications(ctx context.Context, role shared.Role, unreadOnly bool) ([]delegations.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []delegations.Notification
	for i := len(r.s.st.notifications) - 1; i >= 0; i-- {
		n := r.s.st.notifications[i]
		if n.DelegatedTo != role || (unreadOnly && n.IsRead) {
			continue
		}
		if m, ok := r.s.st.medicines[n.MedicineID]; ok {
			n.MedicineName = m.Name
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *delegationRepo) MarkNotificationRead(ctx context.Context, id int64, role shared.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.st.notifications {
		n := &r.s.st.notifications[i]
		if n.ID == id && n.DelegatedTo == role {
			n.IsRead = true
			return nil
		}
	}
	return shared.NotFoundf("notification %d", id)
}

func (r *delegationRepo) MarkAllNotificationsRead(ctx context.Context, role shared.Role) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.st.notifications {
		note := &r.s.st.notifications[i]
		if note.DelegatedTo == role && !note.IsRead {
			note.IsRead = true
			n++
		}
	}
	return n, nil
}

func (t *delegationTx) ClaimIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	id, claimed := t.s.st.claim(shared.IdempotencyDelegations, key)
	return id, claimed, nil
}

func (t *delegationTx) CompleteIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	t.s.st.complete(shared.IdempotencyDelegations, key, resourceID)
	return nil
}

func (t *delegationTx) LockMedicine(ctx context.Context, id int64) (medicines.Stock, error) {
	return t.s.st.stock(id)
}

func (t *delegationTx) SetMedicineQuantity(ctx context.Context, id, quantity int64) error {
	if err := t.s.failure("SetMedicineQuantity"); err != nil {
		return err
	}
	return t.s.st.setQuantity(id, quantity)
}

func (t *delegationTx) LockBalances(ctx context.Context, medicineID int64, role shared.Role) ([]delegations.Balance, error) {
	return t.s.st.balances(medicineID, role), nil
}

func (t *delegationTx) InsertDelegation(ctx context.Context, d delegations.Delegation) (delegations.Delegation, error) {
	if err := t.s.failure("InsertDelegation"); err != nil {
		return delegations.Delegation{}, err
	}
	d.ID = t.s.st.id()
	d.CreatedAt = t.s.now()
	t.s.st.delegations = append(t.s.st.delegations, d)
	return d, nil
}

func (t *delegationTx) InsertNotification(ctx context.Context, n delegations.Notification) (int64, error) {
	if err := t.s.failure("InsertNotification"); err != nil {
		return 0, err
	}
	n.ID = t.s.st.id()
	n.CreatedAt = t.s.now()
	t.s.st.notifications = append(t.s.st.notifications, n)
	return n.ID, nil
}

func (t *delegationTx) InsertAdjustments(ctx context.Context, adjustments []delegations.Adjustment) error {
	if err := t.s.failure("InsertAdjustments"); err != nil {
		return err
	}
	t.s.st.adjustments = append(t.s.st.adjustments, adjustments...)
	return nil
}
