// Package delegations tracks stock handed from central stores to a recipient
// role and the balance each delegation still holds.
package delegations

import (
	"time"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Delegation is an immutable record of stock moved from central stock to a
// role. RemainingQuantity is projected from sales and adjustments at read time.
type Delegation struct {
	ID                int64       `json:"id"`
	MedicineID        int64       `json:"medicineId"`
	MedicineName      string      `json:"medicineName,omitempty"`
	DelegatedBy       int64       `json:"delegatedBy"`
	DelegatedTo       shared.Role `json:"delegatedTo"`
	Quantity          int64       `json:"quantity"`
	OriginalQuantity  int64       `json:"originalQuantity"`
	RemainingQuantity int64       `json:"remainingQuantity"`
	Remarks           string      `json:"remarks"`
	DelegationDate    time.Time   `json:"delegationDate"`
	CreatedAt         time.Time   `json:"createdAt"`
	Replayed          bool        `json:"-"`
}

// Notification tells a recipient role that stock was delegated to it.
type Notification struct {
	ID           int64       `json:"id"`
	MedicineID   int64       `json:"medicineId"`
	MedicineName string      `json:"medicineName,omitempty"`
	DelegatedTo  shared.Role `json:"delegatedTo"`
	Quantity     int64       `json:"quantity"`
	Message      string      `json:"message"`
	IsRead       bool        `json:"isRead"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Adjustment reclaims part of a delegation back to central stock.
type Adjustment struct {
	DelegationID int64
	Quantity     int64
	Reason       string
	CreatedBy    int64
}

// Balance is the ledger position of one delegation.
type Balance struct {
	DelegationID     int64
	MedicineID       int64
	DelegatedTo      shared.Role
	OriginalQuantity int64
	// Consumed is units sold from the delegation net of returns.
	Consumed int64
	// Adjusted is units reclaimed to central stock.
	Adjusted       int64
	DelegationDate time.Time
}

// Remaining is the projected unsold balance, floored at zero.
func (b Balance) Remaining() int64 {
	r := b.OriginalQuantity - b.Consumed - b.Adjusted
	if r < 0 {
		return 0
	}
	return r
}

// Draw takes Quantity units from one delegation.
type Draw struct {
	DelegationID int64
	Quantity     int64
}

// TotalRemaining sums the remaining balance of balances.
func TotalRemaining(balances []Balance) int64 {
	var total int64
	for _, b := range balances {
		total += b.Remaining()
	}
	return total
}

// AllocateFIFO draws qty from balances in the order given, oldest first. It
// returns an *shared.InsufficientStockError when the balances cannot cover qty.
func AllocateFIFO(medicineID int64, balances []Balance, qty int64) ([]Draw, error) {
	return draw(medicineID, balances, qty, false)
}

// ReclaimLIFO draws qty from balances newest first.
func ReclaimLIFO(medicineID int64, balances []Balance, qty int64) ([]Draw, error) {
	return draw(medicineID, balances, qty, true)
}

func draw(medicineID int64, balances []Balance, qty int64, reverse bool) ([]Draw, error) {
	if qty <= 0 {
		return nil, shared.Validationf("quantity must be positive")
	}
	if available := TotalRemaining(balances); available < qty {
		return nil, &shared.InsufficientStockError{MedicineID: medicineID, Available: available, Requested: qty}
	}
	draws := make([]Draw, 0, 1)
	need := qty
	for i := range balances {
		b := balances[i]
		if reverse {
			b = balances[len(balances)-1-i]
		}
		take := min(b.Remaining(), need)
		if take == 0 {
			continue
		}
		draws = append(draws, Draw{DelegationID: b.DelegationID, Quantity: take})
		need -= take
		if need == 0 {
			break
		}
	}
	return draws, nil
}

// CreateInput captures a delegation request.
type CreateInput struct {
	MedicineID     int64
	DelegatedTo    shared.Role
	Quantity       int64
	Remarks        string
	DelegationDate time.Time
	ActorID        int64
	IdempotencyKey string
}

// Validate checks request invariants.
func (in CreateInput) Validate() error {
	switch {
	case in.MedicineID <= 0:
		return shared.Validationf("medicineId is required")
	case in.Quantity <= 0:
		return shared.Validationf("quantity must be positive")
	case !in.DelegatedTo.ReceivesDelegation():
		return shared.Validationf("cannot delegate to role %q", in.DelegatedTo)
	}
	return nil
}

// RestoreItem reclaims Quantity units of one medicine.
type RestoreItem struct {
	MedicineID int64 `json:"medicineId"`
	Quantity   int64 `json:"quantity"`
}

// RestoreInput returns delegated stock of a role to central stock.
type RestoreInput struct {
	DelegatedTo shared.Role
	Items       []RestoreItem
	Remarks     string
	ActorID     int64
}

// Validate checks request invariants.
func (in RestoreInput) Validate() error {
	if !in.DelegatedTo.ReceivesDelegation() {
		return shared.Validationf("cannot restore from role %q", in.DelegatedTo)
	}
	if len(in.Items) == 0 {
		return shared.Validationf("at least one medicine is required")
	}
	seen := make(map[int64]struct{}, len(in.Items))
	for _, item := range in.Items {
		if item.MedicineID <= 0 || item.Quantity <= 0 {
			return shared.Validationf("medicineId and a positive quantity are required")
		}
		if _, dup := seen[item.MedicineID]; dup {
			return shared.Validationf("medicine %d listed twice", item.MedicineID)
		}
		seen[item.MedicineID] = struct{}{}
	}
	return nil
}

// RestoredItem reports the outcome for one medicine of a restore.
type RestoredItem struct {
	MedicineID      int64 `json:"medicineId"`
	Restored        int64 `json:"restored"`
	CentralQuantity int64 `json:"centralQuantity"`
	Remaining       int64 `json:"remaining"`
}

// RestoreResult reports a completed restore.
type RestoreResult struct {
	DelegatedTo shared.Role    `json:"delegatedTo"`
	Items       []RestoredItem `json:"items"`
}

// ListFilter narrows delegation listings.
type ListFilter struct {
	MedicineID  int64
	DelegatedTo shared.Role
	Page        shared.PageRequest
}
