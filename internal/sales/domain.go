// Package sales records dispensing of medicines to patients.
package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Status is the return state of a sale line.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusPartialReturn Status = "partial_return"
	StatusReturned      Status = "returned"
)

// StatusFor derives the status of a line from its quantities.
func StatusFor(quantity, returned int64) Status {
	switch {
	case returned <= 0:
		return StatusCompleted
	case returned >= quantity:
		return StatusReturned
	default:
		return StatusPartialReturn
	}
}

// Source names the ledger a sale drew from.
const (
	SourceDelegation = "delegation"
	SourceCentral    = "central"
)

// Sale is one medicine line of a receipt.
type Sale struct {
	ID               int64           `json:"id"`
	ReceiptID        int64           `json:"receiptId"`
	MedicineID       int64           `json:"medicineId"`
	MedicineName     string          `json:"medicineName,omitempty"`
	Quantity         int64           `json:"quantity"`
	SellingPrice     decimal.Decimal `json:"sellingPrice"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
	Status           Status          `json:"status"`
	ReturnedQuantity int64           `json:"returnedQuantity"`
	// Refunded sums the refunds recorded by returns against the line.
	Refunded         decimal.Decimal `json:"refunded"`
	SoldBy           int64           `json:"soldBy"`
	SoldByRole       shared.Role     `json:"soldByRole"`
	SaleDate         time.Time       `json:"saleDate"`
	Allocations      []Allocation    `json:"allocations,omitempty"`
}

// Outstanding is the quantity still eligible for return.
func (s Sale) Outstanding() int64 {
	return s.Quantity - s.ReturnedQuantity
}

// Source reports which ledger the line drew from.
func (s Sale) Source() string {
	if len(s.Allocations) > 0 {
		return SourceDelegation
	}
	return SourceCentral
}

// Allocation links a sale line to the delegation it drew units from.
type Allocation struct {
	ID               int64 `json:"id"`
	SaleID           int64 `json:"saleId"`
	DelegationID     int64 `json:"delegationId"`
	Quantity         int64 `json:"quantity"`
	ReturnedQuantity int64 `json:"returnedQuantity"`
}

// Outstanding is the allocated quantity not yet returned.
func (a Allocation) Outstanding() int64 {
	return a.Quantity - a.ReturnedQuantity
}

// Receipt groups the lines of one sale transaction.
type Receipt struct {
	ID             int64           `json:"id"`
	Reference      string          `json:"reference"`
	PatientName    string          `json:"patientName"`
	Unit           string          `json:"unit"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	SoldBy         int64           `json:"soldBy"`
	SoldByRole     shared.Role     `json:"soldByRole"`
	SaleDate       time.Time       `json:"saleDate"`
	CreatedAt      time.Time       `json:"createdAt"`
	Lines          []Sale          `json:"medicines"`
	Replayed       bool            `json:"-"`
}

// FullyReturned reports whether every line of r is returned.
func (r Receipt) FullyReturned() bool {
	if len(r.Lines) == 0 {
		return false
	}
	for _, l := range r.Lines {
		if l.Status != StatusReturned {
			return false
		}
	}
	return true
}

// PaidShares splits TotalAmount across the lines in proportion to their
// totals. The last line takes the rounding remainder so the shares add up to
// exactly what the patient paid.
func (r Receipt) PaidShares() []decimal.Decimal {
	shares := make([]decimal.Decimal, len(r.Lines))
	rest := r.TotalAmount
	for i, l := range r.Lines {
		switch {
		case i == len(r.Lines)-1:
			shares[i] = decimal.Max(rest, decimal.Zero)
		case r.Subtotal.IsPositive():
			shares[i] = r.TotalAmount.Mul(l.TotalPrice).Div(r.Subtotal).Round(2)
			rest = rest.Sub(shares[i])
		default:
			shares[i] = decimal.Zero
		}
	}
	return shares
}

// Line finds the line selling medicineID.
func (r Receipt) Line(medicineID int64) (Sale, bool) {
	for _, l := range r.Lines {
		if l.MedicineID == medicineID {
			return l, true
		}
	}
	return Sale{}, false
}

// LineInput is one requested medicine of a sale. A nil SellingPrice uses the
// medicine's catalogue price; zero sells the line for free.
type LineInput struct {
	MedicineID   int64
	Quantity     int64
	SellingPrice *decimal.Decimal
}

// RecordInput captures a sale request.
type RecordInput struct {
	PatientName string
	Unit        string
	// Discount overrides the unit's configured discount when set.
	Discount       *decimal.Decimal
	Lines          []LineInput
	Actor          shared.Principal
	SaleDate       time.Time
	IdempotencyKey string
}

// Validate checks request invariants.
func (in RecordInput) Validate() error {
	if len(in.Lines) == 0 {
		return shared.Validationf("at least one medicine is required")
	}
	if !in.Actor.Role.Valid() {
		return shared.Validationf("unknown seller role %q", in.Actor.Role)
	}
	seen := make(map[int64]struct{}, len(in.Lines))
	for _, l := range in.Lines {
		if l.MedicineID <= 0 {
			return shared.Validationf("medicineId is required")
		}
		if l.Quantity <= 0 {
			return shared.Validationf("quantity of medicine %d must be positive", l.MedicineID)
		}
		if l.SellingPrice != nil && l.SellingPrice.IsNegative() {
			return shared.Validationf("sellingPrice of medicine %d must not be negative", l.MedicineID)
		}
		if _, dup := seen[l.MedicineID]; dup {
			return shared.Validationf("medicine %d listed twice", l.MedicineID)
		}
		seen[l.MedicineID] = struct{}{}
	}
	return nil
}

// ListFilter narrows receipt listings. To is inclusive of the whole day.
type ListFilter struct {
	From time.Time
	To   time.Time
	Page shared.PageRequest
}

// Totals summarises receipts matching a filter.
type Totals struct {
	Revenue   decimal.Decimal `json:"revenue"`
	Refunded  decimal.Decimal `json:"refunded"`
	ItemsSold int64           `json:"itemsSold"`
	TxCount   int64           `json:"txCount"`
}

// ListResult is a page of receipts with totals over the whole filter.
type ListResult struct {
	Items      []Receipt         `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
	Totals     Totals            `json:"totals"`
}
