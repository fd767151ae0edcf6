// Package returns records patient returns against sales and their reversal.
package returns

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Return is one return event against a sale receipt.
type Return struct {
	ID            int64           `json:"id"`
	Reference     string          `json:"reference"`
	SaleID        int64           `json:"saleId"`
	PatientName   string          `json:"patientName"`
	Reason        string          `json:"reason"`
	Items         []Item          `json:"medicines"`
	TotalReturned decimal.Decimal `json:"totalReturned"`
	TotalOriginal decimal.Decimal `json:"totalOriginal"`
	IsFullReturn  bool            `json:"isFullReturn"`
	ReturnedBy    int64           `json:"returnedBy"`
	ReturnDate    time.Time       `json:"returnDate"`
	CreatedAt     time.Time       `json:"createdAt"`
	Replayed      bool            `json:"-"`
}

// Units sums the quantity returned across items.
func (r Return) Units() int64 {
	var n int64
	for _, item := range r.Items {
		n += item.QuantityReturned
	}
	return n
}

// Item is the quantity of one sale line returned.
type Item struct {
	ID               int64           `json:"id"`
	ReturnID         int64           `json:"returnId"`
	SaleLineID       int64           `json:"saleLineId"`
	MedicineID       int64           `json:"medicineId"`
	MedicineName     string          `json:"medicineName,omitempty"`
	QuantityReturned int64           `json:"quantityReturned"`
	RefundAmount     decimal.Decimal `json:"refundAmount"`
	// Credits is empty when the units went back to central stock.
	Credits []Credit `json:"credits,omitempty"`
}

// Credit records units handed back to the delegation a sale drew from.
type Credit struct {
	ID           int64 `json:"id"`
	ReturnItemID int64 `json:"returnItemId"`
	AllocationID int64 `json:"allocationId"`
	DelegationID int64 `json:"delegationId"`
	Quantity     int64 `json:"quantity"`
}

// ItemInput requests the return of Quantity units of a medicine. A nil
// RefundAmount refunds the units' share of what the patient paid for the line.
type ItemInput struct {
	MedicineID   int64
	Quantity     int64
	RefundAmount *decimal.Decimal
}

// CreateInput captures a return request. Client supplied totals are not part
// of it; they are derived from the sale.
type CreateInput struct {
	SaleID         int64
	PatientName    string
	Reason         string
	Items          []ItemInput
	Actor          shared.Principal
	ReturnDate     time.Time
	IdempotencyKey string
}

// Validate checks request invariants.
func (in CreateInput) Validate() error {
	if in.SaleID <= 0 {
		return shared.Validationf("saleId is required")
	}
	if len(in.Items) == 0 {
		return shared.Validationf("at least one medicine is required")
	}
	seen := make(map[int64]struct{}, len(in.Items))
	for _, item := range in.Items {
		if item.MedicineID <= 0 {
			return shared.Validationf("medicineId is required")
		}
		if item.Quantity <= 0 {
			return shared.Validationf("quantityReturned of medicine %d must be positive", item.MedicineID)
		}
		if item.RefundAmount != nil && item.RefundAmount.IsNegative() {
			return shared.Validationf("refundAmount of medicine %d must not be negative", item.MedicineID)
		}
		if _, dup := seen[item.MedicineID]; dup {
			return shared.Validationf("medicine %d listed twice", item.MedicineID)
		}
		seen[item.MedicineID] = struct{}{}
	}
	return nil
}

// ListFilter narrows return listings.
type ListFilter struct {
	SaleID int64
	Page   shared.PageRequest
}
