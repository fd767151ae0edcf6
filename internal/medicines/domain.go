// Package medicines owns the central stock of each medicine and its stock alerts.
package medicines

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Medicine is a stocked item. Quantity is the central (undelegated) stock.
type Medicine struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	GenericName       string          `json:"genericName"`
	PackageType       string          `json:"packageType"`
	Quantity          int64           `json:"quantity"`
	BuyPrice          decimal.Decimal `json:"buyPrice"`
	SellingPrice      decimal.Decimal `json:"sellingPrice"`
	TotalPrice        decimal.Decimal `json:"totalPrice"`
	ManufacturingDate *time.Time      `json:"manufacturingDate,omitempty"`
	ExpiryDate        *time.Time      `json:"expiryDate,omitempty"`
	LowStockThreshold int64           `json:"lowStockThreshold"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Stock is the row-locked view of a medicine read by the ledgers.
type Stock struct {
	ID           int64
	Name         string
	Quantity     int64
	SellingPrice decimal.Decimal
}

// Level classifies central stock.
type Level string

const (
	LevelInStock    Level = "in_stock"
	LevelLowStock   Level = "low_stock"
	LevelOutOfStock Level = "out_of_stock"
)

// StockLevel reports the stock level of m.
func StockLevel(m Medicine) Level {
	switch {
	case m.Quantity <= 0:
		return LevelOutOfStock
	case m.Quantity <= m.LowStockThreshold:
		return LevelLowStock
	default:
		return LevelInStock
	}
}

// IsExpired reports whether m expired before the day containing now.
func IsExpired(m Medicine, now time.Time) bool {
	if m.ExpiryDate == nil {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return m.ExpiryDate.Before(today)
}

// Alerts groups medicines needing attention. A medicine may appear in
// Expired and in one of the stock lists.
type Alerts struct {
	Expired    []Medicine `json:"expired"`
	OutOfStock []Medicine `json:"outOfStock"`
	LowStock   []Medicine `json:"lowStock"`
}

// BuildAlerts classifies meds as of now.
func BuildAlerts(meds []Medicine, now time.Time) Alerts {
	alerts := Alerts{Expired: []Medicine{}, OutOfStock: []Medicine{}, LowStock: []Medicine{}}
	for _, m := range meds {
		if IsExpired(m, now) {
			alerts.Expired = append(alerts.Expired, m)
		}
		switch StockLevel(m) {
		case LevelOutOfStock:
			alerts.OutOfStock = append(alerts.OutOfStock, m)
		case LevelLowStock:
			alerts.LowStock = append(alerts.LowStock, m)
		case LevelInStock:
		}
	}
	return alerts
}

// CreateInput captures a new medicine intake.
type CreateInput struct {
	Name              string
	GenericName       string
	PackageType       string
	Quantity          int64
	BuyPrice          decimal.Decimal
	SellingPrice      decimal.Decimal
	ManufacturingDate *time.Time
	ExpiryDate        *time.Time
	LowStockThreshold int64
	ActorID           int64
}

// Validate checks intake invariants.
func (in CreateInput) Validate() error {
	switch {
	case in.Name == "":
		return shared.Validationf("name is required")
	case in.Quantity < 0:
		return shared.Validationf("quantity must not be negative")
	case in.BuyPrice.IsNegative(), in.SellingPrice.IsNegative():
		return shared.Validationf("prices must not be negative")
	case in.LowStockThreshold < 0:
		return shared.Validationf("lowStockThreshold must not be negative")
	case in.ManufacturingDate != nil && in.ExpiryDate != nil && in.ExpiryDate.Before(*in.ManufacturingDate):
		return shared.Validationf("expiryDate precedes manufacturingDate")
	}
	return nil
}

// ListFilter narrows medicine listings.
type ListFilter struct {
	Search string
	Page   shared.PageRequest
}
