package returns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/observability"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Repository abstracts persistence for the return ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Return, error)
	List(ctx context.Context, filter ListFilter) ([]Return, int, error)
}

// TxRepository exposes the row-locked operations of one return transaction.
type TxRepository interface {
	ClaimIdempotencyKey(ctx context.Context, key string) (resourceID int64, claimed bool, err error)
	CompleteIdempotencyKey(ctx context.Context, key string, resourceID int64) error
	// LockReceipt locks a receipt with its lines and allocations.
	LockReceipt(ctx context.Context, saleID int64) (sales.Receipt, error)
	LockMedicine(ctx context.Context, id int64) (medicines.Stock, error)
	SetMedicineQuantity(ctx context.Context, id, quantity int64) error
	LockBalance(ctx context.Context, delegationID int64) (delegations.Balance, error)
	SetLineReturned(ctx context.Context, lineID, returned int64, status sales.Status) error
	SetAllocationReturned(ctx context.Context, allocationID, returned int64) error
	// InsertReturn stores r with its items and credits and returns it with ids set.
	InsertReturn(ctx context.Context, r Return) (Return, error)
	// LockReturn locks a return with its items and credits.
	LockReturn(ctx context.Context, id int64) (Return, error)
	DeleteReturn(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer is told when data it caches changed.
type Observer interface {
	Invalidate(ctx context.Context)
}

// Service coordinates return recording and reversal.
type Service struct {
	repo    Repository
	audit   AuditPort
	sales   Observer
	stock   Observer
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. audit, salesCache, stock and metrics may be nil.
func NewService(repo Repository, audit AuditPort, salesCache, stock Observer, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, sales: salesCache, stock: stock, metrics: metrics, logger: logger, now: time.Now}
}

// Create records a return. Units go back to the ledger the sale drew from:
// the delegations a line was allocated against, newest first, or central
// stock for lines sold outside a delegation.
func (s *Service) Create(ctx context.Context, in CreateInput) (Return, error) {
	in.PatientName = strings.TrimSpace(in.PatientName)
	in.Reason = strings.TrimSpace(in.Reason)
	if err := in.Validate(); err != nil {
		return Return{}, err
	}
	if in.ReturnDate.IsZero() {
		in.ReturnDate = s.now()
	}
	items := append([]ItemInput(nil), in.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].MedicineID < items[j].MedicineID })

	var (
		ret        Return
		replayedID int64
		central    bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			id, claimed, err := tx.ClaimIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if !claimed {
				replayedID = id
				return nil
			}
		}

		receipt, err := tx.LockReceipt(ctx, in.SaleID)
		if err != nil {
			return err
		}
		ret = Return{
			Reference:     uuid.NewString(),
			SaleID:        receipt.ID,
			PatientName:   in.PatientName,
			Reason:        in.Reason,
			TotalReturned: decimal.Zero,
			TotalOriginal: receipt.TotalAmount,
			ReturnedBy:    in.Actor.UserID,
			ReturnDate:    in.ReturnDate,
		}
		if ret.PatientName == "" {
			ret.PatientName = receipt.PatientName
		}
		paid := receipt.PaidShares()

		for _, req := range items {
			idx := lineIndex(receipt, req.MedicineID)
			if idx < 0 {
				return shared.Validationf("medicine %d is not part of sale %d", req.MedicineID, receipt.ID)
			}
			line := &receipt.Lines[idx]
			if req.Quantity > line.Outstanding() {
				return &shared.OverReturnError{
					SaleID:      receipt.ID,
					MedicineID:  req.MedicineID,
					Outstanding: line.Outstanding(),
					Requested:   req.Quantity,
				}
			}
			med, err := tx.LockMedicine(ctx, line.MedicineID)
			if err != nil {
				return err
			}
			refund, err := refundFor(*line, paid[idx], req.Quantity, req.RefundAmount)
			if err != nil {
				return err
			}
			item := Item{
				SaleLineID:       line.ID,
				MedicineID:       line.MedicineID,
				MedicineName:     line.MedicineName,
				QuantityReturned: req.Quantity,
				RefundAmount:     refund,
			}
			if len(line.Allocations) > 0 {
				if item.Credits, err = creditAllocations(ctx, tx, line, req.Quantity); err != nil {
					return err
				}
			} else {
				central = true
				if err := tx.SetMedicineQuantity(ctx, med.ID, med.Quantity+req.Quantity); err != nil {
					return err
				}
			}
			line.ReturnedQuantity += req.Quantity
			line.Refunded = line.Refunded.Add(refund)
			line.Status = sales.StatusFor(line.Quantity, line.ReturnedQuantity)
			if err := tx.SetLineReturned(ctx, line.ID, line.ReturnedQuantity, line.Status); err != nil {
				return err
			}
			ret.TotalReturned = ret.TotalReturned.Add(item.RefundAmount)
			ret.Items = append(ret.Items, item)
		}
		ret.IsFullReturn = receipt.FullyReturned()

		if ret, err = tx.InsertReturn(ctx, ret); err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			return tx.CompleteIdempotencyKey(ctx, in.IdempotencyKey, ret.ID)
		}
		return nil
	})
	if err != nil {
		s.metrics.StockRejected("return", err)
		return Return{}, fmt.Errorf("record return: %w", err)
	}
	if replayedID != 0 {
		r, err := s.repo.Get(ctx, replayedID)
		if err != nil {
			return Return{}, err
		}
		r.Replayed = true
		return r, nil
	}

	s.invalidate(ctx, central)
	s.metrics.Returned(ret.Units())
	s.record(ctx, in.Actor.UserID, "return.create", ret)
	return ret, nil
}

// refundFor prices the return of qty units of line, where paid is the line's
// share of the receipt total. Without an explicit amount the share is split
// pro rata by units and the last units returned take whatever is still
// unrefunded. Refunds on a line never add up to more than paid.
func refundFor(line sales.Sale, paid decimal.Decimal, qty int64, explicit *decimal.Decimal) (decimal.Decimal, error) {
	refundable := decimal.Max(paid.Sub(line.Refunded), decimal.Zero)
	if explicit != nil {
		if explicit.GreaterThan(refundable) {
			return decimal.Zero, shared.Validationf("refundAmount %s of medicine %d exceeds the %s still refundable",
				explicit.StringFixed(2), line.MedicineID, refundable.StringFixed(2))
		}
		return *explicit, nil
	}
	after := line.ReturnedQuantity + qty
	if after >= line.Quantity {
		return refundable, nil
	}
	share := func(units int64) decimal.Decimal {
		return paid.Mul(decimal.NewFromInt(units)).Div(decimal.NewFromInt(line.Quantity)).Round(2)
	}
	return decimal.Min(share(after).Sub(share(line.ReturnedQuantity)), refundable), nil
}

// creditAllocations hands qty units back to the allocations of line, newest
// allocation first. Delegations are locked in ascending id order to match the
// order sales take them in.
func creditAllocations(ctx context.Context, tx TxRepository, line *sales.Sale, qty int64) ([]Credit, error) {
	var (
		credits []Credit
		touched []int64
	)
	need := qty
	for i := len(line.Allocations) - 1; i >= 0 && need > 0; i-- {
		a := line.Allocations[i]
		take := min(a.Outstanding(), need)
		if take == 0 {
			continue
		}
		credits = append(credits, Credit{AllocationID: a.ID, DelegationID: a.DelegationID, Quantity: take})
		touched = append(touched, a.DelegationID)
		need -= take
	}
	if need > 0 {
		return nil, &shared.OverReturnError{SaleID: line.ReceiptID, MedicineID: line.MedicineID, Outstanding: qty - need, Requested: qty}
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })
	for i, id := range touched {
		if i > 0 && touched[i-1] == id {
			continue
		}
		if _, err := tx.LockBalance(ctx, id); err != nil {
			return nil, err
		}
	}
	for _, c := range credits {
		for i := range line.Allocations {
			a := &line.Allocations[i]
			if a.ID != c.AllocationID {
				continue
			}
			a.ReturnedQuantity += c.Quantity
			if err := tx.SetAllocationReturned(ctx, a.ID, a.ReturnedQuantity); err != nil {
				return nil, err
			}
		}
	}
	return credits, nil
}

// Delete removes a return and reverses exactly what it changed. When the
// units it restored have since been sold or reclaimed the delete is rejected
// with an *shared.InsufficientStockError and nothing changes.
func (s *Service) Delete(ctx context.Context, id int64, actor shared.Principal) error {
	var (
		ret     Return
		central bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if ret, err = tx.LockReturn(ctx, id); err != nil {
			return err
		}
		receipt, err := tx.LockReceipt(ctx, ret.SaleID)
		if err != nil {
			return err
		}
		items := append([]Item(nil), ret.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].MedicineID < items[j].MedicineID })

		for _, item := range items {
			idx := -1
			for i, l := range receipt.Lines {
				if l.ID == item.SaleLineID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("return %d references missing sale line %d", ret.ID, item.SaleLineID)
			}
			line := &receipt.Lines[idx]
			if line.ReturnedQuantity < item.QuantityReturned {
				return fmt.Errorf("sale line %d returned %d, cannot revert %d", line.ID, line.ReturnedQuantity, item.QuantityReturned)
			}
			med, err := tx.LockMedicine(ctx, item.MedicineID)
			if err != nil {
				return err
			}
			if len(item.Credits) > 0 {
				if err := revertCredits(ctx, tx, line, item.Credits); err != nil {
					return err
				}
			} else {
				central = true
				if med.Quantity < item.QuantityReturned {
					return &shared.InsufficientStockError{MedicineID: med.ID, Available: med.Quantity, Requested: item.QuantityReturned}
				}
				if err := tx.SetMedicineQuantity(ctx, med.ID, med.Quantity-item.QuantityReturned); err != nil {
					return err
				}
			}
			line.ReturnedQuantity -= item.QuantityReturned
			line.Status = sales.StatusFor(line.Quantity, line.ReturnedQuantity)
			if err := tx.SetLineReturned(ctx, line.ID, line.ReturnedQuantity, line.Status); err != nil {
				return err
			}
		}
		return tx.DeleteReturn(ctx, ret.ID)
	})
	if err != nil {
		s.metrics.StockRejected("return_delete", err)
		return fmt.Errorf("delete return %d: %w", id, err)
	}
	s.invalidate(ctx, central)
	s.metrics.ReturnReversed()
	s.record(ctx, actor.UserID, "return.delete", ret)
	return nil
}

// revertCredits takes credited units back out of their delegations. Balances
// are re-read after each write so several credits on one delegation see each
// other.
func revertCredits(ctx context.Context, tx TxRepository, line *sales.Sale, credits []Credit) error {
	ordered := append([]Credit(nil), credits...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].DelegationID < ordered[j].DelegationID })
	for _, c := range ordered {
		balance, err := tx.LockBalance(ctx, c.DelegationID)
		if err != nil {
			return err
		}
		if balance.Remaining() < c.Quantity {
			return &shared.InsufficientStockError{MedicineID: line.MedicineID, Available: balance.Remaining(), Requested: c.Quantity}
		}
		found := false
		for i := range line.Allocations {
			a := &line.Allocations[i]
			if a.ID != c.AllocationID {
				continue
			}
			if a.ReturnedQuantity < c.Quantity {
				return fmt.Errorf("allocation %d returned %d, cannot revert %d", a.ID, a.ReturnedQuantity, c.Quantity)
			}
			a.ReturnedQuantity -= c.Quantity
			if err := tx.SetAllocationReturned(ctx, a.ID, a.ReturnedQuantity); err != nil {
				return err
			}
			found = true
		}
		if !found {
			return fmt.Errorf("credit %d references missing allocation %d", c.ID, c.AllocationID)
		}
	}
	return nil
}

// Get loads one return with its items.
func (s *Service) Get(ctx context.Context, id int64) (Return, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of returns, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Return, shared.Pagination, error) {
	filter.Page = filter.Page.Normalize()
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list returns: %w", err)
	}
	if items == nil {
		items = []Return{}
	}
	return items, shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total), nil
}

func (s *Service) invalidate(ctx context.Context, central bool) {
	if s.sales != nil {
		s.sales.Invalidate(ctx)
	}
	if central && s.stock != nil {
		s.stock.Invalidate(ctx)
	}
}

func (s *Service) record(ctx context.Context, actor int64, action string, r Return) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "sales_return",
		EntityID: fmt.Sprint(r.ID),
		Meta: map[string]any{
			"sale_id":   r.SaleID,
			"units":     r.Units(),
			"refund":    r.TotalReturned.String(),
			"full":      r.IsFullReturn,
			"reference": r.Reference,
		},
		At: s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func lineIndex(r sales.Receipt, medicineID int64) int {
	for i, l := range r.Lines {
		if l.MedicineID == medicineID {
			return i
		}
	}
	return -1
}
