package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/observability"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/pricing"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Repository abstracts persistence for the sale ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, id int64) (Receipt, error)
	ListReceipts(ctx context.Context, filter ListFilter) ([]Receipt, int, error)
	Totals(ctx context.Context, filter ListFilter) (Totals, error)
	// UnitDiscount returns the configured discount of unit, if any.
	UnitDiscount(ctx context.Context, unit string) (decimal.Decimal, bool, error)
}

// TxRepository exposes the row-locked operations of one sale transaction.
type TxRepository interface {
	ClaimIdempotencyKey(ctx context.Context, key string) (resourceID int64, claimed bool, err error)
	CompleteIdempotencyKey(ctx context.Context, key string, resourceID int64) error
	LockMedicine(ctx context.Context, id int64) (medicines.Stock, error)
	SetMedicineQuantity(ctx context.Context, id, quantity int64) error
	LockBalances(ctx context.Context, medicineID int64, role shared.Role) ([]delegations.Balance, error)
	InsertReceipt(ctx context.Context, r Receipt) (Receipt, error)
	InsertSale(ctx context.Context, s Sale) (int64, error)
	InsertAllocation(ctx context.Context, a Allocation) (int64, error)
}

// CachePort is the versioned cache holding sales totals.
type CachePort interface {
	FetchJSON(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error
	Bump(ctx context.Context) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockObserver is told when central stock changed.
type StockObserver interface {
	Invalidate(ctx context.Context)
}

// Service coordinates sale recording and reporting.
type Service struct {
	repo    Repository
	cache   CachePort
	audit   AuditPort
	stock   StockObserver
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. cache, audit, stock and metrics may be nil.
func NewService(repo Repository, cache CachePort, audit AuditPort, stock StockObserver, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, stock: stock, metrics: metrics, logger: logger, now: time.Now}
}

type preparedLine struct {
	sale  Sale
	draws []delegations.Draw
}

// Record registers a sale of one or more medicines as a single transaction.
// Sellers whose role holds delegations draw from those delegations oldest
// first; every other role draws from central stock. Any line that cannot be
// covered rejects the whole sale.
func (s *Service) Record(ctx context.Context, in RecordInput) (Receipt, error) {
	in.PatientName = strings.TrimSpace(in.PatientName)
	in.Unit = strings.TrimSpace(in.Unit)
	if err := in.Validate(); err != nil {
		return Receipt{}, err
	}
	discount, err := s.resolveDiscount(ctx, in)
	if err != nil {
		return Receipt{}, err
	}
	if in.SaleDate.IsZero() {
		in.SaleDate = s.now()
	}
	lines := append([]LineInput(nil), in.Lines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].MedicineID < lines[j].MedicineID })
	role := in.Actor.Role

	var (
		receipt    Receipt
		replayedID int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
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

		prepared := make([]preparedLine, 0, len(lines))
		subtotal := decimal.Zero
		for _, line := range lines {
			med, err := tx.LockMedicine(ctx, line.MedicineID)
			if err != nil {
				return err
			}
			price := med.SellingPrice
			if line.SellingPrice != nil {
				price = *line.SellingPrice
			}
			p := preparedLine{sale: Sale{
				MedicineID:   med.ID,
				MedicineName: med.Name,
				Quantity:     line.Quantity,
				SellingPrice: price,
				TotalPrice:   pricing.LineTotal(line.Quantity, price),
				Status:       StatusCompleted,
				SoldBy:       in.Actor.UserID,
				SoldByRole:   role,
				SaleDate:     in.SaleDate,
			}}
			if role.SellsFromDelegation() {
				balances, err := tx.LockBalances(ctx, med.ID, role)
				if err != nil {
					return err
				}
				if p.draws, err = delegations.AllocateFIFO(med.ID, balances, line.Quantity); err != nil {
					return err
				}
			} else {
				if med.Quantity < line.Quantity {
					return &shared.InsufficientStockError{MedicineID: med.ID, Available: med.Quantity, Requested: line.Quantity}
				}
				if err := tx.SetMedicineQuantity(ctx, med.ID, med.Quantity-line.Quantity); err != nil {
					return err
				}
			}
			subtotal = subtotal.Add(p.sale.TotalPrice)
			prepared = append(prepared, p)
		}

		discountAmount, total := discount.Apply(subtotal)
		receipt, err = tx.InsertReceipt(ctx, Receipt{
			Reference:      uuid.NewString(),
			PatientName:    in.PatientName,
			Unit:           in.Unit,
			Subtotal:       subtotal,
			Discount:       discount.Value(),
			DiscountAmount: discountAmount,
			TotalAmount:    total,
			SoldBy:         in.Actor.UserID,
			SoldByRole:     role,
			SaleDate:       in.SaleDate,
		})
		if err != nil {
			return err
		}
		for _, p := range prepared {
			sale := p.sale
			sale.ReceiptID = receipt.ID
			if sale.ID, err = tx.InsertSale(ctx, sale); err != nil {
				return err
			}
			for _, d := range p.draws {
				a := Allocation{SaleID: sale.ID, DelegationID: d.DelegationID, Quantity: d.Quantity}
				if a.ID, err = tx.InsertAllocation(ctx, a); err != nil {
					return err
				}
				sale.Allocations = append(sale.Allocations, a)
			}
			receipt.Lines = append(receipt.Lines, sale)
		}
		if in.IdempotencyKey != "" {
			return tx.CompleteIdempotencyKey(ctx, in.IdempotencyKey, receipt.ID)
		}
		return nil
	})
	if err != nil {
		s.metrics.StockRejected("sale", err)
		return Receipt{}, fmt.Errorf("record sale: %w", err)
	}
	if replayedID != 0 {
		r, err := s.repo.GetReceipt(ctx, replayedID)
		if err != nil {
			return Receipt{}, err
		}
		r.Replayed = true
		return r, nil
	}

	s.Invalidate(ctx)
	central := false
	for _, line := range receipt.Lines {
		s.metrics.Sold(line.Source(), line.Quantity)
		central = central || line.Source() == SourceCentral
	}
	if central && s.stock != nil {
		s.stock.Invalidate(ctx)
	}
	s.record(ctx, in.Actor.UserID, receipt)
	return receipt, nil
}

func (s *Service) resolveDiscount(ctx context.Context, in RecordInput) (pricing.Discount, error) {
	if in.Discount != nil {
		return pricing.NewDiscount(*in.Discount)
	}
	if in.Unit == "" {
		return pricing.Discount{}, nil
	}
	value, ok, err := s.repo.UnitDiscount(ctx, in.Unit)
	if err != nil {
		return pricing.Discount{}, fmt.Errorf("unit discount: %w", err)
	}
	if !ok {
		return pricing.Discount{}, nil
	}
	return pricing.NewDiscount(value)
}

// Get loads a receipt with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// List returns a page of receipts and the totals over the whole filter.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return ListResult{}, shared.Validationf("dateTo precedes dateFrom")
	}
	filter.Page = filter.Page.Normalize()

	var (
		result ListResult
		total  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, n, err := s.repo.ListReceipts(gctx, filter)
		if err != nil {
			return err
		}
		result.Items, total = items, n
		return nil
	})
	g.Go(func() error {
		totals, err := s.totals(gctx, filter)
		if err != nil {
			return err
		}
		result.Totals = totals
		return nil
	})
	if err := g.Wait(); err != nil {
		return ListResult{}, fmt.Errorf("list sales: %w", err)
	}
	if result.Items == nil {
		result.Items = []Receipt{}
	}
	result.Pagination = shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total)
	return result, nil
}

func (s *Service) totals(ctx context.Context, filter ListFilter) (Totals, error) {
	if s.cache == nil {
		return s.repo.Totals(ctx, filter)
	}
	var totals Totals
	err := s.cache.FetchJSON(ctx, &totals, func(ctx context.Context) (any, error) {
		return s.repo.Totals(ctx, filter)
	}, "totals", dateKey(filter.From), dateKey(filter.To))
	return totals, err
}

func dateKey(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

// Invalidate drops cached totals after sales or returns changed.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("sales cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor int64, r Receipt) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   "sale.record",
		Entity:   "sale_receipt",
		EntityID: fmt.Sprint(r.ID),
		Meta: map[string]any{
			"reference": r.Reference,
			"role":      r.SoldByRole,
			"total":     r.TotalAmount.String(),
			"lines":     len(r.Lines),
		},
		At: s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", "sale.record"), slog.Any("error", err))
	}
}
