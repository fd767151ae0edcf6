package delegations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/observability"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Repository abstracts persistence for the delegation ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Delegation, error)
	List(ctx context.Context, filter ListFilter) ([]Delegation, int, error)
	ListNotifications(ctx context.Context, role shared.Role, unreadOnly bool) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id int64, role shared.Role) error
	MarkAllNotificationsRead(ctx context.Context, role shared.Role) (int64, error)
}

// TxRepository exposes the row-locked operations of one ledger transaction.
type TxRepository interface {
	ClaimIdempotencyKey(ctx context.Context, key string) (resourceID int64, claimed bool, err error)
	CompleteIdempotencyKey(ctx context.Context, key string, resourceID int64) error
	LockMedicine(ctx context.Context, id int64) (medicines.Stock, error)
	SetMedicineQuantity(ctx context.Context, id, quantity int64) error
	// LockBalances locks every delegation of medicineID to role, oldest first.
	LockBalances(ctx context.Context, medicineID int64, role shared.Role) ([]Balance, error)
	InsertDelegation(ctx context.Context, d Delegation) (Delegation, error)
	InsertNotification(ctx context.Context, n Notification) (int64, error)
	InsertAdjustments(ctx context.Context, adjustments []Adjustment) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StockObserver is told when central stock changed.
type StockObserver interface {
	Invalidate(ctx context.Context)
}

// Service coordinates delegation operations.
type Service struct {
	repo    Repository
	audit   AuditPort
	stock   StockObserver
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. audit, stock and metrics may be nil.
func NewService(repo Repository, audit AuditPort, stock StockObserver, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, stock: stock, metrics: metrics, logger: logger, now: time.Now}
}

var printer = message.NewPrinter(language.English)

func notificationMessage(quantity int64, medicine string, role shared.Role) string {
	return printer.Sprintf("%d units of %s have been delegated to %s", quantity, medicine, role.Label())
}

// Create moves stock from central stores to a role. The medicine row is locked
// for the duration, so two delegations cannot both pass the stock check.
func (s *Service) Create(ctx context.Context, in CreateInput) (Delegation, error) {
	if err := in.Validate(); err != nil {
		return Delegation{}, err
	}
	if in.DelegationDate.IsZero() {
		in.DelegationDate = s.now()
	}
	var (
		created    Delegation
		replayedID int64
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
		med, err := tx.LockMedicine(ctx, in.MedicineID)
		if err != nil {
			return err
		}
		if med.Quantity < in.Quantity {
			return &shared.InsufficientStockError{MedicineID: med.ID, Available: med.Quantity, Requested: in.Quantity}
		}
		created, err = tx.InsertDelegation(ctx, Delegation{
			MedicineID:       med.ID,
			MedicineName:     med.Name,
			DelegatedBy:      in.ActorID,
			DelegatedTo:      in.DelegatedTo,
			Quantity:         in.Quantity,
			OriginalQuantity: in.Quantity,
			Remarks:          in.Remarks,
			DelegationDate:   in.DelegationDate,
		})
		if err != nil {
			return err
		}
		created.MedicineName = med.Name
		created.RemainingQuantity = in.Quantity
		if err := tx.SetMedicineQuantity(ctx, med.ID, med.Quantity-in.Quantity); err != nil {
			return err
		}
		if in.DelegatedTo.ReceivesNotifications() {
			if _, err := tx.InsertNotification(ctx, Notification{
				MedicineID:  med.ID,
				DelegatedTo: in.DelegatedTo,
				Quantity:    in.Quantity,
				Message:     notificationMessage(in.Quantity, med.Name, in.DelegatedTo),
			}); err != nil {
				return err
			}
		}
		if in.IdempotencyKey != "" {
			return tx.CompleteIdempotencyKey(ctx, in.IdempotencyKey, created.ID)
		}
		return nil
	})
	if err != nil {
		s.metrics.StockRejected("delegate", err)
		return Delegation{}, fmt.Errorf("delegate medicine %d: %w", in.MedicineID, err)
	}
	if replayedID != 0 {
		d, err := s.repo.Get(ctx, replayedID)
		if err != nil {
			return Delegation{}, err
		}
		d.Replayed = true
		return d, nil
	}

	s.afterStockChange(ctx)
	s.metrics.DelegationCreated(string(created.DelegatedTo), created.Quantity)
	s.record(ctx, in.ActorID, "delegation.create", created.ID, map[string]any{
		"medicine_id":  created.MedicineID,
		"delegated_to": created.DelegatedTo,
		"quantity":     created.Quantity,
	})
	return created, nil
}

// Restore reclaims delegated stock of a role back to central stock, newest
// delegation first. The whole request commits or nothing does.
func (s *Service) Restore(ctx context.Context, in RestoreInput) (RestoreResult, error) {
	if err := in.Validate(); err != nil {
		return RestoreResult{}, err
	}
	items := append([]RestoreItem(nil), in.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].MedicineID < items[j].MedicineID })

	result := RestoreResult{DelegatedTo: in.DelegatedTo}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, item := range items {
			med, err := tx.LockMedicine(ctx, item.MedicineID)
			if err != nil {
				return err
			}
			balances, err := tx.LockBalances(ctx, item.MedicineID, in.DelegatedTo)
			if err != nil {
				return err
			}
			draws, err := ReclaimLIFO(item.MedicineID, balances, item.Quantity)
			if err != nil {
				return err
			}
			adjustments := make([]Adjustment, 0, len(draws))
			for _, d := range draws {
				adjustments = append(adjustments, Adjustment{
					DelegationID: d.DelegationID,
					Quantity:     d.Quantity,
					Reason:       in.Remarks,
					CreatedBy:    in.ActorID,
				})
			}
			if err := tx.InsertAdjustments(ctx, adjustments); err != nil {
				return err
			}
			central := med.Quantity + item.Quantity
			if err := tx.SetMedicineQuantity(ctx, med.ID, central); err != nil {
				return err
			}
			result.Items = append(result.Items, RestoredItem{
				MedicineID:      med.ID,
				Restored:        item.Quantity,
				CentralQuantity: central,
				Remaining:       TotalRemaining(balances) - item.Quantity,
			})
		}
		return nil
	})
	if err != nil {
		s.metrics.StockRejected("restore", err)
		return RestoreResult{}, fmt.Errorf("restore delegated stock: %w", err)
	}
	s.afterStockChange(ctx)
	s.record(ctx, in.ActorID, "delegation.restore", 0, map[string]any{
		"delegated_to": in.DelegatedTo,
		"items":        result.Items,
	})
	return result, nil
}

// Get loads one delegation with its remaining quantity.
func (s *Service) Get(ctx context.Context, id int64) (Delegation, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of delegations with remaining quantities.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Delegation, shared.Pagination, error) {
	if filter.DelegatedTo != "" && !filter.DelegatedTo.Valid() {
		return nil, shared.Pagination{}, shared.Validationf("unknown role %q", filter.DelegatedTo)
	}
	filter.Page = filter.Page.Normalize()
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if items == nil {
		items = []Delegation{}
	}
	return items, shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total), nil
}

// Notifications lists the unread delegation notifications addressed to role.
func (s *Service) Notifications(ctx context.Context, role shared.Role) ([]Notification, error) {
	items, err := s.repo.ListNotifications(ctx, role, true)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Notification{}
	}
	return items, nil
}

// MarkRead marks one notification of role as read.
func (s *Service) MarkRead(ctx context.Context, id int64, role shared.Role) error {
	return s.repo.MarkNotificationRead(ctx, id, role)
}

// MarkAllRead marks every notification of role as read.
func (s *Service) MarkAllRead(ctx context.Context, role shared.Role) (int64, error) {
	return s.repo.MarkAllNotificationsRead(ctx, role)
}

func (s *Service) afterStockChange(ctx context.Context) {
	if s.stock != nil {
		s.stock.Invalidate(ctx)
	}
}

func (s *Service) record(ctx context.Context, actor int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "delegation",
		EntityID: fmt.Sprint(id),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
