package medicines

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Create(ctx context.Context, m Medicine) (Medicine, error)
	Get(ctx context.Context, id int64) (Medicine, error)
	List(ctx context.Context, filter ListFilter) ([]Medicine, int, error)
	AlertCandidates(ctx context.Context, asOf time.Time) ([]Medicine, error)
}

// CachePort is the versioned cache holding computed alerts.
type CachePort interface {
	FetchJSON(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error
	Bump(ctx context.Context) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates medicine catalogue reads and stock alerts.
type Service struct {
	repo   RepositoryPort
	cache  CachePort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. cache and audit may be nil.
func NewService(repo RepositoryPort, cache CachePort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, now: time.Now}
}

// Create registers a medicine with its opening central stock.
func (s *Service) Create(ctx context.Context, in CreateInput) (Medicine, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return Medicine{}, err
	}
	m, err := s.repo.Create(ctx, Medicine{
		Name:              in.Name,
		GenericName:       strings.TrimSpace(in.GenericName),
		PackageType:       strings.TrimSpace(in.PackageType),
		Quantity:          in.Quantity,
		BuyPrice:          in.BuyPrice,
		SellingPrice:      in.SellingPrice,
		TotalPrice:        in.BuyPrice.Mul(decimal.NewFromInt(in.Quantity)),
		ManufacturingDate: in.ManufacturingDate,
		ExpiryDate:        in.ExpiryDate,
		LowStockThreshold: in.LowStockThreshold,
	})
	if err != nil {
		return Medicine{}, fmt.Errorf("create medicine: %w", err)
	}
	s.Invalidate(ctx)
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "medicine.create",
			Entity:   "medicine",
			EntityID: fmt.Sprint(m.ID),
			Meta:     map[string]any{"quantity": m.Quantity},
			At:       s.now(),
		}); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", "medicine.create"), slog.Any("error", err))
		}
	}
	return m, nil
}

// Get loads a medicine by id.
func (s *Service) Get(ctx context.Context, id int64) (Medicine, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of medicines.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Medicine, shared.Pagination, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page = filter.Page.Normalize()
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if items == nil {
		items = []Medicine{}
	}
	return items, shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total), nil
}

// Alerts returns expired, out-of-stock and low-stock medicines. Results are
// cached per day until the next stock mutation.
func (s *Service) Alerts(ctx context.Context) (Alerts, error) {
	now := s.now()
	loader := func(ctx context.Context) (any, error) {
		meds, err := s.repo.AlertCandidates(ctx, now)
		if err != nil {
			return nil, err
		}
		return BuildAlerts(meds, now), nil
	}
	if s.cache == nil {
		v, err := loader(ctx)
		if err != nil {
			return Alerts{}, err
		}
		return v.(Alerts), nil
	}
	var alerts Alerts
	if err := s.cache.FetchJSON(ctx, &alerts, loader, "alerts", now.Format("2006-01-02")); err != nil {
		return Alerts{}, fmt.Errorf("stock alerts: %w", err)
	}
	return alerts, nil
}

// Invalidate drops cached alerts after central stock changed.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("medicine cache bump failed", slog.Any("error", err))
	}
}
