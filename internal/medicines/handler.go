package medicines

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/httpx"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/rbac"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Handler wires HTTP endpoints for the medicine catalogue.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs medicines handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers medicine routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/notifications/all", h.handleAlerts)
	r.Get("/{id}", h.handleGet)
	r.With(h.rbac.RequireStockManager()).Post("/", h.handleCreate)
}

type createRequest struct {
	Name              string          `json:"name" validate:"required,max=200"`
	GenericName       string          `json:"genericName" validate:"max=200"`
	PackageType       string          `json:"packageType" validate:"max=100"`
	Quantity          int64           `json:"quantity" validate:"gte=0"`
	BuyPrice          decimal.Decimal `json:"buyPrice"`
	SellingPrice      decimal.Decimal `json:"sellingPrice"`
	ManufacturingDate string          `json:"manufacturingDate"`
	ExpiryDate        string          `json:"expiryDate"`
	LowStockThreshold *int64          `json:"lowStockThreshold" validate:"omitempty,gte=0"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mfg, err := optionalDate("manufacturingDate", req.ManufacturingDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	exp, err := optionalDate("expiryDate", req.ExpiryDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	threshold := int64(10)
	if req.LowStockThreshold != nil {
		threshold = *req.LowStockThreshold
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	m, err := h.service.Create(r.Context(), CreateInput{
		Name:              req.Name,
		GenericName:       req.GenericName,
		PackageType:       req.PackageType,
		Quantity:          req.Quantity,
		BuyPrice:          req.BuyPrice,
		SellingPrice:      req.SellingPrice,
		ManufacturingDate: mfg,
		ExpiryDate:        exp,
		LowStockThreshold: threshold,
		ActorID:           principal.UserID,
	})
	if err != nil {
		h.logger.Error("create medicine", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.ParsePage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, pagination, err := h.service.List(r.Context(), ListFilter{Search: r.URL.Query().Get("search"), Page: page})
	if err != nil {
		h.logger.Error("list medicines", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": pagination})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.Alerts(r.Context())
	if err != nil {
		h.logger.Error("stock alerts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alerts)
}

func optionalDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, shared.Validationf("invalid %s %q, want YYYY-MM-DD", field, raw)
	}
	return &t, nil
}
