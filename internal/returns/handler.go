package returns

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/httpx"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/rbac"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Handler exposes return endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs returns handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.Sellers...))
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.Reversers...))
		r.Delete("/{id}", h.handleDelete)
	})
}

type itemRequest struct {
	MedicineID       int64            `json:"medicineId" validate:"required,gt=0"`
	QuantityReturned int64            `json:"quantityReturned" validate:"required,gt=0"`
	RefundAmount     *decimal.Decimal `json:"refundAmount"`
}

// createRequest accepts the legacy return form. totalReturned, totalOriginal
// and isFullReturn are recomputed server side and ignored if sent.
type createRequest struct {
	SaleID      int64         `json:"saleId" validate:"required,gt=0"`
	PatientName string        `json:"patientName" validate:"max=200"`
	Reason      string        `json:"reason" validate:"max=500"`
	ReturnDate  string        `json:"returnDate"`
	Medicines   []itemRequest `json:"medicines" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{
		SaleID:         req.SaleID,
		PatientName:    req.PatientName,
		Reason:         req.Reason,
		Items:          make([]ItemInput, 0, len(req.Medicines)),
		IdempotencyKey: r.Header.Get(httpx.IdempotencyHeader),
	}
	in.Actor, _ = shared.PrincipalFromContext(r.Context())
	if req.ReturnDate != "" {
		date, err := time.Parse("2006-01-02", req.ReturnDate)
		if err != nil {
			httpx.RespondError(w, shared.Validationf("invalid returnDate %q, want YYYY-MM-DD", req.ReturnDate))
			return
		}
		in.ReturnDate = date
	}
	for _, m := range req.Medicines {
		in.Items = append(in.Items, ItemInput{MedicineID: m.MedicineID, Quantity: m.QuantityReturned, RefundAmount: m.RefundAmount})
	}

	ret, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.logger.Warn("return rejected", slog.Int64("sale_id", req.SaleID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("return recorded",
		slog.Int64("return_id", ret.ID),
		slog.Int64("sale_id", ret.SaleID),
		slog.Int64("units", ret.Units()),
		slog.Bool("full", ret.IsFullReturn),
		slog.Bool("replayed", ret.Replayed))
	httpx.Created(w, ret.Replayed, ret)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.ParsePage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	saleID, err := httpx.QueryInt64(r, "saleId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, pagination, err := h.service.List(r.Context(), ListFilter{SaleID: saleID, Page: page})
	if err != nil {
		h.logger.Error("list returns", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": pagination})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), id, principal); err != nil {
		h.logger.Warn("return delete rejected", slog.Int64("return_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("return reversed", slog.Int64("return_id", id), slog.Int64("user_id", principal.UserID))
	w.WriteHeader(http.StatusNoContent)
}
