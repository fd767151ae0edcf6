package sales

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

// Handler exposes sale endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers sale routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.Sellers...))
		r.Get("/", h.handleList)
		r.Post("/", h.handleRecord)
		r.Get("/{id}", h.handleGet)
	})
}

type lineRequest struct {
	MedicineID   int64            `json:"medicineId" validate:"required,gt=0"`
	Quantity     int64            `json:"quantity" validate:"required,gt=0"`
	SellingPrice *decimal.Decimal `json:"sellingPrice"`
}

// recordRequest mirrors the receipt form. Client supplied totals are ignored
// and recomputed from the lines.
type recordRequest struct {
	PatientName string           `json:"patientName" validate:"max=200"`
	Unit        string           `json:"unit" validate:"max=100"`
	Discount    *decimal.Decimal `json:"discount"`
	SaleDate    string           `json:"saleDate"`
	Medicines   []lineRequest    `json:"medicines" validate:"required,min=1,dive"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := RecordInput{
		PatientName:    req.PatientName,
		Unit:           req.Unit,
		Discount:       req.Discount,
		Lines:          make([]LineInput, 0, len(req.Medicines)),
		IdempotencyKey: r.Header.Get(httpx.IdempotencyHeader),
	}
	in.Actor, _ = shared.PrincipalFromContext(r.Context())
	if req.SaleDate != "" {
		date, err := parseDate(req.SaleDate)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.SaleDate = date
	}
	for _, m := range req.Medicines {
		in.Lines = append(in.Lines, LineInput{MedicineID: m.MedicineID, Quantity: m.Quantity, SellingPrice: m.SellingPrice})
	}

	receipt, err := h.service.Record(r.Context(), in)
	if err != nil {
		h.logger.Warn("sale rejected",
			slog.Int64("user_id", in.Actor.UserID),
			slog.String("role", string(in.Actor.Role)),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("sale recorded",
		slog.Int64("receipt_id", receipt.ID),
		slog.String("reference", receipt.Reference),
		slog.String("role", string(receipt.SoldByRole)),
		slog.String("total", receipt.TotalAmount.String()),
		slog.Bool("replayed", receipt.Replayed))
	httpx.Created(w, receipt.Replayed, receipt)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.ParsePage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := httpx.QueryDate(r, "dateFrom")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryDate(r, "dateTo")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.List(r.Context(), ListFilter{From: from, To: to, Page: page})
	if err != nil {
		h.logger.Error("list sales", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.Validationf("invalid saleDate %q, want YYYY-MM-DD", raw)
	}
	return t, nil
}
