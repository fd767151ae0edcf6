package delegations

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/httpx"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/rbac"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// Handler wires HTTP endpoints for the delegation ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs delegations handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers delegation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.DelegationViewers...))
		r.Get("/", h.handleList)
		r.Post("/restore", h.handleRestore)
		r.Get("/notifications/all", h.handleNotifications)
		r.Post("/notifications/read-all", h.handleMarkAllRead)
		r.Post("/notifications/{id}/read", h.handleMarkRead)
		r.Patch("/notifications/{id}/read", h.handleMarkRead)
		r.Get("/{id}", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireStockManager())
		r.Post("/", h.handleCreate)
	})
}

type createRequest struct {
	MedicineID     int64  `json:"medicineId" validate:"required,gt=0"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
	DelegatedTo    string `json:"delegatedTo" validate:"required"`
	Remarks        string `json:"remarks" validate:"max=500"`
	DelegationDate string `json:"delegationDate"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := shared.ParseRole(strings.ToLower(strings.TrimSpace(req.DelegatedTo)))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var date time.Time
	if req.DelegationDate != "" {
		if date, err = time.Parse("2006-01-02", req.DelegationDate); err != nil {
			httpx.RespondError(w, shared.Validationf("invalid delegationDate %q", req.DelegationDate))
			return
		}
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	d, err := h.service.Create(r.Context(), CreateInput{
		MedicineID:     req.MedicineID,
		DelegatedTo:    role,
		Quantity:       req.Quantity,
		Remarks:        strings.TrimSpace(req.Remarks),
		DelegationDate: date,
		ActorID:        principal.UserID,
		IdempotencyKey: r.Header.Get(httpx.IdempotencyHeader),
	})
	if err != nil {
		h.logger.Warn("delegation rejected", slog.Int64("medicine_id", req.MedicineID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("delegation created",
		slog.Int64("delegation_id", d.ID),
		slog.Int64("medicine_id", d.MedicineID),
		slog.String("delegated_to", string(d.DelegatedTo)),
		slog.Int64("quantity", d.Quantity),
		slog.Bool("replayed", d.Replayed))
	httpx.Created(w, d.Replayed, d)
}

type restoreRequest struct {
	DelegatedTo string        `json:"delegatedTo"`
	Remarks     string        `json:"remarks" validate:"max=500"`
	Medicines   []RestoreItem `json:"medicines" validate:"required,min=1"`
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	role, err := h.targetRole(principal, req.DelegatedTo)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Restore(r.Context(), RestoreInput{
		DelegatedTo: role,
		Items:       req.Medicines,
		Remarks:     strings.TrimSpace(req.Remarks),
		ActorID:     principal.UserID,
	})
	if err != nil {
		h.logger.Warn("restore rejected", slog.String("delegated_to", string(role)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// targetRole resolves whose delegations a request addresses. Stock managers
// name a role; recipient roles may only address their own.
func (h *Handler) targetRole(p shared.Principal, requested string) (shared.Role, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if p.Role.ManagesStock() {
		if requested == "" {
			return "", shared.Validationf("delegatedTo is required")
		}
		return shared.ParseRole(requested)
	}
	if requested != "" && shared.Role(requested) != p.Role {
		return "", shared.ErrForbidden
	}
	return p.Role, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.ParsePage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	medicineID, err := httpx.QueryInt64(r, "medicineId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	filter := ListFilter{MedicineID: medicineID, Page: page}
	if raw := r.URL.Query().Get("delegatedTo"); raw != "" || !principal.Role.ManagesStock() {
		if principal.Role.ManagesStock() {
			filter.DelegatedTo = shared.Role(strings.ToLower(raw))
		} else if filter.DelegatedTo, err = h.targetRole(principal, raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	items, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list delegations", slog.Any("error", err))
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
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if !principal.Role.ManagesStock() && d.DelegatedTo != principal.Role {
		httpx.RespondError(w, shared.NotFoundf("delegation %d", id))
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) notificationRole(r *http.Request) (shared.Role, error) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	return h.targetRole(principal, r.URL.Query().Get("role"))
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	role, err := h.notificationRole(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.Notifications(r.Context(), role)
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "unread": len(items)})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.ParseID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.notificationRole(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.MarkRead(r.Context(), id, role); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	role, err := h.notificationRole(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	n, err := h.service.MarkAllRead(r.Context(), role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"updated": n})
}
