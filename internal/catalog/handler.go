package catalog

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/garmentflow/garmentflow/internal/platform/httpx"
	"github.com/garmentflow/garmentflow/internal/shared"
)

// Handler exposes /vendors/{kind}.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	audit    shared.AuditSink
	validate *validator.Validate
}

// NewHandler builds the vendor directory handler. audit may be nil.
func NewHandler(logger *slog.Logger, registry *Registry, audit shared.AuditSink) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, registry: registry, audit: audit, validate: httpx.NewValidator()}
}

// MountRoutes registers the vendor routes; use with r.Route("/vendors", ...).
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{kind}", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Patch("/{id}/toggle", h.handleToggle)
	})
}

func (h *Handler) directory(r *http.Request) (Directory, VendorKind, error) {
	kind, err := ParseVendorKind(chi.URLParam(r, "kind"))
	if err != nil {
		return nil, "", err
	}
	dir, err := h.registry.Directory(kind)
	return dir, kind, err
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	dir, _, err := h.directory(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var active *bool
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.RespondError(w, h.logger, shared.Validationf("active must be true or false"))
			return
		}
		active = &v
	}
	vendors, err := dir.List(r.Context(), active)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if vendors == nil {
		vendors = []Vendor{}
	}
	httpx.JSON(w, http.StatusOK, vendors)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	dir, kind, err := h.directory(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req CreateVendorRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v, err := dir.Create(r.Context(), Vendor{Kind: kind, Name: req.Name, Phone: req.Phone, Address: req.Address, IsActive: true})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.recordAudit(r, "VENDOR_CREATE", v)
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	dir, _, err := h.directory(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "vendor id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v, err := dir.ToggleActive(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.recordAudit(r, "VENDOR_TOGGLE", v)
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) recordAudit(r *http.Request, action string, v Vendor) {
	if h.audit == nil {
		return
	}
	err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:    shared.ActorID(r.Context()),
		Action:     action,
		EntityType: "vendor",
		EntityID:   strconv.FormatInt(v.ID, 10),
		Details:    map[string]any{"kind": string(v.Kind), "name": v.Name, "isActive": v.IsActive},
	})
	if err != nil {
		h.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
