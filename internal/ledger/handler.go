package ledger

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/garmentflow/garmentflow/internal/platform/httpx"
	"github.com/garmentflow/garmentflow/internal/shared"
)

const (
	payRateLimit    = 30
	exportRateLimit = 10
	rateWindow      = time.Minute
)

// Handler exposes vendor balance endpoints.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	validate     *validator.Validate
	requireAdmin func(http.Handler) http.Handler
}

// NewHandler builds the ledger handler. requireAdmin guards the per-vendor reports.
func NewHandler(logger *slog.Logger, service *Service, requireAdmin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if requireAdmin == nil {
		requireAdmin = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator(), requireAdmin: requireAdmin}
}

// MountRoutes registers routes on r, which is expected to be mounted at /vendor-balances.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/payments", h.handlePayments)
	r.With(limiter(payRateLimit)).Post("/pay", h.handlePay)
	r.Group(func(gr chi.Router) {
		gr.Use(h.requireAdmin)
		gr.Get("/summary", h.handleSummary)
		gr.With(limiter(exportRateLimit)).Get("/export.xlsx", h.handleExport)
	})
}

func limiter(limit int) func(http.Handler) http.Handler {
	return httprate.Limit(limit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Error(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), nil)
		}),
	)
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok && p.UserID > 0 {
		return "user:" + strconv.FormatInt(p.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handlePayments(w http.ResponseWriter, r *http.Request) {
	vendorID, err := httpx.QueryInt64(r, "vendorId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if vendorID == nil {
		httpx.RespondError(w, h.logger, shared.Validationf("vendorId is required"))
		return
	}
	vendorType, err := ParseVendorType(r.URL.Query().Get("vendorType"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.Payments(r.Context(), *vendorID, vendorType)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if rows == nil {
		rows = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handlePay(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.RecordPayment(r.Context(), req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Summary(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var buf bytes.Buffer
	if err := h.service.ExportXLSX(r.Context(), filter, &buf); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	filename := "vendor-balances-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseFilter(r *http.Request) (ListFilter, error) {
	var (
		filter ListFilter
		err    error
	)
	q := r.URL.Query()
	if raw := q.Get("vendorType"); raw != "" {
		if filter.VendorType, err = ParseVendorType(raw); err != nil {
			return ListFilter{}, err
		}
	}
	if filter.VendorID, err = httpx.QueryInt64(r, "vendorId"); err != nil {
		return ListFilter{}, err
	}
	if filter.OrderID, err = httpx.QueryInt64(r, "orderId"); err != nil {
		return ListFilter{}, err
	}
	filter.LotNumber = strings.TrimSpace(q.Get("lotNumber"))
	return filter, nil
}
