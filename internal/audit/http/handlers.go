// Package audithttp serves the audit trail to administrators.
package audithttp

import (
	"context"
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/garmentflow/garmentflow/internal/audit"
	"github.com/garmentflow/garmentflow/internal/platform/httpx"
	"github.com/garmentflow/garmentflow/internal/shared"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 100
	maxDateRangeHours = 24 * 366
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves /audit-logs.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-logs.csv\"")
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"timestamp", "actor_id", "action", "entity_type", "entity_id"})
	for _, row := range rows {
		_ = cw.Write([]string{
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.EntityType,
			row.EntityID,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	var (
		filters audit.TimelineFilters
		err     error
	)
	if filters.From, err = parseDay(q.Get("from"), "from"); err != nil {
		return audit.TimelineFilters{}, err
	}
	if filters.To, err = parseDay(q.Get("to"), "to"); err != nil {
		return audit.TimelineFilters{}, err
	}
	if !filters.To.IsZero() {
		filters.To = filters.To.Add(24 * time.Hour)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if !filters.From.Before(filters.To) {
			return audit.TimelineFilters{}, shared.Validationf("from must not be after to")
		}
		if filters.To.Sub(filters.From) > maxDateRangeHours*time.Hour {
			return audit.TimelineFilters{}, shared.Validationf("date range must not exceed one year")
		}
	}
	if filters.ActorID, err = httpx.QueryInt64(r, "actorId"); err != nil {
		return audit.TimelineFilters{}, err
	}

	filters.Page = 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, shared.Validationf("page must be a positive integer")
		}
		filters.Page = parsed
	}
	filters.PageSize = defaultPageSize
	if v := strings.TrimSpace(q.Get("pageSize")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, shared.Validationf("pageSize must be a positive integer")
		}
		filters.PageSize = min(parsed, maxPageSize)
	}
	filters.EntityType = strings.TrimSpace(q.Get("entityType"))
	filters.EntityID = strings.TrimSpace(q.Get("entityId"))
	filters.Action = strings.TrimSpace(q.Get("action"))
	return filters, nil
}

func parseDay(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.Validationf("%s must be a date in YYYY-MM-DD format", field)
	}
	return t, nil
}
