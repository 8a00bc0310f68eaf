package production

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/garmentflow/garmentflow/internal/platform/httpx"
)

// Handler exposes the lot and production event endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds the production handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers /lots, /stitching, /washing and /finishing on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/lots", func(r chi.Router) {
		r.Get("/", h.handleListLots)
		r.Post("/", h.handleResolveLot)
		r.Get("/next", h.handleNextLot)
		r.Get("/{id}", h.handleGetLot)
	})
	r.Route("/stitching", func(r chi.Router) {
		r.Post("/", h.handleRecordStitching)
		r.Get("/", h.handleListStitching)
		r.Get("/{id}", h.handleGetStitching)
		r.Put("/{id}", h.handleStitchOut)
	})
	r.Route("/washing", func(r chi.Router) {
		r.Post("/", h.handleRecordWashing)
		r.Get("/", h.handleListWashing)
		r.Get("/{id}", h.handleGetWashing)
		r.Put("/{id}", h.handleWashOut)
	})
	r.Route("/finishing", func(r chi.Router) {
		r.Post("/", h.handleRecordFinishing)
		r.Get("/", h.handleListFinishing)
		r.Get("/{id}", h.handleGetFinishing)
		r.Put("/{id}", h.handleFinishOut)
	})
}

func (h *Handler) handleListLots(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.QueryInt64(r, "orderId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	lots, err := h.service.ListLots(r.Context(), orderID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if lots == nil {
		lots = []Lot{}
	}
	httpx.JSON(w, http.StatusOK, lots)
}

func (h *Handler) handleResolveLot(w http.ResponseWriter, r *http.Request) {
	var req LotRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	lot, err := h.service.ResolveOrCreateLot(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) handleNextLot(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.QueryInt64(r, "orderId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var id int64
	if orderID != nil {
		id = *orderID
	}
	next, err := h.service.SuggestLotNumber(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, next)
}

func (h *Handler) handleGetLot(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "lot id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	lot, err := h.service.GetLot(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) handleRecordStitching(w http.ResponseWriter, r *http.Request) {
	var req StitchingRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ev, err := h.service.RecordStitching(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleListStitching(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.ListStitching(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if rows == nil {
		rows = []StitchingEvent{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleGetStitching(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "stitching id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ev, err := h.service.GetStitching(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ev)
}

func (h *Handler) handleStitchOut(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "stitching id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req StitchOutRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ev, err := h.service.SetStitchOutDate(r.Context(), id, req.StitchOutDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ev)
}

func (h *Handler) handleRecordWashing(w http.ResponseWriter, r *http.Request) {
	var req WashingRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ev, err := h.service.RecordWashing(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleListWashing(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.ListWashing(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if rows == nil {
		rows = []WashingEvent{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleGetWashing(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "washing id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ev, err := h.service.GetWashing(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ev)
}

func (h *Handler) handleWashOut(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "washing id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req WashOutRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ev, err := h.service.SetWashOutDate(r.Context(), id, req.WashOutDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ev)
}

func (h *Handler) handleRecordFinishing(w http.ResponseWriter, r *http.Request) {
	var req FinishingRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ev, err := h.service.RecordFinishing(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleListFinishing(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	rows, err := h.service.ListFinishing(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if rows == nil {
		rows = []FinishingEvent{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleGetFinishing(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "finishing id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ev, err := h.service.GetFinishing(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ev)
}

func (h *Handler) handleFinishOut(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(chi.URLParam(r, "id"), "finishing id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req FinishOutRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	ev, err := h.service.SetFinishOutDate(r.Context(), id, req.FinishOutDate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ev)
}

func parseEventFilter(r *http.Request) (EventFilter, error) {
	var (
		f   EventFilter
		err error
	)
	if f.OrderID, err = httpx.QueryInt64(r, "orderId"); err != nil {
		return EventFilter{}, err
	}
	if f.VendorID, err = httpx.QueryInt64(r, "vendorId"); err != nil {
		return EventFilter{}, err
	}
	f.LotNumber = strings.TrimSpace(r.URL.Query().Get("lotNumber"))
	return f, nil
}
