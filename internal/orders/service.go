package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/garmentflow/garmentflow/internal/shared"
)

// Repository describes persistence operations used by Service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
}

// TxStore exposes the transactional order operations. Production recorders reuse it
// inside their own unit of work.
type TxStore interface {
	Insert(ctx context.Context, o *Order) error
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateDetails(ctx context.Context, o Order) error
	AppendStage(ctx context.Context, id int64, change StageChange) error
	AddStitched(ctx context.Context, id int64, qty int64) error
}

// Service orchestrates order flows.
type Service struct {
	repo   Repository
	audit  shared.AuditSink
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the order service.
func NewService(repo Repository, audit shared.AuditSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Create validates the thread color split and persists a new order at StagePlaced.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Order, error) {
	if err := CheckQuantities(req.TotalQuantity, req.ThreadColors); err != nil {
		return Order{}, err
	}
	now := s.now()
	o := Order{
		Code:          strings.TrimSpace(req.Code),
		Date:          req.Date,
		ClientID:      req.ClientID,
		Fabric:        strings.TrimSpace(req.Fabric),
		FitStyleID:    req.FitStyleID,
		WaistSize:     strings.TrimSpace(req.WaistSize),
		TotalQuantity: req.TotalQuantity,
		ThreadColors:  req.ThreadColors,
		Description:   req.Description,
		Attachments:   req.Attachments,
		Stage:         StagePlaced,
		StageHistory:  []StageChange{{Stage: StagePlaced, ChangedAt: now}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if o.Attachments == nil {
		o.Attachments = []string{}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.Insert(ctx, &o)
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "ORDER_CREATE", o.ID, map[string]any{"code": o.Code, "totalQuantity": o.TotalQuantity})
	return o, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of orders.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, shared.Pagination, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// Update applies a partial update. The thread color invariant is re-checked whenever the
// total or the split changes, and the total may not drop below what is already stitched.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (Order, error) {
	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Date != nil {
			o.Date = *req.Date
		}
		if req.ClientID != nil {
			o.ClientID = *req.ClientID
		}
		if req.Fabric != nil {
			o.Fabric = strings.TrimSpace(*req.Fabric)
		}
		if req.FitStyleID != nil {
			o.FitStyleID = *req.FitStyleID
		}
		if req.WaistSize != nil {
			o.WaistSize = strings.TrimSpace(*req.WaistSize)
		}
		if req.Description != nil {
			o.Description = *req.Description
		}
		if req.Attachments != nil {
			o.Attachments = *req.Attachments
		}
		if req.TotalQuantity != nil || req.ThreadColors != nil {
			if req.TotalQuantity != nil {
				o.TotalQuantity = *req.TotalQuantity
			}
			if req.ThreadColors != nil {
				o.ThreadColors = *req.ThreadColors
			}
			if err := CheckQuantities(o.TotalQuantity, o.ThreadColors); err != nil {
				return err
			}
			if o.TotalQuantity < o.StitchedQuantity {
				return shared.Validationf("total quantity %d is below the %d pieces already sent to stitching", o.TotalQuantity, o.StitchedQuantity)
			}
		}
		o.UpdatedAt = s.now()
		if err := tx.UpdateDetails(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, "ORDER_UPDATE", id, map[string]any{"totalQuantity": updated.TotalQuantity})
	return updated, nil
}

// SetStatus is the manual status edit. It bypasses the monotonic guard.
func (s *Service) SetStatus(ctx context.Context, id int64, stage Stage) (Order, error) {
	if !stage.Valid() {
		return Order{}, shared.Validationf("status must be between %d and %d", StagePlaced, StageCancelled)
	}
	var (
		updated  Order
		previous Stage
		changed  bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		changed = false
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previous = o.Stage
		now := s.now()
		if SetStage(&o, stage, now) {
			changed = true
			if err := tx.AppendStage(ctx, o.ID, o.StageHistory[len(o.StageHistory)-1]); err != nil {
				return err
			}
			o.UpdatedAt = now
		}
		updated = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if changed {
		if stage.Before(previous) {
			s.logger.Warn("order stage moved backwards", slog.Int64("order_id", id), slog.String("from", previous.String()), slog.String("to", stage.String()))
		}
		s.recordAudit(ctx, "ORDER_STATUS_SET", id, map[string]any{"from": int(previous), "to": int(stage)})
	}
	return updated, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, details map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:    shared.ActorID(ctx),
		Action:     action,
		EntityType: "order",
		EntityID:   fmt.Sprintf("%d", entityID),
		Details:    details,
		At:         s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
