package production

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/garmentflow/garmentflow/internal/ledger"
	"github.com/garmentflow/garmentflow/internal/lotno"
	"github.com/garmentflow/garmentflow/internal/observability"
	"github.com/garmentflow/garmentflow/internal/orders"
	"github.com/garmentflow/garmentflow/internal/platform/cache"
	"github.com/garmentflow/garmentflow/internal/shared"
)

const (
	stageStitching = "stitching"
	stageWashing   = "washing"
	stageFinishing = "finishing"
)

// Service implements the lot allocator and the production event recorders.
type Service struct {
	repo     Repository
	locker   Locker
	balances BalanceCache
	audit    shared.AuditSink
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises the service.
type Option func(*Service)

// WithLocker serialises recorders per order through a distributed lock.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithBalanceCache invalidates ledger reads after each accrual.
func WithBalanceCache(c BalanceCache) Option {
	return func(s *Service) { s.balances = c }
}

// WithAudit sets the audit sink.
func WithAudit(sink shared.AuditSink) Option {
	return func(s *Service) { s.audit = sink }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the production service.
func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveOrCreateLot returns the lot for (invoiceNumber, orderId), creating it when
// absent. Repeating the call with the same triple returns the same lot.
func (s *Service) ResolveOrCreateLot(ctx context.Context, req LotRequest) (Lot, error) {
	ln, invoice, err := parseLotKey(req.LotNumber, req.InvoiceNumber, req.OrderID)
	if err != nil {
		return Lot{}, err
	}
	var (
		lot     Lot
		created bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Orders().GetForUpdate(ctx, req.OrderID); err != nil {
			return err
		}
		var err error
		lot, created, err = s.resolveLot(ctx, tx, ln, invoice, req.OrderID, req.Date, req.Description)
		return err
	})
	if err != nil {
		return Lot{}, err
	}
	if created {
		s.recordAudit(ctx, "LOT_CREATE", "lot", lot.ID, map[string]any{"lotNumber": lot.LotNumber, "orderId": lot.OrderID})
	}
	return lot, nil
}

func (s *Service) resolveLot(ctx context.Context, tx TxRepository, ln lotno.Number, invoice, orderID int64, date time.Time, description string) (Lot, bool, error) {
	existing, found, err := tx.FindLotByInvoice(ctx, invoice, orderID)
	if err != nil {
		return Lot{}, false, err
	}
	if found {
		if existing.LotNumber != ln.String() {
			return Lot{}, false, shared.Validationf("invoice %d of order %d already belongs to lot %s, not %s", invoice, orderID, existing.LotNumber, ln)
		}
		return existing, false, nil
	}
	now := s.now()
	if date.IsZero() {
		date = now
	}
	lot := Lot{
		LotNumber:     ln.String(),
		InvoiceNumber: invoice,
		OrderID:       orderID,
		Date:          date,
		Description:   strings.TrimSpace(description),
		CreatedAt:     now,
	}
	if err := tx.InsertLot(ctx, &lot); err != nil {
		return Lot{}, false, err
	}
	return lot, true, nil
}

// SuggestLotNumber proposes the next lot number for an order: one past the order's
// highest lot, or one past the highest lot overall when the order has none yet.
func (s *Service) SuggestLotNumber(ctx context.Context, orderID int64) (NextLotResponse, error) {
	if orderID <= 0 {
		return NextLotResponse{}, shared.Validationf("orderId is required")
	}
	raw, err := s.repo.LotNumbers(ctx, &orderID)
	if err != nil {
		return NextLotResponse{}, err
	}
	if len(raw) == 0 {
		if raw, err = s.repo.LotNumbers(ctx, nil); err != nil {
			return NextLotResponse{}, err
		}
	}
	parsed, skipped := lotno.ParseAll(raw)
	if len(skipped) > 0 {
		s.logger.Warn("ignoring malformed lot numbers", slog.Int64("order_id", orderID), slog.Any("lot_numbers", skipped))
	}
	next, err := lotno.Next(parsed)
	if err != nil {
		return NextLotResponse{}, err
	}
	return NextLotResponse{LotNumber: next.String(), Series: string(next.Series), Batch: next.Start}, nil
}

// ListLots returns the lots of one order, or every lot when orderID is nil.
func (s *Service) ListLots(ctx context.Context, orderID *int64) ([]Lot, error) {
	return s.repo.ListLots(ctx, orderID)
}

// GetLot returns one lot.
func (s *Service) GetLot(ctx context.Context, id int64) (Lot, error) {
	return s.repo.GetLot(ctx, id)
}

// RecordStitching records a stitching hand-off. The order's stitched total may never
// exceed its ordered quantity.
func (s *Service) RecordStitching(ctx context.Context, req StitchingRequest) (StitchingEvent, error) {
	ln, invoice, err := parseLotKey(req.LotNumber, req.InvoiceNumber, req.OrderID)
	if err != nil {
		return StitchingEvent{}, err
	}
	if err := checkAmounts(req.VendorID, req.Quantity, req.QuantityShort, req.Rate.IsNegative()); err != nil {
		return StitchingEvent{}, err
	}

	release, err := s.lockOrder(ctx, req.OrderID)
	if err != nil {
		return StitchingEvent{}, err
	}
	defer release()

	var (
		ev         StitchingEvent
		lotCreated bool
		advanced   bool
		rejection  string
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		advanced, rejection = false, ""
		order, err := tx.Orders().GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		stitched, err := tx.SumStitchedForOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if req.Quantity > order.TotalQuantity-stitched {
			rejection = "over_allocation"
			return overAllocation(order, stitched, req.Quantity)
		}

		var lot Lot
		lot, lotCreated, err = s.resolveLot(ctx, tx, ln, invoice, order.ID, req.Date, req.Description)
		if err != nil {
			return err
		}

		now := s.now()
		ev = StitchingEvent{
			LotID:         lot.ID,
			LotNumber:     lot.LotNumber,
			InvoiceNumber: invoice,
			OrderID:       order.ID,
			VendorID:      req.VendorID,
			Quantity:      req.Quantity,
			QuantityShort: req.QuantityShort,
			Rate:          req.Rate,
			Date:          req.Date,
			Description:   strings.TrimSpace(req.Description),
			CreatedAt:     now,
		}
		if err := tx.InsertStitching(ctx, &ev); err != nil {
			return err
		}
		if err := tx.Orders().AddStitched(ctx, order.ID, req.Quantity); err != nil {
			return err
		}
		if advanced, err = advance(ctx, tx, &order, orders.StageStitching, now); err != nil {
			return err
		}
		_, err = tx.Ledger().Accrue(ctx, ledger.Accrual{
			VendorID:   req.VendorID,
			VendorType: ledger.VendorStitching,
			OrderID:    order.ID,
			LotNumber:  lot.LotNumber,
			Quantity:   req.Quantity,
			Rate:       req.Rate,
			At:         now,
		})
		return err
	})
	if err != nil {
		s.observeRejection(stageStitching, rejection)
		return StitchingEvent{}, err
	}

	s.afterCommit(ctx, stageStitching, ev.Quantity)
	if lotCreated {
		s.recordAudit(ctx, "LOT_CREATE", "lot", ev.LotID, map[string]any{"lotNumber": ev.LotNumber, "orderId": ev.OrderID})
	}
	s.recordAudit(ctx, "STITCHING_CREATE", "stitching", ev.ID, map[string]any{
		"orderId": ev.OrderID, "lotNumber": ev.LotNumber, "quantity": ev.Quantity, "rate": ev.Rate.String(), "stageAdvanced": advanced,
	})
	return ev, nil
}

// RecordWashing records a washing hand-off. The wash details must add up exactly to what
// was stitched for the lot.
func (s *Service) RecordWashing(ctx context.Context, req WashingRequest) (WashingEvent, error) {
	ln, invoice, err := parseLotKey(req.LotNumber, req.InvoiceNumber, req.OrderID)
	if err != nil {
		return WashingEvent{}, err
	}
	washed := WashDetailTotal(req.WashDetails)
	if len(req.WashDetails) == 0 {
		return WashingEvent{}, shared.Validationf("washDetails is required")
	}
	for _, d := range req.WashDetails {
		if d.Quantity <= 0 {
			return WashingEvent{}, shared.Validationf("wash detail quantity for %s must be greater than zero", d.Color)
		}
	}
	if err := checkAmounts(req.VendorID, washed, req.QuantityShort, req.Rate.IsNegative()); err != nil {
		return WashingEvent{}, err
	}

	release, err := s.lockOrder(ctx, req.OrderID)
	if err != nil {
		return WashingEvent{}, err
	}
	defer release()

	var (
		ev        WashingEvent
		advanced  bool
		rejection string
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		advanced, rejection = false, ""
		order, err := tx.Orders().GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		lot, found, err := tx.FindLotByNumber(ctx, ln.String(), order.ID)
		if err != nil {
			return err
		}
		if !found {
			rejection = "missing_stitching"
			return shared.NotFoundf("no stitching recorded for lot %s of order %s", ln, order.Code)
		}
		if lot.InvoiceNumber != invoice {
			rejection = "invoice_mismatch"
			return shared.Validationf("lot %s of order %s belongs to invoice %d, not %d", lot.LotNumber, order.Code, lot.InvoiceNumber, invoice)
		}
		events, stitched, err := tx.SumStitchedForLot(ctx, lot.ID)
		if err != nil {
			return err
		}
		if events == 0 {
			rejection = "missing_stitching"
			return shared.NotFoundf("no stitching recorded for lot %s of order %s", ln, order.Code)
		}
		if washed != stitched {
			rejection = "quantity_mismatch"
			return shared.Validationf("wash details total %d but %d pieces were stitched for lot %s", washed, stitched, lot.LotNumber)
		}

		now := s.now()
		ev = WashingEvent{
			LotID:         lot.ID,
			LotNumber:     lot.LotNumber,
			InvoiceNumber: lot.InvoiceNumber,
			OrderID:       order.ID,
			VendorID:      req.VendorID,
			Quantity:      washed,
			QuantityShort: req.QuantityShort,
			Rate:          req.Rate,
			Date:          req.Date,
			WashDetails:   trimDetails(req.WashDetails),
			Description:   strings.TrimSpace(req.Description),
			CreatedAt:     now,
		}
		if err := tx.InsertWashing(ctx, &ev); err != nil {
			return err
		}
		if advanced, err = advance(ctx, tx, &order, orders.StageWashing, now); err != nil {
			return err
		}
		_, err = tx.Ledger().Accrue(ctx, ledger.Accrual{
			VendorID:   req.VendorID,
			VendorType: ledger.VendorWashing,
			OrderID:    order.ID,
			LotNumber:  lot.LotNumber,
			Quantity:   washed,
			Rate:       req.Rate,
			At:         now,
		})
		return err
	})
	if err != nil {
		s.observeRejection(stageWashing, rejection)
		return WashingEvent{}, err
	}

	s.afterCommit(ctx, stageWashing, ev.Quantity)
	s.recordAudit(ctx, "WASHING_CREATE", "washing", ev.ID, map[string]any{
		"orderId": ev.OrderID, "lotNumber": ev.LotNumber, "quantity": ev.Quantity, "rate": ev.Rate.String(), "stageAdvanced": advanced,
	})
	return ev, nil
}

// RecordFinishing records a finishing hand-off against the lot identified by
// (invoiceNumber, orderId). Supplying finishOutDate also completes the order.
func (s *Service) RecordFinishing(ctx context.Context, req FinishingRequest) (FinishingEvent, error) {
	if req.OrderID <= 0 {
		return FinishingEvent{}, shared.Validationf("orderId is required")
	}
	invoice, err := req.InvoiceNumber.Int()
	if err != nil {
		return FinishingEvent{}, err
	}
	if err := checkAmounts(req.VendorID, req.Quantity, req.QuantityShort, req.Rate.IsNegative()); err != nil {
		return FinishingEvent{}, err
	}

	release, err := s.lockOrder(ctx, req.OrderID)
	if err != nil {
		return FinishingEvent{}, err
	}
	defer release()

	var (
		ev        FinishingEvent
		advanced  bool
		rejection string
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		advanced, rejection = false, ""
		order, err := tx.Orders().GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		lot, found, err := tx.FindLotByInvoice(ctx, invoice, order.ID)
		if err != nil {
			return err
		}
		if !found {
			rejection = "missing_lot"
			return shared.NotFoundf("no lot for invoice %d of order %s", invoice, order.Code)
		}

		now := s.now()
		ev = FinishingEvent{
			LotID:         lot.ID,
			LotNumber:     lot.LotNumber,
			InvoiceNumber: invoice,
			OrderID:       order.ID,
			VendorID:      req.VendorID,
			Quantity:      req.Quantity,
			QuantityShort: req.QuantityShort,
			Rate:          req.Rate,
			Date:          req.Date,
			FinishOutDate: req.FinishOutDate,
			Description:   strings.TrimSpace(req.Description),
			CreatedAt:     now,
		}
		if err := tx.InsertFinishing(ctx, &ev); err != nil {
			return err
		}
		if advanced, err = advance(ctx, tx, &order, orders.StageFinishing, now); err != nil {
			return err
		}
		if ev.FinishOutDate != nil {
			completed, err := advance(ctx, tx, &order, orders.StageComplete, now)
			if err != nil {
				return err
			}
			advanced = advanced || completed
		}
		_, err = tx.Ledger().Accrue(ctx, ledger.Accrual{
			VendorID:   req.VendorID,
			VendorType: ledger.VendorFinishing,
			OrderID:    order.ID,
			LotNumber:  lot.LotNumber,
			Quantity:   req.Quantity,
			Rate:       req.Rate,
			At:         now,
		})
		return err
	})
	if err != nil {
		s.observeRejection(stageFinishing, rejection)
		return FinishingEvent{}, err
	}

	s.afterCommit(ctx, stageFinishing, ev.Quantity)
	s.recordAudit(ctx, "FINISHING_CREATE", "finishing", ev.ID, map[string]any{
		"orderId": ev.OrderID, "lotNumber": ev.LotNumber, "quantity": ev.Quantity, "rate": ev.Rate.String(), "stageAdvanced": advanced,
	})
	return ev, nil
}

// SetStitchOutDate records when the lot left the stitching vendor.
func (s *Service) SetStitchOutDate(ctx context.Context, id int64, at time.Time) (StitchingEvent, error) {
	if at.IsZero() {
		return StitchingEvent{}, shared.Validationf("stitchOutDate is required")
	}
	var ev StitchingEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ev, err = tx.SetStitchOutDate(ctx, id, at)
		return err
	})
	if err != nil {
		return StitchingEvent{}, err
	}
	s.recordAudit(ctx, "STITCH_OUT_SET", "stitching", id, map[string]any{"stitchOutDate": at})
	return ev, nil
}

// SetWashOutDate records when the lot left the washing vendor.
func (s *Service) SetWashOutDate(ctx context.Context, id int64, at time.Time) (WashingEvent, error) {
	if at.IsZero() {
		return WashingEvent{}, shared.Validationf("washOutDate is required")
	}
	var ev WashingEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ev, err = tx.SetWashOutDate(ctx, id, at)
		return err
	})
	if err != nil {
		return WashingEvent{}, err
	}
	s.recordAudit(ctx, "WASH_OUT_SET", "washing", id, map[string]any{"washOutDate": at})
	return ev, nil
}

// SetFinishOutDate records when the lot left finishing and completes the order.
func (s *Service) SetFinishOutDate(ctx context.Context, id int64, at time.Time) (FinishingEvent, error) {
	if at.IsZero() {
		return FinishingEvent{}, shared.Validationf("finishOutDate is required")
	}
	var (
		ev       FinishingEvent
		advanced bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ev, err = tx.SetFinishOutDate(ctx, id, at)
		if err != nil {
			return err
		}
		order, err := tx.Orders().GetForUpdate(ctx, ev.OrderID)
		if err != nil {
			return err
		}
		advanced, err = advance(ctx, tx, &order, orders.StageComplete, s.now())
		return err
	})
	if err != nil {
		return FinishingEvent{}, err
	}
	s.recordAudit(ctx, "FINISH_OUT_SET", "finishing", id, map[string]any{"finishOutDate": at, "stageAdvanced": advanced})
	return ev, nil
}

// GetStitching returns one stitching event.
func (s *Service) GetStitching(ctx context.Context, id int64) (StitchingEvent, error) {
	return s.repo.GetStitching(ctx, id)
}

// ListStitching lists stitching events.
func (s *Service) ListStitching(ctx context.Context, filter EventFilter) ([]StitchingEvent, error) {
	filter, err := filter.normalize()
	if err != nil {
		return nil, err
	}
	return s.repo.ListStitching(ctx, filter)
}

// GetWashing returns one washing event.
func (s *Service) GetWashing(ctx context.Context, id int64) (WashingEvent, error) {
	return s.repo.GetWashing(ctx, id)
}

// ListWashing lists washing events.
func (s *Service) ListWashing(ctx context.Context, filter EventFilter) ([]WashingEvent, error) {
	filter, err := filter.normalize()
	if err != nil {
		return nil, err
	}
	return s.repo.ListWashing(ctx, filter)
}

// GetFinishing returns one finishing event.
func (s *Service) GetFinishing(ctx context.Context, id int64) (FinishingEvent, error) {
	return s.repo.GetFinishing(ctx, id)
}

// ListFinishing lists finishing events.
func (s *Service) ListFinishing(ctx context.Context, filter EventFilter) ([]FinishingEvent, error) {
	filter, err := filter.normalize()
	if err != nil {
		return nil, err
	}
	return s.repo.ListFinishing(ctx, filter)
}

func (s *Service) lockOrder(ctx context.Context, orderID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, shared.OrderLockKey(orderID))
	if errors.Is(err, cache.ErrLockBusy) {
		return nil, shared.Validationf("order %d is being updated by another request, retry shortly", orderID)
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}

// observeRejection counts a business-rule rejection once, after the transaction gave up.
func (s *Service) observeRejection(stage, reason string) {
	if reason != "" {
		s.metrics.ObserveRejection(stage, reason)
	}
}

func (s *Service) afterCommit(ctx context.Context, stage string, pieces int64) {
	s.metrics.ObserveProductionEvent(stage, pieces)
	if s.balances != nil {
		s.balances.InvalidateCache(ctx)
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entityType string, entityID int64, details map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:    shared.ActorID(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   strconv.FormatInt(entityID, 10),
		Details:    details,
		At:         s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// advance moves the order forward and persists the history entry when it changed.
func advance(ctx context.Context, tx TxRepository, order *orders.Order, target orders.Stage, at time.Time) (bool, error) {
	if !orders.AdvanceIfLower(order, target, at) {
		return false, nil
	}
	if err := tx.Orders().AppendStage(ctx, order.ID, order.StageHistory[len(order.StageHistory)-1]); err != nil {
		return false, err
	}
	return true, nil
}

func parseLotKey(rawLot string, rawInvoice InvoiceNumber, orderID int64) (lotno.Number, int64, error) {
	if strings.TrimSpace(rawLot) == "" {
		return lotno.Number{}, 0, shared.Validationf("lotNumber is required")
	}
	if orderID <= 0 {
		return lotno.Number{}, 0, shared.Validationf("orderId is required")
	}
	invoice, err := rawInvoice.Int()
	if err != nil {
		return lotno.Number{}, 0, err
	}
	ln, err := lotno.Parse(rawLot)
	if err != nil {
		return lotno.Number{}, 0, err
	}
	return ln, invoice, nil
}

func overAllocation(order orders.Order, stitched, quantity int64) error {
	if quantity > math.MaxInt64-stitched {
		return shared.Validationf("stitching %d more pieces would bring order %s above its total quantity of %d",
			quantity, order.Code, order.TotalQuantity)
	}
	return shared.Validationf("stitching %d more pieces would bring order %s to %d, above its total quantity of %d",
		quantity, order.Code, stitched+quantity, order.TotalQuantity)
}

func checkAmounts(vendorID, quantity, quantityShort int64, negativeRate bool) error {
	switch {
	case vendorID <= 0:
		return shared.Validationf("vendorId is required")
	case quantity <= 0:
		return shared.Validationf("quantity must be greater than zero")
	case quantityShort < 0:
		return shared.Validationf("quantityShort must not be negative")
	case negativeRate:
		return shared.Validationf("rate must not be negative")
	}
	return nil
}

func trimDetails(details []WashDetail) []WashDetail {
	out := make([]WashDetail, len(details))
	for i, d := range details {
		out[i] = WashDetail{Color: strings.TrimSpace(d.Color), CreationType: strings.TrimSpace(d.CreationType), Quantity: d.Quantity}
	}
	return out
}
