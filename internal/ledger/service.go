package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garmentflow/garmentflow/internal/lotno"
	"github.com/garmentflow/garmentflow/internal/observability"
	"github.com/garmentflow/garmentflow/internal/platform/cache"
	"github.com/garmentflow/garmentflow/internal/shared"
)

const idempotencyModule = "ledger.pay"

// IdempotencyGuard rejects replays of a client-supplied key.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service exposes ledger reads and vendor payments.
type Service struct {
	repo        Repository
	cache       *cache.Versioned
	idempotency IdempotencyGuard
	audit       shared.AuditSink
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises the service.
type Option func(*Service)

// WithCache serves reads through a versioned cache.
func WithCache(c *cache.Versioned) Option {
	return func(s *Service) { s.cache = c }
}

// WithIdempotency enables Idempotency-Key handling on payments.
func WithIdempotency(g IdempotencyGuard) Option {
	return func(s *Service) { s.idempotency = g }
}

// WithAudit sets the audit sink.
func WithAudit(sink shared.AuditSink) Option {
	return func(s *Service) { s.audit = sink }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the ledger service.
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

// RecordPayment debits every balance row matching the request. Overpayment is accepted
// and leaves a negative remaining balance. A non-empty idempotencyKey makes a retried
// request fail instead of paying twice.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest, idempotencyKey string) (PaymentResult, error) {
	req.LotNumber = strings.TrimSpace(req.LotNumber)
	if err := req.Validate(); err != nil {
		return PaymentResult{}, err
	}
	lot, err := lotno.Canonical(req.LotNumber)
	if err != nil {
		return PaymentResult{}, err
	}
	req.LotNumber = lot
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			return PaymentResult{}, err
		}
	}

	var result PaymentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		now := s.now()
		rows, err := tx.ApplyPayment(ctx, req, now)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return shared.NotFoundf("no %s balance for vendor %d on lot %s", req.VendorType, req.VendorID, req.LotNumber)
		}
		payment := Payment{
			Reference:   uuid.New(),
			VendorID:    req.VendorID,
			VendorType:  req.VendorType,
			LotNumber:   req.LotNumber,
			OrderID:     req.OrderID,
			Amount:      req.Amount,
			RowsMatched: len(rows),
			ActorID:     shared.ActorID(ctx),
			PaidAt:      now,
		}
		if err := tx.InsertPayment(ctx, &payment); err != nil {
			return err
		}
		result = PaymentResult{Payment: payment, Balances: rows}
		return nil
	})
	if err != nil {
		if idempotencyKey != "" && s.idempotency != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), idempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key failed", slog.String("key", idempotencyKey), slog.Any("error", delErr))
			}
		}
		return PaymentResult{}, err
	}

	if len(result.Balances) > 1 {
		s.logger.Warn("payment applied to several balance rows",
			slog.Int64("vendor_id", req.VendorID),
			slog.String("vendor_type", string(req.VendorType)),
			slog.String("lot_number", req.LotNumber),
			slog.Int("rows", len(result.Balances)))
	}
	s.InvalidateCache(ctx)
	amount, _ := req.Amount.Float64()
	s.metrics.ObservePayment(string(req.VendorType), amount)
	s.recordAudit(ctx, result.Payment)
	return result, nil
}

// List returns balance rows matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Balance, error) {
	if filter.VendorType != "" && !filter.VendorType.Valid() {
		return nil, shared.Validationf("unknown vendor type %q", filter.VendorType)
	}
	if filter.LotNumber != "" {
		lot, err := lotno.Canonical(filter.LotNumber)
		if err != nil {
			return nil, err
		}
		filter.LotNumber = lot
	}
	var out []Balance
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		rows, err := s.repo.List(ctx, filter)
		if rows == nil {
			rows = []Balance{}
		}
		return rows, err
	}, "list", filter.CacheKey())
	return out, err
}

// Summary aggregates outstanding balances per vendor.
func (s *Service) Summary(ctx context.Context) ([]VendorSummary, error) {
	var out []VendorSummary
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		rows, err := s.repo.Summary(ctx)
		if rows == nil {
			rows = []VendorSummary{}
		}
		return rows, err
	}, "summary")
	return out, err
}

// Payments returns the payment history of one vendor.
func (s *Service) Payments(ctx context.Context, vendorID int64, vendorType VendorType) ([]Payment, error) {
	if vendorID <= 0 {
		return nil, shared.Validationf("vendorId is required")
	}
	if !vendorType.Valid() {
		return nil, shared.Validationf("unknown vendor type %q", vendorType)
	}
	return s.repo.Payments(ctx, vendorID, vendorType)
}

// InvalidateCache drops every cached balance read. Writers call it after commit.
func (s *Service) InvalidateCache(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("balance cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) cached(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err == nil {
		err = s.cache.FetchJSON(ctx, key, dest, loader)
		if !errors.Is(err, cache.ErrUnavailable) {
			return err
		}
	}
	s.logger.Warn("balance cache unavailable", slog.Any("error", err))
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	return assign(value, dest)
}

func assign(value any, dest any) error {
	switch d := dest.(type) {
	case *[]Balance:
		*d = value.([]Balance)
	case *[]VendorSummary:
		*d = value.([]VendorSummary)
	default:
		return fmt.Errorf("ledger: unsupported cache destination %T", dest)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, p Payment) {
	if s.audit == nil {
		return
	}
	details := map[string]any{
		"reference":   p.Reference.String(),
		"vendorId":    p.VendorID,
		"vendorType":  string(p.VendorType),
		"lotNumber":   p.LotNumber,
		"amount":      p.Amount.String(),
		"rowsMatched": p.RowsMatched,
	}
	if p.OrderID != nil {
		details["orderId"] = *p.OrderID
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:    p.ActorID,
		Action:     "VENDOR_PAYMENT",
		EntityType: "vendor_balance",
		EntityID:   strconv.FormatInt(p.VendorID, 10) + ":" + string(p.VendorType) + ":" + p.LotNumber,
		Details:    details,
		At:         p.PaidAt,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", "VENDOR_PAYMENT"), slog.Any("error", err))
	}
}
