package production

import (
	"context"
	"time"

	"github.com/garmentflow/garmentflow/internal/ledger"
	"github.com/garmentflow/garmentflow/internal/orders"
)

// Repository describes persistence operations used by Service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLot(ctx context.Context, id int64) (Lot, error)
	ListLots(ctx context.Context, orderID *int64) ([]Lot, error)
	LotNumbers(ctx context.Context, orderID *int64) ([]string, error)
	GetStitching(ctx context.Context, id int64) (StitchingEvent, error)
	ListStitching(ctx context.Context, filter EventFilter) ([]StitchingEvent, error)
	GetWashing(ctx context.Context, id int64) (WashingEvent, error)
	ListWashing(ctx context.Context, filter EventFilter) ([]WashingEvent, error)
	GetFinishing(ctx context.Context, id int64) (FinishingEvent, error)
	ListFinishing(ctx context.Context, filter EventFilter) ([]FinishingEvent, error)
}

// TxRepository is the transactional view a recorder works against. Orders and Ledger
// share the same transaction.
type TxRepository interface {
	Orders() orders.TxStore
	Ledger() ledger.TxStore

	FindLotByInvoice(ctx context.Context, invoiceNumber, orderID int64) (Lot, bool, error)
	FindLotByNumber(ctx context.Context, lotNumber string, orderID int64) (Lot, bool, error)
	InsertLot(ctx context.Context, lot *Lot) error

	SumStitchedForOrder(ctx context.Context, orderID int64) (int64, error)
	SumStitchedForLot(ctx context.Context, lotID int64) (count int, total int64, err error)

	InsertStitching(ctx context.Context, ev *StitchingEvent) error
	InsertWashing(ctx context.Context, ev *WashingEvent) error
	InsertFinishing(ctx context.Context, ev *FinishingEvent) error

	SetStitchOutDate(ctx context.Context, id int64, at time.Time) (StitchingEvent, error)
	SetWashOutDate(ctx context.Context, id int64, at time.Time) (WashingEvent, error)
	SetFinishOutDate(ctx context.Context, id int64, at time.Time) (FinishingEvent, error)
}

// Locker serialises recorders working on the same order across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// BalanceCache is invalidated after every committed accrual.
type BalanceCache interface {
	InvalidateCache(ctx context.Context)
}
