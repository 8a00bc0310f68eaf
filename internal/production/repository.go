package production

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garmentflow/garmentflow/internal/ledger"
	"github.com/garmentflow/garmentflow/internal/orders"
	"github.com/garmentflow/garmentflow/internal/platform/db"
	"github.com/garmentflow/garmentflow/internal/shared"
)

const (
	lotColumns       = `id, lot_number, invoice_number, order_id, lot_date, description, created_at`
	stitchingColumns = `id, lot_id, lot_number, invoice_number, order_id, vendor_id, quantity, quantity_short, rate, event_date, stitch_out_date, description, created_at`
	washingColumns   = `id, lot_id, lot_number, invoice_number, order_id, vendor_id, quantity, quantity_short, rate, event_date, wash_out_date, wash_details, description, created_at`
	finishingColumns = `id, lot_id, lot_number, invoice_number, order_id, vendor_id, quantity, quantity_short, rate, event_date, finish_out_date, description, created_at`
)

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, queries: queries{db: pool}}
}

// WithTx runs fn in one repeatable-read transaction shared by the order, ledger and
// production stores.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{
			queries: queries{db: tx},
			orders:  orders.NewStore(tx),
			ledger:  ledger.NewStore(tx),
		})
	})
}

type pgTx struct {
	queries
	orders *orders.Store
	ledger *ledger.Store
}

func (t *pgTx) Orders() orders.TxStore { return t.orders }

func (t *pgTx) Ledger() ledger.TxStore { return t.ledger }

// queries holds the statements usable both inside and outside a transaction.
type queries struct {
	db db.DBTX
}

func (q queries) GetLot(ctx context.Context, id int64) (Lot, error) {
	lot, err := scanLot(q.db.QueryRow(ctx, "SELECT "+lotColumns+" FROM lots WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, shared.NotFoundf("lot %d not found", id)
	}
	return lot, err
}

func (q queries) ListLots(ctx context.Context, orderID *int64) ([]Lot, error) {
	query := "SELECT " + lotColumns + " FROM lots"
	var args []any
	if orderID != nil {
		query += " WHERE order_id = $1"
		args = append(args, *orderID)
	}
	rows, err := q.db.Query(ctx, query+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("production: list lots: %w", err)
	}
	defer rows.Close()
	var out []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lot)
	}
	return out, rows.Err()
}

func (q queries) LotNumbers(ctx context.Context, orderID *int64) ([]string, error) {
	query := "SELECT lot_number FROM lots"
	var args []any
	if orderID != nil {
		query += " WHERE order_id = $1"
		args = append(args, *orderID)
	}
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("production: lot numbers: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q queries) FindLotByInvoice(ctx context.Context, invoiceNumber, orderID int64) (Lot, bool, error) {
	return findLot(q.db.QueryRow(ctx, "SELECT "+lotColumns+" FROM lots WHERE invoice_number = $1 AND order_id = $2", invoiceNumber, orderID))
}

func (q queries) FindLotByNumber(ctx context.Context, lotNumber string, orderID int64) (Lot, bool, error) {
	return findLot(q.db.QueryRow(ctx, "SELECT "+lotColumns+" FROM lots WHERE lot_number = $1 AND order_id = $2", lotNumber, orderID))
}

func (q queries) InsertLot(ctx context.Context, lot *Lot) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO lots (lot_number, invoice_number, order_id, lot_date, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		lot.LotNumber, lot.InvoiceNumber, lot.OrderID, lot.Date, lot.Description, lot.CreatedAt,
	).Scan(&lot.ID)
	if err != nil {
		if constraint, dup := db.UniqueViolation(err); dup {
			if strings.Contains(constraint, "invoice") {
				return shared.DuplicateKey("invoiceNumber", lot.InvoiceNumber)
			}
			return shared.DuplicateKey("lotNumber", lot.LotNumber)
		}
		return fmt.Errorf("production: insert lot: %w", err)
	}
	return nil
}

func (q queries) SumStitchedForOrder(ctx context.Context, orderID int64) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, "SELECT COALESCE(SUM(quantity), 0) FROM stitching_events WHERE order_id = $1", orderID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("production: sum stitched: %w", err)
	}
	return total, nil
}

func (q queries) SumStitchedForLot(ctx context.Context, lotID int64) (int, int64, error) {
	var (
		count int
		total int64
	)
	err := q.db.QueryRow(ctx, "SELECT COUNT(*), COALESCE(SUM(quantity), 0) FROM stitching_events WHERE lot_id = $1", lotID).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("production: sum stitched for lot: %w", err)
	}
	return count, total, nil
}

func (q queries) InsertStitching(ctx context.Context, ev *StitchingEvent) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO stitching_events (lot_id, lot_number, invoice_number, order_id, vendor_id, quantity, quantity_short, rate, event_date, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		ev.LotID, ev.LotNumber, ev.InvoiceNumber, ev.OrderID, ev.VendorID, ev.Quantity, ev.QuantityShort, ev.Rate, ev.Date, ev.Description, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("production: insert stitching: %w", err)
	}
	return nil
}

func (q queries) InsertWashing(ctx context.Context, ev *WashingEvent) error {
	details, err := json.Marshal(ev.WashDetails)
	if err != nil {
		return err
	}
	err = q.db.QueryRow(ctx, `
		INSERT INTO washing_events (lot_id, lot_number, invoice_number, order_id, vendor_id, quantity, quantity_short, rate, event_date, wash_details, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		ev.LotID, ev.LotNumber, ev.InvoiceNumber, ev.OrderID, ev.VendorID, ev.Quantity, ev.QuantityShort, ev.Rate, ev.Date, details, ev.Description, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("production: insert washing: %w", err)
	}
	return nil
}

func (q queries) InsertFinishing(ctx context.Context, ev *FinishingEvent) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO finishing_events (lot_id, lot_number, invoice_number, order_id, vendor_id, quantity, quantity_short, rate, event_date, finish_out_date, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		ev.LotID, ev.LotNumber, ev.InvoiceNumber, ev.OrderID, ev.VendorID, ev.Quantity, ev.QuantityShort, ev.Rate, ev.Date, ev.FinishOutDate, ev.Description, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("production: insert finishing: %w", err)
	}
	return nil
}

func (q queries) SetStitchOutDate(ctx context.Context, id int64, at time.Time) (StitchingEvent, error) {
	ev, err := scanStitching(q.db.QueryRow(ctx, "UPDATE stitching_events SET stitch_out_date = $2 WHERE id = $1 RETURNING "+stitchingColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return StitchingEvent{}, shared.NotFoundf("stitching record %d not found", id)
	}
	return ev, err
}

func (q queries) SetWashOutDate(ctx context.Context, id int64, at time.Time) (WashingEvent, error) {
	ev, err := scanWashing(q.db.QueryRow(ctx, "UPDATE washing_events SET wash_out_date = $2 WHERE id = $1 RETURNING "+washingColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return WashingEvent{}, shared.NotFoundf("washing record %d not found", id)
	}
	return ev, err
}

func (q queries) SetFinishOutDate(ctx context.Context, id int64, at time.Time) (FinishingEvent, error) {
	ev, err := scanFinishing(q.db.QueryRow(ctx, "UPDATE finishing_events SET finish_out_date = $2 WHERE id = $1 RETURNING "+finishingColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return FinishingEvent{}, shared.NotFoundf("finishing record %d not found", id)
	}
	return ev, err
}

func (q queries) GetStitching(ctx context.Context, id int64) (StitchingEvent, error) {
	ev, err := scanStitching(q.db.QueryRow(ctx, "SELECT "+stitchingColumns+" FROM stitching_events WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return StitchingEvent{}, shared.NotFoundf("stitching record %d not found", id)
	}
	return ev, err
}

func (q queries) ListStitching(ctx context.Context, filter EventFilter) ([]StitchingEvent, error) {
	where, args := filter.clause()
	rows, err := q.db.Query(ctx, "SELECT "+stitchingColumns+" FROM stitching_events"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("production: list stitching: %w", err)
	}
	defer rows.Close()
	var out []StitchingEvent
	for rows.Next() {
		ev, err := scanStitching(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (q queries) GetWashing(ctx context.Context, id int64) (WashingEvent, error) {
	ev, err := scanWashing(q.db.QueryRow(ctx, "SELECT "+washingColumns+" FROM washing_events WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return WashingEvent{}, shared.NotFoundf("washing record %d not found", id)
	}
	return ev, err
}

func (q queries) ListWashing(ctx context.Context, filter EventFilter) ([]WashingEvent, error) {
	where, args := filter.clause()
	rows, err := q.db.Query(ctx, "SELECT "+washingColumns+" FROM washing_events"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("production: list washing: %w", err)
	}
	defer rows.Close()
	var out []WashingEvent
	for rows.Next() {
		ev, err := scanWashing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (q queries) GetFinishing(ctx context.Context, id int64) (FinishingEvent, error) {
	ev, err := scanFinishing(q.db.QueryRow(ctx, "SELECT "+finishingColumns+" FROM finishing_events WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return FinishingEvent{}, shared.NotFoundf("finishing record %d not found", id)
	}
	return ev, err
}

func (q queries) ListFinishing(ctx context.Context, filter EventFilter) ([]FinishingEvent, error) {
	where, args := filter.clause()
	rows, err := q.db.Query(ctx, "SELECT "+finishingColumns+" FROM finishing_events"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("production: list finishing: %w", err)
	}
	defer rows.Close()
	var out []FinishingEvent
	for rows.Next() {
		ev, err := scanFinishing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (f EventFilter) clause() (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.OrderID != nil {
		args = append(args, *f.OrderID)
		where = append(where, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if f.LotNumber != "" {
		args = append(args, f.LotNumber)
		where = append(where, fmt.Sprintf("lot_number = $%d", len(args)))
	}
	if f.VendorID != nil {
		args = append(args, *f.VendorID)
		where = append(where, fmt.Sprintf("vendor_id = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func findLot(row pgx.Row) (Lot, bool, error) {
	lot, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, false, nil
	}
	if err != nil {
		return Lot{}, false, err
	}
	return lot, true, nil
}

func scanLot(row pgx.Row) (Lot, error) {
	var l Lot
	err := row.Scan(&l.ID, &l.LotNumber, &l.InvoiceNumber, &l.OrderID, &l.Date, &l.Description, &l.CreatedAt)
	return l, err
}

func scanStitching(row pgx.Row) (StitchingEvent, error) {
	var ev StitchingEvent
	err := row.Scan(&ev.ID, &ev.LotID, &ev.LotNumber, &ev.InvoiceNumber, &ev.OrderID, &ev.VendorID, &ev.Quantity, &ev.QuantityShort,
		&ev.Rate, &ev.Date, &ev.StitchOutDate, &ev.Description, &ev.CreatedAt)
	return ev, err
}

func scanWashing(row pgx.Row) (WashingEvent, error) {
	var (
		ev      WashingEvent
		details []byte
	)
	err := row.Scan(&ev.ID, &ev.LotID, &ev.LotNumber, &ev.InvoiceNumber, &ev.OrderID, &ev.VendorID, &ev.Quantity, &ev.QuantityShort,
		&ev.Rate, &ev.Date, &ev.WashOutDate, &details, &ev.Description, &ev.CreatedAt)
	if err != nil {
		return WashingEvent{}, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &ev.WashDetails); err != nil {
			return WashingEvent{}, fmt.Errorf("production: decode wash details: %w", err)
		}
	}
	return ev, nil
}

func scanFinishing(row pgx.Row) (FinishingEvent, error) {
	var ev FinishingEvent
	err := row.Scan(&ev.ID, &ev.LotID, &ev.LotNumber, &ev.InvoiceNumber, &ev.OrderID, &ev.VendorID, &ev.Quantity, &ev.QuantityShort,
		&ev.Rate, &ev.Date, &ev.FinishOutDate, &ev.Description, &ev.CreatedAt)
	return ev, err
}
