package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garmentflow/garmentflow/internal/platform/db"
	"github.com/garmentflow/garmentflow/internal/shared"
)

const balanceColumns = `id, vendor_id, vendor_type, order_id, lot_number, total_amount, payments_made, remaining_balance, last_updated`

// Repository describes persistence operations used by Service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	List(ctx context.Context, filter ListFilter) ([]Balance, error)
	Summary(ctx context.Context) ([]VendorSummary, error)
	Payments(ctx context.Context, vendorID int64, vendorType VendorType) ([]Payment, error)
}

// TxStore holds the writes that must share a transaction with their caller.
type TxStore interface {
	Accrue(ctx context.Context, a Accrual) (Balance, error)
	ApplyPayment(ctx context.Context, req PaymentRequest, at time.Time) ([]Balance, error)
	InsertPayment(ctx context.Context, p *Payment) error
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewStore(tx))
	})
}

// List returns balance rows matching the filter.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Balance, error) {
	return NewStore(r.pool).List(ctx, filter)
}

// Summary aggregates balances per vendor and type.
func (r *PGRepository) Summary(ctx context.Context) ([]VendorSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT vendor_id, vendor_type, COUNT(*), SUM(total_amount), SUM(payments_made), SUM(remaining_balance)
		FROM vendor_balances
		GROUP BY vendor_id, vendor_type
		ORDER BY SUM(remaining_balance) DESC, vendor_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: summary: %w", err)
	}
	defer rows.Close()
	var out []VendorSummary
	for rows.Next() {
		var s VendorSummary
		if err := rows.Scan(&s.VendorID, &s.VendorType, &s.Lots, &s.TotalAmount, &s.PaymentsMade, &s.RemainingBalance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Payments returns the payment history for one vendor, newest first.
func (r *PGRepository) Payments(ctx context.Context, vendorID int64, vendorType VendorType) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, reference, vendor_id, vendor_type, lot_number, order_id, amount, rows_matched, actor_id, paid_at
		FROM vendor_payments
		WHERE vendor_id = $1 AND vendor_type = $2
		ORDER BY paid_at DESC, id DESC`, vendorID, string(vendorType))
	if err != nil {
		return nil, fmt.Errorf("ledger: payments: %w", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Reference, &p.VendorID, &p.VendorType, &p.LotNumber, &p.OrderID, &p.Amount, &p.RowsMatched, &p.ActorID, &p.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Store implements TxStore over a pool or a caller's transaction.
type Store struct {
	db db.DBTX
}

// NewStore binds a Store to conn.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// Accrue adds quantity × rate to the balance row, creating it on first use. The increment
// happens in a single statement so concurrent accruals on one key never lose an update.
func (s *Store) Accrue(ctx context.Context, a Accrual) (Balance, error) {
	if err := a.Validate(); err != nil {
		return Balance{}, err
	}
	at := a.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	amount := a.Amount()
	row := s.db.QueryRow(ctx, `
		INSERT INTO vendor_balances (vendor_id, vendor_type, order_id, lot_number, total_amount, payments_made, remaining_balance, last_updated)
		VALUES ($1, $2, $3, $4, $5, 0, $5, $6)
		ON CONFLICT (vendor_id, vendor_type, order_id, lot_number) DO UPDATE
		SET total_amount = vendor_balances.total_amount + EXCLUDED.total_amount,
			remaining_balance = vendor_balances.remaining_balance + EXCLUDED.total_amount,
			last_updated = EXCLUDED.last_updated
		RETURNING `+balanceColumns,
		a.VendorID, string(a.VendorType), a.OrderID, a.LotNumber, amount, at,
	)
	b, err := scanBalance(row)
	if err != nil {
		return Balance{}, fmt.Errorf("ledger: accrue: %w", err)
	}
	return b, nil
}

// ApplyPayment debits every row matching (vendor, type, lot), narrowed to one order when
// the request names it. It returns the updated rows.
func (s *Store) ApplyPayment(ctx context.Context, req PaymentRequest, at time.Time) ([]Balance, error) {
	args := []any{req.Amount, at, req.VendorID, string(req.VendorType), req.LotNumber}
	query := `
		UPDATE vendor_balances
		SET payments_made = payments_made + $1,
			remaining_balance = remaining_balance - $1,
			last_updated = $2
		WHERE vendor_id = $3 AND vendor_type = $4 AND lot_number = $5`
	if req.OrderID != nil {
		args = append(args, *req.OrderID)
		query += ` AND order_id = $6`
	}
	query += ` RETURNING ` + balanceColumns
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: apply payment: %w", err)
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: apply payment: %w", err)
	}
	return out, nil
}

// InsertPayment appends the payment history entry.
func (s *Store) InsertPayment(ctx context.Context, p *Payment) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO vendor_payments (reference, vendor_id, vendor_type, lot_number, order_id, amount, rows_matched, actor_id, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		p.Reference, p.VendorID, string(p.VendorType), p.LotNumber, p.OrderID, p.Amount, p.RowsMatched, p.ActorID, p.PaidAt,
	).Scan(&p.ID)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return shared.DuplicateKey("reference", p.Reference)
		}
		return fmt.Errorf("ledger: insert payment: %w", err)
	}
	return nil
}

// List returns balance rows matching the filter, ordered by order then lot.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Balance, error) {
	var (
		where []string
		args  []any
	)
	if filter.VendorType != "" {
		args = append(args, string(filter.VendorType))
		where = append(where, fmt.Sprintf("vendor_type = $%d", len(args)))
	}
	if filter.VendorID != nil {
		args = append(args, *filter.VendorID)
		where = append(where, fmt.Sprintf("vendor_id = $%d", len(args)))
	}
	if filter.OrderID != nil {
		args = append(args, *filter.OrderID)
		where = append(where, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if filter.LotNumber != "" {
		args = append(args, filter.LotNumber)
		where = append(where, fmt.Sprintf("lot_number = $%d", len(args)))
	}
	query := "SELECT " + balanceColumns + " FROM vendor_balances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY order_id, lot_number, vendor_type, vendor_id"
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Inconsistent returns rows whose remaining balance drifted from total - payments.
func (s *Store) Inconsistent(ctx context.Context) ([]Balance, error) {
	rows, err := s.db.Query(ctx, "SELECT "+balanceColumns+" FROM vendor_balances WHERE remaining_balance <> total_amount - payments_made ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("ledger: inconsistent rows: %w", err)
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBalance(row pgx.Row) (Balance, error) {
	var (
		b  Balance
		vt string
	)
	if err := row.Scan(&b.ID, &b.VendorID, &vt, &b.OrderID, &b.LotNumber, &b.TotalAmount, &b.PaymentsMade, &b.RemainingBalance, &b.LastUpdated); err != nil {
		return Balance{}, err
	}
	b.VendorType = VendorType(vt)
	return b, nil
}
