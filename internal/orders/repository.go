package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garmentflow/garmentflow/internal/platform/db"
	"github.com/garmentflow/garmentflow/internal/shared"
)

const orderColumns = `id, code, order_date, client_id, fabric, fit_style_id, waist_size, total_quantity,
	thread_colors, description, attachments, stage, stage_history, stitched_quantity, created_at, updated_at`

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

// Get returns a single order.
func (r *PGRepository) Get(ctx context.Context, id int64) (Order, error) {
	return NewStore(r.pool).get(ctx, id, false)
}

// List returns orders matching filter and the total count.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.Stage != nil {
		args = append(args, int(*filter.Stage))
		where = append(where, fmt.Sprintf("stage = $%d", len(args)))
	}
	if filter.ClientID != nil {
		args = append(args, *filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(code ILIKE $%d OR fabric ILIKE $%d)", len(args), len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("orders: count: %w", err)
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	query := fmt.Sprintf("SELECT %s FROM orders%s ORDER BY id DESC LIMIT $%d OFFSET $%d", orderColumns, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("orders: list: %w", err)
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// Store implements TxStore on top of any DBTX, so it can join a caller's transaction.
type Store struct {
	db db.DBTX
}

// NewStore binds a Store to a pool or transaction.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// Insert creates the order, generating a code from order_code_seq when none is given.
func (s *Store) Insert(ctx context.Context, o *Order) error {
	colors, err := json.Marshal(o.ThreadColors)
	if err != nil {
		return err
	}
	attachments, err := json.Marshal(o.Attachments)
	if err != nil {
		return err
	}
	history, err := json.Marshal(o.StageHistory)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO orders (
			code, order_date, client_id, fabric, fit_style_id, waist_size, total_quantity,
			thread_colors, description, attachments, stage, stage_history, stitched_quantity,
			created_at, updated_at
		) VALUES (
			COALESCE(NULLIF($1, ''), 'ORD-' || to_char($2::timestamptz, 'YYYYMMDD') || '-' || lpad(nextval('order_code_seq')::text, 4, '0')),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $13
		)
		RETURNING id, code`,
		o.Code, o.Date, o.ClientID, o.Fabric, o.FitStyleID, o.WaistSize, o.TotalQuantity,
		colors, o.Description, attachments, int(o.Stage), history, o.CreatedAt,
	).Scan(&o.ID, &o.Code)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return shared.DuplicateKey("code", o.Code)
		}
		return fmt.Errorf("orders: insert: %w", err)
	}
	return nil
}

// GetForUpdate loads the order and locks its row until the transaction ends.
func (s *Store) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	return s.get(ctx, id, true)
}

func (s *Store) get(ctx context.Context, id int64, lock bool) (Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	o, err := scanOrder(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.NotFoundf("order %d not found", id)
		}
		return Order{}, err
	}
	return o, nil
}

// UpdateDetails writes the editable fields.
func (s *Store) UpdateDetails(ctx context.Context, o Order) error {
	colors, err := json.Marshal(o.ThreadColors)
	if err != nil {
		return err
	}
	attachments, err := json.Marshal(o.Attachments)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET order_date = $2, client_id = $3, fabric = $4, fit_style_id = $5, waist_size = $6,
			total_quantity = $7, thread_colors = $8, description = $9, attachments = $10, updated_at = $11
		WHERE id = $1`,
		o.ID, o.Date, o.ClientID, o.Fabric, o.FitStyleID, o.WaistSize,
		o.TotalQuantity, colors, o.Description, attachments, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("orders: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("order %d not found", o.ID)
	}
	return nil
}

// AppendStage sets the stage and appends the change to the embedded history.
func (s *Store) AppendStage(ctx context.Context, id int64, change StageChange) error {
	entry, err := json.Marshal([]StageChange{change})
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET stage = $2, stage_history = stage_history || $3::jsonb, updated_at = $4
		WHERE id = $1`,
		id, int(change.Stage), entry, change.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("orders: append stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("order %d not found", id)
	}
	return nil
}

// AddStitched increments the stitched counter. The table's CHECK constraint rejects a
// total above the ordered quantity even if a caller skipped the service-level check.
func (s *Store) AddStitched(ctx context.Context, id int64, qty int64) error {
	var stitched, total int64
	err := s.db.QueryRow(ctx, `
		UPDATE orders
		SET stitched_quantity = stitched_quantity + $2, updated_at = $3
		WHERE id = $1 AND stitched_quantity + $2 <= total_quantity
		RETURNING stitched_quantity, total_quantity`,
		id, qty, time.Now().UTC(),
	).Scan(&stitched, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.Validationf("stitching %d more pieces would exceed order %d total quantity", qty, id)
	}
	if err != nil {
		return fmt.Errorf("orders: add stitched: %w", err)
	}
	return nil
}

// StitchedDrift lists orders whose stitched counter disagrees with their stitching events.
func (s *Store) StitchedDrift(ctx context.Context) ([]StitchedDrift, error) {
	rows, err := s.db.Query(ctx, `
		SELECT o.id, o.code, o.stitched_quantity, COALESCE(SUM(e.quantity), 0)::bigint
		FROM orders o
		LEFT JOIN stitching_events e ON e.order_id = o.id
		GROUP BY o.id, o.code, o.stitched_quantity
		HAVING o.stitched_quantity <> COALESCE(SUM(e.quantity), 0)
		ORDER BY o.id`)
	if err != nil {
		return nil, fmt.Errorf("orders: stitched drift: %w", err)
	}
	defer rows.Close()
	var out []StitchedDrift
	for rows.Next() {
		var d StitchedDrift
		if err := rows.Scan(&d.OrderID, &d.Code, &d.Counter, &d.Events); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o           Order
		stage       int
		colors      []byte
		attachments []byte
		history     []byte
	)
	err := row.Scan(
		&o.ID, &o.Code, &o.Date, &o.ClientID, &o.Fabric, &o.FitStyleID, &o.WaistSize, &o.TotalQuantity,
		&colors, &o.Description, &attachments, &stage, &history, &o.StitchedQuantity, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.Stage = Stage(stage)
	if err := unmarshalJSON(colors, &o.ThreadColors); err != nil {
		return Order{}, fmt.Errorf("orders: decode thread colors: %w", err)
	}
	if err := unmarshalJSON(attachments, &o.Attachments); err != nil {
		return Order{}, fmt.Errorf("orders: decode attachments: %w", err)
	}
	if err := unmarshalJSON(history, &o.StageHistory); err != nil {
		return Order{}, fmt.Errorf("orders: decode stage history: %w", err)
	}
	return o, nil
}

func unmarshalJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
