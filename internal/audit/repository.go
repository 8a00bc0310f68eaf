package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/garmentflow/garmentflow/internal/platform/db"
)

const timelineQuery = `SELECT id, occurred_at, actor_id, action, entity_type, entity_id, details
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity_type = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id DESC`

// PGRepository reads audit_logs.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs the audit repository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

// TimelineWindow returns one page of entries.
func (r *PGRepository) TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	rows, err := r.db.Query(ctx, timelineQuery+` OFFSET $7 LIMIT $8`,
		arg.FromAt, arg.ToAt, arg.ActorID, arg.EntityType, arg.EntityID, arg.Action, arg.OffsetRows, arg.LimitRows)
	if err != nil {
		return nil, fmt.Errorf("audit timeline: %w", err)
	}
	return collect(rows)
}

// TimelineAll returns every matching entry.
func (r *PGRepository) TimelineAll(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	rows, err := r.db.Query(ctx, timelineQuery,
		arg.FromAt, arg.ToAt, arg.ActorID, arg.EntityType, arg.EntityID, arg.Action)
	if err != nil {
		return nil, fmt.Errorf("audit timeline export: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]TimelineRow, error) {
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var (
			row     TimelineRow
			details []byte
		)
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.EntityType, &row.EntityID, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &row.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %d: %w", row.ID, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
