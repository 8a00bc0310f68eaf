package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/garmentflow/garmentflow/internal/platform/db"
	"github.com/garmentflow/garmentflow/internal/shared"
)

const vendorColumns = `id, kind, name, phone, address, is_active, created_at, updated_at`

// PGDirectory stores one vendor kind in the vendors table.
type PGDirectory struct {
	db   db.DBTX
	kind VendorKind
}

// NewPGDirectory constructs the directory for kind.
func NewPGDirectory(conn db.DBTX, kind VendorKind) *PGDirectory {
	return &PGDirectory{db: conn, kind: kind}
}

// Create inserts a vendor. Names are unique per kind.
func (d *PGDirectory) Create(ctx context.Context, v Vendor) (Vendor, error) {
	now := time.Now().UTC()
	row := d.db.QueryRow(ctx, `INSERT INTO vendors (kind, name, phone, address, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, TRUE, $5, $5)
RETURNING `+vendorColumns, d.kind, strings.TrimSpace(v.Name), strings.TrimSpace(v.Phone), strings.TrimSpace(v.Address), now)
	out, err := scanVendor(row)
	if _, dup := db.UniqueViolation(err); dup {
		return Vendor{}, shared.DuplicateKey("name", v.Name)
	}
	if err != nil {
		return Vendor{}, fmt.Errorf("insert %s vendor: %w", d.kind, err)
	}
	return out, nil
}

// List returns the vendors of this kind ordered by name.
func (d *PGDirectory) List(ctx context.Context, active *bool) ([]Vendor, error) {
	query := `SELECT ` + vendorColumns + ` FROM vendors WHERE kind = $1`
	args := []any{d.kind}
	if active != nil {
		query += ` AND is_active = $2`
		args = append(args, *active)
	}
	query += ` ORDER BY name`

	rows, err := d.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s vendors: %w", d.kind, err)
	}
	defer rows.Close()

	var out []Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ToggleActive flips is_active and returns the updated vendor.
func (d *PGDirectory) ToggleActive(ctx context.Context, id int64) (Vendor, error) {
	row := d.db.QueryRow(ctx, `UPDATE vendors SET is_active = NOT is_active, updated_at = $3
WHERE id = $1 AND kind = $2
RETURNING `+vendorColumns, id, d.kind, time.Now().UTC())
	v, err := scanVendor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vendor{}, shared.NotFoundf("%s vendor %d not found", d.kind, id)
	}
	if err != nil {
		return Vendor{}, fmt.Errorf("toggle %s vendor: %w", d.kind, err)
	}
	return v, nil
}

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	err := row.Scan(&v.ID, &v.Kind, &v.Name, &v.Phone, &v.Address, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}
