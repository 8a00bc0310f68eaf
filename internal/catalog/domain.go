// Package catalog keeps the per-stage vendor directories that clients pick vendors from.
// Recorders take vendor IDs as given and do not look them up here.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/garmentflow/garmentflow/internal/ledger"
	"github.com/garmentflow/garmentflow/internal/shared"
)

// VendorKind is the closed set of vendor directories.
type VendorKind string

const (
	KindFabric    VendorKind = "fabric"
	KindStitching VendorKind = "stitching"
	KindWashing   VendorKind = "washing"
	KindFinishing VendorKind = "finishing"
)

// Kinds lists every vendor kind in display order.
var Kinds = []VendorKind{KindFabric, KindStitching, KindWashing, KindFinishing}

// ParseVendorKind validates the path segment of /vendors/{kind}.
func ParseVendorKind(raw string) (VendorKind, error) {
	k := VendorKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", shared.Validationf("unknown vendor kind %q", raw)
}

// LedgerType maps production vendors onto their balance ledger type. Fabric suppliers
// are not paid through the ledger.
func (k VendorKind) LedgerType() (ledger.VendorType, bool) {
	switch k {
	case KindStitching:
		return ledger.VendorStitching, true
	case KindWashing:
		return ledger.VendorWashing, true
	case KindFinishing:
		return ledger.VendorFinishing, true
	}
	return "", false
}

// Vendor is one directory entry.
type Vendor struct {
	ID        int64      `json:"id"`
	Kind      VendorKind `json:"kind"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Address   string     `json:"address"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CreateVendorRequest is the body of POST /vendors/{kind}.
type CreateVendorRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Phone   string `json:"phone" validate:"max=40"`
	Address string `json:"address" validate:"max=500"`
}

// Directory is the capability every vendor kind provides.
type Directory interface {
	Create(ctx context.Context, v Vendor) (Vendor, error)
	List(ctx context.Context, active *bool) ([]Vendor, error)
	ToggleActive(ctx context.Context, id int64) (Vendor, error)
}
