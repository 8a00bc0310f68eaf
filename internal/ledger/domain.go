// Package ledger keeps running balances owed to production vendors.
//
// Every production event accrues quantity × rate onto the balance row keyed by
// (vendor, vendor type, order, lot). Payments debit the matching rows. A row always
// satisfies RemainingBalance == TotalAmount - PaymentsMade; remaining may go negative
// when a vendor is overpaid.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garmentflow/garmentflow/internal/shared"
)

// VendorType identifies which production stage a balance belongs to.
type VendorType string

const (
	VendorStitching VendorType = "stitching"
	VendorWashing   VendorType = "washing"
	VendorFinishing VendorType = "finishing"
)

// VendorTypes lists every accepted vendor type in pipeline order.
var VendorTypes = []VendorType{VendorStitching, VendorWashing, VendorFinishing}

// Valid reports whether t is a known vendor type.
func (t VendorType) Valid() bool {
	switch t {
	case VendorStitching, VendorWashing, VendorFinishing:
		return true
	}
	return false
}

// ParseVendorType normalises and validates raw.
func ParseVendorType(raw string) (VendorType, error) {
	t := VendorType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", shared.Validationf("vendorType must be one of stitching, washing, finishing; got %q", raw)
	}
	return t, nil
}

// Balance is one ledger row.
type Balance struct {
	ID               int64           `json:"id"`
	VendorID         int64           `json:"vendorId"`
	VendorType       VendorType      `json:"vendorType"`
	OrderID          int64           `json:"orderId"`
	LotNumber        string          `json:"lotNumber"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	PaymentsMade     decimal.Decimal `json:"paymentsMade"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

// Consistent reports whether the row honours remaining == total - payments.
func (b Balance) Consistent() bool {
	return b.RemainingBalance.Equal(b.TotalAmount.Sub(b.PaymentsMade))
}

// Accrual is a debit produced by a production event.
type Accrual struct {
	VendorID   int64
	VendorType VendorType
	OrderID    int64
	LotNumber  string
	Quantity   int64
	Rate       decimal.Decimal
	At         time.Time
}

// Amount returns quantity × rate.
func (a Accrual) Amount() decimal.Decimal {
	return a.Rate.Mul(decimal.NewFromInt(a.Quantity))
}

// Validate checks the accrual key and inputs.
func (a Accrual) Validate() error {
	switch {
	case a.VendorID <= 0:
		return shared.Validationf("vendorId is required")
	case !a.VendorType.Valid():
		return shared.Validationf("unknown vendor type %q", a.VendorType)
	case a.OrderID <= 0:
		return shared.Validationf("orderId is required")
	case strings.TrimSpace(a.LotNumber) == "":
		return shared.Validationf("lotNumber is required")
	case a.Quantity < 0:
		return shared.Validationf("quantity must not be negative")
	case a.Rate.IsNegative():
		return shared.Validationf("rate must not be negative")
	}
	return nil
}

// PaymentRequest is the body of POST /vendor-balances/pay.
type PaymentRequest struct {
	VendorID   int64           `json:"vendorId" validate:"required,gt=0"`
	VendorType VendorType      `json:"vendorType" validate:"required,oneof=stitching washing finishing"`
	LotNumber  string          `json:"lotNumber" validate:"required,max=20"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
	OrderID    *int64          `json:"orderId,omitempty" validate:"omitempty,gt=0"`
}

// Validate applies the business checks the struct tags cannot express.
func (r PaymentRequest) Validate() error {
	if r.VendorID <= 0 {
		return shared.Validationf("vendorId is required")
	}
	if !r.VendorType.Valid() {
		return shared.Validationf("unknown vendor type %q", r.VendorType)
	}
	if strings.TrimSpace(r.LotNumber) == "" {
		return shared.Validationf("lotNumber is required")
	}
	if !r.Amount.IsPositive() {
		return shared.Validationf("amount must be greater than zero")
	}
	return nil
}

// Payment is the history entry written for each applied payment.
type Payment struct {
	ID          int64           `json:"id"`
	Reference   uuid.UUID       `json:"reference"`
	VendorID    int64           `json:"vendorId"`
	VendorType  VendorType      `json:"vendorType"`
	LotNumber   string          `json:"lotNumber"`
	OrderID     *int64          `json:"orderId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	RowsMatched int             `json:"rowsMatched"`
	ActorID     int64           `json:"actorId"`
	PaidAt      time.Time       `json:"paidAt"`
}

// PaymentResult is returned to the caller of RecordPayment.
type PaymentResult struct {
	Payment  Payment   `json:"payment"`
	Balances []Balance `json:"balances"`
}

// ListFilter narrows balance listings. Zero values mean no restriction.
type ListFilter struct {
	VendorType VendorType
	VendorID   *int64
	OrderID    *int64
	LotNumber  string
}

// CacheKey renders the filter as a stable cache key fragment.
func (f ListFilter) CacheKey() string {
	part := func(p *int64) string {
		if p == nil {
			return "*"
		}
		return fmt.Sprintf("%d", *p)
	}
	vt := string(f.VendorType)
	if vt == "" {
		vt = "*"
	}
	lot := f.LotNumber
	if lot == "" {
		lot = "*"
	}
	return strings.Join([]string{vt, part(f.VendorID), part(f.OrderID), lot}, "|")
}

// VendorSummary aggregates balances per vendor.
type VendorSummary struct {
	VendorID         int64           `json:"vendorId"`
	VendorType       VendorType      `json:"vendorType"`
	Lots             int             `json:"lots"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	PaymentsMade     decimal.Decimal `json:"paymentsMade"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
}
