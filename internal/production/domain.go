// Package production records vendor hand-offs for stitching, washing and finishing.
//
// Each recorder runs as one unit of work: it validates the request, checks the
// cross-entity quantity rule under the order's row lock, persists the event, advances the
// order stage and accrues the vendor balance, all inside a single transaction.
package production

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garmentflow/garmentflow/internal/lotno"
	"github.com/garmentflow/garmentflow/internal/shared"
)

// InvoiceNumber is the vendor invoice reference as sent by the client. It accepts both
// JSON numbers and strings and must parse as an integer.
type InvoiceNumber string

// UnmarshalJSON accepts 7, "7" and " 7 ".
func (n *InvoiceNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = InvoiceNumber(s)
		return nil
	}
	*n = InvoiceNumber(data)
	return nil
}

// Int parses the invoice number.
func (n InvoiceNumber) Int() (int64, error) {
	raw := strings.TrimSpace(string(n))
	if raw == "" {
		return 0, shared.Validationf("invoiceNumber is required")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, shared.Validationf("invoiceNumber must be an integer, got %q", raw)
	}
	if v <= 0 {
		return 0, shared.Validationf("invoiceNumber must be positive, got %d", v)
	}
	return v, nil
}

// Lot is one traceable batch cut from an order.
type Lot struct {
	ID            int64     `json:"id"`
	LotNumber     string    `json:"lotNumber"`
	InvoiceNumber int64     `json:"invoiceNumber"`
	OrderID       int64     `json:"orderId"`
	Date          time.Time `json:"date"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StitchingEvent records pieces handed to a stitching vendor.
type StitchingEvent struct {
	ID            int64           `json:"id"`
	LotID         int64           `json:"lotId"`
	LotNumber     string          `json:"lotNumber"`
	InvoiceNumber int64           `json:"invoiceNumber"`
	OrderID       int64           `json:"orderId"`
	VendorID      int64           `json:"vendorId"`
	Quantity      int64           `json:"quantity"`
	QuantityShort int64           `json:"quantityShort"`
	Rate          decimal.Decimal `json:"rate"`
	Date          time.Time       `json:"date"`
	StitchOutDate *time.Time      `json:"stitchOutDate"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// WashDetail is one color/creation-type line of a washing event.
type WashDetail struct {
	Color        string `json:"color" validate:"required,max=80"`
	CreationType string `json:"creationType" validate:"required,max=80"`
	Quantity     int64  `json:"quantity" validate:"gt=0"`
}

// WashDetailTotal sums the detail quantities.
func WashDetailTotal(details []WashDetail) int64 {
	var total int64
	for _, d := range details {
		total += d.Quantity
	}
	return total
}

// WashingEvent records a lot handed to a washing vendor. Quantity is the sum of its
// details.
type WashingEvent struct {
	ID            int64           `json:"id"`
	LotID         int64           `json:"lotId"`
	LotNumber     string          `json:"lotNumber"`
	InvoiceNumber int64           `json:"invoiceNumber"`
	OrderID       int64           `json:"orderId"`
	VendorID      int64           `json:"vendorId"`
	Quantity      int64           `json:"quantity"`
	QuantityShort int64           `json:"quantityShort"`
	Rate          decimal.Decimal `json:"rate"`
	Date          time.Time       `json:"date"`
	WashOutDate   *time.Time      `json:"washOutDate"`
	WashDetails   []WashDetail    `json:"washDetails"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// FinishingEvent records a lot handed to a finishing vendor.
type FinishingEvent struct {
	ID            int64           `json:"id"`
	LotID         int64           `json:"lotId"`
	LotNumber     string          `json:"lotNumber"`
	InvoiceNumber int64           `json:"invoiceNumber"`
	OrderID       int64           `json:"orderId"`
	VendorID      int64           `json:"vendorId"`
	Quantity      int64           `json:"quantity"`
	QuantityShort int64           `json:"quantityShort"`
	Rate          decimal.Decimal `json:"rate"`
	Date          time.Time       `json:"date"`
	FinishOutDate *time.Time      `json:"finishOutDate"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// EventFilter narrows event listings.
type EventFilter struct {
	OrderID   *int64
	LotNumber string
	VendorID  *int64
}

func (f EventFilter) normalize() (EventFilter, error) {
	if strings.TrimSpace(f.LotNumber) == "" {
		f.LotNumber = ""
		return f, nil
	}
	canonical, err := lotno.Canonical(f.LotNumber)
	if err != nil {
		return EventFilter{}, err
	}
	f.LotNumber = canonical
	return f, nil
}
