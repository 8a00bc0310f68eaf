package production

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotRequest resolves or creates a lot.
type LotRequest struct {
	LotNumber     string        `json:"lotNumber" validate:"required,max=20"`
	InvoiceNumber InvoiceNumber `json:"invoiceNumber" validate:"required"`
	OrderID       int64         `json:"orderId" validate:"required,gt=0"`
	Date          time.Time     `json:"date"`
	Description   string        `json:"description" validate:"max=2000"`
}

// StitchingRequest is the body of POST /stitching.
type StitchingRequest struct {
	LotNumber     string          `json:"lotNumber" validate:"required,max=20"`
	OrderID       int64           `json:"orderId" validate:"required,gt=0"`
	InvoiceNumber InvoiceNumber   `json:"invoiceNumber" validate:"required"`
	VendorID      int64           `json:"vendorId" validate:"required,gt=0"`
	Quantity      int64           `json:"quantity" validate:"gt=0"`
	QuantityShort int64           `json:"quantityShort" validate:"gte=0"`
	Rate          decimal.Decimal `json:"rate" validate:"gte=0"`
	Date          time.Time       `json:"date" validate:"required"`
	Description   string          `json:"description" validate:"max=2000"`
}

// WashingRequest is the body of POST /washing.
type WashingRequest struct {
	LotNumber     string          `json:"lotNumber" validate:"required,max=20"`
	OrderID       int64           `json:"orderId" validate:"required,gt=0"`
	InvoiceNumber InvoiceNumber   `json:"invoiceNumber" validate:"required"`
	VendorID      int64           `json:"vendorId" validate:"required,gt=0"`
	QuantityShort int64           `json:"quantityShort" validate:"gte=0"`
	Rate          decimal.Decimal `json:"rate" validate:"gte=0"`
	Date          time.Time       `json:"date" validate:"required"`
	WashDetails   []WashDetail    `json:"washDetails" validate:"required,min=1,dive"`
	Description   string          `json:"description" validate:"max=2000"`
}

// FinishingRequest is the body of POST /finishing.
type FinishingRequest struct {
	InvoiceNumber InvoiceNumber   `json:"invoiceNumber" validate:"required"`
	OrderID       int64           `json:"orderId" validate:"required,gt=0"`
	VendorID      int64           `json:"vendorId" validate:"required,gt=0"`
	Quantity      int64           `json:"quantity" validate:"gt=0"`
	QuantityShort int64           `json:"quantityShort" validate:"gte=0"`
	Rate          decimal.Decimal `json:"rate" validate:"gte=0"`
	Date          time.Time       `json:"date" validate:"required"`
	FinishOutDate *time.Time      `json:"finishOutDate,omitempty"`
	Description   string          `json:"description" validate:"max=2000"`
}

// StitchOutRequest is the body of PUT /stitching/{id}.
type StitchOutRequest struct {
	StitchOutDate time.Time `json:"stitchOutDate" validate:"required"`
}

// WashOutRequest is the body of PUT /washing/{id}.
type WashOutRequest struct {
	WashOutDate time.Time `json:"washOutDate" validate:"required"`
}

// FinishOutRequest is the body of PUT /finishing/{id}.
type FinishOutRequest struct {
	FinishOutDate time.Time `json:"finishOutDate" validate:"required"`
}

// NextLotResponse is returned by GET /lots/next.
type NextLotResponse struct {
	LotNumber string `json:"lotNumber"`
	Series    string `json:"series"`
	Batch     int    `json:"batch"`
}
