package orders

import (
	"time"

	"github.com/garmentflow/garmentflow/internal/shared"
)

// CreateRequest represents request to create an order.
type CreateRequest struct {
	Code          string        `json:"code,omitempty" validate:"omitempty,max=40"`
	Date          time.Time     `json:"date" validate:"required"`
	ClientID      int64         `json:"clientId" validate:"required,gt=0"`
	Fabric        string        `json:"fabric" validate:"required,max=200"`
	FitStyleID    int64         `json:"fitStyleId" validate:"required,gt=0"`
	WaistSize     string        `json:"waistSize" validate:"max=20"`
	TotalQuantity int64         `json:"totalQuantity" validate:"required,gt=0"`
	ThreadColors  []ThreadColor `json:"threadColors" validate:"required,min=1,dive"`
	Description   string        `json:"description" validate:"max=2000"`
	Attachments   []string      `json:"attachments" validate:"omitempty,dive,max=500"`
}

// UpdateRequest represents a partial order update.
type UpdateRequest struct {
	Date          *time.Time     `json:"date,omitempty"`
	ClientID      *int64         `json:"clientId,omitempty" validate:"omitempty,gt=0"`
	Fabric        *string        `json:"fabric,omitempty" validate:"omitempty,max=200"`
	FitStyleID    *int64         `json:"fitStyleId,omitempty" validate:"omitempty,gt=0"`
	WaistSize     *string        `json:"waistSize,omitempty" validate:"omitempty,max=20"`
	TotalQuantity *int64         `json:"totalQuantity,omitempty" validate:"omitempty,gt=0"`
	ThreadColors  *[]ThreadColor `json:"threadColors,omitempty" validate:"omitempty,min=1,dive"`
	Description   *string        `json:"description,omitempty" validate:"omitempty,max=2000"`
	Attachments   *[]string      `json:"attachments,omitempty"`
}

// StatusRequest is the body of PUT /orders/{id}/status.
type StatusRequest struct {
	Status int `json:"status" validate:"required,min=1,max=6"`
}

// ListResponse wraps a page of orders.
type ListResponse struct {
	Orders     []Order           `json:"orders"`
	Pagination shared.Pagination `json:"pagination"`
}
