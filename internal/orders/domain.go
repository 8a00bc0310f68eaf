// Package orders owns client purchase orders and their stage progression.
package orders

import (
	"time"

	"github.com/garmentflow/garmentflow/internal/shared"
)

// ThreadColor is one (color, quantity) split of the ordered total.
type ThreadColor struct {
	Color    string `json:"color" validate:"required,max=80"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

// Order represents one client purchase order.
type Order struct {
	ID               int64         `json:"id"`
	Code             string        `json:"code"`
	Date             time.Time     `json:"date"`
	ClientID         int64         `json:"clientId"`
	Fabric           string        `json:"fabric"`
	FitStyleID       int64         `json:"fitStyleId"`
	WaistSize        string        `json:"waistSize"`
	TotalQuantity    int64         `json:"totalQuantity"`
	ThreadColors     []ThreadColor `json:"threadColors"`
	Description      string        `json:"description"`
	Attachments      []string      `json:"attachments"`
	Stage            Stage         `json:"status"`
	StageHistory     []StageChange `json:"statusHistory"`
	StitchedQuantity int64         `json:"stitchedQuantity"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// ThreadColorTotal sums the thread color split.
func ThreadColorTotal(colors []ThreadColor) int64 {
	var total int64
	for _, c := range colors {
		total += c.Quantity
	}
	return total
}

// CheckQuantities enforces that the thread color split adds up to the ordered total.
func CheckQuantities(total int64, colors []ThreadColor) error {
	if total <= 0 {
		return shared.Validationf("total quantity must be greater than zero")
	}
	if sum := ThreadColorTotal(colors); sum != total {
		return shared.Validationf("thread color quantities sum to %d but total quantity is %d", sum, total)
	}
	return nil
}

// RemainingToStitch returns how many pieces can still be sent to stitching.
func (o Order) RemainingToStitch() int64 {
	return o.TotalQuantity - o.StitchedQuantity
}

// StitchedDrift reports an order whose stitched_quantity counter differs from the sum of
// its stitching events.
type StitchedDrift struct {
	OrderID int64
	Code    string
	Counter int64
	Events  int64
}

// ListFilter narrows order listings.
type ListFilter struct {
	Stage    *Stage
	ClientID *int64
	Search   string
	Page     int
	PerPage  int
}
