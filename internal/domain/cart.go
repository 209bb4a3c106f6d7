package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cart is the per-user cart aggregate. It is created lazily on first
// authenticated access and is only ever emptied, never deleted.
type Cart struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CartItem is a single line item row. A cart holds at most one item per
// product; adding the same product again increments the quantity instead.
type CartItem struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CartID    uuid.UUID `json:"cart_id" db:"cart_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CartLine is a cart item with its product snapshot joined in, as returned
// by authoritative cart reads.
type CartLine struct {
	ItemID   uuid.UUID       `json:"item_id"`
	Product  ProductSnapshot `json:"product"`
	Quantity int             `json:"quantity"`
}

// Subtotal returns live price times quantity for this line.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartView is the materialized view of a cart handed to callers. Total and
// Count are deliberately methods, not fields: they are recomputed from the
// line set on every call so they can never drift from it.
type CartView struct {
	Lines []CartLine `json:"lines"`
}

// Total returns the sum of live price times quantity over all lines.
func (v CartView) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range v.Lines {
		total = total.Add(line.Product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// Count returns the sum of quantities over all lines.
func (v CartView) Count() int {
	count := 0
	for _, line := range v.Lines {
		count += line.Quantity
	}
	return count
}

// IsEmpty reports whether the cart has no line items.
func (v CartView) IsEmpty() bool {
	return len(v.Lines) == 0
}
