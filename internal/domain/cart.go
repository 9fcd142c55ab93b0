package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxCartItemQuantity is the hard per-product ceiling for a cart line.
const MaxCartItemQuantity = 50

// Cart is the mutable basket owned by a single user.
type Cart struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartItem is one product line. PriceSnapshot is the product price captured
// on the last mutation of this line.
type CartItem struct {
	ProductID     uuid.UUID       `json:"product_id"`
	Quantity      int             `json:"quantity"`
	PriceSnapshot decimal.Decimal `json:"price_snapshot"`
	AddedAt       time.Time       `json:"added_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Product       CartProduct     `json:"product"`
}

// CartProduct is the live catalog state joined onto a cart line when it is read.
type CartProduct struct {
	Name     string          `json:"name"`
	Slug     string          `json:"slug"`
	ImageURL string          `json:"image_url"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	IsActive bool            `json:"is_active"`
}

// LineTotal is the snapshot price times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.PriceSnapshot.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartSummary is derived from the cart on every read and mutation and never stored.
type CartSummary struct {
	TotalItems  int             `json:"total_items"`
	UniqueItems int             `json:"unique_items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// Summary recomputes the cart totals from its current items.
func (c *Cart) Summary() CartSummary {
	summary := CartSummary{TotalAmount: decimal.Zero}
	if c == nil {
		return summary
	}
	for _, item := range c.Items {
		summary.TotalItems += item.Quantity
		summary.TotalAmount = summary.TotalAmount.Add(item.LineTotal())
	}
	summary.UniqueItems = len(c.Items)
	summary.TotalAmount = summary.TotalAmount.Round(2)
	return summary
}

// Item returns the line for productID, if present.
func (c *Cart) Item(productID uuid.UUID) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return CartItem{}, false
}
