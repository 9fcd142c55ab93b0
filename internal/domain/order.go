package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// position along the fulfilment pipeline; cancelled is off-pipeline.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// Valid reports whether s is a recognized order status.
func (s OrderStatus) Valid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transitions are allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus tracks settlement independently of fulfilment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodOnline PaymentMethod = "online"
)

// Valid reports whether m is an accepted payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodOnline
}

// EstimatedDeliveryLead is applied when an order ships without an estimate.
const EstimatedDeliveryLead = 3 * 24 * time.Hour

// MaxOrderLineQuantity caps a single order line after duplicate lines are merged.
const MaxOrderLineQuantity = 1000

var (
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrUnknownStatus     = errors.New("unknown order status")
)

// ShippingAddress is copied onto the order at placement time.
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Landmark   string `json:"landmark,omitempty"`
}

// MissingFields lists the required fields that are blank.
func (a ShippingAddress) MissingFields() []string {
	required := []struct {
		name  string
		value string
	}{
		{"full_name", a.FullName},
		{"phone", a.Phone},
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}

	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// OrderItem is a frozen copy of a product line. It never references live
// catalog data, so later product edits do not alter it.
type OrderItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
}

// LineTotal is price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StatusChange is one append-only audit entry.
type StatusChange struct {
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note"`
	Timestamp time.Time   `json:"timestamp"`
}

// Order is immutable after placement except for the lifecycle fields.
type Order struct {
	ID                uuid.UUID       `json:"id"`
	OrderNumber       string          `json:"order_number"`
	UserID            uuid.UUID       `json:"user_id"`
	Items             []OrderItem     `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	Tax               decimal.Decimal `json:"tax"`
	Total             decimal.Decimal `json:"total"`
	ShippingAddress   ShippingAddress `json:"shipping_address"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	Status            OrderStatus     `json:"status"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time      `json:"actual_delivery,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	StatusHistory     []StatusChange  `json:"status_history"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// FormatOrderNumber renders the human-facing order number from a sequence value.
func FormatOrderNumber(seq int64, at time.Time) string {
	return fmt.Sprintf("ORD-%s-%06d", at.UTC().Format("20060102"), seq)
}

// TotalsBalanced checks total == subtotal + shipping + tax.
func (o *Order) TotalsBalanced() bool {
	return o.Total.Equal(o.Subtotal.Add(o.ShippingCost).Add(o.Tax))
}

// CanTransitionTo validates a move to next. Moves go forward along the
// pipeline (skips allowed); cancelled is reachable from any non-terminal state.
func (o *Order) CanTransitionTo(next OrderStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, next)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, o.Status)
	}
	if next == o.Status {
		return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, o.Status)
	}
	if next == OrderStatusCancelled {
		return nil
	}
	if statusRank[next] < statusRank[o.Status] {
		return fmt.Errorf("%w: cannot move from %s back to %s", ErrInvalidTransition, o.Status, next)
	}
	return nil
}

// ApplyTransition moves the order to next, appends one history entry and
// applies the side effects of the target state.
func (o *Order) ApplyTransition(next OrderStatus, note string, now time.Time) error {
	if err := o.CanTransitionTo(next); err != nil {
		return err
	}
	if strings.TrimSpace(note) == "" {
		note = fmt.Sprintf("Status updated to %s", next)
	}

	o.Status = next
	o.UpdatedAt = now
	o.StatusHistory = append(o.StatusHistory, StatusChange{
		Status:    next,
		Note:      note,
		Timestamp: now,
	})

	switch next {
	case OrderStatusShipped:
		if o.EstimatedDelivery == nil {
			eta := now.Add(EstimatedDeliveryLead)
			o.EstimatedDelivery = &eta
		}
	case OrderStatusDelivered:
		if o.PaymentMethod == PaymentMethodCOD {
			o.PaymentStatus = PaymentStatusPaid
			delivered := now
			o.ActualDelivery = &delivered
		}
	case OrderStatusCancelled:
		if o.PaymentStatus == PaymentStatusPaid {
			o.PaymentStatus = PaymentStatusRefunded
		}
	}
	return nil
}

// Deletable reports whether the order may be hard-deleted at now.
func (o *Order) Deletable(now time.Time, window time.Duration) bool {
	switch o.Status {
	case OrderStatusCancelled:
		return true
	case OrderStatusPending:
		return now.Sub(o.CreatedAt) < window
	default:
		return false
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	if o.EstimatedDelivery != nil {
		t := *o.EstimatedDelivery
		c.EstimatedDelivery = &t
	}
	if o.ActualDelivery != nil {
		t := *o.ActualDelivery
		c.ActualDelivery = &t
	}
	return &c
}
