package service

import (
	"fmt"
	"time"

	"pantry-store/internal/apperr"
	"pantry-store/internal/config"
	"pantry-store/internal/notification"

	"github.com/shopspring/decimal"
)

// EventPublisher hands order events to the notification pipeline. It must
// not block.
type EventPublisher interface {
	Dispatch(event notification.Event) bool
}

// OrderConfig holds the pricing and lifecycle knobs of the order services.
type OrderConfig struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	RestockOnCancel       bool
	DeleteWindow          time.Duration
}

// DefaultOrderConfig is the storefront's standard policy.
func DefaultOrderConfig() OrderConfig {
	return OrderConfig{
		FreeShippingThreshold: decimal.NewFromInt(500),
		FlatShippingFee:       decimal.NewFromInt(50),
		RestockOnCancel:       true,
		DeleteWindow:          24 * time.Hour,
	}
}

// NewOrderConfig parses the order settings from configuration.
func NewOrderConfig(cfg config.OrdersConfig) (OrderConfig, error) {
	threshold, err := decimal.NewFromString(cfg.FreeShippingThreshold)
	if err != nil {
		return OrderConfig{}, fmt.Errorf("invalid free shipping threshold %q: %w", cfg.FreeShippingThreshold, err)
	}
	fee, err := decimal.NewFromString(cfg.FlatShippingFee)
	if err != nil {
		return OrderConfig{}, fmt.Errorf("invalid flat shipping fee %q: %w", cfg.FlatShippingFee, err)
	}
	if threshold.IsNegative() || fee.IsNegative() {
		return OrderConfig{}, fmt.Errorf("shipping threshold and fee must not be negative")
	}

	out := OrderConfig{
		FreeShippingThreshold: threshold,
		FlatShippingFee:       fee,
		RestockOnCancel:       cfg.RestockOnCancel,
		DeleteWindow:          cfg.DeleteWindow,
	}
	if out.DeleteWindow <= 0 {
		out.DeleteWindow = 24 * time.Hour
	}
	return out, nil
}

// ShippingFor returns the shipping cost for subtotal.
func (c OrderConfig) ShippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.LessThan(c.FreeShippingThreshold) {
		return c.FlatShippingFee
	}
	return decimal.Zero
}

func internalError(err error, message string) error {
	return apperr.Wrap(apperr.CodeInternal, err, message)
}

// passThrough keeps taxonomy errors intact and marks everything else internal.
func passThrough(err error, message string) error {
	if apperr.As(err) != nil {
		return err
	}
	return internalError(err, message)
}

// pageBounds mirrors the clamping applied by the repositories.
func pageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
