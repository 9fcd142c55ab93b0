package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pantry-store/internal/apperr"
	"pantry-store/internal/domain"
	"pantry-store/internal/metrics"
	"pantry-store/internal/notification"
	"pantry-store/internal/repository"

	"go.uber.org/zap"
)

// StatusUpdate is an admin change to an order. Nil fields are left alone;
// at least one must be set.
type StatusUpdate struct {
	Status         *string
	Note           string
	TrackingNumber *string
	Notes          *string
}

// LifecycleService moves orders through their status lifecycle.
type LifecycleService interface {
	UpdateStatus(ctx context.Context, actor domain.Identity, orderNumber string, update StatusUpdate) (*domain.Order, error)
	Cancel(ctx context.Context, actor domain.Identity, orderNumber string) (*domain.Order, error)
	Delete(ctx context.Context, actor domain.Identity, orderNumber string) error
}

type lifecycleService struct {
	tx        repository.Transactor
	orders    repository.OrderRepository
	products  repository.ProductRepository
	publisher EventPublisher
	cfg       OrderConfig
	metrics   *metrics.OrderMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewLifecycleService creates a new instance of LifecycleService
func NewLifecycleService(
	tx repository.Transactor,
	orders repository.OrderRepository,
	products repository.ProductRepository,
	publisher EventPublisher,
	cfg OrderConfig,
	m *metrics.OrderMetrics,
	logger *zap.Logger,
) LifecycleService {
	return &lifecycleService{
		tx:        tx,
		orders:    orders,
		products:  products,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       nowUTC,
	}
}

// UpdateStatus applies an admin transition and/or tracking and notes edits.
// Moving to cancelled goes through the same path as Cancel. Sending the
// current status on its own is rejected as a repeated transition.
func (s *lifecycleService) UpdateStatus(ctx context.Context, actor domain.Identity, orderNumber string, update StatusUpdate) (*domain.Order, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.CodeForbidden, "only admins can update order status")
	}
	if update.Status == nil && update.TrackingNumber == nil && update.Notes == nil {
		return nil, apperr.New(apperr.CodeValidation, "nothing to update").WithDetail("fields", []string{"status", "tracking_number", "notes"})
	}

	var next domain.OrderStatus
	if update.Status != nil {
		next = domain.OrderStatus(strings.ToLower(strings.TrimSpace(*update.Status)))
		if !next.Valid() {
			return nil, apperr.Newf(apperr.CodeValidation, "unknown order status %q", *update.Status).WithDetail("field", "status")
		}
	}

	var (
		order    *domain.Order
		previous domain.OrderStatus
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.lock(ctx, orderNumber)
		if err != nil {
			return err
		}
		previous = order.Status

		if update.TrackingNumber != nil {
			order.TrackingNumber = strings.TrimSpace(*update.TrackingNumber)
		}
		if update.Notes != nil {
			order.Notes = *update.Notes
		}
		order.UpdatedAt = s.now()

		// Repeating the current status alongside field edits only saves the fields.
		if next == order.Status && (update.TrackingNumber != nil || update.Notes != nil) {
			next = ""
		}
		if next == "" {
			return s.save(ctx, order, false)
		}
		if next == domain.OrderStatusCancelled {
			return s.cancelLocked(ctx, order, update.Note, actor)
		}
		if err := order.ApplyTransition(next, update.Note, s.now()); err != nil {
			return invalidTransition(err)
		}
		return s.save(ctx, order, true)
	})
	if err != nil {
		return nil, passThrough(err, "failed to update order")
	}

	if order.Status != previous {
		s.afterTransition(order, previous)
	}
	return order, nil
}

// Cancel moves a non-terminal order to cancelled. Owners and admins may
// cancel; anyone else sees the order as missing.
func (s *lifecycleService) Cancel(ctx context.Context, actor domain.Identity, orderNumber string) (*domain.Order, error) {
	var (
		order    *domain.Order
		previous domain.OrderStatus
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.lock(ctx, orderNumber)
		if err != nil {
			return err
		}
		if !canView(actor, order) {
			return orderNotFound(orderNumber)
		}
		previous = order.Status
		return s.cancelLocked(ctx, order, "", actor)
	})
	if err != nil {
		return nil, passThrough(err, "failed to cancel order")
	}

	s.afterTransition(order, previous)
	return order, nil
}

// cancelLocked cancels an order already locked by the caller's transaction
// and returns its stock.
func (s *lifecycleService) cancelLocked(ctx context.Context, order *domain.Order, note string, actor domain.Identity) error {
	if order.Status.Terminal() {
		return apperr.Newf(apperr.CodeInvalidState, "order is already %s", order.Status).
			WithDetail("status", order.Status)
	}
	if strings.TrimSpace(note) == "" {
		note = fmt.Sprintf("Order cancelled by %s", actor.Role)
	}
	if err := order.ApplyTransition(domain.OrderStatusCancelled, note, s.now()); err != nil {
		return invalidTransition(err)
	}
	if s.cfg.RestockOnCancel {
		if err := s.restock(ctx, order); err != nil {
			return err
		}
	}
	return s.save(ctx, order, true)
}

// Delete hard-deletes a cancelled order, or a pending one younger than the
// delete window. A pending order's stock is returned first.
func (s *lifecycleService) Delete(ctx context.Context, actor domain.Identity, orderNumber string) error {
	if !actor.IsAdmin() {
		return apperr.New(apperr.CodeForbidden, "only admins can delete orders")
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err := s.lock(ctx, orderNumber)
		if err != nil {
			return err
		}
		if !order.Deletable(s.now(), s.cfg.DeleteWindow) {
			return apperr.Newf(apperr.CodeInvalidState,
				"only cancelled orders or pending orders younger than %s can be deleted", s.cfg.DeleteWindow).
				WithDetail("status", order.Status)
		}
		if order.Status == domain.OrderStatusPending && s.cfg.RestockOnCancel {
			if err := s.restock(ctx, order); err != nil {
				return err
			}
		}
		if err := s.orders.Delete(ctx, order.ID); err != nil {
			return internalError(err, "failed to delete order")
		}
		return nil
	})
	if err != nil {
		return passThrough(err, "failed to delete order")
	}

	s.logger.Info("Order deleted", zap.String("order_number", orderNumber), zap.String("actor", actor.UserID.String()))
	return nil
}

func (s *lifecycleService) lock(ctx context.Context, orderNumber string) (*domain.Order, error) {
	order, err := s.orders.LockByNumber(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, orderNotFound(orderNumber)
		}
		return nil, internalError(err, "failed to load order")
	}
	return order, nil
}

func (s *lifecycleService) restock(ctx context.Context, order *domain.Order) error {
	for _, item := range order.Items {
		if err := s.products.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				s.logger.Warn("Skipping restock for missing product",
					zap.String("order_number", order.OrderNumber),
					zap.String("product_id", item.ProductID.String()),
				)
				continue
			}
			return internalError(err, "failed to restore stock")
		}
	}
	return nil
}

// save writes the lifecycle fields and, when transitioned, the newest
// history entry.
func (s *lifecycleService) save(ctx context.Context, order *domain.Order, transitioned bool) error {
	if err := s.orders.UpdateLifecycle(ctx, order); err != nil {
		return internalError(err, "failed to update order")
	}
	if !transitioned {
		return nil
	}
	latest := order.StatusHistory[len(order.StatusHistory)-1]
	if err := s.orders.AppendHistory(ctx, order.ID, latest); err != nil {
		return internalError(err, "failed to record status change")
	}
	return nil
}

func (s *lifecycleService) afterTransition(order *domain.Order, previous domain.OrderStatus) {
	s.metrics.IncTransition(string(order.Status))
	s.logger.Info("Order status changed",
		zap.String("order_number", order.OrderNumber),
		zap.String("from", string(previous)),
		zap.String("to", string(order.Status)),
	)

	if s.publisher == nil {
		return
	}
	eventType := notification.EventOrderStatusChanged
	if order.Status == domain.OrderStatusCancelled {
		eventType = notification.EventOrderCancelled
	}
	s.publisher.Dispatch(notification.NewOrderEvent(eventType, order, previous, s.now()))
}

func invalidTransition(err error) error {
	if errors.Is(err, domain.ErrUnknownStatus) {
		return apperr.Wrap(apperr.CodeValidation, err, err.Error())
	}
	return apperr.Wrap(apperr.CodeInvalidState, err, err.Error())
}
