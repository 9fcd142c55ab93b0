package service

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"pantry-store/internal/apperr"
	"pantry-store/internal/domain"
	"pantry-store/internal/metrics"
	"pantry-store/internal/notification"
	"pantry-store/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderLineInput is one requested line. Prices are never taken from the client.
type OrderLineInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// PlaceOrderInput is a checkout request.
type PlaceOrderInput struct {
	UserID          uuid.UUID
	Items           []OrderLineInput
	ShippingAddress domain.ShippingAddress
	PaymentMethod   domain.PaymentMethod
	Notes           string
}

// OrderQuery filters an order listing. UserID is honoured for admins only.
type OrderQuery struct {
	UserID   *uuid.UUID
	Status   string
	Page     int
	PageSize int
}

// OrderPage is one page of orders.
type OrderPage struct {
	Orders   []*domain.Order `json:"orders"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// OrderService converts carts into orders and reads them back.
type OrderService interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, actor domain.Identity, orderNumber string) (*domain.Order, error)
	ListOrders(ctx context.Context, actor domain.Identity, query OrderQuery) (*OrderPage, error)
}

type orderService struct {
	tx        repository.Transactor
	products  repository.ProductRepository
	carts     repository.CartRepository
	orders    repository.OrderRepository
	publisher EventPublisher
	cfg       OrderConfig
	metrics   *metrics.OrderMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new instance of OrderService
func NewOrderService(
	tx repository.Transactor,
	products repository.ProductRepository,
	carts repository.CartRepository,
	orders repository.OrderRepository,
	publisher EventPublisher,
	cfg OrderConfig,
	m *metrics.OrderMetrics,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		tx:        tx,
		products:  products,
		carts:     carts,
		orders:    orders,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       nowUTC,
	}
}

// PlaceOrder validates the lines against live catalog state, decrements
// stock, persists the order and clears the cart in one transaction. The
// confirmation event is published only after commit.
func (s *orderService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*domain.Order, error) {
	started := time.Now()

	order, err := s.placeOrder(ctx, input)
	if err != nil {
		code := apperr.CodeOf(err)
		s.metrics.IncRejected(string(code))
		if code == apperr.CodeInternal {
			s.logger.Error("Failed to place order", zap.String("user_id", input.UserID.String()), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.IncPlaced(string(order.PaymentMethod))
	s.metrics.ObservePlacement(time.Since(started))
	s.logger.Info("Order placed",
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", order.UserID.String()),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("lines", len(order.Items)),
	)

	s.publish(notification.EventOrderPlaced, order, "")
	return order, nil
}

func (s *orderService) placeOrder(ctx context.Context, input PlaceOrderInput) (*domain.Order, error) {
	lines, err := validatePlacement(&input)
	if err != nil {
		return nil, err
	}

	var order *domain.Order
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		// Locking the cart serializes placement with the user's cart edits.
		cart, err := s.carts.Lock(ctx, input.UserID)
		if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
			return internalError(err, "failed to load cart")
		}

		ids := make([]uuid.UUID, len(lines))
		for i, line := range lines {
			ids[i] = line.ProductID
		}
		products, err := s.products.FindByIDs(ctx, ids)
		if err != nil {
			return internalError(err, "failed to load products")
		}

		// Validate every line before touching stock.
		for _, line := range lines {
			product, ok := products[line.ProductID]
			if !ok {
				return apperr.New(apperr.CodeNotFound, "product not found").WithDetail("product_id", line.ProductID)
			}
			if err := checkPurchasable(product, line.Quantity); err != nil {
				return err
			}
		}

		items := make([]domain.OrderItem, 0, len(lines))
		subtotal := decimal.Zero
		for _, line := range lines {
			product := products[line.ProductID]
			price := product.Price
			if cartLine, ok := cart.Item(line.ProductID); ok {
				price = cartLine.PriceSnapshot
			}
			item := domain.OrderItem{
				ProductID: product.ID,
				Name:      product.Name,
				Price:     price,
				Quantity:  line.Quantity,
				Image:     product.ImageURL,
			}
			items = append(items, item)
			subtotal = subtotal.Add(item.LineTotal())
		}

		// Lines are sorted by product id so concurrent orders lock rows in
		// the same order.
		for _, line := range lines {
			if _, err := s.products.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				if errors.Is(err, repository.ErrInsufficientStock) {
					return s.stockConflict(ctx, line)
				}
				return internalError(err, "failed to decrement stock")
			}
		}

		seq, err := s.orders.NextOrderSequence(ctx)
		if err != nil {
			return internalError(err, "failed to allocate order number")
		}

		now := s.now()
		subtotal = subtotal.Round(2)
		shipping := s.cfg.ShippingFor(subtotal)
		tax := decimal.Zero

		order = &domain.Order{
			ID:              uuid.New(),
			OrderNumber:     domain.FormatOrderNumber(seq, now),
			UserID:          input.UserID,
			Items:           items,
			Subtotal:        subtotal,
			ShippingCost:    shipping,
			Tax:             tax,
			Total:           subtotal.Add(shipping).Add(tax),
			ShippingAddress: input.ShippingAddress,
			PaymentMethod:   input.PaymentMethod,
			Status:          domain.OrderStatusPending,
			PaymentStatus:   domain.PaymentStatusPending,
			Notes:           input.Notes,
			StatusHistory: []domain.StatusChange{{
				Status:    domain.OrderStatusPending,
				Note:      "Order placed",
				Timestamp: now,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := s.orders.Create(ctx, order); err != nil {
			return internalError(err, "failed to persist order")
		}

		if cart != nil {
			if err := s.carts.Clear(ctx, cart.ID); err != nil {
				return internalError(err, "failed to clear cart")
			}
		}
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to place order")
	}
	return order, nil
}

// stockConflict reports the stock seen after a conditional decrement lost a race.
func (s *orderService) stockConflict(ctx context.Context, line OrderLineInput) error {
	product, err := s.products.FindByID(ctx, line.ProductID)
	if err != nil {
		return insufficientStockError(line.ProductID, 0, line.Quantity)
	}
	if !product.IsActive {
		return unavailableError(product)
	}
	return insufficientStockError(product.ID, product.Stock, line.Quantity)
}

// validatePlacement checks the request shape and returns the lines merged by
// product and sorted by product id.
func validatePlacement(input *PlaceOrderInput) ([]OrderLineInput, error) {
	if input.UserID == uuid.Nil {
		return nil, apperr.New(apperr.CodeUnauthenticated, "authentication required")
	}
	if len(input.Items) == 0 {
		return nil, apperr.New(apperr.CodeValidation, "order must contain at least one item").WithDetail("field", "items")
	}
	if missing := input.ShippingAddress.MissingFields(); len(missing) > 0 {
		return nil, apperr.New(apperr.CodeValidation, "shipping address is incomplete").
			WithDetail("missing_fields", missing)
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = domain.PaymentMethodCOD
	}
	if !input.PaymentMethod.Valid() {
		return nil, apperr.Newf(apperr.CodeValidation, "unsupported payment method %q", input.PaymentMethod).
			WithDetail("field", "payment_method")
	}

	quantities := make(map[uuid.UUID]int, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, apperr.New(apperr.CodeValidation, "product id is required").WithDetail("field", "product_id")
		}
		if item.Quantity < 1 {
			return nil, apperr.New(apperr.CodeValidation, "quantity must be at least 1").
				WithDetail("field", "quantity").
				WithDetail("product_id", item.ProductID)
		}
		if item.Quantity > domain.MaxOrderLineQuantity-quantities[item.ProductID] {
			return nil, apperr.Newf(apperr.CodeValidation, "quantity cannot exceed %d per product", domain.MaxOrderLineQuantity).
				WithDetail("field", "quantity").
				WithDetail("product_id", item.ProductID).
				WithDetail("max", domain.MaxOrderLineQuantity)
		}
		quantities[item.ProductID] += item.Quantity
	}

	lines := make([]OrderLineInput, 0, len(quantities))
	for id, qty := range quantities {
		lines = append(lines, OrderLineInput{ProductID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return bytes.Compare(lines[i].ProductID[:], lines[j].ProductID[:]) < 0
	})
	return lines, nil
}

// GetOrder returns an order visible to actor.
func (s *orderService) GetOrder(ctx context.Context, actor domain.Identity, orderNumber string) (*domain.Order, error) {
	order, err := s.orders.FindByNumber(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, orderNotFound(orderNumber)
		}
		return nil, internalError(err, "failed to load order")
	}
	if !canView(actor, order) {
		return nil, orderNotFound(orderNumber)
	}
	return order, nil
}

// ListOrders pages through actor's orders, or everyone's for admins.
func (s *orderService) ListOrders(ctx context.Context, actor domain.Identity, query OrderQuery) (*OrderPage, error) {
	filter := repository.OrderFilter{Page: query.Page, PageSize: query.PageSize}

	if query.Status != "" {
		status := domain.OrderStatus(query.Status)
		if !status.Valid() {
			return nil, apperr.Newf(apperr.CodeValidation, "unknown order status %q", query.Status).WithDetail("field", "status")
		}
		filter.Status = status
	}

	switch {
	case !actor.IsAdmin():
		userID := actor.UserID
		filter.UserID = &userID
	case query.UserID != nil:
		filter.UserID = query.UserID
	}

	orders, total, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, internalError(err, "failed to list orders")
	}

	page, pageSize := pageBounds(query.Page, query.PageSize)

	return &OrderPage{Orders: orders, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *orderService) publish(eventType notification.EventType, order *domain.Order, previous domain.OrderStatus) {
	if s.publisher == nil {
		return
	}
	s.publisher.Dispatch(notification.NewOrderEvent(eventType, order, previous, s.now()))
}

// canView hides other users' orders from non-admins.
func canView(actor domain.Identity, order *domain.Order) bool {
	return actor.IsAdmin() || order.UserID == actor.UserID
}

func orderNotFound(orderNumber string) error {
	return apperr.New(apperr.CodeNotFound, "order not found").WithDetail("order_number", orderNumber)
}
