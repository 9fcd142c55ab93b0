package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pantry-store/internal/apperr"
	"pantry-store/internal/domain"
	"pantry-store/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartView is the cart as returned to the caller, with its derived summary.
// Removed lists lines dropped because their product went away; Notice
// explains a drop caused by the current request.
type CartView struct {
	Cart    *domain.Cart       `json:"cart"`
	Summary domain.CartSummary `json:"summary"`
	Removed []uuid.UUID        `json:"removed,omitempty"`
	Notice  string             `json:"notice,omitempty"`
}

// CartService defines the cart operations. Every mutation serializes on the
// user's cart row.
type CartService interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*CartView, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error)
	UpdateQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*CartView, error)
	Clear(ctx context.Context, userID uuid.UUID) (*CartView, error)
}

type cartService struct {
	tx       repository.Transactor
	carts    repository.CartRepository
	products repository.ProductRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewCartService creates a new instance of CartService
func NewCartService(tx repository.Transactor, carts repository.CartRepository, products repository.ProductRepository, logger *zap.Logger) CartService {
	return &cartService{
		tx:       tx,
		carts:    carts,
		products: products,
		logger:   logger,
		now:      nowUTC,
	}
}

// GetCart drops lines whose product is inactive or out of stock and persists
// the pruned cart before returning it.
func (s *cartService) GetCart(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	var view *CartView
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		cart, err := s.carts.Lock(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			view = newCartView(emptyCart(userID))
			return nil
		}
		if err != nil {
			return internalError(err, "failed to load cart")
		}

		var removed []uuid.UUID
		kept := make([]domain.CartItem, 0, len(cart.Items))
		for _, item := range cart.Items {
			if !item.Product.IsActive || item.Product.Stock <= 0 {
				removed = append(removed, item.ProductID)
				continue
			}
			kept = append(kept, item)
		}

		if len(removed) > 0 {
			if err := s.carts.RemoveItems(ctx, cart.ID, removed...); err != nil {
				return internalError(err, "failed to prune cart")
			}
			cart.Items = kept
			s.logger.Info("Pruned unavailable cart items",
				zap.String("user_id", userID.String()),
				zap.Int("removed", len(removed)),
			)
		}

		view = newCartView(cart)
		view.Removed = removed
		return nil
	})
	if err != nil {
		return nil, passThrough(err, "failed to load cart")
	}
	return view, nil
}

// AddItem merges quantity into the product's line, capped at the cart maximum,
// and refreshes the line's price snapshot.
func (s *cartService) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error) {
	if err := validateCartQuantity(quantity); err != nil {
		return nil, err
	}

	var view *CartView
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				return apperr.New(apperr.CodeNotFound, "product not found").WithDetail("product_id", productID)
			}
			return internalError(err, "failed to load product")
		}
		if !product.IsActive {
			return unavailableError(product)
		}

		cart, err := s.carts.LockOrCreate(ctx, userID)
		if err != nil {
			return internalError(err, "failed to load cart")
		}

		now := s.now()
		line := domain.CartItem{ProductID: productID, AddedAt: now}
		if existing, ok := cart.Item(productID); ok {
			line.AddedAt = existing.AddedAt
			line.Quantity = existing.Quantity
		}

		line.Quantity = min(line.Quantity+quantity, domain.MaxCartItemQuantity)
		if product.Stock < line.Quantity {
			return insufficientStockError(product.ID, product.Stock, line.Quantity)
		}

		line.PriceSnapshot = product.Price
		line.UpdatedAt = now
		if err := s.carts.UpsertItem(ctx, cart.ID, line); err != nil {
			return internalError(err, "failed to add cart item")
		}

		view, err = s.reload(ctx, userID)
		return err
	})
	if err != nil {
		return nil, passThrough(err, "failed to add cart item")
	}
	return view, nil
}

// UpdateQuantity sets the line's quantity. A line whose product disappeared
// or went inactive is dropped and the view carries a notice instead of an error.
func (s *cartService) UpdateQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error) {
	if err := validateCartQuantity(quantity); err != nil {
		return nil, err
	}

	var view *CartView
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		cart, err := s.carts.Lock(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return apperr.New(apperr.CodeNotFound, "item not in cart").WithDetail("product_id", productID)
		}
		if err != nil {
			return internalError(err, "failed to load cart")
		}

		existing, ok := cart.Item(productID)
		if !ok {
			return apperr.New(apperr.CodeNotFound, "item not in cart").WithDetail("product_id", productID)
		}

		product, err := s.products.FindByID(ctx, productID)
		if err != nil && !errors.Is(err, repository.ErrProductNotFound) {
			return internalError(err, "failed to load product")
		}

		if product == nil || !product.IsActive {
			if err := s.carts.RemoveItems(ctx, cart.ID, productID); err != nil {
				return internalError(err, "failed to remove cart item")
			}
			view, err = s.reload(ctx, userID)
			if err != nil {
				return err
			}
			view.Removed = []uuid.UUID{productID}
			view.Notice = fmt.Sprintf("%s is no longer available and was removed from your cart", existing.Product.Name)
			return nil
		}

		if product.Stock < quantity {
			return insufficientStockError(product.ID, product.Stock, quantity)
		}

		existing.Quantity = quantity
		existing.PriceSnapshot = product.Price
		existing.UpdatedAt = s.now()
		if err := s.carts.UpsertItem(ctx, cart.ID, existing); err != nil {
			return internalError(err, "failed to update cart item")
		}

		view, err = s.reload(ctx, userID)
		return err
	})
	if err != nil {
		return nil, passThrough(err, "failed to update cart item")
	}
	return view, nil
}

// RemoveItem deletes the line. Removing an absent line is not an error.
func (s *cartService) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*CartView, error) {
	return s.mutateExisting(ctx, userID, "failed to remove cart item", func(ctx context.Context, cart *domain.Cart) error {
		return s.carts.RemoveItems(ctx, cart.ID, productID)
	})
}

// Clear empties the cart. Clearing an empty or missing cart is not an error.
func (s *cartService) Clear(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	return s.mutateExisting(ctx, userID, "failed to clear cart", func(ctx context.Context, cart *domain.Cart) error {
		return s.carts.Clear(ctx, cart.ID)
	})
}

func (s *cartService) mutateExisting(ctx context.Context, userID uuid.UUID, message string, fn func(context.Context, *domain.Cart) error) (*CartView, error) {
	var view *CartView
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		cart, err := s.carts.Lock(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			view = newCartView(emptyCart(userID))
			return nil
		}
		if err != nil {
			return internalError(err, "failed to load cart")
		}

		if err := fn(ctx, cart); err != nil {
			return internalError(err, message)
		}

		view, err = s.reload(ctx, userID)
		return err
	})
	if err != nil {
		return nil, passThrough(err, message)
	}
	return view, nil
}

// reload reads the persisted cart so the summary reflects stored state.
func (s *cartService) reload(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return nil, internalError(err, "failed to reload cart")
	}
	return newCartView(cart), nil
}

func newCartView(cart *domain.Cart) *CartView {
	return &CartView{Cart: cart, Summary: cart.Summary()}
}

func emptyCart(userID uuid.UUID) *domain.Cart {
	return &domain.Cart{UserID: userID, Items: []domain.CartItem{}}
}

func validateCartQuantity(quantity int) error {
	if quantity < 1 || quantity > domain.MaxCartItemQuantity {
		return apperr.Newf(apperr.CodeValidation, "quantity must be between 1 and %d", domain.MaxCartItemQuantity).
			WithDetail("field", "quantity").
			WithDetail("max", domain.MaxCartItemQuantity)
	}
	return nil
}

// checkPurchasable maps a product that cannot sell qty units to its error.
func checkPurchasable(product *domain.Product, qty int) error {
	if product.Purchasable(qty) {
		return nil
	}
	if !product.IsActive {
		return unavailableError(product)
	}
	return insufficientStockError(product.ID, product.Stock, qty)
}

func unavailableError(product *domain.Product) error {
	return apperr.Newf(apperr.CodeProductUnavailable, "%s is currently unavailable", product.Name).
		WithDetail("product_id", product.ID)
}

func insufficientStockError(productID uuid.UUID, available, requested int) error {
	return apperr.New(apperr.CodeInsufficientStock, "insufficient stock").
		WithDetail("product_id", productID).
		WithDetail("available", available).
		WithDetail("requested", requested)
}
