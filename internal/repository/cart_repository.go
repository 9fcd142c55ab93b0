package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pantry-store/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrCartNotFound = errors.New("cart not found")
)

// CartRepository defines the interface for cart data access. Lock and
// LockOrCreate take a row lock on the user's cart and must run inside a
// transaction for the lock to outlive the call.
type CartRepository interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	Lock(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	LockOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	UpsertItem(ctx context.Context, cartID uuid.UUID, item domain.CartItem) error
	RemoveItems(ctx context.Context, cartID uuid.UUID, productIDs ...uuid.UUID) error
	Clear(ctx context.Context, cartID uuid.UUID) error
}

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a new instance of CartRepository
func NewCartRepository(db *sql.DB) CartRepository {
	return &cartRepository{db: db}
}

// FindByUser loads the user's cart with live product data joined on each line.
func (r *cartRepository) FindByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	return r.load(ctx, userID, false)
}

// Lock loads the user's cart and locks its row until the transaction ends.
func (r *cartRepository) Lock(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	return r.load(ctx, userID, true)
}

// LockOrCreate creates the user's cart if needed, then locks it.
func (r *cartRepository) LockOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	query := `
		INSERT INTO carts (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, uuid.New(), userID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	return r.load(ctx, userID, true)
}

func (r *cartRepository) load(ctx context.Context, userID uuid.UUID, forUpdate bool) (*domain.Cart, error) {
	query := `SELECT id, user_id, updated_at FROM carts WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	db := conn(ctx, r.db)

	cart := &domain.Cart{Items: []domain.CartItem{}}
	err := db.QueryRowContext(ctx, query, userID).Scan(&cart.ID, &cart.UserID, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}

	itemsQuery := `
		SELECT ci.product_id, ci.quantity, ci.price_snapshot, ci.added_at, ci.updated_at,
		       p.name, p.slug, p.image_url, p.price, p.stock, p.is_active
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.added_at ASC, ci.product_id ASC
	`

	rows, err := db.QueryContext(ctx, itemsQuery, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		err := rows.Scan(
			&item.ProductID,
			&item.Quantity,
			&item.PriceSnapshot,
			&item.AddedAt,
			&item.UpdatedAt,
			&item.Product.Name,
			&item.Product.Slug,
			&item.Product.ImageURL,
			&item.Product.Price,
			&item.Product.Stock,
			&item.Product.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart items: %w", err)
	}

	return cart, nil
}

// UpsertItem inserts the line or overwrites its quantity and price snapshot.
func (r *cartRepository) UpsertItem(ctx context.Context, cartID uuid.UUID, item domain.CartItem) error {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity, price_snapshot, added_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity,
		              price_snapshot = EXCLUDED.price_snapshot,
		              updated_at = EXCLUDED.updated_at
	`

	_, err := conn(ctx, r.db).ExecContext(
		ctx,
		query,
		cartID,
		item.ProductID,
		item.Quantity,
		item.PriceSnapshot,
		item.AddedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cart item: %w", err)
	}

	return r.touch(ctx, cartID)
}

// RemoveItems deletes the given lines. Absent lines are ignored.
func (r *cartRepository) RemoveItems(ctx context.Context, cartID uuid.UUID, productIDs ...uuid.UUID) error {
	if len(productIDs) == 0 {
		return nil
	}

	params := make([]string, len(productIDs))
	for i, id := range productIDs {
		params[i] = id.String()
	}

	query := `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = ANY($2::uuid[])`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, cartID, params); err != nil {
		return fmt.Errorf("failed to remove cart items: %w", err)
	}

	return r.touch(ctx, cartID)
}

// Clear empties the cart. Clearing an empty cart is not an error.
func (r *cartRepository) Clear(ctx context.Context, cartID uuid.UUID) error {
	query := `DELETE FROM cart_items WHERE cart_id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, cartID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	return r.touch(ctx, cartID)
}

func (r *cartRepository) touch(ctx context.Context, cartID uuid.UUID) error {
	query := `UPDATE carts SET updated_at = NOW() WHERE id = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, cartID); err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	return nil
}
