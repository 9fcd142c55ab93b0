package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pantry-store/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound = errors.New("order not found")
)

// OrderFilter narrows an order listing. A nil UserID lists every user's orders.
type OrderFilter struct {
	UserID   *uuid.UUID
	Status   domain.OrderStatus
	Page     int
	PageSize int
}

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	NextOrderSequence(ctx context.Context) (int64, error)
	Create(ctx context.Context, order *domain.Order) error
	FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	// LockByNumber loads the order and locks its row until the surrounding
	// transaction ends.
	LockByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]*domain.Order, int, error)
	// UpdateLifecycle writes the mutable lifecycle fields.
	UpdateLifecycle(ctx context.Context, order *domain.Order) error
	AppendHistory(ctx context.Context, orderID uuid.UUID, change domain.StatusChange) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new instance of OrderRepository
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

const orderColumns = `id, order_number, user_id, subtotal, shipping_cost, tax, total,
	shipping_address, payment_method, status, payment_status, tracking_number,
	estimated_delivery, actual_delivery, notes, created_at, updated_at`

// NextOrderSequence draws the next value from order_number_seq. Values are
// never reused, even when the surrounding transaction rolls back.
func (r *orderRepository) NextOrderSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate order number: %w", err)
	}
	return seq, nil
}

// Create inserts the order row, its frozen items and its status history.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}

	db := conn(ctx, r.db)

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = db.ExecContext(
		ctx,
		query,
		order.ID,
		order.OrderNumber,
		order.UserID,
		order.Subtotal,
		order.ShippingCost,
		order.Tax,
		order.Total,
		string(address),
		string(order.PaymentMethod),
		string(order.Status),
		string(order.PaymentStatus),
		order.TrackingNumber,
		order.EstimatedDelivery,
		order.ActualDelivery,
		order.Notes,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, name, price, quantity, image)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, item := range order.Items {
		_, err := db.ExecContext(ctx, itemQuery, order.ID, item.ProductID, item.Name, item.Price, item.Quantity, item.Image)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	for _, change := range order.StatusHistory {
		if err := r.AppendHistory(ctx, order.ID, change); err != nil {
			return err
		}
	}

	return nil
}

// FindByNumber retrieves an order with its items and history.
func (r *orderRepository) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.findByNumber(ctx, orderNumber, false)
}

func (r *orderRepository) LockByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.findByNumber(ctx, orderNumber, true)
}

func (r *orderRepository) findByNumber(ctx context.Context, orderNumber string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(conn(ctx, r.db).QueryRowContext(ctx, query, orderNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order by number: %w", err)
	}

	if err := r.attachDetails(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// List retrieves orders newest first with items and history attached.
func (r *orderRepository) List(ctx context.Context, filter OrderFilter) ([]*domain.Order, int, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	conditions := []string{}
	args := []any{}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	db := conn(ctx, r.db)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM orders %s", whereClause)
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM orders
		%s
		ORDER BY created_at DESC, order_number DESC
		LIMIT $%d OFFSET $%d
	`, orderColumns, whereClause, len(args)+1, len(args)+2)

	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating orders: %w", err)
	}

	if err := r.attachDetails(ctx, orders); err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// UpdateLifecycle writes the fields that may change after placement.
func (r *orderRepository) UpdateLifecycle(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders
		SET status = $2, payment_status = $3, tracking_number = $4,
		    estimated_delivery = $5, actual_delivery = $6, notes = $7, updated_at = $8
		WHERE id = $1
	`

	result, err := conn(ctx, r.db).ExecContext(
		ctx,
		query,
		order.ID,
		string(order.Status),
		string(order.PaymentStatus),
		order.TrackingNumber,
		order.EstimatedDelivery,
		order.ActualDelivery,
		order.Notes,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// AppendHistory adds one audit entry. Entries are never updated or removed
// except by deleting the order.
func (r *orderRepository) AppendHistory(ctx context.Context, orderID uuid.UUID, change domain.StatusChange) error {
	query := `
		INSERT INTO order_status_history (order_id, status, note, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, orderID, string(change.Status), change.Note, change.Timestamp); err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// Delete removes the order; items and history cascade.
func (r *orderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// attachDetails loads items and history for all orders in two queries.
func (r *orderRepository) attachDetails(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		order.Items = []domain.OrderItem{}
		order.StatusHistory = []domain.StatusChange{}
		byID[order.ID] = order
		ids = append(ids, order.ID.String())
	}

	db := conn(ctx, r.db)

	itemRows, err := db.QueryContext(ctx, `
		SELECT order_id, product_id, name, price, quantity, image
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var orderID uuid.UUID
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.Image); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		if order, ok := byID[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return fmt.Errorf("error iterating order items: %w", err)
	}

	historyRows, err := db.QueryContext(ctx, `
		SELECT order_id, status, note, created_at
		FROM order_status_history
		WHERE order_id = ANY($1::uuid[])
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to load status history: %w", err)
	}
	defer historyRows.Close()

	for historyRows.Next() {
		var orderID uuid.UUID
		var status string
		var change domain.StatusChange
		if err := historyRows.Scan(&orderID, &status, &change.Note, &change.Timestamp); err != nil {
			return fmt.Errorf("failed to scan status history: %w", err)
		}
		change.Status = domain.OrderStatus(status)
		if order, ok := byID[orderID]; ok {
			order.StatusHistory = append(order.StatusHistory, change)
		}
	}
	if err := historyRows.Err(); err != nil {
		return fmt.Errorf("error iterating status history: %w", err)
	}

	return nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	var (
		address                           []byte
		paymentMethod, status, payStatus  string
		estimatedDelivery, actualDelivery sql.NullTime
	)

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Subtotal,
		&order.ShippingCost,
		&order.Tax,
		&order.Total,
		&address,
		&paymentMethod,
		&status,
		&payStatus,
		&order.TrackingNumber,
		&estimatedDelivery,
		&actualDelivery,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}

	order.PaymentMethod = domain.PaymentMethod(paymentMethod)
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(payStatus)
	order.EstimatedDelivery = nullTimePtr(estimatedDelivery)
	order.ActualDelivery = nullTimePtr(actualDelivery)

	return order, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
