package transport

import (
	"net/http"

	"pantry-store/internal/domain"
	"pantry-store/internal/middleware"
	"pantry-store/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// OrderLineRequest is one requested order line
type OrderLineRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=1000"`
}

// PlaceOrderRequest represents the checkout payload. Address completeness is
// checked by the order service so the response can list every missing field.
type PlaceOrderRequest struct {
	Items           []OrderLineRequest     `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method" validate:"omitempty,oneof=cod online"`
	Notes           string                 `json:"notes" validate:"max=1000"`
}

// UpdateOrderRequest is an admin status, tracking or notes change
type UpdateOrderRequest struct {
	Status         *string `json:"status"`
	Note           string  `json:"note" validate:"max=500"`
	TrackingNumber *string `json:"tracking_number" validate:"omitempty,max=100"`
	Notes          *string `json:"notes" validate:"omitempty,max=1000"`
}

// OrderHandler serves checkout and the order lifecycle
type OrderHandler struct {
	orders    service.OrderService
	lifecycle service.LifecycleService
	logger    *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orders service.OrderService, lifecycle service.LifecycleService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, lifecycle: lifecycle, logger: logger}
}

// RegisterRoutes registers the order routes
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware, adminMiddleware Middleware) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.PlaceOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{orderNumber}", h.GetOrder)
		r.With(adminMiddleware).Put("/{orderNumber}", h.UpdateOrder)
		r.Delete("/{orderNumber}", h.CancelOrder)
	})

	r.With(authMiddleware, adminMiddleware).Delete("/api/admin/orders/{orderNumber}", h.DeleteOrder)
}

// PlaceOrder handles checkout
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := caller(w, r)
	if !ok {
		return
	}

	var req PlaceOrderRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	lines := make([]service.OrderLineInput, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := parseUUID(item.ProductID, "product_id")
		if err != nil {
			middleware.RespondWithAppError(w, r, err, h.logger)
			return
		}
		lines = append(lines, service.OrderLineInput{ProductID: productID, Quantity: item.Quantity})
	}

	order, err := h.orders.PlaceOrder(r.Context(), service.PlaceOrderInput{
		UserID:          identity.UserID,
		Items:           lines,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
		Notes:           req.Notes,
	})
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, order)
}

// ListOrders lists the caller's orders; admins see every order and may
// filter by ?user_id=.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	identity, ok := caller(w, r)
	if !ok {
		return
	}

	page, pageSize, err := paging(r)
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	query := service.OrderQuery{
		Status:   r.URL.Query().Get("status"),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := parseUUID(raw, "user_id")
		if err != nil {
			middleware.RespondWithAppError(w, r, err, h.logger)
			return
		}
		query.UserID = &userID
	}

	result, err := h.orders.ListOrders(r.Context(), identity, query)
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, result)
}

// GetOrder handles fetching a single order
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := caller(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), identity, chi.URLParam(r, "orderNumber"))
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// UpdateOrder handles admin status, tracking and notes changes
func (h *OrderHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := caller(w, r)
	if !ok {
		return
	}

	var req UpdateOrderRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	order, err := h.lifecycle.UpdateStatus(r.Context(), identity, chi.URLParam(r, "orderNumber"), service.StatusUpdate{
		Status:         req.Status,
		Note:           req.Note,
		TrackingNumber: req.TrackingNumber,
		Notes:          req.Notes,
	})
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// CancelOrder cancels the order for its owner or an admin.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := caller(w, r)
	if !ok {
		return
	}

	order, err := h.lifecycle.Cancel(r.Context(), identity, chi.URLParam(r, "orderNumber"))
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, order)
}

// DeleteOrder hard-deletes a cancelled or fresh pending order.
func (h *OrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.Delete(r.Context(), identity, chi.URLParam(r, "orderNumber")); err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
