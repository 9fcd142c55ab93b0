package transport

import (
	"context"
	"net/http"

	"pantry-store/internal/middleware"
	"pantry-store/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartItemRequest adds to or sets the quantity of one cart line
type CartItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=50"`
}

// CartHandler serves the caller's cart
type CartHandler struct {
	carts  service.CartService
	logger *zap.Logger
}

// NewCartHandler creates a new CartHandler
func NewCartHandler(carts service.CartService, logger *zap.Logger) *CartHandler {
	return &CartHandler{carts: carts, logger: logger}
}

// RegisterRoutes registers the cart routes; all of them require authentication
func (h *CartHandler) RegisterRoutes(r chi.Router, authMiddleware Middleware) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.GetCart)
		r.Post("/", h.AddItem)
		r.Put("/", h.UpdateItem)
		r.Delete("/", h.RemoveOrClear)
	})
}

// GetCart handles reading the caller's cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := caller(w, r)
	if !ok {
		return
	}

	view, err := h.carts.GetCart(r.Context(), identity.UserID)
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

// AddItem handles adding a product to the cart
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, h.carts.AddItem)
}

// UpdateItem handles setting a cart line's quantity
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, h.carts.UpdateQuantity)
}

type lineFunc func(ctx context.Context, userID, productID uuid.UUID, quantity int) (*service.CartView, error)

func (h *CartHandler) mutateLine(w http.ResponseWriter, r *http.Request, apply lineFunc) {
	identity, ok := caller(w, r)
	if !ok {
		return
	}

	var req CartItemRequest
	if !decode(w, r, &req, h.logger) {
		return
	}
	productID, err := parseUUID(req.ProductID, "product_id")
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}

	view, err := apply(r.Context(), identity.UserID, productID, req.Quantity)
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}

// RemoveOrClear removes the line named by ?product_id=, or empties the cart
// when the parameter is absent.
func (h *CartHandler) RemoveOrClear(w http.ResponseWriter, r *http.Request) {
	identity, ok := caller(w, r)
	if !ok {
		return
	}

	var (
		view *service.CartView
		err  error
	)
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		productID, perr := parseUUID(raw, "product_id")
		if perr != nil {
			middleware.RespondWithAppError(w, r, perr, h.logger)
			return
		}
		view, err = h.carts.RemoveItem(r.Context(), identity.UserID, productID)
	} else {
		view, err = h.carts.Clear(r.Context(), identity.UserID)
	}
	if err != nil {
		middleware.RespondWithAppError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, view)
}
