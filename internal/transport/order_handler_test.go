package transport

import (
	"net/http"
	"testing"

	"pantry-store/internal/apperr"
	"pantry-store/internal/domain"
	"pantry-store/internal/service"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func orderRouter(orders *stubOrders, lifecycle *stubLifecycle) http.Handler {
	return newRouter(NewOrderHandler(orders, lifecycle, zap.NewNop()).RegisterRoutes)
}

func checkoutBody(productID uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"items": []map[string]interface{}{{"product_id": productID.String(), "quantity": 2}},
		"shipping_address": map[string]string{
			"full_name":   "Meera Iyer",
			"phone":       "+91 90000 12345",
			"street":      "4 Residency Road",
			"city":        "Bengaluru",
			"state":       "Karnataka",
			"postal_code": "560025",
			"country":     "India",
		},
		"payment_method": "online",
	}
}

func TestPlaceOrder(t *testing.T) {
	user := customerIdentity()
	productID := uuid.New()

	var got service.PlaceOrderInput
	orders := &stubOrders{place: func(in service.PlaceOrderInput) (*domain.Order, error) {
		got = in
		return &domain.Order{
			ID:          uuid.New(),
			OrderNumber: "ORD-20260314-000001",
			UserID:      in.UserID,
			Subtotal:    decimal.RequireFromString("400"),
			Total:       decimal.RequireFromString("450"),
			Status:      domain.OrderStatusPending,
		}, nil
	}}

	w := call(t, orderRouter(orders, &stubLifecycle{}), "POST", "/api/orders", &user, checkoutBody(productID))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, user.UserID, got.UserID, "the owner comes from the token, never the body")
	require.Len(t, got.Items, 1)
	assert.Equal(t, service.OrderLineInput{ProductID: productID, Quantity: 2}, got.Items[0])
	assert.Equal(t, domain.PaymentMethodOnline, got.PaymentMethod)
	assert.Equal(t, "Bengaluru", got.ShippingAddress.City)
	assert.Contains(t, w.Body.String(), `"order_number":"ORD-20260314-000001"`)
}

func TestPlaceOrderValidation(t *testing.T) {
	user := customerIdentity()
	router := orderRouter(&stubOrders{}, &stubLifecycle{})

	body := checkoutBody(uuid.New())
	body["items"] = []interface{}{}
	w := call(t, router, "POST", "/api/orders", &user, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = checkoutBody(uuid.New())
	body["payment_method"] = "barter"
	w = call(t, router, "POST", "/api/orders", &user, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "payment_method")

	body = checkoutBody(uuid.New())
	body["items"] = []map[string]interface{}{{"product_id": uuid.NewString(), "quantity": 1001}}
	w = call(t, router, "POST", "/api/orders", &user, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "items[0].quantity")

	w = call(t, router, "POST", "/api/orders", nil, checkoutBody(uuid.New()))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// Feature: order-http, Property: service error codes map to their HTTP statuses
func TestProperty_PlaceOrderErrorMapping(t *testing.T) {
	codes := []apperr.Code{
		apperr.CodeValidation,
		apperr.CodeNotFound,
		apperr.CodeProductUnavailable,
		apperr.CodeInsufficientStock,
		apperr.CodeInternal,
	}
	properties := gopter.NewProperties(nil)

	properties.Property("status follows the apperr code", prop.ForAll(
		func(pick int) bool {
			code := codes[pick]
			orders := &stubOrders{place: func(service.PlaceOrderInput) (*domain.Order, error) {
				return nil, apperr.New(code, "rejected")
			}}
			user := customerIdentity()
			w := call(t, orderRouter(orders, &stubLifecycle{}), "POST", "/api/orders", &user, checkoutBody(uuid.New()))
			return w.Code == apperr.MetadataFor(code).HTTPStatus && errorCode(t, w) == string(code)
		},
		gen.IntRange(0, len(codes)-1),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestListAndGetOrders(t *testing.T) {
	user := customerIdentity()
	target := uuid.New()

	var gotQuery service.OrderQuery
	var gotActor domain.Identity
	orders := &stubOrders{
		list: func(actor domain.Identity, q service.OrderQuery) (*service.OrderPage, error) {
			gotActor, gotQuery = actor, q
			return &service.OrderPage{Orders: []*domain.Order{}, Page: 1, PageSize: 20}, nil
		},
		get: func(actor domain.Identity, number string) (*domain.Order, error) {
			if number != "ORD-20260314-000007" {
				return nil, apperr.New(apperr.CodeNotFound, "order not found")
			}
			return &domain.Order{OrderNumber: number, UserID: actor.UserID}, nil
		},
	}
	router := orderRouter(orders, &stubLifecycle{})

	w := call(t, router, "GET", "/api/orders?status=shipped&page=3&user_id="+target.String(), &user, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, user, gotActor)
	assert.Equal(t, "shipped", gotQuery.Status)
	assert.Equal(t, 3, gotQuery.Page)
	require.NotNil(t, gotQuery.UserID)
	assert.Equal(t, target, *gotQuery.UserID)

	w = call(t, router, "GET", "/api/orders/ORD-20260314-000007", &user, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(t, router, "GET", "/api/orders/ORD-20260314-000008", &user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = call(t, router, "GET", "/api/orders?user_id=bob", &user, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateOrderIsAdminOnly(t *testing.T) {
	var got service.StatusUpdate
	lifecycle := &stubLifecycle{update: func(actor domain.Identity, number string, u service.StatusUpdate) (*domain.Order, error) {
		got = u
		return &domain.Order{OrderNumber: number, Status: domain.OrderStatusShipped}, nil
	}}
	router := orderRouter(&stubOrders{}, lifecycle)
	body := map[string]interface{}{"status": "shipped", "tracking_number": "AWB-9", "note": "Handed to courier"}

	customer := customerIdentity()
	w := call(t, router, "PUT", "/api/orders/ORD-20260314-000001", &customer, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := adminIdentity()
	w = call(t, router, "PUT", "/api/orders/ORD-20260314-000001", &admin, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, got.Status)
	assert.Equal(t, "shipped", *got.Status)
	require.NotNil(t, got.TrackingNumber)
	assert.Equal(t, "AWB-9", *got.TrackingNumber)
	assert.Nil(t, got.Notes)
	assert.Equal(t, "Handed to courier", got.Note)
}

func TestCancelOrder(t *testing.T) {
	user := customerIdentity()
	lifecycle := &stubLifecycle{cancel: func(actor domain.Identity, number string) (*domain.Order, error) {
		if actor.UserID != user.UserID {
			return nil, apperr.New(apperr.CodeNotFound, "order not found")
		}
		if number == "ORD-20260314-000002" {
			return nil, apperr.New(apperr.CodeInvalidState, "order is already cancelled")
		}
		return &domain.Order{OrderNumber: number, Status: domain.OrderStatusCancelled}, nil
	}}
	router := orderRouter(&stubOrders{}, lifecycle)

	w := call(t, router, "DELETE", "/api/orders/ORD-20260314-000001", &user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)

	w = call(t, router, "DELETE", "/api/orders/ORD-20260314-000002", &user, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, w))

	stranger := customerIdentity()
	w = call(t, router, "DELETE", "/api/orders/ORD-20260314-000001", &stranger, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminDeleteOrder(t *testing.T) {
	deleted := ""
	lifecycle := &stubLifecycle{remove: func(actor domain.Identity, number string) error {
		deleted = number
		return nil
	}}
	router := orderRouter(&stubOrders{}, lifecycle)

	customer := customerIdentity()
	w := call(t, router, "DELETE", "/api/admin/orders/ORD-20260314-000001", &customer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, deleted)

	admin := adminIdentity()
	w = call(t, router, "DELETE", "/api/admin/orders/ORD-20260314-000001", &admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "ORD-20260314-000001", deleted)
}
