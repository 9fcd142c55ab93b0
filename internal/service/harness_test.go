package service

import (
	"testing"
	"time"

	"pantry-store/internal/apperr"
	"pantry-store/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	store     *memStore
	publisher *recordingPublisher
	clock     time.Time
	catalog   *catalogService
	carts     *cartService
	orders    *orderService
	lifecycle *lifecycleService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newMemStore()
	tx := memTransactor{store: store}
	products := memProductRepo{store: store}
	categories := memCategoryRepo{store: store}
	carts := memCartRepo{store: store}
	orders := memOrderRepo{store: store}
	publisher := &recordingPublisher{}
	logger := zap.NewNop()
	cfg := DefaultOrderConfig()

	h := &harness{
		store:     store,
		publisher: publisher,
		clock:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	now := func() time.Time { return h.clock }

	h.catalog = NewCatalogService(products, categories, logger).(*catalogService)
	h.carts = NewCartService(tx, carts, products, logger).(*cartService)
	h.orders = NewOrderService(tx, products, carts, orders, publisher, cfg, nil, logger).(*orderService)
	h.lifecycle = NewLifecycleService(tx, orders, products, publisher, cfg, nil, logger).(*lifecycleService)
	h.catalog.now = now
	h.carts.now = now
	h.orders.now = now
	h.lifecycle.now = now
	return h
}

func (h *harness) addProduct(name, price string, stock int) domain.Product {
	p := domain.Product{
		ID:        uuid.New(),
		Name:      name,
		Slug:      Slugify(name) + "-" + uuid.NewString()[:6],
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		IsActive:  true,
		ImageURL:  "https://cdn.example/" + Slugify(name) + ".jpg",
		CreatedAt: h.clock,
		UpdatedAt: h.clock,
	}
	h.store.putProduct(p)
	return p
}

func customer() domain.Identity {
	return domain.Identity{UserID: uuid.New(), Role: domain.RoleCustomer}
}

func admin() domain.Identity {
	return domain.Identity{UserID: uuid.New(), Role: domain.RoleAdmin}
}

func validAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		FullName:   "Meera Iyer",
		Phone:      "+91 90000 12345",
		Street:     "4 Residency Road",
		City:       "Bengaluru",
		State:      "Karnataka",
		PostalCode: "560025",
		Country:    "India",
	}
}

func requireCode(t *testing.T, err error, code apperr.Code) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	typed := apperr.As(err)
	require.NotNil(t, typed, "expected *apperr.Error, got %T: %v", err, err)
	require.Equal(t, code, typed.Code(), "unexpected error: %v", err)
	return typed
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
