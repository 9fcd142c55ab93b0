package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"pantry-store/internal/auth"
	"pantry-store/internal/domain"
	"pantry-store/internal/middleware"
	"pantry-store/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "transport-secret"

type stubCatalog struct {
	service.CatalogService
	list    func(service.ProductQuery) (*service.ProductPage, error)
	bySlug  func(slug string) (*domain.Product, error)
	create  func(service.ProductInput) (*domain.Product, error)
	update  func(uuid.UUID, service.ProductUpdate) (*domain.Product, error)
	remove  func(uuid.UUID) error
	newCat  func(service.CategoryInput) (*domain.Category, error)
	listCat func() ([]*domain.Category, error)
}

func (s *stubCatalog) ListProducts(_ context.Context, q service.ProductQuery) (*service.ProductPage, error) {
	return s.list(q)
}

func (s *stubCatalog) GetProductBySlug(_ context.Context, slug string, _ bool) (*domain.Product, error) {
	return s.bySlug(slug)
}

func (s *stubCatalog) CreateProduct(_ context.Context, in service.ProductInput) (*domain.Product, error) {
	return s.create(in)
}

func (s *stubCatalog) UpdateProduct(_ context.Context, id uuid.UUID, u service.ProductUpdate) (*domain.Product, error) {
	return s.update(id, u)
}

func (s *stubCatalog) DeleteProduct(_ context.Context, id uuid.UUID) error {
	return s.remove(id)
}

func (s *stubCatalog) ListCategories(context.Context) ([]*domain.Category, error) {
	return s.listCat()
}

func (s *stubCatalog) CreateCategory(_ context.Context, in service.CategoryInput) (*domain.Category, error) {
	return s.newCat(in)
}

type stubCarts struct {
	service.CartService
	calls []string
	err   error
}

func (s *stubCarts) view(userID uuid.UUID) (*service.CartView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.CartView{Cart: &domain.Cart{UserID: userID, Items: []domain.CartItem{}}}, nil
}

func (s *stubCarts) GetCart(_ context.Context, userID uuid.UUID) (*service.CartView, error) {
	s.calls = append(s.calls, "get")
	return s.view(userID)
}

func (s *stubCarts) AddItem(_ context.Context, userID, productID uuid.UUID, qty int) (*service.CartView, error) {
	s.calls = append(s.calls, "add:"+productID.String()+":"+strconv.Itoa(qty))
	return s.view(userID)
}

func (s *stubCarts) UpdateQuantity(_ context.Context, userID, productID uuid.UUID, qty int) (*service.CartView, error) {
	s.calls = append(s.calls, "set:"+productID.String()+":"+strconv.Itoa(qty))
	return s.view(userID)
}

func (s *stubCarts) RemoveItem(_ context.Context, userID, productID uuid.UUID) (*service.CartView, error) {
	s.calls = append(s.calls, "remove:"+productID.String())
	return s.view(userID)
}

func (s *stubCarts) Clear(_ context.Context, userID uuid.UUID) (*service.CartView, error) {
	s.calls = append(s.calls, "clear")
	return s.view(userID)
}

type stubOrders struct {
	service.OrderService
	place func(service.PlaceOrderInput) (*domain.Order, error)
	get   func(domain.Identity, string) (*domain.Order, error)
	list  func(domain.Identity, service.OrderQuery) (*service.OrderPage, error)
}

func (s *stubOrders) PlaceOrder(_ context.Context, in service.PlaceOrderInput) (*domain.Order, error) {
	return s.place(in)
}

func (s *stubOrders) GetOrder(_ context.Context, actor domain.Identity, number string) (*domain.Order, error) {
	return s.get(actor, number)
}

func (s *stubOrders) ListOrders(_ context.Context, actor domain.Identity, q service.OrderQuery) (*service.OrderPage, error) {
	return s.list(actor, q)
}

type stubLifecycle struct {
	service.LifecycleService
	update func(domain.Identity, string, service.StatusUpdate) (*domain.Order, error)
	cancel func(domain.Identity, string) (*domain.Order, error)
	remove func(domain.Identity, string) error
}

func (s *stubLifecycle) UpdateStatus(_ context.Context, actor domain.Identity, number string, u service.StatusUpdate) (*domain.Order, error) {
	return s.update(actor, number, u)
}

func (s *stubLifecycle) Cancel(_ context.Context, actor domain.Identity, number string) (*domain.Order, error) {
	return s.cancel(actor, number)
}

func (s *stubLifecycle) Delete(_ context.Context, actor domain.Identity, number string) error {
	return s.remove(actor, number)
}

// newRouter wires handlers the way the server does.
func newRouter(register func(r chi.Router, authMW, adminMW Middleware)) http.Handler {
	logger := zap.NewNop()
	r := chi.NewRouter()
	r.NotFound(middleware.NotFound)
	register(r,
		middleware.AuthMiddleware(auth.NewJWTResolver(testSecret), logger),
		middleware.RequireAdmin(logger),
	)
	return r
}

func tokenFor(t *testing.T, identity domain.Identity) string {
	t.Helper()
	token, err := auth.NewJWTResolver(testSecret).Sign(identity, time.Hour)
	require.NoError(t, err)
	return token
}

func customerIdentity() domain.Identity {
	return domain.Identity{UserID: uuid.New(), Role: domain.RoleCustomer}
}

func adminIdentity() domain.Identity {
	return domain.Identity{UserID: uuid.New(), Role: domain.RoleAdmin}
}

// call performs a request; identity may be nil for anonymous calls.
func call(t *testing.T, h http.Handler, method, path string, identity *domain.Identity, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, *identity))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var response middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return response.Error.Code
}
