package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pantry-store/internal/domain"
	"pantry-store/internal/notification"
	"pantry-store/internal/repository"

	"github.com/google/uuid"
)

// memStore backs the in-memory repositories. A transaction holds mu for its
// whole duration and restores a snapshot when fn fails, which gives the
// fakes the serializable, all-or-nothing behaviour of the SQL ones.
type memStore struct {
	mu         sync.Mutex
	products   map[uuid.UUID]domain.Product
	categories map[uuid.UUID]domain.Category
	carts      map[uuid.UUID]*memCart // by user
	orders     map[string]*domain.Order
	seq        int64
	fail       map[string]error
}

type memCart struct {
	id        uuid.UUID
	updatedAt time.Time
	items     []domain.CartItem
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		products:   map[uuid.UUID]domain.Product{},
		categories: map[uuid.UUID]domain.Category{},
		carts:      map[uuid.UUID]*memCart{},
		orders:     map[string]*domain.Order{},
		fail:       map[string]error{},
	}
}

// enter locks the store unless ctx already runs inside a transaction.
func (s *memStore) enter(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) failure(op string) error {
	return s.fail[op]
}

type memSnapshot struct {
	products map[uuid.UUID]domain.Product
	carts    map[uuid.UUID]*memCart
	orders   map[string]*domain.Order
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		products: make(map[uuid.UUID]domain.Product, len(s.products)),
		carts:    make(map[uuid.UUID]*memCart, len(s.carts)),
		orders:   make(map[string]*domain.Order, len(s.orders)),
	}
	for id, p := range s.products {
		snap.products[id] = p
	}
	for user, c := range s.carts {
		snap.carts[user] = &memCart{id: c.id, updatedAt: c.updatedAt, items: append([]domain.CartItem(nil), c.items...)}
	}
	for number, o := range s.orders {
		snap.orders[number] = o.Clone()
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.products = snap.products
	s.carts = snap.carts
	s.orders = snap.orders
}

// helpers used directly by tests

func (s *memStore) putProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *memStore) product(id uuid.UUID) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memStore) cartItems(userID uuid.UUID) []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[userID]; ok {
		return append([]domain.CartItem(nil), c.items...)
	}
	return nil
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) mutateOrder(number string, fn func(*domain.Order)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.orders[number])
}

// transactor

type memTransactor struct {
	store *memStore
}

func (t memTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	snap := t.store.snapshot()
	defer func() {
		if p := recover(); p != nil {
			t.store.restore(snap)
			panic(p)
		}
		if err != nil {
			t.store.restore(snap)
		}
	}()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

// products

type memProductRepo struct{ store *memStore }

func (r memProductRepo) Create(ctx context.Context, product *domain.Product) error {
	defer r.store.enter(ctx)()
	for _, p := range r.store.products {
		if p.Slug == product.Slug {
			return repository.ErrProductSlugTaken
		}
	}
	if _, ok := r.store.categories[product.CategoryID]; !ok && len(r.store.categories) > 0 {
		return repository.ErrUnknownProductCategory
	}
	r.store.products[product.ID] = *product
	return nil
}

func (r memProductRepo) Update(ctx context.Context, product *domain.Product) error {
	defer r.store.enter(ctx)()
	if _, ok := r.store.products[product.ID]; !ok {
		return repository.ErrProductNotFound
	}
	for id, p := range r.store.products {
		if id != product.ID && p.Slug == product.Slug {
			return repository.ErrProductSlugTaken
		}
	}
	r.store.products[product.ID] = *product
	return nil
}

func (r memProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.store.enter(ctx)()
	if _, ok := r.store.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	for _, c := range r.store.carts {
		for _, item := range c.items {
			if item.ProductID == id {
				return repository.ErrProductInUse
			}
		}
	}
	for _, o := range r.store.orders {
		for _, item := range o.Items {
			if item.ProductID == id {
				return repository.ErrProductInUse
			}
		}
	}
	delete(r.store.products, id)
	return nil
}

func (r memProductRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	defer r.store.enter(ctx)()
	p, ok := r.store.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return &p, nil
}

func (r memProductRepo) FindBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	defer r.store.enter(ctx)()
	for _, p := range r.store.products {
		if p.Slug == slug {
			p := p
			return &p, nil
		}
	}
	return nil, repository.ErrProductNotFound
}

func (r memProductRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	defer r.store.enter(ctx)()
	if err := r.store.failure("products.FindByIDs"); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.store.products[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}

func (r memProductRepo) List(ctx context.Context, filter repository.ProductFilter) ([]*domain.Product, int, error) {
	defer r.store.enter(ctx)()
	var matched []*domain.Product
	for _, p := range r.store.products {
		if filter.CategoryID != nil && p.CategoryID != *filter.CategoryID {
			continue
		}
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		p := p
		matched = append(matched, &p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched, len(matched), nil
}

func (r memProductRepo) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error) {
	defer r.store.enter(ctx)()
	p, ok := r.store.products[id]
	if !ok || !p.IsActive || p.Stock < qty {
		return 0, repository.ErrInsufficientStock
	}
	p.Stock -= qty
	r.store.products[id] = p
	return p.Stock, nil
}

func (r memProductRepo) RestoreStock(ctx context.Context, id uuid.UUID, qty int) error {
	defer r.store.enter(ctx)()
	p, ok := r.store.products[id]
	if !ok {
		return repository.ErrProductNotFound
	}
	p.Stock += qty
	r.store.products[id] = p
	return nil
}

// categories

type memCategoryRepo struct{ store *memStore }

func (r memCategoryRepo) Create(ctx context.Context, category *domain.Category) error {
	defer r.store.enter(ctx)()
	for _, c := range r.store.categories {
		if c.Name == category.Name || c.Slug == category.Slug {
			return repository.ErrCategoryAlreadyExists
		}
	}
	r.store.categories[category.ID] = *category
	return nil
}

func (r memCategoryRepo) List(ctx context.Context) ([]*domain.Category, error) {
	defer r.store.enter(ctx)()
	out := []*domain.Category{}
	for _, c := range r.store.categories {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memCategoryRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	defer r.store.enter(ctx)()
	c, ok := r.store.categories[id]
	if !ok {
		return nil, repository.ErrCategoryNotFound
	}
	return &c, nil
}

func (r memCategoryRepo) FindBySlug(ctx context.Context, slug string) (*domain.Category, error) {
	defer r.store.enter(ctx)()
	for _, c := range r.store.categories {
		if c.Slug == slug {
			c := c
			return &c, nil
		}
	}
	return nil, repository.ErrCategoryNotFound
}

// carts

type memCartRepo struct{ store *memStore }

func (r memCartRepo) load(userID uuid.UUID) (*domain.Cart, error) {
	c, ok := r.store.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	cart := &domain.Cart{ID: c.id, UserID: userID, UpdatedAt: c.updatedAt, Items: []domain.CartItem{}}
	for _, item := range c.items {
		p := r.store.products[item.ProductID]
		item.Product = domain.CartProduct{
			Name:     p.Name,
			Slug:     p.Slug,
			ImageURL: p.ImageURL,
			Price:    p.Price,
			Stock:    p.Stock,
			IsActive: p.IsActive,
		}
		cart.Items = append(cart.Items, item)
	}
	return cart, nil
}

func (r memCartRepo) byID(cartID uuid.UUID) *memCart {
	for _, c := range r.store.carts {
		if c.id == cartID {
			return c
		}
	}
	return nil
}

func (r memCartRepo) FindByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	defer r.store.enter(ctx)()
	return r.load(userID)
}

func (r memCartRepo) Lock(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	defer r.store.enter(ctx)()
	return r.load(userID)
}

func (r memCartRepo) LockOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	defer r.store.enter(ctx)()
	if _, ok := r.store.carts[userID]; !ok {
		r.store.carts[userID] = &memCart{id: uuid.New(), updatedAt: time.Now().UTC()}
	}
	return r.load(userID)
}

func (r memCartRepo) UpsertItem(ctx context.Context, cartID uuid.UUID, item domain.CartItem) error {
	defer r.store.enter(ctx)()
	c := r.byID(cartID)
	if c == nil {
		return repository.ErrCartNotFound
	}
	item.Product = domain.CartProduct{}
	for i, existing := range c.items {
		if existing.ProductID == item.ProductID {
			c.items[i] = item
			return nil
		}
	}
	c.items = append(c.items, item)
	return nil
}

func (r memCartRepo) RemoveItems(ctx context.Context, cartID uuid.UUID, productIDs ...uuid.UUID) error {
	defer r.store.enter(ctx)()
	c := r.byID(cartID)
	if c == nil {
		return nil
	}
	drop := map[uuid.UUID]bool{}
	for _, id := range productIDs {
		drop[id] = true
	}
	kept := c.items[:0]
	for _, item := range c.items {
		if !drop[item.ProductID] {
			kept = append(kept, item)
		}
	}
	c.items = kept
	return nil
}

func (r memCartRepo) Clear(ctx context.Context, cartID uuid.UUID) error {
	defer r.store.enter(ctx)()
	if err := r.store.failure("carts.Clear"); err != nil {
		return err
	}
	if c := r.byID(cartID); c != nil {
		c.items = nil
	}
	return nil
}

// orders

type memOrderRepo struct{ store *memStore }

func (r memOrderRepo) NextOrderSequence(ctx context.Context) (int64, error) {
	defer r.store.enter(ctx)()
	r.store.seq++
	return r.store.seq, nil
}

func (r memOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	defer r.store.enter(ctx)()
	if err := r.store.failure("orders.Create"); err != nil {
		return err
	}
	r.store.orders[order.OrderNumber] = order.Clone()
	return nil
}

func (r memOrderRepo) find(orderNumber string) (*domain.Order, error) {
	o, ok := r.store.orders[orderNumber]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r memOrderRepo) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	defer r.store.enter(ctx)()
	return r.find(orderNumber)
}

func (r memOrderRepo) LockByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	defer r.store.enter(ctx)()
	return r.find(orderNumber)
}

func (r memOrderRepo) List(ctx context.Context, filter repository.OrderFilter) ([]*domain.Order, int, error) {
	defer r.store.enter(ctx)()
	var matched []*domain.Order
	for _, o := range r.store.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		matched = append(matched, o.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].OrderNumber > matched[j].OrderNumber })
	return matched, len(matched), nil
}

func (r memOrderRepo) UpdateLifecycle(ctx context.Context, order *domain.Order) error {
	defer r.store.enter(ctx)()
	stored, ok := r.store.orders[order.OrderNumber]
	if !ok {
		return repository.ErrOrderNotFound
	}
	stored.Status = order.Status
	stored.PaymentStatus = order.PaymentStatus
	stored.TrackingNumber = order.TrackingNumber
	stored.Notes = order.Notes
	stored.UpdatedAt = order.UpdatedAt
	copyOf := order.Clone()
	stored.EstimatedDelivery = copyOf.EstimatedDelivery
	stored.ActualDelivery = copyOf.ActualDelivery
	return nil
}

func (r memOrderRepo) AppendHistory(ctx context.Context, orderID uuid.UUID, change domain.StatusChange) error {
	defer r.store.enter(ctx)()
	for _, o := range r.store.orders {
		if o.ID == orderID {
			o.StatusHistory = append(o.StatusHistory, change)
			return nil
		}
	}
	return repository.ErrOrderNotFound
}

func (r memOrderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.store.enter(ctx)()
	for number, o := range r.store.orders {
		if o.ID == id {
			delete(r.store.orders, number)
			return nil
		}
	}
	return repository.ErrOrderNotFound
}

// publisher

type recordingPublisher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (p *recordingPublisher) Dispatch(event notification.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return true
}

func (p *recordingPublisher) types() []notification.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notification.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
