package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"pantry-store/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestCartRepository_LockOrCreateIsIdempotent(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	repo := NewCartRepository(testDB)
	userID := uuid.New()

	if _, err := repo.FindByUser(ctx, userID); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound before first add, got %v", err)
	}

	first, err := repo.LockOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("LockOrCreate: %v", err)
	}
	second, err := repo.LockOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("LockOrCreate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one cart per user, got %s and %s", first.ID, second.ID)
	}
	if len(second.Items) != 0 {
		t.Fatalf("new cart should be empty")
	}
}

func TestCartRepository_UpsertRemoveClear(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	repo := NewCartRepository(testDB)
	category := seedCategory(t)
	tea := seedProduct(t, category.ID, "100.00", 10)
	jam := seedProduct(t, category.ID, "45.00", 10)
	userID := uuid.New()

	cart, err := repo.LockOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("LockOrCreate: %v", err)
	}

	now := time.Now().UTC()
	upsert := func(p *domain.Product, qty int, price string) {
		t.Helper()
		item := domain.CartItem{
			ProductID:     p.ID,
			Quantity:      qty,
			PriceSnapshot: decimal.RequireFromString(price),
			AddedAt:       now,
			UpdatedAt:     time.Now().UTC(),
		}
		if err := repo.UpsertItem(ctx, cart.ID, item); err != nil {
			t.Fatalf("UpsertItem: %v", err)
		}
	}

	upsert(tea, 2, "100.00")
	upsert(jam, 1, "45.00")
	upsert(tea, 5, "95.00")

	loaded, err := repo.FindByUser(ctx, userID)
	if err != nil {
		t.Fatalf("FindByUser: %v", err)
	}
	if len(loaded.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(loaded.Items))
	}
	line, ok := loaded.Item(tea.ID)
	if !ok || line.Quantity != 5 || !line.PriceSnapshot.Equal(decimal.RequireFromString("95.00")) {
		t.Fatalf("upsert did not overwrite line: %+v", line)
	}
	if line.Product.Name != tea.Name || line.Product.Stock != 10 || !line.Product.IsActive {
		t.Fatalf("live product data not joined: %+v", line.Product)
	}

	if err := repo.RemoveItems(ctx, cart.ID, jam.ID, uuid.New()); err != nil {
		t.Fatalf("RemoveItems: %v", err)
	}
	loaded, _ = repo.FindByUser(ctx, userID)
	if len(loaded.Items) != 1 {
		t.Fatalf("expected 1 line after remove, got %d", len(loaded.Items))
	}

	if err := repo.Clear(ctx, cart.ID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := repo.Clear(ctx, cart.ID); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	loaded, _ = repo.FindByUser(ctx, userID)
	if len(loaded.Items) != 0 {
		t.Fatalf("expected empty cart")
	}
}

func TestCartRepository_QuantityCeilingEnforcedBySchema(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	repo := NewCartRepository(testDB)
	category := seedCategory(t)
	product := seedProduct(t, category.ID, "10.00", 100)

	cart, err := repo.LockOrCreate(ctx, uuid.New())
	if err != nil {
		t.Fatalf("LockOrCreate: %v", err)
	}

	now := time.Now().UTC()
	err = repo.UpsertItem(ctx, cart.ID, domain.CartItem{
		ProductID:     product.ID,
		Quantity:      domain.MaxCartItemQuantity + 1,
		PriceSnapshot: product.Price,
		AddedAt:       now,
		UpdatedAt:     now,
	})
	if err == nil {
		t.Fatalf("expected check constraint violation")
	}
	if pgCode(err) != pgCheckViolation {
		t.Fatalf("expected SQLSTATE %s, got %v", pgCheckViolation, err)
	}
}

func TestTransactor_RollbackDiscardsCartWrites(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	repo := NewCartRepository(testDB)
	tx := NewTransactor(testDB)
	category := seedCategory(t)
	product := seedProduct(t, category.ID, "10.00", 10)
	userID := uuid.New()

	boom := errors.New("boom")
	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		cart, err := repo.LockOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := repo.UpsertItem(ctx, cart.ID, domain.CartItem{ProductID: product.ID, Quantity: 1, PriceSnapshot: product.Price, AddedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		// nested call joins the outer transaction
		return tx.WithinTransaction(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := repo.FindByUser(ctx, userID); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("rolled back cart should not exist, got %v", err)
	}
}
