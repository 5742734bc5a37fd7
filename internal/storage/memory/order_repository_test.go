package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newOrder(id, userID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:     id,
		UserID: userID,
		Items: []domain.LineItem{
			{ProductID: "p-1", Size: "M", Title: "Shirt", UnitPrice: decimal.NewFromInt(10), Quantity: 2},
		},
		ItemCount: 2,
		Subtotal:  decimal.NewFromInt(20),
		Tax:       decimal.NewFromInt(3),
		Total:     decimal.NewFromInt(23),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID {
		t.Fatalf("expected id %s, got %s", order.ID, stored.ID)
	}
	if !stored.Total.Equal(order.Total) {
		t.Fatalf("expected total %s, got %s", order.Total, stored.Total)
	}

	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_StoredItemsAreIsolated(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Items[0].Quantity = 99
	stored, _ := repo.Get(ctx, order.ID)
	stored.Items[0].Size = "XL"

	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Quantity != 2 || again.Items[0].Size != "M" {
		t.Fatalf("stored items were mutated: %+v", again.Items[0])
	}
}

func TestOrderRepository_ListByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Now().UTC()

	for i, id := range []string{"order-a", "order-b", "order-c"} {
		if err := repo.Create(ctx, newOrder(id, "user-1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if err := repo.Create(ctx, newOrder("order-x", "user-2", base)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, err := repo.ListByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != "order-c" || orders[1].ID != "order-b" {
		t.Fatalf("unexpected order: %s, %s", orders[0].ID, orders[1].ID)
	}

	all, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 orders, got %d", len(all))
	}
}

func TestOrderRepository_SaveAndStats(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	if err := repo.Create(ctx, newOrder("order-1", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, newOrder("order-2", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	stored.IsPaid = true
	stored.TransactionID = "tx-1"
	if err := repo.Save(ctx, stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, _ := repo.Get(ctx, "order-1")
	if !updated.IsPaid || updated.TransactionID != "tx-1" {
		t.Fatalf("expected paid order, got %+v", updated)
	}
	if updated.Version != stored.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Paid != 1 || stats.Unpaid() != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Version = 42
	if err := repo.Save(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict error, got %v", err)
	}
}
