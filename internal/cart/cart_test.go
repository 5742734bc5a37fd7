package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func shirt(size string, qty int) domain.LineItem {
	return domain.LineItem{
		ProductID: "shirt-1",
		Size:      size,
		Title:     "Shirt",
		UnitPrice: decimal.NewFromInt(10),
		Quantity:  qty,
	}
}

func TestAddItemAccumulatesSameIdentity(t *testing.T) {
	agg := NewAggregator(decimal.Zero)

	state := agg.Apply(agg.Empty(), AddItem{Item: shirt("M", 2)})
	state = agg.Apply(state, AddItem{Item: shirt("M", 3)})

	require.Equal(t, 1, state.Len())
	item, ok := state.Find(domain.ItemKey{ProductID: "shirt-1", Size: "M"})
	require.True(t, ok)
	require.Equal(t, 5, item.Quantity)
	require.Equal(t, 5, state.Summary().ItemCount)
}

func TestAddItemDifferentSizeCreatesSeparateEntry(t *testing.T) {
	agg := NewAggregator(decimal.Zero)

	state := agg.Apply(agg.Empty(), AddItem{Item: shirt("M", 1)})
	state = agg.Apply(state, AddItem{Item: shirt("L", 1)})

	require.Equal(t, 2, state.Len())
	require.Equal(t, 2, state.Summary().ItemCount)
}

func TestAddItemDoesNotClamp(t *testing.T) {
	agg := NewAggregator(decimal.Zero)

	state := agg.Apply(agg.Empty(), AddItem{Item: shirt("M", domain.MaxItemQuantity)})
	state = agg.Apply(state, AddItem{Item: shirt("M", 1)})

	item, _ := state.Find(shirt("M", 0).Key())
	require.Equal(t, domain.MaxItemQuantity+1, item.Quantity)
}

func TestSetQuantityOverwrites(t *testing.T) {
	agg := NewAggregator(decimal.Zero)
	state := agg.Apply(agg.Empty(), AddItem{Item: shirt("M", 2)})

	state = agg.Apply(state, SetQuantity{Key: shirt("M", 0).Key(), Quantity: 7})

	item, ok := state.Find(shirt("M", 0).Key())
	require.True(t, ok)
	require.Equal(t, 7, item.Quantity)
	require.True(t, state.Summary().Subtotal.Equal(decimal.NewFromInt(70)))
}

func TestSetQuantityWithoutMatchIsNoop(t *testing.T) {
	agg := NewAggregator(decimal.Zero)
	state := agg.Apply(agg.Empty(), AddItem{Item: shirt("M", 2)})

	next := agg.Apply(state, SetQuantity{Key: shirt("XL", 0).Key(), Quantity: 4})

	require.Equal(t, state.Items(), next.Items())
	require.Equal(t, state.Summary(), next.Summary())
}

func TestSetQuantityZeroRemovesEntry(t *testing.T) {
	agg := NewAggregator(decimal.Zero)
	state := agg.Apply(agg.Empty(), AddItem{Item: shirt("M", 2)})

	state = agg.Apply(state, SetQuantity{Key: shirt("M", 0).Key(), Quantity: 0})

	require.Zero(t, state.Len())
	require.Zero(t, state.Summary().ItemCount)
}

func TestRemoveItemKeepsSibling(t *testing.T) {
	agg := NewAggregator(decimal.Zero)
	state := agg.Apply(agg.Empty(), AddItem{Item: shirt("M", 1)})
	state = agg.Apply(state, AddItem{Item: shirt("L", 2)})

	state = agg.Apply(state, RemoveItem{Key: shirt("M", 0).Key()})

	require.Equal(t, 1, state.Len())
	item, ok := state.Find(shirt("L", 0).Key())
	require.True(t, ok)
	require.Equal(t, 2, item.Quantity)
}

func TestReplaceAllMarksLoaded(t *testing.T) {
	agg := NewAggregator(decimal.RequireFromString("0.15"))
	empty := agg.Empty()
	require.False(t, empty.Loaded())

	state := agg.Apply(empty, ReplaceAll{Items: []domain.LineItem{shirt("M", 2)}})

	require.True(t, state.Loaded())
	require.True(t, state.Summary().Total.Equal(decimal.NewFromInt(23)))

	state = agg.Apply(state, AddItem{Item: shirt("L", 1)})
	require.True(t, state.Loaded())
}

func TestApplyDoesNotMutatePreviousState(t *testing.T) {
	agg := NewAggregator(decimal.Zero)
	first := agg.Apply(agg.Empty(), AddItem{Item: shirt("M", 1)})

	_ = agg.Apply(first, AddItem{Item: shirt("M", 4)})
	_ = agg.Apply(first, SetQuantity{Key: shirt("M", 0).Key(), Quantity: 9})

	item, _ := first.Find(shirt("M", 0).Key())
	require.Equal(t, 1, item.Quantity)
}

func TestNegativeTaxRateTreatedAsZero(t *testing.T) {
	agg := NewAggregator(decimal.RequireFromString("-0.2"))
	require.True(t, agg.TaxRate().IsZero())
}
