package cart

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, decimal.RequireFromString("0.15"))

	require.Equal(t, 0, s.ItemCount)
	require.True(t, s.Subtotal.IsZero())
	require.True(t, s.Tax.IsZero())
	require.True(t, s.Total.IsZero())
}

func TestSummarizeSingleItem(t *testing.T) {
	items := []domain.LineItem{{ProductID: "p1", Size: "M", UnitPrice: decimal.NewFromInt(10), Quantity: 2}}

	s := Summarize(items, decimal.RequireFromString("0.15"))

	require.Equal(t, 2, s.ItemCount)
	require.True(t, s.Subtotal.Equal(decimal.NewFromInt(20)), s.Subtotal.String())
	require.True(t, s.Tax.Equal(decimal.NewFromInt(3)), s.Tax.String())
	require.True(t, s.Total.Equal(decimal.NewFromInt(23)), s.Total.String())
}

func TestSummarizeFractionalPricesAreExact(t *testing.T) {
	items := []domain.LineItem{
		{ProductID: "p1", Size: "S", UnitPrice: decimal.RequireFromString("0.1"), Quantity: 3},
		{ProductID: "p2", Size: "S", UnitPrice: decimal.RequireFromString("0.2"), Quantity: 1},
	}

	s := Summarize(items, decimal.RequireFromString("0.1"))

	require.True(t, s.Subtotal.Equal(decimal.RequireFromString("0.5")), s.Subtotal.String())
	require.True(t, s.Tax.Equal(decimal.RequireFromString("0.05")), s.Tax.String())
	require.True(t, s.Total.Equal(decimal.RequireFromString("0.55")), s.Total.String())
}

// Итоги всегда совпадают с пересчётом по позициям после любой последовательности команд.
func TestSummaryMatchesItemsAfterRandomCommands(t *testing.T) {
	rate := decimal.RequireFromString("0.15")
	agg := NewAggregator(rate)
	rnd := rand.New(rand.NewSource(42))

	products := []string{"p1", "p2", "p3"}
	sizes := []string{"S", "M", "L"}
	randomKey := func() domain.ItemKey {
		return domain.ItemKey{ProductID: products[rnd.Intn(len(products))], Size: sizes[rnd.Intn(len(sizes))]}
	}

	state := agg.Empty()
	for i := 0; i < 500; i++ {
		key := randomKey()
		var cmd Command
		switch rnd.Intn(4) {
		case 0, 1:
			cmd = AddItem{Item: domain.LineItem{
				ProductID: key.ProductID,
				Size:      key.Size,
				UnitPrice: decimal.New(int64(rnd.Intn(10000)), -2),
				Quantity:  1 + rnd.Intn(3),
			}}
		case 2:
			cmd = SetQuantity{Key: key, Quantity: rnd.Intn(12) - 1}
		default:
			cmd = RemoveItem{Key: key}
		}
		state = agg.Apply(state, cmd)

		want := Summarize(state.Items(), rate)
		got := state.Summary()
		require.Equal(t, want.ItemCount, got.ItemCount)
		require.True(t, want.Subtotal.Equal(got.Subtotal))
		require.True(t, got.Total.Equal(got.Subtotal.Add(got.Tax)))

		seen := make(map[domain.ItemKey]bool)
		for _, item := range state.Items() {
			require.False(t, seen[item.Key()], "duplicate identity %v", item.Key())
			require.Positive(t, item.Quantity)
			seen[item.Key()] = true
		}
	}
}
