package cart

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Summarize вычисляет количество, подытог, налог и итог по позициям.
// Функция чистая: пустой список даёт нулевые значения.
func Summarize(items []domain.LineItem, taxRate decimal.Decimal) domain.Summary {
	count := 0
	subtotal := decimal.Zero
	for _, item := range items {
		count += item.Quantity
		subtotal = subtotal.Add(item.LineTotal())
	}
	tax := subtotal.Mul(taxRate)

	return domain.Summary{
		ItemCount: count,
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     subtotal.Add(tax),
	}
}
