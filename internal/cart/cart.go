package cart

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Cart — состояние корзины. Значение неизменяемо: любая команда возвращает новое состояние.
type Cart struct {
	items   []domain.LineItem
	summary domain.Summary
	loaded  bool
}

// Items возвращает копию позиций корзины.
func (c Cart) Items() []domain.LineItem {
	return append([]domain.LineItem(nil), c.items...)
}

// Summary возвращает производные итоги, пересчитанные при последнем изменении.
func (c Cart) Summary() domain.Summary {
	return c.summary
}

// Loaded сообщает, была ли корзина прочитана из хранилища.
func (c Cart) Loaded() bool {
	return c.loaded
}

// Len возвращает количество различных позиций.
func (c Cart) Len() int {
	return len(c.items)
}

// Find ищет позицию по идентичности (товар, размер).
func (c Cart) Find(key domain.ItemKey) (domain.LineItem, bool) {
	if idx := indexOf(c.items, key); idx >= 0 {
		return c.items[idx], true
	}
	return domain.LineItem{}, false
}

// Aggregator применяет команды к корзине и пересчитывает итоги.
type Aggregator struct {
	taxRate decimal.Decimal
}

// NewAggregator создаёт агрегатор с заданной ставкой налога.
func NewAggregator(taxRate decimal.Decimal) *Aggregator {
	if taxRate.IsNegative() {
		taxRate = decimal.Zero
	}
	return &Aggregator{taxRate: taxRate}
}

// TaxRate возвращает ставку налога агрегатора.
func (a *Aggregator) TaxRate() decimal.Decimal {
	return a.taxRate
}

// Empty возвращает пустую, ещё не загруженную корзину.
func (a *Aggregator) Empty() Cart {
	return Cart{summary: Summarize(nil, a.taxRate)}
}

// Apply — единственная функция перехода состояния корзины.
// Итоги пересчитываются после каждой команды и не могут быть изменены отдельно.
func (a *Aggregator) Apply(state Cart, cmd Command) Cart {
	next := Cart{loaded: state.loaded}

	switch c := cmd.(type) {
	case AddItem:
		next.items = addItem(state.items, c.Item)
	case SetQuantity:
		next.items = setQuantity(state.items, c.Key, c.Quantity)
	case RemoveItem:
		next.items = removeItem(state.items, c.Key)
	case ReplaceAll:
		next.items = append([]domain.LineItem(nil), c.Items...)
		next.loaded = true
	default:
		next.items = append([]domain.LineItem(nil), state.items...)
	}

	next.summary = Summarize(next.items, a.taxRate)
	return next
}
