package cart

import "github.com/vladislavdragonenkov/storefront/internal/domain"

// Command — закрытый набор команд над корзиной.
type Command interface {
	command()
}

// AddItem добавляет позицию или накапливает количество у существующей.
type AddItem struct {
	Item domain.LineItem
}

// SetQuantity перезаписывает количество позиции. Количество <= 0 удаляет позицию.
type SetQuantity struct {
	Key      domain.ItemKey
	Quantity int
}

// RemoveItem удаляет позицию с точным совпадением (товар, размер).
type RemoveItem struct {
	Key domain.ItemKey
}

// ReplaceAll целиком заменяет позиции; используется при восстановлении из хранилища.
type ReplaceAll struct {
	Items []domain.LineItem
}

func (AddItem) command()     {}
func (SetQuantity) command() {}
func (RemoveItem) command()  {}
func (ReplaceAll) command()  {}

func indexOf(items []domain.LineItem, key domain.ItemKey) int {
	for i, item := range items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

func addItem(items []domain.LineItem, item domain.LineItem) []domain.LineItem {
	next := append(make([]domain.LineItem, 0, len(items)+1), items...)
	if idx := indexOf(next, item.Key()); idx >= 0 {
		next[idx].Quantity += item.Quantity
		return next
	}
	return append(next, item)
}

func setQuantity(items []domain.LineItem, key domain.ItemKey, quantity int) []domain.LineItem {
	idx := indexOf(items, key)
	if idx < 0 {
		return append([]domain.LineItem(nil), items...)
	}
	if quantity <= 0 {
		return removeItem(items, key)
	}
	next := append([]domain.LineItem(nil), items...)
	next[idx].Quantity = quantity
	return next
}

func removeItem(items []domain.LineItem, key domain.ItemKey) []domain.LineItem {
	next := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if item.Key() == key {
			continue
		}
		next = append(next, item)
	}
	return next
}
