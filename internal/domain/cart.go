package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MaxItemQuantity — верхняя граница количества одной позиции в корзине.
const MaxItemQuantity = 10

// LineItem описывает одну позицию корзины (товар определённого размера).
type LineItem struct {
	ProductID string          `json:"productId"`
	Size      string          `json:"size"`
	Title     string          `json:"title"`
	Slug      string          `json:"slug,omitempty"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// ItemKey — идентичность позиции для слияния: пара (товар, размер).
type ItemKey struct {
	ProductID string
	Size      string
}

// Key возвращает идентичность позиции.
func (i LineItem) Key() ItemKey {
	return ItemKey{ProductID: i.ProductID, Size: i.Size}
}

// LineTotal — цена позиции с учётом количества.
func (i LineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Summary содержит производные от позиций величины.
type Summary struct {
	ItemCount int             `json:"numberOfItems"`
	Subtotal  decimal.Decimal `json:"subTotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
}

// Address — адрес доставки, который заполняется на шаге оформления заказа.
type Address struct {
	FirstName string `json:"firstName" validate:"required,min=2"`
	LastName  string `json:"lastName" validate:"required,min=2"`
	Address   string `json:"address" validate:"required,min=5"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city" validate:"required"`
	Zip       string `json:"zip" validate:"required"`
	Country   string `json:"country" validate:"required"`
	Phone     string `json:"phone" validate:"required"`
}

// HasRequiredField сообщает, заполнено ли хотя бы одно обязательное поле.
// Используется как признак того, что адрес когда-либо сохранялся.
func (a Address) HasRequiredField() bool {
	for _, v := range []string{a.FirstName, a.LastName, a.Address, a.City, a.Zip, a.Country, a.Phone} {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
