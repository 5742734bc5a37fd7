package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order — неизменяемый снимок корзины на момент оформления.
// После создания меняется ровно один раз: при подтверждении оплаты.
type Order struct {
	ID              string
	UserID          string
	Items           []LineItem
	ShippingAddress Address
	ItemCount       int
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	IsPaid          bool
	PaidAt          time.Time
	TransactionID   string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Checkout — входные данные оформления: снимок корзины, адрес и владелец.
// Address == nil означает, что адрес ещё не заполнен.
type Checkout struct {
	UserID  string
	Items   []LineItem
	Summary Summary
	Address *Address
}

// Clone возвращает копию заказа, не разделяющую срез позиций с оригиналом.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]LineItem(nil), o.Items...)
	return dst
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Total.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем снимок итогов с суммой позиций: qty * price.
	var count int
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.Size == "" {
			errs = append(errs, ErrItemSizeRequired)
		}
		count += item.Quantity
		calc = calc.Add(item.LineTotal())
	}
	if count != o.ItemCount || !calc.Equal(o.Subtotal) || !o.Subtotal.Add(o.Tax).Equal(o.Total) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
