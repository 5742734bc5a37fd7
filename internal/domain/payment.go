package domain

import "github.com/shopspring/decimal"

// TransactionStatusCompleted — статус завершённой транзакции у платёжного провайдера.
const TransactionStatusCompleted = "COMPLETED"

// DefaultCurrency — валюта цен витрины, если не задана другая.
const DefaultCurrency = "USD"

// TransactionStatus — ответ провайдера о состоянии транзакции.
type TransactionStatus struct {
	ID       string
	Status   string
	Amount   decimal.Decimal
	Currency string
}

// Completed сообщает, что провайдер считает транзакцию завершённой.
func (s TransactionStatus) Completed() bool {
	return s.Status == TransactionStatusCompleted
}
