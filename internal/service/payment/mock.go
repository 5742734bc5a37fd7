package payment

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockProcessor — конфигурируемая заглушка PaymentProcessor для тестов и локального запуска.
type MockProcessor struct {
	mu sync.Mutex

	Token    string
	TokenErr error

	// Statuses задаёт ответы по transactionID; при отсутствии используется Default.
	Statuses  map[string]domain.TransactionStatus
	Default   domain.TransactionStatus
	StatusErr error

	TokenCalls  int
	StatusCalls int
}

// NewMockProcessor возвращает mock, подтверждающий любую транзакцию на сумму amount в DefaultCurrency.
func NewMockProcessor(amount decimal.Decimal) *MockProcessor {
	return &MockProcessor{
		Token:    "mock-token",
		Statuses: make(map[string]domain.TransactionStatus),
		Default: domain.TransactionStatus{
			Status:   domain.TransactionStatusCompleted,
			Amount:   amount,
			Currency: domain.DefaultCurrency,
		},
	}
}

// AccessToken возвращает заранее настроенный токен и считает вызовы.
func (m *MockProcessor) AccessToken(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TokenCalls++
	return m.Token, m.TokenErr
}

// TransactionStatus возвращает настроенный статус транзакции и считает вызовы.
func (m *MockProcessor) TransactionStatus(_ context.Context, transactionID, _ string) (domain.TransactionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StatusCalls++
	if m.StatusErr != nil {
		return domain.TransactionStatus{}, m.StatusErr
	}
	status, ok := m.Statuses[transactionID]
	if !ok {
		status = m.Default
	}
	status.ID = transactionID
	return status, nil
}

var _ domain.PaymentProcessor = (*MockProcessor)(nil)

// TransactionStatusFor собирает ответ провайдера с заданным статусом и суммой.
func TransactionStatusFor(status, amount string) domain.TransactionStatus {
	return domain.TransactionStatus{
		Status:   status,
		Amount:   decimal.RequireFromString(amount),
		Currency: domain.DefaultCurrency,
	}
}
