package domain

import "errors"

var (
	// Ошибка отсутствующего владельца заказа.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("order total must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка, если у позиции не выбран размер.
	ErrItemSizeRequired = errors.New("item size is required")
	// Ошибка несоответствия итогов заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order totals do not match items")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductNotFound возвращается, если товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// Товар с таким slug уже есть в каталоге.
	ErrProductAlreadyExists = errors.New("product with this slug already exists")
	// Ошибка публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// Не передан идентификатор сессии.
	ErrSessionRequired = errors.New("session id is required")

	// ErrIdempotencyKeyRequired возвращается без заголовка Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// Хэш запроса не вычислен.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// Ключ уже использовался с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// Ключ уже использовался с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound возвращается, если записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// StorageError — ошибка хранилища с сообщением, которое можно показать пользователю.
type StorageError struct {
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
