package domain

import (
	"net/http"
	"time"
)

// DefaultIdempotencyTTL задаёт срок жизни ключа, если вызывающий его не указал.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus - стадия обработки запроса оформления или оплаты с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed ставится на ответы 5xx: их не воспроизводим, запрос можно повторить.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid сообщает, знаком ли статус хранилищу.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyRecord связывает ключ клиента с отпечатком запроса и сохранённым ответом.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord создаёт запись в статусе processing. Нулевой ttlAt
// заменяется на now + DefaultIdempotencyTTL.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) IdempotencyRecord {
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Expired сообщает, истёк ли срок записи к моменту now. Истёкший ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Replayable - ответ сохранён и должен возвращаться на повтор без повторной обработки.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone
}

// ReplayStatus возвращает HTTP-статус сохранённого ответа; 0 читается как 200.
func (r IdempotencyRecord) ReplayStatus() int {
	if r.HTTPStatus == 0 {
		return http.StatusOK
	}
	return r.HTTPStatus
}

// StatusForResponse выбирает конечный статус записи по коду ответа.
func StatusForResponse(httpStatus int) IdempotencyStatus {
	if httpStatus >= http.StatusInternalServerError {
		return IdempotencyStatusFailed
	}
	return IdempotencyStatusDone
}
