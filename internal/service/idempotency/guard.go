// Package idempotency защищает оформление и оплату заказа от повторной обработки
// одного и того же запроса и чистит просроченные ключи.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrRequestInProgress — запрос с тем же ключом ещё обрабатывается.
var ErrRequestInProgress = errors.New("request with this idempotency key is still in progress")

// Response — сохранённый ответ, который возвращается при повторе запроса.
type Response struct {
	Status int
	Body   []byte
}

// Guard связывает idempotency-key с хэшем запроса и сохранённым ответом.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт срок хранения ответа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, options ...GuardOption) *Guard {
	g := &Guard{
		repo: repo,
		ttl:  domain.DefaultIdempotencyTTL,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(g)
	}
	if g.logger == nil {
		g.logger = log.WithField("component", "idempotency-guard")
	}
	return g
}

// RequestHash — отпечаток запроса: область (метод, путь, пользователь) и тело.
func RequestHash(scope string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin занимает ключ. Возвращает (nil, nil), если запрос нужно выполнить,
// или сохранённый ответ, если запрос с этим ключом уже завершён.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (*Response, error) {
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}

	switch {
	case record.Replayable():
		g.logger.WithFields(log.Fields{
			"idempotency_key": record.Key,
			"status":          record.ReplayStatus(),
		}).Info("replaying stored response")
		return &Response{Status: record.ReplayStatus(), Body: append([]byte(nil), record.ResponseBody...)}, nil
	case record.Status == domain.IdempotencyStatusFailed:
		// После 5xx запрос можно повторить, но выполнит его только тот, кто вернул ключ в processing.
		reclaimed, err := g.repo.ReclaimFailed(ctx, key, requestHash, g.now().Add(g.ttl))
		if err != nil {
			return nil, fmt.Errorf("reclaim idempotency key: %w", err)
		}
		if !reclaimed {
			return nil, ErrRequestInProgress
		}
		g.logger.WithField("idempotency_key", record.Key).Info("retrying request after failed attempt")
		return nil, nil
	default:
		return nil, ErrRequestInProgress
	}
}

// Complete сохраняет ответ. Ответы 5xx помечаются failed и не воспроизводятся при повторе.
func (g *Guard) Complete(ctx context.Context, key string, resp Response) error {
	var err error
	switch domain.StatusForResponse(resp.Status) {
	case domain.IdempotencyStatusFailed:
		err = g.repo.MarkFailed(ctx, key, resp.Body, resp.Status)
	default:
		err = g.repo.MarkDone(ctx, key, resp.Body, resp.Status)
	}
	if err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}
