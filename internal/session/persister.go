package session

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartKey — ключ, под которым корзина хранится в сессии.
const CartKey = "cart"

// Persister читает и записывает корзину в долговременное хранилище сессии.
type Persister struct {
	store  domain.SessionStore
	logger *log.Entry
}

// NewPersister создаёт адаптер поверх SessionStore.
func NewPersister(store domain.SessionStore, logger *log.Entry) *Persister {
	if logger == nil {
		logger = log.WithField("component", "session-persister")
	}
	return &Persister{store: store, logger: logger}
}

// LoadCart возвращает сохранённые позиции.
// Отсутствующие или повреждённые данные дают пустую корзину без ошибки;
// ошибкой считается только сбой самого хранилища.
func (p *Persister) LoadCart(ctx context.Context, sessionID string) ([]domain.LineItem, error) {
	raw, ok, err := p.store.Get(ctx, sessionID, CartKey)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var items []domain.LineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Warn("malformed cart in session, starting empty")
		return nil, nil
	}

	// Позиции с нулевым количеством не хранятся; отбрасываем их и при чтении.
	valid := items[:0]
	for _, item := range items {
		if item.Quantity > 0 {
			valid = append(valid, item)
		}
	}
	return valid, nil
}

// SaveCart записывает корзину целиком.
func (p *Persister) SaveCart(ctx context.Context, sessionID string, items []domain.LineItem) error {
	if items == nil {
		items = []domain.LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := p.store.Set(ctx, sessionID, CartKey, string(data)); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// ClearCart удаляет корзину из сессии. Адрес при этом сохраняется.
func (p *Persister) ClearCart(ctx context.Context, sessionID string) error {
	if err := p.store.Delete(ctx, sessionID, CartKey); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
