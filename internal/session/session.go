package session

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderPlacer оформляет заказ из снимка корзины.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, checkout domain.Checkout) (string, error)
}

// OrderResult — результат оформления для вызывающей стороны.
// При успехе Message содержит идентификатор заказа.
type OrderResult struct {
	HasError bool   `json:"hasError"`
	Message  string `json:"message"`
	OrderID  string `json:"orderId,omitempty"`
	Err      error  `json:"-"`
}

// Manager открывает сессии поверх общего хранилища.
type Manager struct {
	agg       *cart.Aggregator
	persister *Persister
	addresses *AddressHolder
	logger    *log.Entry
}

// NewManager создаёт фабрику сессий.
func NewManager(store domain.SessionStore, agg *cart.Aggregator, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.WithField("component", "session")
	}
	return &Manager{
		agg:       agg,
		persister: NewPersister(store, logger),
		addresses: NewAddressHolder(store),
		logger:    logger,
	}
}

// Open возвращает сессию с ещё не загруженной корзиной.
func (m *Manager) Open(sessionID string) *Session {
	return &Session{id: sessionID, m: m, state: m.agg.Empty()}
}

// Session — явный объект сессии покупателя: корзина и адрес доставки.
// Сессия принадлежит одному владельцу и не предназначена для конкурентного использования.
type Session struct {
	id    string
	m     *Manager
	state cart.Cart
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string {
	return s.id
}

// Load читает сохранённую корзину. Повторный вызов ничего не делает.
func (s *Session) Load(ctx context.Context) error {
	if s.state.Loaded() {
		return nil
	}
	items, err := s.m.persister.LoadCart(ctx, s.id)
	if err != nil {
		return err
	}
	s.state = s.m.agg.Apply(s.state, cart.ReplaceAll{Items: items})
	return nil
}

// Cart возвращает текущее состояние корзины, при необходимости загружая его.
func (s *Session) Cart(ctx context.Context) (cart.Cart, error) {
	if err := s.Load(ctx); err != nil {
		return s.state, err
	}
	return s.state, nil
}

// AddItem добавляет позицию; количество итоговой позиции ограничивается MaxItemQuantity.
func (s *Session) AddItem(ctx context.Context, item domain.LineItem) (cart.Cart, error) {
	return s.dispatch(ctx, func(state cart.Cart) cart.Cart {
		state = s.m.agg.Apply(state, cart.AddItem{Item: item})
		if merged, ok := state.Find(item.Key()); ok && merged.Quantity > domain.MaxItemQuantity {
			state = s.m.agg.Apply(state, cart.SetQuantity{Key: item.Key(), Quantity: domain.MaxItemQuantity})
		}
		return state
	})
}

// SetQuantity устанавливает количество позиции. 0 удаляет позицию.
func (s *Session) SetQuantity(ctx context.Context, key domain.ItemKey, quantity int) (cart.Cart, error) {
	if quantity > domain.MaxItemQuantity {
		quantity = domain.MaxItemQuantity
	}
	return s.dispatch(ctx, func(state cart.Cart) cart.Cart {
		return s.m.agg.Apply(state, cart.SetQuantity{Key: key, Quantity: quantity})
	})
}

// RemoveItem удаляет позицию.
func (s *Session) RemoveItem(ctx context.Context, key domain.ItemKey) (cart.Cart, error) {
	return s.dispatch(ctx, func(state cart.Cart) cart.Cart {
		return s.m.agg.Apply(state, cart.RemoveItem{Key: key})
	})
}

// ClearCart очищает корзину. Адрес доставки не затрагивается.
func (s *Session) ClearCart(ctx context.Context) error {
	if err := s.m.persister.ClearCart(ctx, s.id); err != nil {
		return err
	}
	s.state = s.m.agg.Apply(s.state, cart.ReplaceAll{})
	return nil
}

// Address возвращает сохранённый адрес доставки.
func (s *Session) Address(ctx context.Context) (domain.Address, bool, error) {
	return s.m.addresses.Load(ctx, s.id)
}

// SetAddress перезаписывает адрес доставки.
func (s *Session) SetAddress(ctx context.Context, addr domain.Address) error {
	return s.m.addresses.Save(ctx, s.id, addr)
}

// ClearAddress забывает адрес доставки; следующее оформление вернёт MissingAddress.
func (s *Session) ClearAddress(ctx context.Context) error {
	return s.m.addresses.Clear(ctx, s.id)
}

// Checkout оформляет заказ из текущей корзины и адреса.
// Ошибки возвращаются значением OrderResult; после успешного оформления корзина очищается.
func (s *Session) Checkout(ctx context.Context, placer OrderPlacer, userID string) OrderResult {
	state, err := s.Cart(ctx)
	if err != nil {
		return failed(domain.NewError(domain.KindStorageFailure, "could not read cart", err))
	}

	checkout := domain.Checkout{
		UserID:  userID,
		Items:   state.Items(),
		Summary: state.Summary(),
	}

	addr, ok, err := s.Address(ctx)
	if err != nil {
		return failed(domain.NewError(domain.KindStorageFailure, "could not read shipping address", err))
	}
	if ok {
		checkout.Address = &addr
	}

	orderID, err := placer.CreateOrder(ctx, checkout)
	if err != nil {
		return failed(err)
	}

	if err := s.ClearCart(ctx); err != nil {
		s.m.logger.WithError(err).WithFields(log.Fields{
			"session_id": s.id,
			"order_id":   orderID,
		}).Warn("failed to clear cart after checkout")
	}

	return OrderResult{Message: orderID, OrderID: orderID}
}

// dispatch применяет мутацию к загруженной корзине и синхронно записывает результат.
func (s *Session) dispatch(ctx context.Context, mutate func(cart.Cart) cart.Cart) (cart.Cart, error) {
	if err := s.Load(ctx); err != nil {
		return s.state, err
	}

	next := mutate(s.state)
	// Незагруженное состояние не должно перетирать сохранённую корзину.
	if next.Loaded() {
		if err := s.m.persister.SaveCart(ctx, s.id, next.Items()); err != nil {
			return s.state, err
		}
	}
	s.state = next
	return next, nil
}

func failed(err error) OrderResult {
	return OrderResult{HasError: true, Message: domain.MessageOf(err), Err: err}
}
