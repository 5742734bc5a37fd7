package session

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Ключи полей адреса в сессии. Каждое поле хранится отдельно.
const (
	keyFirstName = "firstName"
	keyLastName  = "lastName"
	keyAddress   = "address"
	keyAddress2  = "address2"
	keyZip       = "zip"
	keyCity      = "city"
	keyCountry   = "country"
	keyPhone     = "phone"
)

var addressKeys = []string{keyFirstName, keyLastName, keyAddress, keyAddress2, keyZip, keyCity, keyCountry, keyPhone}

// AddressHolder хранит адрес доставки независимо от корзины.
type AddressHolder struct {
	store domain.SessionStore
}

// NewAddressHolder создаёт хранитель адреса.
func NewAddressHolder(store domain.SessionStore) *AddressHolder {
	return &AddressHolder{store: store}
}

// Load возвращает адрес, если ранее было сохранено хотя бы одно обязательное поле.
func (h *AddressHolder) Load(ctx context.Context, sessionID string) (domain.Address, bool, error) {
	values := make(map[string]string, len(addressKeys))
	for _, key := range addressKeys {
		v, ok, err := h.store.Get(ctx, sessionID, key)
		if err != nil {
			return domain.Address{}, false, fmt.Errorf("load address field %s: %w", key, err)
		}
		if ok {
			values[key] = v
		}
	}

	addr := domain.Address{
		FirstName: values[keyFirstName],
		LastName:  values[keyLastName],
		Address:   values[keyAddress],
		Address2:  values[keyAddress2],
		Zip:       values[keyZip],
		City:      values[keyCity],
		Country:   values[keyCountry],
		Phone:     values[keyPhone],
	}
	if !addr.HasRequiredField() {
		return domain.Address{}, false, nil
	}
	return addr, true, nil
}

// Save перезаписывает адрес целиком, поле за полем.
func (h *AddressHolder) Save(ctx context.Context, sessionID string, addr domain.Address) error {
	fields := map[string]string{
		keyFirstName: addr.FirstName,
		keyLastName:  addr.LastName,
		keyAddress:   addr.Address,
		keyAddress2:  addr.Address2,
		keyZip:       addr.Zip,
		keyCity:      addr.City,
		keyCountry:   addr.Country,
		keyPhone:     addr.Phone,
	}
	for _, key := range addressKeys {
		if err := h.store.Set(ctx, sessionID, key, fields[key]); err != nil {
			return fmt.Errorf("save address field %s: %w", key, err)
		}
	}
	return nil
}

// Clear удаляет все поля адреса.
func (h *AddressHolder) Clear(ctx context.Context, sessionID string) error {
	if err := h.store.Delete(ctx, sessionID, addressKeys...); err != nil {
		return fmt.Errorf("clear address: %w", err)
	}
	return nil
}
