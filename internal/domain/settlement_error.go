package domain

import (
	"errors"
	"fmt"
)

// ErrorKind — закрытый перечень причин, по которым оформление или оплата заказа не прошли.
type ErrorKind string

const (
	KindMissingOwner               ErrorKind = "missing_owner"
	KindMissingAddress             ErrorKind = "missing_address"
	KindIncompleteLineItem         ErrorKind = "incomplete_line_item"
	KindStorageFailure             ErrorKind = "storage_failure"
	KindPaymentProviderUnavailable ErrorKind = "payment_provider_unavailable"
	KindPaymentNotCompleted        ErrorKind = "payment_not_completed"
	KindOrderNotFound              ErrorKind = "order_not_found"
	KindAmountMismatch             ErrorKind = "amount_mismatch"
	KindAlreadyPaid                ErrorKind = "already_paid"
)

// Transient сообщает, имеет ли смысл повторить вызов.
// Повторяемой считается только ошибка хранилища.
func (k ErrorKind) Transient() bool {
	return k == KindStorageFailure
}

// Error — структурированная ошибка workflow оформления/оплаты.
// Создаётся на границе с внешним вызовом и не несёт нетипизированных данных.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError создаёт ошибку заданного вида.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is позволяет сравнивать ошибки по виду: errors.Is(err, &Error{Kind: KindAmountMismatch}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// KindOf извлекает вид ошибки из цепочки.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// MessageOf возвращает человекочитаемое сообщение ошибки.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
