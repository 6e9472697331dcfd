package remote

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку удалённого вызова.
type Kind int

const (
	// KindTransport таймаут, ошибка DNS/TLS или 5xx.
	KindTransport Kind = iota + 1
	// KindBlocked сервер недоступен из-за блокировки исходящих запросов.
	KindBlocked
	// KindAuth неверные ключи или подпись.
	KindAuth
	// KindValidation доменная ошибка, которую можно показать пользователю.
	KindValidation
	// KindNotFound ожидаемая сущность отсутствует.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindBlocked:
		return "blocked"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error типизированная ошибка удалённого вызова.
type Error struct {
	Kind    Kind
	Code    string
	Type    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("remote %s error: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("remote %s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("remote %s error: status %d", e.Kind, e.Status)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func kindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// IsConnectivity сообщает, что сервер недоступен (сеть или блокировка).
func IsConnectivity(err error) bool {
	k := kindOf(err)
	return k == KindTransport || k == KindBlocked
}

// IsBlocked сообщает, что исходящие запросы к серверу заблокированы.
func IsBlocked(err error) bool {
	return kindOf(err) == KindBlocked
}

// IsNotFound сообщает, что запрошенная сущность отсутствует.
func IsNotFound(err error) bool {
	return kindOf(err) == KindNotFound
}

// IsValidation сообщает о доменной ошибке.
func IsValidation(err error) bool {
	return kindOf(err) == KindValidation
}

// IsAuth сообщает об ошибке ключей или подписи.
func IsAuth(err error) bool {
	return kindOf(err) == KindAuth
}

// Message возвращает текст ошибки сервера, если он есть, иначе fallback.
func Message(err error, fallback string) string {
	var re *Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return fallback
}
