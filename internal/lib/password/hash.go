// Package password хеширует и проверяет токены администратора API.
// В конфигурации хранится только bcrypt-хеш токена.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch токен не соответствует хешу.
var ErrMismatch = errors.New("token does not match")

// Hash возвращает bcrypt-хеш токена для записи в конфигурацию.
func Hash(token string) (string, error) {
	const op = "password.Hash"
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashed), nil
}

// Verify сравнивает токен с хешем. Пустой токен никогда не совпадает.
func Verify(hash, token string) error {
	const op = "password.Verify"
	if token == "" {
		return fmt.Errorf("%s: %w", op, ErrMismatch)
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return fmt.Errorf("%s: %w", op, ErrMismatch)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
