// Package models содержит типизированные сущности протокола лицензирования:
// пользователя, установку (сайт), лицензию, план и подписку.
// Все сущности приходят от удалённого сервера в JSON и проверяются
// при разборе: запись без конкретного идентификатора отвергается.
package models

import (
	"encoding/json"
	"fmt"
)

// User представляет зарегистрированного владельца установок.
type User struct {
	ID         int64  `json:"id"`
	PublicKey  string `json:"public_key"`
	SecretKey  string `json:"secret_key"`
	Email      string `json:"email"`
	FirstName  string `json:"first,omitempty"`
	LastName   string `json:"last,omitempty"`
	IsVerified bool   `json:"is_verified"`
}

// IsValid сообщает, что у пользователя есть конкретный идентификатор.
func (u *User) IsValid() bool {
	return u != nil && u.ID > 0
}

// ParseUser разбирает пользователя из JSON и проверяет идентификатор.
func ParseUser(raw []byte) (*User, error) {
	const op = "models.ParseUser"
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !u.IsValid() {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEntity)
	}
	return &u, nil
}
