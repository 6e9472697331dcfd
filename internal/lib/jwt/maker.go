// Package jwt выпускает и проверяет токены подтверждения передачи прав на
// установку. Токен подписывается HS256 секретным ключом установки.
package jwt

import (
	"time"
)

// Maker выпускает и разбирает токены передачи прав.
type Maker interface {
	GenerateToken(claims TransferClaims) (string, error)
	ParseToken(tokenStr string) (*TransferClaims, error)
}

// MakerImpl реализация Maker с секретным ключом и временем жизни токена.
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewJWTMaker создаёт Maker для секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}
