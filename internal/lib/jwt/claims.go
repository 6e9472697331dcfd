package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired срок действия токена истёк.
var ErrExpired = errors.New("token expired")

// TransferClaims данные передачи прав на установку.
type TransferClaims struct {
	InstallID  int64  `json:"install_id"`
	FromUserID int64  `json:"from_user_id"`
	ToEmail    string `json:"to_email"`
	jwt.RegisteredClaims
}

// GenerateToken подписывает claims. Время выпуска и истечения выставляются
// от текущего момента, subject равен идентификатору установки.
func (j *MakerImpl) GenerateToken(claims TransferClaims) (string, error) {
	const op = "jwt.GenerateToken"
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(j.tokenTTL))
	claims.Subject = strconv.FormatInt(claims.InstallID, 10)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

// ParseToken проверяет подпись и срок действия токена.
func (j *MakerImpl) ParseToken(tokenStr string) (*TransferClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &TransferClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%s: %w", op, ErrExpired)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*TransferClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	return claims, nil
}
