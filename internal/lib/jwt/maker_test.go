package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTMaker_GenerateAndParseToken(t *testing.T) {
	maker := NewJWTMaker("sk_install_secret", 15*time.Minute)

	tests := []struct {
		name   string
		claims TransferClaims
	}{
		{name: "plain email", claims: TransferClaims{InstallID: 100, FromUserID: 5, ToEmail: "new@owner.test"}},
		{name: "with transfer id", claims: func() TransferClaims {
			c := TransferClaims{InstallID: 7, FromUserID: 1, ToEmail: "x@y.z"}
			c.ID = "d2b1c9a4"
			return c
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := maker.GenerateToken(tt.claims)
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			claims, err := maker.ParseToken(token)
			require.NoError(t, err)
			assert.Equal(t, tt.claims.InstallID, claims.InstallID)
			assert.Equal(t, tt.claims.FromUserID, claims.FromUserID)
			assert.Equal(t, tt.claims.ToEmail, claims.ToEmail)
			assert.Equal(t, tt.claims.ID, claims.ID)
			assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Second)
		})
	}
}

func TestJWTMaker_ParseToken_InvalidTokens(t *testing.T) {
	maker := NewJWTMaker("sk_install_secret", 15*time.Minute)
	valid, err := maker.GenerateToken(TransferClaims{InstallID: 100})
	require.NoError(t, err)
	wrongSecret, err := NewJWTMaker("other_secret", 15*time.Minute).GenerateToken(TransferClaims{InstallID: 100})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "malformed token", token: "invalid.token.here"},
		{name: "wrong secret key", token: wrongSecret},
		{name: "tampered token", token: valid + "tampered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.ParseToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}

func TestJWTMaker_Expired(t *testing.T) {
	maker := NewJWTMaker("sk_install_secret", -time.Hour)
	token, err := maker.GenerateToken(TransferClaims{InstallID: 100})
	require.NoError(t, err)

	_, err = maker.ParseToken(token)
	assert.ErrorIs(t, err, ErrExpired)
}
