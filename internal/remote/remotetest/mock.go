// Package remotetest содержит mock удалённого клиента для тестов.
package remotetest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/license-sync/internal/remote"
)

// Client mock реализации remote.Client на testify.
type Client struct {
	mock.Mock
}

// Call реализует remote.Client.
func (m *Client) Call(ctx context.Context, scope remote.Scope, creds remote.Credentials, method, path string, params any) (*remote.Result, error) {
	args := m.Called(ctx, scope, creds, method, path, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Result), args.Error(1)
}

// Expect регистрирует ожидание вызова с ответом body.
func (m *Client) Expect(scope remote.Scope, method, path, body string) *mock.Call {
	return m.On("Call", mock.Anything, scope, mock.Anything, method, path, mock.Anything).
		Return(remote.MustParse(body), nil).Once()
}

// ExpectError регистрирует ожидание вызова, завершающегося ошибкой.
func (m *Client) ExpectError(scope remote.Scope, method, path string, err error) *mock.Call {
	return m.On("Call", mock.Anything, scope, mock.Anything, method, path, mock.Anything).
		Return(nil, err).Once()
}
