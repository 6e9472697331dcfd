// Package remote описывает клиент удалённого сервера лицензий: три области
// вызовов (plugin, user, install), классификацию ответов и типизированные
// ошибки. HTTPClient реализует клиент поверх подписанных HTTP запросов.
package remote

import "context"

// Scope область удалённого вызова.
type Scope string

const (
	// ScopePlugin публичные вызовы от имени модуля, без секретного ключа.
	ScopePlugin Scope = "plugin"
	// ScopeUser вызовы от имени пользователя.
	ScopeUser Scope = "user"
	// ScopeInstall вызовы от имени установки.
	ScopeInstall Scope = "install"
)

// Credentials идентификатор и ключи, которыми подписывается вызов.
type Credentials struct {
	ID        int64
	PublicKey string
	SecretKey string
}

// Client выполняет вызов в указанной области и возвращает разобранный ответ
// или *Error.
type Client interface {
	Call(ctx context.Context, scope Scope, creds Credentials, method, path string, params any) (*Result, error)
}
