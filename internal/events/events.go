// Package events синхронная шина событий одного экземпляра модуля.
// Обработчики вызываются в порядке подписки в потоке вызывающего.
package events

import (
	"context"
	"sync"
	"time"
)

// Имена событий движка.
const (
	AccountConnected         = "account.connected"
	AccountPendingActivation = "account.pending_activation"
	AccountSkipped           = "account.skipped"
	AccountReconnected       = "account.reconnected"
	LicenseActivated         = "license.activated"
	LicenseDeactivated       = "license.deactivated"
	PlanChanged              = "plan.changed"
	TrialStarted             = "trial.started"
	TrialCancelled           = "trial.cancelled"
	SubscriptionCancelled    = "subscription.cancelled"
	SyncCompleted            = "sync.completed"
	SyncFailed               = "sync.failed"
	CloneDetected            = "clone.detected"
	CloneResolved            = "clone.resolved"
	OwnerTransferInitiated   = "owner.transfer_initiated"
	OwnerChanged             = "owner.changed"
	NetworkDelegated         = "network.delegated"
	NetworkMigrated          = "network.migrated"
	UpdateAvailable          = "update.available"
)

// Event событие с полезной нагрузкой.
type Event struct {
	Name     string         `json:"name"`
	ModuleID int64          `json:"module_id"`
	BlogID   int64          `json:"blog_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Time     time.Time      `json:"time"`
}

// Handler обработчик события.
type Handler func(ctx context.Context, e Event)

// Emitter публикует события. Принимается сервисами вместо *Bus.
type Emitter interface {
	Emit(ctx context.Context, name string, blogID int64, payload map[string]any)
}

// Bus шина событий одного экземпляра модуля.
type Bus struct {
	mu       sync.RWMutex
	moduleID int64
	handlers map[string][]Handler
	any      []Handler
	now      func() time.Time
}

// NewBus создаёт шину для модуля moduleID.
func NewBus(moduleID int64) *Bus {
	return &Bus{
		moduleID: moduleID,
		handlers: make(map[string][]Handler),
		now:      time.Now,
	}
}

// On подписывает handler на событие name.
func (b *Bus) On(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// OnAny подписывает handler на все события.
func (b *Bus) OnAny(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.any = append(b.any, handler)
}

// Emit вызывает обработчики события name синхронно, в порядке подписки.
func (b *Bus) Emit(ctx context.Context, name string, blogID int64, payload map[string]any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[name])+len(b.any))
	handlers = append(handlers, b.handlers[name]...)
	handlers = append(handlers, b.any...)
	b.mu.RUnlock()

	e := Event{Name: name, ModuleID: b.moduleID, BlogID: blogID, Payload: payload, Time: b.now()}
	for _, h := range handlers {
		h(ctx, e)
	}
}
