package events

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/license-sync/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

// AMQPForwarder пересылает события в обменник RabbitMQ с ключом маршрутизации,
// равным имени события.
type AMQPForwarder struct {
	ch       rabbitmq.Publisher
	exchange string
	log      *slog.Logger
}

// NewAMQPForwarder создаёт пересылку событий.
func NewAMQPForwarder(ch rabbitmq.Publisher, exchange string, log *slog.Logger) *AMQPForwarder {
	return &AMQPForwarder{ch: ch, exchange: exchange, log: log}
}

// Attach подписывает пересылку на все события шины.
func (f *AMQPForwarder) Attach(b *Bus) {
	b.OnAny(f.Forward)
}

// Forward публикует событие. Ошибка публикации только логируется.
func (f *AMQPForwarder) Forward(_ context.Context, e Event) {
	msg := rabbitmq.Message{
		RoutingKey: e.Name,
		Time:       e.Time,
		Headers:    map[string]any{"module_id": e.ModuleID, "blog_id": e.BlogID},
		Body:       e,
	}
	if err := rabbitmq.PublishMessage(f.ch, f.exchange, msg); err != nil {
		f.log.Error("failed to forward event", slog.String("event", e.Name), sl.Err(err))
	}
}
