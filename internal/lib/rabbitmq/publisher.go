package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// AppID имя приложения в свойствах публикуемых сообщений.
const AppID = "license-sync"

// Publisher минимальный контракт канала AMQP для публикации.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Message сообщение для публикации в обменник.
type Message struct {
	RoutingKey string
	Time       time.Time
	Headers    map[string]any
	Body       any
}

func (m Message) publishing() (amqp.Publishing, error) {
	body, err := json.Marshal(m.Body)
	if err != nil {
		return amqp.Publishing{}, err
	}
	var headers amqp.Table
	if len(m.Headers) > 0 {
		headers = amqp.Table{}
		for k, v := range m.Headers {
			headers[k] = v
		}
	}
	return amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    m.Time.UTC(),
		AppId:        AppID,
		Body:         body,
	}, nil
}

// PublishMessage публикует msg в exchange с его ключом маршрутизации.
func PublishMessage(ch Publisher, exchange string, msg Message) error {
	const op = "rabbitmq.PublishMessage"
	if msg.RoutingKey == "" {
		return fmt.Errorf("%s: empty routing key", op)
	}
	p, err := msg.publishing()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Publish(exchange, msg.RoutingKey, false, false, p); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
