// Package rabbitmq contains helpers for publishing entitlement events
// to RabbitMQ for the notification sender.
package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Connect dials the broker and opens a channel.
func Connect(url string) (*amqp.Connection, *amqp.Channel, error) {
	const op = "rabbitmq.Connect"
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return conn, ch, nil
}

// DeclareExchange declares the durable topic exchange used for
// entitlement events.
func DeclareExchange(ch *amqp.Channel, name string) error {
	const op = "rabbitmq.DeclareExchange"
	if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
