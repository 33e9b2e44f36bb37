package rabbitmq

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body. Returning false re-queues the message.
type Handler func([]byte) bool

// Consumer owns one connection and channel; each call to ConsumeWithBindings
// starts a drain goroutine on that channel.
type Consumer struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// NewConsumer dials the broker and applies the per-consumer prefetch.
func NewConsumer(amqpURL string, prefetch int) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("set prefetch: %w", err)
		}
	}
	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares a durable topic exchange and queue, binds one
// routing key per non-nil handler and drains deliveries until the channel closes.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return errors.New("no bindings provided")
	}

	queue, err := c.declare(exchange, queueName, handlers)
	if err != nil {
		return err
	}
	msgs, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	go drain(queue, msgs, handlers)
	return nil
}

func (c *Consumer) declare(exchange, queueName string, handlers map[string]Handler) (string, error) {
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	for routingKey := range handlers {
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return "", fmt.Errorf("bind %s to %s: %w", routingKey, q.Name, err)
		}
	}
	return q.Name, nil
}

func drain(queue string, msgs <-chan amqp091.Delivery, handlers map[string]Handler) {
	for d := range msgs {
		settle(queue, d, handlers)
	}
	log.Printf("level=info component=rabbitmq_consumer msg=\"delivery channel closed\" queue=%s", queue)
}

type outcome int

const (
	outcomeAcked outcome = iota
	outcomeDropped
	outcomeRequeued
)

// settle runs the handler bound to the delivery's routing key and acknowledges
// the broker accordingly. Messages nobody handles are acked so they do not loop.
func settle(queue string, d amqp091.Delivery, handlers map[string]Handler) outcome {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler; dropping\" queue=%s routing_key=%s", queue, d.RoutingKey)
		ackDelivery(queue, d)
		return outcomeDropped
	}

	if handler(d.Body) {
		ackDelivery(queue, d)
		return outcomeAcked
	}

	log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" queue=%s routing_key=%s redelivered=%t",
		queue, d.RoutingKey, d.Redelivered)
	if err := d.Nack(false, true); err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"nack failed\" queue=%s err=%v", queue, err)
	}
	return outcomeRequeued
}

func ackDelivery(queue string, d amqp091.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"ack failed\" queue=%s err=%v", queue, err)
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
