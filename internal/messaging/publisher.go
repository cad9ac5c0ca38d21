package messaging

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher emits messages to the cross product of (exchange, routing key)
// pairs in its bindings. It holds one channel for its lifetime.
type Publisher struct {
	bindings []Binding
	logger   *zap.Logger

	mu     sync.Mutex
	ch     Channel
	closed bool
}

// NewPublisher opens a channel on the shared connection and declares the
// bound exchanges.
func NewPublisher(conn *RobustConnection, bindings []Binding, logger *zap.Logger) (*Publisher, error) {
	c, err := conn.Get()
	if err != nil {
		return nil, fmt.Errorf("publisher connection: %w", err)
	}
	ch, err := c.Channel()
	if err != nil {
		return nil, fmt.Errorf("publisher channel: %w", err)
	}

	for _, binding := range bindings {
		if err := ch.ExchangeDeclare(string(binding.Exchange), "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", binding.Exchange, err)
		}
	}

	return &Publisher{bindings: bindings, logger: logger, ch: ch}, nil
}

// Publish emits body once per routing key in every binding. No delivery
// confirmation beyond broker defaults is expected.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	for _, binding := range p.bindings {
		for _, key := range binding.Keys {
			err := p.ch.PublishWithContext(ctx, string(binding.Exchange), key.Build(), false, false, amqp.Publishing{
				ContentType: "application/json",
				Body:        body,
			})
			if err != nil {
				return fmt.Errorf("publish to %s %s: %w", binding.Exchange, key, err)
			}
			p.logger.Debug("message published",
				zap.String("exchange", string(binding.Exchange)),
				zap.String("routing_key", key.Build()))
		}
	}
	return nil
}

// Close closes the publisher's channel.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if err := p.ch.Close(); err != nil {
		p.logger.Warn("error closing publisher channel", zap.Error(err))
	}
}
