package messaging

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/models"
)

// CommandPublisher serializes commands onto the fabric.
type CommandPublisher struct {
	pub    *Publisher
	logger *zap.Logger
}

// NewCommandPublisher publishes commands to key on the internal exchange.
func NewCommandPublisher(conn *RobustConnection, key RoutingKey, logger *zap.Logger) (*CommandPublisher, error) {
	pub, err := NewPublisher(conn, []Binding{{Exchange: ExchangeInternalServiceEvents, Keys: []RoutingKey{key}}}, logger)
	if err != nil {
		return nil, err
	}
	return &CommandPublisher{pub: pub, logger: logger}, nil
}

func (p *CommandPublisher) Publish(ctx context.Context, cmd models.Command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, body)
}

func (p *CommandPublisher) Close() { p.pub.Close() }

// CommandConsumer decodes commands from a subscriber's buffer. A body that
// fails to decode has already been acknowledged; it is logged and dropped.
type CommandConsumer struct {
	sub    *Subscriber
	logger *zap.Logger
}

// NewCommandConsumer consumes commands for one service from its durable
// command queue.
func NewCommandConsumer(conn *RobustConnection, key RoutingKey, queueCfg QueueConfig, logger *zap.Logger) (*CommandConsumer, error) {
	sub, err := NewSubscriber(conn, []Binding{{Exchange: ExchangeInternalServiceEvents, Keys: []RoutingKey{key}}}, queueCfg, logger)
	if err != nil {
		return nil, err
	}
	return &CommandConsumer{sub: sub, logger: logger}, nil
}

// Consume drains buffered commands without blocking.
func (c *CommandConsumer) Consume() []models.Command {
	bodies := c.sub.Consume()
	commands := make([]models.Command, 0, len(bodies))
	for _, body := range bodies {
		var cmd models.Command
		if err := json.Unmarshal(body, &cmd); err != nil {
			c.logger.Warn("discarding malformed command", zap.Error(err), zap.ByteString("body", body))
			continue
		}
		commands = append(commands, cmd)
	}
	return commands
}

func (c *CommandConsumer) Shutdown() { c.sub.Shutdown() }

// StatusPublisher serializes status messages onto the fabric.
type StatusPublisher struct {
	pub    *Publisher
	logger *zap.Logger
}

// NewStatusPublisher publishes status to key on the internal exchange.
func NewStatusPublisher(conn *RobustConnection, key RoutingKey, logger *zap.Logger) (*StatusPublisher, error) {
	pub, err := NewPublisher(conn, []Binding{{Exchange: ExchangeInternalServiceEvents, Keys: []RoutingKey{key}}}, logger)
	if err != nil {
		return nil, err
	}
	return &StatusPublisher{pub: pub, logger: logger}, nil
}

func (p *StatusPublisher) Publish(ctx context.Context, status models.InternalStatusInfo) error {
	body, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, body)
}

func (p *StatusPublisher) Close() { p.pub.Close() }

// StatusConsumer decodes status messages from a subscriber's buffer.
type StatusConsumer struct {
	sub    *Subscriber
	logger *zap.Logger
}

// NewStatusConsumer consumes status messages matching key, typically the
// wildcard key covering every entity.
func NewStatusConsumer(conn *RobustConnection, key RoutingKey, queueCfg QueueConfig, logger *zap.Logger) (*StatusConsumer, error) {
	sub, err := NewSubscriber(conn, []Binding{{Exchange: ExchangeInternalServiceEvents, Keys: []RoutingKey{key}}}, queueCfg, logger)
	if err != nil {
		return nil, err
	}
	return &StatusConsumer{sub: sub, logger: logger}, nil
}

// Consume drains buffered status messages without blocking.
func (c *StatusConsumer) Consume() []models.InternalStatusInfo {
	bodies := c.sub.Consume()
	statuses := make([]models.InternalStatusInfo, 0, len(bodies))
	for _, body := range bodies {
		var status models.InternalStatusInfo
		if err := json.Unmarshal(body, &status); err != nil {
			c.logger.Warn("discarding malformed status", zap.Error(err), zap.ByteString("body", body))
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (c *StatusConsumer) Shutdown() { c.sub.Shutdown() }

// LogConsumer decodes log messages from a subscriber's buffer.
type LogConsumer struct {
	sub    *Subscriber
	logger *zap.Logger
}

// NewLogConsumer consumes log messages from every entity.
func NewLogConsumer(conn *RobustConnection, queueCfg QueueConfig, logger *zap.Logger) (*LogConsumer, error) {
	sub, err := NewSubscriber(conn, []Binding{{Exchange: ExchangeInternalServiceEvents, Keys: []RoutingKey{AllLogsKey()}}}, queueCfg, logger)
	if err != nil {
		return nil, err
	}
	return &LogConsumer{sub: sub, logger: logger}, nil
}

// Consume drains buffered log messages without blocking.
func (c *LogConsumer) Consume() []models.LogMessage {
	bodies := c.sub.Consume()
	messages := make([]models.LogMessage, 0, len(bodies))
	for _, body := range bodies {
		var msg models.LogMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			c.logger.Warn("discarding malformed log message", zap.Error(err), zap.ByteString("body", body))
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (c *LogConsumer) Shutdown() { c.sub.Shutdown() }
