package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscriber owns a durable queue bound to its routing keys. A background
// consumer goroutine drains broker deliveries into an in-process unbounded
// buffer; Consume drains that buffer without blocking. Deliveries are
// acknowledged as soon as they are buffered, so the fabric is at-most-once:
// a command lost here shows up as an absent status change and can be
// reissued.
type Subscriber struct {
	conn     *RobustConnection
	bindings []Binding
	queueCfg QueueConfig
	logger   *zap.Logger

	mu              sync.Mutex
	ch              Channel
	consumerTag     string
	actualQueueName string
	shuttingDown    bool
	reinitCh        chan struct{}

	bufMu  sync.Mutex
	buffer [][]byte

	done chan struct{}
}

// NewSubscriber declares the queue, binds it, and starts consuming. The
// subscriber registers with the connection's restored hook so a recovered
// connection re-establishes the consumer automatically.
func NewSubscriber(conn *RobustConnection, bindings []Binding, queueCfg QueueConfig, logger *zap.Logger) (*Subscriber, error) {
	s := &Subscriber{
		conn:     conn,
		bindings: bindings,
		queueCfg: queueCfg,
		logger:   logger,
		reinitCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	streamEnded, err := s.initChannel()
	if err != nil {
		return nil, err
	}

	conn.OnRestored(s.requestReinit)

	go s.superviseLoop(streamEnded)
	return s, nil
}

// initChannel (re)declares the queue, binds it, and starts the consumer.
// Declaration is idempotent; for server-named queues the actual name comes
// from the broker reply. The returned channel closes when the delivery
// stream ends.
func (s *Subscriber) initChannel() (<-chan struct{}, error) {
	c, err := s.conn.Get()
	if err != nil {
		return nil, fmt.Errorf("subscriber connection: %w", err)
	}
	ch, err := c.Channel()
	if err != nil {
		return nil, fmt.Errorf("subscriber channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	for _, binding := range s.bindings {
		if err := ch.ExchangeDeclare(string(binding.Exchange), "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", binding.Exchange, err)
		}
	}

	queue, err := ch.QueueDeclare(s.queueCfg.Name, s.queueCfg.Durable, s.queueCfg.AutoDelete, s.queueCfg.Exclusive, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %q: %w", s.queueCfg.Name, err)
	}

	for _, binding := range s.bindings {
		for _, key := range binding.Keys {
			if err := ch.QueueBind(queue.Name, key.Build(), string(binding.Exchange), false, nil); err != nil {
				ch.Close()
				return nil, fmt.Errorf("bind queue %q to %s %s: %w", queue.Name, binding.Exchange, key, err)
			}
			s.logger.Info("queue bound",
				zap.String("queue", queue.Name),
				zap.String("exchange", string(binding.Exchange)),
				zap.String("routing_key", key.Build()))
		}
	}

	tag := "sub-" + uuid.NewString()
	deliveries, err := ch.Consume(queue.Name, tag, false, s.queueCfg.Exclusive, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("start consuming from %q: %w", queue.Name, err)
	}

	s.mu.Lock()
	s.ch = ch
	s.consumerTag = tag
	s.actualQueueName = queue.Name
	s.mu.Unlock()

	streamEnded := make(chan struct{})
	go func() {
		defer close(streamEnded)
		for d := range deliveries {
			body := make([]byte, len(d.Body))
			copy(body, d.Body)
			s.bufMu.Lock()
			s.buffer = append(s.buffer, body)
			s.bufMu.Unlock()
			if err := d.Ack(false); err != nil {
				s.logger.Warn("failed to ack delivery", zap.Error(err))
			}
		}
	}()
	return streamEnded, nil
}

// requestReinit asks the supervise loop to rebuild the channel. Called from
// the connection's restored hook.
func (s *Subscriber) requestReinit() {
	select {
	case s.reinitCh <- struct{}{}:
	default:
	}
}

// superviseLoop keeps the consumer alive: when the delivery stream ends
// (channel failure) or a reinit is requested, it rebuilds the channel and
// resumes consuming from the same durable queue.
func (s *Subscriber) superviseLoop(streamEnded <-chan struct{}) {
	defer close(s.done)

	for {
		if streamEnded != nil {
			select {
			case <-streamEnded:
			case <-s.reinitCh:
			}
		}

		s.mu.Lock()
		shuttingDown := s.shuttingDown
		s.mu.Unlock()
		if shuttingDown {
			return
		}

		s.logger.Warn("consumer stream ended, re-initialising",
			zap.String("queue", s.ActualQueueName()))
		next, err := s.initChannel()
		if err != nil {
			s.logger.Warn("subscriber re-initialisation failed, retrying", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-s.reinitCh:
			}
			streamEnded = nil
			continue
		}
		streamEnded = next
	}
}

// Consume drains the in-process buffer and returns the batch, possibly empty.
// It never blocks. FIFO order holds within a single routing key.
func (s *Subscriber) Consume() [][]byte {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if len(s.buffer) == 0 {
		return nil
	}
	batch := s.buffer
	s.buffer = nil
	return batch
}

// ActualQueueName returns the broker-assigned queue name.
func (s *Subscriber) ActualQueueName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualQueueName
}

// Shutdown cancels the consumer, closes the channel, and joins the consumer
// goroutine with a bounded wait.
func (s *Subscriber) Shutdown() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	ch := s.ch
	tag := s.consumerTag
	s.mu.Unlock()

	if ch != nil {
		if err := ch.Cancel(tag, false); err != nil {
			s.logger.Debug("error cancelling consumer", zap.Error(err))
		}
		if err := ch.Close(); err != nil {
			s.logger.Debug("error closing subscriber channel", zap.Error(err))
		}
	}

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for consumer goroutine to stop")
	}
	s.logger.Info("subscriber shut down", zap.String("queue", s.ActualQueueName()))
}
