package messaging

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// published records one publish seen by a fake channel.
type published struct {
	exchange   string
	routingKey string
	body       []byte
}

type declaredQueue struct {
	name                          string
	durable, autoDelete, exclusive bool
}

type queueBind struct {
	queue, key, exchange string
}

// fakeChannel implements Channel in memory.
type fakeChannel struct {
	mu sync.Mutex

	published   []published
	exchanges   []string
	queues      []declaredQueue
	bindings    []queueBind
	consumeCh   chan amqp.Delivery
	consumerTag string
	cancelled   bool
	closed      bool

	publishErr error
	declareErr error
	consumeErr error

	// serverQueueName substitutes a broker-assigned name for server-named
	// queues.
	serverQueueName string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		consumeCh:       make(chan amqp.Delivery, 64),
		serverQueueName: "amq.gen-fake",
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return f.declareErr
	}
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	actual := name
	if actual == "" {
		actual = f.serverQueueName
	}
	f.queues = append(f.queues, declaredQueue{name: actual, durable: durable, autoDelete: autoDelete, exclusive: exclusive})
	return amqp.Queue{Name: actual}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, queueBind{queue: name, key: key, exchange: exchange})
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	f.consumerTag = consumer
	return f.consumeCh, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	body := make([]byte, len(msg.Body))
	copy(body, msg.Body)
	f.published = append(f.published, published{exchange: exchange, routingKey: key, body: body})
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.consumeCh)
	}
	return nil
}

// deliver pushes one delivery into the consumer stream.
func (f *fakeChannel) deliver(body []byte) {
	f.consumeCh <- amqp.Delivery{Acknowledger: nopAcknowledger{}, Body: body}
}

// consumerStarted reports whether Consume was called on this channel.
func (f *fakeChannel) consumerStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumerTag != ""
}

func (f *fakeChannel) publishedMessages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.published))
	copy(out, f.published)
	return out
}

type nopAcknowledger struct{}

func (nopAcknowledger) Ack(tag uint64, multiple bool) error           { return nil }
func (nopAcknowledger) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (nopAcknowledger) Reject(tag uint64, requeue bool) error         { return nil }

// fakeConn implements Conn over fake channels.
type fakeConn struct {
	mu         sync.Mutex
	closed     bool
	channelErr error
	channels   []*fakeChannel
}

func (f *fakeConn) Channel() (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	ch := newFakeChannel()
	f.channels = append(f.channels, ch)
	return ch, nil
}

// lastChannel returns the most recently opened channel.
func (f *fakeConn) lastChannel() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) setChannelErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelErr = err
}
