package messaging

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrConnectionUnhealthy is returned by Get when the broker connection is
// down or idle-stale. Callers may retry after the connection is restored.
var ErrConnectionUnhealthy = errors.New("broker connection unhealthy")

// Channel is the subset of AMQP channel operations the fabric uses.
// *amqp.Channel satisfies it; tests substitute fakes.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Conn is the subset of AMQP connection operations the fabric uses.
type Conn interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// DialFunc establishes one broker connection attempt.
type DialFunc func(cfg ConnectionConfig) (Conn, error)

// ConnectionConfig holds broker connection parameters.
type ConnectionConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	VirtualHost string

	// TLSEnabled turns on amqps with hostname verification against
	// TLSHostname. The hostname is stored separately from the dial target so
	// reconnects keep verifying against the originally configured name.
	TLSEnabled  bool
	TLSHostname string

	Heartbeat time.Duration
}

func (c ConnectionConfig) uri() string {
	scheme := "amqp"
	if c.TLSEnabled {
		scheme = "amqps"
	}
	u := amqp.URI{
		Scheme:   scheme,
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    c.VirtualHost,
	}
	return u.String()
}

// amqpConn adapts *amqp.Connection to the Conn interface.
type amqpConn struct {
	conn *amqp.Connection
}

func (a *amqpConn) Channel() (Channel, error) { return a.conn.Channel() }
func (a *amqpConn) IsClosed() bool            { return a.conn.IsClosed() }
func (a *amqpConn) Close() error              { return a.conn.Close() }

// dialAMQP is the default DialFunc. A fresh TLS config is constructed per
// attempt so a stale session state never carries across reconnects.
func dialAMQP(cfg ConnectionConfig) (Conn, error) {
	amqpCfg := amqp.Config{Heartbeat: cfg.Heartbeat}
	if cfg.TLSEnabled {
		if cfg.TLSHostname == "" {
			return nil, errors.New("tls enabled but no server hostname configured")
		}
		amqpCfg.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSHostname,
		}
	}
	conn, err := amqp.DialConfig(cfg.uri(), amqpCfg)
	if err != nil {
		return nil, err
	}
	return &amqpConn{conn: conn}, nil
}

// RobustConnection keeps a broker connection healthy. It performs one
// synchronous connect on construction (failing fast), probes health on every
// Get including a trial channel open to catch idle-stale connections, and
// runs a background reconnect loop with exponential backoff and jitter.
type RobustConnection struct {
	cfg    ConnectionConfig
	dial   DialFunc
	logger *zap.Logger

	maxReconnectAttempts int
	reconnectDelay       time.Duration

	mu           sync.Mutex
	conn         Conn
	reconnecting bool
	closed       bool
	onLost       []func()
	onRestored   []func()

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ConnectionOption customizes a RobustConnection.
type ConnectionOption func(*RobustConnection)

// WithDialFunc overrides how connection attempts are made. Used by tests.
func WithDialFunc(dial DialFunc) ConnectionOption {
	return func(r *RobustConnection) { r.dial = dial }
}

// WithMaxReconnectAttempts bounds the reconnect loop.
func WithMaxReconnectAttempts(n int) ConnectionOption {
	return func(r *RobustConnection) { r.maxReconnectAttempts = n }
}

// WithReconnectDelay sets the initial backoff delay.
func WithReconnectDelay(d time.Duration) ConnectionOption {
	return func(r *RobustConnection) { r.reconnectDelay = d }
}

const maxReconnectBackoff = 30 * time.Second

// NewRobustConnection connects synchronously and fails fast if the broker is
// unreachable.
func NewRobustConnection(cfg ConnectionConfig, logger *zap.Logger, opts ...ConnectionOption) (*RobustConnection, error) {
	r := &RobustConnection{
		cfg:                  cfg,
		dial:                 dialAMQP,
		logger:               logger,
		maxReconnectAttempts: 5,
		reconnectDelay:       time.Second,
		stopCh:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	conn, err := r.dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("establish initial broker connection: %w", err)
	}
	r.conn = conn
	logger.Info("broker connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Duration("heartbeat", cfg.Heartbeat))
	return r, nil
}

// OnLost registers a callback fired once when the connection is lost.
func (r *RobustConnection) OnLost(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLost = append(r.onLost, fn)
}

// OnRestored registers a callback fired once after a successful reconnect.
// Subscribers register here so they re-declare their queues instead of
// silently stalling.
func (r *RobustConnection) OnRestored(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRestored = append(r.onRestored, fn)
}

// Get returns the connection after probing its health. The probe opens and
// closes a throwaway channel: a connection that still reports open but cannot
// open channels is idle-stale and forces reconnection.
func (r *RobustConnection) Get() (Conn, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: connection closed", ErrConnectionUnhealthy)
	}
	conn := r.conn
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		r.startReconnect()
		return nil, fmt.Errorf("%w: connection not open", ErrConnectionUnhealthy)
	}

	trial, err := conn.Channel()
	if err != nil {
		r.logger.Warn("trial channel open failed, connection is idle-stale", zap.Error(err))
		r.startReconnect()
		return nil, fmt.Errorf("%w: trial channel open failed: %v", ErrConnectionUnhealthy, err)
	}
	if err := trial.Close(); err != nil {
		r.logger.Warn("trial channel close failed", zap.Error(err))
	}
	return conn, nil
}

// IsHealthy reports whether the connection currently passes the health probe.
func (r *RobustConnection) IsHealthy() bool {
	r.mu.Lock()
	conn := r.conn
	closed := r.closed
	r.mu.Unlock()
	if closed || conn == nil || conn.IsClosed() {
		return false
	}
	trial, err := conn.Channel()
	if err != nil {
		return false
	}
	trial.Close()
	return true
}

// startReconnect launches the reconnect loop if one is not already running.
func (r *RobustConnection) startReconnect() {
	r.mu.Lock()
	if r.reconnecting || r.closed {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.reconnectLoop()
}

func (r *RobustConnection) reconnectLoop() {
	defer r.wg.Done()

	r.logger.Warn("broker connection lost, starting reconnection")
	r.fireCallbacks(r.snapshotCallbacks(&r.onLost))

	delay := r.reconnectDelay
	for attempt := 1; attempt <= r.maxReconnectAttempts; attempt++ {
		select {
		case <-r.stopCh:
			r.finishReconnect()
			return
		default:
		}

		r.logger.Info("reconnection attempt",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxReconnectAttempts))

		conn, err := r.dial(r.cfg)
		if err == nil {
			r.mu.Lock()
			if r.closed {
				r.mu.Unlock()
				conn.Close()
				r.finishReconnect()
				return
			}
			r.conn = conn
			r.reconnecting = false
			r.mu.Unlock()

			r.logger.Info("reconnection successful", zap.Int("attempts", attempt))
			r.fireCallbacks(r.snapshotCallbacks(&r.onRestored))
			return
		}
		r.logger.Warn("reconnection attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < r.maxReconnectAttempts {
			jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-r.stopCh:
				r.finishReconnect()
				return
			case <-time.After(delay + jitter):
			}
			delay = min(delay*3/2, maxReconnectBackoff)
		}
	}

	r.logger.Error("failed to reconnect", zap.Int("max_attempts", r.maxReconnectAttempts))
	r.finishReconnect()
}

func (r *RobustConnection) finishReconnect() {
	r.mu.Lock()
	r.reconnecting = false
	r.mu.Unlock()
}

func (r *RobustConnection) snapshotCallbacks(list *[]func()) []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]func(), len(*list))
	copy(out, *list)
	return out
}

// fireCallbacks runs callbacks outside the lock; panics and errors inside
// them must never take down the reconnect loop.
func (r *RobustConnection) fireCallbacks(callbacks []func()) {
	for _, fn := range callbacks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("connection callback panicked", zap.Any("panic", rec))
				}
			}()
			fn()
		}()
	}
}

// Close shuts the connection down and cancels any in-flight reconnection.
func (r *RobustConnection) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.conn = nil
	close(r.stopCh)
	r.mu.Unlock()

	var err error
	if conn != nil && !conn.IsClosed() {
		err = conn.Close()
	}
	r.wg.Wait()
	r.logger.Info("broker connection closed")
	return err
}
