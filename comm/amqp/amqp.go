// Package amqp is the reference communication backend, binding the abstract
// channel roles to an AMQP 0.9.1 broker. It implements fire-and-forget
// publishing, correlation-tracked RPC over an exclusive reply queue, and an
// acknowledging consumer loop with a prefetch window of one message.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v5"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/commflow/commflow/comm"
	"github.com/commflow/commflow/internal/logging"
)

// Protocol is the discriminator under which this backend registers.
const Protocol = "amqp"

const contentType = "application/json"

// ErrSessionClosed is returned when an operation finds the broker session
// torn down underneath it.
var ErrSessionClosed = errors.New("amqp: session closed")

// DialFactory allows overriding the broker connection creation for testing.
var DialFactory = func(uri string) (*amqp091.Connection, error) {
	return amqp091.Dial(uri)
}

func init() { Register() }

// Register registers the AMQP backend for all three channel roles with the
// default registry. It is called from init, so a blank import of this
// package is enough; calling it again is harmless.
func Register() {
	comm.Register(comm.RoleAsyncProducer, Protocol, buildAsyncProducer)
	comm.Register(comm.RoleRPCProducer, Protocol, buildRPCProducer)
	comm.Register(comm.RoleConsumer, Protocol, buildConsumer)
}

// brokerChannel is the part of *amqp091.Channel this backend uses. Tests
// substitute a fake.
type brokerChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// handler owns one broker session: a connection and a channel, created at
// role construction and exclusively owned by that role instance. Sessions
// are not safe for concurrent use; producers serialise publishing through
// pubMu.
type handler struct {
	cfg     comm.Config
	log     logging.ServiceLogger
	metrics *comm.Metrics

	conn  *amqp091.Connection
	ch    brokerChannel
	pubMu sync.Mutex
}

func newHandler(ctx context.Context, cfg comm.Config, opts comm.Options) (*handler, error) {
	if cfg.Host == "" {
		return nil, &comm.ConfigurationError{Key: "host", Reason: "missing broker address"}
	}
	if cfg.User == "" || cfg.Password == "" {
		return nil, &comm.ConfigurationError{Key: "user", Reason: "missing broker credentials"}
	}

	log := opts.Logger.With(logging.LogFields{"protocol": Protocol, "host": cfg.Host})

	conn, err := backoff.Retry(ctx,
		func() (*amqp091.Connection, error) {
			return DialFactory(cfg.URI())
		},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(cfg.ConnectAttempts)),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	log.Debug("broker session established", nil)

	return &handler{
		cfg:     cfg,
		log:     log,
		metrics: opts.Metrics,
		conn:    conn,
		ch:      ch,
	}, nil
}

// declareQueue ensures the target queue exists before publishing or
// consuming. Queues are non-durable; auto-delete follows the configuration.
func (h *handler) declareQueue(name string) error {
	_, err := h.ch.QueueDeclare(name, false, h.cfg.AutoDelete, false, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue %q: %w", name, err)
	}
	return nil
}

func (h *handler) publish(ctx context.Context, exchange, key string, pub amqp091.Publishing) error {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	return h.ch.PublishWithContext(ctx, exchange, key, false, false, pub)
}

// Close tears down the broker session. The role instance is unusable
// afterwards.
func (h *handler) Close() error {
	var errs []error
	if h.ch != nil {
		if err := h.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if h.conn != nil && !h.conn.IsClosed() {
		if err := h.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// route resolves the effective exchange and routing key for one push.
func (h *handler) route(opts []comm.PushOption) (string, string, error) {
	exchange, key := comm.ApplyPushOptions(opts).Route(h.cfg)
	if key == "" {
		return "", "", &comm.ConfigurationError{Key: "routing_key", Reason: "no routing key for push"}
	}
	return exchange, key, nil
}
