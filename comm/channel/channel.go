// Package channel is an in-memory communication backend built on Watermill's
// gochannel Pub/Sub. It implements the same three roles and the same
// reply/finalize semantics as the AMQP binding, which makes it useful for
// tests and local development where no broker is available.
//
// Producers and consumers meet on a shared in-process bus selected by the
// Host configuration key, so unrelated tests can isolate themselves by
// using distinct namespaces.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/commflow/commflow/comm"
	"github.com/commflow/commflow/internal/codec"
	"github.com/commflow/commflow/internal/ids"
	"github.com/commflow/commflow/internal/logging"
)

// Protocol is the discriminator under which this backend registers.
const Protocol = "channel"

const (
	metaReplyTo       = "reply_to"
	metaCorrelationID = "correlation_id"
)

// ErrBusClosed is returned when an operation finds its bus subscription
// gone.
var ErrBusClosed = errors.New("channel: bus closed")

func init() { Register() }

// Register registers the in-memory backend for all three channel roles with
// the default registry.
func Register() {
	comm.Register(comm.RoleAsyncProducer, Protocol, buildAsyncProducer)
	comm.Register(comm.RoleRPCProducer, Protocol, buildRPCProducer)
	comm.Register(comm.RoleConsumer, Protocol, buildConsumer)
}

var (
	busesMu sync.Mutex
	buses   = make(map[string]*gochannel.GoChannel)
)

// busFor returns the process-wide bus for a namespace, creating it on first
// use. Buses are never closed; they live for the process like a broker
// would.
func busFor(namespace string, log logging.ServiceLogger) *gochannel.GoChannel {
	busesMu.Lock()
	defer busesMu.Unlock()

	if bus, ok := buses[namespace]; ok {
		return bus
	}
	bus := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		logging.NewWatermillAdapter(log),
	)
	buses[namespace] = bus
	return bus
}

// topic maps an exchange/routing-key pair onto a bus topic.
func topic(exchange, routingKey string) string {
	if exchange == "" {
		return routingKey
	}
	return exchange + "." + routingKey
}

func route(cfg comm.Config, opts []comm.PushOption) (string, error) {
	exchange, key := comm.ApplyPushOptions(opts).Route(cfg)
	if key == "" {
		return "", &comm.ConfigurationError{Key: "routing_key", Reason: "no routing key for push"}
	}
	return topic(exchange, key), nil
}

// AsyncProducer publishes messages onto the in-process bus.
type AsyncProducer struct {
	cfg     comm.Config
	log     logging.ServiceLogger
	metrics *comm.Metrics
	bus     *gochannel.GoChannel
}

func buildAsyncProducer(ctx context.Context, cfg comm.Config, opts comm.Options) (any, error) {
	log := opts.Logger.With(logging.LogFields{"protocol": Protocol})
	return &AsyncProducer{
		cfg:     cfg,
		log:     log,
		metrics: opts.Metrics,
		bus:     busFor(cfg.Host, log),
	}, nil
}

// Push publishes payload to the effective route. Messages published to a
// topic without subscribers are dropped, exactly as a broker drops messages
// routed to no queue.
func (p *AsyncProducer) Push(ctx context.Context, payload any, opts ...comm.PushOption) error {
	target, err := route(p.cfg, opts)
	if err != nil {
		return err
	}

	body, err := codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	if err := p.bus.Publish(target, message.NewMessage(watermill.NewUUID(), body)); err != nil {
		return fmt.Errorf("publishing message: %w", err)
	}
	p.metrics.IncPublished()
	return nil
}

// Close releases the producer. The shared bus stays up for other instances.
func (p *AsyncProducer) Close() error { return nil }

// RPCProducer publishes requests and blocks for correlated replies, which
// arrive on a private reply topic subscribed at construction.
type RPCProducer struct {
	cfg        comm.Config
	log        logging.ServiceLogger
	metrics    *comm.Metrics
	bus        *gochannel.GoChannel
	replyTopic string
	cancel     context.CancelFunc

	mu      sync.Mutex
	pending map[string]chan []byte

	done chan struct{}
}

func buildRPCProducer(ctx context.Context, cfg comm.Config, opts comm.Options) (any, error) {
	log := opts.Logger.With(logging.LogFields{"protocol": Protocol})
	bus := busFor(cfg.Host, log)

	// The subscription must outlive the construction context; Close owns
	// its lifetime.
	subCtx, cancel := context.WithCancel(context.Background())
	replyTopic := "commflow.reply." + uuid.NewString()
	replies, err := bus.Subscribe(subCtx, replyTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing reply topic: %w", err)
	}

	p := &RPCProducer{
		cfg:        cfg,
		log:        log,
		metrics:    opts.Metrics,
		bus:        bus,
		replyTopic: replyTopic,
		cancel:     cancel,
		pending:    make(map[string]chan []byte),
		done:       make(chan struct{}),
	}
	go p.dispatch(replies)
	return p, nil
}

func (p *RPCProducer) dispatch(replies <-chan *message.Message) {
	defer close(p.done)
	for msg := range replies {
		msg.Ack()
		p.resolve(msg.Metadata.Get(metaCorrelationID), msg.Payload)
	}
}

func (p *RPCProducer) resolve(token string, body []byte) {
	p.mu.Lock()
	future, ok := p.pending[token]
	if ok {
		delete(p.pending, token)
	}
	p.mu.Unlock()

	if !ok {
		p.log.Debug("uncorrelated reply dropped", logging.LogFields{"correlation_id": token})
		return
	}
	future <- body
}

// Push publishes payload with a fresh correlation token and blocks until the
// matching reply arrives or ctx is cancelled. Multiple pushes may be in
// flight at once; each holds its own one-shot future.
func (p *RPCProducer) Push(ctx context.Context, payload any, opts ...comm.PushOption) (any, error) {
	target, err := route(p.cfg, opts)
	if err != nil {
		return nil, err
	}

	body, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	token := ids.NewToken()
	future := make(chan []byte, 1)
	p.mu.Lock()
	p.pending[token] = future
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, token)
		p.mu.Unlock()
	}()

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set(metaReplyTo, p.replyTopic)
	msg.Metadata.Set(metaCorrelationID, token)
	if err := p.bus.Publish(target, msg); err != nil {
		return nil, fmt.Errorf("publishing request: %w", err)
	}
	p.metrics.IncPublished()

	select {
	case raw := <-future:
		resp, err := comm.DecodeResponse(raw)
		if err != nil {
			return nil, err
		}
		if err := resp.Check(); err != nil {
			return nil, err
		}
		return resp.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrBusClosed
	}
}

// Close drops the reply subscription, failing any in-flight pushes.
func (p *RPCProducer) Close() error {
	p.cancel()
	return nil
}

// EventDrivenConsumer subscribes to a queue topic and feeds messages to the
// bound processor. Messages are handled one at a time; an unacknowledged
// message blocks the bus from sending the next one, mirroring the AMQP
// binding's prefetch window.
type EventDrivenConsumer struct {
	cfg      comm.Config
	proc     comm.Processor
	log      logging.ServiceLogger
	metrics  *comm.Metrics
	bus      *gochannel.GoChannel
	messages <-chan *message.Message
	cancel   context.CancelFunc
}

func buildConsumer(ctx context.Context, cfg comm.Config, opts comm.Options) (any, error) {
	if opts.Processor == nil {
		return nil, &comm.ConfigurationError{Key: "processor", Reason: "consumers require a processor function"}
	}

	log := opts.Logger.With(logging.LogFields{"protocol": Protocol, "queue": cfg.Queue})
	bus := busFor(cfg.Host, log)

	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := bus.Subscribe(subCtx, cfg.Queue)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing queue topic: %w", err)
	}

	return &EventDrivenConsumer{
		cfg:      cfg,
		proc:     opts.Processor,
		log:      log,
		metrics:  opts.Metrics,
		bus:      bus,
		messages: messages,
		cancel:   cancel,
	}, nil
}

// Run consumes messages until ctx is cancelled. A message already in hand is
// fully processed, replied to, and settled before Run returns.
func (c *EventDrivenConsumer) Run(ctx context.Context) error {
	c.log.Info("consuming", nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.messages:
			if !ok {
				return ErrBusClosed
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *EventDrivenConsumer) handle(ctx context.Context, msg *message.Message) {
	c.metrics.IncConsumed()

	resp := c.process(ctx, msg.Payload)

	if replyTo := msg.Metadata.Get(metaReplyTo); replyTo != "" {
		c.reply(replyTo, msg.Metadata.Get(metaCorrelationID), resp)
	}

	if resp.Finalize() {
		msg.Ack()
	} else {
		// Nacked messages are resent by the bus; retry stays
		// transport-driven here just like with a broker.
		msg.Nack()
	}
}

func (c *EventDrivenConsumer) process(ctx context.Context, body []byte) *comm.Response {
	var payload any
	if err := codec.Unmarshal(body, &payload); err != nil {
		c.metrics.IncProcessorFailures()
		c.log.Error("undecodable message body", err, nil)
		return &comm.Response{Status: comm.StatusBadRequest, Payload: err.Error()}
	}

	resp := comm.InvokeProcessor(ctx, c.proc, payload)
	if resp.Check() != nil {
		c.metrics.IncProcessorFailures()
	}
	return resp
}

func (c *EventDrivenConsumer) reply(replyTo, token string, resp *comm.Response) {
	body, err := comm.EncodeResponse(resp)
	if err != nil {
		c.log.Error("encoding response envelope", err, nil)
		return
	}

	reply := message.NewMessage(watermill.NewUUID(), body)
	reply.Metadata.Set(metaCorrelationID, token)
	if err := c.bus.Publish(replyTo, reply); err != nil {
		c.log.Error("publishing response", err, logging.LogFields{"reply_to": replyTo})
		return
	}
	c.metrics.IncReplies()
}

// Close drops the queue subscription. An in-progress Run observes the closed
// message channel and returns ErrBusClosed.
func (c *EventDrivenConsumer) Close() error {
	c.cancel()
	return nil
}
