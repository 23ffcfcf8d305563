package amqp

import (
	"context"
	"fmt"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/commflow/commflow/comm"
	"github.com/commflow/commflow/internal/codec"
	"github.com/commflow/commflow/internal/ids"
	"github.com/commflow/commflow/internal/logging"
)

// AsyncProducer publishes messages without waiting for a remote outcome.
type AsyncProducer struct {
	h *handler
}

func buildAsyncProducer(ctx context.Context, cfg comm.Config, opts comm.Options) (any, error) {
	h, err := newHandler(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &AsyncProducer{h: h}, nil
}

// Push serializes payload and publishes it to the effective route. Only
// connection-level failures are reported; the remote outcome never is.
func (p *AsyncProducer) Push(ctx context.Context, payload any, opts ...comm.PushOption) error {
	exchange, key, err := p.h.route(opts)
	if err != nil {
		return err
	}
	if err := p.h.declareQueue(key); err != nil {
		return err
	}

	body, err := codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	err = p.h.publish(ctx, exchange, key, amqp091.Publishing{
		ContentType: contentType,
		MessageId:   ids.NewToken(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publishing message: %w", err)
	}

	p.h.metrics.IncPublished()
	p.h.log.Debug("message published", logging.LogFields{"routing_key": key})
	return nil
}

// Close tears down the producer's broker session.
func (p *AsyncProducer) Close() error { return p.h.Close() }

// RPCProducer publishes requests and blocks for correlated replies. Replies
// arrive on a private exclusive queue; each in-flight request holds a
// one-shot future keyed by its correlation token, so multiple pushes may be
// outstanding at once and replies cannot be confused across calls.
type RPCProducer struct {
	h          *handler
	replyQueue string

	mu      sync.Mutex
	pending map[string]chan []byte

	// done is closed when the reply dispatcher exits, which only happens
	// when the session goes away.
	done chan struct{}
}

func buildRPCProducer(ctx context.Context, cfg comm.Config, opts comm.Options) (any, error) {
	h, err := newHandler(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	// Private server-named reply queue, exclusive to this session.
	queue, err := h.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("declaring reply queue: %w", err)
	}

	deliveries, err := h.ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("consuming reply queue: %w", err)
	}

	p := &RPCProducer{
		h:          h,
		replyQueue: queue.Name,
		pending:    make(map[string]chan []byte),
		done:       make(chan struct{}),
	}
	go p.dispatch(deliveries)
	return p, nil
}

func (p *RPCProducer) dispatch(deliveries <-chan amqp091.Delivery) {
	defer close(p.done)
	for d := range deliveries {
		p.resolve(d.CorrelationId, d.Body)
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
		p.h.log.Debug("uncorrelated reply dropped", logging.LogFields{"correlation_id": token})
		return
	}
	future <- body
}

func (p *RPCProducer) register(token string) chan []byte {
	future := make(chan []byte, 1)
	p.mu.Lock()
	p.pending[token] = future
	p.mu.Unlock()
	return future
}

func (p *RPCProducer) unregister(token string) {
	p.mu.Lock()
	delete(p.pending, token)
	p.mu.Unlock()
}

// Push publishes payload with a fresh correlation token and blocks until the
// matching reply arrives, ctx is cancelled, or the session dies. On a
// success status the reply payload is returned; 4xx and 5xx statuses become
// CriticalError and TransientError respectively.
func (p *RPCProducer) Push(ctx context.Context, payload any, opts ...comm.PushOption) (any, error) {
	exchange, key, err := p.h.route(opts)
	if err != nil {
		return nil, err
	}
	if err := p.h.declareQueue(key); err != nil {
		return nil, err
	}

	body, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	token := ids.NewToken()
	future := p.register(token)
	defer p.unregister(token)

	err = p.h.publish(ctx, exchange, key, amqp091.Publishing{
		ContentType:   contentType,
		CorrelationId: token,
		ReplyTo:       p.replyQueue,
		MessageId:     ids.NewToken(),
		Body:          body,
	})
	if err != nil {
		return nil, fmt.Errorf("publishing request: %w", err)
	}

	p.h.metrics.IncPublished()
	p.h.log.Debug("request published, awaiting reply",
		logging.LogFields{"routing_key": key, "correlation_id": token})

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
		return nil, ErrSessionClosed
	}
}

// Close tears down the producer's broker session, releasing the reply queue
// and failing any in-flight pushes.
func (p *RPCProducer) Close() error { return p.h.Close() }
