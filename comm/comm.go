// Package comm defines the abstract communication channels used between the
// components of a distributed orchestration platform, together with the
// registry that resolves them to concrete backends at construction time.
//
// Three roles are exposed: AsyncProducer (fire-and-forget), RPCProducer
// (request/response with correlated replies), and EventDrivenConsumer (a
// long-running message processor). Client code addresses the roles only; the
// "protocol" key of the configuration selects the backend implementation,
// such as the AMQP binding in comm/amqp or the in-memory binding in
// comm/channel.
package comm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/commflow/commflow/internal/logging"
)

// AsyncProducer pushes messages without waiting for any remote outcome.
type AsyncProducer interface {
	// Push publishes payload to the effective route (per-call option,
	// falling back to the instance default). It returns nothing about the
	// remote operation; only connection-level failures propagate.
	Push(ctx context.Context, payload any, opts ...PushOption) error

	io.Closer
}

// RPCProducer pushes messages and blocks until the correlated reply arrives.
type RPCProducer interface {
	// Push publishes payload and waits for the reply matching this call's
	// correlation token. On a success status the deserialized reply payload
	// is returned; on 4xx/5xx statuses a CriticalError or TransientError is
	// returned. The wait is unbounded unless ctx carries a deadline.
	Push(ctx context.Context, payload any, opts ...PushOption) (any, error)

	io.Closer
}

// EventDrivenConsumer pulls messages and feeds them to a processor function.
type EventDrivenConsumer interface {
	// Run consumes messages until ctx is cancelled. Cancellation is
	// honoured between messages and while waiting for the next one; a
	// message already received is fully processed (replied to and
	// acknowledged) before Run returns.
	Run(ctx context.Context) error

	io.Closer
}

// Processor handles one consumed message. It may return a raw value, which
// the consumer wraps into a 200 Response, or a *Response to control status
// and finalize behaviour explicitly. Returned errors from the
// CommunicationError taxonomy keep their status; any other error becomes a
// 500 Response. Additional processor state is bound with a closure.
type Processor func(ctx context.Context, payload any) (any, error)

// InvokeProcessor is the single call-through used by every backend, keeping
// consumer semantics uniform: whatever the processor does, the result is a
// Response envelope and the consumer loop survives. A panicking processor is
// recovered and reported as a 500 Response.
func InvokeProcessor(ctx context.Context, proc Processor, payload any) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = &Response{Status: StatusInternalError, Payload: fmt.Sprint(r)}
		}
	}()

	result, err := proc(ctx, payload)
	if err != nil {
		if commErr, ok := AsCommunicationError(err); ok {
			reason := commErr.Reason()
			if reason == nil {
				reason = commErr.Error()
			}
			return &Response{Status: commErr.HTTPStatus(), Payload: reason}
		}
		return &Response{Status: StatusInternalError, Payload: err.Error()}
	}

	switch out := result.(type) {
	case *Response:
		if out == nil {
			return &Response{Status: StatusOK}
		}
		return out
	case Response:
		return &out
	default:
		return &Response{Status: StatusOK, Payload: result}
	}
}

// PushOptions carries the per-call routing overrides of a Push.
type PushOptions struct {
	Exchange   *string
	RoutingKey *string
}

// PushOption overrides a routing default for a single Push call.
type PushOption func(*PushOptions)

// WithExchange overrides the instance's default exchange for one call.
func WithExchange(name string) PushOption {
	return func(o *PushOptions) { o.Exchange = &name }
}

// WithRoutingKey overrides the instance's default routing key for one call.
func WithRoutingKey(key string) PushOption {
	return func(o *PushOptions) { o.RoutingKey = &key }
}

// ApplyPushOptions folds opts into a PushOptions value.
func ApplyPushOptions(opts []PushOption) PushOptions {
	var applied PushOptions
	for _, opt := range opts {
		opt(&applied)
	}
	return applied
}

// Route resolves the effective exchange and routing key: per-call override
// first, then the instance defaults from cfg.
func (o PushOptions) Route(cfg Config) (exchange, routingKey string) {
	exchange, routingKey = cfg.Exchange, cfg.RoutingKey
	if o.Exchange != nil {
		exchange = *o.Exchange
	}
	if o.RoutingKey != nil {
		routingKey = *o.RoutingKey
	}
	return exchange, routingKey
}

// RunConsumer runs c until ctx is cancelled, swallowing the cancellation and
// logging any other escaping error instead of propagating it. It is meant to
// be used directly as a goroutine body:
//
//	go comm.RunConsumer(ctx, consumer, logger)
func RunConsumer(ctx context.Context, c EventDrivenConsumer, log logging.ServiceLogger) {
	if log == nil {
		log = logging.Nop()
	}
	err := c.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	log.Error("consumer terminated unexpectedly", err, nil)
}
