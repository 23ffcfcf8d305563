package amqp

import (
	"context"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/commflow/commflow/comm"
	"github.com/commflow/commflow/internal/codec"
	"github.com/commflow/commflow/internal/logging"
)

// EventDrivenConsumer pulls messages from a queue and feeds them to the
// bound processor. The channel runs with a prefetch window of one message,
// so a second message is never received before the first is acknowledged.
type EventDrivenConsumer struct {
	h          *handler
	proc       comm.Processor
	deliveries <-chan amqp091.Delivery
}

func buildConsumer(ctx context.Context, cfg comm.Config, opts comm.Options) (any, error) {
	if opts.Processor == nil {
		return nil, &comm.ConfigurationError{Key: "processor", Reason: "consumers require a processor function"}
	}

	h, err := newHandler(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	c := &EventDrivenConsumer{h: h, proc: opts.Processor}
	if err := c.setup(); err != nil {
		_ = h.Close()
		return nil, err
	}
	return c, nil
}

func (c *EventDrivenConsumer) setup() error {
	if err := c.h.declareQueue(c.h.cfg.Queue); err != nil {
		return err
	}
	// Back-pressure: one unacknowledged message at a time.
	if err := c.h.ch.Qos(1, 0, false); err != nil {
		return err
	}
	deliveries, err := c.h.ch.Consume(c.h.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.deliveries = deliveries
	return nil
}

// Run consumes messages until ctx is cancelled. A delivery already in hand
// when cancellation occurs is still replied to and acknowledged before Run
// returns. If the session is closed underneath the loop, Run returns
// ErrSessionClosed.
func (c *EventDrivenConsumer) Run(ctx context.Context) error {
	c.h.log.Info("consuming", logging.LogFields{"queue": c.h.cfg.Queue})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-c.deliveries:
			if !ok {
				return ErrSessionClosed
			}
			c.handle(ctx, d)
		}
	}
}

// handle runs one delivery through the processor and settles it. The
// consumer never dies because a processor misbehaved: every outcome becomes
// a Response, which is sent to the reply destination when the request names
// one, and the message is acknowledged unless the Response asks to stay
// pending.
func (c *EventDrivenConsumer) handle(ctx context.Context, d amqp091.Delivery) {
	c.h.metrics.IncConsumed()

	resp := c.process(ctx, d.Body)

	if d.ReplyTo != "" {
		// The reply must go out even when cancellation arrived while the
		// processor was running; a waiting RPC caller is owed an answer.
		c.reply(context.WithoutCancel(ctx), d, resp)
	}

	if resp.Finalize() {
		if err := d.Ack(false); err != nil {
			c.h.log.Error("acknowledging message", err, nil)
		}
	} else {
		// Leave the message eligible for broker-side re-delivery. This is
		// the only retry mechanism; no backoff or attempt count exists at
		// this layer.
		if err := d.Nack(false, true); err != nil {
			c.h.log.Error("returning message to queue", err, nil)
		}
	}
}

func (c *EventDrivenConsumer) process(ctx context.Context, body []byte) *comm.Response {
	var payload any
	if err := codec.Unmarshal(body, &payload); err != nil {
		c.h.metrics.IncProcessorFailures()
		c.h.log.Error("undecodable message body", err, nil)
		return &comm.Response{Status: comm.StatusBadRequest, Payload: err.Error()}
	}

	resp := comm.InvokeProcessor(ctx, c.proc, payload)
	if resp.Check() != nil {
		c.h.metrics.IncProcessorFailures()
	}
	return resp
}

func (c *EventDrivenConsumer) reply(ctx context.Context, d amqp091.Delivery, resp *comm.Response) {
	body, err := comm.EncodeResponse(resp)
	if err != nil {
		c.h.log.Error("encoding response envelope", err, nil)
		return
	}

	err = c.h.publish(ctx, "", d.ReplyTo, amqp091.Publishing{
		ContentType:   contentType,
		CorrelationId: d.CorrelationId,
		Body:          body,
	})
	if err != nil {
		c.h.log.Error("publishing response", err,
			logging.LogFields{"reply_to": d.ReplyTo, "correlation_id": d.CorrelationId})
		return
	}
	c.h.metrics.IncReplies()
}

// Close tears down the consumer's broker session. An in-progress Run call
// observes the closed delivery channel and returns ErrSessionClosed.
func (c *EventDrivenConsumer) Close() error { return c.h.Close() }
