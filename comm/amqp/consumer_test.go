package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commflow/commflow/comm"
	"github.com/commflow/commflow/internal/codec"
)

func newTestConsumer(ch *fakeChannel, proc comm.Processor) *EventDrivenConsumer {
	return &EventDrivenConsumer{
		h:          newTestHandler(comm.Config{Queue: "jobs"}, ch),
		proc:       proc,
		deliveries: ch.deliveries,
	}
}

func encodePayload(t *testing.T, payload any) []byte {
	t.Helper()
	body, err := codec.Marshal(payload)
	require.NoError(t, err)
	return body
}

func decodeReply(t *testing.T, ch *fakeChannel) *comm.Response {
	t.Helper()
	record, ok := ch.lastPublished()
	require.True(t, ok, "expected a reply to be published")
	resp, err := comm.DecodeResponse(record.pub.Body)
	require.NoError(t, err)
	return resp
}

func TestConsumerHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("success publishes reply and acks", func(t *testing.T) {
		ch := newFakeChannel()
		c := newTestConsumer(ch, func(ctx context.Context, payload any) (any, error) {
			return "RE: " + payload.(string), nil
		})

		ack := &fakeAcknowledger{}
		c.handle(ctx, amqp091.Delivery{
			Acknowledger:  ack,
			Body:          encodePayload(t, "ping"),
			ReplyTo:       "amq.gen-caller",
			CorrelationId: "token-1",
		})

		record, ok := ch.lastPublished()
		require.True(t, ok)
		assert.Equal(t, "", record.exchange)
		assert.Equal(t, "amq.gen-caller", record.key)
		assert.Equal(t, "token-1", record.pub.CorrelationId)

		resp := decodeReply(t, ch)
		assert.Equal(t, 200, resp.Status)
		assert.Equal(t, "RE: ping", resp.Payload)

		assert.Equal(t, 1, ack.acks)
		assert.Equal(t, 0, ack.nacks)
	})

	t.Run("communication error becomes its status", func(t *testing.T) {
		ch := newFakeChannel()
		c := newTestConsumer(ch, func(context.Context, any) (any, error) {
			return nil, &comm.CriticalError{Status: 403, Data: "x"}
		})

		ack := &fakeAcknowledger{}
		c.handle(ctx, amqp091.Delivery{
			Acknowledger:  ack,
			Body:          encodePayload(t, "ping"),
			ReplyTo:       "amq.gen-caller",
			CorrelationId: "token-2",
		})

		resp := decodeReply(t, ch)
		assert.Equal(t, 403, resp.Status)
		assert.Equal(t, "x", resp.Payload)
		assert.Equal(t, 1, ack.acks, "error responses still settle the delivery")
	})

	t.Run("unrelated processor error becomes 500", func(t *testing.T) {
		ch := newFakeChannel()
		c := newTestConsumer(ch, func(context.Context, any) (any, error) {
			return nil, errors.New("unexpected")
		})

		ack := &fakeAcknowledger{}
		c.handle(ctx, amqp091.Delivery{
			Acknowledger:  ack,
			Body:          encodePayload(t, "ping"),
			ReplyTo:       "amq.gen-caller",
			CorrelationId: "token-3",
		})

		resp := decodeReply(t, ch)
		assert.Equal(t, 500, resp.Status)
		assert.Equal(t, "unexpected", resp.Payload)
		assert.Equal(t, 1, ack.acks)
	})

	t.Run("finalize false leaves the message pending", func(t *testing.T) {
		ch := newFakeChannel()
		c := newTestConsumer(ch, func(context.Context, any) (any, error) {
			return &comm.Response{Status: 200, Payload: "not yet", Requeue: true}, nil
		})

		ack := &fakeAcknowledger{}
		c.handle(ctx, amqp091.Delivery{
			Acknowledger:  ack,
			Body:          encodePayload(t, "ping"),
			ReplyTo:       "amq.gen-caller",
			CorrelationId: "token-4",
		})

		resp := decodeReply(t, ch)
		assert.False(t, resp.Finalize())
		assert.Equal(t, 0, ack.acks)
		assert.Equal(t, 1, ack.nacks)
		assert.True(t, ack.requeue)
	})

	t.Run("no reply destination means no reply", func(t *testing.T) {
		ch := newFakeChannel()
		c := newTestConsumer(ch, func(context.Context, any) (any, error) {
			return "done", nil
		})

		ack := &fakeAcknowledger{}
		c.handle(ctx, amqp091.Delivery{
			Acknowledger: ack,
			Body:         encodePayload(t, "ping"),
		})

		assert.Equal(t, 0, ch.publishCount())
		assert.Equal(t, 1, ack.acks)
	})

	t.Run("undecodable body yields 400 and settles", func(t *testing.T) {
		ch := newFakeChannel()
		called := false
		c := newTestConsumer(ch, func(context.Context, any) (any, error) {
			called = true
			return nil, nil
		})

		ack := &fakeAcknowledger{}
		c.handle(ctx, amqp091.Delivery{
			Acknowledger:  ack,
			Body:          []byte("not json"),
			ReplyTo:       "amq.gen-caller",
			CorrelationId: "token-5",
		})

		assert.False(t, called, "the processor must not see an undecodable body")
		resp := decodeReply(t, ch)
		assert.Equal(t, comm.StatusBadRequest, resp.Status)
		assert.Equal(t, 1, ack.acks)
	})
}

func TestConsumerRun(t *testing.T) {
	t.Run("cancellation stops the loop", func(t *testing.T) {
		ch := newFakeChannel()
		c := newTestConsumer(ch, func(context.Context, any) (any, error) { return nil, nil })

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancellation")
		}
	})

	t.Run("a message in hand is settled before returning", func(t *testing.T) {
		ch := newFakeChannel()
		processing := make(chan struct{})
		release := make(chan struct{})
		c := newTestConsumer(ch, func(context.Context, any) (any, error) {
			close(processing)
			<-release
			return "late", nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()

		ack := &fakeAcknowledger{}
		ch.deliveries <- amqp091.Delivery{
			Acknowledger:  ack,
			Body:          encodePayload(t, "ping"),
			ReplyTo:       "amq.gen-caller",
			CorrelationId: "token-6",
		}

		<-processing
		cancel()
		close(release)

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("Run did not return")
		}

		assert.Equal(t, 1, ack.acks, "the in-flight message must still be settled")
		assert.Equal(t, 1, ch.publishCount(), "the reply must still be sent")
	})

	t.Run("closed session ends the loop", func(t *testing.T) {
		ch := newFakeChannel()
		c := newTestConsumer(ch, func(context.Context, any) (any, error) { return nil, nil })

		done := make(chan error, 1)
		go func() { done <- c.Run(context.Background()) }()

		require.NoError(t, ch.Close())
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrSessionClosed)
		case <-time.After(time.Second):
			t.Fatal("Run did not return after close")
		}
	})
}
