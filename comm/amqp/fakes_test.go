package amqp

import (
	"context"
	"sync"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/commflow/commflow/comm"
	"github.com/commflow/commflow/internal/logging"
)

type publishRecord struct {
	exchange string
	key      string
	pub      amqp091.Publishing
}

// fakeChannel stands in for *amqp091.Channel in unit tests.
type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	declareErr error

	published     []publishRecord
	publishErr    error
	publishNotify chan publishRecord

	qosCount   int
	deliveries chan amqp091.Delivery
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		deliveries:    make(chan amqp091.Delivery, 8),
		publishNotify: make(chan publishRecord, 8),
	}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return amqp091.Queue{}, f.declareErr
	}
	if name == "" {
		name = "amq.gen-fake"
	}
	f.declared = append(f.declared, name)
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qosCount = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	if f.publishErr != nil {
		defer f.mu.Unlock()
		return f.publishErr
	}
	record := publishRecord{exchange: exchange, key: key, pub: msg}
	f.published = append(f.published, record)
	f.mu.Unlock()

	select {
	case f.publishNotify <- record:
	default:
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.deliveries)
	}
	return nil
}

func (f *fakeChannel) lastPublished() (publishRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return publishRecord{}, false
	}
	return f.published[len(f.published)-1], true
}

func (f *fakeChannel) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// fakeAcknowledger records settlement calls for a delivery.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks++
	f.requeue = requeue
	return nil
}

func newTestHandler(cfg comm.Config, ch brokerChannel) *handler {
	return &handler{
		cfg: cfg.WithDefaults(),
		log: logging.Nop(),
		ch:  ch,
	}
}
