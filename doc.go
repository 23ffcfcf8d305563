// Package commflow is the communication substrate of a distributed
// orchestration platform: a protocol-agnostic abstraction for asynchronous
// messaging, synchronous remote procedure calls, and event-driven message
// consumption.
//
// Client code addresses three roles: AsyncProducer (fire-and-forget),
// RPCProducer (request/response with correlated replies), and
// EventDrivenConsumer (a long-running message processor). None of them
// depend on transport details. The "protocol" key of the configuration selects the
// backend at construction time through a registry of implementations.
//
// Two backends ship with the module:
//   - amqp: the reference binding against an AMQP 0.9.1 broker, with
//     correlation-tracked RPC over an exclusive reply queue and an
//     acknowledging consumer loop (import commflow/comm/amqp)
//   - channel: an in-memory bus with identical semantics, for tests and
//     local development (import commflow/comm/channel)
//
// A minimal RPC round trip:
//
//	cfg := commflow.Config{Protocol: "amqp", Host: "localhost",
//		User: "guest", Password: "guest", RoutingKey: "jobs", Queue: "jobs"}
//
//	consumer, _ := commflow.NewEventDrivenConsumer(ctx,
//		func(ctx context.Context, payload any) (any, error) {
//			return "RE: " + payload.(string), nil
//		}, cfg)
//	go commflow.RunConsumer(ctx, consumer, logger)
//
//	producer, _ := commflow.NewRPCProducer(ctx, cfg)
//	reply, err := producer.Push(ctx, "ping")
//
// RPC services answer with a Response envelope carrying an HTTP-style status
// code; non-success statuses surface to the caller as CriticalError (4xx, do
// not retry) or TransientError (5xx, retry permitted). The envelope's
// finalize flag decides whether the consumed message is acknowledged or left
// to the broker for re-delivery.
package commflow
