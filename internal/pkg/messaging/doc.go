// Package messaging runs typed consumer loops and cached producers on top of a broker client.
//
// Business code depends on three small contracts: Client opens subscriptions and producers,
// Subscription hands out batches and takes acknowledgements, Producer sends payloads. The
// Pulsar driver is the default; Kafka and NATS drivers implement the same contracts.
//
// ConsumerLoop pulls one batch at a time, handles every message of the batch in its own
// goroutine and acknowledges each message once the handler returns, whatever the outcome.
// ProducerRegistry keeps one producer per topic and JSON-encodes what it publishes.
package messaging
