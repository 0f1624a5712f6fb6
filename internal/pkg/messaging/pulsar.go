package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/prometheus/client_golang/prometheus"
)

// PulsarConfig configures the Pulsar driver.
type PulsarConfig struct {
	Client PulsarClientConfig

	// Logger receives the client library logs; slog.Default() when nil.
	Logger *slog.Logger
	// MetricsRegisterer receives the client library metrics; prometheus default when nil.
	MetricsRegisterer prometheus.Registerer
}

// Pulsar is a Client backed by the Apache Pulsar Go client.
type Pulsar struct {
	client    pulsar.Client
	closeOnce sync.Once
}

// NewPulsar creates the Pulsar client. Configuration and connection failures are ErrConnect
// errors.
func NewPulsar(ctx context.Context, cfg PulsarConfig) (*Pulsar, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(ErrConnect, "", "", "", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := cfg.Client.ClientOptions(logger, cfg.MetricsRegisterer)
	if err != nil {
		return nil, newError(ErrConnect, "", "", "", err)
	}

	client, err := pulsar.NewClient(opts)
	if err != nil {
		return nil, newError(ErrConnect, "", "", "", err)
	}

	slog.InfoContext(ctx, "pulsar client created", "config", cfg.Client)
	return NewPulsarFromClient(client), nil
}

// NewPulsarFromClient wraps an existing Pulsar client.
func NewPulsarFromClient(client pulsar.Client) *Pulsar {
	return &Pulsar{client: client}
}

// Close closes the underlying client once.
func (p *Pulsar) Close() error {
	p.closeOnce.Do(p.client.Close)
	return nil
}

// Subscribe opens a Pulsar consumer.
func (p *Pulsar) Subscribe(ctx context.Context, cfg SubscriptionConfig) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	consumer, err := p.client.Subscribe(pulsarConsumerOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("pkgmessage: pulsar subscribe: %w", err)
	}
	return newPulsarSubscription(consumer, cfg.Batch), nil
}

// CreateProducer opens a Pulsar producer.
func (p *Pulsar) CreateProducer(ctx context.Context, cfg ProducerConfig) (Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		return nil, ErrTopicRequired
	}

	producer, err := p.client.CreateProducer(pulsarProducerOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("pkgmessage: pulsar create producer: %w", err)
	}
	return &pulsarProducer{producer: producer}, nil
}

func pulsarConsumerOptions(cfg SubscriptionConfig) pulsar.ConsumerOptions {
	opts := pulsar.ConsumerOptions{
		Topic:               cfg.Topic,
		SubscriptionName:    cfg.Subscription,
		Name:                cfg.ConsumerName,
		ReceiverQueueSize:   cfg.ReceiverQueueSize,
		NackRedeliveryDelay: cfg.NackRedeliveryDelay,
	}

	switch cfg.Type {
	case SubscriptionShared:
		opts.Type = pulsar.Shared
	case SubscriptionFailover:
		opts.Type = pulsar.Failover
	case SubscriptionKeyShared:
		opts.Type = pulsar.KeyShared
	default:
		opts.Type = pulsar.Exclusive
	}

	if cfg.Position == PositionEarliest {
		opts.SubscriptionInitialPosition = pulsar.SubscriptionPositionEarliest
	} else {
		opts.SubscriptionInitialPosition = pulsar.SubscriptionPositionLatest
	}

	if cfg.DeadLetter != nil && cfg.DeadLetter.MaxDeliveries > 0 {
		opts.DLQ = &pulsar.DLQPolicy{
			MaxDeliveries:   cfg.DeadLetter.MaxDeliveries,
			DeadLetterTopic: cfg.DeadLetter.Topic,
		}
	}
	return opts
}

func pulsarProducerOptions(cfg ProducerConfig) pulsar.ProducerOptions {
	opts := pulsar.ProducerOptions{
		Topic:                   cfg.Topic,
		Name:                    cfg.Name,
		DisableBatching:         cfg.DisableBatching,
		BatchingMaxPublishDelay: cfg.BatchingMaxPublishDelay,
		BatchingMaxMessages:     cfg.BatchingMaxMessages,
		SendTimeout:             cfg.SendTimeout,
		MaxPendingMessages:      cfg.MaxPendingMessages,
	}

	switch cfg.Compression {
	case CompressionLZ4:
		opts.CompressionType = pulsar.LZ4
	case CompressionZLib:
		opts.CompressionType = pulsar.ZLib
	case CompressionZSTD:
		opts.CompressionType = pulsar.ZSTD
	default:
		opts.CompressionType = pulsar.NoCompression
	}
	return opts
}

type pulsarSubscription struct {
	consumer pulsar.Consumer
	policy   BatchReceivePolicy
}

func newPulsarSubscription(consumer pulsar.Consumer, policy BatchReceivePolicy) *pulsarSubscription {
	return &pulsarSubscription{consumer: consumer, policy: policy.withDefaults()}
}

// BatchReceive waits for one message, then keeps collecting until the policy is met.
// Messages already pulled are returned even when ctx ends meanwhile.
func (s *pulsarSubscription) BatchReceive(ctx context.Context) ([]Message, error) {
	ch := s.consumer.Chan()

	var first pulsar.ConsumerMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case cm, ok := <-ch:
		if !ok {
			return nil, ErrSubscriptionClosed
		}
		first = cm
	}

	batch := []Message{&pulsarMessage{msg: first.Message}}
	size := len(first.Payload())

	timer := time.NewTimer(s.policy.Timeout)
	defer timer.Stop()

	for !s.policy.full(len(batch), size) {
		select {
		case cm, ok := <-ch:
			if !ok {
				return batch, nil
			}
			batch = append(batch, &pulsarMessage{msg: cm.Message})
			size += len(cm.Payload())
		case <-timer.C:
			return batch, nil
		case <-ctx.Done():
			return batch, nil
		}
	}
	return batch, nil
}

func (s *pulsarSubscription) Ack(_ context.Context, msg Message) error {
	pm, ok := msg.(*pulsarMessage)
	if !ok {
		return ErrForeignMessage
	}
	return s.consumer.Ack(pm.msg)
}

func (s *pulsarSubscription) Nack(_ context.Context, msg Message) error {
	pm, ok := msg.(*pulsarMessage)
	if !ok {
		return ErrForeignMessage
	}
	s.consumer.Nack(pm.msg)
	return nil
}

func (s *pulsarSubscription) Close() error {
	s.consumer.Close()
	return nil
}

type pulsarProducer struct {
	producer pulsar.Producer
}

func (p *pulsarProducer) Send(ctx context.Context, msg OutgoingMessage) (PublishResult, error) {
	id, err := p.producer.Send(ctx, &pulsar.ProducerMessage{
		Payload:      msg.Body,
		Key:          msg.Key,
		Properties:   msg.Properties,
		EventTime:    msg.EventTime,
		DeliverAfter: msg.DeliverAfter,
	})
	if err != nil {
		return PublishResult{}, fmt.Errorf("pkgmessage: pulsar send: %w", err)
	}

	res := PublishResult{Topic: p.producer.Topic(), Timestamp: time.Now()}
	if id != nil {
		res.MessageID = id.String()
	}
	return res, nil
}

func (p *pulsarProducer) Close() error {
	p.producer.Close()
	return nil
}

type pulsarMessage struct {
	msg pulsar.Message
}

func (m *pulsarMessage) Body() []byte                  { return m.msg.Payload() }
func (m *pulsarMessage) Key() string                   { return m.msg.Key() }
func (m *pulsarMessage) Properties() map[string]string { return m.msg.Properties() }
func (m *pulsarMessage) Topic() string                 { return m.msg.Topic() }
func (m *pulsarMessage) Timestamp() time.Time          { return m.msg.PublishTime() }
func (m *pulsarMessage) RedeliveryCount() uint32       { return m.msg.RedeliveryCount() }
func (m *pulsarMessage) Raw() any                      { return m.msg }

func (m *pulsarMessage) ID() string {
	if id := m.msg.ID(); id != nil {
		return id.String()
	}
	return ""
}
