package messaging

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Client is a connection to a broker that can open subscriptions and producers.
//
// A Client is shared by every ConsumerLoop and the ProducerRegistry of a process and must be
// closed once, after all of them.
type Client interface {
	io.Closer

	// Subscribe opens a subscription. A failure is reported as ErrConnect.
	Subscribe(ctx context.Context, cfg SubscriptionConfig) (Subscription, error)
	// CreateProducer opens a publish channel to cfg.Topic.
	CreateProducer(ctx context.Context, cfg ProducerConfig) (Producer, error)
}

// Subscription is an open subscription to one topic under one subscription name.
type Subscription interface {
	io.Closer

	// BatchReceive blocks until at least one message is available or ctx is done.
	BatchReceive(ctx context.Context) ([]Message, error)
	// Ack acknowledges a message received from this subscription.
	Ack(ctx context.Context, msg Message) error
	// Nack asks the broker to redeliver a message received from this subscription.
	Nack(ctx context.Context, msg Message) error
}

// Producer is an open publish channel to one topic.
type Producer interface {
	io.Closer

	Send(ctx context.Context, msg OutgoingMessage) (PublishResult, error)
}

// Message is a received message. It is only valid until acknowledged.
type Message interface {
	Body() []byte
	Key() string
	Properties() map[string]string

	ID() string
	Topic() string
	Timestamp() time.Time
	// RedeliveryCount is how many times the broker already delivered this message.
	RedeliveryCount() uint32
}

// RawCarrier exposes the underlying broker message type.
type RawCarrier interface {
	Raw() any
}

// OutgoingMessage is a payload ready to be sent by a Producer.
type OutgoingMessage struct {
	Body       []byte
	Key        string
	Properties map[string]string
	// EventTime is an application defined timestamp; zero means unset.
	EventTime time.Time
	// DeliverAfter delays delivery when the broker supports it.
	DeliverAfter time.Duration
}

// PublishResult carries what the broker returned for a sent message.
type PublishResult struct {
	MessageID string
	Topic     string
	Timestamp time.Time
}

// SubscriptionType is the broker dispatch mode of a subscription.
type SubscriptionType int

const (
	SubscriptionExclusive SubscriptionType = iota
	SubscriptionShared
	SubscriptionFailover
	SubscriptionKeyShared
)

func (t SubscriptionType) String() string {
	switch t {
	case SubscriptionShared:
		return "shared"
	case SubscriptionFailover:
		return "failover"
	case SubscriptionKeyShared:
		return "key_shared"
	default:
		return "exclusive"
	}
}

// ParseSubscriptionType maps "exclusive", "shared", "failover" and "key_shared" (any case,
// "-" accepted for "_") to a SubscriptionType. An empty string is exclusive.
func ParseSubscriptionType(s string) (SubscriptionType, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "exclusive":
		return SubscriptionExclusive, nil
	case "shared":
		return SubscriptionShared, nil
	case "failover":
		return SubscriptionFailover, nil
	case "key_shared", "keyshared":
		return SubscriptionKeyShared, nil
	default:
		return SubscriptionExclusive, fmt.Errorf("%w: subscription type %q", ErrInvalidOption, s)
	}
}

// InitialPosition is where a new subscription starts reading.
type InitialPosition int

const (
	PositionLatest InitialPosition = iota
	PositionEarliest
)

// ParseInitialPosition maps "latest" and "earliest" to an InitialPosition. Empty is latest.
func ParseInitialPosition(s string) (InitialPosition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest":
		return PositionLatest, nil
	case "earliest":
		return PositionEarliest, nil
	default:
		return PositionLatest, fmt.Errorf("%w: initial position %q", ErrInvalidOption, s)
	}
}

// DeadLetterPolicy routes messages to a dead letter topic after MaxDeliveries attempts.
type DeadLetterPolicy struct {
	MaxDeliveries uint32
	// Topic defaults to "<topic>-<subscription>-DLQ" on Pulsar when empty.
	Topic string
}

// BatchReceivePolicy bounds a single BatchReceive call. Zero fields take the defaults.
type BatchReceivePolicy struct {
	MaxMessages int
	MaxBytes    int
	Timeout     time.Duration
}

const (
	DefaultBatchMaxMessages = 100
	DefaultBatchMaxBytes    = 10 * 1024 * 1024
	DefaultBatchTimeout     = 100 * time.Millisecond
)

func (p BatchReceivePolicy) withDefaults() BatchReceivePolicy {
	if p.MaxMessages <= 0 {
		p.MaxMessages = DefaultBatchMaxMessages
	}
	if p.MaxBytes <= 0 {
		p.MaxBytes = DefaultBatchMaxBytes
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultBatchTimeout
	}
	return p
}

func (p BatchReceivePolicy) full(count, bytes int) bool {
	return count >= p.MaxMessages || bytes >= p.MaxBytes
}

// SubscriptionConfig describes the subscription a ConsumerLoop opens.
type SubscriptionConfig struct {
	Topic        string
	Subscription string
	Type         SubscriptionType
	Position     InitialPosition
	ConsumerName string

	ReceiverQueueSize   int
	NackRedeliveryDelay time.Duration
	DeadLetter          *DeadLetterPolicy
	Batch               BatchReceivePolicy
}

func (c SubscriptionConfig) validate() error {
	if strings.TrimSpace(c.Topic) == "" {
		return ErrTopicRequired
	}
	if strings.TrimSpace(c.Subscription) == "" {
		return ErrSubscriptionRequired
	}
	return nil
}

// CompressionType is the payload compression applied by a producer.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionLZ4
	CompressionZLib
	CompressionZSTD
)

// ParseCompressionType maps "none", "lz4", "zlib" and "zstd" to a CompressionType.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zlib":
		return CompressionZLib, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("%w: compression %q", ErrInvalidOption, s)
	}
}

// ProducerConfig is applied once, when the producer for a topic is created.
type ProducerConfig struct {
	Topic string
	Name  string

	DisableBatching         bool
	BatchingMaxPublishDelay time.Duration
	BatchingMaxMessages     uint
	Compression             CompressionType
	SendTimeout             time.Duration
	MaxPendingMessages      int
}
