package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrKafkaBrokersRequired is returned when no Kafka brokers are configured.
var ErrKafkaBrokersRequired = errors.New("pkgmessage: kafka brokers are required")

// KafkaConfig configures the Kafka driver.
type KafkaConfig struct {
	// Brokers lists Kafka broker addresses.
	Brokers []string

	// Dialer configures broker connections of readers.
	Dialer *kafka.Dialer
	// Transport configures broker connections of writers.
	Transport kafka.RoundTripper
}

// Kafka is a Client backed by kafka-go. Subscriptions are consumer group readers and acks
// are offset commits.
type Kafka struct {
	brokers   []string
	dialer    *kafka.Dialer
	transport kafka.RoundTripper

	mu     sync.Mutex
	closed bool
}

// NewKafka constructs a Kafka client. kafka-go dials lazily, so nothing is opened here.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, newError(ErrConnect, "", "", "", ErrKafkaBrokersRequired)
	}

	return &Kafka{
		brokers:   append([]string{}, cfg.Brokers...),
		dialer:    cfg.Dialer,
		transport: cfg.Transport,
	}, nil
}

// Close marks the client closed. Readers and writers are closed by their handles.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	return nil
}

func (k *Kafka) ensureOpen() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return io.ErrClosedPipe
	}
	return nil
}

// Subscribe creates a consumer group reader; the group id is the subscription name.
func (k *Kafka) Subscribe(ctx context.Context, cfg SubscriptionConfig) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := k.ensureOpen(); err != nil {
		return nil, err
	}

	rc := kafka.ReaderConfig{
		Brokers:     k.brokers,
		GroupID:     cfg.Subscription,
		Topic:       cfg.Topic,
		MaxBytes:    10e6,
		Dialer:      k.dialer,
		StartOffset: kafka.LastOffset,
	}
	if cfg.Position == PositionEarliest {
		rc.StartOffset = kafka.FirstOffset
	}
	if cfg.ReceiverQueueSize > 0 {
		rc.QueueCapacity = cfg.ReceiverQueueSize
	}

	return &kafkaSubscription{
		reader:  kafka.NewReader(rc),
		policy:  cfg.Batch.withDefaults(),
		offsets: newOffsetTracker(),
	}, nil
}

// CreateProducer creates a writer bound to cfg.Topic.
func (k *Kafka) CreateProducer(ctx context.Context, cfg ProducerConfig) (Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		return nil, ErrTopicRequired
	}
	if err := k.ensureOpen(); err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchingMaxPublishDelay,
		WriteTimeout: cfg.SendTimeout,
		Transport:    k.transport,
	}
	if cfg.DisableBatching {
		w.BatchSize = 1
	} else if cfg.BatchingMaxMessages > 0 {
		w.BatchSize = int(cfg.BatchingMaxMessages)
	}
	switch cfg.Compression {
	case CompressionLZ4:
		w.Compression = kafka.Lz4
	case CompressionZSTD:
		w.Compression = kafka.Zstd
	case CompressionZLib:
		w.Compression = kafka.Gzip
	}

	return &kafkaProducer{writer: w}, nil
}

type kafkaSubscription struct {
	reader  *kafka.Reader
	policy  BatchReceivePolicy
	offsets *offsetTracker

	commitMu  sync.Mutex
	committed map[int]int64
}

// BatchReceive fetches one message, then keeps fetching until the policy is met.
func (s *kafkaSubscription) BatchReceive(ctx context.Context) ([]Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrSubscriptionClosed
		}
		return nil, fmt.Errorf("pkgmessage: kafka fetch: %w", err)
	}

	s.offsets.track(m)
	batch := []Message{newKafkaMessage(m)}
	size := len(m.Value)

	fctx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()

	for !s.policy.full(len(batch), size) {
		m, err := s.reader.FetchMessage(fctx)
		if err != nil {
			return batch, nil
		}
		s.offsets.track(m)
		batch = append(batch, newKafkaMessage(m))
		size += len(m.Value)
	}
	return batch, nil
}

// Ack settles msg and commits the highest offset of its partition below which every fetched
// message is settled. Messages of a batch settle concurrently, so committing each one as it
// comes would move the group offset backwards.
func (s *kafkaSubscription) Ack(ctx context.Context, msg Message) error {
	km, ok := msg.(*kafkaMessage)
	if !ok {
		return ErrForeignMessage
	}
	return s.settle(ctx, km.msg, true)
}

// Nack settles msg without committing it. Offsets are cumulative, so msg is only redelivered
// after a rebalance or restart if no later offset of its partition was committed first.
func (s *kafkaSubscription) Nack(ctx context.Context, msg Message) error {
	km, ok := msg.(*kafkaMessage)
	if !ok {
		return ErrForeignMessage
	}
	return s.settle(ctx, km.msg, false)
}

func (s *kafkaSubscription) settle(ctx context.Context, m kafka.Message, ack bool) error {
	target, ok := s.offsets.settle(m, ack)
	if !ok {
		return nil
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if last, seen := s.committed[target.Partition]; seen && target.Offset <= last {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, target); err != nil {
		return fmt.Errorf("pkgmessage: kafka commit: %w", err)
	}
	if s.committed == nil {
		s.committed = map[int]int64{}
	}
	s.committed[target.Partition] = target.Offset
	return nil
}

func (s *kafkaSubscription) Close() error {
	return s.reader.Close()
}

// offsetTracker keeps, per partition, the fetched messages that are not settled yet, in
// fetch order.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []kafka.Message
	// settled maps an offset to whether it was acked.
	settled map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: map[int]*partitionOffsets{}}
}

func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.partitions[m.Partition]
	if p == nil {
		p = &partitionOffsets{settled: map[int64]bool{}}
		t.partitions[m.Partition] = p
	}
	p.pending = append(p.pending, m)
}

// settle records m and returns the newest acked message of the settled prefix of its
// partition, if that prefix grew and holds one.
func (t *offsetTracker) settle(m kafka.Message, ack bool) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.partitions[m.Partition]
	if p == nil {
		return m, ack
	}
	p.settled[m.Offset] = ack

	var (
		target kafka.Message
		found  bool
	)
	for len(p.pending) > 0 {
		head := p.pending[0]
		acked, done := p.settled[head.Offset]
		if !done {
			break
		}
		delete(p.settled, head.Offset)
		p.pending = p.pending[1:]
		if acked {
			target, found = head, true
		}
	}
	return target, found
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func (p *kafkaProducer) Send(ctx context.Context, msg OutgoingMessage) (PublishResult, error) {
	if msg.DeliverAfter > 0 {
		return PublishResult{}, ErrUnsupported
	}

	ts := msg.EventTime
	if ts.IsZero() {
		ts = time.Now()
	}
	km := kafka.Message{
		Value: msg.Body,
		Time:  ts,
	}
	if msg.Key != "" {
		km.Key = []byte(msg.Key)
	}
	for k, v := range msg.Properties {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return PublishResult{}, fmt.Errorf("pkgmessage: kafka publish: %w", err)
	}

	return PublishResult{Topic: p.writer.Topic, Timestamp: ts}, nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

type kafkaMessage struct {
	msg   kafka.Message
	props map[string]string
}

func newKafkaMessage(m kafka.Message) *kafkaMessage {
	props := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		if h.Key != "" {
			props[h.Key] = string(h.Value)
		}
	}
	return &kafkaMessage{msg: m, props: props}
}

func (m *kafkaMessage) Body() []byte                  { return m.msg.Value }
func (m *kafkaMessage) Key() string                   { return string(m.msg.Key) }
func (m *kafkaMessage) Properties() map[string]string { return m.props }
func (m *kafkaMessage) Topic() string                 { return m.msg.Topic }
func (m *kafkaMessage) Timestamp() time.Time          { return m.msg.Time }
func (m *kafkaMessage) RedeliveryCount() uint32       { return 0 }
func (m *kafkaMessage) Raw() any                      { return m.msg }

func (m *kafkaMessage) ID() string {
	return m.msg.Topic + "/" + strconv.Itoa(m.msg.Partition) + "/" + strconv.FormatInt(m.msg.Offset, 10)
}
