package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNATSURLRequired is returned when the NATS server URL is missing.
var ErrNATSURLRequired = errors.New("pkgmessage: nats url is required")

const defaultNATSQueueSize = 1000

// NATSConfig configures the NATS driver.
type NATSConfig struct {
	// URL is the NATS server address.
	URL string

	// Options are passed to the NATS client.
	Options []nats.Option
}

// NATS is a Client backed by core NATS. Subscriptions are queue subscriptions whose queue
// group is the subscription name.
type NATS struct {
	conn      *nats.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewNATS connects to the NATS server.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		return nil, newError(ErrConnect, "", "", "", ErrNATSURLRequired)
	}

	conn, err := nats.Connect(cfg.URL, cfg.Options...)
	if err != nil {
		return nil, newError(ErrConnect, "", "", "", fmt.Errorf("pkgmessage: nats connect: %w", err))
	}

	return &NATS{conn: conn}, nil
}

// Close drains and closes the connection once.
func (n *NATS) Close() error {
	n.closeOnce.Do(func() {
		if err := n.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			n.closeErr = err
		}
		n.conn.Close()
	})
	return n.closeErr
}

// Subscribe creates a channel queue subscription.
func (n *NATS) Subscribe(ctx context.Context, cfg SubscriptionConfig) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	size := cfg.ReceiverQueueSize
	if size <= 0 {
		size = defaultNATSQueueSize
	}
	ch := make(chan *nats.Msg, size)

	sub, err := n.conn.ChanQueueSubscribe(cfg.Topic, cfg.Subscription, ch)
	if err != nil {
		return nil, fmt.Errorf("pkgmessage: nats subscribe: %w", err)
	}
	if err := n.conn.Flush(); err != nil {
		return nil, errors.Join(fmt.Errorf("pkgmessage: nats flush: %w", err), sub.Unsubscribe())
	}

	return &natsSubscription{sub: sub, ch: ch, policy: cfg.Batch.withDefaults()}, nil
}

// CreateProducer returns a producer publishing to the cfg.Topic subject.
func (n *NATS) CreateProducer(ctx context.Context, cfg ProducerConfig) (Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		return nil, ErrTopicRequired
	}
	return &natsProducer{conn: n.conn, subject: cfg.Topic}, nil
}

type natsSubscription struct {
	sub    *nats.Subscription
	ch     chan *nats.Msg
	policy BatchReceivePolicy
}

func (s *natsSubscription) BatchReceive(ctx context.Context) ([]Message, error) {
	var first *nats.Msg
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-s.ch:
		if !ok {
			return nil, ErrSubscriptionClosed
		}
		first = m
	}

	batch := []Message{newNATSMessage(first)}
	size := len(first.Data)

	timer := time.NewTimer(s.policy.Timeout)
	defer timer.Stop()

	for !s.policy.full(len(batch), size) {
		select {
		case m, ok := <-s.ch:
			if !ok {
				return batch, nil
			}
			batch = append(batch, newNATSMessage(m))
			size += len(m.Data)
		case <-timer.C:
			return batch, nil
		case <-ctx.Done():
			return batch, nil
		}
	}
	return batch, nil
}

// Ack acknowledges JetStream backed messages; core NATS messages need no ack.
func (s *natsSubscription) Ack(_ context.Context, msg Message) error {
	nm, ok := msg.(*natsMessage)
	if !ok {
		return ErrForeignMessage
	}
	if err := nm.msg.Ack(); err != nil && !isNATSAckUnsupported(err) {
		return fmt.Errorf("pkgmessage: nats ack: %w", err)
	}
	return nil
}

func (s *natsSubscription) Nack(_ context.Context, msg Message) error {
	nm, ok := msg.(*natsMessage)
	if !ok {
		return ErrForeignMessage
	}
	if err := nm.msg.Nak(); err != nil && !isNATSAckUnsupported(err) {
		return fmt.Errorf("pkgmessage: nats nak: %w", err)
	}
	return nil
}

func (s *natsSubscription) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("pkgmessage: nats unsubscribe: %w", err)
	}
	return nil
}

func isNATSAckUnsupported(err error) bool {
	return errors.Is(err, nats.ErrMsgNoReply) || errors.Is(err, nats.ErrMsgNotBound)
}

type natsProducer struct {
	conn    *nats.Conn
	subject string
}

func (p *natsProducer) Send(ctx context.Context, msg OutgoingMessage) (PublishResult, error) {
	if err := ctx.Err(); err != nil {
		return PublishResult{}, err
	}
	if msg.DeliverAfter > 0 {
		return PublishResult{}, ErrUnsupported
	}

	nmsg := nats.NewMsg(p.subject)
	nmsg.Data = msg.Body
	if msg.Key != "" {
		nmsg.Header.Set(natsKeyHeader, msg.Key)
	}
	for k, v := range msg.Properties {
		if k != "" {
			nmsg.Header.Set(k, v)
		}
	}

	if err := p.conn.PublishMsg(nmsg); err != nil {
		return PublishResult{}, fmt.Errorf("pkgmessage: nats publish: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return PublishResult{}, fmt.Errorf("pkgmessage: nats flush: %w", err)
	}

	return PublishResult{Topic: p.subject, Timestamp: time.Now()}, nil
}

// Close is a no-op; the connection belongs to the client.
func (p *natsProducer) Close() error { return nil }

const natsKeyHeader = "Pulsarbite-Key"

type natsMessage struct {
	msg        *nats.Msg
	props      map[string]string
	receivedAt time.Time
}

func newNATSMessage(m *nats.Msg) *natsMessage {
	props := make(map[string]string, len(m.Header))
	for k := range m.Header {
		if k != natsKeyHeader {
			props[k] = m.Header.Get(k)
		}
	}
	return &natsMessage{msg: m, props: props, receivedAt: time.Now()}
}

func (m *natsMessage) Body() []byte                  { return m.msg.Data }
func (m *natsMessage) Key() string                   { return m.msg.Header.Get(natsKeyHeader) }
func (m *natsMessage) Properties() map[string]string { return m.props }
func (m *natsMessage) ID() string                    { return m.msg.Header.Get(nats.MsgIdHdr) }
func (m *natsMessage) Topic() string                 { return m.msg.Subject }
func (m *natsMessage) Timestamp() time.Time          { return m.receivedAt }
func (m *natsMessage) RedeliveryCount() uint32       { return 0 }
func (m *natsMessage) Raw() any                      { return m.msg }
