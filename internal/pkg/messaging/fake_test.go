package messaging

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeMessage struct {
	id    string
	body  []byte
	props map[string]string
}

func newFakeMessage(id, body string) *fakeMessage {
	return &fakeMessage{id: id, body: []byte(body)}
}

func (m *fakeMessage) Body() []byte                  { return m.body }
func (m *fakeMessage) Key() string                   { return "" }
func (m *fakeMessage) Properties() map[string]string { return m.props }
func (m *fakeMessage) ID() string                    { return m.id }
func (m *fakeMessage) Topic() string                 { return "orders" }
func (m *fakeMessage) Timestamp() time.Time          { return time.Time{} }
func (m *fakeMessage) RedeliveryCount() uint32       { return 0 }

// fakeSubscription hands out the queued receive errors, then the queued batches, then
// blocks until ctx is done. idle is closed when it starts blocking.
type fakeSubscription struct {
	mu          sync.Mutex
	receiveErrs []error
	batches     [][]Message
	ackErrs     map[string]error
	closeErr    error

	receives           int
	receivesAfterClose int
	acks               map[string]int
	nacks              map[string]int
	closes             int

	idle     chan struct{}
	idleOnce sync.Once
}

func newFakeSubscription(batches ...[]Message) *fakeSubscription {
	return &fakeSubscription{
		batches: batches,
		acks:    map[string]int{},
		nacks:   map[string]int{},
		idle:    make(chan struct{}),
	}
}

func (s *fakeSubscription) BatchReceive(ctx context.Context) ([]Message, error) {
	s.mu.Lock()
	s.receives++
	if s.closes > 0 {
		s.receivesAfterClose++
	}
	if len(s.receiveErrs) > 0 {
		err := s.receiveErrs[0]
		s.receiveErrs = s.receiveErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	s.idleOnce.Do(func() { close(s.idle) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSubscription) Ack(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[msg.ID()]++
	return s.ackErrs[msg.ID()]
}

func (s *fakeSubscription) Nack(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nacks[msg.ID()]++
	return nil
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.closeErr
}

func (s *fakeSubscription) snapshot() (receives, afterClose, closes int, acks, nacks map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acks = make(map[string]int, len(s.acks))
	for k, v := range s.acks {
		acks[k] = v
	}
	nacks = make(map[string]int, len(s.nacks))
	for k, v := range s.nacks {
		nacks[k] = v
	}
	return s.receives, s.receivesAfterClose, s.closes, acks, nacks
}

type fakeProducer struct {
	topic    string
	cfg      ProducerConfig
	sendErr  error
	closeErr error

	mu     sync.Mutex
	sent   []OutgoingMessage
	closes int
}

func (p *fakeProducer) Send(_ context.Context, msg OutgoingMessage) (PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return PublishResult{}, p.sendErr
	}
	p.sent = append(p.sent, msg)
	return PublishResult{MessageID: "1:0:0", Topic: p.topic}, nil
}

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return p.closeErr
}

type fakeClient struct {
	sub          *fakeSubscription
	subscribeErr error
	// subscribing, when set, is closed on entry to Subscribe, which then waits for release.
	subscribing chan struct{}
	release     chan struct{}

	createDelay time.Duration
	createErrs  []error
	sendErr     error
	closeErrs   map[string]error

	mu        sync.Mutex
	creates   int
	producers map[string]*fakeProducer
}

func (c *fakeClient) Subscribe(_ context.Context, _ SubscriptionConfig) (Subscription, error) {
	if c.subscribing != nil {
		close(c.subscribing)
		<-c.release
	}
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	return c.sub, nil
}

func (c *fakeClient) CreateProducer(_ context.Context, cfg ProducerConfig) (Producer, error) {
	if c.createDelay > 0 {
		time.Sleep(c.createDelay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	if len(c.createErrs) > 0 {
		err := c.createErrs[0]
		c.createErrs = c.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if c.producers == nil {
		c.producers = map[string]*fakeProducer{}
	}
	p := &fakeProducer{topic: cfg.Topic, cfg: cfg, sendErr: c.sendErr, closeErr: c.closeErrs[cfg.Topic]}
	c.producers[cfg.Topic] = p
	return p, nil
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) createCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}

// errorRecorder collects errors passed to an ErrorObserver.
type errorRecorder struct {
	mu   sync.Mutex
	errs []*Error
}

func (r *errorRecorder) observe(_ context.Context, err *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errorRecorder) count(kind error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.errs {
		if errors.Is(e, kind) {
			n++
		}
	}
	return n
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
