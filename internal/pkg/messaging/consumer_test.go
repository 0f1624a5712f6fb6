package messaging

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
)

type order struct {
	ID int `json:"id"`
}

var ordersSub = SubscriptionConfig{Topic: "orders", Subscription: "billing"}

type handledIDs struct {
	mu  sync.Mutex
	ids []int
}

func (h *handledIDs) add(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, id)
}

func (h *handledIDs) sorted() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Sorted(slices.Values(h.ids))
}

func startLoop(t *testing.T, loop *ConsumerLoop[order], sub *fakeSubscription) {
	t.Helper()
	if _, err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !waitFor(sub.idle, 2*time.Second) {
		t.Fatalf("loop never drained the queued batches")
	}
}

func stopLoop(t *testing.T, loop *ConsumerLoop[order]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := loop.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestConsumerLoop_AcksEveryMessageOnce(t *testing.T) {
	// Arrange
	sub := newFakeSubscription(
		[]Message{newFakeMessage("m1", `{"id":1}`), newFakeMessage("m2", `{"id":2}`)},
		[]Message{newFakeMessage("m3", `{"id":3}`)},
	)
	var handled handledIDs
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(_ context.Context, o order) error {
		handled.add(o.ID)
		return nil
	})

	// Act
	startLoop(t, loop, sub)
	stopLoop(t, loop)

	// Assert
	_, _, closes, acks, _ := sub.snapshot()
	for _, id := range []string{"m1", "m2", "m3"} {
		if acks[id] != 1 {
			t.Fatalf("ack count for %s = %d, want 1", id, acks[id])
		}
	}
	if got := handled.sorted(); !slices.Equal(got, []int{1, 2, 3}) {
		t.Fatalf("handled = %v", got)
	}
	if closes != 1 {
		t.Fatalf("close count = %d, want 1", closes)
	}
	if loop.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", loop.State())
	}
}

func TestConsumerLoop_MixedBatchIsFullyAcked(t *testing.T) {
	// Arrange
	sub := newFakeSubscription([]Message{
		newFakeMessage("a", `{"id":1}`),
		newFakeMessage("b", `not-json`),
		newFakeMessage("c", `{"id":2}`),
	})
	var handled handledIDs
	var rec errorRecorder
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(_ context.Context, o order) error {
		handled.add(o.ID)
		return nil
	}, WithErrorObserver(rec.observe))

	// Act
	startLoop(t, loop, sub)
	stopLoop(t, loop)

	// Assert
	_, _, _, acks, _ := sub.snapshot()
	if acks["a"] != 1 || acks["b"] != 1 || acks["c"] != 1 {
		t.Fatalf("acks = %v, want every message acked once", acks)
	}
	if got := handled.sorted(); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("handled = %v, want [1 2]", got)
	}
	if n := rec.count(ErrDecode); n != 1 {
		t.Fatalf("decode errors = %d, want 1", n)
	}
}

func TestConsumerLoop_HandlerFailureDoesNotAffectSiblings(t *testing.T) {
	// Arrange
	sub := newFakeSubscription([]Message{
		newFakeMessage("1", `{"id":1}`),
		newFakeMessage("2", `{"id":2}`),
		newFakeMessage("3", `{"id":3}`),
		newFakeMessage("4", `{"id":4}`),
	})
	var handled handledIDs
	var rec errorRecorder
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(_ context.Context, o order) error {
		switch o.ID {
		case 2:
			return errors.New("boom")
		case 3:
			panic("kaboom")
		}
		handled.add(o.ID)
		return nil
	}, WithErrorObserver(rec.observe))

	// Act
	startLoop(t, loop, sub)
	stopLoop(t, loop)

	// Assert
	_, _, _, acks, _ := sub.snapshot()
	for _, id := range []string{"1", "2", "3", "4"} {
		if acks[id] != 1 {
			t.Fatalf("ack count for %s = %d, want 1", id, acks[id])
		}
	}
	if got := handled.sorted(); !slices.Equal(got, []int{1, 4}) {
		t.Fatalf("handled = %v, want [1 4]", got)
	}
	if n := rec.count(ErrHandler); n != 2 {
		t.Fatalf("handler errors = %d, want 2", n)
	}
	if n := rec.count(ErrHandlerPanic); n != 1 {
		t.Fatalf("handler panics = %d, want 1", n)
	}
}

func TestConsumerLoop_NextReceiveWaitsForWholeBatch(t *testing.T) {
	// Arrange
	sub := newFakeSubscription(
		[]Message{newFakeMessage("1", `{"id":1}`), newFakeMessage("2", `{"id":2}`)},
		[]Message{newFakeMessage("3", `{"id":3}`)},
	)
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(_ context.Context, o order) error {
		if o.ID < 3 {
			started.Done()
			<-release
		}
		return nil
	})

	// Act
	if _, err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	started.Wait()
	receives, _, _, _, _ := sub.snapshot()
	close(release)

	// Assert
	if receives != 1 {
		t.Fatalf("receives while first batch in flight = %d, want 1", receives)
	}
	if !waitFor(sub.idle, 2*time.Second) {
		t.Fatalf("loop never drained the queued batches")
	}
	stopLoop(t, loop)
	_, _, _, acks, _ := sub.snapshot()
	if len(acks) != 3 {
		t.Fatalf("acks = %v, want 3 messages", acks)
	}
}

func TestConsumerLoop_RetriesReceiveErrors(t *testing.T) {
	// Arrange
	sub := newFakeSubscription([]Message{newFakeMessage("1", `{"id":1}`)})
	sub.receiveErrs = []error{errors.New("broker unavailable"), errors.New("broker unavailable")}
	var rec errorRecorder
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(context.Context, order) error {
		return nil
	}, WithErrorObserver(rec.observe), WithReceiveBackoff(time.Millisecond, 2*time.Millisecond))

	// Act
	startLoop(t, loop, sub)
	stopLoop(t, loop)

	// Assert
	if n := rec.count(ErrReceive); n != 2 {
		t.Fatalf("receive errors = %d, want 2", n)
	}
	_, _, _, acks, _ := sub.snapshot()
	if acks["1"] != 1 {
		t.Fatalf("message not acked after receive recovered: %v", acks)
	}
}

func TestConsumerLoop_StopIsIdempotent(t *testing.T) {
	// Arrange
	sub := newFakeSubscription()
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(context.Context, order) error {
		return nil
	})
	startLoop(t, loop, sub)

	// Act
	stopLoop(t, loop)
	receivesAtStop, _, _, _, _ := sub.snapshot()
	stopLoop(t, loop)

	// Assert
	receives, afterClose, closes, _, _ := sub.snapshot()
	if closes != 1 {
		t.Fatalf("close count = %d, want 1", closes)
	}
	if afterClose != 0 || receives != receivesAtStop {
		t.Fatalf("receive issued after stop: receives=%d at stop=%d after close=%d", receives, receivesAtStop, afterClose)
	}
	if !waitFor(loop.Done(), time.Second) {
		t.Fatalf("Done() not closed after Stop")
	}
}

func TestConsumerLoop_StopBeforeStart(t *testing.T) {
	loop := NewConsumerLoop(&fakeClient{sub: newFakeSubscription()}, ordersSub, func(context.Context, order) error {
		return nil
	})

	if err := loop.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := loop.Start(context.Background()); !errors.Is(err, ErrLoopStopped) {
		t.Fatalf("Start() after Stop error = %v, want ErrLoopStopped", err)
	}
}

func TestConsumerLoop_StartErrors(t *testing.T) {
	handler := func(context.Context, order) error { return nil }

	tests := []struct {
		name    string
		client  Client
		cfg     SubscriptionConfig
		handler MessageHandler[order]
		wantErr error
	}{
		{name: "nil client", cfg: ordersSub, handler: handler, wantErr: ErrClientRequired},
		{name: "nil handler", client: &fakeClient{}, cfg: ordersSub, wantErr: ErrHandlerRequired},
		{name: "missing topic", client: &fakeClient{}, cfg: SubscriptionConfig{Subscription: "s"}, handler: handler, wantErr: ErrTopicRequired},
		{name: "missing subscription", client: &fakeClient{}, cfg: SubscriptionConfig{Topic: "t"}, handler: handler, wantErr: ErrSubscriptionRequired},
		{name: "subscribe fails", client: &fakeClient{subscribeErr: errors.New("unreachable")}, cfg: ordersSub, handler: handler, wantErr: ErrConnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loop := NewConsumerLoop(tt.client, tt.cfg, tt.handler)

			_, err := loop.Start(context.Background())

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Start() error = %v, want %v", err, tt.wantErr)
			}
			if loop.State() != StateInit {
				t.Fatalf("state = %v, want init", loop.State())
			}
		})
	}
}

func TestConsumerLoop_StartTwice(t *testing.T) {
	sub := newFakeSubscription()
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(context.Context, order) error {
		return nil
	})
	startLoop(t, loop, sub)
	defer stopLoop(t, loop)

	if _, err := loop.Start(context.Background()); !errors.Is(err, ErrLoopStarted) {
		t.Fatalf("second Start() error = %v, want ErrLoopStarted", err)
	}
}

func TestConsumerLoop_SlowSubscribeDoesNotBlockStateOrStop(t *testing.T) {
	// Arrange
	sub := newFakeSubscription()
	client := &fakeClient{sub: sub, subscribing: make(chan struct{}), release: make(chan struct{})}
	loop := NewConsumerLoop(client, ordersSub, func(context.Context, order) error { return nil })

	started := make(chan error, 1)
	go func() {
		_, err := loop.Start(context.Background())
		started <- err
	}()
	if !waitFor(client.subscribing, time.Second) {
		t.Fatalf("Subscribe was never called")
	}

	// Act
	stateDone := make(chan State, 1)
	go func() { stateDone <- loop.State() }()
	var state State
	select {
	case state = <-stateDone:
	case <-time.After(time.Second):
		t.Fatalf("State() blocked while subscribing")
	}
	if _, err := loop.Start(context.Background()); !errors.Is(err, ErrLoopStarted) {
		t.Fatalf("concurrent Start() error = %v, want ErrLoopStarted", err)
	}
	stopErr := loop.Stop(context.Background())
	close(client.release)
	startErr := <-started

	// Assert
	if state != StateInit {
		t.Fatalf("state while subscribing = %v, want init", state)
	}
	if stopErr != nil {
		t.Fatalf("Stop() error = %v", stopErr)
	}
	if !errors.Is(startErr, ErrLoopStopped) {
		t.Fatalf("Start() error = %v, want ErrLoopStopped", startErr)
	}
	if receives, _, closes, _, _ := sub.snapshot(); receives != 0 || closes != 1 {
		t.Fatalf("receives = %d closes = %d, want 0 and 1", receives, closes)
	}
	if loop.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", loop.State())
	}
}

func TestConsumerLoop_StopDrainTimeout(t *testing.T) {
	// Arrange
	sub := newFakeSubscription([]Message{newFakeMessage("1", `{"id":1}`)})
	release := make(chan struct{})
	entered := make(chan struct{})
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(context.Context, order) error {
		close(entered)
		<-release
		return nil
	})
	if _, err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-entered

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := loop.Stop(ctx)

	// Assert
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() error = %v, want deadline exceeded", err)
	}
	close(release)
	if !waitFor(loop.Done(), 2*time.Second) {
		t.Fatalf("loop did not finish after the handler returned")
	}
	_, afterClose, closes, _, _ := sub.snapshot()
	if closes != 1 {
		t.Fatalf("close count = %d, want 1", closes)
	}
	if afterClose != 0 {
		t.Fatalf("receive issued after forced close")
	}
}

func TestConsumerLoop_NackPolicy(t *testing.T) {
	// Arrange
	sub := newFakeSubscription([]Message{
		newFakeMessage("ok", `{"id":1}`),
		newFakeMessage("bad", `{"id":2}`),
		newFakeMessage("garbage", `{`),
	})
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(_ context.Context, o order) error {
		if o.ID == 2 {
			return errors.New("retry me")
		}
		return nil
	}, WithFailurePolicy(PolicyNack))

	// Act
	startLoop(t, loop, sub)
	stopLoop(t, loop)

	// Assert
	_, _, _, acks, nacks := sub.snapshot()
	if acks["ok"] != 1 || acks["garbage"] != 1 || acks["bad"] != 0 {
		t.Fatalf("acks = %v", acks)
	}
	if nacks["bad"] != 1 || len(nacks) != 1 {
		t.Fatalf("nacks = %v", nacks)
	}
}

func TestConsumerLoop_AckFailureIsReported(t *testing.T) {
	// Arrange
	sub := newFakeSubscription(
		[]Message{newFakeMessage("1", `{"id":1}`)},
		[]Message{newFakeMessage("2", `{"id":2}`)},
	)
	sub.ackErrs = map[string]error{"1": errors.New("connection reset")}
	var rec errorRecorder
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(context.Context, order) error {
		return nil
	}, WithErrorObserver(rec.observe))

	// Act
	startLoop(t, loop, sub)
	stopLoop(t, loop)

	// Assert
	if n := rec.count(ErrAck); n != 1 {
		t.Fatalf("ack errors = %d, want 1", n)
	}
	_, _, _, acks, _ := sub.snapshot()
	if acks["2"] != 1 {
		t.Fatalf("loop stopped after an ack failure: %v", acks)
	}
}

func TestConsumerLoop_StopReturnsCloseError(t *testing.T) {
	sub := newFakeSubscription()
	sub.closeErr = errors.New("already closed")
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(context.Context, order) error {
		return nil
	})
	startLoop(t, loop, sub)

	err := loop.Stop(context.Background())

	if !errors.Is(err, ErrClose) {
		t.Fatalf("Stop() error = %v, want ErrClose", err)
	}
	var merr *Error
	if !errors.As(err, &merr) || merr.Subscription != "billing" {
		t.Fatalf("Stop() error = %#v, want subscription attributed", err)
	}
}

func TestConsumerLoop_StopsWhenStartContextEnds(t *testing.T) {
	sub := newFakeSubscription()
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(context.Context, order) error {
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := loop.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-sub.idle

	cancel()

	if !waitFor(loop.Done(), 2*time.Second) {
		t.Fatalf("loop still running after its context ended")
	}
	if _, _, closes, _, _ := sub.snapshot(); closes != 1 {
		t.Fatalf("close count = %d, want 1", closes)
	}
	if loop.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", loop.State())
	}
}

func TestConsumerLoop_HandlerSeesCorrelationID(t *testing.T) {
	msg := newFakeMessage("1", `{"id":1}`)
	msg.props = map[string]string{CorrelationProperty: "req-42"}
	sub := newFakeSubscription([]Message{msg, newFakeMessage("2", `{"id":2}`)})

	var mu sync.Mutex
	got := map[int]string{}
	loop := NewConsumerLoop(&fakeClient{sub: sub}, ordersSub, func(ctx context.Context, o order) error {
		mu.Lock()
		defer mu.Unlock()
		got[o.ID] = instrument.GetCorrelationID(ctx)
		return nil
	})

	startLoop(t, loop, sub)
	stopLoop(t, loop)

	mu.Lock()
	defer mu.Unlock()
	if got[1] != "req-42" {
		t.Fatalf("correlation id = %q, want req-42", got[1])
	}
	if got[2] != "2" {
		t.Fatalf("correlation id without property = %q, want message id", got[2])
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateInit:     "init",
		StateRunning:  "running",
		StateStopping: "stopping",
		StateStopped:  "stopped",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
