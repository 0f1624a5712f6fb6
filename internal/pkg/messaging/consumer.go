package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/goroutine"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/jsoncodec"
)

// CorrelationProperty is the message property carrying the correlation id.
const CorrelationProperty = "cID"

// State is the lifecycle state of a ConsumerLoop.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "init"
	}
}

// MessageHandler processes one decoded message. A returned error is logged, never retried
// by the loop itself.
type MessageHandler[T any] func(ctx context.Context, msg T) error

// Loop is the type-erased lifecycle view of a ConsumerLoop, used by hosts that own
// loops of different payload types.
type Loop interface {
	Start(ctx context.Context) (Subscription, error)
	Stop(ctx context.Context) error
	State() State
	Topic() string
	SubscriptionName() string
	Done() <-chan struct{}
}

var _ Loop = (*ConsumerLoop[struct{}])(nil)

// ConsumerLoop receives batches from one subscription and hands every message, decoded
// from JSON into T, to a handler.
//
// All messages of a batch are handled concurrently and the next batch is only requested
// once every message of the current one has been settled. Decode, handler and ack failures
// are logged and never stop the loop. Receive failures are retried with backoff.
type ConsumerLoop[T any] struct {
	client  Client
	cfg     SubscriptionConfig
	handler MessageHandler[T]
	opts    loopOptions

	tracer   trace.Tracer
	messages metric.Int64Counter
	failures metric.Int64Counter
	attrs    attribute.Set

	mu       sync.Mutex
	state    State
	starting bool
	sub      Subscription
	cancel   context.CancelFunc
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewConsumerLoop builds a loop in the init state. Nothing is opened until Start.
func NewConsumerLoop[T any](client Client, cfg SubscriptionConfig, handler MessageHandler[T], opts ...LoopOption) *ConsumerLoop[T] {
	lo := newLoopOptions(opts...)
	meter := lo.ins.Meter("messaging.consumer")

	//nolint:errcheck // noop counters are returned alongside errors
	messages, _ := meter.Int64Counter("messaging.consumer.messages",
		metric.WithDescription("Messages received by consumer loops."))
	//nolint:errcheck // noop counters are returned alongside errors
	failures, _ := meter.Int64Counter("messaging.consumer.errors",
		metric.WithDescription("Errors reported by consumer loops, by kind."))

	return &ConsumerLoop[T]{
		client:   client,
		cfg:      cfg,
		handler:  handler,
		opts:     lo,
		tracer:   lo.ins.Tracer("messaging.consumer"),
		messages: messages,
		failures: failures,
		attrs: attribute.NewSet(
			attribute.String("messaging.destination", cfg.Topic),
			attribute.String("messaging.subscription", cfg.Subscription),
		),
		done: make(chan struct{}),
	}
}

// Topic returns the subscribed topic.
func (c *ConsumerLoop[T]) Topic() string { return c.cfg.Topic }

// SubscriptionName returns the subscription name.
func (c *ConsumerLoop[T]) SubscriptionName() string { return c.cfg.Subscription }

// State returns the current lifecycle state.
func (c *ConsumerLoop[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the loop reached the stopped state.
func (c *ConsumerLoop[T]) Done() <-chan struct{} { return c.done }

// Start opens the subscription and runs the loop in the background.
//
// The loop keeps running until Stop is called or ctx is done. Handlers receive a context
// carrying the values of ctx but not its cancellation, so an in-flight batch always
// completes. A failing subscribe returns an ErrConnect error and leaves the loop in the
// init state. The subscribe call runs without holding the state lock; a Stop issued meanwhile
// wins and Start returns ErrLoopStopped.
func (c *ConsumerLoop[T]) Start(ctx context.Context) (Subscription, error) {
	if c.client == nil {
		return nil, ErrClientRequired
	}
	if c.handler == nil {
		return nil, ErrHandlerRequired
	}
	if err := c.cfg.validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	switch {
	case c.state == StateRunning, c.state == StateInit && c.starting:
		c.mu.Unlock()
		return nil, ErrLoopStarted
	case c.state != StateInit:
		c.mu.Unlock()
		return nil, ErrLoopStopped
	}
	c.starting = true
	c.mu.Unlock()

	sub, err := c.client.Subscribe(ctx, c.cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false

	if err != nil {
		return nil, newError(ErrConnect, c.cfg.Topic, c.cfg.Subscription, "", err)
	}
	if c.state != StateInit {
		// stopped while subscribing
		if cerr := sub.Close(); cerr != nil {
			c.report(ctx, newError(ErrClose, c.cfg.Topic, c.cfg.Subscription, "", cerr))
		}
		return nil, ErrLoopStopped
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.sub = sub
	c.cancel = cancel
	c.state = StateRunning

	go c.run(loopCtx, context.WithoutCancel(ctx))

	slog.InfoContext(ctx, "consumer loop started", "topic", c.cfg.Topic, "subscription", c.cfg.Subscription)
	return sub, nil
}

// Stop asks the loop to finish the in-flight batch, closes the subscription and waits for
// the stopped state.
//
// When ctx ends first the subscription is closed right away and ctx.Err() is returned; the
// in-flight handlers still run but their acknowledgements will fail. Stop is idempotent and
// the subscription is closed exactly once. The returned error is the ErrClose error of that
// close, if any.
func (c *ConsumerLoop[T]) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateInit:
		c.state = StateStopped
		close(c.done)
		c.mu.Unlock()
		return nil
	case StateRunning:
		c.state = StateStopping
		c.cancel()
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return c.closeSubscription(ctx)
	case <-ctx.Done():
		slog.WarnContext(ctx, "consumer loop drain timed out, closing subscription",
			"topic", c.cfg.Topic, "subscription", c.cfg.Subscription)
		return errors.Join(ctx.Err(), c.closeSubscription(ctx))
	}
}

func (c *ConsumerLoop[T]) run(ctx, handlerCtx context.Context) {
	defer c.finish(handlerCtx)

	for {
		if ctx.Err() != nil || c.State() != StateRunning {
			return
		}

		batch, err := c.receive(ctx)
		if err != nil {
			return
		}
		c.dispatch(handlerCtx, batch)
	}
}

func (c *ConsumerLoop[T]) finish(ctx context.Context) {
	//nolint:errcheck // reported inside closeSubscription
	_ = c.closeSubscription(ctx)

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	close(c.done)

	slog.InfoContext(ctx, "consumer loop stopped", "topic", c.cfg.Topic, "subscription", c.cfg.Subscription)
}

func (c *ConsumerLoop[T]) closeSubscription(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.sub == nil {
			return
		}
		if err := c.sub.Close(); err != nil {
			e := newError(ErrClose, c.cfg.Topic, c.cfg.Subscription, "", err)
			c.report(ctx, e)
			c.closeErr = e
		}
	})
	return c.closeErr
}

// receive returns a batch, retrying failed receives until one succeeds or ctx is done.
// The only error it returns is the context error.
func (c *ConsumerLoop[T]) receive(ctx context.Context) ([]Message, error) {
	b := retry.NewExponential(c.opts.backoffBase)
	b = retry.WithCappedDuration(c.opts.backoffMax, b)

	var batch []Message
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		msgs, err := c.sub.BatchReceive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.report(ctx, newError(ErrReceive, c.cfg.Topic, c.cfg.Subscription, "", err))
			return retry.RetryableError(err)
		}
		batch = msgs
		return nil
	})
	return batch, err
}

func (c *ConsumerLoop[T]) dispatch(ctx context.Context, batch []Message) {
	if len(batch) == 0 {
		return
	}

	g := goroutine.NewManager(c.opts.concurrency)
	for _, msg := range batch {
		g.Go(ctx, func(ctx context.Context) error {
			c.handle(ctx, msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "consumer loop dispatch failed", "topic", c.cfg.Topic, "error", err)
	}
}

func (c *ConsumerLoop[T]) handle(ctx context.Context, msg Message) {
	cID := msg.Properties()[CorrelationProperty]
	if cID == "" {
		cID = msg.ID()
	}
	ctx = instrument.SetCorrelationID(ctx, cID)
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Properties()))

	ctx, span := c.tracer.Start(ctx, "consume "+c.cfg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(c.attrs.ToSlice()...),
		trace.WithAttributes(attribute.String("messaging.message.id", msg.ID())),
	)
	defer span.End()

	c.messages.Add(ctx, 1, metric.WithAttributeSet(c.attrs))

	var value T
	if err := jsoncodec.Unmarshal(msg.Body(), &value); err != nil {
		c.fail(ctx, span, newError(ErrDecode, c.cfg.Topic, c.cfg.Subscription, msg.ID(), err))
		c.settle(ctx, span, msg, false)
		return
	}

	herr := handleRecovered(ctx, c.cfg.Topic, msg.ID(), func() error {
		return c.handler(ctx, value)
	})
	if herr != nil {
		c.fail(ctx, span, newError(ErrHandler, c.cfg.Topic, c.cfg.Subscription, msg.ID(), herr))
	}
	c.settle(ctx, span, msg, herr != nil)
}

// settle acknowledges msg. Under PolicyNack a failed handler nacks it instead.
func (c *ConsumerLoop[T]) settle(ctx context.Context, span trace.Span, msg Message, handlerFailed bool) {
	if handlerFailed && c.opts.policy == PolicyNack {
		if err := c.sub.Nack(ctx, msg); err != nil {
			c.fail(ctx, span, newError(ErrAck, c.cfg.Topic, c.cfg.Subscription, msg.ID(), err))
		}
		return
	}

	if err := c.sub.Ack(ctx, msg); err != nil {
		c.fail(ctx, span, newError(ErrAck, c.cfg.Topic, c.cfg.Subscription, msg.ID(), err))
	}
}

func (c *ConsumerLoop[T]) fail(ctx context.Context, span trace.Span, err *Error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.KindName())
	c.report(ctx, err)
}

func (c *ConsumerLoop[T]) report(ctx context.Context, err *Error) {
	slog.ErrorContext(ctx, "consumer loop error",
		"kind", err.KindName(),
		"topic", err.Topic,
		"subscription", err.Subscription,
		"message_id", err.MessageID,
		"error", err.Err,
	)
	c.failures.Add(ctx, 1,
		metric.WithAttributeSet(c.attrs),
		metric.WithAttributes(attribute.String("kind", err.KindName())),
	)
	if c.opts.observer != nil {
		c.opts.observer(ctx, err)
	}
}
