package messaging

import (
	"context"
	"maps"
	"time"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
)

// FailurePolicy decides how a message whose handler failed is settled.
type FailurePolicy int

const (
	// PolicyAck acknowledges failed messages; they are never redelivered.
	PolicyAck FailurePolicy = iota
	// PolicyNack negatively acknowledges failed messages so the broker redelivers them
	// and, once the dead letter policy is exhausted, moves them to the dead letter topic.
	PolicyNack
)

// ParseFailurePolicy maps "ack" and "nack" to a FailurePolicy. Empty is ack.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "ack":
		return PolicyAck, nil
	case "nack":
		return PolicyNack, nil
	default:
		return PolicyAck, ErrInvalidOption
	}
}

// ErrorObserver is called for every error a ConsumerLoop logs.
type ErrorObserver func(ctx context.Context, err *Error)

const (
	defaultBackoffBase = 100 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second
)

type loopOptions struct {
	ins         instrument.Instrumentation
	concurrency int
	policy      FailurePolicy
	backoffBase time.Duration
	backoffMax  time.Duration
	observer    ErrorObserver
}

// LoopOption configures a ConsumerLoop.
type LoopOption func(*loopOptions)

func newLoopOptions(opts ...LoopOption) loopOptions {
	lo := loopOptions{
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&lo)
		}
	}
	if lo.ins == nil {
		lo.ins = instrument.NewNoop()
	}
	return lo
}

// WithInstrumentation sets the tracer and meter provider of a loop.
func WithInstrumentation(ins instrument.Instrumentation) LoopOption {
	return func(o *loopOptions) { o.ins = ins }
}

// WithMaxConcurrency limits how many messages of one batch are handled at the same time.
// Zero, the default, handles the whole batch at once.
func WithMaxConcurrency(n int) LoopOption {
	return func(o *loopOptions) { o.concurrency = n }
}

// WithFailurePolicy sets how messages whose handler failed are settled.
func WithFailurePolicy(p FailurePolicy) LoopOption {
	return func(o *loopOptions) { o.policy = p }
}

// WithReceiveBackoff sets the exponential backoff used after a failed receive.
func WithReceiveBackoff(base, maxDelay time.Duration) LoopOption {
	return func(o *loopOptions) {
		if base > 0 {
			o.backoffBase = base
		}
		if maxDelay > 0 {
			o.backoffMax = maxDelay
		}
	}
}

// WithErrorObserver registers a callback for every reported loop error.
func WithErrorObserver(fn ErrorObserver) LoopOption {
	return func(o *loopOptions) { o.observer = fn }
}

type registryOptions struct {
	ins      instrument.Instrumentation
	defaults ProducerConfig
}

// RegistryOption configures a ProducerRegistry.
type RegistryOption func(*registryOptions)

// WithRegistryInstrumentation sets the tracer and meter provider of a registry.
func WithRegistryInstrumentation(ins instrument.Instrumentation) RegistryOption {
	return func(o *registryOptions) { o.ins = ins }
}

// WithProducerDefaults sets the configuration every new producer starts from.
func WithProducerDefaults(cfg ProducerConfig) RegistryOption {
	return func(o *registryOptions) { o.defaults = cfg }
}

type publishOptions struct {
	producer     ProducerConfig
	key          string
	properties   map[string]string
	eventTime    time.Time
	deliverAfter time.Duration
}

// PublishOption configures a single Publish call.
//
// Options touching ProducerConfig only apply when the call creates the producer of the topic.
type PublishOption func(*publishOptions)

// WithKey sets the message key.
func WithKey(key string) PublishOption {
	return func(o *publishOptions) { o.key = key }
}

// WithProperties adds message properties.
func WithProperties(props map[string]string) PublishOption {
	return func(o *publishOptions) {
		if o.properties == nil {
			o.properties = make(map[string]string, len(props))
		}
		maps.Copy(o.properties, props)
	}
}

// WithEventTime sets the application event time of the message.
func WithEventTime(t time.Time) PublishOption {
	return func(o *publishOptions) { o.eventTime = t }
}

// WithDeliverAfter delays delivery of the message.
func WithDeliverAfter(d time.Duration) PublishOption {
	return func(o *publishOptions) { o.deliverAfter = d }
}

// WithBatching toggles producer side batching for a newly created producer.
func WithBatching(enabled bool) PublishOption {
	return func(o *publishOptions) { o.producer.DisableBatching = !enabled }
}

// WithCompression sets the compression of a newly created producer.
func WithCompression(c CompressionType) PublishOption {
	return func(o *publishOptions) { o.producer.Compression = c }
}
