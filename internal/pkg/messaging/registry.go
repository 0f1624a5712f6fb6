package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/jsoncodec"
)

// ProducerRegistry publishes JSON values, keeping one producer per topic.
//
// Producers are created on first use. Concurrent first publishes to the same topic share a
// single creation.
type ProducerRegistry struct {
	client   Client
	defaults ProducerConfig

	tracer    trace.Tracer
	published metric.Int64Counter
	failures  metric.Int64Counter

	group singleflight.Group

	mu        sync.RWMutex
	producers map[string]Producer
	closed    bool
}

// NewProducerRegistry builds an empty registry on top of client.
func NewProducerRegistry(client Client, opts ...RegistryOption) *ProducerRegistry {
	ro := registryOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&ro)
		}
	}
	if ro.ins == nil {
		ro.ins = instrument.NewNoop()
	}

	meter := ro.ins.Meter("messaging.producer")
	//nolint:errcheck // noop counters are returned alongside errors
	published, _ := meter.Int64Counter("messaging.producer.messages",
		metric.WithDescription("Messages published through the producer registry."))
	//nolint:errcheck // noop counters are returned alongside errors
	failures, _ := meter.Int64Counter("messaging.producer.errors",
		metric.WithDescription("Failed publishes through the producer registry."))

	return &ProducerRegistry{
		client:    client,
		defaults:  ro.defaults,
		tracer:    ro.ins.Tracer("messaging.producer"),
		published: published,
		failures:  failures,
		producers: map[string]Producer{},
	}
}

// Publish JSON-encodes v and sends it to topic.
//
// Every failure, including encoding and producer creation, is returned as an ErrPublish
// error. The correlation id of ctx travels as the "cID" message property and the span
// context as W3C trace context properties when a propagator is registered.
func (r *ProducerRegistry) Publish(ctx context.Context, topic string, v any, opts ...PublishOption) (PublishResult, error) {
	ctx, span := r.tracer.Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("messaging.destination", topic)),
	)
	defer span.End()

	res, err := r.publish(ctx, topic, v, opts...)
	attrs := metric.WithAttributes(attribute.String("messaging.destination", topic))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		r.failures.Add(ctx, 1, attrs)
		return PublishResult{}, newError(ErrPublish, topic, "", "", err)
	}

	r.published.Add(ctx, 1, attrs)
	span.SetAttributes(attribute.String("messaging.message.id", res.MessageID))
	return res, nil
}

func (r *ProducerRegistry) publish(ctx context.Context, topic string, v any, opts ...PublishOption) (PublishResult, error) {
	if r.client == nil {
		return PublishResult{}, ErrClientRequired
	}
	if strings.TrimSpace(topic) == "" {
		return PublishResult{}, ErrTopicRequired
	}

	po := publishOptions{producer: r.defaults}
	for _, opt := range opts {
		if opt != nil {
			opt(&po)
		}
	}
	po.producer.Topic = topic

	body, err := jsoncodec.Marshal(v)
	if err != nil {
		return PublishResult{}, err
	}

	p, err := r.producer(ctx, po.producer)
	if err != nil {
		return PublishResult{}, err
	}

	props := maps.Clone(po.properties)
	if cID := instrument.GetCorrelationID(ctx); cID != "" {
		if props == nil {
			props = map[string]string{}
		}
		if _, ok := props[CorrelationProperty]; !ok {
			props[CorrelationProperty] = cID
		}
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, val := range carrier {
		if props == nil {
			props = map[string]string{}
		}
		if _, ok := props[k]; !ok {
			props[k] = val
		}
	}

	res, err := p.Send(ctx, OutgoingMessage{
		Body:         body,
		Key:          po.key,
		Properties:   props,
		EventTime:    po.eventTime,
		DeliverAfter: po.deliverAfter,
	})
	if err != nil {
		return PublishResult{}, err
	}
	if res.Topic == "" {
		res.Topic = topic
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	return res, nil
}

// producer returns the cached producer of cfg.Topic, creating it once.
func (r *ProducerRegistry) producer(ctx context.Context, cfg ProducerConfig) (Producer, error) {
	if p, err := r.cached(cfg.Topic); p != nil || err != nil {
		return p, err
	}

	v, err, _ := r.group.Do(cfg.Topic, func() (any, error) {
		if p, err := r.cached(cfg.Topic); p != nil || err != nil {
			return p, err
		}

		p, err := r.client.CreateProducer(ctx, cfg)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, errors.Join(io.ErrClosedPipe, p.Close())
		}
		r.producers[cfg.Topic] = p
		r.mu.Unlock()

		slog.InfoContext(ctx, "producer created", "topic", cfg.Topic)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Producer), nil
}

func (r *ProducerRegistry) cached(topic string) (Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, io.ErrClosedPipe
	}
	return r.producers[topic], nil
}

// Topics lists the topics that currently have a producer, sorted.
func (r *ProducerRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.producers))
}

// Close closes every producer, even when some of them fail, and joins the ErrClose errors.
// The registry rejects publishes afterwards. Calling Close again is a no-op.
func (r *ProducerRegistry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	producers := r.producers
	r.producers = map[string]Producer{}
	r.mu.Unlock()

	var closeErr error
	for _, topic := range slices.Sorted(maps.Keys(producers)) {
		if err := producers[topic].Close(); err != nil {
			slog.Error("failed to close producer", "topic", topic, "error", err)
			closeErr = errors.Join(closeErr, newError(ErrClose, topic, "", "", err))
		}
	}
	return closeErr
}
