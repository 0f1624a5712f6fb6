package mq

import (
	"context"

	"github.com/shandysiswandi/pulsarbite/internal/notification/entity"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/messaging"
	"github.com/shandysiswandi/pulsarbite/internal/shared/event"
	"go.opentelemetry.io/otel/codes"
)

type publisher interface {
	Publish(ctx context.Context, topic string, v any, opts ...messaging.PublishOption) (messaging.PublishResult, error)
}

type Messaging struct {
	registry publisher
	topic    string
	ins      instrument.Instrumentation
}

// NewMessaging publishes notification events to topic through registry.
func NewMessaging(registry publisher, topic string, ins instrument.Instrumentation) *Messaging {
	if topic == "" {
		topic = event.NotificationRequestedDestination
	}
	return &Messaging{registry: registry, topic: topic, ins: ins}
}

// PublishNotificationRequested keys the message by recipient so one recipient's
// notifications land on the same partition.
func (m *Messaging) PublishNotificationRequested(ctx context.Context, msg event.NotificationRequested) (entity.Receipt, error) {
	ctx, span := m.ins.Tracer("notification.outbound.mq").Start(ctx, "PublishNotificationRequested")
	defer span.End()

	res, err := m.registry.Publish(ctx, m.topic, msg,
		messaging.WithKey(msg.Recipient),
		messaging.WithEventTime(msg.RequestedAt),
		messaging.WithProperties(map[string]string{"event": event.NotificationRequestedDestination}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return entity.Receipt{}, err
	}

	return entity.Receipt{MessageID: res.MessageID, Topic: res.Topic}, nil
}
