package email

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/mail"
)

// Sender delivers rendered notification emails and records each delivery attempt.
type Sender struct {
	client   mail.Mail
	tracer   trace.Tracer
	sent     metric.Int64Counter
	duration metric.Float64Histogram
}

func New(client mail.Mail, ins instrument.Instrumentation) *Sender {
	if ins == nil {
		ins = instrument.NewNoop()
	}
	meter := ins.Meter("notification.outbound.email")

	//nolint:errcheck // noop instruments are returned alongside errors
	sent, _ := meter.Int64Counter("notification.email.deliveries",
		metric.WithDescription("Notification emails handed to the mail server, by outcome."))
	//nolint:errcheck // noop instruments are returned alongside errors
	duration, _ := meter.Float64Histogram("notification.email.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent delivering one notification email."))

	return &Sender{
		client:   client,
		tracer:   ins.Tracer("notification.outbound.email"),
		sent:     sent,
		duration: duration,
	}
}

func (s *Sender) Send(ctx context.Context, msg mail.Message) error {
	ctx, span := s.tracer.Start(ctx, "Send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(attribute.Int("mail.recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc)))

	start := time.Now()
	err := s.client.Send(ctx, msg)

	outcome := attribute.String("outcome", "sent")
	if err != nil {
		outcome = attribute.String("outcome", "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "mail delivery failed")
	}
	s.sent.Add(ctx, 1, metric.WithAttributes(outcome))
	s.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(outcome))

	return err
}
