package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/goerror"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/idempotency"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/jsoncodec"
	"github.com/shandysiswandi/pulsarbite/internal/shared/event"
)

type (
	RequestNotificationInput struct {
		IdempotencyKey string            `validate:"omitempty,max=128"`
		Channel        string            `validate:"required,oneof=email"`
		Recipient      string            `validate:"required,email"`
		Subject        string            `validate:"required,max=200,singleline"`
		Body           string            `validate:"required,max=10000"`
		FullName       string            `validate:"omitempty,min=2,max=100,alphaspace"`
		Data           map[string]string `validate:"max=20"`
	}

	RequestNotificationOutput struct {
		ID          string    `json:"id"`
		MessageID   string    `json:"message_id"`
		Topic       string    `json:"topic"`
		RequestedAt time.Time `json:"requested_at"`
		Replayed    bool      `json:"-"`
	}
)

// RequestNotification queues a notification on the broker. With an idempotency key a
// retried request returns the first outcome instead of publishing again.
func (s *Usecase) RequestNotification(ctx context.Context, in RequestNotificationInput) (*RequestNotificationOutput, error) {
	ctx, span := s.startSpan(ctx, "RequestNotification")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		return nil, goerror.NewInvalidInput(err)
	}

	if in.IdempotencyKey == "" || s.idempotency == nil {
		return s.publishNotification(ctx, in)
	}

	res, err := s.idempotency.Exec(ctx, "notification:"+in.IdempotencyKey, func(ctx context.Context) ([]byte, error) {
		out, err := s.publishNotification(ctx, in)
		if err != nil {
			return nil, err
		}
		return jsoncodec.Marshal(out)
	}, idempotency.WithStateTTL(s.cfg.GetSecond("modules.notification.idempotency_ttl_seconds")))
	if errors.Is(err, idempotency.ErrAlreadyInProgress) {
		return nil, goerror.NewBusiness("Request with the same idempotency key is in progress", goerror.CodeConflict)
	}
	if err != nil {
		var gerr *goerror.Error
		if errors.As(err, &gerr) {
			return nil, err
		}
		slog.ErrorContext(ctx, "failed to exec idempotent notification request", "idempotency_key", in.IdempotencyKey, "error", err)
		return nil, goerror.NewServer(err)
	}

	var out RequestNotificationOutput
	if err := jsoncodec.Unmarshal(res.Value, &out); err != nil {
		slog.ErrorContext(ctx, "failed to decode stored notification request", "idempotency_key", in.IdempotencyKey, "error", err)
		return nil, goerror.NewServer(err)
	}
	out.Replayed = res.Replayed

	return &out, nil
}

func (s *Usecase) publishNotification(ctx context.Context, in RequestNotificationInput) (*RequestNotificationOutput, error) {
	msg := event.NotificationRequested{
		ID:          s.uuid.Generate(),
		Channel:     in.Channel,
		Recipient:   in.Recipient,
		Subject:     in.Subject,
		Body:        in.Body,
		FullName:    in.FullName,
		Data:        in.Data,
		RequestedAt: s.clock.Now().UTC(),
	}

	receipt, err := s.repoMQ.PublishNotificationRequested(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to publish notification requested", "notification_id", msg.ID, "error", err)
		return nil, goerror.NewUnavailable(err, "Failed to queue notification")
	}

	slog.InfoContext(ctx, "notification queued", "notification_id", msg.ID, "message_id", receipt.MessageID, "topic", receipt.Topic)

	return &RequestNotificationOutput{
		ID:          msg.ID,
		MessageID:   receipt.MessageID,
		Topic:       receipt.Topic,
		RequestedAt: msg.RequestedAt,
	}, nil
}
