package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shandysiswandi/pulsarbite/internal/notification/entity"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/mail"
)

type (
	ConsumeNotificationRequestedInput struct {
		ID        string `validate:"required"`
		Channel   string `validate:"required"`
		Recipient string `validate:"required,email"`
		Subject   string `validate:"required,singleline"`
		Body      string `validate:"required"`
		FullName  string
		Data      map[string]string
	}
)

// ConsumeNotificationRequested delivers a queued notification. Invalid payloads are
// dropped with a log line; a delivery failure is returned so the consumer loop can
// report it (and redeliver under the nack policy).
func (s *Usecase) ConsumeNotificationRequested(ctx context.Context, in ConsumeNotificationRequestedInput) error {
	ctx, span := s.startSpan(ctx, "ConsumeNotificationRequested")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		slog.ErrorContext(ctx, "Validation failed", "notification_id", in.ID, "error", err)
		return nil
	}

	if ch := entity.ChannelFromString(in.Channel); ch != entity.ChannelEmail {
		slog.WarnContext(ctx, "unsupported notification channel", "notification_id", in.ID, "channel", in.Channel)
		return nil
	}

	data := s.baseEmailTemplateData()
	for k, v := range in.Data {
		data[k] = v
	}
	data["subject"] = in.Subject
	data["body"] = in.Body
	data["full_name"] = in.FullName

	return s.sendEmail(ctx, in.Recipient, entity.TriggerKeyGeneric, data)
}

func (s *Usecase) sendEmail(ctx context.Context, to string, key entity.TriggerKey, data map[string]any) error {
	rendered, err := s.repoTemplate.Render(key, data)
	if err != nil {
		slog.ErrorContext(ctx, "failed to render email", "trigger_key", key.String(), "error", err)
		return fmt.Errorf("render %s: %w", key, err)
	}

	if err := s.repoMail.Send(ctx, mail.Message{
		To:       []string{to},
		Subject:  rendered.Subject,
		TextBody: rendered.TextBody,
		HTMLBody: rendered.HTMLBody,
	}); err != nil {
		return fmt.Errorf("send %s email: %w", key, err)
	}

	slog.InfoContext(ctx, "email notification sent", "trigger_key", key.String())
	return nil
}
