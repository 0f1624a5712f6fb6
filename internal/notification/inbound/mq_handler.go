package inbound

import (
	"context"
	"log/slog"

	"github.com/shandysiswandi/pulsarbite/internal/notification/usecase"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/shared/event"
)

type ucConsumer interface {
	ConsumeNotificationRequested(ctx context.Context, in usecase.ConsumeNotificationRequestedInput) error
	ConsumeUserRegistration(ctx context.Context, in usecase.ConsumeUserRegistrationInput) error
	ConsumeUserForgotPassword(ctx context.Context, in usecase.ConsumeUserForgotPasswordInput) error
}

// MQHandler adapts decoded broker events to use case inputs. The consumer loop has
// already decoded the payload and put the correlation id on ctx.
type MQHandler struct {
	uc  ucConsumer
	ins instrument.Instrumentation
}

func (h *MQHandler) NotificationRequested(ctx context.Context, msg event.NotificationRequested) error {
	ctx, span := h.ins.Tracer("notification.inbound.mq").Start(ctx, "NotificationRequested")
	defer span.End()

	slog.InfoContext(ctx, "consume: notification requested", "notification_id", msg.ID, "channel", msg.Channel)

	return h.uc.ConsumeNotificationRequested(ctx, usecase.ConsumeNotificationRequestedInput{
		ID:        msg.ID,
		Channel:   msg.Channel,
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
		FullName:  msg.FullName,
		Data:      msg.Data,
	})
}

func (h *MQHandler) UserRegistrationNotification(ctx context.Context, msg event.UserRegistration) error {
	ctx, span := h.ins.Tracer("notification.inbound.mq").Start(ctx, "UserRegistrationNotification")
	defer span.End()

	slog.InfoContext(ctx, "consume: user registration notification", "user_id", msg.UserID)

	return h.uc.ConsumeUserRegistration(ctx, usecase.ConsumeUserRegistrationInput{
		UserID:   msg.UserID,
		Email:    msg.Email,
		FullName: msg.FullName,
		Token:    msg.ChallengeToken,
	})
}

func (h *MQHandler) UserForgotPasswordNotification(ctx context.Context, msg event.UserForgotPassword) error {
	ctx, span := h.ins.Tracer("notification.inbound.mq").Start(ctx, "UserForgotPasswordNotification")
	defer span.End()

	slog.InfoContext(ctx, "consume: user forgot password notification", "user_id", msg.UserID)

	return h.uc.ConsumeUserForgotPassword(ctx, usecase.ConsumeUserForgotPasswordInput{
		UserID: msg.UserID,
		Email:  msg.Email,
		Token:  msg.ChallengeToken,
	})
}
