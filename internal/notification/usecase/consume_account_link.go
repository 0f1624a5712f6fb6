package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/shandysiswandi/pulsarbite/internal/notification/entity"
)

type (
	ConsumeUserRegistrationInput struct {
		UserID   int64  `validate:"required,gt=0"`
		Email    string `validate:"required,email"`
		FullName string `validate:"required,min=2,max=100,alphaspace"`
		Token    string `validate:"required"`
	}

	ConsumeUserForgotPasswordInput struct {
		UserID int64  `validate:"required,gt=0"`
		Email  string `validate:"required,email"`
		Token  string `validate:"required"`
	}
)

// accountLink is an email whose call to action is a one-time token link into the web app.
type accountLink struct {
	key   entity.TriggerKey
	path  string
	field string
}

var (
	verifyEmailLink   = accountLink{key: entity.TriggerKeyEmailVerify, path: "verify-email", field: "verify_url"}
	resetPasswordLink = accountLink{key: entity.TriggerKeyPasswordReset, path: "reset-password", field: "reset_url"}
)

func (s *Usecase) ConsumeUserRegistration(ctx context.Context, in ConsumeUserRegistrationInput) error {
	ctx, span := s.startSpan(ctx, "ConsumeUserRegistration")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		slog.ErrorContext(ctx, "Validation failed", "user_id", in.UserID, "error", err)
		return nil
	}

	return s.sendAccountLink(ctx, verifyEmailLink, in.Email, in.Token, map[string]any{"full_name": in.FullName})
}

func (s *Usecase) ConsumeUserForgotPassword(ctx context.Context, in ConsumeUserForgotPasswordInput) error {
	ctx, span := s.startSpan(ctx, "ConsumeUserForgotPassword")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		slog.ErrorContext(ctx, "Validation failed", "user_id", in.UserID, "error", err)
		return nil
	}

	return s.sendAccountLink(ctx, resetPasswordLink, in.Email, in.Token, nil)
}

func (s *Usecase) sendAccountLink(ctx context.Context, link accountLink, to, token string, extra map[string]any) error {
	web, err := url.Parse(s.cfg.GetString("app.web"))
	if err != nil {
		return fmt.Errorf("parse app.web: %w", err)
	}
	target := web.JoinPath(link.path)
	target.RawQuery = url.Values{"token": {token}}.Encode()

	data := s.baseEmailTemplateData()
	for k, v := range extra {
		data[k] = v
	}
	data[link.field] = target.String()

	return s.sendEmail(ctx, to, link.key, data)
}
