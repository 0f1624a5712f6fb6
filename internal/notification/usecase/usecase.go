package usecase

import (
	"context"

	"github.com/shandysiswandi/pulsarbite/internal/notification/entity"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/clock"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/config"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/idempotency"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/mail"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/uid"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/validator"
	"github.com/shandysiswandi/pulsarbite/internal/shared/event"
	"go.opentelemetry.io/otel/trace"
)

type repoMail interface {
	Send(ctx context.Context, msg mail.Message) error
}

type repoTemplate interface {
	Render(key entity.TriggerKey, data map[string]any) (entity.Rendered, error)
}

type repoMQ interface {
	PublishNotificationRequested(ctx context.Context, msg event.NotificationRequested) (entity.Receipt, error)
}

type Usecase struct {
	cfg          config.Config
	uuid         uid.StringID
	clock        clock.Clocker
	validator    validator.Validator
	idempotency  idempotency.Store
	repoMail     repoMail
	repoTemplate repoTemplate
	repoMQ       repoMQ
	ins          instrument.Instrumentation
}

type Dependency struct {
	Config       config.Config
	UUID         uid.StringID
	Clock        clock.Clocker
	Validator    validator.Validator
	Idempotency  idempotency.Store
	RepoMail     repoMail
	RepoTemplate repoTemplate
	RepoMQ       repoMQ
	Instrument   instrument.Instrumentation
}

func NewNotification(dep Dependency) *Usecase {
	return &Usecase{
		cfg:          dep.Config,
		uuid:         dep.UUID,
		clock:        dep.Clock,
		validator:    dep.Validator,
		idempotency:  dep.Idempotency,
		repoMail:     dep.RepoMail,
		repoTemplate: dep.RepoTemplate,
		repoMQ:       dep.RepoMQ,
		ins:          dep.Instrument,
	}
}

func (s *Usecase) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.ins.Tracer("notification.usecase").Start(ctx, name)
}

func (s *Usecase) baseEmailTemplateData() map[string]any {
	return map[string]any{
		"support_email": s.cfg.GetString("modules.notification.support_email"),
		"company_name":  s.cfg.GetString("modules.notification.company_name"),
		"year":          s.clock.Now().Format("2006"),
	}
}
