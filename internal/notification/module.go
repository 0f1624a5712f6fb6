package notification

import (
	"github.com/shandysiswandi/pulsarbite/internal/notification/inbound"
	"github.com/shandysiswandi/pulsarbite/internal/notification/outbound/email"
	"github.com/shandysiswandi/pulsarbite/internal/notification/outbound/mq"
	"github.com/shandysiswandi/pulsarbite/internal/notification/outbound/template"
	"github.com/shandysiswandi/pulsarbite/internal/notification/usecase"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/clock"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/config"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/idempotency"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/mail"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/messaging"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/router"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/uid"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/validator"
	"github.com/shandysiswandi/pulsarbite/internal/shared/event"
)

type Dependency struct {
	Config      config.Config
	Instrument  instrument.Instrumentation
	UUID        uid.StringID
	Clock       clock.Clocker
	Validator   validator.Validator
	Router      *router.Router
	Mail        mail.Mail
	Idempotency idempotency.Store

	Client       messaging.Client
	Registry     *messaging.ProducerRegistry
	Subscription messaging.SubscriptionConfig
	LoopOptions  []messaging.LoopOption
}

// New wires the module and returns its consumer loops, unstarted.
func New(dep Dependency) ([]messaging.Loop, error) {
	renderer, err := template.New()
	if err != nil {
		return nil, err
	}

	uc := usecase.NewNotification(usecase.Dependency{
		Config:       dep.Config,
		UUID:         dep.UUID,
		Clock:        dep.Clock,
		Validator:    dep.Validator,
		Idempotency:  dep.Idempotency,
		RepoMail:     email.New(dep.Mail, dep.Instrument),
		RepoTemplate: renderer,
		RepoMQ:       mq.NewMessaging(dep.Registry, inbound.TopicOf(dep.Config, event.NotificationRequestedDestination), dep.Instrument),
		Instrument:   dep.Instrument,
	})

	inbound.RegisterHTTPEndpoint(dep.Router, uc)

	return inbound.RegisterMQConsumer(inbound.MQConsumerConfig{
		Config:       dep.Config,
		Client:       dep.Client,
		Subscription: dep.Subscription,
		Options:      dep.LoopOptions,
		Instrument:   dep.Instrument,
	}, uc), nil
}
