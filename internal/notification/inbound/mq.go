package inbound

import (
	"log/slog"
	"slices"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/config"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/messaging"
	"github.com/shandysiswandi/pulsarbite/internal/shared/event"
)

// MQConsumerConfig carries what every consumer loop of the module shares.
type MQConsumerConfig struct {
	Config config.Config
	Client messaging.Client
	// Subscription holds the defaults (type, position, DLQ, batch policy); topic and
	// subscription name are filled per consumer.
	Subscription messaging.SubscriptionConfig
	Options      []messaging.LoopOption
	Instrument   instrument.Instrumentation
}

// RegisterMQConsumer builds one consumer loop per name listed in
// modules.notification.consumer_names. The loops are returned unstarted; the host
// owns their lifecycle.
func RegisterMQConsumer(dep MQConsumerConfig, uc ucConsumer) []messaging.Loop {
	h := &MQHandler{uc: uc, ins: dep.Instrument}
	enabled := dep.Config.GetArray("modules.notification.consumer_names")

	consumers := []struct {
		name  string
		topic string
		build func(sc messaging.SubscriptionConfig) messaging.Loop
	}{
		{
			name:  event.NotificationRequestedConsumerEmail,
			topic: TopicOf(dep.Config, event.NotificationRequestedDestination),
			build: func(sc messaging.SubscriptionConfig) messaging.Loop {
				return messaging.NewConsumerLoop(dep.Client, sc, h.NotificationRequested, dep.Options...)
			},
		},
		{
			name:  event.UserRegistrationConsumerNotification,
			topic: TopicOf(dep.Config, event.UserRegistrationDestination),
			build: func(sc messaging.SubscriptionConfig) messaging.Loop {
				return messaging.NewConsumerLoop(dep.Client, sc, h.UserRegistrationNotification, dep.Options...)
			},
		},
		{
			name:  event.UserForgotPasswordConsumerNotification,
			topic: TopicOf(dep.Config, event.UserForgotPasswordDestination),
			build: func(sc messaging.SubscriptionConfig) messaging.Loop {
				return messaging.NewConsumerLoop(dep.Client, sc, h.UserForgotPasswordNotification, dep.Options...)
			},
		},
	}

	var loops []messaging.Loop
	for _, consumer := range consumers {
		if !slices.Contains(enabled, consumer.name) {
			continue
		}

		sc := dep.Subscription
		sc.Topic = consumer.topic
		sc.Subscription = consumer.name
		if sc.DeadLetter != nil && sc.DeadLetter.Topic == "" {
			dl := *sc.DeadLetter
			dl.Topic = consumer.topic + "-" + consumer.name + "-DLQ"
			sc.DeadLetter = &dl
		}

		slog.Info("notification consumer registered", "consumer", consumer.name, "topic", sc.Topic)
		loops = append(loops, consumer.build(sc))
	}

	return loops
}

// TopicOf resolves the broker topic of destination from
// modules.notification.topics.<destination>, defaulting to the destination itself.
func TopicOf(cfg config.Config, destination string) string {
	if topic := cfg.GetString("modules.notification.topics." + destination); topic != "" {
		return topic
	}
	return destination
}
