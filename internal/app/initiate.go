package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/segmentio/kafka-go"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/clock"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/config"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/goroutine"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/idempotency"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/mail"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/messaging"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/router"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/uid"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/validator"
)

func (a *App) initConfig() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "/config/config.yaml"
		if os.Getenv("LOCAL") == "true" {
			path = "./config/config.yaml"
		}
	}

	cfg, err := config.NewViper(path)
	if err != nil {
		slog.Error("failed to init config", "error", err)
		os.Exit(1)
	}

	//nolint:errcheck,gosec // ignore error
	os.Setenv("TZ", cfg.GetString("app.tz"))

	a.config = cfg
}

func (a *App) initInstrument() {
	ins, err := instrument.New(context.Background(), &instrument.Config{
		Enabled:          a.config.GetBool("instrument.enabled"),
		ServiceName:      a.config.GetString("instrument.service_name"),
		ServiceVersion:   a.config.GetString("instrument.service_version"),
		Environment:      a.config.GetString("instrument.env"),
		OTLPEndpoint:     a.config.GetString("instrument.otlp_endpoint"),
		OTLPSecure:       a.config.GetBool("instrument.otlp_secure"),
		TraceSampleRatio: a.config.GetFloat64("instrument.trace_sample_ratio"),
		MetricsInterval:  a.config.GetSecond("instrument.metric_interval_seconds"),
		LogLevel:         a.config.GetString("instrument.log_level"),
		MaskFields:       a.config.GetArray("instrument.log_mask_fields"),
	})
	if err != nil {
		slog.Error("failed to init instrumentation", "error", err)
		os.Exit(1)
	}
	a.ins = ins
}

func (a *App) initLibraries() {
	a.clock = clock.New()
	a.uuid = uid.NewUUID()

	validator, err := validator.NewV10Validator()
	if err != nil {
		slog.Error("failed to init validation v10 validator", "error", err)
		os.Exit(1)
	}
	a.validator = validator
}

func (a *App) initCache() {
	if !a.config.GetBool("redis.enabled") {
		slog.Info("redis disabled, idempotency keys are ignored")
		return
	}

	opt, err := redis.ParseURL(a.config.GetString("redis.url"))
	if err != nil {
		slog.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Error("failed to init redis", "error", err)
		os.Exit(1)
	}

	a.cacheConn = rdb
	a.idemp = idempotency.New(rdb)
}

func (a *App) initMail() {
	mail, err := mail.NewSMTP(mail.SMTPConfig{
		Host:        a.config.GetString("mail.host"),
		Port:        a.config.GetInt("mail.port"),
		Username:    a.config.GetString("mail.username"),
		Password:    a.config.GetString("mail.password"),
		From:        a.config.GetString("mail.from"),
		DialTimeout: a.config.GetSecond("mail.dial_timeout_seconds"),
	})
	if err != nil {
		slog.Error("failed to init mail", "error", err)
		os.Exit(1)
	}

	a.mail = mail
}

func (a *App) initMessaging() {
	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pulsarCfg, err := messaging.NewPulsarClientConfig(config.NewViperFromEnv("PULSAR"))
	if err != nil {
		slog.Error("failed to read pulsar client config", "error", err)
		os.Exit(1)
	}

	driver := a.config.GetString("messaging.driver")
	clientID := a.config.GetString("instrument.service_name")
	client, err := messaging.NewFromDriver(a.ctx, driver, messaging.FactoryOptions{
		Pulsar: messaging.PulsarConfig{
			Client:            pulsarCfg,
			Logger:            slog.Default(),
			MetricsRegisterer: a.promRegistry,
		},
		Kafka: messaging.KafkaConfig{
			Brokers: a.config.GetArray("messaging.kafka.brokers"),
			Dialer: &kafka.Dialer{
				ClientID:  clientID,
				Timeout:   a.config.GetSecond("messaging.kafka.dial_timeout_seconds"),
				DualStack: true,
			},
			Transport: &kafka.Transport{
				ClientID:    clientID,
				DialTimeout: a.config.GetSecond("messaging.kafka.dial_timeout_seconds"),
				IdleTimeout: a.config.GetSecond("messaging.kafka.idle_timeout_seconds"),
			},
		},
		NATS: messaging.NATSConfig{
			URL: a.config.GetString("messaging.nats.url"),
			Options: []nats.Option{
				nats.Name(a.config.GetString("messaging.nats.name")),
				nats.MaxReconnects(a.config.GetInt("messaging.nats.max_reconnects")),
				nats.Timeout(a.config.GetSecond("messaging.nats.timeout_seconds")),
				nats.ReconnectWait(a.config.GetSecond("messaging.nats.reconnect_wait_seconds")),
				nats.PingInterval(a.config.GetSecond("messaging.nats.ping_interval_seconds")),
				nats.MaxPingsOutstanding(a.config.GetInt("messaging.nats.max_pings_outstanding")),
				nats.RetryOnFailedConnect(a.config.GetBool("messaging.nats.retry_on_failed_connect")),
			},
		},
	})
	if err != nil {
		slog.Error("failed to init messaging", "error", err, "driver", driver, "pulsar", pulsarCfg)
		os.Exit(1)
	}

	compression, err := messaging.ParseCompressionType(a.config.GetString("messaging.producer.compression"))
	if err != nil {
		slog.Error("failed to parse producer compression", "error", err)
		os.Exit(1)
	}

	a.client = client
	a.registry = messaging.NewProducerRegistry(client,
		messaging.WithRegistryInstrumentation(a.ins),
		messaging.WithProducerDefaults(messaging.ProducerConfig{
			DisableBatching:         a.config.GetBool("messaging.producer.disable_batching"),
			BatchingMaxPublishDelay: a.config.GetMillisecond("messaging.producer.batching_max_publish_delay_ms"),
			BatchingMaxMessages:     uint(a.config.GetUint32("messaging.producer.batching_max_messages")),
			Compression:             compression,
			SendTimeout:             a.config.GetSecond("messaging.producer.send_timeout_seconds"),
			MaxPendingMessages:      a.config.GetInt("messaging.producer.max_pending_messages"),
		}),
	)
}

// initConsumers reads the subscription defaults and loop options shared by every module
// consumer. Topic and subscription name are filled in by the modules.
func (a *App) initConsumers() {
	subType, err := messaging.ParseSubscriptionType(a.config.GetString("messaging.subscription.type"))
	if err != nil {
		slog.Error("failed to parse subscription type", "error", err)
		os.Exit(1)
	}
	position, err := messaging.ParseInitialPosition(a.config.GetString("messaging.subscription.initial_position"))
	if err != nil {
		slog.Error("failed to parse subscription initial position", "error", err)
		os.Exit(1)
	}
	policy, err := messaging.ParseFailurePolicy(a.config.GetString("messaging.consumer.failure_policy"))
	if err != nil {
		slog.Error("failed to parse consumer failure policy", "error", err)
		os.Exit(1)
	}

	a.subscription = messaging.SubscriptionConfig{
		Type:                subType,
		Position:            position,
		ConsumerName:        a.config.GetString("messaging.subscription.consumer_name"),
		ReceiverQueueSize:   a.config.GetInt("messaging.subscription.receiver_queue_size"),
		NackRedeliveryDelay: a.config.GetMillisecond("messaging.subscription.nack_redelivery_delay_ms"),
		Batch: messaging.BatchReceivePolicy{
			MaxMessages: a.config.GetInt("messaging.subscription.batch.max_messages"),
			MaxBytes:    a.config.GetInt("messaging.subscription.batch.max_bytes"),
			Timeout:     a.config.GetMillisecond("messaging.subscription.batch.timeout_ms"),
		},
	}
	if n := a.config.GetUint32("messaging.subscription.dead_letter.max_deliveries"); n > 0 {
		a.subscription.DeadLetter = &messaging.DeadLetterPolicy{
			MaxDeliveries: n,
			Topic:         a.config.GetString("messaging.subscription.dead_letter.topic"),
		}
	}

	a.loopOptions = []messaging.LoopOption{
		messaging.WithInstrumentation(a.ins),
		messaging.WithMaxConcurrency(a.config.GetInt("messaging.consumer.max_concurrency")),
		messaging.WithFailurePolicy(policy),
		messaging.WithReceiveBackoff(
			a.config.GetMillisecond("messaging.consumer.backoff_base_ms"),
			a.config.GetMillisecond("messaging.consumer.backoff_max_ms"),
		),
	}
}

func (a *App) initHTTPServer() {
	a.router = router.NewRouter(router.Config{
		Config:     a.config,
		UUID:       a.uuid,
		Instrument: a.ins,
	})

	a.router.GET("/health", healthHandler(func() []messaging.Loop { return a.loops }))
	a.router.GETRaw("/metrics", promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{
		Registry: a.promRegistry,
	}))

	routerWithCORS := cors.New(cors.Options{
		AllowedOrigins: a.config.GetArray("app.server.cors"),
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(a.router)

	a.httpServer = &http.Server{
		Addr:              a.config.GetString("app.server.http.address"),
		Handler:           routerWithCORS,
		ReadTimeout:       a.config.GetSecond("app.server.http.read_timeout_seconds"),
		ReadHeaderTimeout: a.config.GetSecond("app.server.http.read_header_timeout_seconds"),
		WriteTimeout:      a.config.GetSecond("app.server.http.write_timeout_seconds"),
		IdleTimeout:       a.config.GetSecond("app.server.http.idle_timeout_seconds"),
	}
}

func (a *App) initClosers() {
	a.closers = []closer{
		{
			name: "Consumers",
			fn: func(ctx context.Context) error {
				return stopLoops(ctx, a.loops)
			},
		},
		{
			name: "Producers",
			fn: func(context.Context) error {
				return a.registry.Close()
			},
		},
		{
			name: "Messaging",
			fn: func(context.Context) error {
				return a.client.Close()
			},
		},
		{
			name: "Mail",
			fn: func(context.Context) error {
				return a.mail.Close()
			},
		},
		{
			name: "Redis",
			fn: func(context.Context) error {
				if a.cacheConn == nil {
					return nil
				}
				return a.cacheConn.Close()
			},
		},
		{
			name: "Instrument",
			fn: func(ctx context.Context) error {
				return a.ins.Shutdown(ctx)
			},
		},
		{
			name: "Config",
			fn: func(context.Context) error {
				return a.config.Close()
			},
		},
	}
}

// stopLoops stops every loop at once and joins their errors. Each loop closes its own
// subscription; a slow drain does not delay the others or use up their deadline.
func stopLoops(ctx context.Context, loops []messaging.Loop) error {
	g := goroutine.NewManager(0)
	for _, loop := range loops {
		g.Go(ctx, loop.Stop)
	}
	return g.Wait()
}
