package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/clock"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/config"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/idempotency"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/mail"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/messaging"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/router"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/uid"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/validator"
)

// App wires dependencies and manages service lifecycle.
//
// Shutdown order is fixed: HTTP server, consumer loops (each closing its subscription),
// producers, then the broker client, exactly once.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	// configuration
	config config.Config
	ins    instrument.Instrumentation

	// libraries
	validator validator.Validator
	clock     clock.Clocker
	uuid      uid.StringID

	// resources
	cacheConn    *redis.Client
	idemp        idempotency.Store
	mail         mail.Mail
	client       messaging.Client
	registry     *messaging.ProducerRegistry
	promRegistry *prometheus.Registry

	// consumers
	subscription messaging.SubscriptionConfig
	loopOptions  []messaging.LoopOption
	loops        []messaging.Loop

	// server
	router     *router.Router
	httpServer *http.Server

	//
	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// New initializes the application with default wiring and returns an App instance.
func New() *App {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		ctx:    ctx,
		cancel: cancel,
	}

	app.initConfig()
	app.initInstrument()
	app.initLibraries()
	app.initCache()
	app.initMail()
	app.initMessaging()
	app.initConsumers()
	app.initHTTPServer()
	app.initModules()
	app.initClosers()

	return app
}
