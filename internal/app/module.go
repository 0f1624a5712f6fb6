package app

import (
	"log/slog"
	"os"

	"github.com/shandysiswandi/pulsarbite/internal/notification"
)

func (a *App) initModules() {
	if a.config.GetBool("modules.notification.enabled") {
		loops, err := notification.New(notification.Dependency{
			Config:       a.config,
			Instrument:   a.ins,
			UUID:         a.uuid,
			Clock:        a.clock,
			Validator:    a.validator,
			Router:       a.router,
			Mail:         a.mail,
			Idempotency:  a.idemp,
			Client:       a.client,
			Registry:     a.registry,
			Subscription: a.subscription,
			LoopOptions:  a.loopOptions,
		})
		if err != nil {
			slog.Error("failed to init module notification", "error", err)
			os.Exit(1)
		}
		a.loops = append(a.loops, loops...)
	}
}
