package app

import (
	"net/http"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/messaging"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/router"
)

type consumerHealth struct {
	Topic        string `json:"topic"`
	Subscription string `json:"subscription"`
	State        string `json:"state"`
}

type healthResponse struct {
	Status    string           `json:"status"`
	Consumers []consumerHealth `json:"consumers"`

	healthy bool
}

func (h healthResponse) StatusCode() int {
	if h.healthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func (h healthResponse) Message() string { return "health check" }

// healthHandler reports unhealthy as soon as one consumer loop is not running.
func healthHandler(loops func() []messaging.Loop) router.Handler {
	return func(*router.Request) (any, error) {
		resp := healthResponse{Status: "ok", Consumers: []consumerHealth{}, healthy: true}
		for _, loop := range loops() {
			state := loop.State()
			resp.Consumers = append(resp.Consumers, consumerHealth{
				Topic:        loop.Topic(),
				Subscription: loop.SubscriptionName(),
				State:        state.String(),
			})
			if state != messaging.StateRunning {
				resp.Status = "degraded"
				resp.healthy = false
			}
		}
		return resp, nil
	}
}
