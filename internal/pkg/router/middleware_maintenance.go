package router

import (
	"net/http"
	"strings"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/config"
)

// middlewareMaintenance rejects routes listed in app.maintenance.endpoints with 503.
// Entries are either a route ("/api/v1/notifications") or a method and route
// ("POST /api/v1/notifications"); "*" blocks every route except the quiet ones.
// The list is read per request so a reloaded config file takes effect immediately.
func middlewareMaintenance(cfg config.Config) Middleware {
	return func(next http.Handler) http.Handler {
		if cfg == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if underMaintenance(cfg.GetArray("app.maintenance.endpoints"), r.Method, matchedRoutePath(r)) {
				writeJSON(w, errorResponse{Message: "service is under maintenance"}, http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func underMaintenance(entries []string, method, route string) bool {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "*" {
			if _, quiet := quietRoutes[route]; !quiet {
				return true
			}
			continue
		}

		m, path, hasMethod := strings.Cut(entry, " ")
		if !hasMethod {
			path, m = entry, ""
		}
		if strings.TrimSpace(path) != route {
			continue
		}
		if m == "" || strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
