package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"woa/internal/asr"
	"woa/internal/storage"
)

// HealthHandler reports service liveness and backend availability.
type HealthHandler struct {
	db       *storage.DB
	registry *asr.Registry
	enabled  map[asr.Kind]bool
}

func NewHealthHandler(db *storage.DB, registry *asr.Registry, enabled map[asr.Kind]bool) *HealthHandler {
	return &HealthHandler{db: db, registry: registry, enabled: enabled}
}

// Health reports overall status, database reachability and the state
// of each provider.
// GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	status := "ok"
	database := "ok"
	if err := h.db.PingContext(c.Request().Context()); err != nil {
		status = "degraded"
		database = err.Error()
	}

	loaded := h.registry.Stats()
	providers := make(map[string]any, len(asr.Kinds))
	for _, kind := range asr.Kinds {
		enabled := true
		if flag, gated := h.enabled[kind]; gated {
			enabled = flag
		}
		providers[string(kind)] = map[string]any{
			"enabled": enabled,
			"loaded":  loaded[kind],
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":    status,
		"database":  database,
		"providers": providers,
	})
}
