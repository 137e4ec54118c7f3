package http

import (
	"context"
	"time"

	"support_server/pkg/metrics"
	"support_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// Check probes one dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthHandler struct {
	checks  []Check
	timeout time.Duration
}

func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 5 * time.Second}
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			checks[check.Name] = "unhealthy: " + err.Error()
			allHealthy = false
			continue
		}
		checks[check.Name] = "healthy"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// MetricsHandler exposes in-process latency and pool statistics to operators.
type MetricsHandler struct {
	pools *metrics.PoolMonitor
}

func NewMetricsHandler(pools *metrics.PoolMonitor) *MetricsHandler {
	return &MetricsHandler{pools: pools}
}

func (h *MetricsHandler) Register(router fiber.Router) {
	router.Get("/metrics", h.Metrics)
}

func (h *MetricsHandler) Metrics(c *fiber.Ctx) error {
	data := fiber.Map{"latency": metrics.AllLatencies()}
	if h.pools != nil {
		data["pools"] = h.pools.All()
	}
	return response.OK(c, data)
}
