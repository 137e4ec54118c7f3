package http

import (
	in "support_server/core/port/in"
	"support_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const defaultDashboardDays = 30

type AnalyticsHandler struct {
	analytics in.AnalyticsService
}

func NewAnalyticsHandler(analytics in.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

func (h *AnalyticsHandler) Register(router fiber.Router) {
	router.Get("/analytics/dashboard", h.Dashboard)
}

// Dashboard returns aggregated request analytics for the last ?days= days.
func (h *AnalyticsHandler) Dashboard(c *fiber.Ctx) error {
	days := c.QueryInt("days", defaultDashboardDays)
	data, err := h.analytics.Dashboard(c.UserContext(), days)
	if err != nil {
		return err
	}
	return response.OK(c, data)
}
