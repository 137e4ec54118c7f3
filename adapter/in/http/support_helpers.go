// Package http exposes the operator and intake API over fiber.
package http

import (
	"strings"
	"time"

	"support_server/core/domain"
	"support_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.InputWithError("invalid request id", err)
	}
	return id, nil
}

func parseBody(c *fiber.Ctx, dest any) error {
	if err := c.BodyParser(dest); err != nil {
		return apperr.InputWithError("invalid request body", err)
	}
	return nil
}

// parseStatuses reads a comma-separated status list. Unknown names are rejected.
func parseStatuses(raw string) ([]domain.RequestStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []domain.RequestStatus
	for _, part := range strings.Split(raw, ",") {
		status := domain.RequestStatus(strings.ToUpper(strings.TrimSpace(part)))
		known := false
		for _, s := range domain.AllStatuses {
			if s == status {
				known = true
				break
			}
		}
		if !known {
			return nil, apperr.Input("unknown status: " + part)
		}
		out = append(out, status)
	}
	return out, nil
}

// parseDate accepts RFC3339 or YYYY-MM-DD.
func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, apperr.InputWithError("invalid date: "+raw, err)
	}
	return &t, nil
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
