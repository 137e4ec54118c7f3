// Package response renders successful API responses.
// Errors go through the fiber ErrorHandler in infra/middleware.
package response

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the standard API envelope.
type Response struct {
	Success bool  `json:"success"`
	Data    any   `json:"data,omitempty"`
	Meta    *Meta `json:"meta,omitempty"`
}

// Meta carries pagination data.
type Meta struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit,omitempty"`
	Offset  int  `json:"offset,omitempty"`
	HasMore bool `json:"has_more,omitempty"`
}

func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: data})
}

func OKWithMeta(c *fiber.Ctx, data any, meta *Meta) error {
	return c.JSON(Response{Success: true, Data: data, Meta: meta})
}

// Created returns 201.
func Created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(Response{Success: true, Data: data})
}

// Accepted returns 202, used when a request was persisted but a side effect failed.
func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{Success: true, Data: data})
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// Pagination holds limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// GetPagination reads limit and offset, clamping limit to [1, maxLimit].
func GetPagination(c *fiber.Ctx, defaultLimit, maxLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return Pagination{Limit: limit, Offset: offset}
}

// Page slices items by p and returns the page with its meta.
func Page[T any](items []T, p Pagination) ([]T, *Meta) {
	total := len(items)
	meta := &Meta{Total: total, Limit: p.Limit, Offset: p.Offset}
	if p.Offset >= total {
		return []T{}, meta
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	meta.HasMore = end < total
	return items[p.Offset:end], meta
}
