package http

import (
	"errors"

	"support_server/core/domain"
	in "support_server/core/port/in"
	"support_server/core/port/out"
	"support_server/infra/middleware"
	"support_server/pkg/apperr"
	"support_server/pkg/logger"
	"support_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultRelated   = 10
)

// RequestHandler serves form intake and the operator workflow.
type RequestHandler struct {
	requests in.RequestService
	intake   in.IntakeService
	graph    out.CustomerGraph
	archive  out.RawMessageArchive
}

type RequestHandlerOption func(*RequestHandler)

func WithCustomerGraph(g out.CustomerGraph) RequestHandlerOption {
	return func(h *RequestHandler) { h.graph = g }
}

func WithRawArchive(a out.RawMessageArchive) RequestHandlerOption {
	return func(h *RequestHandler) { h.archive = a }
}

func NewRequestHandler(requests in.RequestService, intake in.IntakeService, opts ...RequestHandlerOption) *RequestHandler {
	h := &RequestHandler{requests: requests, intake: intake}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterPublic registers routes that need no operator token.
func (h *RequestHandler) RegisterPublic(router fiber.Router, guards ...fiber.Handler) {
	handlers := append(guards, h.Submit)
	router.Post("/requests", handlers...)
}

func (h *RequestHandler) Register(router fiber.Router) {
	requests := router.Group("/requests")

	requests.Get("/", h.List)
	requests.Get("/pending", h.ListPending)
	requests.Get("/closed", h.ListClosed)
	requests.Get("/mine", h.ListMine)
	requests.Get("/stats", h.Stats)

	requests.Get("/:id", h.Get)
	requests.Put("/:id", h.Update)
	requests.Post("/:id/approve", h.Approve)
	requests.Post("/:id/send", h.Send)
	requests.Get("/:id/related", h.Related)
	requests.Get("/:id/raw", h.Raw)
}

// Submit creates a request from a form payload.
func (h *RequestHandler) Submit(c *fiber.Ctx) error {
	var draft domain.Draft
	if err := parseBody(c, &draft); err != nil {
		return err
	}
	if draft.Category != "" {
		draft.Category = domain.ParseCategory(string(draft.Category))
	}
	draft.Source = domain.SourceAPI
	draft.SourceMessageID = ""
	draft.Attachment = nil

	req, err := h.intake.Submit(c.UserContext(), &draft)
	if req == nil {
		return err
	}
	if err != nil {
		// Persisted, but the auto-close notification failed.
		logger.WithContext(c.UserContext()).WithError(err).
			WithField("request_id", req.ID.String()).
			Warn("Request stored with pending notification")
		return response.Accepted(c, req)
	}
	return response.Created(c, req)
}

func (h *RequestHandler) List(c *fiber.Ctx) error {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	from, err := parseDate(c.Query("from"))
	if err != nil {
		return err
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		return err
	}
	page := response.GetPagination(c, defaultListLimit, maxListLimit)

	filter := domain.RequestFilter{
		Statuses:   statuses,
		OperatorID: c.Query("operator"),
		From:       from,
		To:         to,
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
	if raw := c.Query("category"); raw != "" {
		filter.Category = domain.ParseCategory(raw)
	}

	items, err := h.requests.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, items, &response.Meta{
		Total:   len(items),
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: len(items) == page.Limit,
	})
}

func (h *RequestHandler) ListPending(c *fiber.Ctx) error {
	items, err := h.requests.ListPending(c.UserContext())
	if err != nil {
		return err
	}
	return h.page(c, items)
}

func (h *RequestHandler) ListClosed(c *fiber.Ctx) error {
	items, err := h.requests.ListClosed(c.UserContext())
	if err != nil {
		return err
	}
	return h.page(c, items)
}

// ListMine lists requests handled by the calling operator.
func (h *RequestHandler) ListMine(c *fiber.Ctx) error {
	operatorID := middleware.OperatorID(c)
	if operatorID == "" {
		return apperr.Unauthorized("")
	}
	items, err := h.requests.ListByOperator(c.UserContext(), operatorID)
	if err != nil {
		return err
	}
	return h.page(c, items)
}

func (h *RequestHandler) page(c *fiber.Ctx, items []*domain.Request) error {
	data, meta := response.Page(items, response.GetPagination(c, defaultListLimit, maxListLimit))
	return response.OKWithMeta(c, data, meta)
}

func (h *RequestHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.requests.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return response.OK(c, stats)
}

func (h *RequestHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.requests.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return response.OK(c, req)
}

type updateRequestBody struct {
	OperatorAnswer string `json:"operator_answer"`
	OperatorNotes  string `json:"operator_notes"`
}

func (h *RequestHandler) Update(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body updateRequestBody
	if err := parseBody(c, &body); err != nil {
		return err
	}
	req, err := h.requests.Update(c.UserContext(), id, domain.OperatorEdit{
		OperatorAnswer: body.OperatorAnswer,
		OperatorNotes:  body.OperatorNotes,
		OperatorID:     middleware.OperatorID(c),
	})
	if err != nil {
		return err
	}
	return response.OK(c, req)
}

func (h *RequestHandler) Approve(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.requests.Approve(c.UserContext(), id, middleware.OperatorID(c))
	if err != nil {
		return err
	}
	return response.OK(c, req)
}

func (h *RequestHandler) Send(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	req, err := h.requests.Send(c.UserContext(), id, middleware.OperatorID(c))
	if err != nil {
		return err
	}
	return response.OK(c, req)
}

// Related lists earlier requests from the same customer, organization or device.
func (h *RequestHandler) Related(c *fiber.Ctx) error {
	if h.graph == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "customer graph is not configured")
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	req, err := h.requests.Get(ctx, id)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", defaultRelated)
	if limit < 1 {
		limit = defaultRelated
	}
	ids, err := h.graph.RelatedRequestIDs(ctx, req, limit)
	if err != nil {
		return apperr.Dependency("customer graph", err)
	}

	related := make([]*domain.Request, 0, len(ids))
	for _, raw := range ids {
		relatedID, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		r, err := h.requests.Get(ctx, relatedID)
		if err != nil {
			if apperr.IsCode(err, apperr.CodeNotFound) {
				continue
			}
			return err
		}
		related = append(related, r)
	}
	return response.OK(c, related)
}

// Raw returns the archived inbound message a request was created from.
func (h *RequestHandler) Raw(c *fiber.Ctx) error {
	if h.archive == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "raw message archive is not configured")
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	msg, err := h.archive.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return apperr.NotFound("raw message")
		}
		return apperr.Dependency("raw message archive", err)
	}
	return response.OK(c, msg)
}
