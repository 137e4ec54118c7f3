package http

import (
	"io"
	"strings"

	in "support_server/core/port/in"
	"support_server/pkg/apperr"
	"support_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const maxDocumentSize = 50 << 20

type KnowledgeHandler struct {
	knowledge in.KnowledgeService
}

func NewKnowledgeHandler(knowledge in.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge}
}

func (h *KnowledgeHandler) Register(router fiber.Router) {
	kb := router.Group("/knowledge")
	kb.Get("/categories", h.Categories)
	kb.Get("/documents", h.ListDocuments)
	kb.Post("/documents", h.Upload)
	kb.Delete("/documents/:id", h.Delete)
	kb.Post("/search", h.Search)
}

// Upload ingests a multipart "file" with optional "category" and comma-separated "tags".
func (h *KnowledgeHandler) Upload(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return apperr.MissingField("file")
	}
	if header.Size > maxDocumentSize {
		return apperr.Input("file too large").WithDetail("max_size", maxDocumentSize)
	}

	f, err := header.Open()
	if err != nil {
		return apperr.InputWithError("cannot read uploaded file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxDocumentSize+1))
	if err != nil {
		return apperr.InputWithError("cannot read uploaded file", err)
	}

	result, err := h.knowledge.Upload(c.UserContext(), in.UploadDocument{
		Filename: header.Filename,
		Data:     data,
		Category: c.FormValue("category"),
		Tags:     splitTags(c.FormValue("tags")),
	})
	if err != nil {
		return err
	}
	return response.Created(c, result)
}

func (h *KnowledgeHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.knowledge.ListDocuments(c.UserContext())
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, docs, &response.Meta{Total: len(docs)})
}

func (h *KnowledgeHandler) Delete(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return apperr.MissingField("id")
	}
	if err := h.knowledge.DeleteDocument(c.UserContext(), id); err != nil {
		return err
	}
	return response.NoContent(c)
}

type searchBody struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Category string `json:"category"`
}

func (h *KnowledgeHandler) Search(c *fiber.Ctx) error {
	var body searchBody
	if err := parseBody(c, &body); err != nil {
		return err
	}
	hits, err := h.knowledge.Search(c.UserContext(), body.Query, body.Limit, body.Category)
	if err != nil {
		return err
	}
	return response.OK(c, hits)
}

func (h *KnowledgeHandler) Categories(c *fiber.Ctx) error {
	return response.OK(c, h.knowledge.Categories())
}
