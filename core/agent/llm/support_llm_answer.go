package llm

import (
	"context"
	"fmt"
	"strings"

	"support_server/core/domain"
)

const answerSystemPrompt = `Ты специалист службы поддержки производителя измерительных приборов.
Составь вежливый ответ клиенту на русском языке, опираясь только на фрагменты базы знаний.
Если фрагменты не содержат ответа, поблагодари за обращение и сообщи, что специалист свяжется с клиентом.
Не добавляй тему письма и подпись. Выведи только текст ответа.`

// GenerateAnswer drafts a customer answer for question grounded on the given hits.
func (c *Client) GenerateAnswer(ctx context.Context, question string, hits []domain.SearchResult) (string, error) {
	var sb strings.Builder
	if len(hits) > 0 {
		sb.WriteString("База знаний:\n")
		for i, h := range hits {
			fmt.Fprintf(&sb, "[%d] %s (%s)\n%s\n\n", i+1, h.Title, h.Filename, h.Content)
		}
	}
	sb.WriteString("Обращение клиента:\n")
	sb.WriteString(question)

	return c.CompleteWithSystem(ctx, answerSystemPrompt, sb.String())
}
