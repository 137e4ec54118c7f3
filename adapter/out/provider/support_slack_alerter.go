package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"support_server/core/domain"
	"support_server/core/port/out"
)

// SlackAlerter posts a message to the operator channel for every request that needs review.
type SlackAlerter struct {
	api     *slack.Client
	channel string
}

func NewSlackAlerter(token, channel string, opts ...slack.Option) (*SlackAlerter, error) {
	if token == "" {
		return nil, errors.New("slack bot token is required")
	}
	if channel == "" {
		return nil, errors.New("slack channel is required")
	}
	return &SlackAlerter{api: slack.New(token, opts...), channel: channel}, nil
}

func (s *SlackAlerter) AlertReview(ctx context.Context, req *domain.Request) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(reviewSummary(req), false),
		slack.MsgOptionBlocks(reviewBlocks(req)...),
	)
	if err != nil {
		return fmt.Errorf("slack: post review alert: %w", err)
	}
	return nil
}

func reviewSummary(req *domain.Request) string {
	return fmt.Sprintf("Request %s from %s needs review", req.ID, req.Email)
}

func reviewBlocks(req *domain.Request) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, "Review: "+req.Category.Label(), true, false),
		),
	}

	if subject := strings.TrimSpace(req.Subject); subject != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*"+subject+"*", false, false),
			nil, nil,
		))
	}

	parts := []string{req.Email}
	if req.Organization != "" {
		parts = append(parts, req.Organization)
	}
	if req.DeviceType != "" {
		parts = append(parts, req.DeviceType)
	}
	parts = append(parts, fmt.Sprintf("confidence %.2f", req.Confidence), "`"+req.ID.String()+"`")

	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, strings.Join(parts, "  |  "), false, false),
	))
	return blocks
}

var _ out.OperatorAlerter = (*SlackAlerter)(nil)
