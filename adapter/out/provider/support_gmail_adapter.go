// Package provider implements the mailbox ingestion source and customer notifiers.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"support_server/core/domain"
	"support_server/core/port/out"
	"support_server/pkg/httputil"
	"support_server/pkg/logger"
	"support_server/pkg/resilience"
)

const (
	defaultUnreadQuery = "is:unread in:inbox"
	labelUnread        = "UNREAD"
)

// GmailConfig holds mailbox credentials. The refresh token belongs to the support mailbox.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	RefreshToken string
	User         string
	From         string
	Query        string
}

// GmailAdapter reads unread support mail and sends answers from the same mailbox.
type GmailAdapter struct {
	svc   *gmail.Service
	user  string
	from  string
	query string
	cb    *resilience.Breaker
	log   *logger.Logger
}

// NewGmailAdapter builds a Gmail client whose access tokens are refreshed from cfg.RefreshToken.
func NewGmailAdapter(ctx context.Context, cfg GmailConfig) (*GmailAdapter, error) {
	if cfg.RefreshToken == "" {
		return nil, errors.New("gmail: refresh token is required")
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{gmail.GmailModifyScope, gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	base := httputil.NewClient(httputil.GmailClientConfig())
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(tokenCtx, oauthCfg.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gmail: create service: %w", err)
	}
	return NewGmailAdapterWithService(svc, cfg), nil
}

// NewGmailAdapterWithService wraps an existing service.
func NewGmailAdapterWithService(svc *gmail.Service, cfg GmailConfig) *GmailAdapter {
	user := cfg.User
	if user == "" {
		user = "me"
	}
	query := cfg.Query
	if query == "" {
		query = defaultUnreadQuery
	}

	breakerCfg := resilience.DefaultBreakerConfig("gmail-api")
	breakerCfg.Excluded = isClientError

	return &GmailAdapter{
		svc:   svc,
		user:  user,
		from:  cfg.From,
		query: query,
		cb:    resilience.NewBreaker(breakerCfg),
		log:   logger.WithField("component", "gmail"),
	}
}

func (a *GmailAdapter) Name() string {
	return domain.SourceMailbox
}

// Fetch lists up to limit unread messages oldest first. A message that cannot be read is
// skipped and stays unread for the next poll.
func (a *GmailAdapter) Fetch(ctx context.Context, limit int) ([]*domain.InboundMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	list, err := resilience.Call(a.cb, func() (*gmail.ListMessagesResponse, error) {
		return a.svc.Users.Messages.List(a.user).Q(a.query).MaxResults(int64(limit)).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("gmail: list unread: %w", err)
	}

	msgs := make([]*domain.InboundMessage, 0, len(list.Messages))
	// Gmail lists newest first.
	for i := len(list.Messages) - 1; i >= 0; i-- {
		ref := list.Messages[i]
		msg, err := a.fetchMessage(ctx, ref.Id)
		if err != nil {
			a.log.WithContext(ctx).WithError(err).Warn("Skipping unreadable message %s", ref.Id)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Ack marks the message read.
func (a *GmailAdapter) Ack(ctx context.Context, msg *domain.InboundMessage) error {
	id := msg.AckToken
	if id == "" {
		id = msg.ID
	}
	return a.cb.Execute(func() error {
		_, err := a.svc.Users.Messages.Modify(a.user, id, &gmail.ModifyMessageRequest{
			RemoveLabelIds: []string{labelUnread},
		}).Context(ctx).Do()
		return err
	})
}

// Send mails a plain-text answer to a customer.
func (a *GmailAdapter) Send(ctx context.Context, to, subject, body string) error {
	raw := buildPlainMessage(a.from, to, subject, body)
	return a.cb.Execute(func() error {
		_, err := a.svc.Users.Messages.Send(a.user, &gmail.Message{
			Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
		}).Context(ctx).Do()
		return err
	})
}

func (a *GmailAdapter) fetchMessage(ctx context.Context, id string) (*domain.InboundMessage, error) {
	full, err := resilience.Call(a.cb, func() (*gmail.Message, error) {
		return a.svc.Users.Messages.Get(a.user, id).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	msg := &domain.InboundMessage{
		ID:         full.Id,
		Source:     domain.SourceMailbox,
		ReceivedAt: time.UnixMilli(full.InternalDate).UTC(),
		AckToken:   full.Id,
	}
	if full.Payload == nil {
		return msg, nil
	}

	msg.From = getHeader(full.Payload.Headers, "From")
	msg.Subject = decodeHeader(getHeader(full.Payload.Headers, "Subject"))

	var text, html string
	extractBody(full.Payload, &text, &html)
	msg.Body = text
	if strings.TrimSpace(msg.Body) == "" {
		msg.Body = html
	}

	if part := firstAttachment(full.Payload); part != nil {
		data, err := a.attachmentData(ctx, full.Id, part)
		if err != nil {
			a.log.WithContext(ctx).WithError(err).Warn("Attachment %q of message %s not downloaded", part.Filename, full.Id)
		} else {
			msg.AttachmentName = part.Filename
			msg.Attachment = data
		}
	}
	return msg, nil
}

func (a *GmailAdapter) attachmentData(ctx context.Context, messageID string, part *gmail.MessagePart) ([]byte, error) {
	if part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}
	att, err := resilience.Call(a.cb, func() (*gmail.MessagePartBody, error) {
		return a.svc.Users.Messages.Attachments.Get(a.user, messageID, part.Body.AttachmentId).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	return decodeBase64URL(att.Data)
}

// extractBody collects the first text/plain and text/html parts, depth first.
func extractBody(part *gmail.MessagePart, text, html *string) {
	if part == nil {
		return
	}
	if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if *text == "" {
				if data, err := decodeBase64URL(part.Body.Data); err == nil {
					*text = string(data)
				}
			}
		case "text/html":
			if *html == "" {
				if data, err := decodeBase64URL(part.Body.Data); err == nil {
					*html = string(data)
				}
			}
		}
	}
	for _, p := range part.Parts {
		extractBody(p, text, html)
	}
}

func firstAttachment(part *gmail.MessagePart) *gmail.MessagePart {
	if part == nil {
		return nil
	}
	if part.Filename != "" && part.Body != nil && (part.Body.AttachmentId != "" || part.Body.Data != "") {
		return part
	}
	for _, p := range part.Parts {
		if found := firstAttachment(p); found != nil {
			return found
		}
	}
	return nil
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

var headerDecoder = new(mime.WordDecoder)

func decodeHeader(v string) string {
	decoded, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// decodeBase64URL accepts Gmail's URL-safe base64 with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func buildPlainMessage(from, to, subject, body string) string {
	var buf strings.Builder
	if from != "" {
		buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	}
	buf.WriteString(fmt.Sprintf("To: %s\r\n", (&mail.Address{Address: to}).String()))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", subject)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(base64.StdEncoding.EncodeToString([]byte(body)))
	return buf.String()
}

// isClientError keeps 4xx answers from tripping the breaker.
func isClientError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429
	}
	return false
}

var (
	_ out.MessageSource = (*GmailAdapter)(nil)
	_ out.Notifier      = (*GmailAdapter)(nil)
)
