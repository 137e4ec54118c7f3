package domain

import "time"

const (
	SourceMailbox = "mailbox"
	SourceForm    = "form"
	SourceAPI     = "api"
)

// InboundMessage is a raw message pulled from an ingestion source.
// Form submissions arrive already structured and carry Draft.
type InboundMessage struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	From           string    `json:"from"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	AttachmentName string    `json:"attachment_name,omitempty"`
	Attachment     []byte    `json:"-"`
	ReceivedAt     time.Time `json:"received_at"`
	Draft          *Draft    `json:"draft,omitempty"`

	// AckToken is source-specific data needed to acknowledge the message.
	AckToken string `json:"-"`
}
