package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a customer request.
type RequestStatus string

const (
	StatusNew            RequestStatus = "NEW"
	StatusOperatorReview RequestStatus = "OPERATOR_REVIEW"
	StatusAIGenerated    RequestStatus = "AI_GENERATED"
	StatusClosed         RequestStatus = "CLOSED"
)

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []RequestStatus{StatusNew, StatusOperatorReview, StatusAIGenerated, StatusClosed}

func (s RequestStatus) IsTerminal() bool {
	return s == StatusClosed
}

// IsPending reports whether the request still waits for an operator.
func (s RequestStatus) IsPending() bool {
	return s == StatusNew || s == StatusOperatorReview
}

// RequestCategory classifies what the customer is asking about.
type RequestCategory string

const (
	CategoryWarranty         RequestCategory = "WARRANTY"
	CategoryRepair           RequestCategory = "REPAIR"
	CategoryInstallation     RequestCategory = "INSTALLATION"
	CategoryConfiguration    RequestCategory = "CONFIGURATION"
	CategoryConsultation     RequestCategory = "CONSULTATION"
	CategoryTechnicalSupport RequestCategory = "TECHNICAL_SUPPORT"
	CategoryOther            RequestCategory = "OTHER"
)

// AllCategories lists request categories in classification order.
var AllCategories = []RequestCategory{
	CategoryWarranty,
	CategoryRepair,
	CategoryInstallation,
	CategoryConfiguration,
	CategoryConsultation,
	CategoryTechnicalSupport,
	CategoryOther,
}

// Label is the human-readable category name used in reports.
func (c RequestCategory) Label() string {
	switch c {
	case CategoryWarranty:
		return "Warranty"
	case CategoryRepair:
		return "Repair"
	case CategoryInstallation:
		return "Installation"
	case CategoryConfiguration:
		return "Configuration"
	case CategoryConsultation:
		return "Consultation"
	case CategoryTechnicalSupport:
		return "Technical support"
	default:
		return "Other"
	}
}

// ParseCategory maps free-form category input (API payloads, form queues) onto a category.
// Unknown or empty input yields CategoryOther.
func ParseCategory(raw string) RequestCategory {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch normalized {
	case "":
		return CategoryOther
	case "ГАРАНТИЯ":
		return CategoryWarranty
	case "РЕМОНТ":
		return CategoryRepair
	case "УСТАНОВКА", "МОНТАЖ":
		return CategoryInstallation
	case "НАСТРОЙКА", "КОНФИГУРАЦИЯ":
		return CategoryConfiguration
	case "КОНСУЛЬТАЦИЯ":
		return CategoryConsultation
	case "TECHNICAL", "SUPPORT", "ТЕХПОДДЕРЖКА", "ТЕХНИЧЕСКОЕ":
		return CategoryTechnicalSupport
	}
	for _, c := range AllCategories {
		if string(c) == normalized {
			return c
		}
	}
	return CategoryOther
}

// Request is a unit of customer contact.
type Request struct {
	ID uuid.UUID `json:"id"`

	Email         string          `json:"email"`
	Organization  string          `json:"organization,omitempty"`
	FullName      string          `json:"full_name,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	DeviceType    string          `json:"device_type,omitempty"`
	SerialNumber  string          `json:"serial_number,omitempty"`
	Category      RequestCategory `json:"category"`
	Project       string          `json:"project,omitempty"`
	INN           string          `json:"inn,omitempty"`
	CountryRegion string          `json:"country_region,omitempty"`

	AttachmentName string `json:"attachment_name,omitempty"`
	Attachment     []byte `json:"-"`

	Subject string `json:"subject"`
	Body    string `json:"body"`

	GeneratedAnswer string  `json:"generated_answer"`
	OperatorAnswer  string  `json:"operator_answer,omitempty"`
	OperatorNotes   string  `json:"operator_notes,omitempty"`
	OperatorID      string  `json:"operator_id,omitempty"`
	Confidence      float64 `json:"confidence"`

	Status          RequestStatus `json:"status"`
	IsForm          bool          `json:"is_form"`
	Source          string        `json:"source,omitempty"`
	SourceMessageID string        `json:"source_message_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// OutgoingAnswer is the text sent to the customer: the operator's answer when present,
// otherwise the generated one.
func (r *Request) OutgoingAnswer() string {
	if strings.TrimSpace(r.OperatorAnswer) != "" {
		return r.OperatorAnswer
	}
	return r.GeneratedAnswer
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.Attachment != nil {
		c.Attachment = append([]byte(nil), r.Attachment...)
	}
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		c.RespondedAt = &t
	}
	return &c
}

// Draft is an unpersisted structured request.
type Draft struct {
	Email         string          `json:"email"`
	Organization  string          `json:"organization,omitempty"`
	FullName      string          `json:"full_name,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	DeviceType    string          `json:"device_type,omitempty"`
	SerialNumber  string          `json:"serial_number,omitempty"`
	Category      RequestCategory `json:"category,omitempty"`
	Project       string          `json:"project,omitempty"`
	INN           string          `json:"inn,omitempty"`
	CountryRegion string          `json:"country_region,omitempty"`

	AttachmentName string `json:"attachment_name,omitempty"`
	Attachment     []byte `json:"attachment,omitempty"`

	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`

	Confidence      *float64 `json:"confidence,omitempty"`
	GeneratedAnswer string   `json:"generated_answer,omitempty"`
	OperatorAnswer  string   `json:"operator_answer,omitempty"`

	IsForm          bool   `json:"is_form"`
	Source          string `json:"source,omitempty"`
	SourceMessageID string `json:"source_message_id,omitempty"`
}

// OperatorEdit is an operator's change to a non-closed request.
type OperatorEdit struct {
	OperatorAnswer string `json:"operator_answer"`
	OperatorNotes  string `json:"operator_notes"`
	OperatorID     string `json:"-"`
}

// RequestFilter narrows request listings and counts.
type RequestFilter struct {
	Statuses   []RequestStatus
	Category   RequestCategory
	OperatorID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// CategoryStatusCount is one row of a grouped count.
type CategoryStatusCount struct {
	Category RequestCategory `json:"category" db:"category"`
	Status   RequestStatus   `json:"status" db:"status"`
	Total    int64           `json:"total" db:"total"`
}

// DailyCount is the number of requests created on a UTC day.
type DailyCount struct {
	Day   time.Time `json:"day" db:"day"`
	Total int64     `json:"total" db:"total"`
}
