// Package extraction turns free-form customer messages into structured request drafts.
package extraction

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"support_server/core/domain"
	"support_server/pkg/apperr"
	"support_server/pkg/logger"
)

// PlaceholderEmail is used when neither the sender header nor the body contains an address.
const PlaceholderEmail = "unknown@example.com"

const maxValueRunes = 100

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\+?[0-9]{1,4}?[-.\s]?\(?[0-9]{1,3}?\)?[-.\s]?[0-9]{1,4}[-.\s]?[0-9]{1,4}[-.\s]?[0-9]{1,9}`)
	innPattern   = regexp.MustCompile(`\b\d{10,12}\b`)
	artifacts    = regexp.MustCompile(`[<>\[\]{}]`)
)

// keywordRule binds a keyword to the draft field it fills.
type keywordRule struct {
	keyword string
	field   string
	target  func(d *domain.Draft) *string
}

// Rules are tried in order; a field filled by an earlier rule is never overwritten.
var keywordRules = []keywordRule{
	{"организация", "organization", func(d *domain.Draft) *string { return &d.Organization }},
	{"фио", "full_name", func(d *domain.Draft) *string { return &d.FullName }},
	{"имя", "full_name", func(d *domain.Draft) *string { return &d.FullName }},
	{"тип прибора", "device_type", func(d *domain.Draft) *string { return &d.DeviceType }},
	{"серийный номер", "serial_number", func(d *domain.Draft) *string { return &d.SerialNumber }},
	{"заводской номер", "serial_number", func(d *domain.Draft) *string { return &d.SerialNumber }},
	{"проект", "project", func(d *domain.Draft) *string { return &d.Project }},
	{"страна", "country_region", func(d *domain.Draft) *string { return &d.CountryRegion }},
	{"регион", "country_region", func(d *domain.Draft) *string { return &d.CountryRegion }},
}

// categoryGroup is one entry of the ordered classification table.
type categoryGroup struct {
	category domain.RequestCategory
	keywords []string
}

// Earlier groups shadow later ones.
var categoryGroups = []categoryGroup{
	{domain.CategoryWarranty, []string{"гарантия", "warranty"}},
	{domain.CategoryRepair, []string{"ремонт", "repair", "неисправн"}},
	{domain.CategoryInstallation, []string{"установка", "монтаж", "installation"}},
	{domain.CategoryConfiguration, []string{"настройка", "конфигурация", "configuration"}},
	{domain.CategoryConsultation, []string{"консультация", "вопрос", "помощь", "consultation"}},
	{domain.CategoryTechnicalSupport, []string{"техподдержка", "тех поддержка", "support"}},
}

// Extractor is stateless and safe for concurrent use.
type Extractor struct {
	log *logger.Logger
}

func NewExtractor() *Extractor {
	return &Extractor{log: logger.WithField("component", "extractor")}
}

// Extract builds a draft from a subject, a body (plain text or markup) and the sender header.
// It never panics and the returned draft always has a sender address.
func (e *Extractor) Extract(subject, body, from string) *domain.Draft {
	draft := &domain.Draft{
		Subject:  subject,
		Body:     body,
		Category: domain.CategoryOther,
	}
	draft.Email = e.resolveEmail(from, body)

	defer func() {
		if r := recover(); r != nil {
			e.log.WithError(apperr.Extraction("body", fmt.Errorf("%v", r))).Warn("Extraction aborted")
			if draft.Email == "" {
				draft.Email = PlaceholderEmail
			}
		}
	}()

	text := NormalizeBody(body)
	e.extractPatterns(draft, text)
	for _, rule := range keywordRules {
		e.applyRule(draft, text, rule)
	}
	draft.Category = Classify(subject, body)
	return draft
}

// ExtractMessage is Extract for an inbound message, carrying source metadata and attachment.
func (e *Extractor) ExtractMessage(msg *domain.InboundMessage) *domain.Draft {
	draft := e.Extract(msg.Subject, msg.Body, msg.From)
	draft.Source = msg.Source
	draft.SourceMessageID = msg.ID
	draft.AttachmentName = msg.AttachmentName
	draft.Attachment = msg.Attachment
	return draft
}

func (e *Extractor) resolveEmail(from, body string) string {
	if m := emailPattern.FindString(from); m != "" {
		return m
	}
	if m := emailPattern.FindString(body); m != "" {
		return m
	}
	return PlaceholderEmail
}

func (e *Extractor) extractPatterns(draft *domain.Draft, text string) {
	if m := phonePattern.FindString(text); m != "" {
		draft.Phone = strings.TrimSpace(m)
	}
	if m := innPattern.FindString(text); m != "" {
		draft.INN = m
	}
}

func (e *Extractor) applyRule(draft *domain.Draft, text string, rule keywordRule) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithError(apperr.Extraction(rule.field, fmt.Errorf("%v", r))).Warn("Keyword extraction failed")
		}
	}()

	target := rule.target(draft)
	if *target != "" {
		return
	}
	if value, ok := ValueAfterKeyword(text, rule.keyword); ok {
		*target = value
	}
}

// ValueAfterKeyword finds the first case-insensitive occurrence of keyword and returns the
// text following it: an optional ':' or '=' is skipped, the value ends at a newline or after
// 100 characters, bracket artifacts are removed. Values of one character or less are rejected.
func ValueAfterKeyword(text, keyword string) (string, bool) {
	runes := []rune(text)
	idx := indexFold(runes, []rune(strings.ToLower(keyword)))
	if idx < 0 {
		return "", false
	}

	rest := strings.TrimSpace(string(runes[idx+utf8.RuneCountInString(keyword):]))
	if strings.HasPrefix(rest, ":") || strings.HasPrefix(rest, "=") {
		rest = strings.TrimSpace(rest[1:])
	}

	restRunes := []rune(rest)
	end := len(restRunes)
	for i, r := range restRunes {
		if r == '\n' {
			end = i
			break
		}
	}
	if end > maxValueRunes {
		end = maxValueRunes
	}

	value := strings.TrimSpace(string(restRunes[:end]))
	value = strings.TrimSpace(artifacts.ReplaceAllString(value, ""))
	if utf8.RuneCountInString(value) <= 1 {
		return "", false
	}
	return value, true
}

// indexFold returns the rune index of the first case-insensitive match of lowered in runes.
func indexFold(runes, lowered []rune) int {
	if len(lowered) == 0 || len(lowered) > len(runes) {
		return -1
	}
	lower := []rune(strings.ToLower(string(runes)))
	if len(lower) != len(runes) {
		return -1
	}
outer:
	for i := 0; i+len(lowered) <= len(lower); i++ {
		for j, r := range lowered {
			if lower[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}

// Classify returns the first category whose keywords occur in subject or body.
func Classify(subject, body string) domain.RequestCategory {
	combined := strings.ToLower(subject + " " + body)
	for _, group := range categoryGroups {
		for _, kw := range group.keywords {
			if strings.Contains(combined, kw) {
				return group.category
			}
		}
	}
	return domain.CategoryOther
}
