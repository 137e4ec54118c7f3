// Package persistence implements the request and document repositories.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"support_server/core/domain"
	"support_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RequestAdapter implements out.RequestRepository on Postgres.
type RequestAdapter struct {
	db *sqlx.DB
}

var _ out.RequestRepository = (*RequestAdapter)(nil)

func NewRequestAdapter(db *sqlx.DB) *RequestAdapter {
	return &RequestAdapter{db: db}
}

type requestRow struct {
	ID              uuid.UUID    `db:"id"`
	Email           string       `db:"email"`
	Organization    string       `db:"organization"`
	FullName        string       `db:"full_name"`
	Phone           string       `db:"phone"`
	DeviceType      string       `db:"device_type"`
	SerialNumber    string       `db:"serial_number"`
	Category        string       `db:"category"`
	Project         string       `db:"project"`
	INN             string       `db:"inn"`
	CountryRegion   string       `db:"country_region"`
	AttachmentName  string       `db:"attachment_name"`
	Attachment      []byte       `db:"attachment"`
	Subject         string       `db:"subject"`
	Body            string       `db:"body"`
	GeneratedAnswer string       `db:"generated_answer"`
	OperatorAnswer  string       `db:"operator_answer"`
	OperatorNotes   string       `db:"operator_notes"`
	OperatorID      string       `db:"operator_id"`
	Confidence      float64      `db:"confidence"`
	Status          string       `db:"status"`
	IsForm          bool         `db:"is_form"`
	Source          string       `db:"source"`
	SourceMessageID string       `db:"source_message_id"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
	RespondedAt     sql.NullTime `db:"responded_at"`
}

const requestColumns = `id, email, organization, full_name, phone, device_type, serial_number,
	category, project, inn, country_region, attachment_name, attachment, subject, body,
	generated_answer, operator_answer, operator_notes, operator_id, confidence, status,
	is_form, source, source_message_id, created_at, updated_at, responded_at`

func toRow(r *domain.Request) *requestRow {
	row := &requestRow{
		ID:              r.ID,
		Email:           r.Email,
		Organization:    r.Organization,
		FullName:        r.FullName,
		Phone:           r.Phone,
		DeviceType:      r.DeviceType,
		SerialNumber:    r.SerialNumber,
		Category:        string(r.Category),
		Project:         r.Project,
		INN:             r.INN,
		CountryRegion:   r.CountryRegion,
		AttachmentName:  r.AttachmentName,
		Attachment:      r.Attachment,
		Subject:         r.Subject,
		Body:            r.Body,
		GeneratedAnswer: r.GeneratedAnswer,
		OperatorAnswer:  r.OperatorAnswer,
		OperatorNotes:   r.OperatorNotes,
		OperatorID:      r.OperatorID,
		Confidence:      r.Confidence,
		Status:          string(r.Status),
		IsForm:          r.IsForm,
		Source:          r.Source,
		SourceMessageID: r.SourceMessageID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.RespondedAt != nil {
		row.RespondedAt = sql.NullTime{Time: *r.RespondedAt, Valid: true}
	}
	return row
}

func (row *requestRow) toDomain() *domain.Request {
	r := &domain.Request{
		ID:              row.ID,
		Email:           row.Email,
		Organization:    row.Organization,
		FullName:        row.FullName,
		Phone:           row.Phone,
		DeviceType:      row.DeviceType,
		SerialNumber:    row.SerialNumber,
		Category:        domain.RequestCategory(row.Category),
		Project:         row.Project,
		INN:             row.INN,
		CountryRegion:   row.CountryRegion,
		AttachmentName:  row.AttachmentName,
		Attachment:      row.Attachment,
		Subject:         row.Subject,
		Body:            row.Body,
		GeneratedAnswer: row.GeneratedAnswer,
		OperatorAnswer:  row.OperatorAnswer,
		OperatorNotes:   row.OperatorNotes,
		OperatorID:      row.OperatorID,
		Confidence:      row.Confidence,
		Status:          domain.RequestStatus(row.Status),
		IsForm:          row.IsForm,
		Source:          row.Source,
		SourceMessageID: row.SourceMessageID,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
	if row.RespondedAt.Valid {
		t := row.RespondedAt.Time.UTC()
		r.RespondedAt = &t
	}
	return r
}

func (a *RequestAdapter) Create(ctx context.Context, req *domain.Request) error {
	if req == nil || req.ID == uuid.Nil {
		return ErrInvalidInput
	}
	query := `INSERT INTO requests (` + requestColumns + `) VALUES (
		:id, :email, :organization, :full_name, :phone, :device_type, :serial_number,
		:category, :project, :inn, :country_region, :attachment_name, :attachment, :subject, :body,
		:generated_answer, :operator_answer, :operator_notes, :operator_id, :confidence, :status,
		:is_form, :source, :source_message_id, :created_at, :updated_at, :responded_at)`

	if _, err := a.db.NamedExecContext(ctx, query, toRow(req)); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (a *RequestAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	var row requestRow
	err := a.db.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// UpdateWithLock runs fn inside a transaction holding a row lock. The row is rewritten only
// when fn succeeds.
func (a *RequestAdapter) UpdateWithLock(ctx context.Context, id uuid.UUID, fn func(req *domain.Request) error) (*domain.Request, error) {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row requestRow
	err = tx.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM requests WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	req := row.toDomain()
	if err := fn(req); err != nil {
		return nil, err
	}

	_, err = tx.NamedExecContext(ctx, `UPDATE requests SET
		email = :email, organization = :organization, full_name = :full_name, phone = :phone,
		device_type = :device_type, serial_number = :serial_number, category = :category,
		project = :project, inn = :inn, country_region = :country_region,
		attachment_name = :attachment_name, attachment = :attachment, subject = :subject, body = :body,
		generated_answer = :generated_answer, operator_answer = :operator_answer,
		operator_notes = :operator_notes, operator_id = :operator_id, confidence = :confidence,
		status = :status, is_form = :is_form, source = :source, source_message_id = :source_message_id,
		updated_at = :updated_at, responded_at = :responded_at
		WHERE id = :id`, toRow(req))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return req, nil
}

func buildWhere(f domain.RequestFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.OperatorID != "" {
		add("operator_id = $%d", f.OperatorID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (a *RequestAdapter) List(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, error) {
	where, args := buildWhere(filter)
	query := `SELECT ` + requestColumns + ` FROM requests` + where + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []requestRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]*domain.Request, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toDomain())
	}
	return result, nil
}

func (a *RequestAdapter) Count(ctx context.Context, filter domain.RequestFilter) (int64, error) {
	where, args := buildWhere(filter)
	var n int64
	err := a.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM requests`+where, args...)
	return n, err
}

func (a *RequestAdapter) CountByCategoryAndStatus(ctx context.Context) ([]domain.CategoryStatusCount, error) {
	var rows []domain.CategoryStatusCount
	err := a.db.SelectContext(ctx, &rows,
		`SELECT category, status, COUNT(*) AS total FROM requests GROUP BY category, status`)
	return rows, err
}

func (a *RequestAdapter) CountDailyFrom(ctx context.Context, from time.Time) ([]domain.DailyCount, error) {
	var rows []domain.DailyCount
	err := a.db.SelectContext(ctx, &rows, `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, COUNT(*) AS total
		FROM requests
		WHERE created_at >= $1
		GROUP BY 1
		ORDER BY 1`, from)
	return rows, err
}

// CountClosedByAnswer splits closed requests into those sent with the generated answer and
// those whose answer an operator rewrote.
func (a *RequestAdapter) CountClosedByAnswer(ctx context.Context) (int64, int64, error) {
	var counts struct {
		Approved int64 `db:"approved"`
		Edited   int64 `db:"edited"`
	}
	err := a.db.GetContext(ctx, &counts, `
		SELECT
			COUNT(*) FILTER (WHERE operator_answer = '' OR operator_answer = generated_answer) AS approved,
			COUNT(*) FILTER (WHERE operator_answer <> '' AND operator_answer <> generated_answer) AS edited
		FROM requests
		WHERE status = $1`, string(domain.StatusClosed))
	return counts.Approved, counts.Edited, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
