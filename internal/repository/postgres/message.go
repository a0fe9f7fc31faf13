package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"aiva/internal/model"
	"aiva/internal/repository"
)

type messageRow struct {
	ID                  string         `db:"id"`
	WorkspaceID         string         `db:"workspace_id"`
	ChannelConnectionID string         `db:"channel_connection_id"`
	ProviderMessageID   string         `db:"provider_message_id"`
	ProviderThreadID    string         `db:"provider_thread_id"`
	Subject             string         `db:"subject"`
	Body                string         `db:"body"`
	SenderName          string         `db:"sender_name"`
	SenderEmail         string         `db:"sender_email"`
	Recipients          pq.StringArray `db:"recipients"`
	Timestamp           time.Time      `db:"timestamp"`
	Labels              pq.StringArray `db:"labels"`
	RawPayload          sql.NullString `db:"raw_payload"`
	ContactID           string         `db:"contact_id"`
	Priority            string         `db:"priority"`
	Category            string         `db:"category"`
	Sentiment           string         `db:"sentiment"`
	Actionability       string         `db:"actionability"`
	ConfidenceScore     float64        `db:"confidence_score"`
	Summary             string         `db:"summary"`
	KeyPoints           pq.StringArray `db:"key_points"`
	ClassifiedAt        *time.Time     `db:"classified_at"`
	RequiresHumanReview bool           `db:"requires_human_review"`
	ReviewReason        string         `db:"review_reason"`
	HasDraft            bool           `db:"has_draft"`
	IsHandled           bool           `db:"is_handled"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func toMessageRow(m *model.Message) *messageRow {
	return &messageRow{
		ID:                  m.ID,
		WorkspaceID:         m.WorkspaceID,
		ChannelConnectionID: m.ChannelConnectionID,
		ProviderMessageID:   m.ProviderMessageID,
		ProviderThreadID:    m.ProviderThreadID,
		Subject:             m.Subject,
		Body:                m.Body,
		SenderName:          m.SenderName,
		SenderEmail:         m.SenderEmail,
		Recipients:          m.Recipients,
		Timestamp:           m.Timestamp,
		Labels:              m.Labels,
		RawPayload:          sql.NullString{String: string(m.RawPayload), Valid: len(m.RawPayload) > 0},
		ContactID:           m.ContactID,
		Priority:            m.Priority,
		Category:            m.Category,
		Sentiment:           m.Sentiment,
		Actionability:       m.Actionability,
		ConfidenceScore:     m.ConfidenceScore,
		Summary:             m.Summary,
		KeyPoints:           m.KeyPoints,
		ClassifiedAt:        m.ClassifiedAt,
		RequiresHumanReview: m.RequiresHumanReview,
		ReviewReason:        m.ReviewReason,
		HasDraft:            m.HasDraft,
		IsHandled:           m.IsHandled,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func (row *messageRow) toModel() *model.Message {
	return &model.Message{
		ID:                  row.ID,
		WorkspaceID:         row.WorkspaceID,
		ChannelConnectionID: row.ChannelConnectionID,
		ProviderMessageID:   row.ProviderMessageID,
		ProviderThreadID:    row.ProviderThreadID,
		Subject:             row.Subject,
		Body:                row.Body,
		SenderName:          row.SenderName,
		SenderEmail:         row.SenderEmail,
		Recipients:          row.Recipients,
		Timestamp:           row.Timestamp,
		Labels:              row.Labels,
		RawPayload:          rawPayload(row.RawPayload),
		ContactID:           row.ContactID,
		Priority:            row.Priority,
		Category:            row.Category,
		Sentiment:           row.Sentiment,
		Actionability:       row.Actionability,
		ConfidenceScore:     row.ConfidenceScore,
		Summary:             row.Summary,
		KeyPoints:           row.KeyPoints,
		ClassifiedAt:        row.ClassifiedAt,
		RequiresHumanReview: row.RequiresHumanReview,
		ReviewReason:        row.ReviewReason,
		HasDraft:            row.HasDraft,
		IsHandled:           row.IsHandled,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

func rawPayload(v sql.NullString) json.RawMessage {
	if !v.Valid {
		return nil
	}
	return json.RawMessage(v.String)
}

const messageColumns = `id, workspace_id, channel_connection_id, provider_message_id, provider_thread_id,
	subject, body, sender_name, sender_email, recipients, timestamp, labels, raw_payload, contact_id,
	priority, category, sentiment, actionability, confidence_score, summary, key_points, classified_at,
	requires_human_review, review_reason, has_draft, is_handled, created_at, updated_at`

type PostgresMessageRepository struct {
	db *sqlx.DB
}

func NewPostgresMessageRepository(db *sqlx.DB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, msg *model.Message) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (:id, :workspace_id, :channel_connection_id, :provider_message_id, :provider_thread_id,
			:subject, :body, :sender_name, :sender_email, :recipients, :timestamp, :labels, :raw_payload, :contact_id,
			:priority, :category, :sentiment, :actionability, :confidence_score, :summary, :key_points, :classified_at,
			:requires_human_review, :review_reason, :has_draft, :is_handled, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, toMessageRow(msg))
	if isUniqueViolation(err) {
		return fmt.Errorf("message %s: %w", msg.ProviderMessageID, repository.ErrConflict)
	}
	return err
}

func (r *PostgresMessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var row messageRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id); err != nil {
		return nil, notFound(err, "message", id)
	}
	return row.toModel(), nil
}

func (r *PostgresMessageRepository) FindByProviderID(ctx context.Context, connectionID, providerMessageID string) (*model.Message, error) {
	var row messageRow
	query := `SELECT ` + messageColumns + ` FROM messages WHERE channel_connection_id = $1 AND provider_message_id = $2`
	if err := r.db.GetContext(ctx, &row, query, connectionID, providerMessageID); err != nil {
		return nil, notFound(err, "message", providerMessageID)
	}
	return row.toModel(), nil
}

func (r *PostgresMessageRepository) FindByThread(ctx context.Context, connectionID, providerThreadID string) ([]*model.Message, error) {
	var rows []messageRow
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE channel_connection_id = $1 AND provider_thread_id = $2 ORDER BY timestamp ASC`
	if err := r.db.SelectContext(ctx, &rows, query, connectionID, providerThreadID); err != nil {
		return nil, err
	}

	messages := make([]*model.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toModel())
	}
	return messages, nil
}

func (r *PostgresMessageRepository) Update(ctx context.Context, msg *model.Message) error {
	query := `
		UPDATE messages SET subject=:subject, body=:body, sender_name=:sender_name, sender_email=:sender_email,
			recipients=:recipients, labels=:labels, contact_id=:contact_id, priority=:priority, category=:category,
			sentiment=:sentiment, actionability=:actionability, confidence_score=:confidence_score,
			summary=:summary, key_points=:key_points, classified_at=:classified_at,
			requires_human_review=:requires_human_review, review_reason=:review_reason,
			has_draft=:has_draft, is_handled=:is_handled, updated_at=NOW()
		WHERE id=:id`
	res, err := r.db.NamedExecContext(ctx, query, toMessageRow(msg))
	if err != nil {
		return err
	}
	return requireRow(res, "message", msg.ID)
}
