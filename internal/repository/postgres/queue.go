package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"aiva/internal/model"
	"aiva/internal/repository"
)

type PostgresContactRepository struct {
	db *sqlx.DB
}

func NewPostgresContactRepository(db *sqlx.DB) *PostgresContactRepository {
	return &PostgresContactRepository{db: db}
}

const contactColumns = `id, workspace_id, channel, address, display_name, message_count,
	first_seen_at, last_seen_at, created_at, updated_at`

func (r *PostgresContactRepository) FindByAddress(ctx context.Context, workspaceID, channel, address string) (*model.Contact, error) {
	contact := &model.Contact{}
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE workspace_id = $1 AND channel = $2 AND address = $3`
	if err := r.db.GetContext(ctx, contact, query, workspaceID, channel, model.NormalizeAddress(address)); err != nil {
		return nil, notFound(err, "contact", address)
	}
	return contact, nil
}

func (r *PostgresContactRepository) Create(ctx context.Context, contact *model.Contact) error {
	query := `
		INSERT INTO contacts (` + contactColumns + `)
		VALUES (:id, :workspace_id, :channel, :address, :display_name, :message_count,
			:first_seen_at, :last_seen_at, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, contact)
	if isUniqueViolation(err) {
		return fmt.Errorf("contact %s: %w", contact.Address, repository.ErrConflict)
	}
	return err
}

func (r *PostgresContactRepository) Update(ctx context.Context, contact *model.Contact) error {
	query := `
		UPDATE contacts SET display_name=:display_name, message_count=:message_count,
			last_seen_at=:last_seen_at, updated_at=NOW()
		WHERE id=:id`
	res, err := r.db.NamedExecContext(ctx, query, contact)
	if err != nil {
		return err
	}
	return requireRow(res, "contact", contact.ID)
}

type PostgresDraftRepository struct {
	db *sqlx.DB
}

func NewPostgresDraftRepository(db *sqlx.DB) *PostgresDraftRepository {
	return &PostgresDraftRepository{db: db}
}

const draftColumns = `id, workspace_id, message_id, body, tone, generated_by_ai, confidence_score,
	is_auto_sendable, is_active, hold_for_review, hold_reason, is_sent, sent_at, created_at, updated_at`

func (r *PostgresDraftRepository) Create(ctx context.Context, draft *model.Draft) error {
	query := `
		INSERT INTO drafts (` + draftColumns + `)
		VALUES (:id, :workspace_id, :message_id, :body, :tone, :generated_by_ai, :confidence_score,
			:is_auto_sendable, :is_active, :hold_for_review, :hold_reason, :is_sent, :sent_at, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, draft)
	return err
}

func (r *PostgresDraftRepository) FindByID(ctx context.Context, id string) (*model.Draft, error) {
	draft := &model.Draft{}
	if err := r.db.GetContext(ctx, draft, `SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id); err != nil {
		return nil, notFound(err, "draft", id)
	}
	return draft, nil
}

func (r *PostgresDraftRepository) FindByMessageID(ctx context.Context, messageID string) ([]*model.Draft, error) {
	var drafts []*model.Draft
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE message_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &drafts, query, messageID); err != nil {
		return nil, err
	}
	return drafts, nil
}

func (r *PostgresDraftRepository) DeactivateForMessage(ctx context.Context, messageID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE drafts SET is_active=FALSE, updated_at=NOW() WHERE message_id=$1 AND is_active AND NOT is_sent`,
		messageID)
	return err
}

func (r *PostgresDraftRepository) SetHold(ctx context.Context, id string, hold bool, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE drafts SET hold_for_review=$1, hold_reason=$2, updated_at=NOW() WHERE id=$3`,
		hold, reason, id)
	if err != nil {
		return err
	}
	return requireRow(res, "draft", id)
}

func (r *PostgresDraftRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE drafts SET is_sent=TRUE, sent_at=$1, updated_at=NOW() WHERE id=$2 AND NOT is_sent`,
		sentAt, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

type PostgresQueueRepository struct {
	db *sqlx.DB
}

func NewPostgresQueueRepository(db *sqlx.DB) *PostgresQueueRepository {
	return &PostgresQueueRepository{db: db}
}

const queueColumns = `id, workspace_id, message_id, draft_id, channel_connection_id, status, scheduled_send_at,
	attempts, confidence_score, last_error, cancel_reason, provider_message_id, processing_started_at,
	sent_at, created_at, updated_at`

func (r *PostgresQueueRepository) Create(ctx context.Context, item *model.AutoSendQueueItem) error {
	query := `
		INSERT INTO auto_send_queue (` + queueColumns + `)
		VALUES (:id, :workspace_id, :message_id, :draft_id, :channel_connection_id, :status, :scheduled_send_at,
			:attempts, :confidence_score, :last_error, :cancel_reason, :provider_message_id, :processing_started_at,
			:sent_at, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, item)
	return err
}

func (r *PostgresQueueRepository) FindByID(ctx context.Context, id string) (*model.AutoSendQueueItem, error) {
	item := &model.AutoSendQueueItem{}
	if err := r.db.GetContext(ctx, item, `SELECT `+queueColumns+` FROM auto_send_queue WHERE id = $1`, id); err != nil {
		return nil, notFound(err, "queue item", id)
	}
	return item, nil
}

func (r *PostgresQueueRepository) FindByMessageID(ctx context.Context, messageID string) ([]*model.AutoSendQueueItem, error) {
	var items []*model.AutoSendQueueItem
	query := `SELECT ` + queueColumns + ` FROM auto_send_queue WHERE message_id = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &items, query, messageID); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *PostgresQueueRepository) FindDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.AutoSendQueueItem, error) {
	var items []*model.AutoSendQueueItem
	query := `SELECT ` + queueColumns + ` FROM auto_send_queue
		WHERE status = $1 AND scheduled_send_at <= $2 AND attempts < $3
		ORDER BY scheduled_send_at ASC
		LIMIT $4`
	if err := r.db.SelectContext(ctx, &items, query, model.QueueStatusPending, now, maxAttempts, limit); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *PostgresQueueRepository) FindStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]*model.AutoSendQueueItem, error) {
	var items []*model.AutoSendQueueItem
	query := `SELECT ` + queueColumns + ` FROM auto_send_queue
		WHERE status = $1 AND COALESCE(processing_started_at, updated_at) < $2
		ORDER BY updated_at ASC
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &items, query, model.QueueStatusProcessing, startedBefore, limit); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *PostgresQueueRepository) Reschedule(ctx context.Context, id string, attempts int, at time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE auto_send_queue SET scheduled_send_at=$1, updated_at=NOW()
		WHERE id=$2 AND status=$3 AND attempts=$4`,
		at, id, model.QueueStatusPending, attempts)
}

func (r *PostgresQueueRepository) Claim(ctx context.Context, id string, attempts int, startedAt time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE auto_send_queue SET status=$1, processing_started_at=$2, updated_at=NOW()
		WHERE id=$3 AND status=$4 AND attempts=$5`,
		model.QueueStatusProcessing, startedAt, id, model.QueueStatusPending, attempts)
}

func (r *PostgresQueueRepository) Cancel(ctx context.Context, id string, from model.QueueStatus, attempts int, reason string) (bool, error) {
	return r.exec(ctx,
		`UPDATE auto_send_queue SET status=$1, cancel_reason=$2, processing_started_at=NULL, updated_at=NOW()
		WHERE id=$3 AND status=$4 AND attempts=$5`,
		model.QueueStatusCancelled, reason, id, from, attempts)
}

func (r *PostgresQueueRepository) Fail(ctx context.Context, id string, attempts int, reason string) (bool, error) {
	return r.exec(ctx,
		`UPDATE auto_send_queue SET status=$1, last_error=$2, processing_started_at=NULL, updated_at=NOW()
		WHERE id=$3 AND status=$4 AND attempts=$5`,
		model.QueueStatusFailed, reason, id, model.QueueStatusProcessing, attempts)
}

func (r *PostgresQueueRepository) RecordAttemptFailure(ctx context.Context, id string, attempts, maxAttempts int, reason string) (model.QueueStatus, bool, error) {
	next := model.QueueStatusPending
	if attempts+1 >= maxAttempts {
		next = model.QueueStatusFailed
	}
	ok, err := r.exec(ctx,
		`UPDATE auto_send_queue SET status=$1, attempts=$2, last_error=$3, processing_started_at=NULL, updated_at=NOW()
		WHERE id=$4 AND status=$5 AND attempts=$6`,
		next, attempts+1, reason, id, model.QueueStatusProcessing, attempts)
	return next, ok, err
}

func (r *PostgresQueueRepository) MarkSent(ctx context.Context, id string, attempts int, providerMessageID string, sentAt time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE auto_send_queue SET status=$1, provider_message_id=$2, sent_at=$3, processing_started_at=NULL, updated_at=NOW()
		WHERE id=$4 AND status=$5 AND attempts=$6`,
		model.QueueStatusSent, providerMessageID, sentAt, id, model.QueueStatusProcessing, attempts)
}

func (r *PostgresQueueRepository) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

type auditRow struct {
	ID          string    `db:"id"`
	WorkspaceID string    `db:"workspace_id"`
	MessageID   string    `db:"message_id"`
	DraftID     string    `db:"draft_id"`
	Action      string    `db:"action"`
	Confidence  float64   `db:"confidence"`
	Detail      string    `db:"detail"`
	CreatedAt   time.Time `db:"created_at"`
}

type PostgresAuditRepository struct {
	db *sqlx.DB
}

func NewPostgresAuditRepository(db *sqlx.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (r *PostgresAuditRepository) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	detail := []byte("{}")
	if entry.Detail != nil {
		var err error
		if detail, err = json.Marshal(entry.Detail); err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, workspace_id, message_id, draft_id, action, confidence, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.WorkspaceID, entry.MessageID, entry.DraftID, entry.Action,
		entry.Confidence, string(detail), entry.CreatedAt)
	return err
}

func (r *PostgresAuditRepository) FindByWorkspace(ctx context.Context, workspaceID, messageID string, limit int) ([]*model.AuditLogEntry, error) {
	var rows []auditRow
	query := `SELECT id, workspace_id, message_id, draft_id, action, confidence, detail, created_at
		FROM audit_log
		WHERE workspace_id = $1 AND ($2 = '' OR message_id = $2)
		ORDER BY created_at DESC
		LIMIT NULLIF($3, 0)`
	if err := r.db.SelectContext(ctx, &rows, query, workspaceID, messageID, limit); err != nil {
		return nil, err
	}

	entries := make([]*model.AuditLogEntry, 0, len(rows))
	for _, row := range rows {
		entry := &model.AuditLogEntry{
			ID:          row.ID,
			WorkspaceID: row.WorkspaceID,
			MessageID:   row.MessageID,
			DraftID:     row.DraftID,
			Action:      row.Action,
			Confidence:  row.Confidence,
			CreatedAt:   row.CreatedAt,
		}
		if err := json.Unmarshal([]byte(row.Detail), &entry.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode audit detail %s: %w", row.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
