package postgres

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Open connects to Postgres through lib/pq.
func Open(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// InitializeDatabase creates the necessary tables
func InitializeDatabase(db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			plan VARCHAR(32) NOT NULL DEFAULT 'free',
			policy JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channel_connections (
			id VARCHAR(255) PRIMARY KEY,
			workspace_id VARCHAR(255) NOT NULL REFERENCES workspaces(id),
			provider VARCHAR(32) NOT NULL,
			account_email VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expiry TIMESTAMPTZ NOT NULL,
			sync_cursor TEXT NOT NULL DEFAULT '',
			last_sync_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (workspace_id, provider, account_email)
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id VARCHAR(255) PRIMARY KEY,
			workspace_id VARCHAR(255) NOT NULL,
			channel VARCHAR(32) NOT NULL,
			address VARCHAR(320) NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			first_seen_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (workspace_id, channel, address)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(255) PRIMARY KEY,
			workspace_id VARCHAR(255) NOT NULL,
			channel_connection_id VARCHAR(255) NOT NULL REFERENCES channel_connections(id),
			provider_message_id VARCHAR(255) NOT NULL,
			provider_thread_id VARCHAR(255) NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			sender_email TEXT NOT NULL DEFAULT '',
			recipients TEXT[],
			timestamp TIMESTAMPTZ NOT NULL,
			labels TEXT[],
			raw_payload JSONB,
			contact_id VARCHAR(255) NOT NULL DEFAULT '',
			priority VARCHAR(16) NOT NULL DEFAULT '',
			category VARCHAR(64) NOT NULL DEFAULT '',
			sentiment VARCHAR(16) NOT NULL DEFAULT '',
			actionability VARCHAR(16) NOT NULL DEFAULT '',
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			key_points TEXT[],
			classified_at TIMESTAMPTZ,
			requires_human_review BOOLEAN NOT NULL DEFAULT FALSE,
			review_reason TEXT NOT NULL DEFAULT '',
			has_draft BOOLEAN NOT NULL DEFAULT FALSE,
			is_handled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (channel_connection_id, provider_message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (channel_connection_id, provider_thread_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS drafts (
			id VARCHAR(255) PRIMARY KEY,
			workspace_id VARCHAR(255) NOT NULL,
			message_id VARCHAR(255) NOT NULL REFERENCES messages(id),
			body TEXT NOT NULL,
			tone VARCHAR(32) NOT NULL,
			generated_by_ai BOOLEAN NOT NULL DEFAULT TRUE,
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_auto_sendable BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			hold_for_review BOOLEAN NOT NULL DEFAULT FALSE,
			hold_reason TEXT NOT NULL DEFAULT '',
			is_sent BOOLEAN NOT NULL DEFAULT FALSE,
			sent_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drafts_message ON drafts (message_id)`,
		`CREATE TABLE IF NOT EXISTS auto_send_queue (
			id VARCHAR(255) PRIMARY KEY,
			workspace_id VARCHAR(255) NOT NULL,
			message_id VARCHAR(255) NOT NULL REFERENCES messages(id),
			draft_id VARCHAR(255) NOT NULL REFERENCES drafts(id),
			channel_connection_id VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			scheduled_send_at TIMESTAMPTZ NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			cancel_reason TEXT NOT NULL DEFAULT '',
			provider_message_id VARCHAR(255) NOT NULL DEFAULT '',
			processing_started_at TIMESTAMPTZ,
			sent_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auto_send_queue_due ON auto_send_queue (status, scheduled_send_at, attempts)`,
		`CREATE INDEX IF NOT EXISTS idx_auto_send_queue_message ON auto_send_queue (message_id)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id VARCHAR(255) PRIMARY KEY,
			workspace_id VARCHAR(255) NOT NULL,
			message_id VARCHAR(255) NOT NULL DEFAULT '',
			draft_id VARCHAR(255) NOT NULL DEFAULT '',
			action VARCHAR(32) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			detail JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_workspace ON audit_log (workspace_id, created_at DESC)`,
	}

	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return nil
}
