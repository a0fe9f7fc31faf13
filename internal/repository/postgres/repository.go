package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"aiva/internal/model"
	"aiva/internal/repository"
)

const uniqueViolation = "23505"

// notFound maps sql.ErrNoRows onto the repository sentinel.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, repository.ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// affected reports whether a conditional write matched a row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// workspaceRow stores the policy as a JSONB document.
type workspaceRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Plan      string    `db:"plan"`
	Policy    string    `db:"policy"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type PostgresWorkspaceRepository struct {
	db *sqlx.DB
}

func NewPostgresWorkspaceRepository(db *sqlx.DB) *PostgresWorkspaceRepository {
	return &PostgresWorkspaceRepository{db: db}
}

func (r *PostgresWorkspaceRepository) Create(ctx context.Context, workspace *model.Workspace) error {
	policy, err := json.Marshal(workspace.Policy)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	query := `
		INSERT INTO workspaces (id, name, plan, policy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			plan = EXCLUDED.plan,
			policy = EXCLUDED.policy,
			updated_at = NOW()`
	_, err = r.db.ExecContext(ctx, query,
		workspace.ID, workspace.Name, workspace.Plan, string(policy),
		workspace.CreatedAt, workspace.UpdatedAt)
	return err
}

func (r *PostgresWorkspaceRepository) FindByID(ctx context.Context, id string) (*model.Workspace, error) {
	var row workspaceRow
	err := r.db.GetContext(ctx, &row, `SELECT id, name, plan, policy, created_at, updated_at FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "workspace", id)
	}

	ws := &model.Workspace{
		ID:        row.ID,
		Name:      row.Name,
		Plan:      row.Plan,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Policy) > 0 {
		if err := json.Unmarshal([]byte(row.Policy), &ws.Policy); err != nil {
			return nil, fmt.Errorf("failed to decode policy for workspace %s: %w", id, err)
		}
	}
	return ws, nil
}

func (r *PostgresWorkspaceRepository) GetPolicy(ctx context.Context, workspaceID string) (*model.WorkspacePolicy, error) {
	ws, err := r.FindByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return &ws.Policy, nil
}

type PostgresConnectionRepository struct {
	db *sqlx.DB
}

func NewPostgresConnectionRepository(db *sqlx.DB) *PostgresConnectionRepository {
	return &PostgresConnectionRepository{db: db}
}

const connectionColumns = `id, workspace_id, provider, account_email, status, access_token, refresh_token,
	token_expiry, sync_cursor, last_sync_at, created_at, updated_at`

func (r *PostgresConnectionRepository) Create(ctx context.Context, conn *model.ChannelConnection) error {
	query := `
		INSERT INTO channel_connections (` + connectionColumns + `)
		VALUES (:id, :workspace_id, :provider, :account_email, :status, :access_token, :refresh_token,
			:token_expiry, :sync_cursor, :last_sync_at, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, conn)
	if isUniqueViolation(err) {
		return fmt.Errorf("connection %s: %w", conn.AccountEmail, repository.ErrConflict)
	}
	return err
}

func (r *PostgresConnectionRepository) FindByID(ctx context.Context, id string) (*model.ChannelConnection, error) {
	conn := &model.ChannelConnection{}
	err := r.db.GetContext(ctx, conn, `SELECT `+connectionColumns+` FROM channel_connections WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "connection", id)
	}
	return conn, nil
}

func (r *PostgresConnectionRepository) FindByAccount(ctx context.Context, workspaceID, provider, accountEmail string) (*model.ChannelConnection, error) {
	conn := &model.ChannelConnection{}
	query := `SELECT ` + connectionColumns + ` FROM channel_connections
		WHERE workspace_id = $1 AND provider = $2 AND account_email = $3`
	if err := r.db.GetContext(ctx, conn, query, workspaceID, provider, accountEmail); err != nil {
		return nil, notFound(err, "connection for", accountEmail)
	}
	return conn, nil
}

func (r *PostgresConnectionRepository) FindActive(ctx context.Context) ([]*model.ChannelConnection, error) {
	var conns []*model.ChannelConnection
	query := `SELECT ` + connectionColumns + ` FROM channel_connections WHERE status = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &conns, query, model.ConnectionStatusActive); err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *PostgresConnectionRepository) Update(ctx context.Context, conn *model.ChannelConnection) error {
	query := `
		UPDATE channel_connections SET account_email=:account_email, status=:status,
			access_token=:access_token, refresh_token=:refresh_token, token_expiry=:token_expiry,
			sync_cursor=:sync_cursor, last_sync_at=:last_sync_at, updated_at=NOW()
		WHERE id=:id`
	res, err := r.db.NamedExecContext(ctx, query, conn)
	if err != nil {
		return err
	}
	return requireRow(res, "connection", conn.ID)
}

func (r *PostgresConnectionRepository) UpdateTokens(ctx context.Context, id, accessToken string, expiry time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE channel_connections SET access_token=$1, token_expiry=$2, updated_at=NOW() WHERE id=$3`,
		accessToken, expiry, id)
	if err != nil {
		return err
	}
	return requireRow(res, "connection", id)
}

func (r *PostgresConnectionRepository) UpdateSyncState(ctx context.Context, id, cursor string, syncedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE channel_connections SET sync_cursor=$1, last_sync_at=$2, updated_at=NOW() WHERE id=$3`,
		cursor, syncedAt, id)
	if err != nil {
		return err
	}
	return requireRow(res, "connection", id)
}

func (r *PostgresConnectionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE channel_connections SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	return requireRow(res, "connection", id)
}

func requireRow(res sql.Result, what, id string) error {
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", what, id, repository.ErrNotFound)
	}
	return nil
}
