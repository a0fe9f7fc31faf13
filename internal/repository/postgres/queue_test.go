package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiva/internal/model"
)

func newMockQueue(t *testing.T) (*PostgresQueueRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresQueueRepository(sqlx.NewDb(db, "postgres")), mock
}

var startedAt = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

const (
	claimSQL       = `UPDATE auto_send_queue SET status=\$1, processing_started_at=\$2, updated_at=NOW\(\) WHERE id=\$3 AND status=\$4 AND attempts=\$5`
	attemptSQL     = `UPDATE auto_send_queue SET status=\$1, attempts=\$2, last_error=\$3, processing_started_at=NULL, updated_at=NOW\(\) WHERE id=\$4 AND status=\$5 AND attempts=\$6`
	markSentSQL    = `UPDATE auto_send_queue SET status=\$1, provider_message_id=\$2, sent_at=\$3, processing_started_at=NULL, updated_at=NOW\(\) WHERE id=\$4 AND status=\$5 AND attempts=\$6`
	cancelSQL      = `UPDATE auto_send_queue SET status=\$1, cancel_reason=\$2, processing_started_at=NULL, updated_at=NOW\(\) WHERE id=\$3 AND status=\$4 AND attempts=\$5`
	rescheduleSQL  = `UPDATE auto_send_queue SET scheduled_send_at=\$1, updated_at=NOW\(\) WHERE id=\$2 AND status=\$3 AND attempts=\$4`
	staleSelectSQL = `FROM auto_send_queue WHERE status = \$1 AND COALESCE\(processing_started_at, updated_at\) < \$2`
)

func TestClaimRequiresPendingStatusAndAttempts(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "won", affected: 1, want: true},
		{name: "lost to another worker", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockQueue(t)
			mock.ExpectExec(claimSQL).
				WithArgs(model.QueueStatusProcessing, startedAt, "q1", model.QueueStatusPending, 1).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			won, err := repo.Claim(context.Background(), "q1", 1, startedAt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, won)
		})
	}
}

func TestRecordAttemptFailure(t *testing.T) {
	tests := []struct {
		name       string
		attempts   int
		affected   int64
		wantStatus model.QueueStatus
		wantWon    bool
	}{
		{name: "back to pending", attempts: 0, affected: 1, wantStatus: model.QueueStatusPending, wantWon: true},
		{name: "second failure stays pending", attempts: 1, affected: 1, wantStatus: model.QueueStatusPending, wantWon: true},
		{name: "third failure is final", attempts: 2, affected: 1, wantStatus: model.QueueStatusFailed, wantWon: true},
		{name: "state changed underneath", attempts: 1, affected: 0, wantStatus: model.QueueStatusPending, wantWon: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockQueue(t)
			mock.ExpectExec(attemptSQL).
				WithArgs(tt.wantStatus, tt.attempts+1, "timeout", "q1", model.QueueStatusProcessing, tt.attempts).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			status, won, err := repo.RecordAttemptFailure(context.Background(), "q1", tt.attempts, model.MaxSendAttempts, "timeout")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantWon, won)
		})
	}
}

func TestMarkSentRequiresProcessingStatusAndAttempts(t *testing.T) {
	repo, mock := newMockQueue(t)
	mock.ExpectExec(markSentSQL).
		WithArgs(model.QueueStatusSent, "prov-1", startedAt, "q1", model.QueueStatusProcessing, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(markSentSQL).
		WithArgs(model.QueueStatusSent, "prov-1", startedAt, "q1", model.QueueStatusProcessing, 2).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.MarkSent(context.Background(), "q1", 2, "prov-1", startedAt)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkSent(context.Background(), "q1", 2, "prov-1", startedAt)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestCancelAndRescheduleGuardState(t *testing.T) {
	repo, mock := newMockQueue(t)
	mock.ExpectExec(cancelSQL).
		WithArgs(model.QueueStatusCancelled, "held", "q1", model.QueueStatusProcessing, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(rescheduleSQL).
		WithArgs(startedAt, "q2", model.QueueStatusPending, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.Cancel(context.Background(), "q1", model.QueueStatusProcessing, 0, "held")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Reschedule(context.Background(), "q2", 1, startedAt)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestConditionalWriteErrors(t *testing.T) {
	t.Run("exec error", func(t *testing.T) {
		repo, mock := newMockQueue(t)
		mock.ExpectExec(claimSQL).WillReturnError(errors.New("connection refused"))

		won, err := repo.Claim(context.Background(), "q1", 0, startedAt)
		assert.Error(t, err)
		assert.False(t, won)
	})

	t.Run("rows affected error", func(t *testing.T) {
		repo, mock := newMockQueue(t)
		mock.ExpectExec(markSentSQL).WillReturnResult(sqlmock.NewErrorResult(errors.New("driver does not report rows")))

		won, err := repo.MarkSent(context.Background(), "q1", 0, "prov-1", startedAt)
		assert.Error(t, err)
		assert.False(t, won)
	})
}

func TestFindStaleProcessing(t *testing.T) {
	repo, mock := newMockQueue(t)
	rows := sqlmock.NewRows([]string{"id", "status", "attempts"}).
		AddRow("q1", "processing", 1)
	mock.ExpectQuery(staleSelectSQL).
		WithArgs(model.QueueStatusProcessing, startedAt, 10).
		WillReturnRows(rows)

	items, err := repo.FindStaleProcessing(context.Background(), startedAt, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "q1", items[0].ID)
	assert.Equal(t, model.QueueStatusProcessing, items[0].Status)
	assert.Equal(t, 1, items[0].Attempts)
}
