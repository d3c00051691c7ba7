package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDrainableOrdersOldestFirst(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOfflineQueueRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "action_type", "collection", "operation", "document_id", "payload", "retry_count", "max_retries", "last_error", "remote_id", "created_at", "last_attempt_at", "processed_at"}).
		AddRow("q1", "progress_sync", "progress", "create", nil, `{}`, 0, 5, nil, nil, now.Add(-time.Minute), nil, nil).
		AddRow("q2", "progress_sync", "progress", "update", "doc-1", `{"score":3}`, 2, 5, "timeout", nil, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE processed_at IS NULL AND retry_count < max_retries ORDER BY created_at ASC, id ASC LIMIT ?")).
		WithArgs(50).
		WillReturnRows(rows)

	items, err := repo.ListDrainable(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "q1", items[0].ID)
	require.NotNil(t, items[1].DocumentID)
	assert.Equal(t, "doc-1", *items[1].DocumentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessedSkipsTerminalItems(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOfflineQueueRepository(db)

	at := time.Now().UTC()
	remoteID := "remote-1"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE offline_queue SET processed_at = ?")).
		WithArgs(at, at, remoteID, "q1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkProcessed(context.Background(), "q1", &remoteID, at)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureIncrementsRetries(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOfflineQueueRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("SET retry_count = retry_count + 1, last_error = ?")).
		WithArgs("connection refused", at, "q1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordFailure(context.Background(), "q1", "connection refused", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
