package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/database"
)

const busyAttempts = 3

// Tx bundles the repositories bound to one store transaction. Every write
// made through it commits or rolls back together.
type Tx struct {
	Users        *UserRepository
	Progress     *ProgressRepository
	Achievements *AchievementRepository
	Content      *TeacherContentRepository
	AdminLogs    *AdminLogRepository
	Settings     *AppSettingRepository
	Queue        *OfflineQueueRepository
	GuestUsage   *GuestUsageRepository

	// Exec is the raw transaction handle for bulk work such as restores.
	Exec sqlx.ExtContext
}

func newTx(ext sqlx.ExtContext) *Tx {
	return &Tx{
		Users:        NewUserRepository(ext),
		Progress:     NewProgressRepository(ext),
		Achievements: NewAchievementRepository(ext),
		Content:      NewTeacherContentRepository(ext),
		AdminLogs:    NewAdminLogRepository(ext),
		Settings:     NewAppSettingRepository(ext),
		Queue:        NewOfflineQueueRepository(ext),
		GuestUsage:   NewGuestUsageRepository(ext),
		Exec:         ext,
	}
}

// TxManager opens transactions over the store handle.
type TxManager struct {
	db *sqlx.DB
}

// NewTxManager constructs a TxManager.
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTx runs fn with transaction-bound repositories and commits when it
// returns nil. Inside fn only the Tx repositories may be used: the store has a
// single connection. A transaction that hits a locked database file is retried
// from the start.
func (m *TxManager) WithinTx(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	for attempt := 1; attempt <= busyAttempts; attempt++ {
		err = m.runOnce(ctx, fn)
		if err == nil || !database.IsBusy(err) || attempt == busyAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return err
}

func (m *TxManager) runOnce(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(newTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Audited runs fn and then appends entry to admin_logs in the same
// transaction. fn may fill in entry fields it only learns while running. A
// failed audit insert rolls back everything fn wrote.
func (m *TxManager) Audited(ctx context.Context, entry *models.AdminLog, fn func(tx *Tx) error) error {
	return m.WithinTx(ctx, func(tx *Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.AdminLogs.Create(ctx, entry)
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// execAffecting runs a write that must touch at least one row and returns
// sql.ErrNoRows otherwise.
func execAffecting(ctx context.Context, db sqlx.ExecerContext, op, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
