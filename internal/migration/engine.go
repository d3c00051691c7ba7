// Package migration applies versioned schema changes to the local store.
//
// Migrations are registered in any order and applied in ascending version
// string order, each one exactly once. A failing step is collected into the
// Result and the batch moves on; callers decide whether partial failure is
// fatal.
package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/store"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
	"github.com/noah-isme/mayegue-core/pkg/observability"
)

// Func is a forward or backward migration step.
type Func func(ctx context.Context, exec store.Executor) error

// Migration is one versioned schema change.
type Migration struct {
	Version     string
	Description string
	Up          Func
	Down        Func
	Checksum    string
}

func (m Migration) checksum() string {
	if m.Checksum != "" {
		return m.Checksum
	}
	sum := sha256.Sum256([]byte(m.Version + ":" + m.Description))
	return hex.EncodeToString(sum[:])
}

// StepFailure describes one migration that could not be applied.
type StepFailure struct {
	Version     string `json:"version"`
	Description string `json:"description"`
	Err         error  `json:"-"`
}

func (f StepFailure) Error() string {
	return fmt.Sprintf("migration %s (%s): %v", f.Version, f.Description, f.Err)
}

// Result is the outcome of a RunPending batch.
type Result struct {
	Applied  []string      `json:"applied"`
	Skipped  int           `json:"skipped"`
	Failures []StepFailure `json:"failures"`
}

// OK reports whether every pending migration applied.
func (r Result) OK() bool {
	return len(r.Failures) == 0
}

// Messages lists one line per failure.
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Error())
	}
	return out
}

// Err folds the failures into a single MigrationStepFailure error, or nil.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	msg := fmt.Sprintf("%d migration(s) failed: %s", len(r.Failures), strings.Join(r.Messages(), "; "))
	return appErrors.ErrMigrationStepFailure.Wrap(r.Failures[0].Err, msg)
}

// Summary is a read-only view of migration state.
type Summary struct {
	CurrentVersion string     `json:"current_version"`
	AppliedCount   int        `json:"applied_count"`
	PendingCount   int        `json:"pending_count"`
	Pending        []string   `json:"pending"`
	LastAppliedAt  *time.Time `json:"last_applied_at,omitempty"`
}

// Recorder receives migration outcomes for metrics.
type Recorder interface {
	MigrationApplied(version string, duration time.Duration)
	MigrationFailed(version string)
}

// Database is the store surface the engine needs.
type Database interface {
	store.Executor
	WithinTx(ctx context.Context, fn func(store.Executor) error) error
}

// Engine holds the registry and applies it to a store.
type Engine struct {
	db       Database
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	mu       sync.Mutex
	registry map[string]Migration
}

// NewEngine constructs an engine with an empty registry.
func NewEngine(db Database, logger *zap.Logger, recorder Recorder) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:       db,
		logger:   logger,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
		registry: make(map[string]Migration),
	}
}

// Register adds a migration. Duplicate versions are rejected.
func (e *Engine) Register(m Migration) error {
	if strings.TrimSpace(m.Version) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "migration version is required")
	}
	if m.Up == nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("migration %s has no forward step", m.Version))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.registry[m.Version]; exists {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("migration %s already registered", m.Version))
	}
	e.registry[m.Version] = m
	return nil
}

// RegisterAll registers every migration, stopping at the first rejection.
func (e *Engine) RegisterAll(migrations []Migration) error {
	for _, m := range migrations {
		if err := e.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sorted() []Migration {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := make([]Migration, 0, len(e.registry))
	for _, m := range e.registry {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	return list
}

func (e *Engine) lookup(version string) (Migration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.registry[version]
	return m, ok
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS migrations (
	version TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL,
	execution_time_ms INTEGER NOT NULL DEFAULT 0
)`

func (e *Engine) bootstrap(ctx context.Context) error {
	if _, err := e.db.Execute(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

// RunPending applies every registered migration that has no record yet.
func (e *Engine) RunPending(ctx context.Context) Result {
	result := Result{Applied: []string{}}

	if err := e.bootstrap(ctx); err != nil {
		result.Failures = append(result.Failures, StepFailure{Version: "bootstrap", Description: "migrations table", Err: err})
		e.logger.Error("migration bootstrap failed", zap.Error(err))
		return result
	}
	applied, err := e.Applied(ctx)
	if err != nil {
		result.Failures = append(result.Failures, StepFailure{Version: "bootstrap", Description: "read applied migrations", Err: err})
		e.logger.Error("read applied migrations failed", zap.Error(err))
		return result
	}
	recorded := make(map[string]models.MigrationRecord, len(applied))
	for _, rec := range applied {
		recorded[rec.Version] = rec
	}

	for _, m := range e.sorted() {
		if rec, ok := recorded[m.Version]; ok {
			if rec.Checksum != m.checksum() {
				e.logger.Warn("migration checksum mismatch",
					zap.String("version", m.Version),
					zap.String("recorded", rec.Checksum),
					zap.String("registered", m.checksum()))
			}
			result.Skipped++
			continue
		}

		duration, err := e.apply(ctx, m)
		if err != nil {
			failure := StepFailure{Version: m.Version, Description: m.Description, Err: err}
			result.Failures = append(result.Failures, failure)
			e.logger.Error("migration failed", zap.String("version", m.Version), zap.String("description", m.Description), zap.Error(err))
			observability.CaptureWithTags(failure, map[string]string{"migration_version": m.Version})
			if e.recorder != nil {
				e.recorder.MigrationFailed(m.Version)
			}
			continue
		}

		result.Applied = append(result.Applied, m.Version)
		e.logger.Info("migration applied", zap.String("version", m.Version), zap.String("description", m.Description), zap.Duration("duration", duration))
		if e.recorder != nil {
			e.recorder.MigrationApplied(m.Version, duration)
		}
	}

	return result
}

func (e *Engine) apply(ctx context.Context, m Migration) (time.Duration, error) {
	var duration time.Duration
	err := e.db.WithinTx(ctx, func(tx store.Executor) error {
		start := time.Now()
		if err := m.Up(ctx, tx); err != nil {
			return err
		}
		duration = time.Since(start)
		const insert = `INSERT INTO migrations (version, description, checksum, applied_at, execution_time_ms) VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.Execute(ctx, insert, m.Version, m.Description, m.checksum(), e.now(), duration.Milliseconds()); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		return nil
	})
	return duration, err
}

// RollbackLast reverts the highest applied migration. It fails when nothing
// is applied, the migration is no longer registered, or it has no backward
// step.
func (e *Engine) RollbackLast(ctx context.Context) (*models.MigrationRecord, error) {
	if err := e.bootstrap(ctx); err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to prepare migrations table")
	}
	var rec models.MigrationRecord
	const query = `SELECT version, description, checksum, applied_at, execution_time_ms FROM migrations ORDER BY version DESC LIMIT 1`
	if err := e.db.QueryOne(ctx, &rec, query); err != nil {
		if store.IsNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no migrations applied")
		}
		return nil, appErrors.StoreUnavailable(err, "failed to read last migration")
	}

	m, ok := e.lookup(rec.Version)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("migration %s is not registered", rec.Version))
	}
	if m.Down == nil {
		return nil, appErrors.Clone(appErrors.ErrMigrationStepFailure, fmt.Sprintf("migration %s has no rollback step", rec.Version))
	}

	err := e.db.WithinTx(ctx, func(tx store.Executor) error {
		if err := m.Down(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Execute(ctx, `DELETE FROM migrations WHERE version = ?`, rec.Version); err != nil {
			return fmt.Errorf("delete migration record: %w", err)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("migration rollback failed", zap.String("version", rec.Version), zap.Error(err))
		return nil, appErrors.ErrMigrationStepFailure.Wrap(err, fmt.Sprintf("rollback of %s failed", rec.Version))
	}
	e.logger.Info("migration rolled back", zap.String("version", rec.Version))
	return &rec, nil
}

// Applied returns migration records in version order.
func (e *Engine) Applied(ctx context.Context) ([]models.MigrationRecord, error) {
	exists, err := e.db.TableExists(ctx, "migrations")
	if err != nil {
		return nil, err
	}
	if !exists {
		return []models.MigrationRecord{}, nil
	}
	var records []models.MigrationRecord
	const query = `SELECT version, description, checksum, applied_at, execution_time_ms FROM migrations ORDER BY version ASC`
	if err := e.db.QueryAll(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return records, nil
}

// CurrentVersion is the highest applied version, or "" on a fresh store.
func (e *Engine) CurrentVersion(ctx context.Context) (string, error) {
	records, err := e.Applied(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[len(records)-1].Version, nil
}

// Summary reports applied and pending migrations.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	records, err := e.Applied(ctx)
	if err != nil {
		return nil, err
	}
	summary := &Summary{AppliedCount: len(records), Pending: []string{}}
	done := make(map[string]struct{}, len(records))
	for i := range records {
		done[records[i].Version] = struct{}{}
		if summary.LastAppliedAt == nil || records[i].AppliedAt.After(*summary.LastAppliedAt) {
			at := records[i].AppliedAt
			summary.LastAppliedAt = &at
		}
	}
	if len(records) > 0 {
		summary.CurrentVersion = records[len(records)-1].Version
	}
	for _, m := range e.sorted() {
		if _, ok := done[m.Version]; !ok {
			summary.Pending = append(summary.Pending, m.Version)
		}
	}
	summary.PendingCount = len(summary.Pending)
	return summary, nil
}
