package migration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/store"
	"github.com/noah-isme/mayegue-core/pkg/database"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.NewMemory()
	require.NoError(t, err)
	s := store.New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type recorderStub struct {
	mu      sync.Mutex
	applied []string
	failed  []string
}

func (r *recorderStub) MigrationApplied(version string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, version)
}

func (r *recorderStub) MigrationFailed(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, version)
}

func countRecords(t *testing.T, s *store.Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.QueryOne(context.Background(), &n, `SELECT COUNT(*) FROM migrations`))
	return n
}

func TestRunPendingTwiceIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	engine := NewEngine(s, nil, nil)
	require.NoError(t, engine.RegisterAll(Definitions()))

	first := engine.RunPending(ctx)
	require.True(t, first.OK(), first.Messages())
	assert.Len(t, first.Applied, len(Definitions()))
	assert.Zero(t, first.Skipped)

	version, err := engine.CurrentVersion(ctx)
	require.NoError(t, err)
	records := countRecords(t, s)

	second := engine.RunPending(ctx)
	require.True(t, second.OK())
	assert.Empty(t, second.Applied)
	assert.Equal(t, len(Definitions()), second.Skipped)

	again, err := engine.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, version, again)
	assert.Equal(t, records, countRecords(t, s))

	var seeded int
	require.NoError(t, s.QueryOne(ctx, &seeded, `SELECT COUNT(*) FROM achievements`))
	assert.Equal(t, len(achievementCatalog), seeded)
}

func TestRunPendingAppliesInVersionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	engine := NewEngine(s, nil, nil)

	var order []string
	step := func(version string) Func {
		return func(ctx context.Context, exec store.Executor) error {
			order = append(order, version)
			_, err := exec.Execute(ctx, "CREATE TABLE t_"+version+" (id INTEGER)")
			return err
		}
	}

	require.NoError(t, engine.Register(Migration{Version: "003", Description: "third", Up: step("003")}))
	require.NoError(t, engine.Register(Migration{Version: "002", Description: "second", Up: step("002")}))

	result := engine.RunPending(ctx)
	require.True(t, result.OK())
	assert.Equal(t, []string{"002", "003"}, order)
	assert.Equal(t, []string{"002", "003"}, result.Applied)

	applied, err := engine.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "002", applied[0].Version)
	assert.NotEmpty(t, applied[0].Checksum)
}

func TestRunPendingCollectsFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	recorder := &recorderStub{}
	engine := NewEngine(s, nil, recorder)

	require.NoError(t, engine.Register(Migration{Version: "001", Description: "ok", Up: statements(`CREATE TABLE a (id INTEGER)`)}))
	require.NoError(t, engine.Register(Migration{Version: "002", Description: "broken", Up: func(ctx context.Context, exec store.Executor) error {
		if _, err := exec.Execute(ctx, `CREATE TABLE half (id INTEGER)`); err != nil {
			return err
		}
		return errors.New("boom")
	}}))
	require.NoError(t, engine.Register(Migration{Version: "003", Description: "ok again", Up: statements(`CREATE TABLE c (id INTEGER)`)}))

	result := engine.RunPending(ctx)
	assert.False(t, result.OK())
	assert.Equal(t, []string{"001", "003"}, result.Applied)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "002", result.Failures[0].Version)
	assert.True(t, appErrors.Is(result.Err(), appErrors.ErrMigrationStepFailure))
	assert.Equal(t, []string{"002"}, recorder.failed)

	half, err := s.TableExists(ctx, "half")
	require.NoError(t, err)
	assert.False(t, half, "failed step leaves no partial schema")

	summary, err := engine.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "003", summary.CurrentVersion)
	assert.Equal(t, 2, summary.AppliedCount)
	assert.Equal(t, []string{"002"}, summary.Pending)
	assert.NotNil(t, summary.LastAppliedAt)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	engine := NewEngine(newTestStore(t), nil, nil)
	m := Migration{Version: "001", Description: "x", Up: statements()}
	require.NoError(t, engine.Register(m))
	err := engine.Register(m)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	err = engine.Register(Migration{Version: "002"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRollbackLast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	engine := NewEngine(s, nil, nil)

	_, err := engine.RollbackLast(ctx)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, engine.Register(Migration{Version: "001", Description: "table", Up: statements(`CREATE TABLE a (id INTEGER)`), Down: dropTables("a")}))
	require.NoError(t, engine.Register(Migration{Version: "002", Description: "one way", Up: statements(`CREATE TABLE b (id INTEGER)`)}))
	require.True(t, engine.RunPending(ctx).OK())

	_, err = engine.RollbackLast(ctx)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrMigrationStepFailure))
	assert.Equal(t, 2, countRecords(t, s))

	_, err = s.Execute(ctx, `DELETE FROM migrations WHERE version = '002'`)
	require.NoError(t, err)

	rec, err := engine.RollbackLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, "001", rec.Version)
	assert.Equal(t, 0, countRecords(t, s))
	exists, err := s.TableExists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGamificationColumnsTolerateExistingColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, statements(initialSchema...)(ctx, s))
	_, err := s.Execute(ctx, `ALTER TABLE users ADD COLUMN xp INTEGER NOT NULL DEFAULT 0`)
	require.NoError(t, err)

	engine := NewEngine(s, nil, nil)
	require.NoError(t, engine.RegisterAll(Definitions()))
	result := engine.RunPending(ctx)
	require.True(t, result.OK(), result.Messages())

	for _, col := range gamificationColumns {
		ok, err := s.ColumnExists(ctx, "users", col.name)
		require.NoError(t, err)
		assert.True(t, ok, col.name)
	}
}
