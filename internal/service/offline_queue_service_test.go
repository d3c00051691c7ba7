package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/remote"
	"github.com/noah-isme/mayegue-core/internal/repository"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

type documentStoreStub struct {
	mu     sync.Mutex
	err    error
	writes []remote.Write
}

func (s *documentStoreStub) Write(ctx context.Context, w remote.Write) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.writes = append(s.writes, w)
	if w.DocumentID != "" {
		return w.DocumentID, nil
	}
	return "remote-" + w.Collection, nil
}

func (s *documentStoreStub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *documentStoreStub) collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, w.Collection)
	}
	return out
}

func newQueueService(t *testing.T, store remote.DocumentStore, maxRetries int) (*OfflineQueueService, *repository.OfflineQueueRepository) {
	t.Helper()
	repo := repository.NewOfflineQueueRepository(newTestDB(t))
	svc := NewOfflineQueueService(repo, store, nil, nil, nil, OfflineQueueConfig{MaxRetries: maxRetries, BatchSize: 10})
	svc.capture = func(error, map[string]string) {}
	return svc, repo
}

func progressWrite(collection string) models.RemoteWriteRequest {
	return models.RemoteWriteRequest{
		ActionType: "progress_sync",
		Collection: collection,
		Operation:  models.OperationCreate,
		Payload:    map[string]interface{}{"lesson": "greetings", "score": 9},
	}
}

func TestSubmitDeliversDirectly(t *testing.T) {
	store := &documentStoreStub{}
	svc, _ := newQueueService(t, store, 3)

	result, err := svc.Submit(context.Background(), progressWrite("progress"))
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, "remote-progress", result.RemoteID)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{}, *stats)
}

func TestSubmitBuffersTransientFailures(t *testing.T) {
	store := &documentStoreStub{}
	store.fail(&remote.StatusError{StatusCode: 503})
	svc, repo := newQueueService(t, store, 3)
	ctx := context.Background()

	result, err := svc.Submit(ctx, progressWrite("progress"))
	require.NoError(t, err)
	assert.True(t, result.Queued)

	item, err := repo.FindByID(ctx, result.ItemID)
	require.NoError(t, err)
	assert.Zero(t, item.RetryCount)
	assert.Equal(t, 3, item.MaxRetries)
	assert.JSONEq(t, `{"lesson":"greetings","score":9}`, item.Payload)

	store.fail(&remote.StatusError{StatusCode: 400, Body: "bad field"})
	_, err = svc.Submit(ctx, progressWrite("progress"))
	assert.True(t, appErrors.Is(err, appErrors.ErrRemoteRejected))
}

func TestSubmitWithoutStoreQueues(t *testing.T) {
	svc, _ := newQueueService(t, nil, 3)
	result, err := svc.Submit(context.Background(), progressWrite("progress"))
	require.NoError(t, err)
	assert.True(t, result.Queued)
}

func TestSubmitValidatesWrites(t *testing.T) {
	svc, _ := newQueueService(t, &documentStoreStub{}, 3)
	ctx := context.Background()

	_, err := svc.Submit(ctx, models.RemoteWriteRequest{Collection: "progress", Operation: "upsert", ActionType: "x"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Enqueue(ctx, models.RemoteWriteRequest{Collection: "progress", Operation: models.OperationUpdate, ActionType: "x"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestDrainReplaysInCreationOrder(t *testing.T) {
	store := &documentStoreStub{}
	svc, repo := newQueueService(t, store, 3)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, collection := range []string{"first", "second", "third"} {
		svc.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		_, err := svc.Enqueue(ctx, progressWrite(collection))
		require.NoError(t, err)
	}

	result, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DrainResult{Processed: 3}, *result)
	assert.Equal(t, []string{"first", "second", "third"}, store.collections())

	again, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DrainResult{}, *again)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)
}

func TestDrainExhaustsAndKeepsItems(t *testing.T) {
	store := &documentStoreStub{}
	store.fail(errors.New("connection refused"))
	svc, repo := newQueueService(t, store, 2)
	ctx := context.Background()

	var captured []string
	svc.capture = func(err error, tags map[string]string) {
		assert.True(t, appErrors.Is(err, appErrors.ErrQueueExhausted))
		captured = append(captured, tags["offline_item"])
	}

	item, err := svc.Enqueue(ctx, progressWrite("progress"))
	require.NoError(t, err)

	first, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DrainResult{Failed: 1}, *first)

	second, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DrainResult{Failed: 1, Exhausted: 1}, *second)
	assert.Equal(t, []string{item.ID}, captured)

	third, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DrainResult{}, *third)

	exhausted, err := svc.ListExhausted(ctx)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, item.ID, exhausted[0].ID)
	require.NotNil(t, exhausted[0].LastError)
	assert.Contains(t, *exhausted[0].LastError, "connection refused")

	require.NoError(t, repo.ResetRetries(ctx, item.ID))
	store.fail(nil)
	recovered, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered.Processed)

	stored, err := repo.FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed())
	require.NotNil(t, stored.RemoteID)
	assert.Equal(t, "remote-progress", *stored.RemoteID)
}

func TestDrainRunnerTriggersDrain(t *testing.T) {
	store := &documentStoreStub{}
	svc, repo := newQueueService(t, store, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Enqueue(ctx, progressWrite("progress"))
	require.NoError(t, err)

	runner := NewDrainRunner(svc, nil)
	runner.Start(ctx)
	defer runner.Stop()

	runner.Trigger("test")
	assert.Eventually(t, func() bool {
		stats, err := repo.Stats(context.Background())
		return err == nil && stats.Processed == 1
	}, 2*time.Second, 10*time.Millisecond)
}
