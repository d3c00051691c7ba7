package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/remote"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
	"github.com/noah-isme/mayegue-core/pkg/jobs"
	"github.com/noah-isme/mayegue-core/pkg/observability"
)

type offlineQueueRepository interface {
	Create(ctx context.Context, item *models.OfflineQueueItem) error
	ListDrainable(ctx context.Context, limit int) ([]models.OfflineQueueItem, error)
	ListExhausted(ctx context.Context) ([]models.OfflineQueueItem, error)
	MarkProcessed(ctx context.Context, id string, remoteID *string, at time.Time) error
	RecordFailure(ctx context.Context, id, message string, at time.Time) error
	Stats(ctx context.Context) (*models.QueueStats, error)
}

// OfflineQueueConfig tunes retries and drain batches.
type OfflineQueueConfig struct {
	MaxRetries int
	BatchSize  int
}

// OfflineQueueService buffers remote writes that could not be delivered and
// replays them in creation order.
type OfflineQueueService struct {
	repo      offlineQueueRepository
	store     remote.DocumentStore
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    OfflineQueueConfig
	now       func() time.Time
	capture   func(err error, tags map[string]string)

	drainMu sync.Mutex
}

// NewOfflineQueueService constructs an OfflineQueueService. A nil store
// buffers every write.
func NewOfflineQueueService(repo offlineQueueRepository, store remote.DocumentStore, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config OfflineQueueConfig) *OfflineQueueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &OfflineQueueService{
		repo:      repo,
		store:     store,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
		capture:   observability.CaptureWithTags,
	}
}

// Submit tries the remote store first and buffers the write when the failure
// is transient. Permanent rejections are returned to the caller.
func (s *OfflineQueueService) Submit(ctx context.Context, req models.RemoteWriteRequest) (*models.SubmitResult, error) {
	if err := s.validateWrite(req); err != nil {
		return nil, err
	}
	remoteID, err := s.write(ctx, req.Collection, req.Operation, req.DocumentID, req.Payload)
	if err == nil {
		s.metrics.RecordQueueAttempt("delivered")
		return &models.SubmitResult{RemoteID: remoteID}, nil
	}
	if !remote.IsTransient(err) {
		s.metrics.RecordQueueAttempt("rejected")
		return nil, appErrors.ErrRemoteRejected.Wrap(err, "remote store rejected the write")
	}

	s.logger.Info("remote write buffered", zap.String("collection", req.Collection), zap.String("operation", req.Operation), zap.Error(err))
	item, qerr := s.enqueue(ctx, req)
	if qerr != nil {
		return nil, qerr
	}
	s.metrics.RecordQueueAttempt("queued")
	return &models.SubmitResult{Queued: true, ItemID: item.ID}, nil
}

// Enqueue buffers a write without attempting delivery.
func (s *OfflineQueueService) Enqueue(ctx context.Context, req models.RemoteWriteRequest) (*models.OfflineQueueItem, error) {
	if err := s.validateWrite(req); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, req)
}

func (s *OfflineQueueService) enqueue(ctx context.Context, req models.RemoteWriteRequest) (*models.OfflineQueueItem, error) {
	payload := []byte("{}")
	if req.Payload != nil {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, appErrors.ErrValidation.Wrap(err, "payload is not serialisable")
		}
		payload = raw
	}
	item := &models.OfflineQueueItem{
		ID:         uuid.NewString(),
		ActionType: req.ActionType,
		Collection: req.Collection,
		Operation:  req.Operation,
		Payload:    string(payload),
		MaxRetries: s.config.MaxRetries,
		CreatedAt:  s.now(),
	}
	if req.DocumentID != "" {
		docID := req.DocumentID
		item.DocumentID = &docID
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to buffer write")
	}
	s.refreshGauges(ctx)
	return item, nil
}

func (s *OfflineQueueService) validateWrite(req models.RemoteWriteRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.ErrValidation.Wrap(err, "invalid remote write")
	}
	if req.Operation != models.OperationCreate && req.DocumentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, req.Operation+" requires a document id")
	}
	return nil
}

// Drain replays one batch of buffered writes oldest first. Successes become
// terminal; failures consume one retry and are reported once exhausted.
// Concurrent calls run one after another.
func (s *OfflineQueueService) Drain(ctx context.Context) (*models.DrainResult, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	items, err := s.repo.ListDrainable(ctx, s.config.BatchSize)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list buffered writes")
	}

	result := &models.DrainResult{}
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := s.replay(ctx, item, result); err != nil {
			return result, err
		}
	}
	s.refreshGauges(ctx)
	if len(items) > 0 {
		s.logger.Info("offline queue drained",
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed),
			zap.Int("exhausted", result.Exhausted),
		)
	}
	return result, nil
}

func (s *OfflineQueueService) replay(ctx context.Context, item models.OfflineQueueItem, result *models.DrainResult) error {
	var payload map[string]interface{}
	writeErr := json.Unmarshal([]byte(item.Payload), &payload)
	if writeErr != nil {
		writeErr = fmt.Errorf("decode payload: %w", writeErr)
	}

	var remoteID string
	if writeErr == nil {
		docID := ""
		if item.DocumentID != nil {
			docID = *item.DocumentID
		}
		remoteID, writeErr = s.write(ctx, item.Collection, item.Operation, docID, payload)
	}

	now := s.now()
	if writeErr == nil {
		var stored *string
		if remoteID != "" {
			stored = &remoteID
		}
		if err := s.repo.MarkProcessed(ctx, item.ID, stored, now); err != nil {
			return appErrors.StoreUnavailable(err, "failed to mark write processed")
		}
		result.Processed++
		s.metrics.RecordQueueAttempt("delivered")
		return nil
	}

	if err := s.repo.RecordFailure(ctx, item.ID, writeErr.Error(), now); err != nil {
		return appErrors.StoreUnavailable(err, "failed to record write failure")
	}
	result.Failed++
	if item.RetryCount+1 >= item.MaxRetries {
		result.Exhausted++
		s.metrics.RecordQueueAttempt("exhausted")
		s.logger.Warn("offline write exhausted its retries",
			zap.String("item_id", item.ID),
			zap.String("collection", item.Collection),
			zap.Error(writeErr),
		)
		exhausted := appErrors.ErrQueueExhausted.Wrap(writeErr, "offline write "+item.ID+" exhausted its retries")
		s.capture(exhausted, map[string]string{"offline_item": item.ID, "collection": item.Collection})
		return nil
	}
	s.metrics.RecordQueueAttempt("failed")
	return nil
}

func (s *OfflineQueueService) write(ctx context.Context, collection, operation, documentID string, payload map[string]interface{}) (string, error) {
	if s.store == nil {
		return "", remote.ErrNotConfigured
	}
	return s.store.Write(ctx, remote.Write{Collection: collection, Operation: operation, DocumentID: documentID, Payload: payload})
}

// ListExhausted returns items that used up their retries. They stay in the
// store until an admin requeues them.
func (s *OfflineQueueService) ListExhausted(ctx context.Context) ([]models.OfflineQueueItem, error) {
	items, err := s.repo.ListExhausted(ctx)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list exhausted writes")
	}
	return items, nil
}

// Stats counts items per state.
func (s *OfflineQueueService) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to read queue stats")
	}
	return stats, nil
}

func (s *OfflineQueueService) refreshGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		s.logger.Debug("queue gauges not refreshed", zap.Error(err))
		return
	}
	s.metrics.SetQueueDepth(stats.Pending, stats.Processed, stats.Exhausted)
}

const drainJobType = "offline_drain"

// DrainRunner serialises drain requests from the ticker and the sync
// endpoint through a single worker job queue.
type DrainRunner struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewDrainRunner wires svc behind a one-worker queue.
func NewDrainRunner(svc *OfflineQueueService, logger *zap.Logger) *DrainRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		result, err := svc.Drain(ctx)
		if err != nil {
			return err
		}
		logger.Debug("drain job finished", zap.String("job_id", job.ID), zap.Any("reason", job.Payload), zap.Int("processed", result.Processed))
		return nil
	}
	return &DrainRunner{
		queue:  jobs.New("offline-drain", handler, jobs.Options{Workers: 1, Buffer: 1, Attempts: 2, Backoff: 5 * time.Second, Logger: logger}),
		logger: logger,
	}
}

// Start launches the worker.
func (r *DrainRunner) Start(ctx context.Context) {
	r.queue.Start(ctx)
}

// Stop waits for the running drain to finish.
func (r *DrainRunner) Stop() {
	r.queue.Stop()
}

// Trigger schedules a drain. It returns false when one is already waiting.
func (r *DrainRunner) Trigger(reason string) bool {
	err := r.queue.Offer(jobs.Job{ID: uuid.NewString(), Type: drainJobType, Payload: reason})
	if errors.Is(err, jobs.ErrQueueFull) {
		r.logger.Debug("drain already scheduled", zap.String("reason", reason), zap.Int("waiting", r.queue.Pending()))
		return false
	}
	if err != nil {
		r.logger.Warn("drain trigger dropped", zap.String("reason", reason), zap.Error(err))
		return false
	}
	return true
}

// Run triggers a drain every interval until ctx is done.
func (r *DrainRunner) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Trigger("interval")
		}
	}
}
