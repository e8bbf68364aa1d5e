// Package worker provides async message processing: batch prediction jobs
// and reactions to pipeline and training events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/threatlens/internal/bus"
	"github.com/opensource-finance/threatlens/internal/cache"
	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/predict"
)

// Worker consumes batch jobs and lifecycle events from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	provider *predict.Provider
	memo     *cache.Memo

	subscriptions []domain.Subscription
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	now           func() time.Time
	marshal       func(any) ([]byte, error)
}

// Config selects which topics the worker consumes.
type Config struct {
	// BatchJobs consumes TopicPredictBatch.
	BatchJobs bool

	// Events consumes TopicModelTrained and TopicDatasetProcessed to drop
	// stale predictors and memoized tables.
	Events bool
}

// NewWorker creates a new async worker. repo and memo may be nil.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, provider *predict.Provider, memo *cache.Memo) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		repo:     repo,
		provider: provider,
		memo:     memo,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		marshal:  json.Marshal,
	}
}

// Start subscribes to the configured topics.
func (w *Worker) Start(cfg Config) error {
	if cfg.BatchJobs {
		if err := w.subscribe(domain.TopicPredictBatch, w.processBatch); err != nil {
			return err
		}
	}
	if cfg.Events {
		if err := w.subscribe(domain.TopicModelTrained, w.handleModelTrained); err != nil {
			return err
		}
		if err := w.subscribe(domain.TopicDatasetProcessed, w.handleDatasetProcessed); err != nil {
			return err
		}
	}

	slog.Info("worker started",
		"batch_jobs", cfg.BatchJobs,
		"events", cfg.Events,
	)
	return nil
}

func (w *Worker) subscribe(topic string, handler domain.MessageHandler) error {
	sub, err := w.bus.Subscribe(w.ctx, topic, handler)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

// processBatch predicts every record of a job, records the predictions and
// publishes the outcome. A request carrying a reply subject also gets the
// outcome as its reply.
func (w *Worker) processBatch(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var job domain.BatchJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("failed to parse batch job",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if job.JobID == "" {
		job.JobID = msg.ID
	}

	result, err := w.predictJob(ctx, &job)
	if err != nil {
		result = &domain.BatchResult{JobID: job.JobID, Error: err.Error()}
		slog.Error("batch job failed",
			"job_id", job.JobID,
			"error", err,
		)
	}

	payload, mErr := w.marshal(result)
	if mErr != nil {
		slog.Error("failed to encode batch result",
			"job_id", job.JobID,
			"error", mErr,
		)
		return errors.Join(err, mErr)
	}
	if pubErr := w.bus.Publish(ctx, domain.TopicPredictResult, payload); pubErr != nil {
		slog.Error("failed to publish batch result",
			"job_id", job.JobID,
			"error", pubErr,
		)
	}
	if replyErr := bus.Reply(ctx, w.bus, msg, payload); replyErr != nil {
		slog.Warn("failed to reply to batch request",
			"job_id", job.JobID,
			"error", replyErr,
		)
	}

	slog.Info("batch job processed",
		"job_id", job.JobID,
		"records", len(job.Records),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return err
}

func (w *Worker) predictJob(ctx context.Context, job *domain.BatchJob) (*domain.BatchResult, error) {
	pred, err := w.provider.Get(ctx)
	if err != nil {
		return nil, err
	}
	results, err := pred.PredictBatch(ctx, job.Records)
	if err != nil {
		return nil, err
	}

	out := &domain.BatchResult{
		JobID:         job.JobID,
		PredictionIDs: make([]string, len(results)),
		Labels:        make([]string, len(results)),
	}
	created := w.now().UTC()
	for i, res := range results {
		if res.Err != nil {
			if out.Error == "" {
				out.Error = fmt.Sprintf("record %d: %v", i, res.Err)
			}
			continue
		}

		p := &domain.Prediction{
			ID:            uuid.New().String(),
			JobID:         job.JobID,
			Seq:           i,
			RunID:         pred.Metadata().RunID,
			Input:         job.Records[i],
			Label:         res.Label,
			Probabilities: res.Probabilities,
			Fallbacks:     res.Fallbacks,
			CreatedAt:     created,
		}
		if w.repo != nil {
			if err := w.repo.SavePrediction(ctx, p); err != nil {
				slog.Error("failed to save prediction",
					"job_id", job.JobID,
					"prediction_id", p.ID,
					"error", err,
				)
			}
		}
		out.PredictionIDs[i] = p.ID
		out.Labels[i] = string(res.Label)
	}
	return out, nil
}

func (w *Worker) handleModelTrained(ctx context.Context, msg *domain.Message) error {
	var event domain.ModelTrainedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return err
	}
	w.provider.Invalidate()
	slog.Info("predictor invalidated",
		"run_id", event.RunID,
		"accuracy", event.Accuracy,
	)
	return nil
}

func (w *Worker) handleDatasetProcessed(ctx context.Context, msg *domain.Message) error {
	var event domain.DatasetProcessedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return err
	}
	if w.memo == nil {
		return nil
	}
	if err := w.memo.Invalidate(ctx); err != nil {
		slog.Error("failed to invalidate table cache", "error", err)
		return err
	}
	slog.Info("table cache invalidated", "rows", event.Rows)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
