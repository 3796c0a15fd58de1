package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"llm_relay/internal/models"
	"llm_relay/internal/queue"
	"llm_relay/internal/utils"
)

// UsageWriter persists usage records. *UsageRepository satisfies it.
type UsageWriter interface {
	Create(ctx context.Context, record *models.UsageRecord) error
	CreateBatch(ctx context.Context, records []*models.UsageRecord) error
}

// UsageQueueWorker drains completed-turn usage records into usage_logs off the
// request path. Records that keep failing end up in the dead letter queue.
type UsageQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	writer      UsageWriter
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewUsageQueueWorker creates a new usage queue worker
func NewUsageQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, writer UsageWriter, config *queue.Config) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop stops the worker and waits for the current batch to finish
func (w *UsageQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds a usage record to the queue
func (w *UsageQueueWorker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	return w.queue.Enqueue(ctx, record)
}

func (w *UsageQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Usage worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *UsageQueueWorker) processBatch(ctx context.Context) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		w.logger.Error("Failed to dequeue usage records", "error", err)
		sleepCtx(ctx, time.Second)
		return
	}
	if len(items) == 0 {
		return
	}

	records := make([]*models.UsageRecord, 0, len(items))
	for _, item := range items {
		var record models.UsageRecord
		if err := unmarshalUsageRecord(item, &record); err != nil {
			w.logger.Error("Failed to unmarshal usage record", "error", err)
			continue
		}
		records = append(records, &record)
	}
	if len(records) == 0 {
		return
	}

	if err := w.writer.CreateBatch(ctx, records); err != nil {
		w.logger.Warn("Batch insert failed, falling back to individual inserts", "count", len(records), "error", err)
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Failed to process usage record", "turn_id", record.TurnID, "error", err)
			}
		}
		return
	}
	w.logger.Debug("Usage batch inserted", "count", len(records))
}

// processItem inserts a single record with exponential backoff between attempts
func (w *UsageQueueWorker) processItem(ctx context.Context, record *models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			if !sleepCtx(ctx, backoff) {
				lastErr = ctx.Err()
				break
			}
		}
		if err := w.writer.Create(ctx, record); err != nil {
			lastErr = err
			w.logger.Debug("Usage insert attempt failed", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(context.WithoutCancel(ctx), record, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage record moved to DLQ", "turn_id", record.TurnID, "error", lastErr)
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *UsageQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

func unmarshalUsageRecord(item interface{}, record *models.UsageRecord) error {
	switch v := item.(type) {
	case *models.UsageRecord:
		*record = *v
		return nil
	case models.UsageRecord:
		*record = v
		return nil
	case []byte:
		return json.Unmarshal(v, record)
	case json.RawMessage:
		return json.Unmarshal(v, record)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return json.Unmarshal(data, record)
	}
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
