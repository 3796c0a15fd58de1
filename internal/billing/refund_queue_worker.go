package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm_relay/internal/queue"
	"llm_relay/internal/utils"
)

// RefundJob is a refund waiting to be written
type RefundJob struct {
	AccountID uuid.UUID `json:"account_id"`
	TurnID    uuid.UUID `json:"turn_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// RefundQueueWorker retries refunds whose first write failed
type RefundQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	ledger      *Ledger
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewRefundQueueWorker creates a new refund queue worker
func NewRefundQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, store Store, config *queue.Config) *RefundQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("refunds")
	}

	return &RefundQueueWorker{
		queue:       q,
		dlq:         dlq,
		ledger:      NewLedger(store, nil),
		config:      config,
		logger:      utils.NewLogger("refund-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *RefundQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop stops the worker and waits for it to exit
func (w *RefundQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds a refund to the queue
func (w *RefundQueueWorker) Enqueue(ctx context.Context, job *RefundJob) error {
	return w.queue.Enqueue(ctx, job)
}

func (w *RefundQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Refund worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Refund worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *RefundQueueWorker) processBatch(ctx context.Context) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		w.logger.Error("Failed to dequeue refunds", "error", err)
		wait(ctx, time.Second)
		return
	}

	for _, item := range items {
		if err := w.processItem(ctx, item); err != nil {
			w.logger.Error("Failed to process refund", "error", err)
		}
	}
}

// processItem writes one refund, retrying with exponential backoff
func (w *RefundQueueWorker) processItem(ctx context.Context, item interface{}) error {
	var job RefundJob
	if err := unmarshalRefundJob(item, &job); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			if !wait(ctx, backoff) {
				lastErr = ctx.Err()
				break
			}
		}
		if err := w.ledger.credit(ctx, job.AccountID, job.TurnID, job.Amount); err != nil {
			lastErr = err
			w.logger.Debug("Refund attempt failed", "attempt", attempt, "turn_id", job.TurnID, "error", err)
			continue
		}
		w.logger.Info("Deferred refund applied", "turn_id", job.TurnID, "amount", job.Amount)
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(context.WithoutCancel(ctx), job, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Refund moved to DLQ", "turn_id", job.TurnID, "error", lastErr)
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetQueueLength returns the current queue length
func (w *RefundQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *RefundQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem moves a parked refund back onto the queue
func (w *RefundQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}
	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}
	return queue.ErrItemNotFound
}

func unmarshalRefundJob(item interface{}, job *RefundJob) error {
	switch v := item.(type) {
	case *RefundJob:
		*job = *v
		return nil
	case RefundJob:
		*job = v
		return nil
	case []byte:
		return json.Unmarshal(v, job)
	case json.RawMessage:
		return json.Unmarshal(v, job)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return json.Unmarshal(data, job)
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
