package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_relay/internal/models"
	"llm_relay/internal/queue"
)

// mockUsageWriter simulates usage_logs writes
type mockUsageWriter struct {
	mu         sync.Mutex
	records    []*models.UsageRecord
	batchFails bool
	failCount  int
	maxFails   int
}

func (m *mockUsageWriter) Create(ctx context.Context, record *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCount < m.maxFails {
		m.failCount++
		return errors.New("simulated database error")
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockUsageWriter) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batchFails {
		return errors.New("simulated batch error")
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *mockUsageWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newUsageRecord(prompt, completion int) *models.UsageRecord {
	return &models.UsageRecord{
		ID:               uuid.New(),
		AccountID:        uuid.New(),
		ModelID:          uuid.New(),
		ConversationID:   uuid.New(),
		TurnID:           uuid.New(),
		PromptTokens:     prompt,
		CompletionTokens: completion,
		Cost:             2,
	}
}

func testQueueConfig(name string) *queue.Config {
	cfg := queue.DefaultConfig(name)
	cfg.BatchSize = 10
	cfg.BatchTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func TestUsageQueueWorker_BatchInsert(t *testing.T) {
	cfg := testQueueConfig("test-usage")
	q := queue.NewMemoryQueue(cfg)
	writer := &mockUsageWriter{}
	worker := NewUsageQueueWorker(q, queue.NewMemoryDeadLetterQueue(), writer, cfg)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, worker.Enqueue(ctx, newUsageRecord(100+i, 50)))
	}

	worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool { return writer.count() == 5 }, time.Second, 10*time.Millisecond)
}

func TestUsageQueueWorker_FallbackToIndividualInserts(t *testing.T) {
	cfg := testQueueConfig("test-usage-fallback")
	q := queue.NewMemoryQueue(cfg)
	writer := &mockUsageWriter{batchFails: true, maxFails: 1}
	dlq := queue.NewMemoryDeadLetterQueue()
	worker := NewUsageQueueWorker(q, dlq, writer, cfg)

	ctx := context.Background()
	require.NoError(t, worker.Enqueue(ctx, newUsageRecord(10, 5)))
	require.NoError(t, worker.Enqueue(ctx, newUsageRecord(20, 5)))

	worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool { return writer.count() == 2 }, time.Second, 10*time.Millisecond)

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUsageQueueWorker_ExhaustedRetriesGoToDLQ(t *testing.T) {
	cfg := testQueueConfig("test-usage-dlq")
	q := queue.NewMemoryQueue(cfg)
	writer := &mockUsageWriter{batchFails: true, maxFails: 100}
	dlq := queue.NewMemoryDeadLetterQueue()
	worker := NewUsageQueueWorker(q, dlq, writer, cfg)

	ctx := context.Background()
	record := newUsageRecord(10, 5)
	require.NoError(t, worker.Enqueue(ctx, record))

	worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool {
		items, err := worker.GetDeadLetterItems(ctx, 0)
		return err == nil && len(items) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, writer.count())
}

func TestUsageQueueWorker_QueueLength(t *testing.T) {
	cfg := testQueueConfig("test-usage-length")
	q := queue.NewMemoryQueue(cfg)
	worker := NewUsageQueueWorker(q, nil, &mockUsageWriter{}, cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, worker.Enqueue(ctx, newUsageRecord(1, 1)))
	}

	n, err := worker.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = worker.GetDeadLetterItems(ctx, 0)
	assert.Error(t, err)
}

func TestUnmarshalUsageRecord(t *testing.T) {
	record := newUsageRecord(7, 3)

	tests := []struct {
		name string
		item interface{}
	}{
		{"pointer", record},
		{"value", *record},
		{"json bytes", []byte(`{"turn_id":"` + record.TurnID.String() + `","prompt_tokens":7,"completion_tokens":3}`)},
		{"map", map[string]interface{}{"turn_id": record.TurnID.String(), "prompt_tokens": 7, "completion_tokens": 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.UsageRecord
			require.NoError(t, unmarshalUsageRecord(tt.item, &got))
			assert.Equal(t, record.TurnID, got.TurnID)
			assert.Equal(t, 7, got.PromptTokens)
			assert.Equal(t, 3, got.CompletionTokens)
		})
	}
}
