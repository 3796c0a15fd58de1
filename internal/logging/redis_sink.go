package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"llm_relay/internal/utils"
)

// RedisSinkConfig configures the buffered sink
type RedisSinkConfig struct {
	Key           string        // Redis list used as buffer
	MaxBuffered   int64         // oldest records are dropped past this length
	FlushSize     int           // records per batch
	FlushInterval time.Duration // a partial batch is flushed after this long
	PollInterval  time.Duration // how often the buffer length is checked
}

// RedisSink buffers records in a Redis list and flushes them through a BatchWriter
type RedisSink struct {
	client *redis.Client
	writer BatchWriter
	config RedisSinkConfig
	logger *utils.Logger

	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewRedisSink creates a sink. Call Start to begin flushing.
func NewRedisSink(client *redis.Client, writer BatchWriter, config RedisSinkConfig) *RedisSink {
	if config.Key == "" {
		config.Key = "relay:turns"
	}
	if config.FlushSize <= 0 {
		config.FlushSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Minute
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &RedisSink{
		client: client,
		writer: writer,
		config: config,
		logger: utils.NewLogger("audit-sink"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Enqueue appends rec to the buffer
func (s *RedisSink) Enqueue(rec *TurnRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.config.Key, data)
	if s.config.MaxBuffered > 0 {
		pipe.LTrim(ctx, s.config.Key, -s.config.MaxBuffered, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to buffer record: %w", err)
	}
	return nil
}

// Start runs the flush loop until Shutdown
func (s *RedisSink) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

func (s *RedisSink) run(ctx context.Context) {
	defer close(s.doneCh)

	poll := time.NewTicker(s.config.PollInterval)
	defer poll.Stop()
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-poll.C:
			n, err := s.client.LLen(ctx, s.config.Key).Result()
			if err != nil {
				s.logger.Error("Failed to read buffer length", "error", err)
				continue
			}
			if n == 0 {
				lastFlush = time.Now()
				continue
			}
			if n >= int64(s.config.FlushSize) || time.Since(lastFlush) >= s.config.FlushInterval {
				if _, err := s.Flush(ctx); err != nil {
					s.logger.Error("Failed to flush records", "error", err)
					continue
				}
				lastFlush = time.Now()
			}
		}
	}
}

// Flush moves up to FlushSize buffered records to the writer. Records whose
// upload fails are pushed back to the head of the buffer.
func (s *RedisSink) Flush(ctx context.Context) (int, error) {
	raw, err := s.client.LPopCount(ctx, s.config.Key, s.config.FlushSize).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to pop records: %w", err)
	}

	records := make([]*TurnRecord, 0, len(raw))
	for _, item := range raw {
		var rec TurnRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.logger.Warn("Dropping undecodable record", "error", err)
			continue
		}
		records = append(records, &rec)
	}

	if _, err := s.writer.WriteBatch(ctx, records); err != nil {
		s.requeue(raw)
		return 0, err
	}
	return len(records), nil
}

func (s *RedisSink) requeue(raw []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	values := make([]interface{}, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		values = append(values, raw[i])
	}
	if err := s.client.LPush(ctx, s.config.Key, values...).Err(); err != nil {
		s.logger.Error("Failed to requeue records", "count", len(raw), "error", err)
	}
}

// Shutdown stops the loop and drains the buffer
func (s *RedisSink) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		select {
		case <-s.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		n, err := s.Flush(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
