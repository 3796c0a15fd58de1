// Package queue carries the relay's deferred writes (usage records and
// credit refunds) from the request path to background workers.
//
// Two backends share one interface:
//
//   - Memory: a buffered channel. Nothing survives a restart; suitable for
//     single-instance and development deployments.
//   - Redis: a list per queue on the shared Redis client. Survives restarts
//     and lets several relay instances drain the same work.
//
// Items that keep failing are parked in a DeadLetterQueue for inspection and
// manual replay.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue retrieves up to maxItems, blocking until at least one is
	// available or ctx is done
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout is Dequeue bounded by timeout. It returns an empty
	// slice when nothing arrived in time.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds items whose processing failed permanently
type DeadLetterQueue interface {
	Add(ctx context.Context, item interface{}, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem represents an item in the dead letter queue
type DeadLetterItem struct {
	ID        string      `json:"id"`
	Item      interface{} `json:"item"`
	Error     string      `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items a worker takes at once
	BatchSize int

	// BatchTimeout is how long a worker waits for the first item of a batch
	BatchTimeout time.Duration

	// MaxRetries is the number of retries after the first failed attempt
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on every retry
	RetryBackoff time.Duration

	// UseRedis selects the Redis backend
	UseRedis bool

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		QueueName:    queueName,
	}
}

// New builds the queue and dead letter queue selected by config. client is
// only used, and then required, when config.UseRedis is set.
func New(config *Config, client *redis.Client) (Queue, DeadLetterQueue, error) {
	if config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	if !config.UseRedis {
		return NewMemoryQueue(config), NewMemoryDeadLetterQueue(), nil
	}
	if client == nil {
		return nil, nil, fmt.Errorf("redis client is required for queue %q", config.QueueName)
	}
	return NewRedisQueue(client, config), NewRedisDeadLetterQueue(client, config), nil
}
