package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()
	assert.NoError(t, sink.Enqueue(&TurnRecord{TurnID: "t1", Outcome: "completed"}))
	assert.NoError(t, sink.Shutdown(context.Background()))
}

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]*TurnRecord
	err     error
}

func (w *recordingWriter) WriteBatch(ctx context.Context, records []*TurnRecord) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.batches = append(w.batches, records)
	return "key", nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisSink_BufferAndFlush(t *testing.T) {
	client, mr := setupRedis(t)
	writer := &recordingWriter{}
	sink := NewRedisSink(client, writer, RedisSinkConfig{Key: "turns", MaxBuffered: 3, FlushSize: 2})

	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		require.NoError(t, sink.Enqueue(&TurnRecord{TurnID: id}))
	}

	// capped at MaxBuffered, oldest dropped
	items, err := mr.List("turns")
	require.NoError(t, err)
	assert.Len(t, items, 3)

	ctx := context.Background()
	n, err := sink.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, writer.batches, 1)
	assert.Equal(t, "t2", writer.batches[0][0].TurnID)
	assert.Equal(t, "t3", writer.batches[0][1].TurnID)

	require.NoError(t, sink.Shutdown(ctx))
	assert.Equal(t, 3, writer.count())
	assert.False(t, mr.Exists("turns"))
}

func TestRedisSink_RequeueOnWriteFailure(t *testing.T) {
	client, mr := setupRedis(t)
	writer := &recordingWriter{err: errors.New("s3 down")}
	sink := NewRedisSink(client, writer, RedisSinkConfig{Key: "turns", FlushSize: 10})

	require.NoError(t, sink.Enqueue(&TurnRecord{TurnID: "a"}))
	require.NoError(t, sink.Enqueue(&TurnRecord{TurnID: "b"}))

	_, err := sink.Flush(context.Background())
	assert.Error(t, err)

	items, err := mr.List("turns")
	require.NoError(t, err)
	require.Len(t, items, 2)
	var first TurnRecord
	require.NoError(t, json.Unmarshal([]byte(items[0]), &first))
	assert.Equal(t, "a", first.TurnID)
}

func TestRedisSink_FlushLoop(t *testing.T) {
	client, _ := setupRedis(t)
	writer := &recordingWriter{}
	sink := NewRedisSink(client, writer, RedisSinkConfig{
		Key:          "turns",
		FlushSize:    2,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Start(ctx)

	require.NoError(t, sink.Enqueue(&TurnRecord{TurnID: "a"}))
	require.NoError(t, sink.Enqueue(&TurnRecord{TurnID: "b"}))

	assert.Eventually(t, func() bool { return writer.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, sink.Shutdown(shutdownCtx))
}

type fakePutObject struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakePutObject) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Writer_WriteBatch(t *testing.T) {
	client := &fakePutObject{}
	w := NewS3WriterWithClient(client, "audit", "turns/", "relay-0")
	w.now = func() time.Time { return time.Date(2025, 3, 9, 14, 30, 22, 123, time.UTC) }

	key, err := w.WriteBatch(context.Background(), []*TurnRecord{
		{TurnID: "t1", Outcome: "completed"},
		{TurnID: "t2", Outcome: "refunded", Error: "upstream returned status 500"},
	})
	require.NoError(t, err)
	assert.Equal(t, "turns/2025/03/09/relay-0-20250309-143022-123.jsonl", key)
	assert.Equal(t, "audit", aws.ToString(client.input.Bucket))
	assert.Equal(t, "application/x-ndjson", aws.ToString(client.input.ContentType))

	var lines []TurnRecord
	scanner := bufio.NewScanner(bytes.NewReader(client.body))
	for scanner.Scan() {
		var rec TurnRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "refunded", lines[1].Outcome)

	key, err = w.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, key)
}
