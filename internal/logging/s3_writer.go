package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"llm_relay/internal/utils"
)

// BatchWriter persists a batch of records and returns where it went
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*TurnRecord) (string, error)
}

// S3PutObjectAPI is the part of the S3 client the writer needs
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer handles writing batches of turn records to S3
type S3Writer struct {
	client  S3PutObjectAPI
	bucket  string
	prefix  string
	podName string
	now     func() time.Time
	logger  *utils.Logger
}

// NewS3Writer creates a new S3 writer
func NewS3Writer(ctx context.Context, bucket, region, prefix, podName string) (*S3Writer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3WriterWithClient(s3.NewFromConfig(cfg), bucket, prefix, podName), nil
}

// NewS3WriterWithClient creates a writer over an existing client
func NewS3WriterWithClient(client S3PutObjectAPI, bucket, prefix, podName string) *S3Writer {
	return &S3Writer{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		podName: podName,
		now:     time.Now,
		logger:  utils.NewLogger("s3-writer"),
	}
}

// objectKey renders <prefix>YYYY/MM/DD/<pod>-YYYYMMDD-HHMMSS-<nanos>.jsonl
func (w *S3Writer) objectKey(now time.Time) string {
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		w.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		w.podName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)
}

// WriteBatch uploads records as one JSON Lines object and returns its key
func (w *S3Writer) WriteBatch(ctx context.Context, records []*TurnRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			w.logger.Error("Failed to encode record", "turn_id", record.TurnID, "error", err)
		}
	}

	key := w.objectKey(w.now().UTC())
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	w.logger.Info("Wrote batch to S3", "key", key, "count", len(records), "bytes", buf.Len())
	return key, nil
}
