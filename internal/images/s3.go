package images

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3GetObjectAPI is the part of the S3 client the store needs
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store reads images from s3://<bucket>/<prefix><assetId>.jpg
type S3Store struct {
	client S3GetObjectAPI
	bucket string
	prefix string
}

// NewS3Store creates a store using the default AWS credential chain
func NewS3Store(ctx context.Context, bucket, region, prefix string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3StoreWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewS3StoreWithClient creates a store over an existing client
func NewS3StoreWithClient(client S3GetObjectAPI, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Get downloads the object for assetID
func (s *S3Store) Get(ctx context.Context, assetID string) ([]byte, error) {
	if !ValidAssetID(assetID) {
		return nil, ErrInvalidAssetID
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + assetID + ".jpg"),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("failed to get image from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image from S3: %w", err)
	}
	return data, nil
}
