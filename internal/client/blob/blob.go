// Package blob stores memory content (photos) in S3-compatible object
// storage. The authoring device uploads directly; deleting a memory
// removes its object.
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the object storage settings.
type Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string // custom S3-compatible endpoint, optional
}

// Store uploads and deletes content objects.
type Store struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewStore creates a blob store from the given settings.
func NewStore(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket, log: logger}, nil
}

// Upload stores body under a fresh key scoped to the pair and returns the
// object URL recorded in the memory document.
func (s *Store) Upload(ctx context.Context, pairID string, body io.Reader, contentType string) (string, error) {
	key := fmt.Sprintf("%s/%s.jpg", pairID, uuid.New().String())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload content: %w", err)
	}

	s.log.Debug().Str("key", key).Msg("Content uploaded")
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Delete removes the object referenced by url. URLs outside this store's
// bucket are ignored.
func (s *Store) Delete(ctx context.Context, url string) error {
	prefix := fmt.Sprintf("s3://%s/", s.bucket)
	if !strings.HasPrefix(url, prefix) {
		return nil
	}
	key := strings.TrimPrefix(url, prefix)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}

	s.log.Debug().Str("key", key).Msg("Content deleted")
	return nil
}
