// Package storage archives dead-lettered delivery jobs to S3-compatible
// object storage before queue retention deletes them.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	infraconfig "github.com/funnelvalue/conversions/internal/infrastructure/config"
	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
)

const (
	defaultRegion = "us-east-1"
	defaultPrefix = "dead-letter"
	contentType   = "application/x-ndjson"
)

// Ensure S3Archiver implements queue.Archiver
var _ queue.Archiver = (*S3Archiver)(nil)

// S3Archiver writes failed jobs as JSON Lines objects, one object per batch.
// It works with any S3-compatible store (AWS S3, MinIO, RustFS).
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// S3ArchiverOption is a functional option for configuring S3Archiver
type S3ArchiverOption func(*S3Archiver)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3ArchiverOption {
	return func(a *S3Archiver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) S3ArchiverOption {
	return func(a *S3Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// NewS3Archiver creates an archiver from configuration. Static credentials
// are used when both keys are set; otherwise the default AWS chain applies.
func NewS3Archiver(ctx context.Context, cfg *infraconfig.ArchiveConfig, opts ...S3ArchiverOption) (*S3Archiver, error) {
	if cfg == nil {
		return nil, errors.New("archive configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, errors.New("archive access key and secret key must be set together")
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	var endpoint string
	if cfg.Endpoint != "" {
		endpoint = cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid archive endpoint: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}

	a := &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call this during startup so the first eviction can archive.
func (a *S3Archiver) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ArchivedJob is one line of an archive object
type ArchivedJob struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// Archive uploads the jobs as a single object. The queue keeps the jobs
// when this returns an error.
func (a *S3Archiver) Archive(ctx context.Context, queueName string, jobs []*queue.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	now := a.now()
	body, err := encodeBatch(queueName, jobs, now)
	if err != nil {
		return err
	}
	key := a.objectKey(queueName, now)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	a.logger.Info("Archived failed jobs",
		zap.String("queue", queueName),
		zap.String("key", key),
		zap.Int("count", len(jobs)),
	)
	return nil
}

// objectKey is <prefix>/<queue>/<yyyy>/<mm>/<dd>/<timestamp>-<uuid>.jsonl
func (a *S3Archiver) objectKey(queueName string, now time.Time) string {
	name := fmt.Sprintf("%s-%s.jsonl", now.Format("20060102T150405Z"), uuid.NewString())
	return path.Join(a.prefix, queueName, now.Format("2006/01/02"), name)
}

// Bucket returns the bucket name
func (a *S3Archiver) Bucket() string {
	return a.bucket
}

func encodeBatch(queueName string, jobs []*queue.Job, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, j := range jobs {
		payload := json.RawMessage(j.Payload)
		if !json.Valid(payload) {
			quoted, err := json.Marshal(string(j.Payload))
			if err != nil {
				return nil, err
			}
			payload = quoted
		}
		if err := enc.Encode(ArchivedJob{
			ID:         j.ID,
			Queue:      queueName,
			Attempts:   j.Attempts,
			LastError:  j.LastError,
			Payload:    payload,
			CreatedAt:  j.CreatedAt,
			FinishedAt: j.FinishedAt,
			ArchivedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("encode archived job %s: %w", j.ID, err)
		}
	}
	return buf.Bytes(), nil
}
