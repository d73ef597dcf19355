package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rebill/pkg/billing"
)

var tracer = otel.Tracer("github.com/platinummonkey/rebill/pkg/report")

// DefaultPrefix is the key prefix used when none is configured
const DefaultPrefix = "billing-runs"

// S3Config configures the report archive bucket
type S3Config struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// UsePathStyle is needed for MinIO and other S3-compatible stores
	UsePathStyle bool
}

// ObjectAPI is the subset of *s3.Client the sink uses
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// NewS3Client builds an S3 client from cfg. Static keys are used when both are
// set, otherwise the default credential chain (env, shared config, IAM role).
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Sink archives run results as JSON objects
type S3Sink struct {
	api    ObjectAPI
	bucket string
	prefix string
	logger *logrus.Logger
}

// NewS3Sink creates a sink writing to bucket under prefix
func NewS3Sink(api ObjectAPI, bucket, prefix string, logger *logrus.Logger) *S3Sink {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &S3Sink{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// EnsureBucket creates the bucket when it does not exist yet
func (s *S3Sink) EnsureBucket(ctx context.Context) error {
	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	_, err := s.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Key returns the object key for result
func (s *S3Sink) Key(result *billing.RunResult) string {
	day := strings.ReplaceAll(result.Date, "-", "/")
	name := result.RunID
	if result.DryRun {
		name += "-dry-run"
	}
	return path.Join(s.prefix, day, name+".json")
}

// Publish uploads result
func (s *S3Sink) Publish(ctx context.Context, result *billing.RunResult) error {
	key := s.Key(result)
	ctx, span := tracer.Start(ctx, "S3.PutRunReport",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
			attribute.String("run.id", result.RunID),
		),
	)
	defer span.End()

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal report")
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))

	hash := sha256.Sum256(data)
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
			"run-date":        result.Date,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload run report to s3: %w", err)
	}

	span.SetStatus(codes.Ok, "report uploaded")
	s.logger.WithFields(logrus.Fields{
		"run_id": result.RunID,
		"bucket": s.bucket,
		"key":    key,
	}).Info("Archived run report")
	return nil
}

func isBucketAlreadyExistsError(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	return errors.As(err, &owned) || errors.As(err, &exists)
}
