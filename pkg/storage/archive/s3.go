// Package archive offloads oversized step raw_result payloads to
// blob storage so the campaign_runs.results jsonb column stays small.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements storage.ArchiveStore against S3-compatible object
// storage (AWS S3 or MinIO, via the path-style/endpoint override).
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig holds S3 configuration.
type S3StoreConfig struct {
	Bucket          string
	Prefix          string // e.g. "raw-results/"
	Region          string
	Endpoint        string // for MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Store creates a new S3-backed archive store.
func NewS3Store(cfg S3StoreConfig) (*S3Store, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Store uploads the payload under a date-sharded key and returns its
// s3:// reference URI.
func (s *S3Store) Store(ctx context.Context, key string, payload []byte) (string, error) {
	fullKey := s.buildKey(key)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload raw result to s3: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, fullKey), nil
}

func (s *S3Store) buildKey(key string) string {
	prefix := strings.TrimSuffix(s.prefix, "/")
	timestamp := time.Now().Format("2006/01/02")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", timestamp, key)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, timestamp, key)
}

// LocalStore writes archived payloads to local disk, used when no
// S3_BUCKET is configured (single-node/dev deployments).
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a local-filesystem archive store.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) Store(ctx context.Context, key string, payload []byte) (string, error) {
	path := filepath.Join(l.basePath, key+".json")
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to write archived result: %w", err)
	}
	return path, nil
}
