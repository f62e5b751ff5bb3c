package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"healthvoice/pkg/logger"
	"healthvoice/pkg/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultEndpoint = "https://storage.yandexcloud.net"
	DefaultRegion   = "ru-central1"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// StagedClip is a recording uploaded for a remote transcriber to fetch
type StagedClip struct {
	Key string
	URL string
}

// S3Storage stages audio clips in an S3 compatible bucket
type S3Storage struct {
	client   *s3.Client
	bucket   string
	endpoint string
	now      func() time.Time
}

func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(
		context.Background(),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	logger.Info("S3 storage initialized", zap.String("bucket", cfg.Bucket))

	return &S3Storage{
		client:   client,
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		now:      time.Now,
	}, nil
}

// Stage uploads clip under a fresh key
func (s *S3Storage) Stage(ctx context.Context, clip model.AudioClip, extension string) (StagedClip, error) {
	key := s.GenerateKey(uuid.NewString(), extension)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(clip.Data),
		ContentType: aws.String(clip.MimeType),
	})
	if err != nil {
		return StagedClip{}, fmt.Errorf("failed to upload clip: %w", err)
	}

	staged := StagedClip{Key: key, URL: s.ObjectURL(key)}
	logger.Debug("Clip staged",
		zap.String("key", key),
		zap.Int("size", len(clip.Data)))

	return staged, nil
}

// Remove deletes a staged clip
func (s *S3Storage) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete clip: %w", err)
	}

	logger.Debug("Clip removed", zap.String("key", key))
	return nil
}

// GenerateKey lays clips out by day: clips/2006/01/02/<id><ext>
func (s *S3Storage) GenerateKey(id, extension string) string {
	return path.Join("clips", s.now().UTC().Format("2006/01/02"), id+extension)
}

// ObjectURL is the path style URL the transcriber reads the clip from
func (s *S3Storage) ObjectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
}
