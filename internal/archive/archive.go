package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"parcelharvest/internal/config"
	"parcelharvest/internal/model"
)

// Archiver stores raw remote payloads for later reprocessing. Archiving
// is best-effort: a failed upload never fails the job.
type Archiver interface {
	Archive(ctx context.Context, result *model.CollectionResult) (string, error)
}

type s3Archiver struct {
	s3     *s3.Client
	bucket string
	region string
}

// NewS3Archiver creates an archiver writing to the configured bucket.
func NewS3Archiver(cfg config.ArchiveConfig) (Archiver, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg)

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Msg("Payload archiver initialized")

	return &s3Archiver{
		s3:     client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Archive uploads the payload under a key derived from the collection.
func (a *s3Archiver) Archive(ctx context.Context, result *model.CollectionResult) (string, error) {
	key := fmt.Sprintf("collections/%s/%s/%s-%s.json",
		result.Type,
		result.SubjectKey,
		result.FetchedAt.UTC().Format("20060102T150405"),
		result.JobID,
	)

	start := time.Now()
	uploader := manager.NewUploader(a.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(result.Payload),
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Dur("duration", time.Since(start)).
			Msg("Failed to archive payload")
		return "", err
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key)
	log.Debug().
		Str("key", key).
		Int("size", len(result.Payload)).
		Dur("duration", time.Since(start)).
		Msg("Archived raw payload")
	return url, nil
}
