package s3backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// objectAPI is the subset of the S3 client used for archiving.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Client archives webhook log partitions to S3
type Client struct {
	s3Client objectAPI
	config   *ArchiveConfig
}

// NewClient creates a new S3 archive client
func NewClient(ctx context.Context, cfg *ArchiveConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("log archiving is disabled")
	}

	// Create AWS config
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.KeyID,
			cfg.KeySecret,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client
	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Force path-style URLs for S3-compatible services
		}
	})

	client := &Client{
		s3Client: s3Client,
		config:   cfg,
	}

	// Test connection
	if _, err := client.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.Bucket, err)
	}

	log.Infof("[S3Backup] Log archive ready for bucket: %s", cfg.Bucket)
	return client, nil
}

// ArchivePartition uploads a day partition file.
func (c *Client) ArchivePartition(ctx context.Context, path string, day time.Time) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info for %s: %w", path, err)
	}

	objectKey := c.config.ObjectKey(day, filepath.Base(path))
	log.Infof("[S3Backup] Archiving %s -> s3://%s/%s (Size: %d bytes)", path, c.config.Bucket, objectKey, fileInfo.Size())

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.config.Bucket),
		Key:           aws.String(objectKey),
		Body:          file,
		ContentType:   aws.String("application/x-ndjson"),
		ContentLength: aws.Int64(fileInfo.Size()),
		Metadata: map[string]string{
			"partition-day": day.UTC().Format("2006-01-02"),
			"upload-source": "pdfshrink-webhook-log",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}
