// Package storage wraps the S3 client used to persist query artifacts.
// It supports both AWS and MinIO-style endpoints.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
)

// Config holds S3 connection settings.
type Config struct {
	EndpointURL string // empty for AWS; set for MinIO and similar
	Bucket      string
	AccessKey   string
	SecretKey   string
	Region      string
}

// Client uploads and downloads query artifacts.
type Client struct {
	s3      *s3.Client
	presign *s3.PresignClient
	cfg     Config
	log     *slog.Logger
}

// New creates a Client. When EndpointURL is set, path-style addressing is
// enabled (required for MinIO).
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
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

	var client *s3.Client
	if cfg.EndpointURL != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		})
		log.Info("storage: using custom S3 endpoint", "endpoint", cfg.EndpointURL)
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &Client{
		s3:      client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
		log:     log,
	}, nil
}

// EnsureBucket creates the configured bucket if it does not already exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.cfg.Bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to check bucket %s: %w", c.cfg.Bucket, err)
	}

	c.log.Info("storage: creating bucket", "bucket", c.cfg.Bucket)
	if _, err := c.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.cfg.Bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.cfg.Bucket, err)
	}
	return nil
}

// Upload stores a local file under key and returns its URL. The upload is
// retried with exponential backoff on transient failures.
func (c *Client) Upload(ctx context.Context, localPath, key string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	op := func() error {
		_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(c.cfg.Bucket),
			Key:    aws.String(key),
			Body:   strings.NewReader(string(data)),
		})
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", fmt.Errorf("S3 upload of %s failed: %w", key, err)
	}

	c.log.Info("storage: uploaded", "key", key, "bytes", len(data))
	return c.ObjectURL(key), nil
}

// Download fetches an object to a local path.
func (c *Client) Download(ctx context.Context, key, localPath string) error {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := f.ReadFrom(out.Body); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return nil
}

// PresignedURL returns a time-limited download URL for an object.
func (c *Client) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}

// ObjectURL constructs the public URL for an object key.
func (c *Client) ObjectURL(key string) string {
	if c.cfg.EndpointURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(c.cfg.EndpointURL, "/"), c.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.cfg.Bucket, c.cfg.Region, key)
}
