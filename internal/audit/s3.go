package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// UploaderConfig configures the optional S3-compatible archival sink.
// Disabled (Enabled=false) by default: this is audit convenience, not a
// requirement (SPEC_FULL.md AMBIENT/DOMAIN STACK notes).
type UploaderConfig struct {
	Enabled         bool
	Bucket          string
	KeyPrefix       string
	Endpoint        string // non-empty for an S3-compatible provider (e.g. R2) rather than AWS S3 itself
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Uploader archives digests to S3-compatible object storage.
type Uploader struct {
	bucket    string
	keyPrefix string
	client    *manager.Uploader
	log       zerolog.Logger
}

// NewUploader builds an Uploader from cfg. Returns nil, nil when cfg is
// disabled, so callers can treat a nil *Uploader as "archival off" without
// a separate enabled check at every call site.
func NewUploader(ctx context.Context, cfg UploaderConfig, log zerolog.Logger) (*Uploader, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("audit: bucket is required when archival is enabled")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("audit: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		client:    manager.NewUploader(client),
		log:       log.With().Str("component", "audit").Logger(),
	}, nil
}

// Upload archives one digest as a JSON object keyed by
// {prefix}/{account_label}/{date}.json.
func (u *Uploader) Upload(ctx context.Context, digest Digest) error {
	body, err := json.MarshalIndent(digest, "", "  ")
	if err != nil {
		return fmt.Errorf("audit: marshal digest: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s.json", u.keyPrefix, digest.AccountLabel, digest.Date)
	_, err = u.client.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("audit: upload digest: %w", err)
	}

	u.log.Info().Str("account", digest.AccountLabel).Str("date", digest.Date).
		Int("breach_count", len(digest.Breaches)).Msg("uploaded breach digest")
	return nil
}
