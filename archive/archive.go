// Package archive uploads accepted artifact bundles to S3-compatible
// object storage for long-term retention.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/evalfactory/evalfactory/log"
	"github.com/evalfactory/evalfactory/types"
)

// Config holds S3 archive settings.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("archive bucket is required")
	}
	return nil
}

// putObjectAPI is the slice of the S3 client the uploader needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes one object per artifact under
// <prefix>/<instance-id>/<name>.
type Uploader struct {
	client putObjectAPI
	cfg    Config
	logger *log.Logger
}

// New creates an Uploader against real S3. Uses the AWS SDK default
// credential chain (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg, logger), nil
}

// NewWithClient creates an Uploader on a preconstructed client.
func NewWithClient(client putObjectAPI, cfg Config, logger *log.Logger) *Uploader {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Uploader{client: client, cfg: cfg, logger: logger}
}

// artifactObjects maps object names to bundle content.
func artifactObjects(rec *types.ResultRecord) map[string]string {
	objects := map[string]string{
		"Dockerfile": rec.Bundle.EnvironmentSpec,
		"eval.sh":    rec.Bundle.RunScript,
		"test.patch": rec.Bundle.TestPatch,
		"context.md": rec.Bundle.Context,
	}
	for name, content := range objects {
		if strings.TrimSpace(content) == "" {
			delete(objects, name)
		}
	}
	return objects
}

// Upload stores every non-empty artifact of an accepted record.
func (u *Uploader) Upload(ctx context.Context, rec *types.ResultRecord) error {
	for name, content := range artifactObjects(rec) {
		key := path.Join(u.cfg.Prefix, rec.InstanceID, name)
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &u.cfg.Bucket,
			Key:    &key,
			Body:   strings.NewReader(content),
		})
		if err != nil {
			return fmt.Errorf("archive %s: %w", key, err)
		}
		u.logger.Debug("archived artifact", map[string]any{
			"instance_id": rec.InstanceID,
			"key":         key,
		})
	}
	return nil
}
