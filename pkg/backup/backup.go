// Package backup uploads the identifier state snapshot and operation logs
// to an S3-compatible bucket.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/rfidgate/internal/logger"
	"github.com/marmos91/rfidgate/pkg/idstate"
	"github.com/marmos91/rfidgate/pkg/idstate/jsonfile"
)

// StateObjectName is the object name of the exported snapshot inside a
// backup. It keeps the legacy file name so a restore is a plain copy.
const StateObjectName = "id_state.json"

// KeyTimeLayout names the per-run directory under the prefix.
const KeyTimeLayout = "20060102T150405Z"

// Config holds configuration for the S3 uploader.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// Prefix is prepended to all object keys (e.g., "rfidgate/").
	Prefix string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool

	// Static credentials. When AccessKeyID is empty the default AWS
	// credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// ObjectPutter is the subset of the S3 client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes backup objects to one bucket.
type Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// New creates an uploader around an existing client.
func New(client ObjectPutter, config Config) *Uploader {
	return &Uploader{
		client: client,
		bucket: config.Bucket,
		prefix: config.Prefix,
		now:    time.Now,
	}
}

// NewFromConfig creates an uploader by building an S3 client from config.
func NewFromConfig(ctx context.Context, config Config) (*Uploader, error) {
	if config.Bucket == "" {
		return nil, errors.New("backup bucket is not configured")
	}

	var opts []func(*awsconfig.LoadOptions) error

	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.ForcePathStyle
	})

	return New(client, config), nil
}

// Plan lists what one backup run uploads.
type Plan struct {
	State idstate.State
	Files []string
}

// Report is the outcome of a run.
type Report struct {
	// Keys are the object keys written, state snapshot first.
	Keys []string

	// Skipped are planned files that did not exist.
	Skipped []string
}

// Run uploads the state snapshot and every existing file in plan under
// <prefix><timestamp>/. A missing file is skipped; any other error aborts
// the run.
func (u *Uploader) Run(ctx context.Context, plan Plan) (Report, error) {
	var report Report
	dir := u.prefix + u.now().UTC().Format(KeyTimeLayout) + "/"

	data, err := jsonfile.Encode(plan.State)
	if err != nil {
		return report, fmt.Errorf("failed to encode state: %w", err)
	}

	key := dir + StateObjectName
	if err := u.put(ctx, key, data, "application/json"); err != nil {
		return report, err
	}
	report.Keys = append(report.Keys, key)

	for _, file := range plan.Files {
		data, err := os.ReadFile(file)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Backup file missing, skipping", logger.KeyPath, file)
			report.Skipped = append(report.Skipped, file)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("failed to read %s: %w", file, err)
		}

		key := dir + path.Base(filepath.ToSlash(file))
		if err := u.put(ctx, key, data, contentType(file)); err != nil {
			return report, err
		}
		report.Keys = append(report.Keys, key)
	}

	logger.Info("Backup uploaded",
		"bucket", u.bucket,
		"objects", len(report.Keys),
		"skipped", len(report.Skipped))
	return report, nil
}

func (u *Uploader) put(ctx context.Context, key string, data []byte, ct string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ct),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	logger.Debug("Backup object written", "key", key, "size", len(data))
	return nil
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}
