package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/copilotz/copilotz/pkg/models"
)

// S3Config configures the S3-backed asset store. Endpoint and path-style
// addressing allow MinIO and other S3-compatible services.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
}

// S3Store keeps assets as S3 objects keyed by <prefix>/<id>, with the
// MIME type carried as the object content type.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store builds the AWS client and verifies the bucket is set.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOptions := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOptions = append(loadOptions, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Save uploads the bytes under a fresh id.
func (s *S3Store) Save(ctx context.Context, data io.Reader, opts SaveOptions) (*models.Asset, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return nil, fmt.Errorf("failed to read asset data: %w", err)
	}

	id := uuid.New().String()
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Body:   bytes.NewReader(buf.Bytes()),
	}
	if opts.MimeType != "" {
		input.ContentType = aws.String(opts.MimeType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to upload asset: %w", err)
	}

	return &models.Asset{
		ID:        id,
		MimeType:  opts.MimeType,
		Size:      int64(buf.Len()),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Get downloads the asset bytes and descriptor.
func (s *S3Store) Get(ctx context.Context, id string) ([]byte, *models.Asset, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		return nil, nil, fmt.Errorf("failed to download asset: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read asset body: %w", err)
	}

	return data, s.describe(id, out.ContentType, out.ContentLength, out.LastModified), nil
}

// Head fetches the descriptor via a HEAD request.
func (s *S3Store) Head(ctx context.Context, id string) (*models.Asset, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		return nil, fmt.Errorf("failed to head asset: %w", err)
	}
	return s.describe(id, out.ContentType, out.ContentLength, out.LastModified), nil
}

// Delete removes the object; missing objects are not an error.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

// Close releases nothing for the S3 store.
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) objectKey(id string) string {
	if s.prefix == "" {
		return id
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + id
}

func (s *S3Store) describe(id string, contentType *string, contentLength *int64, lastModified *time.Time) *models.Asset {
	asset := &models.Asset{ID: id}
	if contentType != nil {
		asset.MimeType = *contentType
	}
	if contentLength != nil {
		asset.Size = *contentLength
	}
	if lastModified != nil {
		asset.CreatedAt = lastModified.UTC()
	}
	return asset
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "NotFound")
}
