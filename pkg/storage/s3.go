package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gooddata/sso-url/pkg/telemetry"
)

// maxTokenSize bounds how much of an object is read as a token
const maxTokenSize = 1 << 20

// S3Config holds configuration for S3 storage. An empty BucketHost uses the
// AWS endpoint for Region; otherwise the S3-compatible endpoint at
// BucketHost:BucketPort is used with path-style addressing.
type S3Config struct {
	BucketHost      string
	BucketPort      int
	UseSSL          bool
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Endpoint returns the custom endpoint URL, or "" for the AWS default
func (c S3Config) Endpoint() string {
	if c.BucketHost == "" {
		return ""
	}
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	if c.BucketPort == 0 {
		return fmt.Sprintf("%s://%s", scheme, c.BucketHost)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BucketHost, c.BucketPort)
}

// s3GetObjectAPI is the part of the S3 client used for reading tokens
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads tokens from S3-compatible object storage
type S3Source struct {
	client s3GetObjectAPI
}

// NewS3Source creates a new S3 client
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.Endpoint()
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: telemetry.WrapTransport(nil)}
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO and most S3-compatible stores
		}
	})

	return &S3Source{client: client}, nil
}

// Read fetches the object referenced by s3://bucket/key
func (s *S3Source) Read(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := ParseS3Ref(ref)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &ErrNotFound{Ref: ref}
		}
		return nil, fmt.Errorf("failed to get token object: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read token object: %w", err)
	}
	if len(data) > maxTokenSize {
		return nil, fmt.Errorf("token object %s exceeds %d bytes", ref, maxTokenSize)
	}
	return data, nil
}
