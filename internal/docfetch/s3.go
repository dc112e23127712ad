package docfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Fetcher reads document blobs from a single bucket. Refs are object keys.
type S3Fetcher struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewS3Fetcher loads AWS credentials from the default chain and binds the
// fetcher to bucket. An empty region falls back to the chain default.
func NewS3Fetcher(ctx context.Context, bucket, region string) (*S3Fetcher, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Fetcher{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}, nil
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, ref string) ([]byte, Meta, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, Meta{}, fmt.Errorf("fetch %s: %w", ref, ErrNotFound)
		}
		return nil, Meta{}, fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("read %s: %w", ref, err)
	}
	meta := Meta{Size: int64(len(body))}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	return body, meta, nil
}

// PresignURL implements Fetcher.
func (f *S3Fetcher) PresignURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	req, err := f.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", ref, err)
	}
	return req.URL, nil
}
