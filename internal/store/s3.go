package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3 is a Client backed by an S3-compatible bucket. Conditional writes use
// the If-Match / If-None-Match headers on PutObject, so the linearizable CAS
// precondition holds on any backend that implements S3 conditional writes.
type S3 struct {
	client *s3.Client
	bucket string
}

// S3Options configure the S3 client.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string // Optional custom endpoint for S3-compatible backends
	AccessKey string
	SecretKey string
	PathStyle bool // Use path-style addressing (required by most non-AWS backends)
}

// NewS3 creates an S3-backed store client.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &S3{client: client, bucket: opts.Bucket}, nil
}

// Get reads a record and its etag.
func (s *S3) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error(err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body for %s: %v", ErrUnavailable, key, err)
	}

	return &Record{
		Key:      key,
		Body:     body,
		Metadata: out.Metadata,
		Version:  aws.ToString(out.ETag),
	}, nil
}

// Head reads metadata and etag without the body.
func (s *S3) Head(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error(err)
	}

	return &Record{
		Key:      key,
		Metadata: out.Metadata,
		Version:  aws.ToString(out.ETag),
	}, nil
}

// Put writes a record, translating conditions to If-Match / If-None-Match.
func (s *S3) Put(ctx context.Context, key string, body []byte, opts PutOptions) (*Record, error) {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: opts.Metadata,
	}
	if opts.IfMatch != "" {
		input.IfMatch = aws.String(opts.IfMatch)
	}
	if opts.IfNoneMatch {
		input.IfNoneMatch = aws.String("*")
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return nil, mapS3Error(err)
	}

	return &Record{
		Key:      key,
		Body:     body,
		Metadata: opts.Metadata,
		Version:  aws.ToString(out.ETag),
	}, nil
}

// Delete removes a record. S3 deletes are idempotent.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapS3Error(err)
	}
	return nil
}

// DeleteMany removes up to 1000 keys per DeleteObjects call.
func (s *S3) DeleteMany(ctx context.Context, keys []string) error {
	const maxPerCall = 1000

	for start := 0; start < len(keys); start += maxPerCall {
		end := start + maxPerCall
		if end > len(keys) {
			end = len(keys)
		}

		objects := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(key)})
		}

		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return mapS3Error(err)
		}
	}
	return nil
}

// List returns keys and etags under prefix. Bodies and metadata are not
// populated; callers needing them issue a Get per key.
func (s *S3) List(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}
	if limit > 0 {
		input.MaxKeys = aws.Int32(int32(limit))
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, mapS3Error(err)
	}

	page := &ListPage{
		Truncated:  aws.ToBool(out.IsTruncated),
		NextCursor: aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		page.Records = append(page.Records, Record{
			Key:     aws.ToString(obj.Key),
			Version: aws.ToString(obj.ETag),
		})
	}

	return page, nil
}

// mapS3Error translates SDK errors into the store taxonomy. Condition
// mismatches become ErrPreconditionFailed, missing objects ErrNotFound, and
// everything else is wrapped in ErrUnavailable.
func mapS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return ErrPreconditionFailed
		case "NoSuchKey", "NotFound":
			return ErrNotFound
		}
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusPreconditionFailed:
			return ErrPreconditionFailed
		case http.StatusNotFound:
			return ErrNotFound
		}
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
