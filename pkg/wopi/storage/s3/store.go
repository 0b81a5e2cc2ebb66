// Package s3 implements a storage.Adapter backed by objects in a single
// S3 bucket, one object per WOPI file under an optional key prefix.
// Version is the object's ETag; transient AWS errors are retried with
// exponential backoff, distinguished from not-found and access-denied
// errors which fail immediately.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/YananZhang666/wopihost/pkg/wopi/storage"
)

// Client is the subset of the AWS SDK S3 client this package calls,
// satisfied by *s3.Client and by test doubles.
type Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// RetryConfig controls the backoff applied to transient S3 errors.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig matches the backoff the rest of the pack's S3
// integrations use for transient AWS errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Store is an S3-backed storage.Adapter.
type Store struct {
	client Client
	bucket string
	prefix string
	name   string
	retry  RetryConfig
}

// Config configures a Store.
type Config struct {
	Bucket string
	Prefix string // optional key prefix, e.g. "wopi/"
	Name   string // folder name surfaced by CheckFolderInfo
	Retry  RetryConfig
}

// New returns a Store using client against cfg.Bucket.
func New(client Client, cfg Config) *Store {
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = DefaultRetryConfig()
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Bucket
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, name: name, retry: retry}
}

func (s *Store) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + id
}

func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.BackoffMultiplier
	}
	if backoff > float64(s.retry.MaxBackoff) {
		backoff = float64(s.retry.MaxBackoff)
	}
	return time.Duration(backoff)
}

// withRetry runs op, retrying transient errors with exponential backoff.
// Not-found and non-retryable errors return immediately.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.calculateBackoff(attempt - 1)):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if isNotFoundError(lastErr) || !isRetryableError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("s3 storage: failed after %d attempts: %w", s.retry.MaxRetries+1, lastErr)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"ProvisionedThroughputExceededException":
			return true
		case "InternalError", "ServiceUnavailable", "ServiceException", "InternalServiceException":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRequest":
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout")
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}

	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}

func (s *Store) Size(ctx context.Context, id string) (int64, error) {
	var size int64
	err := s.withRetry(ctx, func() error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(id)),
		})
		if err != nil {
			return err
		}
		if out.ContentLength != nil {
			size = *out.ContentLength
		}
		return nil
	})
	if isNotFoundError(err) {
		return 0, storage.ErrNotFound
	}
	return size, err
}

// ReadOnly is always false for the S3 adapter; read-only enforcement for
// object storage backends is expected to live in bucket policy, not host
// state.
func (s *Store) ReadOnly(context.Context, string) bool { return false }

func (s *Store) Version(ctx context.Context, id string) (string, error) {
	var version string
	err := s.withRetry(ctx, func() error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(id)),
		})
		if err != nil {
			return err
		}
		if out.ETag != nil {
			version = strings.Trim(*out.ETag, `"`)
		}
		return nil
	})
	if isNotFoundError(err) {
		return "", storage.ErrNotFound
	}
	return version, err
}

func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := s.withRetry(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(id)),
		})
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if isNotFoundError(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Store) Upload(ctx context.Context, id string, r io.Reader) (string, error) {
	if _, err := s.Size(ctx, id); err != nil {
		return "", err
	}
	return s.putObject(ctx, id, r)
}

func (s *Store) CreateOrOverwrite(ctx context.Context, name string, r io.Reader) error {
	_, err := s.putObject(ctx, name, r)
	return err
}

func (s *Store) putObject(ctx context.Context, id string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	var version string
	err = s.withRetry(ctx, func() error {
		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(id)),
			Body:   strings.NewReader(string(data)),
		})
		if err != nil {
			return err
		}
		if out.ETag != nil {
			version = strings.Trim(*out.ETag, `"`)
		}
		return nil
	})
	return version, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if !s.Exists(ctx, id) {
		return storage.ErrNotFound
	}
	return s.withRetry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(id)),
		})
		return err
	})
}

func (s *Store) Rename(ctx context.Context, id, newName string) (string, bool, error) {
	if !s.Exists(ctx, id) {
		return "", false, storage.ErrNotFound
	}
	if newName != id && s.Exists(ctx, newName) {
		return "", false, nil
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(s.key(newName)),
			CopySource: aws.String(s.bucket + "/" + s.key(id)),
		})
		return err
	})
	if err != nil {
		return "", false, err
	}

	if err := s.Delete(ctx, id); err != nil {
		return "", false, err
	}
	return newName, true, nil
}

func (s *Store) Exists(ctx context.Context, id string) bool {
	_, err := s.Size(ctx, id)
	return err == nil
}

func (s *Store) RootDirectory(ctx context.Context) (storage.RootDirectory, error) {
	var children []storage.ChildInfo
	err := s.withRetry(ctx, func() error {
		children = children[:0]
		var token *string
		for {
			out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(s.prefix),
				ContinuationToken: token,
			})
			if err != nil {
				return err
			}
			for _, obj := range out.Contents {
				name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
				name = strings.TrimPrefix(name, "/")
				version := strings.Trim(aws.ToString(obj.ETag), `"`)
				children = append(children, storage.ChildInfo{Name: name, Version: version})
			}
			if out.IsTruncated == nil || !*out.IsTruncated {
				break
			}
			token = out.NextContinuationToken
		}
		return nil
	})
	if err != nil {
		return storage.RootDirectory{}, err
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return storage.RootDirectory{Name: s.name, Children: children}, nil
}
