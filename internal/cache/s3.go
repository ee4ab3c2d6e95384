package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

const (
	expiresAtMetaKey = "expires_at"
	blobContentType  = "application/octet-stream"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store keeps one object per key. S3 has no per-object TTL, so expiry is
// recorded in metadata and expired objects read as absent.
type S3Store struct {
	bucket   string
	prefix   string
	client   S3API
	uploader *manager.Uploader
	logger   zerolog.Logger
	now      func() time.Time
}

func NewS3Store(bucket, prefix string, client S3API, logger zerolog.Logger) *S3Store {
	return &S3Store{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
		logger:   logger.With().Str("component", "S3Store").Logger(),
		now:      time.Now,
	}
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key
}

func (s *S3Store) Exists(ctx context.Context, key string) bool {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if !isNotFound(err) {
			s.logger.Warn().Err(err).Str("key", key).Msg("exists check failed, treating key as absent")
		}
		return false
	}
	return !s.expired(out.Metadata)
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, backendErr("get", key, err)
	}
	defer out.Body.Close()

	if s.expired(out.Metadata) {
		return nil, ErrNotFound
	}
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, backendErr("get", key, err)
	}
	return body, nil
}

func (s *S3Store) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if _, err := s.uploader.Upload(ctx, s.putInput(key, body, ttl)); err != nil {
		return backendErr("put", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to reach s3 bucket %s: %w", s.bucket, err)
	}
	return nil
}

// SetIfAbsent writes with If-None-Match: *. An object that is expired but not
// yet removed by the bucket lifecycle is replaced with an If-Match on its
// ETag, so a concurrent writer that got there first still wins.
//
// Conditional writes are single PUTs and bypass the multipart uploader.
func (s *S3Store) SetIfAbsent(ctx context.Context, key string, body []byte, ttl time.Duration) (bool, error) {
	stored, err := s.putIfNoneMatch(ctx, key, body, ttl)
	if err != nil || stored {
		return stored, err
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			// removed between the two calls
			return s.putIfNoneMatch(ctx, key, body, ttl)
		}
		return false, backendErr("head", key, err)
	}
	if !s.expired(head.Metadata) || head.ETag == nil {
		return false, nil
	}

	input := s.putInput(key, body, ttl)
	input.IfMatch = head.ETag
	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, backendErr("put", key, err)
	}
	s.logger.Debug().Str("key", key).Msg("replaced expired object")
	return true, nil
}

func (s *S3Store) putIfNoneMatch(ctx context.Context, key string, body []byte, ttl time.Duration) (bool, error) {
	input := s.putInput(key, body, ttl)
	input.IfNoneMatch = aws.String("*")
	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, backendErr("put", key, err)
	}
	return true, nil
}

func (s *S3Store) putInput(key string, body []byte, ttl time.Duration) *s3.PutObjectInput {
	meta := map[string]string{}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(blobContentType),
		Metadata:    meta,
	}
	if ttl > 0 {
		expiresAt := s.now().Add(ttl).UTC()
		meta[expiresAtMetaKey] = strconv.FormatInt(expiresAt.Unix(), 10)
		input.Expires = aws.Time(expiresAt)
	}
	return input
}

func (s *S3Store) expired(meta map[string]string) bool {
	expiresAt := parseExpiresAt(meta)
	if expiresAt.IsZero() {
		return false
	}
	return !s.now().Before(expiresAt)
}

func parseExpiresAt(meta map[string]string) time.Time {
	if meta == nil {
		return time.Time{}
	}
	val, ok := meta[expiresAtMetaKey]
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
