package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
	"golang.org/x/time/rate"

	"docvault.org/internal/obs"
)

// S3Options configures the object-store backend. The client speaks the
// S3 protocol and works against MinIO or any compatible store.
type S3Options struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	MaxObjectSize int64
	// RequestsPerSecond caps outbound API calls. Zero selects 100.
	RequestsPerSecond float64
}

// S3 stores objects in an S3-compatible bucket.
type S3 struct {
	client  *minio.Client
	bucket  string
	limiter *rate.Limiter
	maxSize int64
}

var _ Backend = (*S3)(nil)

func NewS3(opts S3Options) (*S3, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create s3 client: %v", ErrUnavailable, err)
	}
	maxSize := opts.MaxObjectSize
	if maxSize <= 0 {
		maxSize = DefaultMaxObjectSize
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 100
	}
	return &S3{
		client:  client,
		bucket:  opts.Bucket,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)*2),
		maxSize: maxSize,
	}, nil
}

func (s *S3) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *S3) Put(ctx context.Context, key string, content []byte) (string, error) {
	defer obs.ObserveStorageOp("s3", "put", time.Now())
	if int64(len(content)) > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrQuotaExceeded, len(content), s.maxSize)
	}
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return key, nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	defer obs.ObserveStorageOp("s3", "get", time.Now())
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	defer obj.Close()
	content, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	return content, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	defer obs.ObserveStorageOp("s3", "delete", time.Now())
	if err := s.wait(ctx); err != nil {
		return err
	}
	// RemoveObject on an absent key already succeeds; delete stays
	// idempotent without a prior existence check.
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %v", ErrUnavailable, key, err)
	}
	return true, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	defer obs.ObserveStorageOp("s3", "list", time.Now())
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// SetReadonly updates an object tag. Object stores give no OS-level
// enforcement; the document's readonly flag is the source of truth.
func (s *S3) SetReadonly(ctx context.Context, key string, readonly bool) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	t, err := tags.NewTags(map[string]string{"readonly": strconv.FormatBool(readonly)}, true)
	if err != nil {
		return fmt.Errorf("%w: build tags: %v", ErrUnavailable, err)
	}
	if err := s.client.PutObjectTagging(ctx, s.bucket, key, t, minio.PutObjectTaggingOptions{}); err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("%w: tag %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
