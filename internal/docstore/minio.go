package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig locates the document in an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Object    string
	UseSSL    bool
	Region    string
}

// MinioStore keeps the document as a single object. The ETag is the version
// token and writes are conditional (If-Match, or If-None-Match: * on create).
type MinioStore struct {
	client *minio.Client
	bucket string
	object string
}

// NewMinioStore builds a store with static credentials.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, object: cfg.Object}, nil
}

func (s *MinioStore) Name() string { return "minio" }

func (s *MinioStore) Fetch(ctx context.Context) (Snapshot, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.object, minio.GetObjectOptions{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("minio get object: %w", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if isMinioNotFound(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("minio stat object: %w", err)
	}

	content, err := io.ReadAll(obj)
	if err != nil {
		return Snapshot{}, fmt.Errorf("minio read object: %w", err)
	}
	return Snapshot{Content: content, Version: info.ETag}, nil
}

func (s *MinioStore) Write(ctx context.Context, req WriteRequest) (string, error) {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if req.Version != "" {
		opts.SetMatchETag(req.Version)
	} else {
		opts.SetMatchETagExcept("*")
	}

	info, err := s.client.PutObject(ctx, s.bucket, s.object,
		bytes.NewReader(req.Content), int64(len(req.Content)), opts)
	if err != nil {
		if isMinioPreconditionFailed(err) {
			return "", &MismatchError{Expected: req.Version}
		}
		return "", fmt.Errorf("minio put object: %w", err)
	}
	return info.ETag, nil
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func isMinioPreconditionFailed(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed
}
