package report

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig configures the verdict archive bucket.
type ObjectConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	// Compress stores verdicts zstd-compressed with a .json.zst key.
	Compress bool `yaml:"compress"`
}

// ObjectPublisher archives each verdict as one object.
type ObjectPublisher struct {
	store    objectStore
	bucket   string
	prefix   string
	compress bool
	encoder  *zstd.Encoder
}

type objectStore interface {
	put(ctx context.Context, bucket, key string, data []byte, contentType, contentEncoding string) error
}

type minioStore struct {
	client *minio.Client
}

func (s minioStore) put(ctx context.Context, bucket, key string, data []byte, contentType, contentEncoding string) error {
	opts := minio.PutObjectOptions{ContentType: contentType, ContentEncoding: contentEncoding}
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	return err
}

// NewObjectPublisher connects to the MinIO endpoint in cfg.
func NewObjectPublisher(cfg ObjectConfig) (*ObjectPublisher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("minio accessKey is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio secretKey is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}
	return newObjectPublisher(minioStore{client: client}, cfg)
}

func newObjectPublisher(store objectStore, cfg ObjectConfig) (*ObjectPublisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	p := &ObjectPublisher{
		store:    store,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		compress: cfg.Compress,
	}
	if cfg.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder failed: %w", err)
		}
		p.encoder = enc
	}
	return p, nil
}

// Key returns the object key a verdict is stored under.
func (p *ObjectPublisher) Key(submissionID string) string {
	name := submissionID + ".json"
	if p.compress {
		name += ".zst"
	}
	return path.Join(p.prefix, name)
}

func (p *ObjectPublisher) Publish(ctx context.Context, verdict result.Verdict) error {
	data, err := encodeVerdict(verdict)
	if err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "encode verdict failed")
	}
	contentEncoding := ""
	if p.compress {
		data = p.encoder.EncodeAll(data, nil)
		contentEncoding = "zstd"
	}
	key := p.Key(verdict.SubmissionID)
	if err := p.store.put(ctx, p.bucket, key, data, "application/json", contentEncoding); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "archive verdict failed").
			WithDetail("bucket", p.bucket).
			WithDetail("key", key)
	}
	return nil
}
