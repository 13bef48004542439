// Package storage uploads product media to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const MaxUploadBytes = 10 << 20

var (
	ErrNotConfigured   = errors.New("object storage not configured")
	ErrTooLarge        = fmt.Errorf("file exceeds %d bytes", MaxUploadBytes)
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrEmpty           = errors.New("file is empty")
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/avif": "avif",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Object describes a stored upload.
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

type Uploader struct {
	client  objectStore
	bucket  string
	baseURL string
	now     func() time.Time
	newID   func() string
}

// New connects to the configured endpoint. It returns ErrNotConfigured when no endpoint is set.
func New(cfg Config) (*Uploader, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	baseURL := strings.TrimRight(cfg.PublicURL, "/")
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return newUploader(client, cfg.Bucket, baseURL), nil
}

func newUploader(client objectStore, bucket, baseURL string) *Uploader {
	return &Uploader{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Upload sniffs the content type from the first bytes of r and stores it
// under products/YYYY/MM/<uuid>.<ext>. The declared content type is ignored.
func (u *Uploader) Upload(ctx context.Context, r io.Reader, size int64) (Object, error) {
	if size > MaxUploadBytes {
		return Object{}, ErrTooLarge
	}
	if size == 0 {
		return Object{}, ErrEmpty
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Object{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return Object{}, ErrEmpty
	}

	contentType := DetectImageType(head)
	ext, ok := extensions[contentType]
	if !ok {
		return Object{}, ErrUnsupportedType
	}

	key := fmt.Sprintf("products/%s/%s.%s", u.now().UTC().Format("2006/01"), u.newID(), ext)
	info, err := u.client.PutObject(ctx, u.bucket, key, io.MultiReader(bytes.NewReader(head), r), size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}
	if info.Size > 0 {
		size = info.Size
	}
	return Object{Key: key, URL: u.baseURL + "/" + key, Size: size, ContentType: contentType}, nil
}

// DetectImageType returns the sniffed MIME type. AVIF is recognised from its
// ftyp box since net/http does not know it.
func DetectImageType(head []byte) string {
	if len(head) >= 12 && string(head[4:8]) == "ftyp" {
		brand := string(head[8:12])
		if brand == "avif" || brand == "avis" {
			return "image/avif"
		}
	}
	contentType := http.DetectContentType(head)
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return contentType
}
