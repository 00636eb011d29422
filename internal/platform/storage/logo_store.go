package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"

	"github.com/totebags/api/internal/services"
)

const (
	defaultPublicBaseURL = "https://storage.googleapis.com"
	logoCacheControl     = "public, max-age=31536000, immutable"
)

// ObjectWriter streams a single object into a bucket and removes it again.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType, cacheControl string, body io.Reader) (int64, error)
	DeleteObject(ctx context.Context, bucket, object string) error
}

// GCSWriter writes objects through a Cloud Storage client.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter wraps an existing client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// WriteObject uploads body; the object only becomes visible once the writer closes cleanly.
func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object, contentType, cacheControl string, body io.Reader) (int64, error) {
	writer := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = cacheControl
	written, err := io.Copy(writer, body)
	if err != nil {
		_ = writer.Close()
		return written, fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return written, fmt.Errorf("storage: finalise %s: %w", object, err)
	}
	return written, nil
}

// DeleteObject removes the object; a missing object is not an error.
func (w *GCSWriter) DeleteObject(ctx context.Context, bucket, object string) error {
	err := w.client.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage: delete %s: %w", object, err)
	}
	return nil
}

// Ping verifies the bucket is reachable with the current credentials.
func (w *GCSWriter) Ping(ctx context.Context, bucket string) error {
	_, err := w.client.Bucket(bucket).Attrs(ctx)
	return err
}

// LogoStoreConfig configures the B2B logo store.
type LogoStoreConfig struct {
	Bucket        string
	PublicBaseURL string
	MaxBytes      int64
	NewUploadID   func() string
}

// GCSLogoStore persists B2B quote logos and returns their public URL.
type GCSLogoStore struct {
	writer   ObjectWriter
	bucket   string
	baseURL  string
	maxBytes int64
	uploadID func() string
}

var _ services.LogoStore = (*GCSLogoStore)(nil)

// NewLogoStore validates configuration and builds a logo store.
func NewLogoStore(writer ObjectWriter, cfg LogoStoreConfig) (*GCSLogoStore, error) {
	if writer == nil {
		return nil, errors.New("logo store: writer is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" {
		base = defaultPublicBaseURL + "/" + bucket
	}
	uploadID := cfg.NewUploadID
	if uploadID == nil {
		uploadID = func() string { return ulid.Make().String() }
	}
	return &GCSLogoStore{
		writer:   writer,
		bucket:   bucket,
		baseURL:  base,
		maxBytes: cfg.MaxBytes,
		uploadID: uploadID,
	}, nil
}

var errInvalidBucket = errors.New("storage: bucket name is required")

// UploadLogo stores the logo under the quote's prefix.
func (s *GCSLogoStore) UploadLogo(ctx context.Context, upload services.LogoUpload) (string, error) {
	if upload.Body == nil {
		return "", errors.New("logo store: body is required")
	}
	object, err := QuoteLogoPath(upload.QuoteID, s.uploadID(), logoFileName(upload.FileName, upload.ContentType))
	if err != nil {
		return "", err
	}

	body := upload.Body
	if s.maxBytes > 0 {
		body = io.LimitReader(body, s.maxBytes+1)
	}
	written, err := s.writer.WriteObject(ctx, s.bucket, object, upload.ContentType, logoCacheControl, body)
	if err != nil {
		return "", err
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		tooLarge := fmt.Errorf("logo store: object %s exceeds %d bytes", object, s.maxBytes)
		if err := s.writer.DeleteObject(context.WithoutCancel(ctx), s.bucket, object); err != nil {
			return "", errors.Join(tooLarge, err)
		}
		return "", tooLarge
	}
	return s.baseURL + "/" + object, nil
}

// DeleteLogo removes a logo by the URL UploadLogo returned. URLs outside the
// store's base are rejected.
func (s *GCSLogoStore) DeleteLogo(ctx context.Context, logoURL string) error {
	object, ok := strings.CutPrefix(strings.TrimSpace(logoURL), s.baseURL+"/")
	if !ok || object == "" {
		return fmt.Errorf("logo store: %q is not an object of this store", logoURL)
	}
	return s.writer.DeleteObject(ctx, s.bucket, object)
}

// logoFileName keeps the client's base name when it is safe, falling back to "logo" plus
// an extension derived from the content type.
func logoFileName(name, contentType string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, base)
	base = strings.Trim(base, ".-")
	if base != "" && !strings.Contains(base, "..") && path.Ext(base) != "" {
		return strings.ToLower(base)
	}
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	switch contentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/svg+xml":
		ext = ".svg"
	}
	return "logo" + ext
}
