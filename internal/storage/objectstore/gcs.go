package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSStore хранит объекты в бакете Google Cloud Storage.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// NewGCSStore создаёт клиент по JSON сервисного аккаунта или, если
// credentialsJSON пуст, по Application Default Credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsJSON, baseURL string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}

	return &GCSStore{client: client, bucket: bucket, baseURL: baseURL}, nil
}

// Upload пишет data в бакет. Без Overwrite запись идёт с условием
// DoesNotExist, ответ 412 превращается в ErrObjectExists.
func (s *GCSStore) Upload(ctx context.Context, objectPath string, data []byte, opts UploadOptions) error {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return err
	}

	obj := s.client.Bucket(s.bucket).Object(clean)
	if !opts.Overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	w := obj.NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.CacheControl = "public, max-age=31536000, immutable"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return mapGCSError(clean, err)
	}
	if err := w.Close(); err != nil {
		return mapGCSError(clean, err)
	}
	return nil
}

// PublicURL возвращает baseURL/objectPath.
func (s *GCSStore) PublicURL(objectPath string) string {
	return joinURL(s.baseURL, objectPath)
}

// Remove удаляет каждый объект, отсутствующие пропускает.
func (s *GCSStore) Remove(ctx context.Context, objectPaths ...string) error {
	var errs []error
	for _, p := range objectPaths {
		clean, err := cleanPath(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		err = s.client.Bucket(s.bucket).Object(clean).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", clean, err))
		}
	}
	return errors.Join(errs...)
}

// BucketReachable проверяет доступ к бакету для readiness.
func (s *GCSStore) BucketReachable(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}

// Close освобождает клиент.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func mapGCSError(objectPath string, err error) error {
	if isPreconditionFailed(err) {
		return fmt.Errorf("%w: %s", ErrObjectExists, objectPath)
	}
	return fmt.Errorf("gcs upload %s: %w", objectPath, err)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusPreconditionFailed
	}
	return false
}
