package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSStore struct {
	client *storage.Client
}

// NewGCSClient builds a storage client. A non-empty emulatorHost targets a
// fake-gcs style emulator without authentication.
func NewGCSClient(ctx context.Context, emulatorHost string, credentialsFile string) (*storage.Client, error) {
	emulatorHost = strings.TrimRight(strings.TrimSpace(emulatorHost), "/")
	if emulatorHost != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", emulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(strings.TrimSpace(credentialsFile)))
	}
	return storage.NewClient(ctx, opts...)
}

func NewGCSStore(client *storage.Client) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("gcs client is required")
	}
	return &GCSStore{client: client}, nil
}

func (s *GCSStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("gcs store not initialized")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if err := writeObject(w, cancel, body, size); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// writeObject streams body into w and commits it with Close. On a read error
// or a short body the writer's context is canceled first, which makes Close
// discard the upload instead of finalizing a partial object.
func writeObject(w io.WriteCloser, cancel context.CancelFunc, body io.Reader, size int64) error {
	n, err := io.Copy(w, body)
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("body has %d bytes, want %d", n, size)
	}
	if err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, bucket, key, dest string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("gcs store not initialized")
	}
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return mapGCSError(bucket, key, err)
	}
	defer func() { _ = r.Close() }()
	if err := writeFileAtomic(dest, r); err != nil {
		return fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *GCSStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	if s == nil || s.client == nil {
		return ObjectInfo{}, fmt.Errorf("gcs store not initialized")
	}
	attrs, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, mapGCSError(bucket, key, err)
	}
	return objectInfoFromAttrs(attrs), nil
}

func (s *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("gcs store not initialized")
	}
	if err := s.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		return mapGCSError(bucket, key, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("gcs store not initialized")
	}
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := make([]ObjectInfo, 0)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		out = append(out, objectInfoFromAttrs(attrs))
	}
	return out, nil
}

func objectInfoFromAttrs(attrs *storage.ObjectAttrs) ObjectInfo {
	return ObjectInfo{
		Key:          attrs.Name,
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		ContentType:  attrs.ContentType,
		LastModified: attrs.Updated,
	}
}

func mapGCSError(bucket, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return fmt.Errorf("%s/%s: %w", bucket, key, err)
}
