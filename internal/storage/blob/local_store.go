package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrBadPath = errors.New("bad path traversal blocked")

// LocalStore keeps objects as files under root/<bucket>/<key>.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	// Clean() the path so that misconfiguration does not allow path traversal.
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create local store root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

// objectPath ensures the resolved path stays under root. It does not examine
// the filesystem and can mistakenly error out when symbolic links are involved.
func (s *LocalStore) objectPath(bucket, key string) (string, error) {
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("bucket and key are required: %w", ErrBadPath)
	}
	p := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	if !strings.HasPrefix(p, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%s/%s: %w", bucket, key, ErrBadPath)
	}
	return p, nil
}

func (s *LocalStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFileAtomic(p, body); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, bucket, key, dest string) error {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return err
	}
	defer func() { _ = f.Close() }()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFileAtomic(dest, f); err != nil {
		return fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *LocalStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()}, nil
}

func (s *LocalStore) Delete(ctx context.Context, bucket, key string) error {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return err
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required: %w", ErrBadPath)
	}
	base := filepath.Join(s.root, bucket)
	out := make([]ObjectInfo, 0)
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".part") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
