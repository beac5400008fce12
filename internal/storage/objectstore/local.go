package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore хранит объекты файлами в корневом каталоге.
type LocalStore struct {
	// root: каталог с объектами (LD_STORAGE_LOCAL_ROOT)
	root string
	// baseURL: публичный префикс, по которому API раздаёт root
	baseURL string
}

// NewLocalStore создаёт корневой каталог, если его нет.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("cannot create storage root %s: %w", root, err)
	}
	return &LocalStore{root: root, baseURL: baseURL}, nil
}

// Upload пишет data во временный файл, делает fsync и переносит на место.
// Без Overwrite последний шаг: жёсткая ссылка, которая не создаётся при
// существующей цели, поэтому занятый путь не заменяется.
func (s *LocalStore) Upload(_ context.Context, objectPath string, data []byte, opts UploadOptions) error {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	fullPath := s.FullPath(clean)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("cannot create directory for %s: %w", clean, err)
	}

	tmpPath := fullPath + "." + uuid.NewString()[:8] + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	defer os.Remove(tmpPath) //nolint:errcheck // после успешного rename файла уже нет

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write failed: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}

	if opts.Overwrite {
		if err := os.Rename(tmpPath, fullPath); err != nil {
			return fmt.Errorf("rename failed: %w", err)
		}
		return nil
	}

	if err := os.Link(tmpPath, fullPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrObjectExists, clean)
		}
		return fmt.Errorf("link failed: %w", err)
	}
	return nil
}

// PublicURL возвращает baseURL/objectPath.
func (s *LocalStore) PublicURL(objectPath string) string {
	return joinURL(s.baseURL, objectPath)
}

// Remove удаляет каждый путь, отсутствующие файлы пропускает.
func (s *LocalStore) Remove(_ context.Context, objectPaths ...string) error {
	var errs []error
	for _, p := range objectPaths {
		clean, err := cleanPath(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if err := os.Remove(s.FullPath(clean)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", clean, err))
		}
	}
	return errors.Join(errs...)
}

// Exists сообщает, сохранён ли objectPath.
func (s *LocalStore) Exists(objectPath string) bool {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(s.FullPath(clean))
	return err == nil
}

// FullPath возвращает файл на диске для пути объекта.
func (s *LocalStore) FullPath(objectPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(objectPath))
}

// Handler раздаёт объекты только на чтение. Монтируется под путём из
// baseURL через http.StripPrefix.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.root))
}
