// Package objectstore хранит файлы вложений по путям через слэш и
// строит их публичные URL.
//
// Бэкенды: локальная файловая система (local.go) и Google Cloud Storage (gcs.go).
package objectstore

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrObjectExists: Upload без перезаписи на занятый путь.
var ErrObjectExists = errors.New("object already exists")

// ErrInvalidPath: пустой, абсолютный или выходящий за корень путь.
var ErrInvalidPath = errors.New("invalid object path")

// UploadOptions: параметры одной загрузки.
type UploadOptions struct {
	ContentType string
	// Overwrite заменяет существующий объект. При false занятый путь
	// даёт ErrObjectExists.
	Overwrite bool
}

// Store: бэкенд объектного хранилища.
type Store interface {
	// Upload записывает data в objectPath.
	Upload(ctx context.Context, objectPath string, data []byte, opts UploadOptions) error
	// PublicURL возвращает постоянный публичный URL objectPath.
	PublicURL(objectPath string) string
	// Remove удаляет пути. Отсутствующий объект не ошибка.
	Remove(ctx context.Context, objectPaths ...string) error
}

// cleanPath проверяет objectPath и возвращает его в каноническом виде.
func cleanPath(objectPath string) (string, error) {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, "\\") {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(objectPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

func joinURL(baseURL, objectPath string) string {
	return strings.TrimRight(baseURL, "/") + "/" + objectPath
}
