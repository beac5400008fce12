package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/stl-directory/internal/storage/objectstore"
)

// Папки хранилища для вложений.
const (
	ReviewImagesFolder   = "review-images"
	BusinessImagesFolder = "business-images"
)

// cleanupTimeout ограничивает компенсирующие удаления, которые идут вне
// контекста запроса.
const cleanupTimeout = 30 * time.Second

// allowedImageTypes: определённый по байтам MIME-тип и расширение файла.
var allowedImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// StagingKind: категория ошибки загрузки.
type StagingKind string

const (
	InvalidFile    StagingKind = "INVALID_FILE"
	UploadConflict StagingKind = "UPLOAD_CONFLICT"
	UploadFailed   StagingKind = "UPLOAD_FAILED"
)

// StagingError: ошибка вызова Stage.
type StagingError struct {
	Kind     StagingKind
	Filename string
	Message  string
	Err      error
}

func (e *StagingError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StagingError) Unwrap() error { return e.Err }

// File: вложение, пришедшее с заявкой.
type File struct {
	// Field: поле формы, в котором пришёл файл (images, logo, ...)
	Field    string
	Filename string
	Data     []byte
}

// StagedFile: загруженное вложение.
type StagedFile struct {
	Field string
	URL   string
	Path  string
}

// Stager загружает вложения в объектное хранилище и удаляет их, если
// заявка не удалась.
type Stager struct {
	store       objectstore.Store
	maxSize     int64
	concurrency int
	now         func() time.Time
	token       func() string
	logger      *slog.Logger
}

// NewStager создаёт Stager. При concurrency <= 1 файлы грузятся по одному.
func NewStager(store objectstore.Store, maxSize int64, concurrency int, logger *slog.Logger) *Stager {
	return &Stager{
		store:       store,
		maxSize:     maxSize,
		concurrency: concurrency,
		now:         time.Now,
		token:       func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] },
		logger:      logger.With(slog.String("component", "stager")),
	}
}

// Stage проверяет один файл и загружает его в
// {folder}/{targetID}/{ownerID}-{unixMillis}-{token}.{ext}.
func (s *Stager) Stage(ctx context.Context, f File, ownerID, targetID, folder string) (StagedFile, error) {
	// 1. Размер
	if len(f.Data) == 0 {
		stagedFilesTotal.WithLabelValues("invalid").Inc()
		return StagedFile{}, &StagingError{Kind: InvalidFile, Filename: f.Filename, Message: fmt.Sprintf("%s is empty", f.Filename)}
	}
	if int64(len(f.Data)) > s.maxSize {
		stagedFilesTotal.WithLabelValues("invalid").Inc()
		return StagedFile{}, &StagingError{
			Kind:     InvalidFile,
			Filename: f.Filename,
			Message:  fmt.Sprintf("%s is %d bytes, the limit is %d", f.Filename, len(f.Data), s.maxSize),
		}
	}

	// 2. Тип содержимого определяется по байтам, заявленному клиентом не доверяем
	contentType := http.DetectContentType(f.Data)
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		stagedFilesTotal.WithLabelValues("invalid").Inc()
		return StagedFile{}, &StagingError{
			Kind:     InvalidFile,
			Filename: f.Filename,
			Message:  fmt.Sprintf("%s has unsupported type %s, allowed: jpeg, png, webp", f.Filename, contentType),
		}
	}

	// 3. Путь
	objectPath := fmt.Sprintf("%s/%s/%s-%d-%s.%s",
		folder, pathSegment(targetID), pathSegment(ownerID), s.now().UnixMilli(), s.token(), ext)

	// 4. Загрузка без перезаписи
	err := s.store.Upload(ctx, objectPath, f.Data, objectstore.UploadOptions{ContentType: contentType})
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectExists) {
			stagedFilesTotal.WithLabelValues("conflict").Inc()
			return StagedFile{}, &StagingError{Kind: UploadConflict, Filename: f.Filename, Message: "storage path already taken", Err: err}
		}
		stagedFilesTotal.WithLabelValues("failed").Inc()
		return StagedFile{}, &StagingError{Kind: UploadFailed, Filename: f.Filename, Message: "upload failed", Err: err}
	}

	stagedFilesTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("Вложение загружено",
		slog.String("path", objectPath),
		slog.Int("size", len(f.Data)),
		slog.String("content_type", contentType),
	)

	return StagedFile{Field: f.Field, URL: s.store.PublicURL(objectPath), Path: objectPath}, nil
}

// StageAll загружает партию. Результаты идут в порядке files. Если
// какой-то файл не загрузился, все уже загруженные файлы партии
// удаляются, затем возвращается первая ошибка.
func (s *Stager) StageAll(ctx context.Context, files []File, ownerID, targetID, folder string) ([]StagedFile, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.concurrency <= 1 {
		return s.stageSequential(ctx, files, ownerID, targetID, folder)
	}
	return s.stageConcurrent(ctx, files, ownerID, targetID, folder)
}

func (s *Stager) stageSequential(ctx context.Context, files []File, ownerID, targetID, folder string) ([]StagedFile, error) {
	staged := make([]StagedFile, 0, len(files))
	for _, f := range files {
		sf, err := s.Stage(ctx, f, ownerID, targetID, folder)
		if err != nil {
			s.Cleanup(ctx, folder, urlsOf(staged))
			return nil, err
		}
		staged = append(staged, sf)
	}
	return staged, nil
}

func (s *Stager) stageConcurrent(ctx context.Context, files []File, ownerID, targetID, folder string) ([]StagedFile, error) {
	results := make([]StagedFile, len(files))
	done := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range files {
		g.Go(func() error {
			sf, err := s.Stage(gctx, f, ownerID, targetID, folder)
			if err != nil {
				return err
			}
			results[i] = sf
			done[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var succeeded []string
		for i, ok := range done {
			if ok {
				succeeded = append(succeeded, results[i].URL)
			}
		}
		s.Cleanup(ctx, folder, succeeded)
		return nil, err
	}
	return results, nil
}

// Cleanup удаляет вложения по URL, по одному вызову Remove на URL.
// Без гарантий: ошибки логируются и считаются, но не возвращаются.
// Не зависит от отмены ctx, чтобы прерванный запрос тоже убрал за собой.
func (s *Stager) Cleanup(ctx context.Context, folder string, urls []string) {
	if len(urls) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, u := range urls {
		objectPath, err := StoragePathFromURL(folder, u)
		if err != nil {
			cleanupFailuresTotal.Inc()
			s.logger.Warn("Очистка пропущена: не удалось получить путь в хранилище",
				slog.String("url", u),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.store.Remove(ctx, objectPath); err != nil {
			cleanupFailuresTotal.Inc()
			s.logger.Warn("Ошибка очистки, вложение осталось без владельца",
				slog.String("path", objectPath),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("Вложение удалено", slog.String("path", objectPath))
	}
}

// StoragePathFromURL восстанавливает путь вложения в хранилище по его
// публичному URL: папка плюс два последних сегмента пути (id цели и имя
// файла).
func StoragePathFromURL(folder, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	dir, file := path.Split(strings.TrimSuffix(u.Path, "/"))
	target := path.Base(strings.TrimSuffix(dir, "/"))
	if file == "" || target == "" || target == "." || target == "/" {
		return "", fmt.Errorf("url %q has fewer than two path segments", rawURL)
	}
	return folder + "/" + target + "/" + file, nil
}

// pathSegment оставляет буквы, цифры, '-' и '_', чтобы id от любого
// провайдера давали один безопасный сегмент пути.
func pathSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func urlsOf(staged []StagedFile) []string {
	urls := make([]string, len(staged))
	for i, sf := range staged {
		urls[i] = sf.URL
	}
	return urls
}
