// Package handlers: HTTP-эндпоинты directory-api.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/stl-directory/internal/domain/model"
	"github.com/bigkaa/stl-directory/internal/service"
	"github.com/bigkaa/stl-directory/internal/validation"
)

// Submitter: сторона записи (отзывы, карточки бизнеса, сообщения).
// Реализуется *service.SubmissionService.
type Submitter interface {
	SubmitReview(ctx context.Context, ident *model.Identity, in service.SubmissionInput) (string, error)
	SubmitBusiness(ctx context.Context, ident *model.Identity, in service.SubmissionInput) (string, error)
	SubmitContact(ctx context.Context, ident *model.Identity, clientKey string, in validation.Input) (string, error)
}

// Directory: сторона чтения и модерация.
// Реализуется *service.DirectoryService.
type Directory interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	ListReviews(ctx context.Context, businessID string, limit, offset int) ([]*model.Review, int, error)
	ApproveReview(ctx context.Context, reviewID, moderatorID string) (*model.Review, error)
}

// Options: параметры обработки запросов.
type Options struct {
	// MaxBodySize ограничивает всё тело запроса
	MaxBodySize int64
	// MaxMemory: порог памяти multipart, дальше части пишутся на диск
	MaxMemory int64
	// Production скрывает детали ошибок в ответах на заявки
	Production bool
	// AdminRole видит неодобренные карточки
	AdminRole string
}

// APIHandler обслуживает все эндпоинты /api/v1.
type APIHandler struct {
	submissions Submitter
	directory   Directory
	opts        Options
	logger      *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
func NewAPIHandler(submissions Submitter, directory Directory, opts Options, logger *slog.Logger) *APIHandler {
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = 32 << 20
	}
	return &APIHandler{
		submissions: submissions,
		directory:   directory,
		opts:        opts,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
