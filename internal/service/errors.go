// Package service: бизнес-логика directory-api. Конвейер заявок
// (валидация, проверка дубликата, загрузка вложений, сохранение,
// компенсации), форма обратной связи, модерация и чтение через кэш.
package service

import (
	"errors"
	"time"

	"github.com/bigkaa/stl-directory/internal/validation"
)

// Категории ошибок. Каждая ошибка SubmissionService оборачивает ровно
// одну из них внутри *SubmissionError.
var (
	ErrValidation             = errors.New("validation failed")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrDuplicate              = errors.New("duplicate submission")
	ErrStaging                = errors.New("attachment staging failed")
	ErrLookupFailed           = errors.New("duplicate lookup failed")
	ErrPersistence            = errors.New("persistence failed")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeMalformedInput    = "MALFORMED_INPUT"
	CodeAuthRequired      = "AUTHENTICATION_REQUIRED"
	CodeDuplicate         = "DUPLICATE_SUBMISSION"
	CodeSubmissionBusy    = "SUBMISSION_IN_PROGRESS"
	CodeInvalidFile       = "INVALID_FILE"
	CodeUploadConflict    = "UPLOAD_CONFLICT"
	CodeUploadFailed      = "UPLOAD_FAILED"
	CodeLookupFailed      = "LOOKUP_FAILED"
	CodePersistenceError  = "PERSISTENCE_ERROR"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeBusinessNotFound  = "BUSINESS_NOT_FOUND"
	CodeReviewNotFound    = "REVIEW_NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
)

// SubmissionError: ошибка для пользователя. Message можно показывать,
// Err хранит внутреннюю причину для логов и деталей вне production.
type SubmissionError struct {
	// Kind: одна из категорий Err* выше
	Kind    error
	Code    string
	Message string
	// Fields: ошибки по полям при провале валидации
	Fields []validation.FieldError
	// RetryAfter задаётся при отказе лимитера
	RetryAfter time.Duration
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap отдаёт errors.Is/As и категорию, и причину.
func (e *SubmissionError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Details возвращает описание ошибки для ответов вне production.
func (e *SubmissionError) Details() []string {
	var details []string
	for _, f := range e.Fields {
		details = append(details, f.String())
	}
	if e.Err != nil {
		details = append(details, e.Err.Error())
	}
	return details
}
