// submissions.go: POST /api/v1/reviews, /api/v1/businesses и
// /api/v1/contact. Ответы в конверте заявки
// {"success": true, "id": "..."} или
// {"success": false, "error": "...", "code": "...", "details": [...]}.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/bigkaa/stl-directory/internal/api/middleware"
	"github.com/bigkaa/stl-directory/internal/service"
	"github.com/bigkaa/stl-directory/internal/validation"
)

// Коды, которые выдаёт сам транспортный слой.
const (
	codePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	codeInternalError   = "INTERNAL_ERROR"
)

// fileFields: поля multipart, которые читаются как вложения.
var fileFields = []string{"images", "logo", "banner", "gallery"}

type submissionResponse struct {
	Success bool     `json:"success"`
	ID      string   `json:"id,omitempty"`
	Error   string   `json:"error,omitempty"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

// SubmitReview обрабатывает POST /api/v1/reviews.
func (h *APIHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readSubmission(w, r)
	if !ok {
		return
	}
	id, err := h.submissions.SubmitReview(r.Context(), middleware.IdentityFromContext(r.Context()), in)
	h.writeSubmissionResult(w, id, err)
}

// SubmitBusiness обрабатывает POST /api/v1/businesses.
func (h *APIHandler) SubmitBusiness(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readSubmission(w, r)
	if !ok {
		return
	}
	id, err := h.submissions.SubmitBusiness(r.Context(), middleware.IdentityFromContext(r.Context()), in)
	h.writeSubmissionResult(w, id, err)
}

// SubmitContact обрабатывает POST /api/v1/contact. Анонимные отправители
// ограничиваются по адресу клиента.
func (h *APIHandler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readSubmission(w, r)
	if !ok {
		return
	}
	ident := middleware.IdentityFromContext(r.Context())
	clientKey := "ip:" + middleware.ClientIP(r)
	if ident != nil {
		clientKey = ident.ID
	}
	id, err := h.submissions.SubmitContact(r.Context(), ident, clientKey, in.Fields)
	h.writeSubmissionResult(w, id, err)
}

// readSubmission разбирает multipart или urlencoded форму. При ошибке сам
// пишет ответ и возвращает false.
func (h *APIHandler) readSubmission(w http.ResponseWriter, r *http.Request) (service.SubmissionInput, bool) {
	if h.opts.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodySize)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	switch mediaType {
	case "multipart/form-data":
		err = r.ParseMultipartForm(h.opts.MaxMemory)
	case "application/x-www-form-urlencoded":
		err = r.ParseForm()
	default:
		h.writeSubmissionError(w, http.StatusUnsupportedMediaType, &service.SubmissionError{
			Kind:    service.ErrValidation,
			Code:    service.CodeMalformedInput,
			Message: "Expected multipart/form-data or application/x-www-form-urlencoded",
		})
		return service.SubmissionInput{}, false
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeSubmissionError(w, http.StatusRequestEntityTooLarge, &service.SubmissionError{
				Code:    codePayloadTooLarge,
				Message: fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit),
			})
			return service.SubmissionInput{}, false
		}
		h.writeSubmissionError(w, http.StatusBadRequest, &service.SubmissionError{
			Kind:    service.ErrValidation,
			Code:    service.CodeMalformedInput,
			Message: "Malformed form body",
			Err:     err,
		})
		return service.SubmissionInput{}, false
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck // только временные файлы
	}

	in := service.SubmissionInput{Fields: make(validation.Input)}
	for k, v := range r.PostForm {
		in.Fields[fieldName(k)] = append(in.Fields[fieldName(k)], v...)
	}

	if r.MultipartForm == nil {
		return in, true
	}
	// поля в фиксированном порядке, части в порядке загрузки
	for _, name := range fileFields {
		var headers []*multipart.FileHeader
		headers = append(headers, r.MultipartForm.File[name]...)
		headers = append(headers, r.MultipartForm.File[name+"[]"]...)
		for _, fh := range headers {
			data, err := readPart(fh)
			if err != nil {
				h.writeSubmissionError(w, http.StatusBadRequest, &service.SubmissionError{
					Kind:    service.ErrValidation,
					Code:    service.CodeMalformedInput,
					Message: "Could not read attachment " + fh.Filename,
					Err:     err,
				})
				return service.SubmissionInput{}, false
			}
			in.Files = append(in.Files, service.File{Field: name, Filename: fh.Filename, Data: data})
		}
	}
	return in, true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// fieldName убирает суффикс "[]", который некоторые клиенты добавляют к повторяющимся полям.
func fieldName(key string) string {
	return strings.TrimSuffix(key, "[]")
}

func (h *APIHandler) writeSubmissionResult(w http.ResponseWriter, id string, err error) {
	if err == nil {
		writeJSON(w, http.StatusCreated, submissionResponse{Success: true, ID: id})
		return
	}

	var serr *service.SubmissionError
	if !errors.As(err, &serr) {
		h.logger.Error("Неклассифицированная ошибка заявки", slog.String("error", err.Error()))
		serr = &service.SubmissionError{Code: codeInternalError, Message: "Internal error", Err: err}
	}
	status := statusFor(serr)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(middleware.RetryAfterSeconds(serr.RetryAfter)))
	}
	h.writeSubmissionError(w, status, serr)
}

func (h *APIHandler) writeSubmissionError(w http.ResponseWriter, status int, serr *service.SubmissionError) {
	resp := submissionResponse{Error: serr.Message, Code: serr.Code}
	if !h.opts.Production {
		resp.Details = serr.Details()
	}
	writeJSON(w, status, resp)
}

// statusFor возвращает HTTP-статус для категории ошибки.
func statusFor(serr *service.SubmissionError) int {
	switch {
	case errors.Is(serr, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(serr, service.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(serr, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(serr, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(serr, service.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(serr, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(serr, service.ErrLookupFailed):
		return http.StatusServiceUnavailable
	case errors.Is(serr, service.ErrStaging):
		switch serr.Code {
		case service.CodeInvalidFile:
			return http.StatusUnprocessableEntity
		case service.CodeUploadConflict:
			return http.StatusConflict
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}
