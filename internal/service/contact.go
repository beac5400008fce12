package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/stl-directory/internal/domain/model"
	"github.com/bigkaa/stl-directory/internal/validation"
)

// SubmitContact проверяет и сохраняет сообщение формы обратной связи.
// Анонимные отправители разрешены. clientKey (id пользователя или адрес
// клиента) служит ключом лимита.
func (s *SubmissionService) SubmitContact(ctx context.Context, ident *model.Identity, clientKey string, in validation.Input) (string, error) {
	logger := s.logger.With(slog.String("kind", "contact"), slog.String("client", clientKey))

	// 1. Лимит
	if d := s.limiter.TryAcquire(clientKey, "contact", s.limits.Contact.Max, s.limits.Contact.Window); !d.Allowed {
		submissionsTotal.WithLabelValues("contact", "rate_limited").Inc()
		return "", &SubmissionError{
			Kind:       ErrRateLimited,
			Code:       CodeRateLimitExceeded,
			Message:    "Too many messages. Please try again later.",
			RetryAfter: d.RetryAfter(s.limiter.Now()),
		}
	}

	// 2. Валидация
	values, fieldErrs, err := validation.Validate(validation.ContactSchema, in)
	if err != nil {
		var pe *validation.ParseError
		msg := "Validation failed: malformed input"
		if errors.As(err, &pe) {
			msg = fmt.Sprintf("Validation failed: %s could not be parsed", pe.Field)
		}
		submissionsTotal.WithLabelValues("contact", "invalid").Inc()
		return "", &SubmissionError{Kind: ErrValidation, Code: CodeMalformedInput, Message: msg, Err: err}
	}
	if len(fieldErrs) > 0 {
		submissionsTotal.WithLabelValues("contact", "invalid").Inc()
		return "", &SubmissionError{
			Kind:    ErrValidation,
			Code:    CodeValidationError,
			Message: "Validation failed: " + validation.JoinErrors(fieldErrs),
			Fields:  fieldErrs,
		}
	}

	// 3. Сохранение
	msg := &model.ContactMessage{
		ID:      s.newID(),
		Name:    values.String("name"),
		Email:   values.String("email"),
		Phone:   values.String("phone"),
		Subject: values.String("subject"),
		Message: values.String("message"),
	}
	if ident != nil {
		msg.UserID = ident.ID
	}
	if err := s.store.Contacts.Create(ctx, msg); err != nil {
		submissionsTotal.WithLabelValues("contact", "error").Inc()
		logger.Error("Сообщение не сохранено", slog.String("error", err.Error()))
		return "", &SubmissionError{
			Kind:    ErrPersistence,
			Code:    CodePersistenceError,
			Message: "Failed to send your message. Please try again.",
			Err:     err,
		}
	}

	submissionsTotal.WithLabelValues("contact", "committed").Inc()
	logger.Info("Сообщение сохранено", slog.String("id", msg.ID))
	return msg.ID, nil
}
