package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/stl-directory/internal/domain/model"
	"github.com/bigkaa/stl-directory/internal/domain/submission"
	"github.com/bigkaa/stl-directory/internal/events"
	"github.com/bigkaa/stl-directory/internal/lock"
	"github.com/bigkaa/stl-directory/internal/ratelimit"
	"github.com/bigkaa/stl-directory/internal/repository"
	"github.com/bigkaa/stl-directory/internal/validation"
)

// postCommitTimeout ограничивает запись маркера и публикацию события после commit.
const postCommitTimeout = 5 * time.Second

// Transactor выполняет fn над репозиториями одной транзакции.
type Transactor interface {
	InTx(ctx context.Context, fn func(s *repository.Store) error) error
}

// RateLimit: квота Max попыток за Window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// SubmissionLimits: квоты по действиям.
type SubmissionLimits struct {
	Review   RateLimit
	Business RateLimit
	Contact  RateLimit
}

// SubmissionDeps: зависимости SubmissionService.
type SubmissionDeps struct {
	Store   *repository.Store
	Tx      Transactor
	Guard   *Guard
	Stager  *Stager
	Limiter *ratelimit.Limiter
	Limits  SubmissionLimits
	// Locker по умолчанию lock.Noop
	Locker lock.Locker
	// Publisher по умолчанию events.Noop
	Publisher events.Publisher
	Logger    *slog.Logger
}

// SubmissionInput: сырая отправка формы.
type SubmissionInput struct {
	Fields validation.Input
	Files  []File
}

// SubmissionService: конвейеры заявок на отзыв и карточку бизнеса:
//
//	identity → rate limit → validate → duplicate check → stage → persist
//
// Каждый вызов ведёт свой submission.StateMachine. Каждое загруженное
// вложение добавляет компенсацию. Ошибка после загрузки запускает их
// все, начиная с последней.
type SubmissionService struct {
	store     *repository.Store
	tx        Transactor
	guard     *Guard
	stager    *Stager
	limiter   *ratelimit.Limiter
	limits    SubmissionLimits
	locker    lock.Locker
	publisher events.Publisher
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

// NewSubmissionService создаёт конвейер заявок.
func NewSubmissionService(deps SubmissionDeps) *SubmissionService {
	locker := deps.Locker
	if locker == nil {
		locker = lock.Noop{}
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &SubmissionService{
		store:     deps.Store,
		tx:        deps.Tx,
		guard:     deps.Guard,
		stager:    deps.Stager,
		limiter:   deps.Limiter,
		limits:    deps.Limits,
		locker:    locker,
		publisher: publisher,
		newID:     uuid.NewString,
		now:       time.Now,
		logger:    deps.Logger.With(slog.String("component", "submission_service")),
	}
}

// flow описывает вид заявки для run().
type flow struct {
	kind     submission.Kind
	schema   *validation.Schema
	limit    RateLimit
	folder   string
	recordID string
	// target: цель проверки дубликата и блокировки ("" для карточек)
	target func(v validation.Values) string
	// storageTarget: сегмент {targetId} в пути вложений
	storageTarget func(v validation.Values) string
	persist       func(ctx context.Context, id string, ident *model.Identity, v validation.Values, staged []StagedFile) error
	// conflictIsDuplicate: repository.ErrConflict при вставке означает ErrDuplicate
	conflictIsDuplicate bool
	eventType           string

	authMessage      string
	duplicateMessage string
	persistMessage   string
}

// SubmitReview выполняет конвейер отзыва и возвращает id нового отзыва.
// Поля формы: business_id, rating, title, content. Файлы в "images".
func (s *SubmissionService) SubmitReview(ctx context.Context, ident *model.Identity, in SubmissionInput) (string, error) {
	return s.run(ctx, ident, in, flow{
		kind:                submission.KindReview,
		schema:              validation.ReviewSchema,
		limit:               s.limits.Review,
		folder:              ReviewImagesFolder,
		recordID:            s.newID(),
		target:              func(v validation.Values) string { return v.String("business_id") },
		storageTarget:       func(v validation.Values) string { return v.String("business_id") },
		conflictIsDuplicate: true,
		eventType:           events.TypeReviewSubmitted,
		authMessage:         "You must be signed in to write a review",
		duplicateMessage:    "You have already reviewed this business",
		persistMessage:      "Failed to save your review. Please try again.",
		persist:             s.persistReview,
	})
}

// SubmitBusiness выполняет конвейер карточки бизнеса и возвращает id
// новой карточки. Файлы приходят в "logo", "banner" и "gallery".
func (s *SubmissionService) SubmitBusiness(ctx context.Context, ident *model.Identity, in SubmissionInput) (string, error) {
	businessID := s.newID()
	return s.run(ctx, ident, in, flow{
		kind:             submission.KindBusiness,
		schema:           validation.BusinessListingSchema,
		limit:            s.limits.Business,
		folder:           BusinessImagesFolder,
		recordID:         businessID,
		target:           func(validation.Values) string { return "" },
		storageTarget:    func(validation.Values) string { return businessID },
		eventType:        events.TypeBusinessSubmitted,
		authMessage:      "You must be signed in to list a business",
		duplicateMessage: "You already have a business listing",
		persistMessage:   "Failed to save your business listing. Please try again.",
		persist:          s.persistBusiness,
	})
}

func (s *SubmissionService) run(ctx context.Context, ident *model.Identity, in SubmissionInput, f flow) (string, error) {
	start := s.now()
	logger := s.logger.With(
		slog.String("kind", string(f.kind)),
		slog.String("submission_id", f.recordID),
	)

	// 1. Identity
	if ident == nil || ident.ID == "" {
		submissionsTotal.WithLabelValues(string(f.kind), "unauthenticated").Inc()
		return "", &SubmissionError{Kind: ErrAuthenticationRequired, Code: CodeAuthRequired, Message: f.authMessage}
	}
	logger = logger.With(slog.String("user_id", ident.ID))

	// 2. Лимит до любой валидации и I/O
	if d := s.limiter.TryAcquire(ident.ID, string(f.kind), f.limit.Max, f.limit.Window); !d.Allowed {
		submissionsTotal.WithLabelValues(string(f.kind), "rate_limited").Inc()
		logger.Warn("Заявка отклонена лимитером", slog.Time("reset_at", d.ResetAt))
		return "", &SubmissionError{
			Kind:       ErrRateLimited,
			Code:       CodeRateLimitExceeded,
			Message:    "Too many submissions. Please try again later.",
			RetryAfter: d.RetryAfter(s.limiter.Now()),
		}
	}

	sm := submission.NewStateMachine(f.kind)
	var undo submission.Compensations

	fail := func(outcome string, serr *SubmissionError) (string, error) {
		if undo.Len() > 0 {
			logger.Info("Выполняются компенсации", slog.Int("count", undo.Len()))
			undo.Run(ctx)
		}
		from := sm.Current()
		sm.RollBack(serr.Code)
		submissionsTotal.WithLabelValues(string(f.kind), outcome).Inc()

		attrs := []any{
			slog.String("code", serr.Code),
			slog.String("failed_in", string(from)),
			slog.Duration("duration", s.now().Sub(start)),
		}
		if serr.Err != nil {
			attrs = append(attrs, slog.String("error", serr.Err.Error()))
		}
		if outcome == "error" {
			logger.Error("Заявка откачена", attrs...)
		} else {
			logger.Info("Заявка отклонена", attrs...)
		}
		return "", serr
	}

	// 3. Валидация
	fields, files := attachFiles(f.schema, in)
	values, fieldErrs, err := validation.Validate(f.schema, fields)
	if err != nil {
		var pe *validation.ParseError
		msg := "Validation failed: malformed input"
		if errors.As(err, &pe) {
			msg = fmt.Sprintf("Validation failed: %s could not be parsed", pe.Field)
		}
		return fail("invalid", &SubmissionError{Kind: ErrValidation, Code: CodeMalformedInput, Message: msg, Err: err})
	}
	if len(fieldErrs) > 0 {
		return fail("invalid", &SubmissionError{
			Kind:    ErrValidation,
			Code:    CodeValidationError,
			Message: "Validation failed: " + validation.JoinErrors(fieldErrs),
			Fields:  fieldErrs,
		})
	}
	if err := sm.TransitionTo(submission.StateCheckingDuplicate, "validated"); err != nil {
		return fail("error", internalError(err))
	}

	target := f.target(values)

	// 4. Блокировка (kind, owner, target) до завершения вставки
	release, err := s.locker.Acquire(ctx, lockKey(f.kind, ident.ID, target))
	switch {
	case errors.Is(err, lock.ErrHeld):
		return fail("duplicate", &SubmissionError{
			Kind:    ErrDuplicate,
			Code:    CodeSubmissionBusy,
			Message: "An identical submission is already being processed",
			Err:     err,
		})
	case err != nil:
		logger.Warn("Блокировка заявки недоступна, продолжаем без неё", slog.String("error", err.Error()))
	default:
		defer release(context.WithoutCancel(ctx))
	}

	// 5. Проверка дубликата до загрузки файлов
	dup, err := s.guard.CheckDuplicate(ctx, f.kind, ident.ID, target)
	if err != nil {
		return fail("error", &SubmissionError{
			Kind:    ErrLookupFailed,
			Code:    CodeLookupFailed,
			Message: "We could not verify your submission right now. Please try again.",
			Err:     err,
		})
	}
	if dup {
		return fail("duplicate", &SubmissionError{Kind: ErrDuplicate, Code: CodeDuplicate, Message: f.duplicateMessage})
	}
	if err := sm.TransitionTo(submission.StateStaging, "no duplicate"); err != nil {
		return fail("error", internalError(err))
	}

	// 6. Загрузка вложений. Частичную партию StageAll убирает сам
	staged, err := s.stager.StageAll(ctx, files, ident.ID, f.storageTarget(values), f.folder)
	if err != nil {
		return fail("staging_failed", stagingFailure(err))
	}
	for _, sf := range staged {
		undo.Push("remove "+sf.Path, func(ctx context.Context) {
			s.stager.Cleanup(ctx, f.folder, []string{sf.URL})
		})
	}
	if err := sm.TransitionTo(submission.StatePersisting, fmt.Sprintf("%d attachments staged", len(staged))); err != nil {
		return fail("error", internalError(err))
	}

	// 7. Сохранение одной атомарной записью
	if err := f.persist(ctx, f.recordID, ident, values, staged); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict) && f.conflictIsDuplicate,
			errors.Is(err, repository.ErrOwnerHasBusiness):
			return fail("duplicate", &SubmissionError{Kind: ErrDuplicate, Code: CodeDuplicate, Message: f.duplicateMessage, Err: err})
		case errors.Is(err, repository.ErrUnknownBusiness):
			return fail("invalid", &SubmissionError{Kind: ErrNotFound, Code: CodeBusinessNotFound, Message: "Business not found", Err: err})
		default:
			return fail("error", &SubmissionError{Kind: ErrPersistence, Code: CodePersistenceError, Message: f.persistMessage, Err: err})
		}
	}
	if err := sm.TransitionTo(submission.StateCommitted, "inserted"); err != nil {
		return fail("error", internalError(err))
	}
	undo.Discard()

	// 8. Побочные эффекты без гарантий
	s.afterCommit(ctx, logger, f, ident.ID, target)

	submissionsTotal.WithLabelValues(string(f.kind), "committed").Inc()
	logger.Info("Заявка сохранена",
		slog.Int("attachments", len(staged)),
		slog.Duration("duration", s.now().Sub(start)),
	)
	return f.recordID, nil
}

func (s *SubmissionService) persistReview(ctx context.Context, id string, ident *model.Identity, v validation.Values, staged []StagedFile) error {
	return s.store.Reviews.Create(ctx, &model.Review{
		ID:            id,
		BusinessID:    v.String("business_id"),
		UserID:        ident.ID,
		UserName:      ident.DisplayName,
		UserAvatarURL: ident.AvatarURL,
		Rating:        v.Int("rating"),
		Title:         v.String("title"),
		Content:       v.String("content"),
		ImageURLs:     urlsOf(staged),
	})
}

// persistBusiness вставляет карточку и строки галереи в одной транзакции.
// При политике "одна карточка на владельца" транзакция сначала берёт
// блокировку владельца и повторяет проверку, поэтому из двух
// одновременных карточек одного владельца фиксируется только одна.
func (s *SubmissionService) persistBusiness(ctx context.Context, id string, ident *model.Identity, v validation.Values, staged []StagedFile) error {
	b := &model.Business{
		ID:          id,
		OwnerID:     ident.ID,
		Name:        v.String("name"),
		Slug:        Slugify(v.String("name")) + "-" + shortID(id),
		Description: v.String("description"),
		Category:    v.String("category"),
		Phone:       v.String("phone"),
		Email:       v.String("email"),
		Website:     v.String("website"),
		Address:     v.String("address"),
		City:        v.String("city"),
		State:       v.String("state"),
		ZipCode:     v.String("zip_code"),
		PriceRange:  v.String("price_range"),
	}
	for _, sf := range staged {
		switch sf.Field {
		case "logo":
			b.LogoURL = sf.URL
		case "banner":
			b.BannerURL = sf.URL
		case "gallery":
			b.GalleryURLs = append(b.GalleryURLs, sf.URL)
		}
	}

	return s.tx.InTx(ctx, func(st *repository.Store) error {
		if s.guard.OnePerOwner() {
			if err := st.Businesses.LockOwner(ctx, b.OwnerID); err != nil {
				return err
			}
			_, err := st.Businesses.FindFirstByOwner(ctx, b.OwnerID)
			switch {
			case err == nil:
				return fmt.Errorf("%w: %s", repository.ErrOwnerHasBusiness, b.OwnerID)
			case !errors.Is(err, repository.ErrNotFound):
				return err
			}
		}
		return st.Businesses.Create(ctx, b)
	})
}

// afterCommit ставит маркер дубликата и публикует событие. Ни то, ни
// другое не может провалить уже сохранённую заявку.
func (s *SubmissionService) afterCommit(ctx context.Context, logger *slog.Logger, f flow, ownerID, target string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()

	if err := s.guard.Remember(ctx, f.kind, ownerID, target); err != nil {
		postCommitFailuresTotal.WithLabelValues("marker").Inc()
		logger.Warn("Маркер дубликата не установлен", slog.String("error", err.Error()))
	}

	err := s.publisher.Publish(ctx, events.Event{
		Type:       f.eventType,
		ID:         f.recordID,
		OwnerID:    ownerID,
		TargetID:   target,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		postCommitFailuresTotal.WithLabelValues("event").Inc()
		logger.Warn("Событие не опубликовано",
			slog.String("event", f.eventType),
			slog.String("error", err.Error()),
		)
	}
}

// attachFiles копирует поля формы и добавляет по записи на каждый файл в
// его списочное поле, чтобы число вложений проверялось схемой. Файлы в
// полях, которые схема не объявляет списками, отбрасываются.
func attachFiles(schema *validation.Schema, in SubmissionInput) (validation.Input, []File) {
	lists := make(map[string]bool)
	for _, fd := range schema.Fields {
		if fd.Kind == validation.KindList {
			lists[fd.Name] = true
		}
	}

	fields := make(validation.Input, len(in.Fields)+len(lists))
	for k, v := range in.Fields {
		if !lists[k] {
			fields[k] = v
		}
	}

	files := make([]File, 0, len(in.Files))
	for _, f := range in.Files {
		if !lists[f.Field] {
			continue
		}
		name := f.Filename
		if name == "" {
			name = f.Field
		}
		fields[f.Field] = append(fields[f.Field], name)
		files = append(files, f)
	}
	return fields, files
}

func stagingFailure(err error) *SubmissionError {
	var se *StagingError
	if !errors.As(err, &se) {
		return &SubmissionError{Kind: ErrStaging, Code: CodeUploadFailed, Message: "Image upload failed", Err: err}
	}
	switch se.Kind {
	case InvalidFile:
		return &SubmissionError{Kind: ErrStaging, Code: CodeInvalidFile, Message: "Invalid image: " + se.Message, Err: err}
	case UploadConflict:
		return &SubmissionError{Kind: ErrStaging, Code: CodeUploadConflict, Message: "Image upload conflicted, please retry", Err: err}
	default:
		return &SubmissionError{Kind: ErrStaging, Code: CodeUploadFailed, Message: "Image upload failed", Err: err}
	}
}

func internalError(err error) *SubmissionError {
	return &SubmissionError{Kind: ErrPersistence, Code: CodePersistenceError, Message: "Internal error", Err: err}
}

func lockKey(kind submission.Kind, ownerID, target string) string {
	if target == "" {
		return string(kind) + ":" + ownerID
	}
	return string(kind) + ":" + ownerID + ":" + target
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify переводит name в нижний регистр и соединяет буквенно-цифровые
// фрагменты через '-'.
func Slugify(name string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	if slug == "" {
		slug = "business"
	}
	return slug
}
