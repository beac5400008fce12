package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bigkaa/stl-directory/internal/domain/model"
	"github.com/bigkaa/stl-directory/internal/events"
	"github.com/bigkaa/stl-directory/internal/repository"
)

// Границы страницы списка отзывов.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// DirectoryService: сторона чтения (карточки, одобренные отзывы) и
// модерация отзывов.
type DirectoryService struct {
	store     *repository.Store
	tx        Transactor
	cache     *BusinessCache
	publisher events.Publisher
	logger    *slog.Logger
}

// NewDirectoryService создаёт сервис каталога. publisher может быть nil.
func NewDirectoryService(store *repository.Store, tx Transactor, cache *BusinessCache, publisher events.Publisher, logger *slog.Logger) *DirectoryService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &DirectoryService{
		store:     store,
		tx:        tx,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "directory_service")),
	}
}

// GetBusiness возвращает карточку через кэш.
func (s *DirectoryService) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	if b, ok := s.cache.Get(id); ok {
		return b, nil
	}

	b, err := s.store.Businesses.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &SubmissionError{Kind: ErrNotFound, Code: CodeBusinessNotFound, Message: "Business not found"}
		}
		return nil, err
	}

	s.cache.Set(id, b)
	return b, nil
}

// ListReviews возвращает страницу одобренных отзывов и их общее число.
func (s *DirectoryService) ListReviews(ctx context.Context, businessID string, limit, offset int) ([]*model.Review, int, error) {
	if _, err := s.GetBusiness(ctx, businessID); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	reviews, err := s.store.Reviews.ListApprovedByBusiness(ctx, businessID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Reviews.CountApprovedByBusiness(ctx, businessID)
	if err != nil {
		return nil, 0, err
	}
	return reviews, total, nil
}

// ApproveReview публикует отзыв с модерации и в той же транзакции
// пересчитывает число отзывов и средний рейтинг бизнеса.
func (s *DirectoryService) ApproveReview(ctx context.Context, reviewID, moderatorID string) (*model.Review, error) {
	var approved *model.Review
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		rv, err := st.Reviews.Approve(ctx, reviewID)
		if err != nil {
			return err
		}
		if err := st.Businesses.RefreshRating(ctx, rv.BusinessID); err != nil {
			return err
		}
		approved = rv
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &SubmissionError{Kind: ErrNotFound, Code: CodeReviewNotFound, Message: "Review not found"}
		}
		return nil, err
	}

	s.cache.Delete(approved.BusinessID)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, events.Event{
		Type:       events.TypeReviewApproved,
		ID:         approved.ID,
		OwnerID:    approved.UserID,
		TargetID:   approved.BusinessID,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		postCommitFailuresTotal.WithLabelValues("event").Inc()
		s.logger.Warn("Событие не опубликовано",
			slog.String("event", events.TypeReviewApproved),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Отзыв одобрен",
		slog.String("review_id", approved.ID),
		slog.String("business_id", approved.BusinessID),
		slog.String("moderator", moderatorID),
	)
	return approved, nil
}
