package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/stl-directory/internal/config"
	"github.com/bigkaa/stl-directory/internal/domain/model"
	"github.com/bigkaa/stl-directory/internal/domain/submission"
	"github.com/bigkaa/stl-directory/internal/repository"
	"github.com/bigkaa/stl-directory/internal/storage/redisstore"
)

// MarkerStore хранит короткоживущие флаги "уже отправлено".
type MarkerStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string) error
}

// ReviewLookup: чтение из таблицы reviews, нужное guard.
type ReviewLookup interface {
	FindByUserAndBusiness(ctx context.Context, userID, businessID string) (*model.Review, error)
}

// BusinessLookup: чтение из таблицы businesses, нужное guard.
type BusinessLookup interface {
	FindFirstByOwner(ctx context.Context, ownerID string) (*model.Business, error)
}

// Guard отвечает на вопрос "этот владелец уже это отправлял?" до загрузки
// вложений. Проверка предварительная: гонки одновременных заявок решаются
// в транзакции вставки (уникальный индекс reviews, advisory-блокировка
// владельца для карточек бизнеса).
type Guard struct {
	reviews    ReviewLookup
	businesses BusinessLookup
	// markers необязателен (nil без Redis)
	markers MarkerStore
	// policy: config.BusinessPolicyOne или config.BusinessPolicyUnlimited
	policy string
	logger *slog.Logger
}

// NewGuard создаёт guard дубликатов. markers может быть nil.
func NewGuard(reviews ReviewLookup, businesses BusinessLookup, markers MarkerStore, policy string, logger *slog.Logger) *Guard {
	return &Guard{
		reviews:    reviews,
		businesses: businesses,
		markers:    markers,
		policy:     policy,
		logger:     logger.With(slog.String("component", "duplicate_guard")),
	}
}

// OnePerOwner сообщает, ограничен ли владелец одной карточкой бизнеса.
func (g *Guard) OnePerOwner() bool {
	return g.policy != config.BusinessPolicyUnlimited
}

// CheckDuplicate сообщает, есть ли у ownerID запись вида kind для targetID
// (бизнес для отзывов, для карточек не используется).
// "Не найдено" означает "нет дубликата". Прочие ошибки поиска
// возвращаются обёрнутыми в ErrLookupFailed.
func (g *Guard) CheckDuplicate(ctx context.Context, kind submission.Kind, ownerID, targetID string) (bool, error) {
	if kind == submission.KindBusiness && !g.OnePerOwner() {
		return false, nil
	}

	// 1. Маркер: попадание окончательно, промах или ошибка идут дальше
	if g.markers != nil {
		hit, err := g.markers.Exists(ctx, g.markerKey(kind, ownerID, targetID))
		if err != nil {
			g.logger.Warn("Ошибка чтения маркера, проверяем по БД",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		} else if hit {
			return true, nil
		}
	}

	// 2. База данных
	var err error
	switch kind {
	case submission.KindReview:
		_, err = g.reviews.FindByUserAndBusiness(ctx, ownerID, targetID)
	case submission.KindBusiness:
		_, err = g.businesses.FindFirstByOwner(ctx, ownerID)
	default:
		return false, fmt.Errorf("%w: unknown submission kind %q", ErrLookupFailed, kind)
	}

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
}

// Remember ставит маркер после сохранения заявки. Без гарантий.
func (g *Guard) Remember(ctx context.Context, kind submission.Kind, ownerID, targetID string) error {
	if g.markers == nil {
		return nil
	}
	if kind == submission.KindBusiness && !g.OnePerOwner() {
		return nil
	}
	return g.markers.Set(ctx, g.markerKey(kind, ownerID, targetID))
}

func (g *Guard) markerKey(kind submission.Kind, ownerID, targetID string) string {
	if kind == submission.KindBusiness {
		targetID = ""
	}
	return redisstore.MarkerKey(string(kind), ownerID, targetID)
}
