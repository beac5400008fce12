package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/stl-directory/internal/domain/model"
)

// ErrUnknownBusiness: отзыв ссылается на несуществующий бизнес.
var ErrUnknownBusiness = errors.New("business does not exist")

// ReviewRepository: интерфейс доступа к таблице reviews.
type ReviewRepository interface {
	// Create вставляет отзыв. Второй отзыв с тем же
	// (user_id, business_id) завершается ErrConflict.
	Create(ctx context.Context, r *model.Review) error
	// GetByID возвращает отзыв по UUID.
	GetByID(ctx context.Context, id string) (*model.Review, error)
	// FindByUserAndBusiness возвращает отзыв пользователя о бизнесе,
	// одобренный или нет.
	FindByUserAndBusiness(ctx context.Context, userID, businessID string) (*model.Review, error)
	// ListApprovedByBusiness возвращает одобренные отзывы, новые первыми.
	ListApprovedByBusiness(ctx context.Context, businessID string, limit, offset int) ([]*model.Review, error)
	// CountApprovedByBusiness считает одобренные отзывы бизнеса.
	CountApprovedByBusiness(ctx context.Context, businessID string) (int, error)
	// Approve помечает отзыв одобренным и возвращает его.
	Approve(ctx context.Context, id string) (*model.Review, error)
}

type reviewRepo struct {
	db DBTX
}

// NewReviewRepository создаёт репозиторий отзывов.
func NewReviewRepository(db DBTX) ReviewRepository {
	return &reviewRepo{db: db}
}

const reviewColumns = `id, business_id, user_id, user_name, user_avatar_url, rating, title,
			content, image_urls, is_approved, helpful_count, created_at, updated_at`

func scanReview(row pgx.Row) (*model.Review, error) {
	r := &model.Review{}
	err := row.Scan(
		&r.ID, &r.BusinessID, &r.UserID, &r.UserName, &r.UserAvatarURL, &r.Rating, &r.Title,
		&r.Content, &r.ImageURLs, &r.IsApproved, &r.HelpfulCount, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (r *reviewRepo) Create(ctx context.Context, rv *model.Review) error {
	query := `
		INSERT INTO reviews (id, business_id, user_id, user_name, user_avatar_url,
			rating, title, content, image_urls)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING is_approved, helpful_count, created_at, updated_at`

	imageURLs := rv.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		rv.ID, rv.BusinessID, rv.UserID, rv.UserName, rv.UserAvatarURL,
		rv.Rating, rv.Title, rv.Content, imageURLs,
	).Scan(&rv.IsApproved, &rv.HelpfulCount, &rv.CreatedAt, &rv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user already reviewed this business", ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", ErrUnknownBusiness, rv.BusinessID)
		}
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (r *reviewRepo) GetByID(ctx context.Context, id string) (*model.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`

	rv, err := scanReview(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	return rv, nil
}

func (r *reviewRepo) FindByUserAndBusiness(ctx context.Context, userID, businessID string) (*model.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE user_id = $1 AND business_id = $2`

	rv, err := scanReview(r.db.QueryRow(ctx, query, userID, businessID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find review: %w", err)
	}
	return rv, nil
}

func (r *reviewRepo) ListApprovedByBusiness(ctx context.Context, businessID string, limit, offset int) ([]*model.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE business_id = $1 AND is_approved
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, businessID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var result []*model.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		result = append(result, rv)
	}
	return result, rows.Err()
}

func (r *reviewRepo) CountApprovedByBusiness(ctx context.Context, businessID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM reviews WHERE business_id = $1 AND is_approved`,
		businessID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return count, nil
}

func (r *reviewRepo) Approve(ctx context.Context, id string) (*model.Review, error) {
	query := `
		UPDATE reviews SET is_approved = TRUE
		WHERE id = $1
		RETURNING ` + reviewColumns

	rv, err := scanReview(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("approve review: %w", err)
	}
	return rv, nil
}
