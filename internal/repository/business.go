package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/stl-directory/internal/domain/model"
)

// BusinessRepository: интерфейс доступа к карточкам бизнеса и их
// галерее (business_images).
type BusinessRepository interface {
	// Create вставляет карточку и по строке business_images на каждый
	// URL галереи. Для атомарности вызывать внутри транзакции.
	Create(ctx context.Context, b *model.Business) error
	// GetByID возвращает карточку с галереей.
	GetByID(ctx context.Context, id string) (*model.Business, error)
	// FindFirstByOwner возвращает самую раннюю карточку владельца.
	FindFirstByOwner(ctx context.Context, ownerID string) (*model.Business, error)
	// LockOwner берёт advisory-блокировку на ownerID до конца транзакции.
	// Карточки одного владельца выполняются по очереди до commit или
	// rollback, поэтому вызов имеет смысл только на Store транзакции.
	LockOwner(ctx context.Context, ownerID string) error
	// RefreshRating пересчитывает review_count и average_rating по
	// одобренным отзывам.
	RefreshRating(ctx context.Context, businessID string) error
}

type businessRepo struct {
	db DBTX
}

// NewBusinessRepository создаёт репозиторий карточек.
func NewBusinessRepository(db DBTX) BusinessRepository {
	return &businessRepo{db: db}
}

const businessColumns = `id, owner_id, name, slug, description, category, phone, email, website,
			address, city, state, zip_code, price_range, logo_url, banner_url,
			is_approved, is_featured, review_count, average_rating, created_at, updated_at`

func scanBusiness(row pgx.Row) (*model.Business, error) {
	b := &model.Business{}
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Name, &b.Slug, &b.Description, &b.Category, &b.Phone, &b.Email, &b.Website,
		&b.Address, &b.City, &b.State, &b.ZipCode, &b.PriceRange, &b.LogoURL, &b.BannerURL,
		&b.IsApproved, &b.IsFeatured, &b.ReviewCount, &b.AverageRating, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func (r *businessRepo) Create(ctx context.Context, b *model.Business) error {
	query := `
		INSERT INTO businesses (id, owner_id, name, slug, description, category, phone, email,
			website, address, city, state, zip_code, price_range, logo_url, banner_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING is_approved, is_featured, review_count, average_rating, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		b.ID, b.OwnerID, b.Name, b.Slug, b.Description, b.Category, b.Phone, b.Email,
		b.Website, b.Address, b.City, b.State, b.ZipCode, b.PriceRange, b.LogoURL, b.BannerURL,
	).Scan(&b.IsApproved, &b.IsFeatured, &b.ReviewCount, &b.AverageRating, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slug %q already taken", ErrConflict, b.Slug)
		}
		return fmt.Errorf("create business: %w", err)
	}

	for i, url := range b.GalleryURLs {
		_, err := r.db.Exec(ctx,
			`INSERT INTO business_images (id, business_id, url, position) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), b.ID, url, i,
		)
		if err != nil {
			return fmt.Errorf("create gallery image %d: %w", i, err)
		}
	}
	return nil
}

func (r *businessRepo) GetByID(ctx context.Context, id string) (*model.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE id = $1`

	b, err := scanBusiness(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get business: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT url FROM business_images WHERE business_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("get gallery: %w", err)
	}
	b.GalleryURLs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan gallery: %w", err)
	}
	return b, nil
}

func (r *businessRepo) FindFirstByOwner(ctx context.Context, ownerID string) (*model.Business, error) {
	query := `SELECT ` + businessColumns + `
		FROM businesses WHERE owner_id = $1
		ORDER BY created_at
		LIMIT 1`

	b, err := scanBusiness(r.db.QueryRow(ctx, query, ownerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find business by owner: %w", err)
	}
	return b, nil
}

func (r *businessRepo) LockOwner(ctx context.Context, ownerID string) error {
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		return fmt.Errorf("lock owner: %w", err)
	}
	return nil
}

func (r *businessRepo) RefreshRating(ctx context.Context, businessID string) error {
	query := `
		UPDATE businesses b
		SET review_count = s.cnt, average_rating = s.avg
		FROM (
			SELECT COUNT(*) AS cnt, COALESCE(ROUND(AVG(rating), 2), 0) AS avg
			FROM reviews
			WHERE business_id = $1 AND is_approved
		) s
		WHERE b.id = $1`

	tag, err := r.db.Exec(ctx, query, businessID)
	if err != nil {
		return fmt.Errorf("refresh rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
