package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/stl-directory/internal/domain/model"
)

// ContactRepository сохраняет сообщения формы обратной связи.
type ContactRepository interface {
	Create(ctx context.Context, m *model.ContactMessage) error
}

type contactRepo struct {
	db DBTX
}

// NewContactRepository создаёт репозиторий contact_messages.
func NewContactRepository(db DBTX) ContactRepository {
	return &contactRepo{db: db}
}

func (r *contactRepo) Create(ctx context.Context, m *model.ContactMessage) error {
	var userID *string
	if m.UserID != "" {
		userID = &m.UserID
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO contact_messages (id, user_id, name, email, phone, subject, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		m.ID, userID, m.Name, m.Email, m.Phone, m.Subject, m.Message,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create contact message: %w", err)
	}
	return nil
}
