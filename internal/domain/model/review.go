package model

import "time"

// Review: сохранённый отзыв о бизнесе.
// Хранится в таблице reviews, одна строка на (user_id, business_id).
type Review struct {
	// ID: UUID отзыва
	ID string
	// BusinessID: бизнес, о котором отзыв
	BusinessID string
	// UserID: автор (sub в IdP)
	UserID string
	// UserName: отображаемое имя на момент отправки
	UserName string
	// UserAvatarURL: аватар на момент отправки
	UserAvatarURL string
	// Rating: целое от 1 до 5
	Rating int
	// Title необязателен
	Title string
	// Content: текст отзыва
	Content string
	// ImageURLs: публичные URL загруженных вложений
	ImageURLs []string
	// IsApproved: false, пока модератор не одобрит отзыв
	IsApproved bool
	// HelpfulCount начинается с нуля
	HelpfulCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
