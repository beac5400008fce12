package model

import "time"

// Business: сохранённая карточка бизнеса.
// Хранится в таблице businesses, изображения галереи в business_images.
type Business struct {
	ID          string
	OwnerID     string
	Name        string
	Slug        string
	Description string
	Category    string
	Phone       string
	Email       string
	Website     string
	Address     string
	City        string
	State       string
	ZipCode     string
	PriceRange  string
	LogoURL     string
	BannerURL   string
	// GalleryURLs в порядке загрузки
	GalleryURLs []string
	// IsApproved: false, пока модератор не одобрит карточку
	IsApproved bool
	IsFeatured bool
	// ReviewCount и AverageRating учитывают только одобренные отзывы
	ReviewCount   int
	AverageRating float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
