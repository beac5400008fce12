package model

import "time"

// ContactMessage: сообщение из формы обратной связи.
type ContactMessage struct {
	ID string
	// UserID пуст у анонимных отправителей
	UserID    string
	Name      string
	Email     string
	Phone     string
	Subject   string
	Message   string
	CreatedAt time.Time
}
