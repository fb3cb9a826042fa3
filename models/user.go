package models

import (
	"time"

	"github.com/google/uuid"
)

// User — профиль участника. Подсистема комментариев пользователями не владеет:
// это read-only проекция из внешнего сервиса, нужная для отображения и @-упоминаний.
type User struct {
	ID         uuid.UUID
	Username   string
	Email      string
	AvatarURL  string
	IsOnline   bool
	LastSeenAt time.Time
}

// MentionSuggestion — элемент выдачи поиска по @-упоминаниям.
// Проекция для подсказок, подсистемой не сохраняется.
type MentionSuggestion struct {
	ID        uuid.UUID
	Username  string
	Email     string
	AvatarURL string
}
