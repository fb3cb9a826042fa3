package models

import "time"

// Thread — производная структура: корень + плоский список ответов.
// Отдельно не хранится, собирается из плоского списка комментариев
// (threads.GroupIntoThreads). Кэшируемые поля считаются при сборке:
//   - Participants — упорядоченный набор имён участников без дублей;
//   - IsResolved — зеркало флага корня;
//   - LastActivity — max(UpdatedAt) по корню и ответам;
//   - UnreadCount — сумма view-локальных флагов Unread.
type Thread struct {
	Root         Comment
	Replies      []Comment
	Participants []string
	IsResolved   bool
	LastActivity time.Time
	UnreadCount  int
}

// Len — общее количество комментариев ветки (корень + ответы).
func (t Thread) Len() int {
	return len(t.Replies) + 1
}
