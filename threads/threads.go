// Package threads — чистые преобразования плоского списка комментариев в ветки
// и проверка инвариантов мутаций. Пакет не имеет побочных эффектов и не ходит
// в сеть: всё, что ему нужно, приходит аргументами.
package threads

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-annotations/models"
)

var (
	// ErrInvalidResolution — у корня указан resolved_by без is_resolved.
	ErrInvalidResolution = errors.New("resolved_by set without is_resolved")
	// ErrTimeOrder — updated_at раньше created_at.
	ErrTimeOrder = errors.New("updated_at before created_at")
)

// GroupIntoThreads собирает плоский список комментариев в ветки.
//
// Правила:
//   - корень ветки — комментарий с пустым ParentID;
//   - ответ с неизвестным ParentID (осиротевший) считается новым корнем —
//     это определённый краевой случай, не ошибка;
//   - ParentID, указывающий на ответ (попытка вложенной подветки), приводится
//     к корню этой ветки: дерево плоское, один уровень вложенности;
//   - ответы внутри ветки упорядочиваются по CreatedAt (стабильно), поэтому
//     перемешанный вход даёт тот же результат, что и упорядоченный.
//
// Порядок веток соответствует порядку первого появления корня во входе.
func GroupIntoThreads(comments []models.Comment) []models.Thread {
	if len(comments) == 0 {
		return nil
	}

	byID := make(map[string]int, len(comments))
	for i := range comments {
		byID[comments[i].ID] = i
	}

	// rootOf возвращает ID корня для комментария: поднимаемся по цепочке
	// родителей, пока не упрёмся в корень или в неизвестный ID.
	// Ограничение по числу шагов защищает от циклов в битых данных.
	rootOf := func(c models.Comment) string {
		cur := c
		for steps := 0; steps <= len(comments); steps++ {
			if cur.ParentID == "" {
				return cur.ID
			}

			idx, ok := byID[cur.ParentID]
			if !ok {
				// Осиротевший ответ: родителя нет, сам становится корнем.
				return cur.ID
			}

			cur = comments[idx]
		}

		return c.ID
	}

	threadIdx := make(map[string]int, len(comments))
	var out []models.Thread

	ensureThread := func(root models.Comment) int {
		if idx, ok := threadIdx[root.ID]; ok {
			return idx
		}

		out = append(out, models.Thread{Root: root})
		threadIdx[root.ID] = len(out) - 1

		return len(out) - 1
	}

	for i := range comments {
		c := comments[i]
		rootID := rootOf(c)

		if rootID == c.ID {
			ensureThread(c)
			continue
		}

		rIdx, ok := byID[rootID]
		if !ok {
			continue
		}

		tIdx := ensureThread(comments[rIdx])
		out[tIdx].Replies = append(out[tIdx].Replies, c)
	}

	for i := range out {
		finalizeThread(&out[i])
	}

	return out
}

// finalizeThread доводит ветку до инвариантов:
//   - ответы сортируются по CreatedAt (стабильно);
//   - Participants — имена авторов без дублей, корень первым;
//   - IsResolved зеркалит флаг корня;
//   - LastActivity = max(UpdatedAt||CreatedAt) по корню и ответам;
//   - UnreadCount = количество непрочитанных.
func finalizeThread(t *models.Thread) {
	sort.SliceStable(t.Replies, func(i, j int) bool {
		return t.Replies[i].CreatedAt.Before(t.Replies[j].CreatedAt)
	})

	seen := make(map[string]struct{}, len(t.Replies)+1)
	addParticipant := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		t.Participants = append(t.Participants, name)
	}

	activity := func(c models.Comment) time.Time {
		if c.UpdatedAt.After(c.CreatedAt) {
			return c.UpdatedAt
		}
		return c.CreatedAt
	}

	t.IsResolved = t.Root.IsResolved
	t.LastActivity = activity(t.Root)
	t.UnreadCount = 0

	addParticipant(t.Root.AuthorName)
	if t.Root.Unread {
		t.UnreadCount++
	}

	for i := range t.Replies {
		addParticipant(t.Replies[i].AuthorName)

		if act := activity(t.Replies[i]); act.After(t.LastActivity) {
			t.LastActivity = act
		}

		if t.Replies[i].Unread {
			t.UnreadCount++
		}
	}
}

// ToggleReaction переключает участие пользователя в реакции (emoji, userID).
// Гарантия: в наборе реакций не более одной записи на пару (emoji, userID).
// Функция чистая — возвращает копию комментария, вход не мутируется.
func ToggleReaction(c models.Comment, emoji string, userID uuid.UUID, nowUTC time.Time) models.Comment {
	out := c.Clone()

	for i := range out.Reactions {
		r := out.Reactions[i]
		if r.Emoji == emoji && r.UserID == userID {
			out.Reactions = append(out.Reactions[:i], out.Reactions[i+1:]...)
			return out
		}
	}

	out.Reactions = append(out.Reactions, models.Reaction{
		Emoji:     emoji,
		UserID:    userID,
		CreatedAt: nowUTC,
	})

	return out
}

// Validate проверяет инварианты комментария перед применением мутации.
// Нарушение возвращается ошибкой (никогда не «чинится» молча):
//   - ErrInvalidResolution — resolved_by у корня без is_resolved;
//   - ErrTimeOrder — updated_at раньше created_at.
func Validate(c models.Comment) error {
	if c.IsRoot() && !c.IsResolved && c.ResolvedBy != uuid.Nil {
		return ErrInvalidResolution
	}

	if !c.UpdatedAt.IsZero() && c.UpdatedAt.Before(c.CreatedAt) {
		return ErrTimeOrder
	}

	return nil
}
