// Package mentions — разбор @-упоминаний: активный запрос под курсором,
// дебаунс-поиск подсказок с защитой от устаревших ответов и извлечение
// канонических токенов из финального текста.
package mentions

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-annotations/models"
)

// Канонический токен упоминания внутри тела комментария:
//
//	@[Display Name](user:<uuid>)
//
// Токен несёт и отображаемое имя, и идентификатор, чтобы рендеринг и
// извлечение ID никогда не расходились. Источник истины для нотификаций —
// результат ExtractMentionIDs, а не то, что успел отрисовать UI.
var tokenRe = regexp.MustCompile(`@\[([^\[\]\n]+)\]\(user:([0-9a-fA-F-]{36})\)`)

// BuildToken собирает канонический токен упоминания для пользователя.
func BuildToken(s models.MentionSuggestion) string {
	return fmt.Sprintf("@[%s](user:%s)", s.Username, s.ID)
}

// ExtractMentionIDs извлекает из текста идентификаторы упомянутых пользователей.
// Порядок — порядок появления в тексте, дубли отбрасываются, токены с
// нераспознаваемым UUID игнорируются.
func ExtractMentionIDs(body string) []uuid.UUID {
	matches := tokenRe.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[uuid.UUID]struct{}, len(matches))
	out := make([]uuid.UUID, 0, len(matches))

	for _, m := range matches {
		id, err := uuid.Parse(m[2])
		if err != nil {
			continue
		}

		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
