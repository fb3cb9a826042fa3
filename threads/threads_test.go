package threads

// Тесты чистой модели веток (threads.go).
//
// Проверяем:
//  - сборку веток из плоского списка: порядок ответов по CreatedAt,
//    осиротевшие ответы как новые корни, выпрямление вложенных ответов;
//  - полноту группировки: каждый комментарий попадает ровно в одну ветку;
//  - кэшируемые поля ветки (участники/последняя активность/непрочитанные);
//  - идемпотентность переключения реакции и уникальность пары (emoji, user);
//  - инварианты Validate.

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-annotations/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// mkComment — быстрый хелпер сборки комментария.
func mkComment(id, parentID, author string, createdAt time.Time) models.Comment {
	return models.Comment{
		ID:         id,
		ParentID:   parentID,
		AuthorID:   uuid.New(),
		AuthorName: author,
		Body:       "body of " + id,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Status:     models.StatusConfirmed,
	}
}

// TestGroupIntoThreads_ReplySortOrder —
// ответы упорядочиваются по CreatedAt независимо от порядка во входе.
func TestGroupIntoThreads_ReplySortOrder(t *testing.T) {
	t.Parallel()

	root := mkComment("r1", "", "alice", base)
	a := mkComment("a", "r1", "bob", base.Add(1*time.Minute))
	b := mkComment("b", "r1", "carol", base.Add(2*time.Minute))
	c := mkComment("c", "r1", "dave", base.Add(3*time.Minute))

	// Перемешанный вход.
	got := GroupIntoThreads([]models.Comment{c, root, a, b})
	require.Len(t, got, 1)
	require.Equal(t, "r1", got[0].Root.ID)

	ids := make([]string, 0, len(got[0].Replies))
	for _, r := range got[0].Replies {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

// TestGroupIntoThreads_OrphanBecomesRoot —
// ответ с неизвестным parent_id — определённый краевой случай: новый корень.
func TestGroupIntoThreads_OrphanBecomesRoot(t *testing.T) {
	t.Parallel()

	root := mkComment("r1", "", "alice", base)
	orphan := mkComment("x", "gone", "bob", base.Add(time.Minute))

	got := GroupIntoThreads([]models.Comment{root, orphan})
	require.Len(t, got, 2)
	require.Equal(t, "r1", got[0].Root.ID)
	require.Equal(t, "x", got[1].Root.ID)
	require.Empty(t, got[1].Replies)
}

// TestGroupIntoThreads_NestedReplyFlattenedToRoot —
// parent_id, указывающий на ответ, приводится к корню ветки.
func TestGroupIntoThreads_NestedReplyFlattenedToRoot(t *testing.T) {
	t.Parallel()

	root := mkComment("r1", "", "alice", base)
	reply := mkComment("a", "r1", "bob", base.Add(time.Minute))
	nested := mkComment("b", "a", "carol", base.Add(2*time.Minute))

	got := GroupIntoThreads([]models.Comment{root, reply, nested})
	require.Len(t, got, 1)
	require.Len(t, got[0].Replies, 2)
	require.Equal(t, "a", got[0].Replies[0].ID)
	require.Equal(t, "b", got[0].Replies[1].ID)
}

// TestGroupIntoThreads_Completeness —
// каждый комментарий попадает ровно в одну ветку: sum(len) == len(входа).
func TestGroupIntoThreads_Completeness(t *testing.T) {
	t.Parallel()

	in := []models.Comment{
		mkComment("r1", "", "alice", base),
		mkComment("a", "r1", "bob", base.Add(1*time.Minute)),
		mkComment("r2", "", "carol", base.Add(2*time.Minute)),
		mkComment("b", "r2", "dave", base.Add(3*time.Minute)),
		mkComment("x", "missing", "eve", base.Add(4*time.Minute)),
		mkComment("c", "a", "frank", base.Add(5*time.Minute)), // вложенный -> к корню r1
	}

	got := GroupIntoThreads(in)

	total := 0
	seen := map[string]int{}
	for _, th := range got {
		total += th.Len()
		seen[th.Root.ID]++
		for _, r := range th.Replies {
			seen[r.ID]++
		}
	}

	require.Equal(t, len(in), total)
	for id, n := range seen {
		require.Equal(t, 1, n, "comment %s встречается более одного раза", id)
	}
}

// TestGroupIntoThreads_CachedFields —
// участники без дублей, последняя активность, непрочитанные, зеркало resolved.
func TestGroupIntoThreads_CachedFields(t *testing.T) {
	t.Parallel()

	root := mkComment("r1", "", "alice", base)
	root.IsResolved = true
	root.ResolvedBy = uuid.New()

	a := mkComment("a", "r1", "bob", base.Add(1*time.Minute))
	a.Unread = true
	b := mkComment("b", "r1", "alice", base.Add(2*time.Minute)) // дубль имени
	b.UpdatedAt = base.Add(10 * time.Minute)                    // правка позже создания
	b.Unread = true

	got := GroupIntoThreads([]models.Comment{root, a, b})
	require.Len(t, got, 1)

	th := got[0]
	require.True(t, th.IsResolved)
	require.Equal(t, []string{"alice", "bob"}, th.Participants)
	require.Equal(t, base.Add(10*time.Minute), th.LastActivity)
	require.Equal(t, 2, th.UnreadCount)
}

// TestGroupIntoThreads_Empty — пустой вход -> пустой выход.
func TestGroupIntoThreads_Empty(t *testing.T) {
	t.Parallel()
	require.Nil(t, GroupIntoThreads(nil))
}

// TestToggleReaction_AddAndRemove —
// первый вызов добавляет реакцию, повторный снимает; вход не мутируется.
func TestToggleReaction_AddAndRemove(t *testing.T) {
	t.Parallel()

	c := mkComment("r1", "", "alice", base)
	user := uuid.New()

	withReaction := ToggleReaction(c, "👍", user, base.Add(time.Minute))
	require.Len(t, withReaction.Reactions, 1)
	require.Equal(t, "👍", withReaction.Reactions[0].Emoji)
	require.Equal(t, user, withReaction.Reactions[0].UserID)
	require.Empty(t, c.Reactions, "исходный комментарий не должен мутироваться")

	back := ToggleReaction(withReaction, "👍", user, base.Add(2*time.Minute))
	require.Empty(t, back.Reactions)
}

// TestToggleReaction_Involution — toggle(toggle(C,E,U),E,U) == C.
func TestToggleReaction_Involution(t *testing.T) {
	t.Parallel()

	c := mkComment("r1", "", "alice", base)
	c.Reactions = []models.Reaction{
		{Emoji: "🎉", UserID: uuid.New(), CreatedAt: base},
	}
	user := uuid.New()

	got := ToggleReaction(ToggleReaction(c, "👍", user, base), "👍", user, base)
	require.Equal(t, c, got)
}

// TestToggleReaction_UniquePerPair —
// разные пользователи и разные emoji сосуществуют; пара уникальна.
func TestToggleReaction_UniquePerPair(t *testing.T) {
	t.Parallel()

	c := mkComment("r1", "", "alice", base)
	u1, u2 := uuid.New(), uuid.New()

	c = ToggleReaction(c, "👍", u1, base)
	c = ToggleReaction(c, "👍", u2, base)
	c = ToggleReaction(c, "🎉", u1, base)
	require.Len(t, c.Reactions, 3)

	// Повторное добавление той же пары невозможно — toggle снимает.
	c = ToggleReaction(c, "👍", u1, base)
	require.Len(t, c.Reactions, 2)
}

// TestValidate — инварианты resolved_by/is_resolved и updated_at/created_at.
func TestValidate(t *testing.T) {
	t.Parallel()

	ok := mkComment("r1", "", "alice", base)
	require.NoError(t, Validate(ok))

	badResolution := mkComment("r2", "", "alice", base)
	badResolution.ResolvedBy = uuid.New()
	require.ErrorIs(t, Validate(badResolution), ErrInvalidResolution)

	badTime := mkComment("r3", "", "alice", base)
	badTime.UpdatedAt = base.Add(-time.Minute)
	require.ErrorIs(t, Validate(badTime), ErrTimeOrder)

	// resolved_by на ответе не проверяется — поле осмыслено только на корне.
	reply := mkComment("a", "r1", "bob", base)
	reply.ResolvedBy = uuid.New()
	require.NoError(t, Validate(reply))
}
