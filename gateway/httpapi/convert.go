// httpapi — HTTP/JSON-адаптер gateway.Gateway поверх внешнего сервиса
// хранения комментариев.
package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-annotations/models"
)

// Проводные DTO. Времена — Unix UTC (секунды), идентификаторы — строки.

type commentDTO struct {
	ID          string        `json:"id"`
	EntityType  string        `json:"entity_type"`
	EntityID    string        `json:"entity_id"`
	AuthorID    string        `json:"author_id"`
	AuthorName  string        `json:"author_name"`
	Body        string        `json:"body"`
	ParentID    string        `json:"parent_id,omitempty"` // "" — корень
	Mentions    []string      `json:"mentions,omitempty"`
	IsResolved  bool          `json:"is_resolved"`
	ResolvedBy  string        `json:"resolved_by,omitempty"`
	ResolvedAt  int64         `json:"resolved_at,omitempty"`
	CreatedAt   int64         `json:"created_at"`
	UpdatedAt   int64         `json:"updated_at"`
	IsEdited    bool          `json:"is_edited"`
	Reactions   []reactionDTO `json:"reactions,omitempty"`
	Attachments []string      `json:"attachments,omitempty"`
	Unread      bool          `json:"unread,omitempty"`
}

type reactionDTO struct {
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
}

type statsDTO struct {
	Total              int32 `json:"total"`
	ResolvedThreads    int32 `json:"resolved_threads"`
	UnresolvedThreads  int32 `json:"unresolved_threads"`
	ActiveParticipants int32 `json:"active_participants"`
}

type permissionsDTO struct {
	CanComment  bool `json:"can_comment"`
	CanResolve  bool `json:"can_resolve"`
	CanModerate bool `json:"can_moderate"`
}

type suggestionDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type listResponse struct {
	Comments []commentDTO `json:"comments"`
	Stats    statsDTO     `json:"stats"`
}

type commentResponse struct {
	Comment commentDTO `json:"comment"`
}

type createRequest struct {
	EntityType  string   `json:"entity_type"`
	EntityID    string   `json:"entity_id"`
	AuthorID    string   `json:"author_id"`
	AuthorName  string   `json:"author_name"`
	Body        string   `json:"body"`
	ParentID    string   `json:"parent_id,omitempty"`
	Mentions    []string `json:"mentions,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type updateRequest struct {
	Body *string `json:"body,omitempty"`
}

type resolveRequest struct {
	Resolved bool `json:"resolved"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

type suggestResponse struct {
	Suggestions []suggestionDTO `json:"suggestions"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// fromUnix — 0 трактуется как «нет значения».
func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}

	return time.Unix(sec, 0).UTC()
}

// parseUUID — битый или пустой идентификатор превращается в uuid.Nil:
// слой проводных DTO не роняет выдачу из-за одного поля.
func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}

	return id
}

func commentFromDTO(d commentDTO) models.Comment {
	out := models.Comment{
		ID:          d.ID,
		Entity:      models.EntityRef{Type: d.EntityType, ID: d.EntityID},
		AuthorID:    parseUUID(d.AuthorID),
		AuthorName:  d.AuthorName,
		Body:        d.Body,
		ParentID:    d.ParentID,
		IsResolved:  d.IsResolved,
		ResolvedBy:  parseUUID(d.ResolvedBy),
		ResolvedAt:  fromUnix(d.ResolvedAt),
		CreatedAt:   fromUnix(d.CreatedAt),
		UpdatedAt:   fromUnix(d.UpdatedAt),
		IsEdited:    d.IsEdited,
		Attachments: d.Attachments,
		Unread:      d.Unread,
		Status:      models.StatusConfirmed,
	}

	if len(d.Mentions) > 0 {
		out.Mentions = make([]uuid.UUID, 0, len(d.Mentions))
		for _, m := range d.Mentions {
			if id := parseUUID(m); id != uuid.Nil {
				out.Mentions = append(out.Mentions, id)
			}
		}
	}

	if len(d.Reactions) > 0 {
		out.Reactions = make([]models.Reaction, 0, len(d.Reactions))
		for _, r := range d.Reactions {
			out.Reactions = append(out.Reactions, models.Reaction{
				Emoji:     r.Emoji,
				UserID:    parseUUID(r.UserID),
				CreatedAt: fromUnix(r.CreatedAt),
			})
		}
	}

	return out
}

func commentsFromDTO(in []commentDTO) []models.Comment {
	if len(in) == 0 {
		return nil
	}

	out := make([]models.Comment, 0, len(in))
	for _, d := range in {
		out = append(out, commentFromDTO(d))
	}

	return out
}

func statsFromDTO(d statsDTO) models.Stats {
	return models.Stats{
		Total:              d.Total,
		ResolvedThreads:    d.ResolvedThreads,
		UnresolvedThreads:  d.UnresolvedThreads,
		ActiveParticipants: d.ActiveParticipants,
	}
}

func permissionsFromDTO(d permissionsDTO) models.Permissions {
	return models.Permissions{
		CanComment:  d.CanComment,
		CanResolve:  d.CanResolve,
		CanModerate: d.CanModerate,
	}
}

func suggestionsFromDTO(in []suggestionDTO) []models.MentionSuggestion {
	if len(in) == 0 {
		return nil
	}

	out := make([]models.MentionSuggestion, 0, len(in))
	for _, d := range in {
		out = append(out, models.MentionSuggestion{
			ID:        parseUUID(d.ID),
			Username:  d.Username,
			Email:     d.Email,
			AvatarURL: d.AvatarURL,
		})
	}

	return out
}

func mentionsToStrings(in []uuid.UUID) []string {
	if len(in) == 0 {
		return nil
	}

	out := make([]string, 0, len(in))
	for _, id := range in {
		out = append(out, id.String())
	}

	return out
}
