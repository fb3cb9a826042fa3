// Package models содержит доменные сущности annotation-подсистемы.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status — клиентское состояние комментария в оптимистичном цикле.
//
// Жизненный цикл:
//   - StatusPending — локальная запись создана мгновенно при отправке,
//     идентификатор временный (LocalID), подтверждение от хранилища не получено;
//   - StatusConfirmed — хранилище приняло запись и назначило авторитетный ID;
//   - StatusFailed — хранилище отклонило запись; из видимого набора она
//     удаляется, статус существует только на время отката.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// EntityRef — ссылка на аннотируемый объект (документ/задача/медиа).
// Подсистема не владеет самими объектами, только привязкой к ним.
type EntityRef struct {
	Type string
	ID   string
}

// Reaction — одна реакция на комментарий.
// Инвариант набора реакций: не более одной записи на пару (Emoji, UserID).
type Reaction struct {
	Emoji     string
	UserID    uuid.UUID
	CreatedAt time.Time
}

// Comment — внутренняя доменная модель комментария.
// Важно:
//   - ID — серверный идентификатор; назначается хранилищем один раз при
//     подтверждении. До подтверждения поле содержит LocalID.
//   - LocalID — временный клиентский идентификатор ("tmp-<uuid>"); по нему
//     подтверждённая запись атомарно заменяет оптимистичную.
//   - ParentID — идентификатор корня ветки; "" — сам корень. Вложенность
//     одного уровня: ответ на ответ приводится к корню (см. threads).
//   - Mentions — упорядоченный набор упомянутых пользователей, извлечённый
//     из канонических токенов тела (см. mentions.ExtractMentionIDs).
//   - IsResolved/ResolvedBy/ResolvedAt — осмысленны только на корне.
//   - Unread — view-локальный флаг, наружу не сохраняется.
type Comment struct {
	ID          string
	LocalID     string
	Entity      EntityRef
	AuthorID    uuid.UUID
	AuthorName  string
	Body        string
	ParentID    string
	Mentions    []uuid.UUID
	IsResolved  bool
	ResolvedBy  uuid.UUID
	ResolvedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsEdited    bool
	Reactions   []Reaction
	Attachments []string
	Unread      bool
	Status      Status
}

// IsRoot — признак корневого комментария ветки.
func (c Comment) IsRoot() bool {
	return c.ParentID == ""
}

// Clone возвращает глубокую копию комментария.
// Используется ядром синхронизации для pre-mutation снапшотов отката.
func (c Comment) Clone() Comment {
	out := c

	if c.Mentions != nil {
		out.Mentions = make([]uuid.UUID, len(c.Mentions))
		copy(out.Mentions, c.Mentions)
	}

	if c.Reactions != nil {
		out.Reactions = make([]Reaction, len(c.Reactions))
		copy(out.Reactions, c.Reactions)
	}

	if c.Attachments != nil {
		out.Attachments = make([]string, len(c.Attachments))
		copy(out.Attachments, c.Attachments)
	}

	return out
}

// CloneComments — глубокая копия среза комментариев (снапшот состояния).
func CloneComments(in []Comment) []Comment {
	if in == nil {
		return nil
	}

	out := make([]Comment, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}

	return out
}

// Stats — агрегаты по комментариям сущности, отдаются хранилищем вместе со списком.
type Stats struct {
	Total              int32
	ResolvedThreads    int32
	UnresolvedThreads  int32
	ActiveParticipants int32
}

// Permissions — права вызывающего на операции с комментариями сущности.
type Permissions struct {
	CanComment  bool
	CanResolve  bool
	CanModerate bool
}
