// Package gateway — абстракция над внешним сервисом хранения комментариев.
// Ядро синхронизации разговаривает только с этим интерфейсом; конкретный
// транспорт живёт в подпакетах (httpapi).
package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-annotations/models"
)

var (
	// ErrNotFound — сущность отсутствует в хранилище.
	ErrNotFound = errors.New("not found")
	// ErrValidation — хранилище отклонило вход как некорректный.
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied — у вызывающего нет прав на операцию.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable — транспортная ошибка: сеть/сервис/таймаут.
	// Таймаут мутации трактуется как отказ — откат без автоматического ретрая.
	ErrUnavailable = errors.New("storage unavailable")
)

// ListFilters — необязательные фильтры выдачи списка.
type ListFilters struct {
	// Resolved: nil — все ветки; true/false — только решённые/нерешённые.
	Resolved *bool
	// AuthorID: uuid.Nil — без фильтра по автору.
	AuthorID uuid.UUID
}

// ListResult — комментарии сущности вместе с агрегатами.
type ListResult struct {
	Comments []models.Comment
	Stats    models.Stats
}

// CreateInput — создание корневого комментария или ответа.
type CreateInput struct {
	Entity      models.EntityRef
	AuthorID    uuid.UUID
	AuthorName  string
	Body        string
	ParentID    string
	Mentions    []uuid.UUID
	Attachments []string
}

// Patch — частичное обновление комментария. nil-поле не трогается.
type Patch struct {
	Body *string
}

// Gateway описывает операции внешнего хранилища комментариев.
//
// Контракт: каждая мутация возвращает полную обновлённую сущность (не дельту),
// чтобы ядро могло атомарно заменить оптимистичную запись, а не латать поля.
// Любая операция может завершиться транспортной или доменной ошибкой из
// перечисленных выше sentinel-ошибок.
type Gateway interface {
	// List возвращает все комментарии сущности и агрегаты по ним.
	List(ctx context.Context, entity models.EntityRef, filters ListFilters) (*ListResult, error)

	// Create создаёт комментарий; в ответе — запись с серверным ID.
	Create(ctx context.Context, in CreateInput) (*models.Comment, error)

	// Update применяет частичное обновление к комментарию.
	Update(ctx context.Context, id string, patch Patch) (*models.Comment, error)

	// Delete удаляет комментарий по идентификатору.
	Delete(ctx context.Context, id string) error

	// SetResolved выставляет флаг решённости корневого комментария.
	SetResolved(ctx context.Context, id string, resolved bool) (*models.Comment, error)

	// AddReaction добавляет реакцию вызывающего пользователя.
	AddReaction(ctx context.Context, id, emoji string) (*models.Comment, error)

	// RemoveReaction снимает реакцию вызывающего пользователя.
	RemoveReaction(ctx context.Context, id, emoji string) (*models.Comment, error)

	// MarkRead помечает комментарии прочитанными.
	MarkRead(ctx context.Context, ids []string) error

	// Permissions возвращает права вызывающего на комментарии сущности.
	Permissions(ctx context.Context, entity models.EntityRef) (*models.Permissions, error)
}
