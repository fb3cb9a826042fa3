// Package sync — ядро синхронизации комментариев одной сущности.
//
// Core держит локальное состояние, применяет мутации оптимистично
// (мгновенно, до ответа хранилища) и сводит его с серверными событиями.
// Команды к одной сущности сериализуются: внутри ядра все изменения
// состояния исполняются одним run-циклом, поэтому гонок между
// оптимистичными мутациями, подтверждениями и удалёнными событиями нет.
package sync

import (
	"errors"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-annotations/gateway"
	"github.com/pribylovaa/go-annotations/metrics"
	"github.com/pribylovaa/go-annotations/notify"
	"github.com/pribylovaa/go-annotations/stream"
)

var (
	// ErrValidation — вход мутации некорректен (пустое тело, неизвестный родитель).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound — комментарий отсутствует в локальном состоянии или в хранилище.
	ErrNotFound = errors.New("comment not found")
	// ErrPermission — хранилище отказало в праве на операцию.
	ErrPermission = errors.New("permission denied")
	// ErrTransport — сетевая/транспортная ошибка хранилища или потока событий.
	ErrTransport = errors.New("transport failure")
	// ErrPendingComment — мутация поверх ещё не подтверждённого комментария.
	// Запись станет доступной для правок после подтверждения хранилищем.
	ErrPendingComment = errors.New("comment is pending confirmation")
	// ErrClosed — ядро остановлено.
	ErrClosed = errors.New("sync core is closed")
)

// Options — зависимости и идентичность ядра синхронизации.
type Options struct {
	// Gateway — хранилище комментариев. Обязателен.
	Gateway gateway.Gateway
	// Stream — источник серверных событий. Необязателен: без него
	// реконсиляция выполняется только явным Refresh.
	Stream stream.Source
	// Notifier — диспетчер уведомлений об упоминаниях. Необязателен.
	Notifier *notify.Dispatcher
	// Metrics — счётчики ядра. nil допустим.
	Metrics *metrics.Metrics

	// UserID/UserName — идентичность текущего пользователя; подставляется
	// в оптимистичные записи до ответа хранилища.
	UserID   uuid.UUID
	UserName string

	// OnChange вызывается после каждого изменения видимого состояния.
	// Вызов идёт из внутреннего цикла ядра: обработчик обязан быть быстрым
	// и не дергать методы ядра синхронно.
	OnChange func()
	// OnError получает асинхронные ошибки: отказ подтверждения мутации
	// (после отката) и обрыв потока событий.
	OnError func(error)
}

func mapGatewayErr(err error) error {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, gateway.ErrValidation):
		return ErrValidation
	case errors.Is(err, gateway.ErrPermissionDenied):
		return ErrPermission
	default:
		return ErrTransport
	}
}
