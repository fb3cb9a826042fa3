// Package stream — контракт серверного потока событий по комментариям.
// Ядро синхронизации потребляет только эти интерфейсы; конкретный транспорт
// (websocket) живёт в подпакете ws.
package stream

import (
	"context"

	"github.com/pribylovaa/go-annotations/models"
)

// EventType — тип серверного события.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event — одно событие по комментарию подписанной сущности.
// Для deleted-события Comment содержит как минимум ID.
type Event struct {
	Type    EventType
	Entity  models.EntityRef
	Comment models.Comment
}

// Subscription — живая подписка на события одной сущности.
//
// Events закрывается при закрытии подписки или обрыве соединения; в последнем
// случае Err() возвращает причину. Буферизованные события после переподписки
// не переигрываются: свежий List — штатный механизм реконсиляции.
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Source — источник событий. Одно соединение может мультиплексировать
// подписки нескольких сущностей; события помечены идентичностью сущности,
// поэтому каждый подписчик получает только свои.
type Source interface {
	Subscribe(ctx context.Context, entity models.EntityRef) (Subscription, error)
}
