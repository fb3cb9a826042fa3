// Package notify — доставка уведомлений об @-упоминаниях.
// Диспетчер гарантирует не более одной нотификации на пару
// (комментарий, упомянутый пользователь); сама доставка — best-effort:
// её отказ никогда не откатывает запись комментария.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-annotations/metrics"
	"github.com/pribylovaa/go-annotations/models"
	"github.com/pribylovaa/go-annotations/pkg/log"
)

// Client — внешний сервис доставки уведомлений (fire-and-forget с точки
// зрения ядра; ошибка нужна только для логирования и метрик).
type Client interface {
	Notify(ctx context.Context, commentID string, userIDs []uuid.UUID, entity models.EntityRef) error
}

// Dispatcher — идемпотентная прослойка над Client.
//
// Ключ идемпотентности — (comment id, user id): повторная отправка того же
// комментария (например, после правки с тем же набором упоминаний) не
// уведомляет уже уведомлённых. При правке диспетчер сравнивает старый и новый
// наборы упоминаний и уведомляет только добавленных.
type Dispatcher struct {
	client  Client
	metrics *metrics.Metrics

	mu   sync.Mutex
	sent map[string]map[uuid.UUID]struct{}
}

// NewDispatcher создаёт диспетчер. metrics может быть nil.
func NewDispatcher(client Client, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		client:  client,
		metrics: m,
		sent:    make(map[string]map[uuid.UUID]struct{}),
	}
}

// CommentCreated запрашивает доставку уведомлений для нового комментария.
// Автор из набора исключается: собственное упоминание не уведомляется.
func (d *Dispatcher) CommentCreated(ctx context.Context, c *models.Comment) {
	d.dispatch(ctx, c, c.Mentions)
}

// CommentUpdated обрабатывает правку: уведомляются только пользователи,
// добавленные относительно прежнего набора упоминаний.
func (d *Dispatcher) CommentUpdated(ctx context.Context, c *models.Comment, oldMentions []uuid.UUID) {
	old := make(map[uuid.UUID]struct{}, len(oldMentions))
	for _, id := range oldMentions {
		old[id] = struct{}{}
	}

	var added []uuid.UUID
	for _, id := range c.Mentions {
		if _, ok := old[id]; !ok {
			added = append(added, id)
		}
	}

	d.dispatch(ctx, c, added)
}

// Forget освобождает учёт идемпотентности по комментарию (после удаления).
func (d *Dispatcher) Forget(commentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.sent, commentID)
}

func (d *Dispatcher) dispatch(ctx context.Context, c *models.Comment, candidates []uuid.UUID) {
	const op = "notify/dispatcher/dispatch"

	if len(candidates) == 0 {
		return
	}

	d.mu.Lock()

	seen, ok := d.sent[c.ID]
	if !ok {
		seen = make(map[uuid.UUID]struct{}, len(candidates))
		d.sent[c.ID] = seen
	}

	var fresh []uuid.UUID
	for _, id := range candidates {
		if id == uuid.Nil || id == c.AuthorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}
		fresh = append(fresh, id)
	}

	d.mu.Unlock()

	if len(fresh) == 0 {
		return
	}

	lg := log.From(ctx).With("op", op, "comment_id", c.ID)

	if err := d.client.Notify(ctx, c.ID, fresh, c.Entity); err != nil {
		// Best-effort: запись комментария — источник истины, уведомление нет.
		d.metrics.NotifyFailure()
		lg.Warn("mention notification failed", "users", len(fresh), "err", err)
		return
	}

	lg.Debug("mention notifications requested", "users", len(fresh))
}
