package sync

import (
	"context"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-annotations/gateway"
	"github.com/pribylovaa/go-annotations/mentions"
	"github.com/pribylovaa/go-annotations/models"
	"github.com/pribylovaa/go-annotations/pkg/log"
	"github.com/pribylovaa/go-annotations/stream"
	"github.com/pribylovaa/go-annotations/threads"
)

const localIDPrefix = "tmp-"

// Core — состояние комментариев одной сущности и машина оптимистичных мутаций.
//
// Модель исполнения — актор: все изменения состояния (оптимистичное применение,
// подтверждение/откат, серверные события) исполняются одним run-циклом в
// порядке поступления. Публичные методы безопасны для конкурентных вызовов.
//
// Жизненный цикл мутации:
//  1. вход валидируется; нарушение возвращается синхронно;
//  2. состояние меняется мгновенно (StatusPending), снимается pre-mutation
//     снапшот;
//  3. запрос уходит в хранилище в отдельной горутине;
//  4. подтверждение атомарно заменяет оптимистичную запись полной серверной
//     сущностью; отказ (включая таймаут) откатывает к снапшоту байт-в-байт
//     и сообщается через OnError. Автоматических ретраев нет.
type Core struct {
	entity models.EntityRef
	opts   Options

	ops  chan func()
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce stdsync.Once
	inflight  stdsync.WaitGroup
	loops     stdsync.WaitGroup

	sub stream.Subscription

	// Поля ниже читаются и пишутся только из run-цикла.
	comments       []models.Comment
	pendingCreates int
	deferred       []stream.Event
	perms          *models.Permissions
}

// New создаёт ядро для сущности и, если задан Stream, подписывается на её события.
func New(entity models.EntityRef, opts Options) (*Core, error) {
	const op = "sync/core/New"

	if opts.Gateway == nil {
		return nil, fmt.Errorf("%s: %w: nil gateway", op, ErrValidation)
	}
	if entity.Type == "" || entity.ID == "" {
		return nil, fmt.Errorf("%s: %w: empty entity ref", op, ErrValidation)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Core{
		entity: entity,
		opts:   opts,
		ops:    make(chan func()),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	if opts.Stream != nil {
		sub, err := opts.Stream.Subscribe(ctx, entity)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%s: %w: %v", op, ErrTransport, err)
		}
		c.sub = sub
	}

	c.loops.Add(1)
	go c.run()

	if c.sub != nil {
		c.loops.Add(1)
		go c.consume(c.sub)
	}

	return c, nil
}

func (c *Core) run() {
	defer c.loops.Done()

	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.done:
			// Добираем команды, успевшие встать в очередь до остановки.
			for {
				select {
				case fn := <-c.ops:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (c *Core) enqueue(fn func()) bool {
	select {
	case c.ops <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call исполняет fn в run-цикле и дожидается завершения.
func (c *Core) call(fn func()) error {
	ran := make(chan struct{})

	if !c.enqueue(func() {
		fn()
		close(ran)
	}) {
		return ErrClosed
	}

	<-ran

	return nil
}

func (c *Core) consume(sub stream.Subscription) {
	defer c.loops.Done()

	for ev := range sub.Events() {
		ev := ev
		if !c.enqueue(func() { c.onRemoteEvent(ev) }) {
			return
		}
	}

	if err := sub.Err(); err != nil {
		c.reportError(fmt.Errorf("sync/core/consume: %w: %v", ErrTransport, err))
	}
}

func (c *Core) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}

func (c *Core) reportError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

func (c *Core) indexOf(id string) int {
	for i := range c.comments {
		if c.comments[i].ID == id {
			return i
		}
	}

	return -1
}

func (c *Core) indexOfLocal(localID string) int {
	for i := range c.comments {
		if c.comments[i].LocalID == localID {
			return i
		}
	}

	return -1
}

// Entity возвращает сущность, которой принадлежит ядро.
func (c *Core) Entity() models.EntityRef {
	return c.entity
}

// Comments возвращает снапшот текущего состояния (глубокие копии).
func (c *Core) Comments() []models.Comment {
	var out []models.Comment

	_ = c.call(func() { out = models.CloneComments(c.comments) })

	return out
}

// Threads возвращает текущее состояние, собранное в ветки.
func (c *Core) Threads() []models.Thread {
	var out []models.Thread

	_ = c.call(func() { out = threads.GroupIntoThreads(models.CloneComments(c.comments)) })

	return out
}

// Stats возвращает агрегаты по текущему локальному состоянию.
func (c *Core) Stats() models.Stats {
	var out models.Stats

	_ = c.call(func() { out = statsOf(c.comments) })

	return out
}

func statsOf(comments []models.Comment) models.Stats {
	out := models.Stats{Total: int32(len(comments))}

	authors := make(map[uuid.UUID]struct{}, len(comments))
	for i := range comments {
		if comments[i].AuthorID != uuid.Nil {
			authors[comments[i].AuthorID] = struct{}{}
		}
	}
	out.ActiveParticipants = int32(len(authors))

	for _, t := range threads.GroupIntoThreads(models.CloneComments(comments)) {
		if t.IsResolved {
			out.ResolvedThreads++
		} else {
			out.UnresolvedThreads++
		}
	}

	return out
}

// Refresh перечитывает состояние из хранилища (штатная реконсиляция после
// обрыва потока событий). Неподтверждённые локальные создания переживают
// перечитку: их подтверждение ещё в пути.
func (c *Core) Refresh(ctx context.Context) error {
	const op = "sync/core/Refresh"

	res, err := c.opts.Gateway.List(ctx, c.entity, gateway.ListFilters{})
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, mapGatewayErr(err), err)
	}

	if err := c.call(func() {
		fresh := models.CloneComments(res.Comments)
		for i := range fresh {
			fresh[i].Status = models.StatusConfirmed
		}

		for i := range c.comments {
			cur := c.comments[i]
			if cur.Status == models.StatusPending && cur.ID == cur.LocalID {
				fresh = append(fresh, cur)
			}
		}

		c.comments = fresh
		c.perms = nil
		c.changed()
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Permissions возвращает права текущего пользователя на комментарии сущности.
// Ответ кэшируется на время жизни ядра; Refresh сбрасывает кэш.
func (c *Core) Permissions(ctx context.Context) (*models.Permissions, error) {
	const op = "sync/core/Permissions"

	var cached *models.Permissions
	if err := c.call(func() {
		if c.perms != nil {
			p := *c.perms
			cached = &p
		}
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cached != nil {
		return cached, nil
	}

	perms, err := c.opts.Gateway.Permissions(ctx, c.entity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, mapGatewayErr(err), err)
	}

	if err := c.call(func() {
		p := *perms
		c.perms = &p
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return perms, nil
}

// CreateRequest — параметры создания комментария.
type CreateRequest struct {
	Body        string
	ParentID    string
	Attachments []string
}

// CreateComment создаёт комментарий оптимистично и возвращает локальную
// запись с временным идентификатором ("tmp-<uuid>") и StatusPending.
// Подтверждение хранилища атомарно заменит её по LocalID; отказ удалит
// запись и сообщит об ошибке через OnError.
func (c *Core) CreateComment(ctx context.Context, req CreateRequest) (models.Comment, error) {
	const op = "sync/core/CreateComment"

	body := strings.TrimSpace(req.Body)
	if body == "" {
		return models.Comment{}, fmt.Errorf("%s: %w: empty body", op, ErrValidation)
	}

	now := time.Now().UTC()
	localID := localIDPrefix + uuid.NewString()

	optimistic := models.Comment{
		ID:          localID,
		LocalID:     localID,
		Entity:      c.entity,
		AuthorID:    c.opts.UserID,
		AuthorName:  c.opts.UserName,
		Body:        body,
		ParentID:    req.ParentID,
		Mentions:    mentions.ExtractMentionIDs(body),
		CreatedAt:   now,
		UpdatedAt:   now,
		Attachments: append([]string(nil), req.Attachments...),
		Status:      models.StatusPending,
	}

	var applyErr error

	if err := c.call(func() {
		if req.ParentID != "" {
			idx := c.indexOf(req.ParentID)
			if idx < 0 {
				applyErr = fmt.Errorf("%s: %w: parent %q", op, ErrNotFound, req.ParentID)
				return
			}
			if c.comments[idx].Status != models.StatusConfirmed {
				applyErr = fmt.Errorf("%s: %w", op, ErrPendingComment)
				return
			}
			// Ответ на ответ приводится к корню ветки: дерево плоское.
			if !c.comments[idx].IsRoot() {
				optimistic.ParentID = c.comments[idx].ParentID
			}
		}

		c.comments = append(c.comments, optimistic.Clone())
		c.pendingCreates++
		c.opts.Metrics.OptimisticMutation("create")
		c.changed()
	}); err != nil {
		return models.Comment{}, fmt.Errorf("%s: %w", op, err)
	}

	if applyErr != nil {
		return models.Comment{}, applyErr
	}

	in := gateway.CreateInput{
		Entity:      c.entity,
		AuthorID:    optimistic.AuthorID,
		AuthorName:  optimistic.AuthorName,
		Body:        optimistic.Body,
		ParentID:    optimistic.ParentID,
		Mentions:    optimistic.Mentions,
		Attachments: optimistic.Attachments,
	}

	c.inflight.Add(1)
	go func() {
		confirmed, gwErr := c.opts.Gateway.Create(ctx, in)

		if !c.enqueue(func() {
			defer c.inflight.Done()
			c.resolveCreate(localID, confirmed, gwErr)
		}) {
			c.inflight.Done()
		}
	}()

	return optimistic, nil
}

func (c *Core) resolveCreate(localID string, confirmed *models.Comment, gwErr error) {
	const op = "sync/core/resolveCreate"

	lg := log.From(c.ctx).With("op", op, "entity_id", c.entity.ID, "local_id", localID)

	c.pendingCreates--
	idx := c.indexOfLocal(localID)

	if gwErr != nil {
		if idx >= 0 {
			c.comments = append(c.comments[:idx], c.comments[idx+1:]...)
		}

		c.opts.Metrics.Rollback()
		lg.Warn("create rejected, optimistic record dropped", "err", gwErr)
		c.reportError(fmt.Errorf("%s: %w: %v", op, mapGatewayErr(gwErr), gwErr))
		c.flushDeferred()
		c.changed()

		return
	}

	cc := confirmed.Clone()
	cc.LocalID = localID
	cc.Status = models.StatusConfirmed

	if idx >= 0 {
		c.comments[idx] = cc
	} else {
		c.comments = append(c.comments, cc)
	}

	lg.Debug("create confirmed", "comment_id", cc.ID)

	if c.opts.Notifier != nil {
		n := cc.Clone()
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.opts.Notifier.CommentCreated(c.ctx, &n)
		}()
	}

	c.flushDeferred()
	c.changed()
}

// UpdateComment правит тело комментария. Упоминания пересчитываются из нового
// тела; после подтверждения уведомляются только добавленные пользователи.
func (c *Core) UpdateComment(ctx context.Context, id, body string) error {
	const op = "sync/core/UpdateComment"

	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("%s: %w: empty body", op, ErrValidation)
	}

	var (
		applyErr    error
		snapshot    models.Comment
		oldMentions []uuid.UUID
	)

	if err := c.call(func() {
		idx := c.indexOf(id)
		if idx < 0 {
			applyErr = fmt.Errorf("%s: %w: %q", op, ErrNotFound, id)
			return
		}
		if c.comments[idx].Status != models.StatusConfirmed {
			applyErr = fmt.Errorf("%s: %w", op, ErrPendingComment)
			return
		}

		snapshot = c.comments[idx].Clone()
		oldMentions = append([]uuid.UUID(nil), snapshot.Mentions...)

		next := snapshot.Clone()
		next.Body = body
		next.Mentions = mentions.ExtractMentionIDs(body)
		next.IsEdited = true
		next.UpdatedAt = time.Now().UTC()
		next.Status = models.StatusPending

		c.comments[idx] = next
		c.opts.Metrics.OptimisticMutation("update")
		c.changed()
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if applyErr != nil {
		return applyErr
	}

	c.inflight.Add(1)
	go func() {
		confirmed, gwErr := c.opts.Gateway.Update(ctx, id, gateway.Patch{Body: &body})

		if !c.enqueue(func() {
			defer c.inflight.Done()
			c.resolveMutation(op, id, snapshot, confirmed, gwErr, func(cc models.Comment) {
				if c.opts.Notifier == nil {
					return
				}

				n := cc.Clone()
				c.inflight.Add(1)
				go func() {
					defer c.inflight.Done()
					c.opts.Notifier.CommentUpdated(c.ctx, &n, oldMentions)
				}()
			})
		}) {
			c.inflight.Done()
		}
	}()

	return nil
}

// DeleteComment удаляет комментарий: запись исчезает мгновенно, отказ
// хранилища возвращает её на прежнее место.
func (c *Core) DeleteComment(ctx context.Context, id string) error {
	const op = "sync/core/DeleteComment"

	var (
		applyErr error
		snapshot models.Comment
		pos      int
	)

	if err := c.call(func() {
		idx := c.indexOf(id)
		if idx < 0 {
			applyErr = fmt.Errorf("%s: %w: %q", op, ErrNotFound, id)
			return
		}
		if c.comments[idx].Status != models.StatusConfirmed {
			applyErr = fmt.Errorf("%s: %w", op, ErrPendingComment)
			return
		}

		snapshot = c.comments[idx].Clone()
		pos = idx
		c.comments = append(c.comments[:idx], c.comments[idx+1:]...)
		c.opts.Metrics.OptimisticMutation("delete")
		c.changed()
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if applyErr != nil {
		return applyErr
	}

	c.inflight.Add(1)
	go func() {
		gwErr := c.opts.Gateway.Delete(ctx, id)

		if !c.enqueue(func() {
			defer c.inflight.Done()

			if gwErr != nil {
				if c.indexOf(id) < 0 {
					if pos > len(c.comments) {
						pos = len(c.comments)
					}
					rest := append([]models.Comment{snapshot}, c.comments[pos:]...)
					c.comments = append(c.comments[:pos], rest...)
				}

				c.opts.Metrics.Rollback()
				c.reportError(fmt.Errorf("%s: %w: %v", op, mapGatewayErr(gwErr), gwErr))
				c.changed()

				return
			}

			if c.opts.Notifier != nil {
				c.opts.Notifier.Forget(id)
			}
		}) {
			c.inflight.Done()
		}
	}()

	return nil
}

// ToggleReaction переключает реакцию текущего пользователя на комментарий.
func (c *Core) ToggleReaction(ctx context.Context, id, emoji string) error {
	const op = "sync/core/ToggleReaction"

	if strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("%s: %w: empty emoji", op, ErrValidation)
	}

	var (
		applyErr error
		snapshot models.Comment
		adding   bool
	)

	if err := c.call(func() {
		idx := c.indexOf(id)
		if idx < 0 {
			applyErr = fmt.Errorf("%s: %w: %q", op, ErrNotFound, id)
			return
		}
		if c.comments[idx].Status != models.StatusConfirmed {
			applyErr = fmt.Errorf("%s: %w", op, ErrPendingComment)
			return
		}

		snapshot = c.comments[idx].Clone()
		adding = !hasReaction(snapshot, emoji, c.opts.UserID)

		next := threads.ToggleReaction(snapshot, emoji, c.opts.UserID, time.Now().UTC())
		next.Status = models.StatusPending

		c.comments[idx] = next
		c.opts.Metrics.OptimisticMutation("reaction")
		c.changed()
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if applyErr != nil {
		return applyErr
	}

	c.inflight.Add(1)
	go func() {
		var (
			confirmed *models.Comment
			gwErr     error
		)

		if adding {
			confirmed, gwErr = c.opts.Gateway.AddReaction(ctx, id, emoji)
		} else {
			confirmed, gwErr = c.opts.Gateway.RemoveReaction(ctx, id, emoji)
		}

		if !c.enqueue(func() {
			defer c.inflight.Done()
			c.resolveMutation(op, id, snapshot, confirmed, gwErr, nil)
		}) {
			c.inflight.Done()
		}
	}()

	return nil
}

func hasReaction(c models.Comment, emoji string, userID uuid.UUID) bool {
	for _, r := range c.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			return true
		}
	}

	return false
}

// SetResolved выставляет решённость ветки. Применимо только к корню.
func (c *Core) SetResolved(ctx context.Context, id string, resolved bool) error {
	const op = "sync/core/SetResolved"

	var (
		applyErr error
		snapshot models.Comment
	)

	if err := c.call(func() {
		idx := c.indexOf(id)
		if idx < 0 {
			applyErr = fmt.Errorf("%s: %w: %q", op, ErrNotFound, id)
			return
		}
		if c.comments[idx].Status != models.StatusConfirmed {
			applyErr = fmt.Errorf("%s: %w", op, ErrPendingComment)
			return
		}
		if !c.comments[idx].IsRoot() {
			applyErr = fmt.Errorf("%s: %w: resolution applies to thread roots", op, ErrValidation)
			return
		}

		snapshot = c.comments[idx].Clone()

		now := time.Now().UTC()
		next := snapshot.Clone()
		next.IsResolved = resolved
		next.UpdatedAt = now
		next.Status = models.StatusPending

		if resolved {
			next.ResolvedBy = c.opts.UserID
			next.ResolvedAt = now
		} else {
			next.ResolvedBy = uuid.Nil
			next.ResolvedAt = time.Time{}
		}

		if vErr := threads.Validate(next); vErr != nil {
			applyErr = fmt.Errorf("%s: %w: %v", op, ErrValidation, vErr)
			return
		}

		c.comments[idx] = next
		c.opts.Metrics.OptimisticMutation("resolve")
		c.changed()
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if applyErr != nil {
		return applyErr
	}

	c.inflight.Add(1)
	go func() {
		confirmed, gwErr := c.opts.Gateway.SetResolved(ctx, id, resolved)

		if !c.enqueue(func() {
			defer c.inflight.Done()
			c.resolveMutation(op, id, snapshot, confirmed, gwErr, nil)
		}) {
			c.inflight.Done()
		}
	}()

	return nil
}

// MarkRead помечает комментарии прочитанными. Уже прочитанные и неизвестные
// идентификаторы пропускаются; пустой эффективный набор не ходит в хранилище.
func (c *Core) MarkRead(ctx context.Context, ids []string) error {
	const op = "sync/core/MarkRead"

	if len(ids) == 0 {
		return nil
	}

	var marked []string

	if err := c.call(func() {
		for _, id := range ids {
			idx := c.indexOf(id)
			if idx < 0 || !c.comments[idx].Unread {
				continue
			}

			c.comments[idx].Unread = false
			marked = append(marked, id)
		}

		if len(marked) > 0 {
			c.changed()
		}
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if len(marked) == 0 {
		return nil
	}

	c.inflight.Add(1)
	go func() {
		gwErr := c.opts.Gateway.MarkRead(ctx, marked)

		if !c.enqueue(func() {
			defer c.inflight.Done()

			if gwErr == nil {
				return
			}

			for _, id := range marked {
				if idx := c.indexOf(id); idx >= 0 {
					c.comments[idx].Unread = true
				}
			}

			c.opts.Metrics.Rollback()
			c.reportError(fmt.Errorf("%s: %w: %v", op, mapGatewayErr(gwErr), gwErr))
			c.changed()
		}) {
			c.inflight.Done()
		}
	}()

	return nil
}

// resolveMutation — общий финал мутаций update/resolve/reaction: подтверждение
// заменяет запись полной серверной сущностью, отказ откатывает к снапшоту.
func (c *Core) resolveMutation(op, id string, snapshot models.Comment, confirmed *models.Comment, gwErr error, onConfirm func(models.Comment)) {
	idx := c.indexOf(id)

	if gwErr != nil {
		if idx >= 0 {
			c.comments[idx] = snapshot
		}

		c.opts.Metrics.Rollback()
		log.From(c.ctx).Warn("mutation rejected, rolled back",
			"op", op, "comment_id", id, "err", gwErr)
		c.reportError(fmt.Errorf("%s: %w: %v", op, mapGatewayErr(gwErr), gwErr))
		c.changed()

		return
	}

	cc := confirmed.Clone()
	cc.Status = models.StatusConfirmed

	if idx >= 0 {
		cc.LocalID = c.comments[idx].LocalID
		cc.Unread = c.comments[idx].Unread
		c.comments[idx] = cc
	} else {
		c.comments = append(c.comments, cc)
	}

	if onConfirm != nil {
		onConfirm(cc)
	}

	c.changed()
}

func (c *Core) onRemoteEvent(ev stream.Event) {
	if c.pendingCreates > 0 {
		// Пока есть неподтверждённые создания, входящие события откладываются:
		// эхо собственного create не должно приехать раньше подтверждения и
		// задублировать запись.
		c.deferred = append(c.deferred, ev)
		return
	}

	if c.applyEvent(ev) {
		c.changed()
	}
}

func (c *Core) flushDeferred() {
	if c.pendingCreates > 0 || len(c.deferred) == 0 {
		return
	}

	pending := c.deferred
	c.deferred = nil

	for _, ev := range pending {
		c.applyEvent(ev)
	}
}

// applyEvent вносит серверное событие в состояние; возвращает признак того,
// что видимое состояние изменилось.
func (c *Core) applyEvent(ev stream.Event) bool {
	c.opts.Metrics.RemoteEvent(string(ev.Type))

	switch ev.Type {
	case stream.EventCreated:
		if c.indexOf(ev.Comment.ID) >= 0 {
			// Эхо собственного создания: запись уже подтверждена.
			return false
		}

		cc := ev.Comment.Clone()
		cc.Status = models.StatusConfirmed
		c.comments = append(c.comments, cc)

		return true

	case stream.EventUpdated:
		cc := ev.Comment.Clone()
		cc.Status = models.StatusConfirmed

		idx := c.indexOf(cc.ID)
		if idx < 0 {
			// Неизвестный ID — пропущенное created; событие несёт полную
			// сущность, поэтому безопасно вставить её как новую.
			c.comments = append(c.comments, cc)
			return true
		}

		cc.LocalID = c.comments[idx].LocalID
		cc.Unread = c.comments[idx].Unread
		c.comments[idx] = cc

		return true

	case stream.EventDeleted:
		idx := c.indexOf(ev.Comment.ID)
		if idx < 0 {
			return false
		}

		c.comments = append(c.comments[:idx], c.comments[idx+1:]...)
		if c.opts.Notifier != nil {
			c.opts.Notifier.Forget(ev.Comment.ID)
		}

		return true
	}

	return false
}

// Wait блокируется, пока не завершатся все начатые мутации: их запросы к
// хранилищу, подтверждения/откаты и порождённые уведомления.
func (c *Core) Wait() {
	c.inflight.Wait()
}

// Close останавливает ядро: закрывает подписку на события и run-цикл.
// Идемпотентен.
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		if c.sub != nil {
			_ = c.sub.Close()
		}

		close(c.done)
	})

	c.loops.Wait()

	return nil
}
