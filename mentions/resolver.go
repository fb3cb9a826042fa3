package mentions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	gocache "github.com/patrickmn/go-cache"

	"github.com/pribylovaa/go-annotations/metrics"
	"github.com/pribylovaa/go-annotations/models"
	"github.com/pribylovaa/go-annotations/pkg/log"
)

// errStaleResult — внутренняя ошибка «ответ устарел»: пришёл результат запроса,
// который уже не активен. Наружу никогда не отдаётся, ответ молча отбрасывается.
var errStaleResult = errors.New("stale suggestion result")

// ErrSuggestUnavailable — поисковый бэкенд недоступен (транспортная ошибка).
// Отдаётся в OnError ровно для той попытки, которая реально ушла в сеть.
var ErrSuggestUnavailable = errors.New("suggest unavailable")

// SearchClient — удалённый поиск пользователей для подсказок упоминаний.
type SearchClient interface {
	Suggest(ctx context.Context, query string, entity models.EntityRef, limit int32) ([]models.MentionSuggestion, error)
}

// Options — настройки резолвера. Нулевые поля получают дефолты (см. normalize).
type Options struct {
	// Debounce — окно тишины перед сетевым запросом. По умолчанию 300ms.
	Debounce time.Duration
	// MinQueryLen — короче этого запрос в сеть не ходит (пустая локальная выдача).
	// По умолчанию 2.
	MinQueryLen int
	// Limit — максимум подсказок в выдаче. По умолчанию 10.
	Limit int32
	// CacheTTL — срок жизни кэша выдачи по запросу. По умолчанию 30s.
	CacheTTL time.Duration
	// Metrics — опциональные счётчики (nil — no-op).
	Metrics *metrics.Metrics
}

func (o Options) normalize() Options {
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}

	if o.MinQueryLen <= 0 {
		o.MinQueryLen = 2
	}

	if o.Limit <= 0 {
		o.Limit = 10
	}

	if o.CacheTTL <= 0 {
		o.CacheTTL = 30 * time.Second
	}

	return o
}

// Resolver превращает текст редактора и позицию курсора в активный @-запрос
// и ранжированную выдачу подсказок.
//
// Конкурентная модель: все публичные методы сериализуются внутренним мьютексом.
// Дебаунс-таймер — единственный источник асинхронных пробуждений; его результат
// применяется под тем же мьютексом и только если поколение запроса совпадает
// с текущим (защита от устаревших ответов). Отмена перегнанного запроса — это
// отбрасывание его результата по прибытии, а не прерывание сетевого вызова:
// поиск идемпотентен и дёшев.
type Resolver struct {
	client SearchClient
	entity models.EntityRef
	opts   Options
	cache  *gocache.Cache

	// OnChange дергается после каждого изменения видимого состояния
	// (выдача/выбор). Вызывается под мьютексом — обработчик должен быть лёгким.
	OnChange func()
	// OnError получает транспортные ошибки поиска (не блокирующие ввод).
	OnError func(error)

	mu          sync.Mutex
	gen         uint64
	active      *Query
	suggestions []models.MentionSuggestion
	selected    int
	timer       *time.Timer
}

// NewResolver создаёт резолвер подсказок для одной сущности.
func NewResolver(client SearchClient, entity models.EntityRef, opts Options) *Resolver {
	opts = opts.normalize()

	return &Resolver{
		client: client,
		entity: entity,
		opts:   opts,
		cache:  gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}
}

// Update обрабатывает очередное состояние редактора (текст + курсор).
// Если активного упоминания нет — состояние сбрасывается. Если запрос не
// изменился — no-op. Иначе запрос становится активным, а сетевой вызов
// планируется через окно дебаунса (кэш-попадание применяется сразу).
func (r *Resolver) Update(ctx context.Context, text string, cursorPos int) {
	const op = "mentions/resolver/Update"

	q, ok := DetectActiveMention(text, cursorPos)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !ok {
		r.resetLocked()
		return
	}

	if r.active != nil && r.active.Text == q.Text {
		// Запрос не изменился — обновляем только границы спана.
		r.active = &q
		return
	}

	r.active = &q
	r.gen++
	r.stopTimerLocked()
	r.selected = 0

	if utf8.RuneCountInString(q.Text) < r.opts.MinQueryLen {
		// Слишком короткий запрос: пустая локальная выдача без сети.
		r.suggestions = nil
		r.notifyLocked()
		return
	}

	if cached, ok := r.cache.Get(r.cacheKey(q.Text)); ok {
		r.suggestions = cached.([]models.MentionSuggestion)
		r.notifyLocked()
		return
	}

	gen := r.gen
	query := q.Text

	r.timer = time.AfterFunc(r.opts.Debounce, func() {
		r.fire(ctx, gen, query)
	})

	log.From(ctx).Debug("mention query scheduled", "op", op, "query", query)
}

// fire — сетевой вызов по срабатыванию дебаунс-таймера.
func (r *Resolver) fire(ctx context.Context, gen uint64, query string) {
	const op = "mentions/resolver/fire"

	lg := log.From(ctx).With("op", op, "query", query)

	got, err := r.client.Suggest(ctx, query, r.entity, r.opts.Limit)

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen {
		// Запрос перегнан более свежим — результат отбрасывается молча.
		r.opts.Metrics.StaleSuggestion()
		lg.Debug("suggest result discarded", "err", errStaleResult)
		return
	}

	if err != nil {
		lg.Warn("suggest failed", "err", err)
		if r.OnError != nil {
			r.OnError(fmt.Errorf("%s: %w", op, ErrSuggestUnavailable))
		}
		return
	}

	r.cache.Set(r.cacheKey(query), got, gocache.DefaultExpiration)
	r.suggestions = got
	r.selected = 0
	r.notifyLocked()
}

// Suggestions возвращает копию текущей выдачи.
func (r *Resolver) Suggestions() []models.MentionSuggestion {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.suggestions == nil {
		return nil
	}

	out := make([]models.MentionSuggestion, len(r.suggestions))
	copy(out, r.suggestions)

	return out
}

// ActiveQuery возвращает активный запрос, если он есть.
func (r *Resolver) ActiveQuery() (Query, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return Query{}, false
	}

	return *r.active, true
}

// SelectedIndex — позиция курсора клавиатурной навигации в текущей выдаче.
func (r *Resolver) SelectedIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.selected
}

// NavigateDown сдвигает выбор вниз с заворотом: за последним идёт первый.
func (r *Resolver) NavigateDown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.suggestions) == 0 {
		return
	}

	r.selected = (r.selected + 1) % len(r.suggestions)
	r.notifyLocked()
}

// NavigateUp сдвигает выбор вверх с заворотом: перед первым идёт последний.
func (r *Resolver) NavigateUp() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.suggestions) == 0 {
		return
	}

	r.selected = (r.selected - 1 + len(r.suggestions)) % len(r.suggestions)
	r.notifyLocked()
}

// Select фиксирует выбранную подсказку: возвращает её вместе со спаном
// исходного @-запроса и сбрасывает состояние. Вклейка канонического токена
// (BuildToken) в текст по границам спана — обязанность вызывающей стороны.
func (r *Resolver) Select() (models.MentionSuggestion, Query, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil || len(r.suggestions) == 0 {
		return models.MentionSuggestion{}, Query{}, false
	}

	if r.selected < 0 || r.selected >= len(r.suggestions) {
		return models.MentionSuggestion{}, Query{}, false
	}

	chosen := r.suggestions[r.selected]
	span := *r.active

	r.resetLocked()

	return chosen, span, true
}

// Dismiss сбрасывает активный запрос и выдачу (Escape/потеря фокуса).
func (r *Resolver) Dismiss() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()
}

// Close останавливает отложенный таймер. После Close резолвер не используется.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()
}

func (r *Resolver) cacheKey(query string) string {
	return r.entity.Type + "/" + r.entity.ID + "?" + query
}

func (r *Resolver) resetLocked() {
	changed := r.active != nil || len(r.suggestions) != 0

	r.stopTimerLocked()
	r.gen++
	r.active = nil
	r.suggestions = nil
	r.selected = 0

	if changed {
		r.notifyLocked()
	}
}

func (r *Resolver) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Resolver) notifyLocked() {
	if r.OnChange != nil {
		r.OnChange()
	}
}
