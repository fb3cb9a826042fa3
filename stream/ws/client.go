// Package ws — websocket-адаптер stream.Source: одно соединение,
// мультиплексированные подписки по сущностям.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pribylovaa/go-annotations/models"
	"github.com/pribylovaa/go-annotations/stream"
)

const (
	// Дедлайн записи одного сообщения.
	writeWait = 10 * time.Second
	// Ожидание pong от сервера; дольше — соединение считается мёртвым.
	pongWait = 60 * time.Second
	// Период ping (должен быть меньше pongWait).
	pingPeriod = (pongWait * 9) / 10
	// Буфер канала событий одной подписки.
	eventBuffer = 64
)

// ErrClosed — операция над закрытым клиентом/подпиской.
var ErrClosed = errors.New("stream closed")

// Проводной формат. Управляющие сообщения клиент->сервер,
// события сервер->клиент; всё помечено идентичностью сущности.

type controlMessage struct {
	Action     string `json:"action"` // subscribe | unsubscribe
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

type eventMessage struct {
	Type       string       `json:"type"` // created | updated | deleted
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Comment    eventComment `json:"comment"`
}

type eventComment struct {
	ID          string   `json:"id"`
	EntityType  string   `json:"entity_type"`
	EntityID    string   `json:"entity_id"`
	AuthorID    string   `json:"author_id"`
	AuthorName  string   `json:"author_name"`
	Body        string   `json:"body"`
	ParentID    string   `json:"parent_id,omitempty"`
	Mentions    []string `json:"mentions,omitempty"`
	IsResolved  bool     `json:"is_resolved"`
	ResolvedBy  string   `json:"resolved_by,omitempty"`
	ResolvedAt  int64    `json:"resolved_at,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
	IsEdited    bool     `json:"is_edited"`
	Attachments []string `json:"attachments,omitempty"`
}

func (e eventComment) toModel() models.Comment {
	parse := func(s string) uuid.UUID {
		id, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil
		}
		return id
	}

	unix := func(sec int64) time.Time {
		if sec == 0 {
			return time.Time{}
		}
		return time.Unix(sec, 0).UTC()
	}

	out := models.Comment{
		ID:          e.ID,
		Entity:      models.EntityRef{Type: e.EntityType, ID: e.EntityID},
		AuthorID:    parse(e.AuthorID),
		AuthorName:  e.AuthorName,
		Body:        e.Body,
		ParentID:    e.ParentID,
		IsResolved:  e.IsResolved,
		ResolvedBy:  parse(e.ResolvedBy),
		ResolvedAt:  unix(e.ResolvedAt),
		CreatedAt:   unix(e.CreatedAt),
		UpdatedAt:   unix(e.UpdatedAt),
		IsEdited:    e.IsEdited,
		Attachments: e.Attachments,
		Status:      models.StatusConfirmed,
	}

	for _, m := range e.Mentions {
		if id := parse(m); id != uuid.Nil {
			out.Mentions = append(out.Mentions, id)
		}
	}

	return out
}

type entityKey struct {
	typ string
	id  string
}

// Client — websocket-клиент потока событий. Реализует stream.Source.
//
// Соединение одно на клиента и устанавливается лениво при первой подписке.
// Чтение — единственная горутина readLoop; она раскладывает события по
// каналам подписок. Подписка с переполненным буфером события теряет
// (медленный потребитель не должен стопорить остальных) — потерю чинит
// свежий List при реконсиляции.
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer
	log    *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	connDone chan struct{}
	subs     map[entityKey]*subscription
	closed   bool
	writeMu  sync.Mutex
}

// Option — опциональная настройка клиента.
type Option func(*Client)

// WithToken — bearer-токен для заголовка Authorization при handshake.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger — логгер клиента (по умолчанию slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithDialer — подмена websocket.Dialer (тесты/кастомный транспорт).
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New создаёт клиента потока событий. url — ws:// или wss:// адрес.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("ws: empty url")
	}

	c := &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
		log:    slog.Default(),
		subs:   make(map[entityKey]*subscription),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type subscription struct {
	client *Client
	key    entityKey
	entity models.EntityRef
	events chan stream.Event

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) Events() <-chan stream.Event { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close снимает подписку: отправляет unsubscribe и закрывает канал событий.
func (s *subscription) Close() error {
	return s.client.unsubscribe(s)
}

// fail помечает подписку оборванной и закрывает канал.
func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	s.err = err
	close(s.events)
}

// Subscribe регистрирует подписку на события сущности.
// Одна сущность — одна подписка; повторный Subscribe до Close — ошибка.
func (c *Client) Subscribe(ctx context.Context, entity models.EntityRef) (stream.Subscription, error) {
	const op = "stream/ws/Subscribe"

	if entity.Type == "" || entity.ID == "" {
		return nil, fmt.Errorf("%s: empty entity ref", op)
	}

	key := entityKey{typ: entity.Type, id: entity.ID}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	}

	if _, ok := c.subs[key]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: duplicate subscription for %s/%s", op, entity.Type, entity.ID)
	}

	if err := c.ensureConnLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sub := &subscription{
		client: c,
		key:    key,
		entity: entity,
		events: make(chan stream.Event, eventBuffer),
	}
	c.subs[key] = sub

	c.mu.Unlock()

	if err := c.writeControl(controlMessage{
		Action:     "subscribe",
		EntityType: entity.Type,
		EntityID:   entity.ID,
	}); err != nil {
		c.mu.Lock()
		delete(c.subs, key)
		c.mu.Unlock()

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sub, nil
}

// ensureConnLocked лениво устанавливает соединение и запускает readLoop.
func (c *Client) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	var header map[string][]string
	if c.token != "" {
		header = map[string][]string{"Authorization": {"Bearer " + c.token}}
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.conn = conn
	c.connDone = make(chan struct{})

	go c.readLoop(conn)
	go c.pingLoop(conn, c.connDone)

	return nil
}

// dropConnLocked обнуляет соединение и будит pingLoop. Вызывается под mu.
func (c *Client) dropConnLocked() {
	if c.conn == nil {
		return
	}

	_ = c.conn.Close()
	c.conn = nil
	close(c.connDone)
	c.connDone = nil
}

// readLoop — единственный читатель соединения: раскладывает события по подпискам.
func (c *Client) readLoop(conn *websocket.Conn) {
	const op = "stream/ws/readLoop"

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.teardown(conn, err)
			return
		}

		var msg eventMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("malformed stream event", "op", op, "err", err)
			continue
		}

		key := entityKey{typ: msg.EntityType, id: msg.EntityID}

		c.mu.Lock()
		sub, ok := c.subs[key]
		c.mu.Unlock()

		if !ok {
			// Событие чужой/уже закрытой сущности — игнорируется.
			continue
		}

		ev := stream.Event{
			Type:    stream.EventType(msg.Type),
			Entity:  models.EntityRef{Type: msg.EntityType, ID: msg.EntityID},
			Comment: msg.Comment.toModel(),
		}

		select {
		case sub.events <- ev:
		default:
			c.log.Warn("subscriber buffer full, event dropped",
				"op", op,
				"entity_type", msg.EntityType,
				"entity_id", msg.EntityID,
			)
		}
	}
}

// pingLoop поддерживает соединение живым, пока оно не сброшено.
func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()

		if err != nil {
			return
		}
	}
}

// teardown обрывает все подписки при ошибке чтения.
func (c *Client) teardown(conn *websocket.Conn, cause error) {
	_ = conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	c.dropConnLocked()

	for key, sub := range c.subs {
		sub.fail(cause)
		delete(c.subs, key)
	}
}

func (c *Client) writeControl(msg controlMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteJSON(msg)
}

// unsubscribe снимает подписку и, если она последняя, закрывает соединение.
func (c *Client) unsubscribe(sub *subscription) error {
	c.mu.Lock()

	cur, ok := c.subs[sub.key]
	if !ok || cur != sub {
		c.mu.Unlock()
		return nil
	}

	delete(c.subs, sub.key)
	last := len(c.subs) == 0 && !c.closed
	c.mu.Unlock()

	err := c.writeControl(controlMessage{
		Action:     "unsubscribe",
		EntityType: sub.entity.Type,
		EntityID:   sub.entity.ID,
	})

	sub.fail(nil)

	if last {
		// Последняя подписка снята — соединение больше не нужно.
		c.mu.Lock()
		if len(c.subs) == 0 {
			c.dropConnLocked()
		}
		c.mu.Unlock()
	}

	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}

	return nil
}

// Close закрывает клиента: обрывает соединение и все подписки.
func (c *Client) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.dropConnLocked()

	for key, sub := range c.subs {
		sub.fail(ErrClosed)
		delete(c.subs, key)
	}

	c.mu.Unlock()

	return nil
}
