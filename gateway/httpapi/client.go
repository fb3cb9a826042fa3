package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-annotations/gateway"
	"github.com/pribylovaa/go-annotations/models"
	"github.com/pribylovaa/go-annotations/pkg/log"
)

// Client — реализация gateway.Gateway поверх HTTP/JSON API сервиса хранения.
// Также реализует mentions.SearchClient (метод Suggest): поиск пользователей
// для подсказок живёт на том же апстриме.
//
// Политика ретраев здесь отсутствует намеренно: таймаут или отказ мутации
// ядро трактует как отклонение и откатывает оптимистичное состояние.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option — опциональная настройка клиента.
type Option func(*Client)

// WithToken — bearer-токен для Authorization (аутентификация внешняя).
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient — подмена http.Client (тесты/кастомный транспорт).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New создаёт клиента внешнего хранилища комментариев.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("httpapi: empty base url")
	}

	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// do выполняет запрос и декодирует успешный ответ в out (если out != nil).
// Ошибки транспорта и неуспешные статусы переводятся в sentinel-ошибки gateway.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	const op = "gateway/httpapi/do"

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Сеть/таймаут/отменённый контекст — транспортный отказ.
		return fmt.Errorf("%s: %w: %w", op, gateway.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapStatus(ctx, resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w: %w", op, gateway.ErrUnavailable, err)
	}

	return nil
}

// mapStatus переводит неуспешный HTTP-статус в sentinel-ошибку gateway.
// Таблица зеркалит серверный маппинг доменных ошибок:
//   - 400/422 -> ErrValidation;
//   - 401/403 -> ErrPermissionDenied;
//   - 404     -> ErrNotFound;
//   - прочее (5xx, 429, ...) -> ErrUnavailable.
func (c *Client) mapStatus(ctx context.Context, resp *http.Response) error {
	const op = "gateway/httpapi/mapStatus"

	var apiErr errorResponse
	msg := ""
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); err == nil {
		msg = apiErr.Error.Message
	}

	log.From(ctx).Warn("storage api error",
		"op", op,
		"status", resp.StatusCode,
		"code", apiErr.Error.Code,
	)

	wrap := func(sentinel error) error {
		if msg == "" {
			return fmt.Errorf("%s: status %d: %w", op, resp.StatusCode, sentinel)
		}
		return fmt.Errorf("%s: status %d (%s): %w", op, resp.StatusCode, msg, sentinel)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return wrap(gateway.ErrValidation)
	case http.StatusUnauthorized, http.StatusForbidden:
		return wrap(gateway.ErrPermissionDenied)
	case http.StatusNotFound:
		return wrap(gateway.ErrNotFound)
	default:
		return wrap(gateway.ErrUnavailable)
	}
}

// List возвращает комментарии сущности и агрегаты.
func (c *Client) List(ctx context.Context, entity models.EntityRef, filters gateway.ListFilters) (*gateway.ListResult, error) {
	q := url.Values{}
	q.Set("entity_type", entity.Type)
	q.Set("entity_id", entity.ID)

	if filters.Resolved != nil {
		q.Set("resolved", fmt.Sprintf("%t", *filters.Resolved))
	}

	if filters.AuthorID != uuid.Nil {
		q.Set("author_id", filters.AuthorID.String())
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/v1/comments", q, nil, &resp); err != nil {
		return nil, err
	}

	return &gateway.ListResult{
		Comments: commentsFromDTO(resp.Comments),
		Stats:    statsFromDTO(resp.Stats),
	}, nil
}

// Create создаёт комментарий; ответ содержит запись с серверным ID.
func (c *Client) Create(ctx context.Context, in gateway.CreateInput) (*models.Comment, error) {
	req := createRequest{
		EntityType:  in.Entity.Type,
		EntityID:    in.Entity.ID,
		AuthorID:    in.AuthorID.String(),
		AuthorName:  in.AuthorName,
		Body:        in.Body,
		ParentID:    in.ParentID,
		Mentions:    mentionsToStrings(in.Mentions),
		Attachments: in.Attachments,
	}

	var resp commentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/comments", nil, req, &resp); err != nil {
		return nil, err
	}

	out := commentFromDTO(resp.Comment)

	return &out, nil
}

// Update применяет частичное обновление.
func (c *Client) Update(ctx context.Context, id string, patch gateway.Patch) (*models.Comment, error) {
	req := updateRequest{Body: patch.Body}

	var resp commentResponse
	if err := c.do(ctx, http.MethodPatch, "/v1/comments/"+url.PathEscape(id), nil, req, &resp); err != nil {
		return nil, err
	}

	out := commentFromDTO(resp.Comment)

	return &out, nil
}

// Delete удаляет комментарий.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/comments/"+url.PathEscape(id), nil, nil, nil)
}

// SetResolved выставляет флаг решённости корня.
func (c *Client) SetResolved(ctx context.Context, id string, resolved bool) (*models.Comment, error) {
	var resp commentResponse
	err := c.do(ctx, http.MethodPut, "/v1/comments/"+url.PathEscape(id)+"/resolved", nil, resolveRequest{Resolved: resolved}, &resp)
	if err != nil {
		return nil, err
	}

	out := commentFromDTO(resp.Comment)

	return &out, nil
}

// AddReaction добавляет реакцию вызывающего пользователя.
func (c *Client) AddReaction(ctx context.Context, id, emoji string) (*models.Comment, error) {
	var resp commentResponse
	err := c.do(ctx, http.MethodPut, "/v1/comments/"+url.PathEscape(id)+"/reactions/"+url.PathEscape(emoji), nil, nil, &resp)
	if err != nil {
		return nil, err
	}

	out := commentFromDTO(resp.Comment)

	return &out, nil
}

// RemoveReaction снимает реакцию вызывающего пользователя.
func (c *Client) RemoveReaction(ctx context.Context, id, emoji string) (*models.Comment, error) {
	var resp commentResponse
	err := c.do(ctx, http.MethodDelete, "/v1/comments/"+url.PathEscape(id)+"/reactions/"+url.PathEscape(emoji), nil, nil, &resp)
	if err != nil {
		return nil, err
	}

	out := commentFromDTO(resp.Comment)

	return &out, nil
}

// MarkRead помечает комментарии прочитанными.
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return c.do(ctx, http.MethodPost, "/v1/comments/read", nil, markReadRequest{IDs: ids}, nil)
}

// Permissions возвращает права вызывающего на комментарии сущности.
func (c *Client) Permissions(ctx context.Context, entity models.EntityRef) (*models.Permissions, error) {
	q := url.Values{}
	q.Set("entity_type", entity.Type)
	q.Set("entity_id", entity.ID)

	var resp struct {
		Permissions permissionsDTO `json:"permissions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/permissions", q, nil, &resp); err != nil {
		return nil, err
	}

	out := permissionsFromDTO(resp.Permissions)

	return &out, nil
}

// Suggest — поиск пользователей для подсказок @-упоминаний.
// Реализует mentions.SearchClient.
func (c *Client) Suggest(ctx context.Context, query string, entity models.EntityRef, limit int32) ([]models.MentionSuggestion, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", fmt.Sprintf("%d", limit))

	if entity.Type != "" {
		q.Set("entity_type", entity.Type)
	}
	if entity.ID != "" {
		q.Set("entity_id", entity.ID)
	}

	var resp suggestResponse
	if err := c.do(ctx, http.MethodGet, "/v1/mentions/suggest", q, nil, &resp); err != nil {
		return nil, err
	}

	return suggestionsFromDTO(resp.Suggestions), nil
}
