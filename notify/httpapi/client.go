// Package httpapi — HTTP-клиент внешнего сервиса уведомлений.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-annotations/models"
)

// Client реализует notify.Client поверх HTTP/JSON API сервиса уведомлений.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option — опциональная настройка клиента.
type Option func(*Client)

// WithToken — bearer-токен для Authorization.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient — подмена http.Client (тесты/кастомный транспорт).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New создаёт клиента сервиса уведомлений.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("notify/httpapi: empty base url")
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

type notifyRequest struct {
	CommentID  string   `json:"comment_id"`
	UserIDs    []string `json:"user_ids"`
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
}

// Notify запрашивает доставку уведомлений об упоминании.
func (c *Client) Notify(ctx context.Context, commentID string, userIDs []uuid.UUID, entity models.EntityRef) error {
	const op = "notify/httpapi/Notify"

	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, id.String())
	}

	raw, err := json.Marshal(notifyRequest{
		CommentID:  commentID,
		UserIDs:    ids,
		EntityType: entity.Type,
		EntityID:   entity.ID,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/notifications/mentions", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	return nil
}
