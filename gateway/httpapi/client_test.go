package httpapi

// Тесты HTTP/JSON-адаптера хранилища (client.go).
//
// Проверяем:
//  - happy-path List/Create/Suggest: разбор проводных DTO в доменные модели;
//  - маппинг неуспешных статусов в sentinel-ошибки gateway;
//  - транспортный отказ (сервер недоступен) -> ErrUnavailable;
//  - MarkRead с пустым списком не ходит в сеть.
//
// Внешний сервис поднимается как httptest.Server.

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-annotations/gateway"
	"github.com/pribylovaa/go-annotations/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, 2*time.Second)
	require.NoError(t, err)

	return c
}

// TestNew_EmptyBaseURL — пустой base url недопустим.
func TestNew_EmptyBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New("   ", time.Second)
	require.Error(t, err)
}

// TestClient_List_OK — разбор списка с агрегатами.
func TestClient_List_OK(t *testing.T) {
	t.Parallel()

	author := uuid.New()
	mention := uuid.New()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/comments", r.URL.Path)
		require.Equal(t, "document", r.URL.Query().Get("entity_type"))
		require.Equal(t, "doc-1", r.URL.Query().Get("entity_id"))

		resp := listResponse{
			Comments: []commentDTO{{
				ID:         "srv-1",
				EntityType: "document",
				EntityID:   "doc-1",
				AuthorID:   author.String(),
				AuthorName: "alice",
				Body:       "hello",
				Mentions:   []string{mention.String()},
				CreatedAt:  1748779200,
				UpdatedAt:  1748779200,
				Reactions: []reactionDTO{
					{Emoji: "👍", UserID: author.String(), CreatedAt: 1748779260},
				},
			}},
			Stats: statsDTO{Total: 1, UnresolvedThreads: 1, ActiveParticipants: 1},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))

	got, err := c.List(context.Background(), models.EntityRef{Type: "document", ID: "doc-1"}, gateway.ListFilters{})
	require.NoError(t, err)
	require.Len(t, got.Comments, 1)

	cm := got.Comments[0]
	require.Equal(t, "srv-1", cm.ID)
	require.Equal(t, author, cm.AuthorID)
	require.Equal(t, []uuid.UUID{mention}, cm.Mentions)
	require.Equal(t, models.StatusConfirmed, cm.Status)
	require.True(t, cm.IsRoot())
	require.Equal(t, time.Unix(1748779200, 0).UTC(), cm.CreatedAt)
	require.Len(t, cm.Reactions, 1)

	require.Equal(t, int32(1), got.Stats.Total)
	require.Equal(t, int32(1), got.Stats.UnresolvedThreads)
}

// TestClient_Create_OK — мутация возвращает полную сущность с серверным ID.
func TestClient_Create_OK(t *testing.T) {
	t.Parallel()

	author := uuid.New()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/comments", r.URL.Path)

		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "hello", req.Body)
		require.Equal(t, author.String(), req.AuthorID)

		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(commentResponse{Comment: commentDTO{
			ID:         "srv-42",
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			AuthorID:   req.AuthorID,
			AuthorName: req.AuthorName,
			Body:       req.Body,
			CreatedAt:  1748779200,
			UpdatedAt:  1748779200,
		}}))
	}))

	got, err := c.Create(context.Background(), gateway.CreateInput{
		Entity:     models.EntityRef{Type: "task", ID: "t-7"},
		AuthorID:   author,
		AuthorName: "alice",
		Body:       "hello",
	})
	require.NoError(t, err)
	require.Equal(t, "srv-42", got.ID)
	require.Equal(t, models.StatusConfirmed, got.Status)
}

// TestClient_StatusMapping — неуспешные статусы переводятся в sentinel-ошибки.
func TestClient_StatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"bad_request", http.StatusBadRequest, gateway.ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, gateway.ErrValidation},
		{"unauthorized", http.StatusUnauthorized, gateway.ErrPermissionDenied},
		{"forbidden", http.StatusForbidden, gateway.ErrPermissionDenied},
		{"not_found", http.StatusNotFound, gateway.ErrNotFound},
		{"internal", http.StatusInternalServerError, gateway.ErrUnavailable},
		{"unavailable", http.StatusServiceUnavailable, gateway.ErrUnavailable},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"code":"x","message":"boom"}}`))
			}))

			err := c.Delete(context.Background(), "some-id")
			require.ErrorIs(t, err, tc.want)
		})
	}
}

// TestClient_TransportError — сервер недоступен -> ErrUnavailable.
func TestClient_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // адрес валиден, но никто не слушает

	c, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = c.List(context.Background(), models.EntityRef{Type: "document", ID: "doc-1"}, gateway.ListFilters{})
	require.ErrorIs(t, err, gateway.ErrUnavailable)
}

// TestClient_MarkRead_EmptyNoCall — пустой список прочитанных не ходит в сеть.
func TestClient_MarkRead_EmptyNoCall(t *testing.T) {
	t.Parallel()

	called := false
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.MarkRead(context.Background(), nil))
	require.False(t, called)

	require.NoError(t, c.MarkRead(context.Background(), []string{"a", "b"}))
	require.True(t, called)
}

// TestClient_Suggest_OK — поиск подсказок упоминаний.
func TestClient_Suggest_OK(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/mentions/suggest", r.URL.Path)
		require.Equal(t, "bo", r.URL.Query().Get("query"))
		require.Equal(t, "10", r.URL.Query().Get("limit"))

		require.NoError(t, json.NewEncoder(w).Encode(suggestResponse{
			Suggestions: []suggestionDTO{{ID: id.String(), Username: "bob"}},
		}))
	}))

	got, err := c.Suggest(context.Background(), "bo", models.EntityRef{Type: "document", ID: "doc-1"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, id, got[0].ID)
	require.Equal(t, "bob", got[0].Username)
}

// TestClient_AuthToken — заголовок Authorization выставляется при наличии токена.
func TestClient_AuthToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, time.Second, WithToken("secret"))
	require.NoError(t, err)

	require.NoError(t, c.Delete(context.Background(), "id-1"))
}
