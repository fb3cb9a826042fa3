package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-annotations/mocks"
	"github.com/pribylovaa/go-annotations/models"
	"github.com/pribylovaa/go-annotations/notify"
)

func testComment(author uuid.UUID, mentions ...uuid.UUID) *models.Comment {
	return &models.Comment{
		ID:       "srv-1",
		Entity:   models.EntityRef{Type: "task", ID: "t-1"},
		AuthorID: author,
		Mentions: mentions,
	}
}

// TestDispatcher_CommentCreated_NotifiesMentioned — базовый сценарий:
// новый комментарий с упоминаниями уведомляет всех упомянутых, кроме автора.
func TestDispatcher_CommentCreated_NotifiesMentioned(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	author := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	c := testComment(author, alice, author, bob)

	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		Notify(gomock.Any(), c.ID, []uuid.UUID{alice, bob}, c.Entity).
		Return(nil).
		Times(1)

	d := notify.NewDispatcher(client, nil)
	d.CommentCreated(context.Background(), c)
}

// TestDispatcher_CommentCreated_Idempotent — повторная отправка того же
// комментария не порождает второй нотификации.
func TestDispatcher_CommentCreated_Idempotent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	author := uuid.New()
	alice := uuid.New()

	c := testComment(author, alice)

	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		Notify(gomock.Any(), c.ID, []uuid.UUID{alice}, c.Entity).
		Return(nil).
		Times(1)

	d := notify.NewDispatcher(client, nil)
	d.CommentCreated(context.Background(), c)
	d.CommentCreated(context.Background(), c)
	d.CommentCreated(context.Background(), c)
}

// TestDispatcher_CommentUpdated_OnlyAdded — правка уведомляет только
// добавленных относительно прежнего набора упоминаний.
func TestDispatcher_CommentUpdated_OnlyAdded(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	author := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	created := testComment(author, alice)

	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		Notify(gomock.Any(), created.ID, []uuid.UUID{alice}, created.Entity).
		Return(nil).
		Times(1)
	client.EXPECT().
		Notify(gomock.Any(), created.ID, []uuid.UUID{bob}, created.Entity).
		Return(nil).
		Times(1)

	d := notify.NewDispatcher(client, nil)
	d.CommentCreated(context.Background(), created)

	updated := testComment(author, alice, bob)
	d.CommentUpdated(context.Background(), updated, created.Mentions)
}

// TestDispatcher_CommentUpdated_RemovedThenReadded — пользователь, убранный
// из упоминаний и добавленный обратно, повторно не уведомляется: ключ
// идемпотентности живёт, пока жив комментарий.
func TestDispatcher_CommentUpdated_RemovedThenReadded(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	author := uuid.New()
	alice := uuid.New()

	created := testComment(author, alice)

	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		Notify(gomock.Any(), created.ID, []uuid.UUID{alice}, created.Entity).
		Return(nil).
		Times(1)

	d := notify.NewDispatcher(client, nil)
	d.CommentCreated(context.Background(), created)

	removed := testComment(author)
	d.CommentUpdated(context.Background(), removed, created.Mentions)

	readded := testComment(author, alice)
	d.CommentUpdated(context.Background(), readded, removed.Mentions)
}

// TestDispatcher_AuthorNeverNotified — упоминание самого себя не уведомляется.
func TestDispatcher_AuthorNeverNotified(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	author := uuid.New()
	c := testComment(author, author)

	client := mocks.NewMockClient(ctrl)

	d := notify.NewDispatcher(client, nil)
	d.CommentCreated(context.Background(), c)
}

// TestDispatcher_NoMentions_NoCall — комментарий без упоминаний не дергает
// внешний сервис.
func TestDispatcher_NoMentions_NoCall(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockClient(ctrl)

	d := notify.NewDispatcher(client, nil)
	d.CommentCreated(context.Background(), testComment(uuid.New()))
}

// TestDispatcher_DeliveryFailure_NotRetried — отказ доставки не пробрасывается
// наверх, а пара (комментарий, пользователь) считается обработанной:
// at-most-once, без дубликатов при повторе.
func TestDispatcher_DeliveryFailure_NotRetried(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	author := uuid.New()
	alice := uuid.New()
	c := testComment(author, alice)

	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		Notify(gomock.Any(), c.ID, []uuid.UUID{alice}, c.Entity).
		Return(errors.New("delivery backend down")).
		Times(1)

	d := notify.NewDispatcher(client, nil)
	d.CommentCreated(context.Background(), c)
	d.CommentCreated(context.Background(), c)
}

// TestDispatcher_Forget — после Forget учёт идемпотентности по комментарию
// сбрасывается и доставка возможна снова.
func TestDispatcher_Forget(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	author := uuid.New()
	alice := uuid.New()
	c := testComment(author, alice)

	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		Notify(gomock.Any(), c.ID, []uuid.UUID{alice}, c.Entity).
		Return(nil).
		Times(2)

	d := notify.NewDispatcher(client, nil)
	d.CommentCreated(context.Background(), c)
	d.Forget(c.ID)
	d.CommentCreated(context.Background(), c)

	require.NotPanics(t, func() { d.Forget("unknown") })
}
