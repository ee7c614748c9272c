package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistantbot/internal/model"
)

func TestSessionCreateAndGet(t *testing.T) {
	svc := newTestSessions()

	session, err := svc.Create(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.True(t, strings.HasPrefix(session.Title, "Chat "))
	assert.False(t, session.TitleDerived)

	got, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
}

func TestSessionCreateWithExplicitTitle(t *testing.T) {
	svc := newTestSessions()

	session, err := svc.Create(context.Background(), "Project planning")
	require.NoError(t, err)
	assert.Equal(t, "Project planning", session.Title)
	assert.True(t, session.TitleDerived)

	_, err = svc.Append(context.Background(), session.ID, model.Message{Role: model.RoleUser, Content: "first"})
	require.NoError(t, err)
	got, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Project planning", got.Title)
}

func TestSessionGetUnknown(t *testing.T) {
	svc := newTestSessions()
	_, err := svc.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendAssignsSequence(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()
	session, err := svc.Create(ctx, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		msg, err := svc.Append(ctx, session.ID, model.Message{
			Role:    model.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		assert.Equal(t, i, msg.Seq)
	}

	history, err := svc.History(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, msg := range history {
		assert.Equal(t, i, msg.Seq)
	}
}

func TestAppendValidation(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()
	session, err := svc.Create(ctx, "")
	require.NoError(t, err)

	_, err = svc.Append(ctx, session.ID, model.Message{Role: model.RoleUser, Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Append(ctx, session.ID, model.Message{Role: "narrator", Content: "hi"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Append(ctx, "missing", model.Message{Role: model.RoleUser, Content: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTitleDerivedFromFirstUserMessage(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()
	session, err := svc.Create(ctx, "")
	require.NoError(t, err)

	_, err = svc.Append(ctx, session.ID, model.Message{
		Role:    model.RoleUser,
		Content: "How do goroutines talk to each other through channels in Go?",
	})
	require.NoError(t, err)

	got, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.True(t, got.TitleDerived)
	assert.Equal(t, "How do goroutines talk to ea", got.Title[:28])
	assert.LessOrEqual(t, len([]rune(got.Title)), 30)

	// A later user message must not change the title again.
	_, err = svc.Append(ctx, session.ID, model.Message{Role: model.RoleUser, Content: "Another question entirely"})
	require.NoError(t, err)
	after, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Title, after.Title)
}

func TestRenameBlocksDerivedTitle(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()
	session, err := svc.Create(ctx, "")
	require.NoError(t, err)

	renamed, err := svc.Rename(ctx, session.ID, "My project notes")
	require.NoError(t, err)
	assert.Equal(t, "My project notes", renamed.Title)

	_, err = svc.Append(ctx, session.ID, model.Message{Role: model.RoleUser, Content: "first message"})
	require.NoError(t, err)

	got, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, "My project notes", got.Title)
}

func TestRenameValidation(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()
	session, err := svc.Create(ctx, "")
	require.NoError(t, err)

	_, err = svc.Rename(ctx, session.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Rename(ctx, "missing", "title")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistoryLimitReturnsMostRecent(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()
	session, err := svc.Create(ctx, "")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := svc.Append(ctx, session.ID, model.Message{
			Role:    model.RoleUser,
			Content: fmt.Sprintf("msg %d", i),
		})
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, session.ID, 4)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "msg 6", history[0].Content)
	assert.Equal(t, "msg 9", history[3].Content)
}

func TestListOrdersByActivity(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()

	first, err := svc.Create(ctx, "")
	require.NoError(t, err)
	second, err := svc.Create(ctx, "")
	require.NoError(t, err)

	_, err = svc.Append(ctx, first.ID, model.Message{Role: model.RoleUser, Content: "bump"})
	require.NoError(t, err)

	sessions := svc.List()
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}

func TestDeleteAndClearAll(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()

	session, err := svc.Create(ctx, "")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, session.ID))
	assert.ErrorIs(t, svc.Delete(ctx, session.ID), ErrSessionNotFound)

	_, err = svc.Create(ctx, "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "")
	require.NoError(t, err)
	cleared, err := svc.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)
	assert.Empty(t, svc.List())
}

func TestHydrateRestoresSequence(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()

	session := model.Session{ID: "restored", Title: "Restored"}
	svc.Hydrate([]model.Session{session}, map[string][]model.Message{
		"restored": {
			{SessionID: "restored", Seq: 0, Role: model.RoleUser, Content: "a"},
			{SessionID: "restored", Seq: 1, Role: model.RoleAssistant, Content: "b"},
		},
	})

	msg, err := svc.Append(ctx, "restored", model.Message{Role: model.RoleUser, Content: "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Seq)
}

func TestConcurrentAppendsKeepOrderPerSession(t *testing.T) {
	svc := newTestSessions()
	ctx := context.Background()
	session, err := svc.Create(ctx, "")
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := svc.Append(ctx, session.ID, model.Message{
					Role:    model.RoleUser,
					Content: fmt.Sprintf("w%d-%d", w, i),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	history, err := svc.History(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, writers*perWriter)
	for i, msg := range history {
		assert.Equal(t, i, msg.Seq, "sequence numbers must be dense and ordered")
	}
}
