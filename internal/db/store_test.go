package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/RichardoC/matrixchat/internal/models"
)

// tickingClock advances one second per reading so ordering never depends on timer
// resolution.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), WithClock(tickingClock()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newPostgresStore only runs against a live database; supply its DSN via
// TEST_MATRIXCHAT_POSTGRES_DSN.
func newPostgresStore(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("TEST_MATRIXCHAT_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_MATRIXCHAT_POSTGRES_DSN environment variable is not set; skipping database tests")
	}
	s, err := NewPostgres(dsn, logger.Silent, WithClock(tickingClock()))
	require.NoError(t, err)
	require.NoError(t, s.DB.Exec("TRUNCATE messages, conversations RESTART IDENTITY CASCADE").Error)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, newSQLiteStore)
}

func TestPostgresStore(t *testing.T) {
	runStoreTests(t, newPostgresStore)
}

func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create uses default title", func(t *testing.T) {
		s := newStore(t)
		conv, err := s.CreateConversation(ctx, "  ")
		require.NoError(t, err)
		assert.NotZero(t, conv.ID)
		assert.Equal(t, models.DefaultConversationTitle, conv.Title)
		assert.False(t, conv.CreatedAt.IsZero())
		assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)

		named, err := s.CreateConversation(ctx, "Travel plans")
		require.NoError(t, err)
		assert.Equal(t, "Travel plans", named.Title)
	})

	t.Run("messages are listed in creation order", func(t *testing.T) {
		s := newStore(t)
		conv, err := s.CreateConversation(ctx, "")
		require.NoError(t, err)

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		contents := []string{"one", "two", "three", "four"}
		for i, c := range contents {
			role := models.RoleUser
			if i%2 == 1 {
				role = models.RoleAssistant
			}
			_, err := s.SaveMessage(ctx, c, role, conv.ID)
			require.NoError(t, err)
		}

		msgs, err = s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, len(contents))
		for i, msg := range msgs {
			assert.Equal(t, contents[i], msg.Content)
			assert.Equal(t, conv.ID, msg.ConversationID)
		}
		assert.Equal(t, models.RoleUser, msgs[0].Role)
		assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	})

	t.Run("save message touches conversation", func(t *testing.T) {
		s := newStore(t)
		conv, err := s.CreateConversation(ctx, "")
		require.NoError(t, err)

		msg, err := s.SaveMessage(ctx, "hello", models.RoleUser, conv.ID)
		require.NoError(t, err)
		assert.NotZero(t, msg.ID)

		list, err := s.ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, list[0].UpdatedAt.After(conv.UpdatedAt))
		assert.False(t, list[0].UpdatedAt.Before(msg.CreatedAt))
	})

	t.Run("save message validation", func(t *testing.T) {
		s := newStore(t)
		conv, err := s.CreateConversation(ctx, "")
		require.NoError(t, err)

		_, err = s.SaveMessage(ctx, "   \n", models.RoleUser, conv.ID)
		assert.ErrorIs(t, err, models.ErrValidation)

		_, err = s.SaveMessage(ctx, "hi", models.Role("system"), conv.ID)
		assert.ErrorIs(t, err, models.ErrValidation)

		_, err = s.SaveMessage(ctx, "hi", models.RoleUser, conv.ID+1000)
		assert.ErrorIs(t, err, models.ErrNotFound)

		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("list conversations orders by updated at with preview", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateConversation(ctx, "A")
		require.NoError(t, err)
		b, err := s.CreateConversation(ctx, "B")
		require.NoError(t, err)
		empty, err := s.CreateConversation(ctx, "empty")
		require.NoError(t, err)

		_, err = s.SaveMessage(ctx, "first in a", models.RoleUser, a.ID)
		require.NoError(t, err)
		_, err = s.SaveMessage(ctx, "reply in b", models.RoleAssistant, b.ID)
		require.NoError(t, err)

		list, err := s.ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, b.ID, list[0].ID)
		assert.Equal(t, a.ID, list[1].ID)
		assert.Equal(t, empty.ID, list[2].ID)

		require.NotNil(t, list[0].Preview)
		assert.Equal(t, "reply in b", list[0].Preview.Content)
		assert.Equal(t, models.RoleAssistant, list[0].Preview.Role)
		require.NotNil(t, list[1].Preview)
		assert.Equal(t, "first in a", list[1].Preview.Content)
		assert.Nil(t, list[2].Preview)

		_, err = s.SaveMessage(ctx, "later in a", models.RoleAssistant, a.ID)
		require.NoError(t, err)
		list, err = s.ListConversations(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.ID, list[0].ID)
		assert.Equal(t, "later in a", list[0].Preview.Content)
	})

	t.Run("delete cascades to messages", func(t *testing.T) {
		s := newStore(t)
		conv, err := s.CreateConversation(ctx, "")
		require.NoError(t, err)
		other, err := s.CreateConversation(ctx, "")
		require.NoError(t, err)
		for _, c := range []string{"a", "b", "c"} {
			_, err := s.SaveMessage(ctx, c, models.RoleUser, conv.ID)
			require.NoError(t, err)
		}
		_, err = s.SaveMessage(ctx, "kept", models.RoleUser, other.ID)
		require.NoError(t, err)

		require.NoError(t, s.DeleteConversation(ctx, conv.ID))

		_, err = s.ListMessages(ctx, conv.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		err = s.DeleteConversation(ctx, conv.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		msgs, err := s.ListMessages(ctx, other.ID)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("update title", func(t *testing.T) {
		s := newStore(t)
		conv, err := s.CreateConversation(ctx, "")
		require.NoError(t, err)

		require.NoError(t, s.UpdateConversationTitle(ctx, conv.ID, "Renamed"))
		list, err := s.ListConversations(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", list[0].Title)

		assert.ErrorIs(t, s.UpdateConversationTitle(ctx, conv.ID+1000, "x"), models.ErrNotFound)
		assert.ErrorIs(t, s.UpdateConversationTitle(ctx, conv.ID, " "), models.ErrValidation)
	})
}

func TestSQLiteStoreClosedReturnsStorageError(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.CreateConversation(context.Background(), "")
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "create conversation", se.Op)
}

func TestLazyOpensOnce(t *testing.T) {
	calls := 0
	lazy := NewLazy(func() (Store, error) {
		calls++
		return NewSQLite(filepath.Join(t.TempDir(), "lazy.db"))
	})
	defer lazy.Close()
	assert.Equal(t, 0, calls)

	ctx := context.Background()
	conv, err := lazy.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = lazy.SaveMessage(ctx, "hi", models.RoleUser, conv.ID)
	require.NoError(t, err)
	msgs, err := lazy.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 1, calls)
}

func TestLazyOpenFailureIsSticky(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	lazy := NewLazy(func() (Store, error) {
		calls++
		return nil, boom
	})

	ctx := context.Background()
	_, err := lazy.ListConversations(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = lazy.CreateConversation(ctx, "")
	assert.ErrorIs(t, err, boom)
	var se *StorageError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, 1, calls)
	assert.NoError(t, lazy.Close())
}

func TestLazyCloseBeforeUse(t *testing.T) {
	lazy := NewLazy(func() (Store, error) {
		t.Fatal("store should not be opened")
		return nil, nil
	})
	require.NoError(t, lazy.Close())
	_, err := lazy.ListConversations(context.Background())
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mongo", "x", "")
	assert.Error(t, err)
}

func TestParseGormLogLevel(t *testing.T) {
	level, err := ParseGormLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, logger.Warn, level)

	_, err = ParseGormLogLevel("loud")
	assert.Error(t, err)
}
