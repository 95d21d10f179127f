package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/matrixchat/internal/models"
)

// Store persists conversations and their messages.
//
// Missing conversations are reported with an error wrapping models.ErrNotFound,
// rejected input with models.ErrValidation and anything the backend fails on with a
// *StorageError.
type Store interface {
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id int64) error
	UpdateConversationTitle(ctx context.Context, id int64, title string) error
	// SaveMessage inserts the message and touches the owning conversation's
	// updated_at in the same transaction.
	SaveMessage(ctx context.Context, content string, role models.Role, conversationID int64) (*models.Message, error)
	// ListMessages returns an empty slice for a conversation without messages and
	// models.ErrNotFound for a conversation that does not exist.
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	Close() error
}

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func notFound(id int64) error {
	return fmt.Errorf("conversation %d: %w", id, models.ErrNotFound)
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the source of created_at and updated_at values.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func titleOrDefault(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return models.DefaultConversationTitle
}

// Lazy is a Store that opens its backend on first use. The backend is opened at most
// once; if opening fails every later call returns the same error.
type Lazy struct {
	open func() (Store, error)

	once  sync.Once
	store Store
	err   error
}

func NewLazy(open func() (Store, error)) *Lazy {
	return &Lazy{open: open}
}

func (l *Lazy) get() (Store, error) {
	l.once.Do(func() {
		l.store, l.err = l.open()
		if l.err != nil {
			l.err = storageErr("open", l.err)
		}
	})
	return l.store, l.err
}

func (l *Lazy) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.CreateConversation(ctx, title)
}

func (l *Lazy) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.ListConversations(ctx)
}

func (l *Lazy) DeleteConversation(ctx context.Context, id int64) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.DeleteConversation(ctx, id)
}

func (l *Lazy) UpdateConversationTitle(ctx context.Context, id int64, title string) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return s.UpdateConversationTitle(ctx, id, title)
}

func (l *Lazy) SaveMessage(ctx context.Context, content string, role models.Role, conversationID int64) (*models.Message, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.SaveMessage(ctx, content, role, conversationID)
}

func (l *Lazy) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	return s.ListMessages(ctx, conversationID)
}

// Close closes the backend if it was ever opened.
func (l *Lazy) Close() error {
	l.once.Do(func() {
		l.err = storageErr("open", errors.New("store closed before first use"))
	})
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}
