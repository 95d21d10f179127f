package client

import (
	"context"
	"sync"

	"github.com/RichardoC/matrixchat/internal/models"
)

type ConversationAPI interface {
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
}

// ConversationsState tracks the conversation list and which entry is active.
type ConversationsState struct {
	api ConversationAPI

	mu             sync.Mutex
	conversations  []models.ConversationSummary
	activeID       int64
	inFlight       int
	onActiveChange func(ctx context.Context, id int64)
}

func NewConversationsState(api ConversationAPI) *ConversationsState {
	return &ConversationsState{api: api}
}

// OnActiveChange registers fn to run, outside the state lock, whenever the active
// conversation changes or is selected again.
func (s *ConversationsState) OnActiveChange(fn func(ctx context.Context, id int64)) {
	s.mu.Lock()
	s.onActiveChange = fn
	s.mu.Unlock()
}

// Load fetches the list and selects the most recent conversation if none is active.
func (s *ConversationsState) Load(ctx context.Context) error {
	list, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conversations = list
	var selected int64
	if s.activeID == 0 && len(list) > 0 {
		selected = list[0].ID
		s.activeID = selected
	}
	hook := s.onActiveChange
	s.mu.Unlock()

	if selected != 0 && hook != nil {
		hook(ctx, selected)
	}
	return nil
}

// Refresh replaces the list without touching the selection.
func (s *ConversationsState) Refresh(ctx context.Context) error {
	list, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conversations = list
	s.mu.Unlock()
	return nil
}

func (s *ConversationsState) fetch(ctx context.Context) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()

	list, err := s.api.ListConversations(ctx)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return list, err
}

// Create adds a conversation at the top of the list and makes it active.
func (s *ConversationsState) Create(ctx context.Context, title string) (*models.Conversation, error) {
	return s.CreateWith(ctx, title, nil)
}

// CreateWith is Create with beforeActivate called with the new id after the server
// has created it and before it becomes active.
func (s *ConversationsState) CreateWith(ctx context.Context, title string, beforeActivate func(id int64)) (*models.Conversation, error) {
	conv, err := s.api.CreateConversation(ctx, title)
	if err != nil {
		return nil, err
	}
	if beforeActivate != nil {
		beforeActivate(conv.ID)
	}

	s.mu.Lock()
	s.conversations = append([]models.ConversationSummary{{Conversation: *conv}}, s.conversations...)
	s.activeID = conv.ID
	hook := s.onActiveChange
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, conv.ID)
	}
	return conv, nil
}

// Delete removes a conversation. Deleting the active one selects the first remaining,
// or none.
func (s *ConversationsState) Delete(ctx context.Context, id int64) error {
	if err := s.api.DeleteConversation(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	remaining := s.conversations[:0:0]
	for _, c := range s.conversations {
		if c.ID != id {
			remaining = append(remaining, c)
		}
	}
	s.conversations = remaining

	changed := s.activeID == id
	if changed {
		s.activeID = 0
		if len(remaining) > 0 {
			s.activeID = remaining[0].ID
		}
	}
	next := s.activeID
	hook := s.onActiveChange
	s.mu.Unlock()

	if changed && hook != nil {
		hook(ctx, next)
	}
	return nil
}

// Select makes id active. Selecting the active conversation again runs the hook too,
// so a view whose load failed can be retried.
func (s *ConversationsState) Select(ctx context.Context, id int64) {
	s.mu.Lock()
	s.activeID = id
	hook := s.onActiveChange
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, id)
	}
}

func (s *ConversationsState) ActiveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *ConversationsState) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

func (s *ConversationsState) Conversations() []models.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationSummary, len(s.conversations))
	copy(out, s.conversations)
	return out
}
