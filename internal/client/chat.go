package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RichardoC/matrixchat/internal/models"
)

type EntryState int

const (
	// Pending entries are local placeholders awaiting the server's copy.
	Pending EntryState = iota
	Confirmed
)

func (s EntryState) String() string {
	if s == Pending {
		return "pending"
	}
	return "confirmed"
}

// Entry is one message as the client shows it. Pending entries are matched back to
// their request by LocalID.
type Entry struct {
	State   EntryState
	LocalID string
	Message models.Message
}

type MessageAPI interface {
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID int64, content string) (*models.Turn, error)
}

// ChatState holds the locally displayed messages of the active conversation.
// All fields are guarded by mu; network calls are made without holding it.
type ChatState struct {
	api   MessageAPI
	now   func() time.Time
	newID func() string

	mu             sync.Mutex
	conversationID int64
	// loaded is false while the entries of conversationID have not been fetched
	// successfully.
	loaded   bool
	entries  []Entry
	inFlight int
	err      error
	// skipID is the conversation whose next load is skipped; 0 when disarmed.
	skipID int64
}

func NewChatState(api MessageAPI) *ChatState {
	return &ChatState{
		api:    api,
		now:    time.Now,
		newID:  func() string { return "temp-" + uuid.NewString() },
		loaded: true,
	}
}

// LoadConversation switches to conversation id and replaces the local messages with
// the server's. An id of 0 clears them. Loading the id the skip token was armed for
// switches without a fetch; any load disarms the token.
func (s *ChatState) LoadConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	skip := s.skipID != 0 && s.skipID == id
	s.skipID = 0
	if skip {
		if s.conversationID != id {
			s.entries = nil
		}
		s.conversationID = id
		s.loaded = true
		s.mu.Unlock()
		return nil
	}
	if id == s.conversationID && s.loaded {
		s.mu.Unlock()
		return nil
	}
	s.conversationID = id
	s.entries = nil
	if id == 0 {
		s.loaded = true
		s.mu.Unlock()
		return nil
	}
	s.loaded = false
	s.inFlight++
	s.mu.Unlock()

	messages, err := s.api.ListMessages(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.conversationID != id {
		// Switched away while loading.
		return err
	}
	if err != nil {
		s.err = err
		return err
	}
	s.entries = make([]Entry, 0, len(messages))
	for _, msg := range messages {
		s.entries = append(s.entries, Entry{State: Confirmed, Message: msg})
	}
	s.loaded = true
	return nil
}

// SendMessage sends content to target, or to the current conversation when target
// is 0. A placeholder is shown until the server answers.
func (s *ChatState) SendMessage(ctx context.Context, content string, target int64) error {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	id := target
	if id == 0 {
		id = s.conversationID
	}
	if id == 0 || content == "" {
		s.mu.Unlock()
		return nil
	}

	localID := s.newID()
	if id == s.conversationID {
		s.entries = append(s.entries, Entry{
			State:   Pending,
			LocalID: localID,
			Message: models.Message{
				ConversationID: id,
				Role:           models.RoleUser,
				Content:        content,
				CreatedAt:      s.now(),
			},
		})
	}
	s.inFlight++
	s.err = nil
	s.mu.Unlock()

	turn, err := s.api.SendMessage(ctx, id, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	s.removeLocked(localID)
	if err != nil {
		s.err = err
		return err
	}
	if s.conversationID == id {
		s.entries = append(s.entries,
			Entry{State: Confirmed, Message: *turn.UserMessage},
			Entry{State: Confirmed, Message: *turn.AssistantMessage})
	}
	return nil
}

func (s *ChatState) removeLocked(localID string) {
	for i, e := range s.entries {
		if e.State == Pending && e.LocalID == localID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// SkipNextLoad makes the next LoadConversation of id switch without fetching. It is
// used right before a freshly created conversation becomes active.
func (s *ChatState) SkipNextLoad(id int64) {
	s.mu.Lock()
	s.skipID = id
	s.mu.Unlock()
}

func (s *ChatState) CancelSkip() {
	s.mu.Lock()
	s.skipID = 0
	s.mu.Unlock()
}

func (s *ChatState) ClearError() {
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
}

func (s *ChatState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ChatState) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

func (s *ChatState) ConversationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Entries returns a snapshot of the local messages in display order.
func (s *ChatState) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
