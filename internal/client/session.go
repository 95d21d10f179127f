package client

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// API is everything a Session needs from the server.
type API interface {
	MessageAPI
	ConversationAPI
}

// Session keeps the conversation list and the active chat in step.
type Session struct {
	Chat          *ChatState
	Conversations *ConversationsState
	logger        *zap.Logger
}

func NewSession(api API, logger *zap.Logger) *Session {
	s := &Session{
		Chat:          NewChatState(api),
		Conversations: NewConversationsState(api),
		logger:        logger,
	}
	s.Conversations.OnActiveChange(func(ctx context.Context, id int64) {
		if err := s.Chat.LoadConversation(ctx, id); err != nil {
			s.logger.Warn("Failed to load conversation", zap.Int64("conversationID", id), zap.Error(err))
		}
	})
	return s
}

// Send posts content to the active conversation, creating one first if none is
// active. The conversation list is refreshed afterwards so new titles and ordering
// show up.
func (s *Session) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	id := s.Conversations.ActiveID()
	if id == 0 {
		// The new conversation has no history to fetch; the send below fills the view.
		conv, err := s.Conversations.CreateWith(ctx, "", s.Chat.SkipNextLoad)
		if err != nil {
			return err
		}
		id = conv.ID
	}

	if err := s.Chat.SendMessage(ctx, content, id); err != nil {
		return err
	}

	if err := s.Conversations.Refresh(ctx); err != nil {
		s.logger.Warn("Failed to refresh conversations", zap.Error(err))
	}
	return nil
}
