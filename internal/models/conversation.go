package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultConversationTitle is given to conversations created without a title.
const DefaultConversationTitle = "New conversation"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Preview is the latest message of a conversation, shown in the conversation list.
type Preview struct {
	Content string `json:"content"`
	Role    Role   `json:"role"`
}

type ConversationSummary struct {
	Conversation
	Preview *Preview `json:"preview,omitempty"`
}

// ChatEntry is the role/content projection of a message sent to the completion provider.
type ChatEntry struct {
	Role    Role
	Content string
}

// Turn is one user message and its paired assistant reply.
type Turn struct {
	UserMessage      *Message `json:"userMessage"`
	AssistantMessage *Message `json:"aiMessage"`
}

// ValidateMessage checks the content and role of a message about to be stored.
func ValidateMessage(content string, role Role) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: invalid role %q", ErrValidation, role)
	}
	return nil
}

// Entries projects stored messages onto the provider's history format.
func Entries(messages []Message) []ChatEntry {
	entries := make([]ChatEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, ChatEntry{Role: msg.Role, Content: msg.Content})
	}
	return entries
}
