// Package chat runs a user turn against the store and the completion gateway.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/RichardoC/matrixchat/internal/db"
	"github.com/RichardoC/matrixchat/internal/metrics"
	"github.com/RichardoC/matrixchat/internal/models"
)

const (
	// FallbackReply is stored as the assistant message when the provider fails.
	FallbackReply = "Sorry, I could not generate a response."

	titleMaxRunes = 40
	titleEllipsis = "..."
)

// Completer turns a conversation history into a reply.
type Completer interface {
	Complete(ctx context.Context, history []models.ChatEntry) (string, error)
}

type Service struct {
	store     db.Store
	completer Completer
	logger    *zap.Logger
}

func NewService(store db.Store, completer Completer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		completer: completer,
		logger:    logger,
	}
}

// HandleUserTurn stores the user message, asks the gateway for a reply and stores it.
// The first turn of a conversation also renames it after the user message.
//
// The two message writes are separate transactions: if the process dies between them
// the conversation keeps a user message without a reply.
func (s *Service) HandleUserTurn(ctx context.Context, message string, conversationID int64) (*models.Turn, error) {
	text := strings.TrimSpace(message)
	if text == "" {
		metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: message is empty", models.ErrValidation)
	}
	if conversationID <= 0 {
		metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: conversation id is required", models.ErrValidation)
	}

	log := s.logger.With(zap.Int64("conversationID", conversationID))

	userMsg, err := s.store.SaveMessage(ctx, text, models.RoleUser, conversationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			metrics.TurnsTotal.WithLabelValues("rejected").Inc()
		} else {
			metrics.TurnsTotal.WithLabelValues("failed").Inc()
			log.Error("failed to save user message", zap.Error(err))
		}
		return nil, err
	}

	// Once the user message is committed the turn is finished even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	history, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		log.Error("failed to load history", zap.Error(err))
		return nil, err
	}

	reply, err := s.completer.Complete(ctx, models.Entries(history))
	switch {
	case err != nil:
		metrics.FallbackRepliesTotal.Inc()
		log.Warn("completion failed, using fallback reply", zap.Error(err))
		reply = FallbackReply
	case strings.TrimSpace(reply) == "":
		metrics.FallbackRepliesTotal.Inc()
		log.Warn("completion returned no content, using fallback reply")
		reply = FallbackReply
	}

	aiMsg, err := s.store.SaveMessage(ctx, reply, models.RoleAssistant, conversationID)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		log.Error("failed to save assistant message", zap.Error(err), zap.Int64("userMessageID", userMsg.ID))
		return nil, err
	}

	if len(history) <= 1 {
		title := TitleFrom(text)
		if err := s.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
			log.Warn("failed to rename conversation", zap.Error(err))
		} else {
			metrics.TitleRenamesTotal.Inc()
			log.Debug("conversation renamed", zap.String("title", title))
		}
	}

	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	log.Info("turn completed",
		zap.Int64("userMessageID", userMsg.ID),
		zap.Int64("assistantMessageID", aiMsg.ID),
		zap.Int("historyLength", len(history)))

	return &models.Turn{UserMessage: userMsg, AssistantMessage: aiMsg}, nil
}

// TitleFrom derives a conversation title from its first message.
func TitleFrom(message string) string {
	runes := []rune(strings.TrimSpace(message))
	if len(runes) <= titleMaxRunes {
		return string(runes)
	}
	return string(runes[:titleMaxRunes]) + titleEllipsis
}
