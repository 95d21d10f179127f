package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/RichardoC/matrixchat/internal/models"
)

// perMessageTokens approximates the role and separator overhead of a chat message.
const perMessageTokens = 4

type TokenCounter func(text string) (int, error)

// TiktokenCounter counts with the cl100k_base encoding, loaded on first use.
func TiktokenCounter() TokenCounter {
	var (
		once sync.Once
		enc  *tiktoken.Tiktoken
		err  error
	)
	return func(text string) (int, error) {
		once.Do(func() {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		})
		if err != nil {
			return 0, err
		}
		return len(enc.Encode(text, nil, nil)), nil
	}
}

// trimHistory drops the oldest entries until persona plus history fit in
// MaxHistoryTokens. The latest entry is always kept.
func (s *Service) trimHistory(history []models.ChatEntry) []models.ChatEntry {
	if s.cfg.MaxHistoryTokens <= 0 || len(history) <= 1 {
		return history
	}

	personaTokens, err := s.countTokens(s.cfg.Persona)
	if err != nil {
		s.logger.Warn("token count failed, sending full history", zap.Error(err))
		return history
	}
	counts := make([]int, len(history))
	total := personaTokens + perMessageTokens
	for i, entry := range history {
		n, err := s.countTokens(entry.Content)
		if err != nil {
			s.logger.Warn("token count failed, sending full history", zap.Error(err))
			return history
		}
		counts[i] = n + perMessageTokens
		total += counts[i]
	}

	start := 0
	for total > s.cfg.MaxHistoryTokens && start < len(history)-1 {
		total -= counts[start]
		start++
	}
	if start > 0 {
		s.logger.Debug("history trimmed to token budget",
			zap.Int("dropped", start),
			zap.Int("kept", len(history)-start),
			zap.Int("tokens", total))
	}
	return history[start:]
}
