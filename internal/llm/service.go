package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/RichardoC/matrixchat/internal/metrics"
	"github.com/RichardoC/matrixchat/internal/models"
)

const (
	DefaultPersona     = "You are a friendly and helpful virtual assistant. You answer clearly and concisely."
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
)

var (
	ErrNoChoices    = errors.New("provider returned no choices")
	ErrEmptyContent = errors.New("provider returned empty content")
)

// GatewayError reports a failed completion call, whatever the cause.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("completion gateway: %v", e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Persona     string
	Temperature float64
	MaxTokens   int
	// MaxHistoryTokens caps the prompt size; 0 disables trimming.
	MaxHistoryTokens int
}

type Option func(*Service)

// WithModelFactory replaces the OpenAI-compatible client constructor.
func WithModelFactory(f func() (llms.Model, error)) Option {
	return func(s *Service) {
		s.newModel = f
	}
}

func WithTokenCounter(c TokenCounter) Option {
	return func(s *Service) {
		s.countTokens = c
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service is the completion gateway. The provider client is built on the first call
// and never rebuilt; a construction failure is returned to every caller.
type Service struct {
	cfg         Config
	newModel    func() (llms.Model, error)
	countTokens TokenCounter
	logger      *zap.Logger

	once     sync.Once
	model    llms.Model
	modelErr error
}

// DefaultConfig returns the provider settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Model:       DefaultModel,
		Persona:     DefaultPersona,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// New builds the gateway. Empty persona, model and max tokens fall back to their
// defaults; Temperature is used as given, so 0 means deterministic sampling.
func New(cfg Config, opts ...Option) *Service {
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	s := &Service{
		cfg:         cfg,
		countTokens: TiktokenCounter(),
		logger:      zap.NewNop(),
	}
	s.newModel = func() (llms.Model, error) {
		return openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.Model),
		)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) client() (llms.Model, error) {
	s.once.Do(func() {
		s.model, s.modelErr = s.newModel()
		if s.modelErr != nil {
			s.logger.Error("failed to initialize completion client", zap.Error(s.modelErr))
		}
	})
	return s.model, s.modelErr
}

// Complete sends the persona followed by history and returns the reply text.
// There is exactly one provider call per invocation.
func (s *Service) Complete(ctx context.Context, history []models.ChatEntry) (string, error) {
	model, err := s.client()
	if err != nil {
		return "", &GatewayError{Err: err}
	}

	history = s.trimHistory(history)

	messages := make([]llms.MessageContent, 0, len(history)+1)
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, s.cfg.Persona))
	for _, entry := range history {
		messages = append(messages, llms.TextParts(messageType(entry.Role), entry.Content))
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, messages,
		llms.WithTemperature(s.cfg.Temperature),
		llms.WithMaxTokens(s.cfg.MaxTokens),
	)
	if err != nil {
		metrics.GatewayDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return "", &GatewayError{Err: err}
	}
	metrics.GatewayDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", &GatewayError{Err: ErrNoChoices}
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", &GatewayError{Err: ErrEmptyContent}
	}
	return content, nil
}

func messageType(role models.Role) schema.ChatMessageType {
	if role == models.RoleAssistant {
		return schema.ChatMessageTypeAI
	}
	return schema.ChatMessageTypeHuman
}
