package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/RichardoC/matrixchat/internal/models"
)

type fakeModel struct {
	reply    string
	err      error
	noChoice bool

	calls    int
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.noChoice {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func newTestService(model *fakeModel, cfg Config, opts ...Option) *Service {
	opts = append([]Option{WithModelFactory(func() (llms.Model, error) { return model, nil })}, opts...)
	return New(cfg, opts...)
}

func textOf(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestCompletePrependsPersona(t *testing.T) {
	model := &fakeModel{reply: "  Bonjour!  "}
	svc := newTestService(model, DefaultConfig())

	reply, err := svc.Complete(context.Background(), []models.ChatEntry{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "how are you?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour!", reply)

	require.Len(t, model.messages, 4)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, DefaultPersona, textOf(t, model.messages[0]))
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, schema.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, "how are you?", textOf(t, model.messages[3]))

	assert.Equal(t, DefaultTemperature, model.opts.Temperature)
	assert.Equal(t, DefaultMaxTokens, model.opts.MaxTokens)
}

func TestCompleteKeepsZeroTemperature(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	cfg := DefaultConfig()
	cfg.Temperature = 0
	svc := newTestService(model, cfg)

	_, err := svc.Complete(context.Background(), []models.ChatEntry{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Zero(t, model.opts.Temperature)
	assert.Equal(t, DefaultMaxTokens, model.opts.MaxTokens)
}

func TestCompletePersonaFirstWithEmptyHistory(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	svc := newTestService(model, Config{Persona: "Be terse."})

	_, err := svc.Complete(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, model.messages, 1)
	assert.Equal(t, "Be terse.", textOf(t, model.messages[0]))
}

func TestCompleteErrors(t *testing.T) {
	history := []models.ChatEntry{{Role: models.RoleUser, Content: "hi"}}

	tests := []struct {
		name   string
		model  *fakeModel
		target error
	}{
		{name: "provider failure", model: &fakeModel{err: errors.New("503")}},
		{name: "no choices", model: &fakeModel{noChoice: true}, target: ErrNoChoices},
		{name: "blank content", model: &fakeModel{reply: " \n"}, target: ErrEmptyContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.model, Config{})
			_, err := svc.Complete(context.Background(), history)
			var gwErr *GatewayError
			require.ErrorAs(t, err, &gwErr)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			assert.Equal(t, 1, tt.model.calls)
		})
	}
}

func TestClientBuiltOnce(t *testing.T) {
	builds := 0
	model := &fakeModel{reply: "ok"}
	svc := New(Config{}, WithModelFactory(func() (llms.Model, error) {
		builds++
		return model, nil
	}))
	assert.Equal(t, 0, builds)

	for i := 0; i < 3; i++ {
		_, err := svc.Complete(context.Background(), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, builds)
}

func TestClientBuildFailureIsSticky(t *testing.T) {
	builds := 0
	svc := New(Config{}, WithModelFactory(func() (llms.Model, error) {
		builds++
		return nil, errors.New("missing api key")
	}))

	for i := 0; i < 2; i++ {
		_, err := svc.Complete(context.Background(), nil)
		var gwErr *GatewayError
		assert.ErrorAs(t, err, &gwErr)
	}
	assert.Equal(t, 1, builds)
}

// wordCounter counts whitespace separated words, standing in for a real tokenizer.
func wordCounter(text string) (int, error) {
	return len(strings.Fields(text)), nil
}

func TestTrimHistoryDropsOldestEntries(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	// persona 2 words + 4 overhead = 6; each entry 3 words + 4 overhead = 7
	svc := newTestService(model, Config{Persona: "be nice", MaxHistoryTokens: 20}, WithTokenCounter(wordCounter))

	history := []models.ChatEntry{
		{Role: models.RoleUser, Content: "one two three"},
		{Role: models.RoleAssistant, Content: "four five six"},
		{Role: models.RoleUser, Content: "seven eight nine"},
	}
	_, err := svc.Complete(context.Background(), history)
	require.NoError(t, err)

	require.Len(t, model.messages, 3)
	assert.Equal(t, "be nice", textOf(t, model.messages[0]))
	assert.Equal(t, "four five six", textOf(t, model.messages[1]))
	assert.Equal(t, "seven eight nine", textOf(t, model.messages[2]))
}

func TestTrimHistoryKeepsLatestEntry(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	svc := newTestService(model, Config{MaxHistoryTokens: 1}, WithTokenCounter(wordCounter))

	history := []models.ChatEntry{
		{Role: models.RoleUser, Content: "old message"},
		{Role: models.RoleUser, Content: "latest message"},
	}
	_, err := svc.Complete(context.Background(), history)
	require.NoError(t, err)
	require.Len(t, model.messages, 2)
	assert.Equal(t, "latest message", textOf(t, model.messages[1]))
}

func TestTrimHistoryCounterFailureSendsAll(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	failing := func(string) (int, error) { return 0, errors.New("no encoding") }
	svc := newTestService(model, Config{MaxHistoryTokens: 1}, WithTokenCounter(failing))

	history := []models.ChatEntry{
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleAssistant, Content: "b"},
	}
	_, err := svc.Complete(context.Background(), history)
	require.NoError(t, err)
	assert.Len(t, model.messages, 3)
}
