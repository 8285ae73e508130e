package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionology/docqa/internal/domain"
)

type mockChatAPI struct {
	resp openai.ChatCompletionResponse
	err  error
	req  openai.ChatCompletionRequest
}

func (m *mockChatAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.req = req
	return m.resp, m.err
}

func TestAnswer_MissingAPIKey(t *testing.T) {
	c := NewClient(Config{})
	assert.False(t, c.Available())

	_, err := c.Answer(context.Background(), "system", nil, "question")
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)
}

func TestAnswer_Success(t *testing.T) {
	api := &mockChatAPI{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "the answer"}},
		},
	}}
	c := NewClientWithAPI(api, "")

	got, err := c.Answer(context.Background(), "sys", []Message{
		{Role: openai.ChatMessageRoleUser, Content: "earlier"},
	}, "question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", got)

	require.Len(t, api.req.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, api.req.Messages[0].Role)
	assert.Equal(t, "earlier", api.req.Messages[1].Content)
	assert.Equal(t, "question", api.req.Messages[2].Content)
	assert.Equal(t, DefaultModel, api.req.Model)
	assert.InDelta(t, 0.65, api.req.Temperature, 0.001)
	assert.Equal(t, 700, api.req.MaxTokens)
}

func TestAnswer_Unauthorized(t *testing.T) {
	api := &mockChatAPI{err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}}
	c := NewClientWithAPI(api, "")

	_, err := c.Answer(context.Background(), "sys", nil, "question")
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)
}

func TestAnswer_TransientError(t *testing.T) {
	api := &mockChatAPI{err: errors.New("connection reset")}
	c := NewClientWithAPI(api, "")

	_, err := c.Answer(context.Background(), "sys", nil, "question")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidAPIKey)
}

func TestAnswer_NoChoices(t *testing.T) {
	api := &mockChatAPI{}
	c := NewClientWithAPI(api, "")

	_, err := c.Answer(context.Background(), "sys", nil, "question")
	assert.Error(t, err)
}
