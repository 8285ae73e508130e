package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ionology/docqa/internal/domain"
)

const (
	// DefaultModel is the answer model identifier.
	DefaultModel = "deepseek-chat"
	// DefaultBaseURL points at the DeepSeek OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.deepseek.com/v1"

	answerTemperature = 0.65
	answerMaxTokens   = 700
)

// Message is one turn of chat history passed to the answer model.
type Message struct {
	Role    string
	Content string
}

// ChatAPI is the surface of the underlying chat completion client.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client generates grounded answers through an OpenAI-compatible chat API.
type Client struct {
	api   ChatAPI
	model string
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewClient builds an answer client. A missing API key is a configuration
// error surfaced at call time, not at construction.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	var api ChatAPI
	if cfg.APIKey != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		oc.BaseURL = cfg.BaseURL
		api = openai.NewClientWithConfig(oc)
	}

	return &Client{api: api, model: cfg.Model}
}

// NewClientWithAPI builds a client over an injected chat API, for tests.
func NewClientWithAPI(api ChatAPI, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{api: api, model: model}
}

// Available reports whether the client has credentials to call the model.
func (c *Client) Available() bool {
	return c.api != nil
}

// Answer runs one chat completion: system prompt, prior turns, then the user
// message. Credential failures map to the credential domain errors so callers
// can distinguish configuration problems from transient ones.
func (c *Client) Answer(ctx context.Context, system string, history []Message, user string) (string, error) {
	if c.api == nil {
		return "", domain.ErrMissingAPIKey
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return "", domain.ErrInvalidAPIKey
		}
		return "", fmt.Errorf("answer model request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("answer model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
