package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel  = openai.GPT4oMini
	defaultReplyTimeout = 4 * time.Second
	defaultMaxTokens    = 120
	defaultTemperature  = 0.7
	maxReplyRunes       = 600
)

// ChatCompleter is the slice of the OpenAI client this provider needs.
// Kept as an interface for testability.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider generates replies through the OpenAI chat API. Each
// call is a single attempt under a hard deadline well below the voice
// gateway's own per-turn timeout, so a slow backend can never stall
// the webhook response past the point of falling back.
type OpenAIProvider struct {
	client      ChatCompleter
	model       string
	timeout     time.Duration
	maxTokens   int
	temperature float32
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API. Required unless a
	// client is injected via NewOpenAIProviderWithClient.
	APIKey string
	// Model is the chat model name (default: gpt-4o-mini).
	Model string
	// Timeout is the per-call hard deadline (default: 4s).
	Timeout time.Duration
	// MaxTokens bounds reply length (default: 120).
	MaxTokens int
	// Temperature controls sampling randomness (default: 0.7).
	Temperature float64
}

// NewOpenAIProvider creates a provider with a real OpenAI client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	return NewOpenAIProviderWithClient(openai.NewClient(cfg.APIKey), cfg), nil
}

// NewOpenAIProviderWithClient creates a provider around an existing
// client (useful for testing).
func NewOpenAIProviderWithClient(client ChatCompleter, cfg OpenAIConfig) *OpenAIProvider {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := float32(cfg.Temperature)
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	return &OpenAIProvider{
		client:      client,
		model:       model,
		timeout:     timeout,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// GenerateReply produces the next assistant line. All failures come
// back as *ProviderError; nothing is retried here.
func (p *OpenAIProvider) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := req.Messages()
	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    chatMessages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", p.translateError(err)
	}

	if len(resp.Choices) == 0 {
		return "", NewProviderError(p.Name(), ErrorCodeMalformed, "no choices in response", nil)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", NewProviderError(p.Name(), ErrorCodeMalformed, "empty reply content", nil)
	}
	if runes := []rune(reply); len(runes) > maxReplyRunes {
		reply = string(runes[:maxReplyRunes])
	}
	return reply, nil
}

func (p *OpenAIProvider) translateError(err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProviderError(p.Name(), ErrorCodeTimeout, err.Error(), err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ErrorCodeUnknown
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			code = ErrorCodeAuthentication
		case http.StatusTooManyRequests:
			code = ErrorCodeRateLimit
		case http.StatusBadRequest, http.StatusNotFound:
			code = ErrorCodeInvalidRequest
		default:
			if apiErr.HTTPStatusCode >= 500 {
				code = ErrorCodeServerError
			}
		}
		perr := NewProviderError(p.Name(), code, apiErr.Message, err)
		perr.StatusCode = apiErr.HTTPStatusCode
		return perr
	}

	return NewProviderError(p.Name(), ErrorCodeUnknown, err.Error(), err)
}
