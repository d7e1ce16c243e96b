package generator

import (
	"context"
	"os"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI generates through the chat completions API. OPENAI_API_KEY is
// required; OPENAI_API_BASE points the client at a compatible gateway.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates the OpenAI backend.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable is required")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_API_BASE"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4.1"
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (g *OpenAI) Provider() string { return ProviderOpenAI }

func (g *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     pick(req.Model, g.model),
		MaxTokens: budget(req.MaxTokens, g.maxTokens),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Instruction},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "openai chat completion request")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai response carried no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
