package generator

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/pkg/errors"
)

// Anthropic generates through the Messages API. Auth comes from
// ANTHROPIC_API_KEY in the environment, handled by the SDK.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic creates the Anthropic backend. Defaults are applied when the
// config leaves the model or token budget unset.
func NewAnthropic(cfg Config) *Anthropic {
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Anthropic{
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}
}

func (g *Anthropic) Provider() string { return ProviderAnthropic }

func (g *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		MaxTokens: int64(budget(req.MaxTokens, g.maxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Instruction)),
		},
		Model: anthropic.Model(pick(req.Model, g.model)),
	})
	if err != nil {
		return "", errors.Wrap(err, "anthropic message request")
	}

	var out strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(text.Text)
		}
	}
	return out.String(), nil
}
