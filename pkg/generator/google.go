package generator

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

// Google generates through the GenAI API. The client reads GOOGLE_API_KEY or
// GEMINI_API_KEY from the environment.
type Google struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGoogle creates the Google backend.
func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating google genai client")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-pro"
	}
	return &Google{
		client:    client,
		model:     model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (g *Google) Provider() string { return ProviderGoogle }

func (g *Google) Generate(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(req.Instruction)}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(budget(req.MaxTokens, g.maxTokens)),
	}

	resp, err := g.client.Models.GenerateContent(ctx, pick(req.Model, g.model), contents, config)
	if err != nil {
		return "", errors.Wrap(err, "google generate request")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("google response carried no candidates")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		out.WriteString(part.Text)
	}
	return out.String(), nil
}
