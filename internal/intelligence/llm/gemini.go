package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiGenerator calls Google's Gemini models through generative-ai-go.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*GeminiGenerator, error) {
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "llm.gemini").Logger(),
	}, nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	model := g.client.GenerativeModel(g.model)
	if req.JSON || req.Schema != nil {
		model.ResponseMIMEType = "application/json"
	}
	if req.Instructions != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Instructions)}}
	}

	parts := []genai.Part{genai.Text(req.Prompt)}
	for _, a := range req.Attachments {
		parts = append(parts, genai.Blob{MIMEType: a.MIMEType, Data: a.Data})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		g.logger.Warn().Str("model", g.model).Msg("response truncated at max tokens")
	}
	return sb.String(), nil
}
