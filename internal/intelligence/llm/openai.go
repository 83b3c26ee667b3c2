package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/rs/zerolog"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIGenerator calls the OpenAI Responses API.
type OpenAIGenerator struct {
	client    openai.Client
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

func NewOpenAIGenerator(apiKey, model string, logger zerolog.Logger) *OpenAIGenerator {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIGenerator{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 4096,
		logger:    logger.With().Str("component", "llm.openai").Logger(),
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	params := responses.ResponseNewParams{
		Model:           g.model,
		MaxOutputTokens: openai.Int(g.maxTokens),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(openAIContent(req), responses.EasyInputMessageRoleUser),
			},
		},
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if req.Schema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   req.Schema.Name,
					Schema: req.Schema.Definition,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	resp, err := g.client.Responses.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", fmt.Errorf("openai responses: %w", err)
	}

	text := resp.OutputText()
	g.logger.Debug().Str("model", g.model).Int("chars", len(text)).Msg("response received")
	return text, nil
}

func openAIContent(req Request) responses.ResponseInputMessageContentListParam {
	content := responses.ResponseInputMessageContentListParam{
		{OfInputText: &responses.ResponseInputTextParam{Text: req.Prompt}},
	}
	for _, a := range req.Attachments {
		dataURL := "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
		if strings.HasPrefix(a.MIMEType, "image/") {
			content = append(content, responses.ResponseInputContentUnionParam{
				OfInputImage: &responses.ResponseInputImageParam{
					Detail:   responses.ResponseInputImageDetailAuto,
					ImageURL: openai.String(dataURL),
				},
			})
			continue
		}
		content = append(content, responses.ResponseInputContentUnionParam{
			OfInputFile: &responses.ResponseInputFileParam{
				FileData: openai.String(dataURL),
				Filename: openai.String(a.Name),
			},
		})
	}
	return content
}
