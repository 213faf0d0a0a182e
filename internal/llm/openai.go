package llm

import (
	"context"
	"fmt"
	"net/http"

	apperrors "trial-screener/internal/common/errors"

	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAI talks to the Responses API. History is kept client-side.
type OpenAI struct {
	client openai.Client
}

func NewOpenAI(apiKey, baseURL string, httpClient *http.Client) *OpenAI {
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, openaioption.WithHTTPClient(httpClient))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

func (o *OpenAI) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	text, err := o.send(ctx, req.Model, req.SystemInstruction, req.Temperature, req.JSONResponse,
		[]Turn{{Role: RoleUser, Text: req.Prompt}})
	if err != nil {
		return "", apperrors.NewUpstreamError(req.Operation, err)
	}
	return text, nil
}

func (o *OpenAI) StartChat(ctx context.Context, req ChatRequest) (ChatSession, error) {
	return &openAIChat{parent: o, req: req}, nil
}

func (o *OpenAI) send(ctx context.Context, model, system string, temperature *float32, jsonResponse bool, history []Turn) (string, error) {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(history))
	for _, turn := range history {
		role := responses.EasyInputMessageRoleUser
		if turn.Role == RoleModel {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(turn.Text, role))
	}

	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}
	if temperature != nil {
		params.Temperature = openai.Float(float64(*temperature))
	}
	if jsonResponse {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
		}
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses: %w", err)
	}
	return resp.OutputText(), nil
}

type openAIChat struct {
	transcript
	parent *OpenAI
	req    ChatRequest
}

func (c *openAIChat) Send(ctx context.Context, text string) (string, error) {
	return c.exchange(ctx, text, func(ctx context.Context, history []Turn) (string, error) {
		reply, err := c.parent.send(ctx, c.req.Model, c.req.SystemInstruction, c.req.Temperature, false, history)
		if err != nil {
			return "", apperrors.NewUpstreamError("chat", err)
		}
		return reply, nil
	})
}
