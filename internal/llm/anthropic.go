package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "trial-screener/internal/common/errors"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

// Anthropic talks to the Messages API. History is kept client-side.
type Anthropic struct {
	client anthropic.Client
}

func NewAnthropic(apiKey, baseURL string, httpClient *http.Client) *Anthropic {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, anthropicoption.WithHTTPClient(httpClient))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

func (a *Anthropic) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	text, err := a.send(ctx, req.Model, req.SystemInstruction, req.Temperature, []Turn{{Role: RoleUser, Text: req.Prompt}})
	if err != nil {
		return "", apperrors.NewUpstreamError(req.Operation, err)
	}
	return text, nil
}

func (a *Anthropic) StartChat(ctx context.Context, req ChatRequest) (ChatSession, error) {
	return &anthropicChat{parent: a, req: req}, nil
}

func (a *Anthropic) send(ctx context.Context, model, system string, temperature *float32, history []Turn) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: anthropicMaxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(history)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if temperature != nil {
		params.Temperature = anthropic.Float(float64(*temperature))
	}
	for _, turn := range history {
		block := anthropic.NewTextBlock(turn.Text)
		if turn.Role == RoleModel {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var out strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", errors.New("no text content in anthropic response")
	}
	return out.String(), nil
}

type anthropicChat struct {
	transcript
	parent *Anthropic
	req    ChatRequest
}

func (c *anthropicChat) Send(ctx context.Context, text string) (string, error) {
	return c.exchange(ctx, text, func(ctx context.Context, history []Turn) (string, error) {
		reply, err := c.parent.send(ctx, c.req.Model, c.req.SystemInstruction, c.req.Temperature, history)
		if err != nil {
			return "", apperrors.NewUpstreamError("chat", err)
		}
		return reply, nil
	})
}
