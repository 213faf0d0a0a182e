package llm

import (
	"context"
	"fmt"
	"net/http"

	apperrors "trial-screener/internal/common/errors"

	"google.golang.org/genai"
)

// Gemini talks to the Gemini API. Chat history is held by the SDK's Chat.
type Gemini struct {
	client *genai.Client
}

func NewGemini(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
	}
	if req.JSONResponse {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	res, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", apperrors.NewUpstreamError(req.Operation, fmt.Errorf("gemini generate content: %w", err))
	}
	return res.Text(), nil
}

func (g *Gemini) StartChat(ctx context.Context, req ChatRequest) (ChatSession, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:       req.Temperature,
		SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
	}

	chat, err := g.client.Chats.Create(ctx, req.Model, cfg, nil)
	if err != nil {
		return nil, apperrors.NewUpstreamError("chat", fmt.Errorf("gemini create chat: %w", err))
	}
	return &geminiChat{chat: chat}, nil
}

type geminiChat struct {
	chat *genai.Chat
}

func (c *geminiChat) Send(ctx context.Context, text string) (string, error) {
	res, err := c.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", apperrors.NewUpstreamError("chat", fmt.Errorf("gemini send message: %w", err))
	}
	return res.Text(), nil
}

// Close is a no-op; the SDK chat only holds history in memory.
func (c *geminiChat) Close() error {
	return nil
}
