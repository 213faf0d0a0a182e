// Package llm is the provider-neutral interface to the hosted language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"trial-screener/internal/common/config"
)

// ErrNotConfigured is returned by New when no credential is present.
var ErrNotConfigured = errors.New("API_KEY not configured")

// Client is a text-in/text-out model service.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	StartChat(ctx context.Context, req ChatRequest) (ChatSession, error)
}

// ChatSession is one multi-turn conversation. Send must not be called
// concurrently on the same session.
type ChatSession interface {
	Send(ctx context.Context, text string) (string, error)
	Close() error
}

type GenerateRequest struct {
	// Operation labels metrics and spans, e.g. "classify".
	Operation         string
	Model             string
	Prompt            string
	SystemInstruction string
	Temperature       *float32
	// JSONResponse asks the provider for a JSON-only response where supported.
	JSONResponse bool
}

type ChatRequest struct {
	Model             string
	SystemInstruction string
	Temperature       *float32
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of a conversation transcript.
type Turn struct {
	Role Role
	Text string
}

// New builds the client for cfg.Provider. httpClient may be nil.
func New(ctx context.Context, cfg config.LLMConfig, httpClient *http.Client) (Client, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case "gemini", "":
		return NewGemini(ctx, cfg.APIKey, cfg.BaseURL, httpClient)
	case "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.BaseURL, httpClient), nil
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// transcript keeps conversation history for providers whose APIs are
// stateless.
type transcript struct {
	mu     sync.Mutex
	turns  []Turn
	closed bool
}

// exchange appends text as a user turn, calls send with the full history and
// records the reply. A failed call leaves the history unchanged.
func (t *transcript) exchange(ctx context.Context, text string, send func(ctx context.Context, history []Turn) (string, error)) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", errors.New("chat session closed")
	}

	history := append(append([]Turn(nil), t.turns...), Turn{Role: RoleUser, Text: text})
	reply, err := send(ctx, history)
	if err != nil {
		return "", err
	}

	t.turns = append(history, Turn{Role: RoleModel, Text: reply})
	return reply, nil
}

func (t *transcript) History() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Turn(nil), t.turns...)
}

func (t *transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.turns = nil
	return nil
}
