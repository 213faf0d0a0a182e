// internal/workers/ai-conversation/eligibility-chat/handler.go
package eligibilitychat

import (
	"context"
	"errors"
	"fmt"

	apperrors "trial-screener/internal/common/errors"
	"trial-screener/internal/common/logger"
	"trial-screener/internal/common/metrics"
	"trial-screener/internal/llm"
	"trial-screener/internal/models"

	"github.com/google/uuid"
)

const (
	TaskType = "eligibility-chat"
)

var (
	ErrNotConfigured = apperrors.NewConfigurationError(llm.ErrNotConfigured.Error())
)

// Conn is one client connection. ReadMessage blocks until a frame arrives,
// the peer goes away or ctx ends. Writes come from a single goroutine.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// writeError marks a failed write; the peer is gone, so nothing more is sent.
type writeError struct{ err error }

func (e *writeError) Error() string { return fmt.Sprintf("write frame: %v", e.err) }
func (e *writeError) Unwrap() error { return e.err }

type Handler struct {
	config *Config
	llm    llm.Client
	logger logger.Logger
}

// NewHandler wires the relay. client nil means no credential is configured.
func NewHandler(config *Config, client llm.Client, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		llm:    client,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

// conversation is the per-connection state. It is owned by the Serve
// goroutine, so turns never overlap.
type conversation struct {
	state State
	chat  llm.ChatSession
	conn  Conn
	log   logger.Logger
}

// Serve runs the conversation on conn until the peer disconnects, ctx ends or
// an upstream call fails. conn is closed on return.
func (h *Handler) Serve(ctx context.Context, sessionID string, conn Conn) error {
	c := &conversation{
		state: StateIdle,
		conn:  conn,
		log: h.logger.WithFields(map[string]interface{}{
			"sessionId":    sessionID,
			"connectionId": uuid.New().String(),
		}),
	}

	metrics.ChatSessionsActive.Inc()
	defer metrics.ChatSessionsActive.Dec()
	defer c.close()

	c.log.Info("Chat connection opened", nil)

	if h.llm == nil {
		c.log.Error("Chat unavailable, no model credential configured", nil)
		_ = c.send(models.ErrorMessage(configErrorText))
		return ErrNotConfigured
	}

	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			c.log.Info("Chat connection closed by client", map[string]interface{}{
				"state":  c.state.String(),
				"reason": err.Error(),
			})
			return nil
		}

		f, ok := parseFrame(data)
		if !ok {
			c.log.Warn("Ignoring unreadable frame", map[string]interface{}{"bytes": len(data)})
			continue
		}

		switch f.Type {
		case models.ChatStart:
			err = h.start(ctx, c, f.Context)
		case models.ChatMessage:
			if c.state != StateActive {
				c.log.Debug("Ignoring message before start", nil)
				continue
			}
			err = h.relay(ctx, c, f.Text)
		default:
			c.log.Debug("Ignoring frame", map[string]interface{}{"type": f.Type})
			continue
		}

		if err != nil {
			return h.fail(c, err)
		}
	}
}

// start opens a fresh model session for trial, replacing any current one,
// and relays the model's opening message.
func (h *Handler) start(ctx context.Context, c *conversation, trial models.TrialContext) error {
	if c.chat != nil {
		c.log.Info("Restarting chat session", nil)
		_ = c.chat.Close()
		c.chat = nil
		c.state = StateIdle
	}

	chat, err := h.llm.StartChat(ctx, llm.ChatRequest{
		Model:             h.config.Model,
		SystemInstruction: systemInstruction(trial),
		Temperature:       h.config.Temperature,
	})
	if err != nil {
		return err
	}
	c.chat = chat

	c.log.Info("Chat session started", map[string]interface{}{
		"title": trial.Title,
		"model": h.config.Model,
	})

	if err := h.turn(ctx, c, openingTurn); err != nil {
		return err
	}
	c.state = StateActive
	return nil
}

func (h *Handler) relay(ctx context.Context, c *conversation, text string) error {
	return h.turn(ctx, c, text)
}

// turn sends typing, forwards text and relays the reply.
func (h *Handler) turn(ctx context.Context, c *conversation, text string) error {
	if err := c.send(models.TypingMessage()); err != nil {
		return err
	}

	reply, err := c.chat.Send(ctx, text)
	if err != nil {
		metrics.ChatTurns.WithLabelValues(metrics.OutcomeFailure).Inc()
		return err
	}
	metrics.ChatTurns.WithLabelValues(metrics.OutcomeSuccess).Inc()

	return c.send(models.TextMessage(reply))
}

// fail logs err and, when the peer can still be reached, tells it the
// conversation is over.
func (h *Handler) fail(c *conversation, err error) error {
	var we *writeError
	if errors.As(err, &we) {
		c.log.Info("Chat connection lost", map[string]interface{}{"error": err.Error()})
		return nil
	}

	c.log.Error("Chat failed", map[string]interface{}{
		"state": c.state.String(),
		"error": err.Error(),
	})
	_ = c.send(models.TextMessage(internalErrorText))
	return err
}

func (c *conversation) send(msg models.ServerMessage) error {
	if err := c.conn.WriteJSON(msg); err != nil {
		return &writeError{err: err}
	}
	return nil
}

func (c *conversation) close() {
	if c.chat != nil {
		_ = c.chat.Close()
		c.chat = nil
	}
	c.state = StateClosed
	_ = c.conn.Close()
}
