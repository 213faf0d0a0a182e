// internal/workers/ai-conversation/eligibility-chat/handler_test.go
package eligibilitychat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	apperrors "trial-screener/internal/common/errors"
	"trial-screener/internal/common/logger"
	"trial-screener/internal/common/metrics"
	"trial-screener/internal/llm"
	"trial-screener/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

// fakeConn replays scripted frames and then reports a disconnect.
type fakeConn struct {
	mu       sync.Mutex
	in       chan []byte
	out      []models.ServerMessage
	closed   bool
	writeErr error
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{in: make(chan []byte, len(frames))}
	for _, f := range frames {
		c.in <- []byte(f)
	}
	close(c.in)
	return c
}

func (c *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.out = append(c.out, v.(models.ServerMessage))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Sent() []models.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ServerMessage(nil), c.out...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func createTestHandler(t *testing.T, client llm.Client) *Handler {
	return NewHandler(LoadConfig(), client, logger.NewTestLogger(t))
}

const startFrame = `{"type":"start","context":{"title":"BRCA Prevention Study","criteria":"Age 18+\nNo prior chemotherapy"}}`

func messageFrame(text string) string {
	return fmt.Sprintf(`{"type":"message","text":%q}`, text)
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Serve_Conversation(t *testing.T) {
	fake := llm.NewFake().OnChat(func(req llm.ChatRequest, history []llm.Turn, text string) (string, error) {
		return fmt.Sprintf("reply %d to %s", len(history)/2, text), nil
	})
	h := createTestHandler(t, fake)
	conn := newFakeConn(startFrame, messageFrame("I am 42"), messageFrame("No chemotherapy"))

	err := h.Serve(context.Background(), "NCT01234567", conn)
	require.NoError(t, err)

	assert.Equal(t, []models.ServerMessage{
		models.TypingMessage(),
		models.TextMessage("reply 0 to " + openingTurn),
		models.TypingMessage(),
		models.TextMessage("reply 1 to I am 42"),
		models.TypingMessage(),
		models.TextMessage("reply 2 to No chemotherapy"),
	}, conn.Sent())
	assert.True(t, conn.Closed())

	sessions := fake.Sessions()
	require.Len(t, sessions, 1, "one accumulating conversation")
	assert.Len(t, sessions[0].History(), 6)
	assert.True(t, sessions[0].Closed())

	req := sessions[0].Request
	assert.Equal(t, "gemini-2.5-pro", req.Model)
	assert.Contains(t, req.SystemInstruction, `for the study: "BRCA Prevention Study"`)
	assert.Contains(t, req.SystemInstruction, "STUDY CRITERIA:\nAge 18+\nNo prior chemotherapy\n")
	assert.Contains(t, req.SystemInstruction, "ONE BY ONE")
	assert.Contains(t, req.SystemInstruction, "not medical advice")
}

func TestHandler_Serve_MessageBeforeStartIsDropped(t *testing.T) {
	fake := llm.NewFake()
	h := createTestHandler(t, fake)
	conn := newFakeConn(messageFrame("hello?"))

	require.NoError(t, h.Serve(context.Background(), "s1", conn))

	assert.Empty(t, conn.Sent())
	assert.Empty(t, fake.Sessions())
}

func TestHandler_Serve_IgnoresUnknownAndUnreadableFrames(t *testing.T) {
	fake := llm.NewFake()
	h := createTestHandler(t, fake)
	conn := newFakeConn(`{"type":"ping"}`, `not json`, `[1,2]`, startFrame)

	require.NoError(t, h.Serve(context.Background(), "s1", conn))

	assert.Equal(t, []models.ServerMessage{
		models.TypingMessage(),
		models.TextMessage("echo: " + openingTurn),
	}, conn.Sent())
}

func TestHandler_Serve_StartDefaults(t *testing.T) {
	tests := []struct {
		name          string
		frame         string
		expectedTitle string
		expectedCrit  string
	}{
		{
			name:          "no context",
			frame:         `{"type":"start"}`,
			expectedTitle: defaultTitle,
			expectedCrit:  defaultCriteria,
		},
		{
			name:          "null fields",
			frame:         `{"type":"start","context":{"title":null,"criteria":"Adults only"}}`,
			expectedTitle: defaultTitle,
			expectedCrit:  "Adults only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := llm.NewFake()
			h := createTestHandler(t, fake)

			require.NoError(t, h.Serve(context.Background(), "s1", newFakeConn(tt.frame)))

			require.Len(t, fake.Sessions(), 1)
			instruction := fake.Sessions()[0].Request.SystemInstruction
			assert.Contains(t, instruction, `for the study: "`+tt.expectedTitle+`"`)
			assert.Contains(t, instruction, "STUDY CRITERIA:\n"+tt.expectedCrit+"\n")
		})
	}
}

func TestHandler_Serve_RestartReplacesSession(t *testing.T) {
	fake := llm.NewFake()
	h := createTestHandler(t, fake)
	conn := newFakeConn(startFrame, messageFrame("a"),
		`{"type":"start","context":{"title":"Second Study"}}`, messageFrame("b"))

	require.NoError(t, h.Serve(context.Background(), "s1", conn))

	sessions := fake.Sessions()
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].Closed())
	assert.Len(t, sessions[0].History(), 4)
	assert.Contains(t, sessions[1].Request.SystemInstruction, "Second Study")
	assert.Len(t, sessions[1].History(), 4)
	assert.Len(t, conn.Sent(), 8)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Serve_NotConfigured(t *testing.T) {
	h := createTestHandler(t, nil)
	conn := newFakeConn(startFrame)

	err := h.Serve(context.Background(), "s1", conn)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfiguration))

	assert.Equal(t, []models.ServerMessage{models.ErrorMessage(configErrorText)}, conn.Sent())
	assert.True(t, conn.Closed())
}

func TestHandler_Serve_StartChatFailure(t *testing.T) {
	fake := llm.NewFake().FailStartChat(errors.New("permission denied"))
	h := createTestHandler(t, fake)
	conn := newFakeConn(startFrame, messageFrame("never handled"))

	err := h.Serve(context.Background(), "s1", conn)
	assert.EqualError(t, err, "permission denied")
	assert.Equal(t, []models.ServerMessage{models.TextMessage(internalErrorText)}, conn.Sent())
	assert.True(t, conn.Closed())
}

func TestHandler_Serve_TurnFailureEndsConversation(t *testing.T) {
	fake := llm.NewFake().OnChat(func(req llm.ChatRequest, history []llm.Turn, text string) (string, error) {
		if text == "fail" {
			return "", apperrors.NewUpstreamError("chat", errors.New("503"))
		}
		return "ok", nil
	})
	h := createTestHandler(t, fake)
	conn := newFakeConn(startFrame, messageFrame("fail"), messageFrame("after"))

	err := h.Serve(context.Background(), "s1", conn)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUpstream))

	assert.Equal(t, []models.ServerMessage{
		models.TypingMessage(),
		models.TextMessage("ok"),
		models.TypingMessage(),
		models.TextMessage(internalErrorText),
	}, conn.Sent(), "no partial reply is forwarded")
	assert.True(t, fake.Sessions()[0].Closed())
}

func TestHandler_Serve_WriteFailureIsDisconnect(t *testing.T) {
	fake := llm.NewFake()
	h := createTestHandler(t, fake)
	conn := newFakeConn(startFrame)
	conn.writeErr = errors.New("broken pipe")

	assert.NoError(t, h.Serve(context.Background(), "s1", conn))
	assert.Empty(t, conn.Sent())
	assert.True(t, conn.Closed())
}

func TestHandler_Serve_ContextCancelled(t *testing.T) {
	h := createTestHandler(t, llm.NewFake())
	conn := &fakeConn{in: make(chan []byte)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, h.Serve(ctx, "s1", conn))
	assert.True(t, conn.Closed())
}

func TestHandler_Serve_ActiveGaugeReturnsToBaseline(t *testing.T) {
	before := testutil.ToFloat64(metrics.ChatSessionsActive)
	h := createTestHandler(t, llm.NewFake())

	require.NoError(t, h.Serve(context.Background(), "s1", newFakeConn(startFrame)))
	assert.Equal(t, before, testutil.ToFloat64(metrics.ChatSessionsActive))
}

func TestParseFrame(t *testing.T) {
	f, ok := parseFrame([]byte(`{"type":"message","text":"Yes, I am over 18"}`))
	require.True(t, ok)
	assert.Equal(t, models.ChatMessage, f.Type)
	assert.Equal(t, "Yes, I am over 18", f.Text)

	_, ok = parseFrame([]byte(`"start"`))
	assert.False(t, ok)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
}
