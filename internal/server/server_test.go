// internal/server/server_test.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trial-screener/internal/common/config"
	apperrors "trial-screener/internal/common/errors"
	"trial-screener/internal/common/logger"
	"trial-screener/internal/llm"
	"trial-screener/internal/models"
	eligibilitychat "trial-screener/internal/workers/ai-conversation/eligibility-chat"
	categorizeconditions "trial-screener/internal/workers/taxonomy/categorize-conditions"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// ==========================
// Test Helper Functions
// ==========================

type stubClassifier struct {
	output *categorizeconditions.Output
	err    error
	inputs []*categorizeconditions.Input
}

func (s *stubClassifier) Execute(ctx context.Context, input *categorizeconditions.Input) (*categorizeconditions.Output, error) {
	s.inputs = append(s.inputs, input)
	return s.output, s.err
}

func sampleOutput() *categorizeconditions.Output {
	result := models.NewTaxonomyResult()
	result.Summary[models.CategoryGenetic] = []string{"BRCA1 Mutation"}
	result.Lookup["brca1 mutation"] = "BRCA1 Mutation"
	return &categorizeconditions.Output{
		Result:  result,
		Partial: models.PartialResult{ChunksAttempted: 3, ChunksSucceeded: 2},
		Mode:    categorizeconditions.ModeChunked,
		RunID:   "run-1",
	}
}

func createTestServer(t *testing.T, cfg config.ServerConfig, configured bool, classifier Classifier, chat ChatRelay) *Server {
	if classifier == nil {
		classifier = &stubClassifier{output: sampleOutput()}
	}
	if chat == nil {
		chat = eligibilitychat.NewHandler(eligibilitychat.LoadConfig(), llm.NewFake(), logger.NewNoOpLogger())
	}
	s := New(cfg, configured, classifier, chat, logger.NewTestLogger(t))
	t.Cleanup(s.CloseChats)
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ==========================
// Health
// ==========================

func TestHealth(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		h := createTestServer(t, config.ServerConfig{}, true, nil, nil).Handler()
		rec := do(t, h, http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy","api_configured":true}`, rec.Body.String())
	})

	t.Run("missing credential", func(t *testing.T) {
		h := createTestServer(t, config.ServerConfig{}, false, nil, nil).Handler()
		rec := do(t, h, http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"unhealthy","error":"API_KEY not configured"}`, rec.Body.String())
	})

	t.Run("wrong method", func(t *testing.T) {
		h := createTestServer(t, config.ServerConfig{}, true, nil, nil).Handler()
		rec := do(t, h, http.MethodPost, "/health", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

// ==========================
// Categorize
// ==========================

func TestCategorize_Success(t *testing.T) {
	classifier := &stubClassifier{output: sampleOutput()}
	h := createTestServer(t, config.ServerConfig{}, true, classifier, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/categorize", `{"conditions": "BRCA1 mutation, asthma"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "3", rec.Header().Get("X-Chunks-Attempted"))
	assert.Equal(t, "2", rec.Header().Get("X-Chunks-Succeeded"))
	assert.Equal(t, "run-1", rec.Header().Get("X-Run-ID"))
	assert.Empty(t, rec.Header().Get("X-Cache"))

	body := gjson.Parse(rec.Body.String())
	assert.Equal(t, []string{"summary", "lookup"}, objectKeys(body))
	assert.Equal(t, "BRCA1 Mutation", body.Get("summary.Genetic.0").String())
	assert.True(t, body.Get("summary.RecentEvents").IsArray())
	assert.Equal(t, "BRCA1 Mutation", body.Get(`lookup.brca1 mutation`).String())

	require.Len(t, classifier.inputs, 1)
	assert.Equal(t, []string{"BRCA1 mutation", "asthma"}, classifier.inputs[0].Conditions.Normalize())
}

func objectKeys(r gjson.Result) []string {
	var keys []string
	r.ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	return keys
}

func TestCategorize_Errors(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		err            error
		expectedStatus int
		expectedDetail string
	}{
		{
			name:           "missing credential",
			body:           `{"conditions": ["a"]}`,
			err:            categorizeconditions.ErrNotConfigured,
			expectedStatus: http.StatusServiceUnavailable,
			expectedDetail: "API_KEY not configured",
		},
		{
			name:           "empty conditions",
			body:           `{"conditions": " , "}`,
			err:            categorizeconditions.ErrConditionsEmpty,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedDetail: "conditions cannot be empty",
		},
		{
			name:           "retries exhausted",
			body:           `{"conditions": ["a"]}`,
			err:            apperrors.NewAggregateFailureError(3, errors.New("deadline exceeded")),
			expectedStatus: http.StatusInternalServerError,
			expectedDetail: "Categorization failed: Failed after 3 attempts: Last error: deadline exceeded",
		},
		{
			name:           "unexpected",
			body:           `{"conditions": ["a"]}`,
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedDetail: "Categorization failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createTestServer(t, config.ServerConfig{}, true, &stubClassifier{err: tt.err}, nil).Handler()
			rec := do(t, h, http.MethodPost, "/api/categorize", tt.body)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, tt.expectedDetail, gjson.Get(rec.Body.String(), "detail").String())
		})
	}
}

func TestCategorize_InvalidBody(t *testing.T) {
	classifier := &stubClassifier{output: sampleOutput()}
	h := createTestServer(t, config.ServerConfig{}, true, classifier, nil).Handler()

	for _, body := range []string{`not json`, `{"conditions": {"a": 1}}`} {
		rec := do(t, h, http.MethodPost, "/api/categorize", body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
		assert.Contains(t, gjson.Get(rec.Body.String(), "detail").String(), "invalid request body")
	}
	assert.Empty(t, classifier.inputs)
}

func TestCategorize_EndToEnd(t *testing.T) {
	fake := llm.NewFake().GenerateSequence(llm.Reply("```json\n" + `{
		"SummaryLists": {"Genetic": ["BRCA1 Mutation"], "RecentEvents": ["Appendectomy"], "OtherMajorDiagnosis": []},
		"TermMapping": {"BRCA1 Mutation": ["BRCA1 mutation"], "Appendectomy": ["recent appendectomy"]}
	}` + "\n```"))
	classifier := categorizeconditions.NewHandler(categorizeconditions.LoadConfig(), fake, nil, nil, nil, nil, logger.NewNoOpLogger())
	h := createTestServer(t, config.ServerConfig{}, true, classifier, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/categorize", `{"conditions": ["BRCA1 mutation", "recent appendectomy"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.TaxonomyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Appendectomy", result.Lookup["recent appendectomy"])
	assert.Equal(t, []string{}, result.Summary[models.CategoryOtherMajorDiagnosis])
	assert.Equal(t, "1", rec.Header().Get("X-Chunks-Attempted"))
}

// ==========================
// Routing, CORS, SPA
// ==========================

func TestRouting_ReservedPrefixesNeverFallThrough(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	h := createTestServer(t, config.ServerConfig{StaticDir: dir}, true, nil, nil).Handler()

	for _, target := range []string{"/api/unknown", "/api/categorize", "/ws/other"} {
		rec := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.JSONEq(t, `{"detail":"Not Found"}`, rec.Body.String(), target)
	}
}

func TestSPA(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "favicon.ico"), []byte("icon"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644))

	h := createTestServer(t, config.ServerConfig{StaticDir: dir}, true, nil, nil).Handler()

	tests := []struct {
		target         string
		expectedStatus int
		expectedBody   string
	}{
		{target: "/", expectedStatus: http.StatusOK, expectedBody: "<html>app</html>"},
		{target: "/trials/NCT01234567", expectedStatus: http.StatusOK, expectedBody: "<html>app</html>"},
		{target: "/favicon.ico", expectedStatus: http.StatusOK, expectedBody: "icon"},
		{target: "/assets/app.js", expectedStatus: http.StatusOK, expectedBody: "console.log(1)"},
		{target: "/assets/missing.js", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedBody != "" {
				assert.Equal(t, tt.expectedBody, rec.Body.String())
			}
		})
	}

	rec := do(t, h, http.MethodPost, "/anything", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSPA_NoBuild(t *testing.T) {
	h := createTestServer(t, config.ServerConfig{StaticDir: t.TempDir()}, true, nil, nil).Handler()
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	t.Run("allow all by default", func(t *testing.T) {
		h := createTestServer(t, config.ServerConfig{}, true, nil, nil).Handler()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("preflight", func(t *testing.T) {
		h := createTestServer(t, config.ServerConfig{}, true, nil, nil).Handler()

		req := httptest.NewRequest(http.MethodOptions, "/api/categorize", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("origin not listed", func(t *testing.T) {
		cfg := config.ServerConfig{AllowedOrigins: []string{"https://trials.example.org"}}
		h := createTestServer(t, cfg, true, nil, nil).Handler()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRequestID(t *testing.T) {
	h := createTestServer(t, config.ServerConfig{}, true, nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	h := createTestServer(t, config.ServerConfig{}, true, nil, nil).Handler()
	do(t, h, http.MethodGet, "/health", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/health",status="200"}`)
}

// ==========================
// WebSocket
// ==========================

func dialVerify(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/verify/" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) models.ServerMessage {
	t.Helper()
	var msg models.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestVerify_Conversation(t *testing.T) {
	fake := llm.NewFake().OnChat(func(req llm.ChatRequest, history []llm.Turn, text string) (string, error) {
		if len(history) == 0 {
			return "Hello! Are you 18 or older?", nil
		}
		return "Thanks, you may be eligible.", nil
	})
	chat := eligibilitychat.NewHandler(eligibilitychat.LoadConfig(), fake, logger.NewNoOpLogger())
	srv := httptest.NewServer(createTestServer(t, config.ServerConfig{}, true, nil, chat).Handler())
	defer srv.Close()

	conn := dialVerify(t, srv, "NCT01234567")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "start",
		"context": map[string]string{"title": "BRCA Prevention Study", "criteria": "Age 18+"},
	}))
	assert.Equal(t, models.TypingMessage(), readFrame(t, conn))
	assert.Equal(t, models.TextMessage("Hello! Are you 18 or older?"), readFrame(t, conn))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "text": "Yes"}))
	assert.Equal(t, models.TypingMessage(), readFrame(t, conn))
	assert.Equal(t, models.TextMessage("Thanks, you may be eligible."), readFrame(t, conn))

	require.Len(t, fake.Sessions(), 1)
	assert.Contains(t, fake.Sessions()[0].Request.SystemInstruction, "BRCA Prevention Study")
}

func TestVerify_NotConfigured(t *testing.T) {
	chat := eligibilitychat.NewHandler(eligibilitychat.LoadConfig(), nil, logger.NewNoOpLogger())
	srv := httptest.NewServer(createTestServer(t, config.ServerConfig{}, false, nil, chat).Handler())
	defer srv.Close()

	conn := dialVerify(t, srv, "NCT01234567")

	msg := readFrame(t, conn)
	assert.Equal(t, models.ChatError, msg.Type)
	assert.Equal(t, "Backend configuration error. Please contact support.", msg.Text)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestVerify_CloseChatsEndsConnection(t *testing.T) {
	s := createTestServer(t, config.ServerConfig{}, true, nil, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialVerify(t, srv, "NCT01234567")
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "start"}))
	readFrame(t, conn)
	readFrame(t, conn)

	s.CloseChats()

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
