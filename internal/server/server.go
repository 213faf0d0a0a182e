// Package server exposes classification, the screening chat and the
// frontend over HTTP.
package server

import (
	"context"
	"net/http"

	"trial-screener/internal/common/config"
	"trial-screener/internal/common/logger"
	categorizeconditions "trial-screener/internal/workers/taxonomy/categorize-conditions"
	eligibilitychat "trial-screener/internal/workers/ai-conversation/eligibility-chat"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Classifier runs one classification request.
type Classifier interface {
	Execute(ctx context.Context, input *categorizeconditions.Input) (*categorizeconditions.Output, error)
}

// ChatRelay runs one screening conversation over a connection.
type ChatRelay interface {
	Serve(ctx context.Context, sessionID string, conn eligibilitychat.Conn) error
}

type Server struct {
	config        config.ServerConfig
	apiConfigured bool
	classifier    Classifier
	chat          ChatRelay
	logger        logger.Logger
	upgrader      websocket.Upgrader

	// chatCtx outlives requests; cancelling it ends open chat connections.
	chatCtx    context.Context
	cancelChat context.CancelFunc
}

func New(cfg config.ServerConfig, apiConfigured bool, classifier Classifier, chat ChatRelay, log logger.Logger) *Server {
	s := &Server{
		config:        cfg,
		apiConfigured: apiConfigured,
		classifier:    classifier,
		chat:          chat,
		logger:        log.WithFields(map[string]interface{}{"component": "http"}),
	}
	s.chatCtx, s.cancelChat = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("POST /api/categorize", s.handleCategorize)
	mux.HandleFunc("GET /ws/verify/{sessionId}", s.handleVerify)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("/api/", s.notFound)
	mux.HandleFunc("/ws/", s.notFound)
	mux.Handle("/", s.spa())

	return s.requestID(s.cors(s.observe(mux)))
}

// CloseChats ends every open chat connection. Hook it to http.Server
// shutdown, which does not track upgraded connections.
func (s *Server) CloseChats() {
	s.cancelChat()
}
