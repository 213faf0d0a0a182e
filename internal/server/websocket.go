// internal/server/websocket.go
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 1 << 20
)

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("WebSocket upgrade failed", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return
	}
	conn.SetReadLimit(wsMaxMessage)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.chatCtx, cancel)
	defer stop()

	if err := s.chat.Serve(ctx, sessionID, newWSConn(conn)); err != nil {
		s.logger.Debug("Chat ended with error", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}
}

// wsConn adapts a gorilla connection to the chat relay. One goroutine reads
// and writes; the context watcher only touches the read deadline.
type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	// The HTTP server's read timeout must not apply to an idle conversation.
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteJSON(v interface{}) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
