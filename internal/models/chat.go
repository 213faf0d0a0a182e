// internal/models/chat.go
package models

// Chat message kinds exchanged over /ws/verify/{sessionId}.
const (
	ChatStart   = "start"
	ChatMessage = "message"
	ChatTyping  = "typing"
	ChatError   = "error"
)

// TrialContext is the study a screening conversation is about.
type TrialContext struct {
	Title    string `json:"title"`
	Criteria string `json:"criteria"`
}

// ServerMessage is a server-to-client frame.
type ServerMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func TypingMessage() ServerMessage {
	return ServerMessage{Type: ChatTyping}
}

func TextMessage(text string) ServerMessage {
	return ServerMessage{Type: ChatMessage, Text: text}
}

func ErrorMessage(text string) ServerMessage {
	return ServerMessage{Type: ChatError, Text: text}
}
