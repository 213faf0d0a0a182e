// internal/workers/ai-conversation/eligibility-chat/models.go
package eligibilitychat

import (
	"trial-screener/internal/models"

	"github.com/tidwall/gjson"
)

const (
	defaultTitle    = "the clinical trial"
	defaultCriteria = "No criteria provided."
	openingTurn     = "Introduce yourself and ask the first eligibility question."

	configErrorText   = "Backend configuration error. Please contact support."
	internalErrorText = "Sorry, I encountered an internal error. Please try again later."
)

// State is where a connection is in its conversation.
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// frame is one client-to-server message.
type frame struct {
	Type    string
	Text    string
	Context models.TrialContext
}

// parseFrame reads a client frame. Missing or null context fields take the
// defaults; ok is false when data is not a JSON object.
func parseFrame(data []byte) (frame, bool) {
	if !gjson.ValidBytes(data) {
		return frame{}, false
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return frame{}, false
	}

	f := frame{
		Type: doc.Get("type").String(),
		Text: doc.Get("text").String(),
		Context: models.TrialContext{
			Title:    defaultTitle,
			Criteria: defaultCriteria,
		},
	}
	if title := doc.Get("context.title"); title.Exists() && title.Type != gjson.Null {
		f.Context.Title = title.String()
	}
	if criteria := doc.Get("context.criteria"); criteria.Exists() && criteria.Type != gjson.Null {
		f.Context.Criteria = criteria.String()
	}
	return f, true
}
