// Package protocol defines the output contract of the supervised agent CLI:
// the line-delimited stream events it emits and the normalized result shape
// the rest of the system consumes.
package protocol

import (
	"encoding/json"
	"strings"
)

// EventType discriminates stream events by their "type" field
type EventType string

const (
	EventTypeAssistant EventType = "assistant"
	EventTypeResult    EventType = "result"
	EventTypeSystem    EventType = "system"
)

// StreamEvent is one decoded line of stream-json output. Fields that only
// appear on some event kinds are optional; presence-sensitive fields use
// pointers so "absent" and "zero" stay distinguishable. Unknown event types
// decode fine and are simply ignored by consumers.
type StreamEvent struct {
	Type         EventType         `json:"type"`
	Message      *AssistantMessage `json:"message,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	IsError      *bool             `json:"is_error,omitempty"`
	Errors       []string          `json:"errors,omitempty"`
	TotalCostUSD *float64          `json:"total_cost_usd,omitempty"`
	Result       string            `json:"result,omitempty"`
}

// AssistantMessage carries the content blocks of an assistant turn
type AssistantMessage struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one entry of an assistant message's content array. The CLI
// emits either an object block ({"type":"text","text":"..."}) or a bare
// string; both decode into this shape.
type ContentBlock struct {
	Type string
	Text string
}

// UnmarshalJSON accepts both object and bare-string content entries.
// Anything else (numbers, nested arrays) yields a zero block, not an error.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.Type = "text"
		b.Text = s
		return nil
	}

	var obj struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.Type = obj.Type
		b.Text = obj.Text
	}
	return nil
}

// TextContent concatenates the text blocks of the message in array order,
// separated by newlines. Non-text blocks are skipped. The second return is
// false when the message carried no text blocks at all, so callers can tell
// "no text" apart from "empty text".
func (m *AssistantMessage) TextContent() (string, bool) {
	if m == nil {
		return "", false
	}
	var b strings.Builder
	found := false
	for _, block := range m.Content {
		if block.Type != "text" {
			continue
		}
		if found {
			b.WriteByte('\n')
		}
		b.WriteString(block.Text)
		found = true
	}
	return b.String(), found
}

// Result is the normalized outcome of one agent invocation. IsError=true
// implies Text holds a human-readable diagnostic. SessionID is empty only
// when no session could be established.
type Result struct {
	Text      string   `json:"result"`
	SessionID string   `json:"session_id"`
	IsError   bool     `json:"is_error"`
	Errors    []string `json:"errors,omitempty"`
	CostUSD   float64  `json:"cost_usd,omitempty"`
}
