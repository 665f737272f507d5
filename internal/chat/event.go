// Package chat runs streaming chat turns and encodes their events for
// the wire.
package chat

import (
	"encoding/json"

	"github.com/ahmetk3436/inkwell/internal/models"
)

type EventType string

const (
	EventConversation  EventType = "conversation"
	EventContent       EventType = "content"
	EventReasoning     EventType = "reasoning"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventSources       EventType = "sources"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is one frame of a turn stream. Only the fields belonging to Type
// are set.
type Event struct {
	Type EventType `json:"type"`

	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`

	// content carries Delta; reasoning carries the cumulative Text.
	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	Name       string          `json:"name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`

	Sources []models.Source `json:"sources,omitempty"`

	// Message is the human-readable reason of an error event.
	Message string `json:"message,omitempty"`
}

// Sink receives the events of one turn in order. A Send error means the
// client is gone and ends the turn.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(ev Event) error { return f(ev) }
