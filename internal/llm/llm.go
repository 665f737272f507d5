// Package llm streams chat completions from a language model and
// normalizes the provider's wire format into a small set of events.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownModel = errors.New("unknown model")

// Models is the closed set of model identifiers a turn may select.
var Models = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4.1",
	"gpt-4.1-mini",
	"o3-mini",
}

// ValidateModel returns name if it is allowed, or fallback when name is
// empty.
func ValidateModel(name, fallback string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	for _, m := range Models {
		if m == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// IsReasoningModel reports whether the model takes a reasoning effort
// instead of sampling parameters.
func IsReasoningModel(name string) bool {
	return strings.HasPrefix(name, "o")
}

type EventType string

const (
	EventContentDelta  EventType = "content_delta"
	EventReasoning     EventType = "reasoning"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCall      EventType = "tool_call"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is one step of a model stream. Text holds the content delta, the
// cumulative reasoning, or the error message depending on Type.
type Event struct {
	Type         EventType
	Text         string
	ToolCall     ToolCall
	FinishReason string
}

type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the history sent to the model. Assistant
// messages may carry ToolCalls; tool messages answer one call by
// ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

type Request struct {
	Model    string
	Messages []Message
	// Tools is the function list in OpenAI format. Empty disables tool use.
	Tools []map[string]interface{}
}

// Client starts one model call. The returned channel yields events in
// order and is closed after a Done or Error event, or when ctx ends.
type Client interface {
	Stream(ctx context.Context, req Request) <-chan Event
}
