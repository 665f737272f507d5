package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
)

type MessageType string

const (
	MessageTypeContent    MessageType = "content"
	MessageTypeToolCall   MessageType = "tool_call"
	MessageTypeToolResult MessageType = "tool_result"
)

// MessageMetadata is implemented by exactly one variant per MessageType.
// The variant chosen for a message decides its MessageType.
type MessageMetadata interface {
	MessageType() MessageType
}

// Source is a citation attached to an assistant answer.
type Source struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type ContentMetadata struct {
	Model     string   `json:"model,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
}

func (ContentMetadata) MessageType() MessageType { return MessageTypeContent }

type ToolCallMetadata struct {
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id"`
	ToolArgs   json.RawMessage `json:"tool_args"`
	Model      string          `json:"model,omitempty"`
}

func (ToolCallMetadata) MessageType() MessageType { return MessageTypeToolCall }

type ToolResultMetadata struct {
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id"`
	ToolResult string `json:"tool_result,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (ToolResultMetadata) MessageType() MessageType { return MessageTypeToolResult }

var ErrMissingToolName = errors.New("tool message requires tool_name")

// SetMetadata stores meta on the message and sets MessageType to match.
func (m *Message) SetMetadata(meta MessageMetadata) error {
	if meta == nil {
		meta = ContentMetadata{}
	}
	switch v := meta.(type) {
	case ToolCallMetadata:
		if v.ToolName == "" {
			return ErrMissingToolName
		}
		if len(v.ToolArgs) == 0 {
			v.ToolArgs = json.RawMessage("{}")
			meta = v
		}
	case ToolResultMetadata:
		if v.ToolName == "" {
			return ErrMissingToolName
		}
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode %s metadata: %w", meta.MessageType(), err)
	}
	m.MessageType = meta.MessageType()
	m.Metadata = datatypes.JSON(raw)
	return nil
}

// DecodeMetadata returns the metadata variant matching MessageType.
func (m *Message) DecodeMetadata() (MessageMetadata, error) {
	raw := []byte(m.Metadata)
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	switch m.MessageType {
	case MessageTypeContent, "":
		var meta ContentMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode content metadata: %w", err)
		}
		return meta, nil
	case MessageTypeToolCall:
		var meta ToolCallMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode tool_call metadata: %w", err)
		}
		return meta, nil
	case MessageTypeToolResult:
		var meta ToolResultMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode tool_result metadata: %w", err)
		}
		return meta, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", m.MessageType)
	}
}
