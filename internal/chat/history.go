package chat

import (
	"encoding/json"
	"log/slog"

	"github.com/ahmetk3436/inkwell/internal/llm"
	"github.com/ahmetk3436/inkwell/internal/models"
)

// buildHistory replays persisted messages as model history. Each stored
// tool_call becomes an assistant message with that single call, followed
// by its tool result. Calls without a stored result, and results without
// a call, are dropped since the model API rejects unpaired entries.
// Ask mode drops tool messages entirely.
func buildHistory(msgs []models.Message, includeTools bool) []llm.Message {
	answered := map[string]bool{}
	if includeTools {
		for i := range msgs {
			if msgs[i].MessageType != models.MessageTypeToolResult {
				continue
			}
			if meta, err := msgs[i].DecodeMetadata(); err == nil {
				answered[meta.(models.ToolResultMetadata).ToolCallID] = true
			}
		}
	}

	history := make([]llm.Message, 0, len(msgs))
	called := map[string]bool{}
	for i := range msgs {
		m := &msgs[i]
		switch m.MessageType {
		case models.MessageTypeContent, "":
			history = append(history, llm.Message{Role: llm.Role(m.Role), Content: m.Content})

		case models.MessageTypeToolCall:
			if !includeTools {
				continue
			}
			meta, err := m.DecodeMetadata()
			if err != nil {
				slog.Warn("Skipping tool call with bad metadata", "message_id", m.ID, "error", err)
				continue
			}
			call := meta.(models.ToolCallMetadata)
			if !answered[call.ToolCallID] {
				continue
			}
			called[call.ToolCallID] = true
			args := call.ToolArgs
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			history = append(history, llm.Message{
				Role:      llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{ID: call.ToolCallID, Name: call.ToolName, Args: args}},
			})

		case models.MessageTypeToolResult:
			if !includeTools {
				continue
			}
			meta, err := m.DecodeMetadata()
			if err != nil {
				continue
			}
			result := meta.(models.ToolResultMetadata)
			if !called[result.ToolCallID] {
				continue
			}
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: result.ToolCallID,
				Content:    toolResultText(result),
			})
		}
	}
	return history
}

// toolResultText is what the model sees for a tool result.
func toolResultText(meta models.ToolResultMetadata) string {
	if meta.Error != "" {
		return "Error: " + meta.Error
	}
	if meta.ToolResult == "" {
		return "(no output)"
	}
	return meta.ToolResult
}
