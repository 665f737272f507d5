package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSetMetadataDrivesMessageType(t *testing.T) {
	var msg Message
	err := msg.SetMetadata(ToolCallMetadata{
		ToolName:   "web_scraper",
		ToolCallID: "call_1",
		ToolArgs:   json.RawMessage(`{"url":"https://example.com"}`),
	})
	if err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	if msg.MessageType != MessageTypeToolCall {
		t.Fatalf("expected tool_call, got %q", msg.MessageType)
	}

	meta, err := msg.DecodeMetadata()
	if err != nil {
		t.Fatalf("DecodeMetadata failed: %v", err)
	}
	call, ok := meta.(ToolCallMetadata)
	if !ok {
		t.Fatalf("expected ToolCallMetadata, got %T", meta)
	}
	if call.ToolName != "web_scraper" || string(call.ToolArgs) != `{"url":"https://example.com"}` {
		t.Fatalf("unexpected metadata: %+v", call)
	}
}

func TestToolMetadataRequiresName(t *testing.T) {
	var msg Message
	if err := msg.SetMetadata(ToolCallMetadata{ToolCallID: "x"}); !errors.Is(err, ErrMissingToolName) {
		t.Fatalf("expected ErrMissingToolName, got %v", err)
	}
	if err := msg.SetMetadata(ToolResultMetadata{Error: "boom"}); !errors.Is(err, ErrMissingToolName) {
		t.Fatalf("expected ErrMissingToolName, got %v", err)
	}
}

func TestNilMetadataIsContent(t *testing.T) {
	var msg Message
	if err := msg.SetMetadata(nil); err != nil {
		t.Fatalf("SetMetadata(nil) failed: %v", err)
	}
	if msg.MessageType != MessageTypeContent {
		t.Fatalf("expected content, got %q", msg.MessageType)
	}
}

func TestToolResultErrorRoundTrip(t *testing.T) {
	var msg Message
	if err := msg.SetMetadata(ToolResultMetadata{ToolName: "pdf_scraper", ToolCallID: "c", Error: "timeout"}); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(msg.Metadata, &raw); err != nil {
		t.Fatalf("metadata is not JSON: %v", err)
	}
	if raw["error"] != "timeout" || raw["tool_name"] != "pdf_scraper" {
		t.Fatalf("unexpected stored metadata: %v", raw)
	}
	if _, ok := raw["tool_result"]; ok {
		t.Fatalf("empty tool_result should be omitted")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	msg := Message{MessageType: "image"}
	if _, err := msg.DecodeMetadata(); err == nil {
		t.Fatalf("expected error for unknown message type")
	}
}
