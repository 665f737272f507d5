package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// OpenAIClient streams from an OpenAI-compatible chat completions
// endpoint.
type OpenAIClient struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewOpenAIClient creates a client. The http.Client should have no overall
// timeout; call lifetime is bounded by the context passed to Stream.
func NewOpenAIClient(apiURL, apiKey string, client *http.Client) *OpenAIClient {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIClient{apiURL: apiURL, apiKey: apiKey, client: client}
}

type wireToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string         `json:"content"`
			ReasoningContent string         `json:"reasoning_content"`
			ToolCalls        []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) buildBody(req Request) ([]byte, error) {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			w := wireToolCall{ID: tc.ID, Type: "function"}
			w.Function.Name = tc.Name
			w.Function.Arguments = string(tc.Args)
			if w.Function.Arguments == "" {
				w.Function.Arguments = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, w)
		}
		messages = append(messages, wm)
	}

	body := map[string]interface{}{
		"model":          req.Model,
		"messages":       messages,
		"stream":         true,
		"stream_options": map[string]bool{"include_usage": true},
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}
	if IsReasoningModel(req.Model) {
		body["reasoning_effort"] = "medium"
	}
	return json.Marshal(body)
}

func (c *OpenAIClient) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		c.stream(ctx, req, func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return events
}

func (c *OpenAIClient) stream(ctx context.Context, req Request, emit func(Event) bool) {
	fail := func(format string, args ...interface{}) {
		emit(Event{Type: EventError, Text: fmt.Sprintf(format, args...)})
	}

	body, err := c.buildBody(req)
	if err != nil {
		fail("failed to encode model request: %v", err)
		return
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		fail("failed to create model request: %v", err)
		return
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Model streaming call failed", "model", req.Model, "error", err)
		fail("model service unavailable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Model API error", "model", req.Model, "status", resp.StatusCode, "body", string(respBody))
		fail("model API returned status %d: %s", resp.StatusCode, apiErrorMessage(respBody))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		reasoning    strings.Builder
		calls        = map[int]*ToolCall{}
		finishReason string
		sawDone      bool
	)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			sawDone = true
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Debug("Skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Usage != nil {
			slog.Debug("Model usage", "model", req.Model,
				"prompt_tokens", chunk.Usage.PromptTokens,
				"completion_tokens", chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.ReasoningContent != "" {
			reasoning.WriteString(choice.Delta.ReasoningContent)
			if !emit(Event{Type: EventReasoning, Text: reasoning.String()}) {
				return
			}
		}
		if choice.Delta.Content != "" {
			if !emit(Event{Type: EventContentDelta, Text: choice.Delta.Content}) {
				return
			}
		}
		for i, frag := range choice.Delta.ToolCalls {
			idx := i
			if frag.Index != nil {
				idx = *frag.Index
			}
			call, seen := calls[idx]
			if !seen {
				call = &ToolCall{}
				calls[idx] = call
			}
			if frag.ID != "" {
				call.ID = frag.ID
			}
			if frag.Function.Name != "" && call.Name == "" {
				call.Name = frag.Function.Name
				if call.ID == "" {
					call.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
				}
				if !emit(Event{Type: EventToolCallStart, ToolCall: ToolCall{ID: call.ID, Name: call.Name}}) {
					return
				}
			}
			call.Args = append(call.Args, frag.Function.Arguments...)
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		fail("model stream interrupted: %v", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !sawDone {
		fail("model stream ended before [DONE]")
		return
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		call := *calls[idx]
		if call.Name == "" {
			fail("model returned a tool call without a name")
			return
		}
		if len(bytes.TrimSpace(call.Args)) == 0 {
			call.Args = json.RawMessage("{}")
		}
		if !emit(Event{Type: EventToolCall, ToolCall: call}) {
			return
		}
	}
	emit(Event{Type: EventDone, FinishReason: finishReason})
}

func apiErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
