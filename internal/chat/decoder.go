package chat

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/models"
)

// Decoder reads events from a server-sent event stream.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{scanner: s}
}

// Next returns the next event, or io.EOF when the stream ends cleanly.
// Comment lines and fields other than data are ignored; multiple data
// lines of one event are joined with newlines.
func (d *Decoder) Next() (Event, error) {
	var data []string
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if len(data) == 0 {
				continue
			}
			return decodeEvent(strings.Join(data, "\n"))
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	if len(data) > 0 {
		return decodeEvent(strings.Join(data, "\n"))
	}
	return Event{}, io.EOF
}

func decodeEvent(data string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	return ev, nil
}

// ToolCallState is what a client knows about one tool call so far.
type ToolCallState struct {
	ID     string
	Name   string
	Args   json.RawMessage
	Result string
	Error  string
	// Complete is set once arguments are known; Finished once a result
	// arrived.
	Complete bool
	Finished bool
}

// Transcript folds a turn's events into the state a client renders.
type Transcript struct {
	ConversationID string
	MessageID      string
	Content        strings.Builder
	Reasoning      string
	ToolCalls      []*ToolCallState
	Sources        []models.Source
	Err            string
	Done           bool
}

func (t *Transcript) call(id, name string) *ToolCallState {
	for _, c := range t.ToolCalls {
		if c.ID == id {
			return c
		}
	}
	c := &ToolCallState{ID: id, Name: name}
	t.ToolCalls = append(t.ToolCalls, c)
	return c
}

// Apply updates the transcript with ev. Events after done or error are
// rejected.
func (t *Transcript) Apply(ev Event) error {
	if t.Done || t.Err != "" {
		return fmt.Errorf("%s event after end of turn", ev.Type)
	}
	switch ev.Type {
	case EventConversation:
		t.ConversationID = ev.ConversationID
	case EventContent:
		t.Content.WriteString(ev.Delta)
	case EventReasoning:
		t.Reasoning = ev.Text
	case EventToolCallStart:
		t.call(ev.ToolCallID, ev.Name)
	case EventToolCall:
		c := t.call(ev.ToolCallID, ev.Name)
		c.Args = ev.Args
		c.Complete = true
	case EventToolResult:
		c := t.call(ev.ToolCallID, ev.Name)
		c.Result = ev.Result
		c.Error = ev.Error
		c.Finished = true
	case EventSources:
		t.Sources = ev.Sources
	case EventDone:
		t.Done = true
		t.MessageID = ev.MessageID
		if ev.ConversationID != "" {
			t.ConversationID = ev.ConversationID
		}
	case EventError:
		t.Err = ev.Message
		if t.Err == "" {
			t.Err = "unknown error"
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// Finished reports whether the turn reached done or error.
func (t *Transcript) Finished() bool {
	return t.Done || t.Err != ""
}
