package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ahmetk3436/inkwell/internal/database"
	"github.com/ahmetk3436/inkwell/internal/llm"
	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/ahmetk3436/inkwell/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

// scriptedClient replays one canned event list per model call and
// records every request it receives.
type scriptedClient struct {
	mu       sync.Mutex
	steps    [][]llm.Event
	requests []llm.Request
}

func (c *scriptedClient) Stream(ctx context.Context, req llm.Request) <-chan llm.Event {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	evs := answer("(script exhausted)")
	if len(c.steps) > 0 {
		evs = c.steps[0]
		c.steps = c.steps[1:]
	}
	c.mu.Unlock()

	ch := make(chan llm.Event, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return ch
}

func (c *scriptedClient) script(steps ...[]llm.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, steps...)
}

func (c *scriptedClient) calls() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

func answer(parts ...string) []llm.Event {
	var evs []llm.Event
	for _, p := range parts {
		evs = append(evs, llm.Event{Type: llm.EventContentDelta, Text: p})
	}
	return append(evs, llm.Event{Type: llm.EventDone, FinishReason: "stop"})
}

func callTool(id, name, args string) []llm.Event {
	call := llm.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
	return []llm.Event{
		{Type: llm.EventToolCallStart, ToolCall: llm.ToolCall{ID: id, Name: name}},
		{Type: llm.EventToolCall, ToolCall: call},
		{Type: llm.EventDone, FinishReason: "tool_calls"},
	}
}

type stubTool struct {
	name string
	run  func(ctx context.Context, call tools.Call) (tools.Output, error)
}

func (s *stubTool) Definition() mcp.Tool {
	return mcp.NewTool(s.name,
		mcp.WithDescription("stub"),
		mcp.WithString("url", mcp.Required()),
	)
}

func (s *stubTool) Execute(ctx context.Context, call tools.Call) (tools.Output, error) {
	return s.run(ctx, call)
}

// recorder collects events; failAfter > 0 makes the nth send and every
// later one fail.
type recorder struct {
	mu        sync.Mutex
	events    []Event
	failAfter int
}

func (r *recorder) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAfter > 0 && len(r.events)+1 >= r.failAfter {
		return errors.New("broken pipe")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) find(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	orch   *Orchestrator
	client *scriptedClient
	store  *services.ConversationStore
	teams  *services.TeamService
	notes  *services.NoteService
	user   *models.User
}

func newFixture(t *testing.T, maxRounds int, extra ...tools.Tool) *fixture {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	user := &models.User{Email: "chat@example.com", PasswordHash: "x"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	teams := services.NewTeamService(db)
	notes := services.NewNoteService(db, teams)
	store := services.NewConversationStore(db, teams)
	registry := tools.NewRegistry(time.Second, append([]tools.Tool{tools.NewSearchNotes(notes)}, extra...)...)
	client := &scriptedClient{}

	return &fixture{
		orch:   NewOrchestrator(Config{DefaultModel: "gpt-4o-mini", MaxToolRounds: maxRounds}, store, teams, notes, registry, client),
		client: client,
		store:  store,
		teams:  teams,
		notes:  notes,
		user:   user,
	}
}

func (f *fixture) run(t *testing.T, mode Mode, req Request, sink Sink) (*Turn, error) {
	t.Helper()
	turn, err := f.orch.Prepare(context.Background(), f.user.ID, mode, req)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	return turn, f.orch.Run(context.Background(), turn, sink)
}

func (f *fixture) messages(t *testing.T, convID string) []models.Message {
	t.Helper()
	conv, err := f.store.Authorize(context.Background(), f.user.ID, mustUUID(t, convID))
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	msgs, err := f.store.Messages(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	return msgs
}
