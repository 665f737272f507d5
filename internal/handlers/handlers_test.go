package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmetk3436/inkwell/internal/chat"
	"github.com/ahmetk3436/inkwell/internal/config"
	"github.com/ahmetk3436/inkwell/internal/database"
	"github.com/ahmetk3436/inkwell/internal/handlers"
	"github.com/ahmetk3436/inkwell/internal/llm"
	"github.com/ahmetk3436/inkwell/internal/routes"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/ahmetk3436/inkwell/internal/tools"
	"github.com/gofiber/fiber/v2"
)

const testSecret = "handler-test-secret"

// cannedClient answers every model call with the same text.
type cannedClient struct {
	mu     sync.Mutex
	answer string
	calls  int
}

func (c *cannedClient) Stream(ctx context.Context, req llm.Request) <-chan llm.Event {
	c.mu.Lock()
	c.calls++
	text := c.answer
	c.mu.Unlock()

	ch := make(chan llm.Event, 2)
	ch <- llm.Event{Type: llm.EventContentDelta, Text: text}
	ch <- llm.Event{Type: llm.EventDone, FinishReason: "stop"}
	close(ch)
	return ch
}

func newTestApp(t *testing.T, model llm.Client) *fiber.App {
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

	cfg := &config.Config{JWTSecret: testSecret, DefaultModel: "gpt-4o-mini", MaxToolRounds: 6}

	teams := services.NewTeamService(db)
	users := services.NewUserService(db)
	notes := services.NewNoteService(db, teams)
	tasks := services.NewTaskService(db, teams)
	store := services.NewConversationStore(db, teams)
	audit := services.NewAuditService(db)
	registry := tools.NewRegistry(time.Second, tools.NewSearchNotes(notes), tools.NewSearchTasks(tasks))
	orch := chat.NewOrchestrator(chat.Config{DefaultModel: cfg.DefaultModel, MaxToolRounds: cfg.MaxToolRounds},
		store, teams, notes, registry, model)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	routes.Setup(app, cfg,
		handlers.NewAuthHandler(cfg, users, teams, audit),
		handlers.NewChatHandler(context.Background(), orch, store, audit),
		handlers.NewNoteHandler(notes, audit),
		handlers.NewTaskHandler(tasks, audit),
		handlers.NewTeamHandler(teams, audit),
		handlers.NewAuditHandler(audit),
		handlers.NewSystemHandler(db, registry),
	)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, data)
	}
	return out
}

func register(t *testing.T, app *fiber.App, email string) (access, refresh string) {
	t.Helper()
	resp, data := do(t, app, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": email, "password": "correct horse", "display_name": "Test User",
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("register %s: status %d: %s", email, resp.StatusCode, data)
	}
	body := decode(t, data)
	return body["access_token"].(string), body["refresh_token"].(string)
}

func TestAuthFlow(t *testing.T) {
	app := newTestApp(t, &cannedClient{})
	access, refresh := register(t, app, "ada@example.com")

	resp, _ := do(t, app, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": "ADA@example.com", "password": "another pass",
	})
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}

	resp, _ = do(t, app, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "ada@example.com", "password": "wrong password",
	})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", resp.StatusCode)
	}

	resp, data := do(t, app, http.MethodGet, "/api/auth/me", access, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("me: status %d: %s", resp.StatusCode, data)
	}
	user := decode(t, data)["user"].(map[string]interface{})
	if user["avatar_initials"] != "TU" {
		t.Fatalf("unexpected initials %v", user["avatar_initials"])
	}

	resp, _ = do(t, app, http.MethodPost, "/api/auth/refresh", "", fiber.Map{"refresh_token": access})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("access token must not refresh, got %d", resp.StatusCode)
	}
	resp, _ = do(t, app, http.MethodPost, "/api/auth/refresh", "", fiber.Map{"refresh_token": refresh})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("refresh: status %d", resp.StatusCode)
	}

	resp, _ = do(t, app, http.MethodGet, "/api/auth/me", refresh, nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("refresh token must not authorize requests, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestApp(t, &cannedClient{})
	for _, path := range []string{"/api/notes", "/api/tasks", "/api/chat/conversations", "/api/auth/me"} {
		resp, _ := do(t, app, http.MethodGet, path, "", nil)
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}

	resp, _ := do(t, app, http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("health: expected 200, got %d", resp.StatusCode)
	}
}

func TestNoteLifecycle(t *testing.T) {
	app := newTestApp(t, &cannedClient{})
	token, _ := register(t, app, "notes@example.com")

	resp, data := do(t, app, http.MethodPost, "/api/notes", token, fiber.Map{
		"title": "Groceries", "content": "eggs and flour", "tags": []string{"home"},
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create: status %d: %s", resp.StatusCode, data)
	}
	id := decode(t, data)["id"].(string)

	resp, data = do(t, app, http.MethodPut, "/api/notes/"+id, token, fiber.Map{"content": "eggs, flour, milk"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("update: status %d: %s", resp.StatusCode, data)
	}

	resp, data = do(t, app, http.MethodGet, "/api/notes?q=milk", token, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("search: status %d", resp.StatusCode)
	}
	if found := decode(t, data)["notes"].([]interface{}); len(found) != 1 {
		t.Fatalf("expected 1 search hit, got %d", len(found))
	}

	resp, _ = do(t, app, http.MethodDelete, "/api/notes/"+id, token, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	resp, _ = do(t, app, http.MethodGet, "/api/notes/"+id, token, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestBadParamsAreRejected(t *testing.T) {
	app := newTestApp(t, &cannedClient{})
	token, _ := register(t, app, "params@example.com")

	resp, data := do(t, app, http.MethodGet, "/api/notes/not-a-uuid", token, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}
	if body := decode(t, data); body["error"] != true {
		t.Fatalf("expected error body, got %s", data)
	}

	resp, _ = do(t, app, http.MethodGet, "/api/tasks?team_id=nope", token, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for bad team_id, got %d", resp.StatusCode)
	}

	resp, _ = do(t, app, http.MethodGet, "/api/tasks?team_id=7b2f9c4e-3f6a-4d8e-9a1b-2c3d4e5f6a7b", token, nil)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 for a foreign team, got %d", resp.StatusCode)
	}
}

func TestTaskMove(t *testing.T) {
	app := newTestApp(t, &cannedClient{})
	token, _ := register(t, app, "tasks@example.com")

	resp, data := do(t, app, http.MethodPost, "/api/tasks", token, fiber.Map{"title": "Write report"})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("create: status %d: %s", resp.StatusCode, data)
	}
	id := decode(t, data)["id"].(string)

	resp, _ = do(t, app, http.MethodPost, "/api/tasks/"+id+"/move", token, fiber.Map{"status": "archived"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}

	resp, data = do(t, app, http.MethodPost, "/api/tasks/"+id+"/move", token, fiber.Map{"status": "done", "position": 0})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("move: status %d: %s", resp.StatusCode, data)
	}
	if got := decode(t, data)["status"]; got != "done" {
		t.Fatalf("expected status done, got %v", got)
	}
}

// streamTurn posts a chat request and folds the SSE response into a
// transcript.
func streamTurn(t *testing.T, app *fiber.App, path, token string, body chat.Request) (*http.Response, *chat.Transcript) {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		return resp, nil
	}

	tr := &chat.Transcript{}
	dec := chat.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("decode stream: %v", err)
		}
		if err := tr.Apply(ev); err != nil {
			t.Fatalf("apply %s: %v", ev.Type, err)
		}
	}
	return resp, tr
}

func TestAgentTurnStreamsEvents(t *testing.T) {
	model := &cannedClient{answer: "Hello there."}
	app := newTestApp(t, model)
	token, _ := register(t, app, "chat@example.com")

	resp, tr := streamTurn(t, app, "/api/chat/agent", token, chat.Request{Message: "Say hello"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !tr.Done || tr.Err != "" {
		t.Fatalf("turn did not finish cleanly: done=%v err=%q", tr.Done, tr.Err)
	}
	if tr.Content.String() != "Hello there." {
		t.Fatalf("unexpected content %q", tr.Content.String())
	}

	r, data := do(t, app, http.MethodGet, "/api/chat/conversations/"+tr.ConversationID, token, nil)
	if r.StatusCode != fiber.StatusOK {
		t.Fatalf("get conversation: status %d", r.StatusCode)
	}
	msgs := decode(t, data)["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}

	// A second turn continues the same conversation.
	_, tr2 := streamTurn(t, app, "/api/chat/ask", token, chat.Request{ConversationID: tr.ConversationID, Message: "Again"})
	if tr2 == nil || tr2.ConversationID != tr.ConversationID {
		t.Fatal("follow-up turn must reuse the conversation")
	}

	r, data = do(t, app, http.MethodGet, "/api/chat/conversations", token, nil)
	if r.StatusCode != fiber.StatusOK {
		t.Fatalf("list conversations: status %d", r.StatusCode)
	}
	if total := decode(t, data)["total"]; total != float64(1) {
		t.Fatalf("expected 1 conversation, got %v", total)
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	model := &cannedClient{answer: "unused"}
	app := newTestApp(t, model)
	token, _ := register(t, app, "strict@example.com")

	resp, data := do(t, app, http.MethodPost, "/api/chat/agent", token, chat.Request{Message: "hi", Model: "gpt-2"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for unknown model, got %d", resp.StatusCode)
	}
	if _, ok := decode(t, data)["models"]; !ok {
		t.Fatal("unknown model response should list the available models")
	}

	resp, _ = do(t, app, http.MethodPost, "/api/chat/ask", token, chat.Request{Message: "   "})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", resp.StatusCode)
	}

	if model.calls != 0 {
		t.Fatalf("rejected requests must not reach the model, got %d calls", model.calls)
	}
}

func TestForeignConversationIsNotFound(t *testing.T) {
	app := newTestApp(t, &cannedClient{answer: "private"})
	owner, _ := register(t, app, "owner@example.com")
	other, _ := register(t, app, "other@example.com")

	_, tr := streamTurn(t, app, "/api/chat/agent", owner, chat.Request{Message: "secret plans"})
	if tr == nil || tr.ConversationID == "" {
		t.Fatal("owner turn did not create a conversation")
	}

	resp, _ := do(t, app, http.MethodGet, "/api/chat/conversations/"+tr.ConversationID, other, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 reading a foreign conversation, got %d", resp.StatusCode)
	}

	resp, data := do(t, app, http.MethodPost, "/api/chat/agent", other, chat.Request{
		ConversationID: tr.ConversationID, Message: "continue",
	})
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 continuing a foreign conversation, got %d: %s", resp.StatusCode, data)
	}

	resp, _ = do(t, app, http.MethodDelete, "/api/chat/conversations/"+tr.ConversationID, other, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 deleting a foreign conversation, got %d", resp.StatusCode)
	}
}
