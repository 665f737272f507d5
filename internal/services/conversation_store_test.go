package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*ConversationStore, *TeamService, *models.User) {
	t.Helper()
	db := newTestDB(t)
	teams := NewTeamService(db)
	return NewConversationStore(db, teams), teams, newTestUser(t, db, "owner@example.com")
}

func TestAppendMessageAssignsSequentialOrder(t *testing.T) {
	ctx := context.Background()
	store, _, user := newTestStore(t)

	conv, err := store.CreateConversation(ctx, PersonalScope(user.ID), "orders")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	const n = 7
	for i := 0; i < n; i++ {
		msg, err := store.AppendMessage(ctx, conv.ID, NewMessage{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
		if msg.Order != i {
			t.Fatalf("expected order %d, got %d", i, msg.Order)
		}
	}

	_, msgs, err := store.GetConversation(ctx, user.ID, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if m.Order != i {
			t.Fatalf("message %d has order %d", i, m.Order)
		}
		if m.Content != fmt.Sprintf("message %d", i) {
			t.Fatalf("message %d out of order: %q", i, m.Content)
		}
	}
}

func TestAppendMessageStoresToolMetadata(t *testing.T) {
	ctx := context.Background()
	store, _, user := newTestStore(t)
	conv, _ := store.CreateConversation(ctx, PersonalScope(user.ID), "")

	msg, err := store.AppendMessage(ctx, conv.ID, NewMessage{
		Role: models.RoleAssistant,
		Metadata: models.ToolCallMetadata{
			ToolName:   "search_notes",
			ToolCallID: "call_1",
			ToolArgs:   json.RawMessage(`{"query":"x"}`),
		},
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if msg.MessageType != models.MessageTypeToolCall {
		t.Fatalf("expected tool_call type, got %q", msg.MessageType)
	}

	msgs, err := store.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	meta, err := msgs[0].DecodeMetadata()
	if err != nil {
		t.Fatalf("DecodeMetadata failed: %v", err)
	}
	if call := meta.(models.ToolCallMetadata); call.ToolName != "search_notes" {
		t.Fatalf("unexpected tool name %q", call.ToolName)
	}
}

// collideOnCreate makes the next n message inserts lose the order race:
// a competing row with the same sort_order is written just before each.
// It returns a counter of intercepted inserts.
func collideOnCreate(t *testing.T, db *gorm.DB, n int) *int {
	t.Helper()
	attempts := 0
	inHook := false
	err := db.Callback().Create().Before("gorm:create").Register("test:collide", func(tx *gorm.DB) {
		msg, ok := tx.Statement.Dest.(*models.Message)
		if !ok || inHook {
			return
		}
		attempts++
		if n == 0 {
			return
		}
		n--
		inHook = true
		defer func() { inHook = false }()
		rival := &models.Message{
			ID:             uuid.New(),
			ConversationID: msg.ConversationID,
			Role:           models.RoleUser,
			Content:        "rival",
			MessageType:    models.MessageTypeContent,
			Order:          msg.Order,
			Metadata:       datatypes.JSON("{}"),
		}
		if err := tx.Session(&gorm.Session{NewDB: true, SkipHooks: true}).Create(rival).Error; err != nil {
			t.Errorf("insert rival row: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	return &attempts
}

func TestAppendMessageRetriesLostOrderRace(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewConversationStore(db, NewTeamService(db))
	user := newTestUser(t, db, "race@example.com")

	conv, err := store.CreateConversation(ctx, PersonalScope(user.ID), "race")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if _, err := store.AppendMessage(ctx, conv.ID, NewMessage{Role: models.RoleUser, Content: "first"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	attempts := collideOnCreate(t, db, 1)
	msg, err := store.AppendMessage(ctx, conv.ID, NewMessage{Role: models.RoleAssistant, Content: "second"})
	if err != nil {
		t.Fatalf("AppendMessage should succeed after a retry: %v", err)
	}
	if *attempts != 2 {
		t.Fatalf("expected one retry, saw %d insert attempts", *attempts)
	}
	if msg.Order != 1 {
		t.Fatalf("expected order 1, got %d", msg.Order)
	}

	msgs, err := store.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "second" {
		t.Fatalf("unexpected messages after retry: %+v", msgs)
	}
}

func TestAppendMessageGivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewConversationStore(db, NewTeamService(db))
	user := newTestUser(t, db, "race@example.com")

	conv, err := store.CreateConversation(ctx, PersonalScope(user.ID), "race")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	attempts := collideOnCreate(t, db, maxOrderRetries+1)
	_, err = store.AppendMessage(ctx, conv.ID, NewMessage{Role: models.RoleUser, Content: "never"})
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected ErrDuplicatedKey, got %v", err)
	}
	if *attempts != maxOrderRetries {
		t.Fatalf("expected %d attempts, got %d", maxOrderRetries, *attempts)
	}
}

func TestAppendMessageRejectsToolCallWithoutName(t *testing.T) {
	ctx := context.Background()
	store, _, user := newTestStore(t)
	conv, _ := store.CreateConversation(ctx, PersonalScope(user.ID), "")

	_, err := store.AppendMessage(ctx, conv.ID, NewMessage{
		Role:     models.RoleAssistant,
		Metadata: models.ToolCallMetadata{ToolCallID: "call_1"},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.AppendMessage(context.Background(), uuid.New(), NewMessage{Role: models.RoleUser, Content: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetConversationScope(t *testing.T) {
	ctx := context.Background()
	store, teams, owner := newTestStore(t)
	stranger := newTestUser(t, store.db, "stranger@example.com")
	teammate := newTestUser(t, store.db, "mate@example.com")

	personal, _ := store.CreateConversation(ctx, PersonalScope(owner.ID), "mine")
	if _, _, err := store.GetConversation(ctx, stranger.ID, personal.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stranger to get ErrNotFound, got %v", err)
	}

	team, err := teams.CreateTeam(ctx, owner.ID, "Research")
	if err != nil {
		t.Fatalf("CreateTeam failed: %v", err)
	}
	if _, err := teams.AddMember(ctx, owner.ID, team.ID, teammate.Email, models.TeamRoleMember); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	shared, err := store.CreateConversation(ctx, Scope{UserID: owner.ID, TeamID: &team.ID}, "shared")
	if err != nil {
		t.Fatalf("CreateConversation in team failed: %v", err)
	}
	if _, _, err := store.GetConversation(ctx, teammate.ID, shared.ID); err != nil {
		t.Fatalf("expected teammate access, got %v", err)
	}
	if _, _, err := store.GetConversation(ctx, stranger.ID, shared.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stranger to get ErrNotFound on team conversation, got %v", err)
	}
	if _, err := store.CreateConversation(ctx, Scope{UserID: stranger.ID, TeamID: &team.ID}, "x"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden creating in foreign team, got %v", err)
	}
	if err := store.DeleteConversation(ctx, teammate.ID, shared.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected only owner to delete, got %v", err)
	}
}

func TestListConversationsPreview(t *testing.T) {
	ctx := context.Background()
	store, _, user := newTestStore(t)
	scope := PersonalScope(user.ID)

	first, _ := store.CreateConversation(ctx, scope, "first")
	second, _ := store.CreateConversation(ctx, scope, "second")
	store.AppendMessage(ctx, first.ID, NewMessage{Role: models.RoleUser, Content: "hello"})
	store.AppendMessage(ctx, first.ID, NewMessage{Role: models.RoleAssistant, Content: "hi there"})

	summaries, total, err := store.ListConversations(ctx, scope, 1, 20)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if total != 2 || len(summaries) != 2 {
		t.Fatalf("expected 2 conversations, got total=%d len=%d", total, len(summaries))
	}

	byID := map[uuid.UUID]ConversationSummary{}
	for _, s := range summaries {
		byID[s.ID] = s
	}
	if got := byID[first.ID]; got.MessageCount != 2 || got.LastMessage != "hi there" {
		t.Fatalf("unexpected preview for first: %+v", got)
	}
	if got := byID[second.ID]; got.MessageCount != 0 || got.LastMessage != "" {
		t.Fatalf("unexpected preview for empty conversation: %+v", got)
	}
	if summaries[0].ID != first.ID {
		t.Fatalf("expected most recently updated conversation first")
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	store, _, user := newTestStore(t)
	conv, _ := store.CreateConversation(ctx, PersonalScope(user.ID), "bye")
	store.AppendMessage(ctx, conv.ID, NewMessage{Role: models.RoleUser, Content: "one"})
	store.AppendMessage(ctx, conv.ID, NewMessage{Role: models.RoleUser, Content: "two"})

	if err := store.DeleteConversation(ctx, user.ID, conv.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if _, _, err := store.GetConversation(ctx, user.ID, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	var remaining int64
	store.db.Model(&models.Message{}).Where("conversation_id = ?", conv.ID).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("expected messages to be deleted, %d remain", remaining)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	got := truncate("héllo wörld", 2)
	if got != "h..." {
		t.Fatalf("expected cut before multi-byte rune, got %q", got)
	}
	if truncate("short", 10) != "short" {
		t.Fatalf("short strings must be unchanged")
	}
}
