package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ahmetk3436/inkwell/internal/llm"
	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/google/uuid"
)

var ErrInvalidRequest = errors.New("invalid chat request")

const (
	maxMessageLength = 32000
	maxNoteRefs      = 10
)

type Mode string

const (
	ModeAsk   Mode = "ask"
	ModeAgent Mode = "agent"
)

func (m Mode) Valid() bool {
	return m == ModeAsk || m == ModeAgent
}

// Request is the body a client submits to start a turn.
type Request struct {
	ConversationID string        `json:"conversationId"`
	Message        string        `json:"message"`
	Model          string        `json:"model"`
	Context        ClientContext `json:"context"`
}

// ClientContext carries UI hints for the system prompt.
type ClientContext struct {
	Route   string   `json:"route"`
	NoteIDs []string `json:"noteIds"`
	TeamID  string   `json:"teamId"`
}

// Turn is a validated request, ready to run. Nothing has been written
// yet.
type Turn struct {
	Mode    Mode
	Model   string
	Message string
	Scope   services.Scope
	Route   string
	// RequestID tags the turn's log lines.
	RequestID string

	conversation *models.Conversation
	notes        []models.Note
	teamName     string
}

// ConversationID returns the id of the conversation the turn continues,
// or uuid.Nil when a new one will be created.
func (t *Turn) ConversationID() uuid.UUID {
	if t.conversation == nil {
		return uuid.Nil
	}
	return t.conversation.ID
}

// Prepare validates req for userID. Bad input fails with
// ErrInvalidRequest, an unreadable conversation with
// services.ErrNotFound, and a foreign team with services.ErrForbidden.
func (o *Orchestrator) Prepare(ctx context.Context, userID uuid.UUID, mode Mode, req Request) (*Turn, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, mode)
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidRequest, maxMessageLength)
	}
	model, err := llm.ValidateModel(req.Model, o.defaultModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	turn := &Turn{
		Mode:    mode,
		Model:   model,
		Message: message,
		Scope:   services.PersonalScope(userID),
		Route:   strings.TrimSpace(req.Context.Route),
	}

	if req.ConversationID != "" {
		convID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("%w: conversationId is not a valid id", ErrInvalidRequest)
		}
		conv, err := o.store.Authorize(ctx, userID, convID)
		if err != nil {
			return nil, err
		}
		turn.conversation = conv
		turn.Scope.TeamID = conv.TeamID
	} else if req.Context.TeamID != "" {
		teamID, err := uuid.Parse(req.Context.TeamID)
		if err != nil {
			return nil, fmt.Errorf("%w: teamId is not a valid id", ErrInvalidRequest)
		}
		turn.Scope.TeamID = &teamID
	}

	if turn.Scope.TeamID != nil {
		team, err := o.teams.Team(ctx, *turn.Scope.TeamID, userID)
		if err != nil {
			return nil, err
		}
		turn.teamName = team.Name
	}

	if len(req.Context.NoteIDs) > maxNoteRefs {
		return nil, fmt.Errorf("%w: at most %d notes can be referenced", ErrInvalidRequest, maxNoteRefs)
	}
	ids := make([]uuid.UUID, 0, len(req.Context.NoteIDs))
	for _, raw := range req.Context.NoteIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: noteIds contains an invalid id", ErrInvalidRequest)
		}
		ids = append(ids, id)
	}
	if turn.notes, err = o.notes.GetMany(ctx, turn.Scope, ids); err != nil {
		return nil, err
	}

	return turn, nil
}
