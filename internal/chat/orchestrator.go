package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ahmetk3436/inkwell/internal/llm"
	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/ahmetk3436/inkwell/internal/tools"
	"github.com/google/uuid"
)

const emptyAnswer = "I couldn't generate a response. Please try again."

var (
	errClientGone   = errors.New("client disconnected")
	errStreamEnded  = errors.New("model stream ended before completion")
	errModelFailure = errors.New("model call failed")
)

type Config struct {
	DefaultModel  string
	MaxToolRounds int
}

// Orchestrator drives chat turns: model calls, tool dispatch between
// them, persistence of every message, and the event stream to the
// client.
type Orchestrator struct {
	store        *services.ConversationStore
	teams        *services.TeamService
	notes        *services.NoteService
	registry     *tools.Registry
	client       llm.Client
	defaultModel string
	maxRounds    int
}

func NewOrchestrator(cfg Config, store *services.ConversationStore, teams *services.TeamService, notes *services.NoteService, registry *tools.Registry, client llm.Client) *Orchestrator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 6
	}
	return &Orchestrator{
		store:        store,
		teams:        teams,
		notes:        notes,
		registry:     registry,
		client:       client,
		defaultModel: cfg.DefaultModel,
		maxRounds:    cfg.MaxToolRounds,
	}
}

// turnSink cancels the turn the first time a write fails. Later sends
// report the same error without writing. An event that fails to encode
// is returned as is and leaves the connection open.
type turnSink struct {
	sink   Sink
	cancel context.CancelFunc
	mu     sync.Mutex
	err    error
}

func (s *turnSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if err := s.sink.Send(ev); err != nil {
		if errors.Is(err, ErrEncode) {
			return err
		}
		s.err = fmt.Errorf("%w: %v", errClientGone, err)
		s.cancel()
	}
	return s.err
}

func (s *turnSink) failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// turnState is what one turn accumulates across model steps.
type turnState struct {
	turn         *Turn
	conv         *models.Conversation
	userMsg      *models.Message
	history      []llm.Message
	system       string
	content      strings.Builder
	reasoning    []string
	sources      []models.Source
	seenSources  map[string]bool
	rounds       int
	toolCalls    int
	stepHasDelta bool
}

// Run executes turn and streams its events to sink. The returned error
// is for logging; the client has already been told through an error
// event when it could be reached.
func (o *Orchestrator) Run(parent context.Context, turn *Turn, sink Sink) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	out := &turnSink{sink: sink, cancel: cancel}

	start := time.Now()
	st := &turnState{turn: turn, conv: turn.conversation, seenSources: map[string]bool{}}
	log := slog.With("request_id", turn.RequestID, "user_id", turn.Scope.UserID, "mode", turn.Mode, "model", turn.Model)

	msgID, err := o.run(ctx, st, out)
	if err != nil {
		if gone := out.failed(); gone != nil {
			log.Info("Chat turn abandoned", "conversation_id", convID(st), "error", gone)
			return gone
		}
		log.Error("Chat turn failed", "conversation_id", convID(st), "error", err)
		_ = out.Send(Event{Type: EventError, Message: userMessage(err)})
		return err
	}

	log.Info("Chat turn completed",
		"conversation_id", st.conv.ID,
		"message_id", msgID,
		"rounds", st.rounds,
		"tool_calls", st.toolCalls,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func convID(st *turnState) string {
	if st.conv == nil {
		return ""
	}
	return st.conv.ID.String()
}

func (o *Orchestrator) run(ctx context.Context, st *turnState, out *turnSink) (uuid.UUID, error) {
	turn := st.turn
	if st.conv == nil {
		conv, err := o.store.CreateConversation(ctx, turn.Scope, turn.Message)
		if err != nil {
			return uuid.Nil, fmt.Errorf("create conversation: %w", err)
		}
		st.conv = conv
	}
	if err := out.Send(Event{Type: EventConversation, ConversationID: st.conv.ID.String()}); err != nil {
		return uuid.Nil, err
	}

	userMsg, err := o.store.AppendMessage(ctx, st.conv.ID, services.NewMessage{
		Role:    models.RoleUser,
		Content: turn.Message,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("save user message: %w", err)
	}
	st.userMsg = userMsg

	stored, err := o.store.Messages(ctx, st.conv.ID)
	if err != nil {
		return uuid.Nil, err
	}
	agent := turn.Mode == ModeAgent
	st.history = buildHistory(stored, agent)

	var toolNames []string
	if agent {
		toolNames = o.registry.Names()
	}
	st.system = llm.BuildSystemPrompt(llm.PromptContext{
		Agent:    agent,
		Route:    turn.Route,
		TeamName: turn.teamName,
		Notes:    turn.notes,
		Tools:    toolNames,
	})

	for {
		withTools := agent && st.rounds < o.maxRounds
		calls, err := o.step(ctx, st, out, withTools)
		if err != nil {
			return uuid.Nil, err
		}
		if len(calls) == 0 {
			break
		}
		st.rounds++
		for _, call := range calls {
			if err := o.dispatch(ctx, st, out, call); err != nil {
				return uuid.Nil, err
			}
		}
	}

	return o.finish(ctx, st, out)
}

// step makes one model call and forwards its stream. It returns the tool
// calls the model requested, which is empty when the model answered.
func (o *Orchestrator) step(ctx context.Context, st *turnState, out *turnSink, withTools bool) ([]pendingCall, error) {
	req := llm.Request{
		Model:    st.turn.Model,
		Messages: append([]llm.Message{{Role: llm.RoleSystem, Content: st.system}}, st.history...),
	}
	if withTools {
		req.Tools = o.registry.Definitions()
	}

	var (
		calls     []pendingCall
		reasoning string
		done      bool
	)
	st.stepHasDelta = false
	prior := strings.Join(st.reasoning, "\n\n")

	for ev := range o.client.Stream(ctx, req) {
		var err error
		switch ev.Type {
		case llm.EventContentDelta:
			delta := ev.Text
			if !st.stepHasDelta && st.content.Len() > 0 {
				delta = "\n\n" + delta
			}
			st.stepHasDelta = true
			st.content.WriteString(delta)
			err = out.Send(Event{Type: EventContent, Delta: delta})
		case llm.EventReasoning:
			reasoning = ev.Text
			text := reasoning
			if prior != "" {
				text = prior + "\n\n" + reasoning
			}
			err = out.Send(Event{Type: EventReasoning, Text: text})
		case llm.EventToolCallStart:
			if withTools {
				err = out.Send(Event{Type: EventToolCallStart, ToolCallID: ev.ToolCall.ID, Name: ev.ToolCall.Name})
			}
		case llm.EventToolCall:
			if withTools {
				pc := checkArgs(ev.ToolCall)
				calls = append(calls, pc)
				err = out.Send(Event{Type: EventToolCall, ToolCallID: pc.call.ID, Name: pc.call.Name, Args: pc.call.Args})
			}
		case llm.EventDone:
			done = true
		case llm.EventError:
			return nil, fmt.Errorf("%w: %s", errModelFailure, ev.Text)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := out.failed(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !done {
		return nil, errStreamEnded
	}
	if reasoning != "" {
		st.reasoning = append(st.reasoning, reasoning)
	}
	return calls, nil
}

// pendingCall is a tool call requested by the model. argErr is set when
// its arguments were not valid JSON; call.Args then holds the raw text as
// a JSON string.
type pendingCall struct {
	call   llm.ToolCall
	argErr error
}

func checkArgs(call llm.ToolCall) pendingCall {
	if len(bytes.TrimSpace(call.Args)) == 0 {
		call.Args = json.RawMessage("{}")
	}
	if json.Valid(call.Args) {
		return pendingCall{call: call}
	}
	raw, _ := json.Marshal(string(call.Args))
	call.Args = raw
	return pendingCall{
		call:   call,
		argErr: fmt.Errorf("%w: arguments are not valid JSON", tools.ErrInvalidArguments),
	}
}

// dispatch runs one tool call and persists it as a tool_call and
// tool_result pair. Tool failures become the result's error field.
func (o *Orchestrator) dispatch(ctx context.Context, st *turnState, out *turnSink, pc pendingCall) error {
	call := pc.call
	st.toolCalls++
	parent := st.userMsg.ID
	callMsg, err := o.store.AppendMessage(ctx, st.conv.ID, services.NewMessage{
		Role:     models.RoleAssistant,
		Content:  string(call.Args),
		ParentID: &parent,
		Metadata: models.ToolCallMetadata{
			ToolName:   call.Name,
			ToolCallID: call.ID,
			ToolArgs:   call.Args,
			Model:      st.turn.Model,
		},
	})
	if err != nil {
		return fmt.Errorf("save tool call: %w", err)
	}

	start := time.Now()
	var (
		result  tools.Output
		toolErr = pc.argErr
	)
	if toolErr == nil {
		result, toolErr = o.registry.Invoke(ctx, st.turn.Scope, call.Name, call.Args)
	}
	meta := models.ToolResultMetadata{ToolName: call.Name, ToolCallID: call.ID}
	content := ""
	if toolErr != nil {
		meta.Error = toolErr.Error()
		content = meta.Error
		slog.Warn("Tool call failed", "tool", call.Name, "conversation_id", st.conv.ID, "error", toolErr)
	} else {
		meta.ToolResult = result.Text
		content = result.Text
		st.addSources(result.Sources)
	}
	slog.Debug("Tool call finished", "tool", call.Name, "duration_ms", time.Since(start).Milliseconds())

	// The pair is completed even if the client left during the tool.
	resultParent := callMsg.ID
	if _, err := o.store.AppendMessage(context.WithoutCancel(ctx), st.conv.ID, services.NewMessage{
		Role:     models.RoleAssistant,
		Content:  content,
		ParentID: &resultParent,
		Metadata: meta,
	}); err != nil {
		return fmt.Errorf("save tool result: %w", err)
	}

	st.history = append(st.history,
		llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
		llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: toolResultText(meta)},
	)
	return out.Send(Event{
		Type:       EventToolResult,
		ToolCallID: call.ID,
		Name:       call.Name,
		Result:     meta.ToolResult,
		Error:      meta.Error,
	})
}

func (st *turnState) addSources(sources []models.Source) {
	for _, s := range sources {
		if s.URL == "" || st.seenSources[s.URL] {
			continue
		}
		st.seenSources[s.URL] = true
		st.sources = append(st.sources, s)
	}
}

// finish persists the assistant answer and closes the stream with done.
func (o *Orchestrator) finish(ctx context.Context, st *turnState, out *turnSink) (uuid.UUID, error) {
	if strings.TrimSpace(st.content.String()) == "" {
		st.content.Reset()
		st.content.WriteString(emptyAnswer)
		if err := out.Send(Event{Type: EventContent, Delta: emptyAnswer}); err != nil {
			return uuid.Nil, err
		}
	}

	parent := st.userMsg.ID
	msg, err := o.store.AppendMessage(ctx, st.conv.ID, services.NewMessage{
		Role:     models.RoleAssistant,
		Content:  st.content.String(),
		ParentID: &parent,
		Metadata: models.ContentMetadata{
			Model:     st.turn.Model,
			Reasoning: strings.Join(st.reasoning, "\n\n"),
			Sources:   st.sources,
		},
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("save assistant message: %w", err)
	}

	if len(st.sources) > 0 {
		if err := out.Send(Event{Type: EventSources, Sources: st.sources}); err != nil {
			return uuid.Nil, err
		}
	}
	if err := out.Send(Event{Type: EventDone, ConversationID: st.conv.ID.String(), MessageID: msg.ID.String()}); err != nil {
		return uuid.Nil, err
	}
	return msg.ID, nil
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, errModelFailure):
		return strings.TrimPrefix(err.Error(), errModelFailure.Error()+": ")
	case errors.Is(err, errStreamEnded):
		return "The model stream ended unexpectedly. Please try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request took too long. Please try again."
	default:
		return "Failed to process the message. Please try again."
	}
}
