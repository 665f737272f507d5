// Package mcpserver exposes a user's workspace to MCP clients: the chat
// tool registry plus read access to stored conversations.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/ahmetk3436/inkwell/internal/tools"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var Version = "1.0.0"

const (
	listConversationsName = "list_conversations"
	getConversationName   = "get_conversation"
	maxTranscriptMessages = 200
)

// Bridge serves MCP tool calls on behalf of one user.
type Bridge struct {
	user     *models.User
	registry *tools.Registry
	store    *services.ConversationStore
}

func NewBridge(user *models.User, registry *tools.Registry, store *services.ConversationStore) *Bridge {
	return &Bridge{user: user, registry: registry, store: store}
}

// New creates an MCP server with every registry tool and the
// conversation tools registered.
func New(b *Bridge) *server.MCPServer {
	s := server.NewMCPServer(
		"inkwell",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Tools operate on the notes, tasks and chat history of "+b.user.Email+"."),
	)

	for _, name := range b.registry.Names() {
		tool, _ := b.registry.Lookup(name)
		s.AddTool(tool.Definition(), b.Invoke(name))
	}
	s.AddTool(listConversationsTool(), b.ListConversations)
	s.AddTool(getConversationTool(), b.GetConversation)
	return s
}

// scope resolves the optional team_id argument.
func (b *Bridge) scope(args map[string]any) (services.Scope, error) {
	scope := services.PersonalScope(b.user.ID)
	raw, _ := args["team_id"].(string)
	if raw == "" {
		return scope, nil
	}
	teamID, err := uuid.Parse(raw)
	if err != nil {
		return scope, fmt.Errorf("team_id is not a valid id")
	}
	scope.TeamID = &teamID
	return scope, nil
}

// Invoke returns a handler running the named registry tool in the
// user's personal scope. Tool failures are reported as error results.
func (b *Bridge) Invoke(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		raw, err := json.Marshal(args)
		if err != nil {
			return mcp.NewToolResultError("arguments are not valid JSON"), nil
		}
		out, err := b.registry.Invoke(ctx, services.PersonalScope(b.user.ID), name, raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(withSources(out)), nil
	}
}

func withSources(out tools.Output) string {
	if len(out.Sources) == 0 {
		return out.Text
	}
	var sb strings.Builder
	sb.WriteString(out.Text)
	sb.WriteString("\n\nSources:\n")
	for _, s := range out.Sources {
		title := s.Title
		if title == "" {
			title = s.URL
		}
		fmt.Fprintf(&sb, "- %s <%s>\n", title, s.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func listConversationsTool() mcp.Tool {
	return mcp.NewTool(listConversationsName,
		mcp.WithDescription("List chat conversations, most recently updated first."),
		mcp.WithString("team_id",
			mcp.Description("List a team's conversations instead of personal ones."),
		),
		mcp.WithNumber("page",
			mcp.Description("Page number, starting at 1."),
		),
		mcp.WithNumber("per_page",
			mcp.Description("Conversations per page, at most 50. Defaults to 20."),
		),
	)
}

func getConversationTool() mcp.Tool {
	return mcp.NewTool(getConversationName,
		mcp.WithDescription("Read a conversation transcript, including tool calls and their results."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Conversation id from list_conversations."),
		),
	)
}

func intArg(args map[string]any, key string, fallback, limit int) int {
	f, ok := args[key].(float64)
	if !ok || f < 1 || int(f) > limit {
		return fallback
	}
	return int(f)
}

func (b *Bridge) ListConversations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	scope, err := b.scope(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page := intArg(args, "page", 1, 1<<20)
	perPage := intArg(args, "per_page", 20, 50)

	convs, total, err := b.store.ListConversations(ctx, scope, page, perPage)
	if err != nil {
		return mcp.NewToolResultError(describe(err)), nil
	}
	if len(convs) == 0 {
		return mcp.NewToolResultText("No conversations found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d conversation(s), page %d:\n\n", total, page)
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&sb, "- %s (id: %s, %d messages, updated %s)\n",
			title, c.ID, c.MessageCount, c.UpdatedAt.Format("2006-01-02 15:04"))
		if c.LastMessage != "" {
			fmt.Fprintf(&sb, "  %s\n", c.LastMessage)
		}
	}
	return mcp.NewToolResultText(strings.TrimSpace(sb.String())), nil
}

func (b *Bridge) GetConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, _ := req.GetArguments()["id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return mcp.NewToolResultError("id is not a valid conversation id"), nil
	}

	conv, msgs, err := b.store.GetConversation(ctx, b.user.ID, id)
	if err != nil {
		return mcp.NewToolResultError(describe(err)), nil
	}
	return mcp.NewToolResultText(transcript(conv, msgs)), nil
}

func transcript(conv *models.Conversation, msgs []models.Message) string {
	var sb strings.Builder
	title := conv.Title
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(&sb, "# %s\n", title)

	if len(msgs) > maxTranscriptMessages {
		fmt.Fprintf(&sb, "\n(showing the last %d of %d messages)\n", maxTranscriptMessages, len(msgs))
		msgs = msgs[len(msgs)-maxTranscriptMessages:]
	}

	for _, m := range msgs {
		meta, err := m.DecodeMetadata()
		if err != nil {
			continue
		}
		switch md := meta.(type) {
		case models.ToolCallMetadata:
			fmt.Fprintf(&sb, "\n[tool call] %s %s\n", md.ToolName, string(md.ToolArgs))
		case models.ToolResultMetadata:
			if md.Error != "" {
				fmt.Fprintf(&sb, "[tool error] %s: %s\n", md.ToolName, md.Error)
			} else {
				fmt.Fprintf(&sb, "[tool result] %s: %d characters\n", md.ToolName, len(md.ToolResult))
			}
		default:
			fmt.Fprintf(&sb, "\n**%s**: %s\n", m.Role, m.Content)
		}
	}
	return strings.TrimSpace(sb.String())
}

func describe(err error) string {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return "conversation not found"
	case errors.Is(err, services.ErrForbidden):
		return "you do not have access to this team"
	}
	return err.Error()
}
