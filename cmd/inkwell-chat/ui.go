package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/chat"
	"github.com/ahmetk3436/inkwell/internal/client"
	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

type chatAPI interface {
	Stream(ctx context.Context, mode chat.Mode, req chat.Request) (*client.Stream, error)
	GetConversation(ctx context.Context, id string) (*client.Conversation, error)
}

type streamEventMsg struct{ event chat.Event }

type turnEndMsg struct{ err error }

type conversationMsg struct {
	conv *client.Conversation
	err  error
}

type uiTheme struct {
	header lipgloss.Style
	user   lipgloss.Style
	bot    lipgloss.Style
	tool   lipgloss.Style
	muted  lipgloss.Style
	errorS lipgloss.Style
	status lipgloss.Style
	input  lipgloss.Style
}

func newTheme() uiTheme {
	accent := lipgloss.Color("#7dd3fc")
	mint := lipgloss.Color("#86efac")
	muted := lipgloss.Color("#94a3b8")
	red := lipgloss.Color("#fca5a5")

	return uiTheme{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(muted),
		user:   lipgloss.NewStyle().Foreground(mint).Bold(true),
		bot:    lipgloss.NewStyle().Foreground(accent).Bold(true),
		tool:   lipgloss.NewStyle().Foreground(muted).Italic(true),
		muted:  lipgloss.NewStyle().Foreground(muted),
		errorS: lipgloss.NewStyle().Foreground(red).Bold(true),
		status: lipgloss.NewStyle().Foreground(muted),
		input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
	}
}

type model struct {
	api            chatAPI
	mode           chat.Mode
	modelName      string
	conversationID string

	history []models.Message
	// live is the provisional view of the running turn; it is replaced by
	// the persisted transcript once the turn ends.
	live      *chat.Transcript
	pending   string
	streaming bool
	events    chan tea.Msg
	cancel    context.CancelFunc
	status    string

	width    int
	height   int
	input    textinput.Model
	view     viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	theme    uiTheme
}

func newModel(api chatAPI, mode chat.Mode, modelName, conversationID string) model {
	input := textinput.New()
	input.Prompt = "› "
	input.Placeholder = "Ask about your notes and tasks, or paste a URL"
	input.CharLimit = 32000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7dd3fc"))

	return model{
		api:            api,
		mode:           mode,
		modelName:      modelName,
		conversationID: conversationID,
		status:         "ready",
		input:          input,
		view:           viewport.New(0, 0),
		spinner:        sp,
		theme:          newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	if m.conversationID != "" {
		return tea.Batch(textinput.Blink, m.reloadCmd())
	}
	return textinput.Blink
}

func (m model) reloadCmd() tea.Cmd {
	api, id := m.api, m.conversationID
	return func() tea.Msg {
		conv, err := api.GetConversation(context.Background(), id)
		return conversationMsg{conv: conv, err: err}
	}
}

func waitEvent(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// runTurn forwards a turn's events to out and closes it when the
// stream is over.
func runTurn(ctx context.Context, api chatAPI, mode chat.Mode, req chat.Request, out chan<- tea.Msg) {
	defer close(out)
	stream, err := api.Stream(ctx, mode, req)
	if err != nil {
		out <- turnEndMsg{err: err}
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			out <- turnEndMsg{}
			return
		}
		if err != nil {
			out <- turnEndMsg{err: err}
			return
		}
		out <- streamEventMsg{event: ev}
	}
}

func (m *model) startTurn(text string) tea.Cmd {
	req := chat.Request{ConversationID: m.conversationID, Message: text, Model: m.modelName}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.events = make(chan tea.Msg, 64)
	m.live = &chat.Transcript{}
	m.pending = text
	m.streaming = true
	m.status = "thinking"
	go runTurn(ctx, m.api, m.mode, req, m.events)
	return tea.Batch(m.spinner.Tick, waitEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-6, 3)
		m.input.Width = max(msg.Width-6, 10)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(msg.Width-4, 20)),
		)
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "esc":
			if m.streaming && m.cancel != nil {
				m.cancel()
				m.status = "cancelling"
			}
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.streaming {
				return m, nil
			}
			m.input.Reset()
			cmd := m.startTurn(text)
			m.refresh()
			return m, cmd
		}

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case streamEventMsg:
		m.applyEvent(msg.event)
		m.refresh()
		return m, waitEvent(m.events)

	case turnEndMsg:
		m.streaming = false
		m.cancel = nil
		switch {
		case msg.err != nil:
			m.status = describeError(msg.err)
		case m.live != nil && !m.live.Finished():
			m.status = "stream interrupted"
		case m.live != nil && m.live.Err != "":
			m.status = "error: " + m.live.Err
		default:
			m.status = "ready"
		}
		m.refresh()
		if m.conversationID != "" {
			return m, m.reloadCmd()
		}
		return m, nil

	case conversationMsg:
		if msg.err != nil {
			m.status = "reload failed: " + describeError(msg.err)
			return m, nil
		}
		m.history = msg.conv.Messages
		m.conversationID = msg.conv.Conversation.ID.String()
		if !m.streaming {
			m.live = nil
			m.pending = ""
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) applyEvent(ev chat.Event) {
	if m.live == nil {
		return
	}
	if err := m.live.Apply(ev); err != nil {
		m.status = err.Error()
		return
	}
	switch ev.Type {
	case chat.EventConversation:
		m.conversationID = ev.ConversationID
	case chat.EventToolCallStart:
		m.status = "running " + ev.Name
	case chat.EventContent:
		m.status = "writing"
	case chat.EventDone:
		if ev.ConversationID != "" {
			m.conversationID = ev.ConversationID
		}
	}
}

func describeError(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}

func (m *model) refresh() {
	m.view.SetContent(m.transcriptView())
	m.view.GotoBottom()
}

func (m model) markdown(s string) string {
	if m.renderer == nil {
		return s
	}
	out, err := m.renderer.Render(s)
	if err != nil {
		return s
	}
	return strings.TrimRight(out, "\n")
}

func (m model) transcriptView() string {
	var sb strings.Builder
	for i := range m.history {
		m.writeMessage(&sb, &m.history[i])
	}
	if m.live != nil {
		m.writeLive(&sb)
	}
	if sb.Len() == 0 {
		return m.theme.muted.Render("No messages yet.")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m model) writeMessage(sb *strings.Builder, msg *models.Message) {
	meta, err := msg.DecodeMetadata()
	if err != nil {
		return
	}
	switch md := meta.(type) {
	case models.ToolCallMetadata:
		sb.WriteString(m.theme.tool.Render(fmt.Sprintf("  ⚙ %s %s", md.ToolName, string(md.ToolArgs))) + "\n")
	case models.ToolResultMetadata:
		if md.Error != "" {
			sb.WriteString(m.theme.errorS.Render("    ↳ "+md.Error) + "\n")
		} else {
			sb.WriteString(m.theme.tool.Render(fmt.Sprintf("    ↳ %d characters", len(md.ToolResult))) + "\n")
		}
	case models.ContentMetadata:
		if msg.Role == models.RoleUser {
			sb.WriteString(m.theme.user.Render("You") + "\n" + msg.Content + "\n\n")
			return
		}
		sb.WriteString(m.theme.bot.Render("Inkwell") + "\n" + m.markdown(msg.Content) + "\n")
		m.writeSources(sb, md.Sources)
		sb.WriteString("\n")
	}
}

func (m model) writeLive(sb *strings.Builder) {
	if m.pending != "" {
		sb.WriteString(m.theme.user.Render("You") + "\n" + m.pending + "\n\n")
	}
	for _, call := range m.live.ToolCalls {
		mark := "…"
		switch {
		case call.Error != "":
			mark = "✗ " + call.Error
		case call.Finished:
			mark = "✓"
		}
		sb.WriteString(m.theme.tool.Render(fmt.Sprintf("  ⚙ %s %s", call.Name, mark)) + "\n")
	}
	if content := m.live.Content.String(); content != "" {
		sb.WriteString(m.theme.bot.Render("Inkwell") + "\n" + m.markdown(content) + "\n")
	}
	m.writeSources(sb, m.live.Sources)
	if m.live.Err != "" {
		sb.WriteString(m.theme.errorS.Render("Error: "+m.live.Err) + "\n")
	}
}

func (m model) writeSources(sb *strings.Builder, sources []models.Source) {
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = s.URL
		}
		sb.WriteString(m.theme.muted.Render(fmt.Sprintf("  [%s] %s", title, s.URL)) + "\n")
	}
}

func (m model) View() string {
	conv := "new conversation"
	if m.conversationID != "" {
		conv = m.conversationID
	}
	modelName := m.modelName
	if modelName == "" {
		modelName = "default model"
	}
	header := m.theme.header.Render(fmt.Sprintf("inkwell · %s · %s · %s", m.mode, modelName, conv))

	status := m.status
	if m.streaming {
		status = m.spinner.View() + " " + status + "  (esc to cancel)"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.view.View(),
		m.theme.status.Render(status),
		m.theme.input.Render(m.input.View()),
	)
}
