package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	searchNotesName = "search_notes"
	getNoteName     = "get_note"
	noteExcerptLen  = 280
)

// SearchNotes looks up notes visible in the caller's scope.
type SearchNotes struct {
	notes *services.NoteService
}

func NewSearchNotes(notes *services.NoteService) *SearchNotes {
	return &SearchNotes{notes: notes}
}

func (t *SearchNotes) Definition() mcp.Tool {
	return mcp.NewTool(searchNotesName,
		mcp.WithDescription("Search the user's notes by title and content. Returns note ids, titles and a short excerpt. Use get_note to read a note in full."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Words to look for in note titles and content."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of notes to return. Defaults to 10."),
		),
	)
}

func (t *SearchNotes) Execute(ctx context.Context, call Call) (Output, error) {
	notes, err := t.notes.Search(ctx, call.Scope, call.String("query"), call.Int("limit", 10))
	if err != nil {
		return Output{}, err
	}
	if len(notes) == 0 {
		return Output{Text: fmt.Sprintf("No notes match %q.", call.String("query"))}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d note(s):\n\n", len(notes))
	for _, n := range notes {
		title := n.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&sb, "- %s (id: %s, updated %s)\n", title, n.ID, n.UpdatedAt.Format("2006-01-02"))
		if excerpt := excerpt(n.Content, noteExcerptLen); excerpt != "" {
			fmt.Fprintf(&sb, "  %s\n", excerpt)
		}
	}
	return Output{Text: strings.TrimSpace(sb.String())}, nil
}

// GetNote returns the full content of one note.
type GetNote struct {
	notes *services.NoteService
}

func NewGetNote(notes *services.NoteService) *GetNote {
	return &GetNote{notes: notes}
}

func (t *GetNote) Definition() mcp.Tool {
	return mcp.NewTool(getNoteName,
		mcp.WithDescription("Read a note in full by its id."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Note id as returned by search_notes."),
		),
	)
}

func (t *GetNote) Execute(ctx context.Context, call Call) (Output, error) {
	id, err := uuid.Parse(call.String("id"))
	if err != nil {
		return Output{}, fmt.Errorf("%w: id is not a valid note id", ErrInvalidArguments)
	}
	note, err := t.notes.Get(ctx, call.Scope, id)
	if err != nil {
		return Output{}, fmt.Errorf("note %s: %w", id, err)
	}

	var sb strings.Builder
	title := note.Title
	if title == "" {
		title = "Untitled"
	}
	sb.WriteString("# " + title + "\n")
	if len(note.Tags) > 0 {
		sb.WriteString("Tags: " + strings.Join(note.Tags, ", ") + "\n")
	}
	sb.WriteString("\n" + note.Content)
	return Output{Text: sb.String()}, nil
}

// excerpt flattens s onto one line and cuts it to at most n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
