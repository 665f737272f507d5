package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/ahmetk3436/inkwell/internal/models"
)

const maxNoteContext = 4000

// PromptContext carries the UI hints folded into the system message.
type PromptContext struct {
	Agent    bool
	Route    string
	TeamName string
	Notes    []models.Note
	Tools    []string
	Now      time.Time
}

func BuildSystemPrompt(pc PromptContext) string {
	var sb strings.Builder

	sb.WriteString(`You are Inkwell, an assistant built into a notes and task board app.

## Guidelines
- Be concise and answer in the user's language
- Format answers as markdown
- When you rely on a note, mention its title
- Never invent note or task contents you have not seen
`)

	if pc.Agent && len(pc.Tools) > 0 {
		sb.WriteString("\n## Tools\n")
		sb.WriteString("You can call these tools: " + strings.Join(pc.Tools, ", ") + ".\n")
		sb.WriteString("Look things up instead of guessing. If a tool fails, explain what went wrong and continue without it.\n")
	} else {
		sb.WriteString("\nTools are disabled for this conversation. Answer from the context you have.\n")
	}

	now := pc.Now
	if now.IsZero() {
		now = time.Now()
	}
	sb.WriteString("\n## Context\n")
	fmt.Fprintf(&sb, "- Current time: %s\n", now.UTC().Format(time.RFC1123))
	if pc.Route != "" {
		fmt.Fprintf(&sb, "- The user is looking at: %s\n", pc.Route)
	}
	if pc.TeamName != "" {
		fmt.Fprintf(&sb, "- Workspace: team %q. Notes and tasks you look up belong to this team.\n", pc.TeamName)
	} else {
		sb.WriteString("- Workspace: personal\n")
	}

	if len(pc.Notes) > 0 {
		sb.WriteString("\n## Referenced Notes\n")
		budget := maxNoteContext
		for _, n := range pc.Notes {
			title := n.Title
			if title == "" {
				title = "Untitled"
			}
			content := n.Content
			if len(content) > budget {
				content = content[:budget] + "\n[truncated]"
			}
			budget -= len(content)
			fmt.Fprintf(&sb, "\n### %s (id: %s)\n%s\n", title, n.ID, content)
			if budget <= 0 {
				break
			}
		}
	}

	return sb.String()
}
