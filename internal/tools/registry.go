package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	ErrInvalidTool      = errors.New("invalid tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrToolTimeout      = errors.New("tool timed out")
)

// maxOutputLength caps what a single tool hands back to the model.
const maxOutputLength = 24000

// maxResponseBytes caps how much of an upstream API response is read.
const maxResponseBytes = 16 << 20

var errResponseTooLarge = fmt.Errorf("upstream response exceeds %d bytes", maxResponseBytes)

// Call carries the validated arguments and the caller's data scope.
type Call struct {
	Scope services.Scope
	Args  map[string]any
}

func (c Call) String(key string) string {
	v, _ := c.Args[key].(string)
	return v
}

func (c Call) Int(key string, fallback int) int {
	if v, ok := c.Args[key].(float64); ok {
		return int(v)
	}
	return fallback
}

// Output is a tool's textual result plus any citations it produced.
type Output struct {
	Text    string
	Sources []models.Source
}

// Tool is a named action the model can request during a turn.
type Tool interface {
	Definition() mcp.Tool
	Execute(ctx context.Context, call Call) (Output, error)
}

// Registry holds the tools available to agent-mode turns.
type Registry struct {
	tools   map[string]Tool
	timeout time.Duration
}

// NewRegistry creates a registry whose invocations are each bounded by
// timeout.
func NewRegistry(timeout time.Duration, tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool), timeout: timeout}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Definition().Name] = t
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all tools in OpenAI function-calling format.
func (r *Registry) Definitions() []map[string]interface{} {
	defs := make([]map[string]interface{}, 0, len(r.tools))
	for _, name := range r.Names() {
		def := r.tools[name].Definition()
		defs = append(defs, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  def.InputSchema,
			},
		})
	}
	return defs
}

// Invoke validates arguments and runs a tool under the registry timeout.
// Every failure, including a panic inside the tool, comes back as an
// error; the caller decides how to surface it.
func (r *Registry) Invoke(ctx context.Context, scope services.Scope, name string, rawArgs json.RawMessage) (out Output, err error) {
	tool, ok := r.tools[name]
	if !ok {
		return Output{}, fmt.Errorf("%w: %q", ErrInvalidTool, name)
	}

	args, err := decodeArgs(rawArgs)
	if err != nil {
		return Output{}, err
	}
	if err := validateArgs(tool.Definition().InputSchema, args); err != nil {
		return Output{}, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Tool panicked", "tool", name, "panic", p)
			out, err = Output{}, fmt.Errorf("tool %s failed unexpectedly: %v", name, p)
		}
	}()

	start := time.Now()
	out, err = tool.Execute(ctx, Call{Scope: scope, Args: args})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Output{}, fmt.Errorf("%w: %s exceeded %s", ErrToolTimeout, name, r.timeout)
		}
		return Output{}, err
	}

	out.Text = clip(out.Text, maxOutputLength)
	slog.Debug("Tool executed", "tool", name, "duration_ms", time.Since(start).Milliseconds(), "result_len", len(out.Text))
	return out, nil
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: arguments are not a JSON object: %v", ErrInvalidArguments, err)
	}
	return args, nil
}

// clip caps s at maxLen bytes without splitting a rune. Invalid UTF-8
// from upstream is replaced so the text can be stored as is.
func clip(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n[output truncated]"
}

func readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxResponseBytes {
		return nil, errResponseTooLarge
	}
	return data, nil
}
