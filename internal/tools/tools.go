// Package tools defines the executable tools behind spoken commands.
// Every invocation goes through the registry: a permission check
// first, then the handler, with the outcome always rendered as a JSON
// result string so callers never have to guess the shape of a
// failure.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/zekehq/zeke-agent/internal/calendar"
	"github.com/zekehq/zeke-agent/internal/household"
	"github.com/zekehq/zeke-agent/internal/notify"
	"github.com/zekehq/zeke-agent/internal/reminders"
	"github.com/zekehq/zeke-agent/internal/search"
)

// Tool names.
const (
	ToolSendMessage    = "send_message"
	ToolCreateTask     = "create_task"
	ToolAddGroceryItem = "add_grocery_item"
	ToolSetReminder    = "set_reminder"
	ToolCreateEvent    = "create_event"
	ToolSearch         = "search"
)

// AllowAll grants every tool.
const AllowAll = "*"

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Deps are the collaborators handlers delegate to. Any of them may be
// nil; the handler reports the missing dependency as a failed result.
type Deps struct {
	Notifier  notify.Notifier
	Household *household.Store
	Reminders *reminders.Service
	Calendar  *calendar.Client
	Search    *search.Manager
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	deps   Deps
	logger *slog.Logger
}

// NewRegistry creates a tool registry with the built-in tools wired
// to deps.
func NewRegistry(deps Deps, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		deps:   deps,
		logger: logger.With("component", "tools"),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        ToolSendMessage,
		Description: "Send an SMS to a phone number.",
		Handler:     r.handleSendMessage,
	})
	r.Register(&Tool{
		Name:        ToolCreateTask,
		Description: "Add an item to the shared task list.",
		Handler:     r.handleCreateTask,
	})
	r.Register(&Tool{
		Name:        ToolAddGroceryItem,
		Description: "Add an item to the grocery list.",
		Handler:     r.handleAddGroceryItem,
	})
	r.Register(&Tool{
		Name:        ToolSetReminder,
		Description: "Schedule a one-shot SMS reminder.",
		Handler:     r.handleSetReminder,
	})
	r.Register(&Tool{
		Name:        ToolCreateEvent,
		Description: "Create a calendar event.",
		Handler:     r.handleCreateEvent,
	})
	r.Register(&Tool{
		Name:        ToolSearch,
		Description: "Run a web search and return the top results.",
		Handler:     r.handleSearch,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
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

// CanRun reports whether perms allow a tool. perms is an allowlist of
// tool names; "*" grants everything. An empty list denies everything.
func (r *Registry) CanRun(name string, perms []string) bool {
	for _, p := range perms {
		if p == AllowAll || p == name {
			return true
		}
	}
	return false
}

// result is the JSON shape every Execute call returns.
type result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	DeniedTool string `json:"denied_tool,omitempty"`
}

func (r result) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"marshal result"}`
	}
	return string(b)
}

// Execute runs a tool by name with JSON arguments, after a permission
// check. The return value is always a JSON object with a "success"
// field; a denied tool never reaches its handler.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string, perms []string) string {
	if !r.CanRun(name, perms) {
		r.logger.Warn("tool denied", "tool", name)
		return result{
			Success:    false,
			Error:      fmt.Sprintf("tool %q not permitted", name),
			DeniedTool: name,
		}.String()
	}

	tool := r.tools[name]
	if tool == nil {
		return result{Success: false, Error: fmt.Sprintf("unknown tool: %s", name)}.String()
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}.String()
		}
	}

	msg, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return result{Success: false, Error: err.Error()}.String()
	}

	r.logger.Debug("tool executed", "tool", name)
	return result{Success: true, Message: msg}.String()
}

// Tool handlers

func (r *Registry) handleSendMessage(ctx context.Context, args map[string]any) (string, error) {
	if r.deps.Notifier == nil {
		return "", fmt.Errorf("no notifier configured")
	}

	phone, _ := args["phone"].(string)
	message, _ := args["message"].(string)
	if phone == "" || message == "" {
		return "", fmt.Errorf("phone and message are required")
	}

	if err := r.deps.Notifier.SendSMS(ctx, phone, message, "command"); err != nil {
		return "", err
	}

	recipient := phone
	if name, _ := args["contact_name"].(string); name != "" {
		recipient = name
	}
	return fmt.Sprintf("Message sent to %s", recipient), nil
}

func (r *Registry) handleCreateTask(ctx context.Context, args map[string]any) (string, error) {
	if r.deps.Household == nil {
		return "", fmt.Errorf("household store not configured")
	}

	details, _ := args["details"].(string)
	if details == "" {
		return "", fmt.Errorf("details is required")
	}

	item, err := r.deps.Household.Add(household.ListTask, details)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Task added: %s", item.Text), nil
}

func (r *Registry) handleAddGroceryItem(ctx context.Context, args map[string]any) (string, error) {
	if r.deps.Household == nil {
		return "", fmt.Errorf("household store not configured")
	}

	itemText, _ := args["item"].(string)
	if itemText == "" {
		return "", fmt.Errorf("item is required")
	}

	item, err := r.deps.Household.Add(household.ListGrocery, itemText)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %s to the grocery list", item.Text), nil
}

func (r *Registry) handleSetReminder(ctx context.Context, args map[string]any) (string, error) {
	if r.deps.Reminders == nil {
		return "", fmt.Errorf("reminder service not configured")
	}

	message, _ := args["message"].(string)
	phone, _ := args["phone"].(string)
	atStr, _ := args["at"].(string)
	if message == "" || atStr == "" {
		return "", fmt.Errorf("message and at are required")
	}

	at, err := time.Parse(time.RFC3339, atStr)
	if err != nil {
		return "", fmt.Errorf("invalid time %q: %w", atStr, err)
	}

	rem, err := r.deps.Reminders.Schedule(message, phone, at)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder set for %s (id %s)", rem.ScheduledFor.Format("Jan 2 15:04"), rem.ID[:8]), nil
}

func (r *Registry) handleCreateEvent(ctx context.Context, args map[string]any) (string, error) {
	if r.deps.Calendar == nil {
		return "", fmt.Errorf("calendar not configured")
	}

	title, _ := args["title"].(string)
	startStr, _ := args["start"].(string)
	if title == "" || startStr == "" {
		return "", fmt.Errorf("title and start are required")
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return "", fmt.Errorf("invalid start %q: %w", startStr, err)
	}

	duration := time.Hour
	if mins, ok := args["duration_minutes"].(float64); ok && mins > 0 {
		duration = time.Duration(mins) * time.Minute
	}

	if _, err := r.deps.Calendar.CreateEvent(ctx, title, start, duration); err != nil {
		return "", err
	}
	return fmt.Sprintf("Event %q created for %s", title, start.Format("Jan 2 15:04")), nil
}

func (r *Registry) handleSearch(ctx context.Context, args map[string]any) (string, error) {
	if r.deps.Search == nil || !r.deps.Search.Configured() {
		return "", fmt.Errorf("search not configured")
	}

	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	results, err := r.deps.Search.Search(ctx, query, search.Options{Count: 3})
	if err != nil {
		return "", err
	}
	return search.FormatResults(results, 3), nil
}
