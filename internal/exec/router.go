// Package exec routes validated actions to the tool that carries
// them out. The router is deliberately dumb about idempotence; the
// ledger's dedupe guarantees each command reaches it at most once.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zekehq/zeke-agent/internal/command"
	"github.com/zekehq/zeke-agent/internal/tools"
)

// Outcome is the normalized result of executing one action.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Router dispatches actions through the tool registry.
type Router struct {
	registry *tools.Registry
	perms    []string
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter creates a router. perms is the tool allowlist applied to
// every dispatch.
func NewRouter(registry *tools.Registry, perms []string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		perms:    perms,
		logger:   logger.With("component", "router"),
		now:      time.Now,
	}
}

// Execute dispatches one action. The switch is exhaustive over the
// action set; an unhandled type is a bug surfaced as a failed
// outcome, not a silent drop.
func (r *Router) Execute(ctx context.Context, a *command.Action, dc *command.DetectedCommand) Outcome {
	var toolName string
	var args map[string]any

	switch a.Type {
	case command.ActionSendMessage:
		toolName = tools.ToolSendMessage
		args = map[string]any{"message": a.Message}
		if a.TargetContact != nil {
			args["phone"] = a.TargetContact.Phone
			args["contact_name"] = a.TargetContact.Name
		}

	case command.ActionAddTask:
		toolName = tools.ToolCreateTask
		args = map[string]any{"details": a.TaskDetails}

	case command.ActionAddGrocery:
		toolName = tools.ToolAddGroceryItem
		args = map[string]any{"item": a.GroceryItem}

	case command.ActionSetReminder:
		toolName = tools.ToolSetReminder
		args = map[string]any{
			"message": a.ReminderMessage,
			"at":      NormalizeTime(a.ReminderTime, r.now()).Format(time.RFC3339),
		}
		if a.TargetContact != nil {
			args["phone"] = a.TargetContact.Phone
		}

	case command.ActionScheduleEvent:
		toolName = tools.ToolCreateEvent
		args = map[string]any{
			"title": a.EventTitle,
			"start": NormalizeTime(a.EventTime, r.now()).Format(time.RFC3339),
		}

	case command.ActionSearchInfo:
		toolName = tools.ToolSearch
		args = map[string]any{"query": a.SearchQuery}

	default:
		return Outcome{Success: false, Message: fmt.Sprintf("unhandled action type %q", a.Type)}
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("marshal args: %v", err)}
	}

	r.logger.Info("executing action",
		"type", a.Type,
		"tool", toolName,
		"segment", dc.SegmentID,
	)

	raw := r.registry.Execute(ctx, toolName, string(argsJSON), r.perms)
	return decodeOutcome(raw)
}

// decodeOutcome maps a tool result JSON string onto an Outcome.
func decodeOutcome(raw string) Outcome {
	var res struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Outcome{Success: false, Message: fmt.Sprintf("malformed tool result: %s", raw)}
	}

	if res.Success {
		return Outcome{Success: true, Message: res.Message}
	}
	return Outcome{Success: false, Message: res.Error}
}
