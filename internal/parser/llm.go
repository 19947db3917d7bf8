package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zekehq/zeke-agent/internal/command"
	"github.com/zekehq/zeke-agent/internal/llm"
)

const parseSystemPrompt = `You convert a spoken household command into a single JSON object. Respond with JSON only, no prose.

Fields:
  action: one of send_message, add_task, add_grocery_item, set_reminder, schedule_event, search_info
  target_name: who to message (send_message only)
  message: the message body (send_message only)
  task_details: the task (add_task only)
  grocery_item: the item (add_grocery_item only)
  reminder_time: when, as spoken, e.g. "in 30 minutes" (set_reminder only)
  reminder_message: what to be reminded of (set_reminder only)
  event_title, event_time: (schedule_event only)
  search_query: (search_info only)
  confidence: 0.0-1.0, how sure you are`

// LLMParser asks a model for the structured interpretation of a
// command. The model's output is validated against the closed action
// set; anything outside it is a parse failure.
type LLMParser struct {
	client   llm.Client
	model    string
	contacts ContactResolver
	logger   *slog.Logger
}

// NewLLMParser creates an LLM-backed parser. resolver may be nil.
func NewLLMParser(client llm.Client, model string, resolver ContactResolver, logger *slog.Logger) *LLMParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMParser{
		client:   client,
		model:    model,
		contacts: resolver,
		logger:   logger.With("component", "parser"),
	}
}

// llmResult mirrors the JSON contract in parseSystemPrompt.
type llmResult struct {
	Action          string  `json:"action"`
	TargetName      string  `json:"target_name"`
	Message         string  `json:"message"`
	TaskDetails     string  `json:"task_details"`
	GroceryItem     string  `json:"grocery_item"`
	ReminderTime    string  `json:"reminder_time"`
	ReminderMessage string  `json:"reminder_message"`
	EventTitle      string  `json:"event_title"`
	EventTime       string  `json:"event_time"`
	SearchQuery     string  `json:"search_query"`
	Confidence      float64 `json:"confidence"`
}

// Parse sends the command to the model and validates the reply.
func (p *LLMParser) Parse(ctx context.Context, dc *command.DetectedCommand) (*command.Action, error) {
	user := fmt.Sprintf("Command: %s", dc.CommandText)
	if dc.Context != "" {
		user += fmt.Sprintf("\nSurrounding conversation: %s", dc.Context)
	}

	resp, err := p.client.Chat(ctx, p.model, []llm.Message{
		{Role: "system", Content: parseSystemPrompt},
		{Role: "user", Content: user},
	})
	if err != nil {
		return nil, fmt.Errorf("llm chat: %w", err)
	}

	result, err := decodeResult(resp.Message.Content)
	if err != nil {
		return nil, err
	}

	actionType, err := command.ParseActionType(result.Action)
	if err != nil {
		return nil, fmt.Errorf("llm returned %w", err)
	}

	a := &command.Action{
		Type:            actionType,
		Confidence:      clampConfidence(result.Confidence),
		OriginalCommand: dc.CommandText,
		Message:         result.Message,
		TaskDetails:     result.TaskDetails,
		GroceryItem:     result.GroceryItem,
		ReminderTime:    result.ReminderTime,
		ReminderMessage: result.ReminderMessage,
		EventTitle:      result.EventTitle,
		EventTime:       result.EventTime,
		SearchQuery:     result.SearchQuery,
	}

	if actionType == command.ActionSendMessage {
		resolveTarget(a, strings.TrimSpace(result.TargetName), p.contacts, p.logger)
	}

	p.logger.Debug("llm parse", "type", a.Type, "confidence", a.Confidence)
	return a, nil
}

// decodeResult extracts the JSON object from model output. Some
// models wrap the object in code fences or prose despite format=json.
func decodeResult(content string) (*llmResult, error) {
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in llm output")
	}

	var result llmResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("decode llm output: %w", err)
	}
	return &result, nil
}
