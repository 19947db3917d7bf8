// Package command defines the typed action model for the wake-word
// pipeline: detected commands, the closed set of parsed actions, and
// the validation rules that gate execution.
package command

import (
	"encoding/json"
	"fmt"
	"time"
)

// DetectedCommand is one wake-word occurrence extracted from a
// transcript segment. Immutable once created; many can exist per
// segment, deduplicated downstream by (SegmentID, normalized text).
type DetectedCommand struct {
	SegmentID    string    `json:"segment_id"`
	SegmentTitle string    `json:"segment_title"`
	Timestamp    time.Time `json:"timestamp"`
	Trigger      string    `json:"trigger"`
	CommandText  string    `json:"command_text"`
	SpeakerName  string    `json:"speaker_name,omitempty"`
	Context      string    `json:"context,omitempty"`
	Excerpt      string    `json:"excerpt,omitempty"`
}

// ActionType identifies one of the closed set of executable actions.
type ActionType string

const (
	ActionSendMessage ActionType = "send_message"
	ActionAddTask     ActionType = "add_task"
	ActionAddGrocery  ActionType = "add_grocery_item"
	ActionSetReminder ActionType = "set_reminder"
	ActionScheduleEvent ActionType = "schedule_event"
	ActionSearchInfo  ActionType = "search_info"
)

// ValidTypes lists every recognized action type.
var ValidTypes = []ActionType{
	ActionSendMessage,
	ActionAddTask,
	ActionAddGrocery,
	ActionSetReminder,
	ActionScheduleEvent,
	ActionSearchInfo,
}

// ParseActionType converts a string to an ActionType, rejecting
// anything outside the closed set.
func ParseActionType(s string) (ActionType, error) {
	for _, t := range ValidTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

// Contact is a resolved message target. Phone may be empty when the
// directory knows the person but has no number on file.
type Contact struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Action is the typed output of the command parser. Exactly one
// payload group is populated, selected by Type.
type Action struct {
	Type            ActionType `json:"action_type"`
	Confidence      float64    `json:"confidence"`
	OriginalCommand string     `json:"original_command"`

	// send_message
	TargetContact *Contact `json:"target_contact,omitempty"`
	TargetName    string   `json:"target_name,omitempty"` // raw name when unresolved
	Message       string   `json:"message,omitempty"`

	// add_task
	TaskDetails string `json:"task_details,omitempty"`

	// add_grocery_item
	GroceryItem string `json:"grocery_item,omitempty"`

	// set_reminder
	ReminderTime    string `json:"reminder_time,omitempty"` // raw, e.g. "in 30 minutes"
	ReminderMessage string `json:"reminder_message,omitempty"`

	// schedule_event
	EventTitle string `json:"event_title,omitempty"`
	EventTime  string `json:"event_time,omitempty"`

	// search_info
	SearchQuery string `json:"search_query,omitempty"`
}

// MarshalPayload serializes the action for ledger attachment.
func (a *Action) MarshalPayload() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal action: %w", err)
	}
	return string(b), nil
}

// UnmarshalPayload restores an action from its ledger JSON.
func UnmarshalPayload(payload string) (*Action, error) {
	var a Action
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	if _, err := ParseActionType(string(a.Type)); err != nil {
		return nil, err
	}
	return &a, nil
}
