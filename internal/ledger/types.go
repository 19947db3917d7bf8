// Package ledger is the durable record of every detected command and
// its lifecycle. Entries are inserted at detection time, mutated only
// by status transition, and never deleted: the ledger doubles as the
// audit trail and the deduplication authority for the scan loop.
package ledger

import (
	"time"

	"github.com/zekehq/zeke-agent/internal/command"
)

// Status is a command's position in the lifecycle state machine.
type Status string

const (
	StatusDetected        Status = "detected"
	StatusParsed          Status = "parsed"
	StatusPendingApproval Status = "pending_approval"
	StatusExecuting       Status = "executing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusSkipped         Status = "skipped"
)

// transitions enumerates every legal edge. Terminal states have no
// outgoing edges; the store rejects anything not listed here.
var transitions = map[Status][]Status{
	StatusDetected:        {StatusParsed, StatusSkipped, StatusFailed},
	StatusParsed:          {StatusPendingApproval, StatusExecuting, StatusSkipped},
	StatusPendingApproval: {StatusExecuting},
	StatusExecuting:       {StatusCompleted, StatusFailed},
}

// CanTransition reports whether moving from cur to next is legal.
func CanTransition(cur, next Status) bool {
	for _, s := range transitions[cur] {
		if s == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Entry is one ledger row.
type Entry struct {
	ID                string     `json:"id"`
	SegmentID         string     `json:"segment_id"`
	SegmentTitle      string     `json:"segment_title"`
	Timestamp         time.Time  `json:"timestamp"`
	Trigger           string     `json:"trigger"`
	CommandText       string     `json:"command_text"`
	NormalizedCommand string     `json:"normalized_command"`
	SpeakerName       string     `json:"speaker_name,omitempty"`
	Context           string     `json:"context,omitempty"`
	Excerpt           string     `json:"excerpt,omitempty"`
	Status            Status     `json:"status"`
	ActionType        string     `json:"action_type,omitempty"`
	ActionPayload     string     `json:"action_payload,omitempty"`
	ResolvedContactID string     `json:"resolved_contact_id,omitempty"`
	Confidence        float64    `json:"confidence,omitempty"`
	ResultMessage     string     `json:"result_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewEntry builds a detected-state entry from a pipeline detection.
func NewEntry(dc command.DetectedCommand, normalized string) *Entry {
	return &Entry{
		SegmentID:         dc.SegmentID,
		SegmentTitle:      dc.SegmentTitle,
		Timestamp:         dc.Timestamp,
		Trigger:           dc.Trigger,
		CommandText:       dc.CommandText,
		NormalizedCommand: normalized,
		SpeakerName:       dc.SpeakerName,
		Context:           dc.Context,
		Excerpt:           dc.Excerpt,
		Status:            StatusDetected,
	}
}
