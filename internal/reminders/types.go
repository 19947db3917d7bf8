// Package reminders schedules one-shot reminder deliveries. Pending
// reminders live in SQLite; an in-process timer map drives delivery,
// and boot replays persisted rows so a restart never loses a
// reminder.
package reminders

import "time"

// Reminder delivery status.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusMissed    = "missed"
	StatusCancelled = "cancelled"
)

// Reminder is one scheduled delivery.
type Reminder struct {
	ID           string     `json:"id"`
	Message      string     `json:"message"`
	Phone        string     `json:"phone"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
}
