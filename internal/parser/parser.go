// Package parser turns detected wake-word commands into typed
// actions. Two implementations exist: a deterministic rule parser and
// an LLM-backed parser; both resolve spoken names against the contact
// directory so validation downstream sees a phone number or a raw
// name, never a guess.
package parser

import (
	"context"
	"log/slog"

	"github.com/zekehq/zeke-agent/internal/command"
	"github.com/zekehq/zeke-agent/internal/contacts"
)

// Parser converts a detected command into a typed action. A returned
// error means the command could not be understood; the caller records
// the failure and moves on.
type Parser interface {
	Parse(ctx context.Context, dc *command.DetectedCommand) (*command.Action, error)
}

// ContactResolver finds a contact for a spoken name. nil, nil means
// no match.
type ContactResolver interface {
	Resolve(name string) (*contacts.Contact, error)
}

// resolveTarget fills in the action's target from the directory.
// Resolution failure is not fatal: the raw name is carried so the
// validator can report who was unknown.
func resolveTarget(a *command.Action, name string, resolver ContactResolver, logger *slog.Logger) {
	a.TargetName = name
	if resolver == nil || name == "" {
		return
	}

	c, err := resolver.Resolve(name)
	if err != nil {
		logger.Warn("contact resolution failed", "name", name, "error", err)
		return
	}
	if c == nil {
		return
	}

	a.TargetContact = &command.Contact{
		ID:    c.ID,
		Name:  c.Name,
		Phone: c.Phone(),
	}
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
