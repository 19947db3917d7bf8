package parser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/zekehq/zeke-agent/internal/command"
)

// RuleParser classifies commands with keyword and regex rules. It is
// the parser of record when no LLM is configured and deliberately
// conservative: a command it cannot classify is an error, not a
// guess.
type RuleParser struct {
	contacts ContactResolver
	logger   *slog.Logger
}

// NewRuleParser creates a rule-based parser. resolver may be nil.
func NewRuleParser(resolver ContactResolver, logger *slog.Logger) *RuleParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleParser{contacts: resolver, logger: logger.With("component", "parser")}
}

var (
	reGrocery = regexp.MustCompile(`(?i)^add\s+(.+?)\s+to\s+(?:the|my|our)\s+(?:grocery|shopping)\s+list`)

	reReminder = regexp.MustCompile(`(?i)^remind\s+me\s+(.+)$`)
	// Time phrases recognized inside a reminder: "in 30 minutes",
	// "in an hour", "tomorrow at 9", "at 5pm".
	reReminderTime = regexp.MustCompile(`(?i)\b(in\s+(?:a|an|\d+)\s*(?:minute|min|hour|hr|day)s?|tomorrow(?:\s+(?:morning|at\s+[\d: apm.]+))?|at\s+\d[\d: ]*(?:am|pm|o'clock)?)\b`)

	reTask = regexp.MustCompile(`(?i)^add\s+(?:a\s+task\s+(?:to\s+)?|(.+?)\s+to\s+(?:the|my)\s+(?:to-?do|task)\s+list)`)

	reSendTo   = regexp.MustCompile(`(?i)^send\s+(?:a\s+)?(?:message|text)\s+to\s+([\w .'-]+?)\s+(?:saying|that)\s+(.+)$`)
	reTextName = regexp.MustCompile(`(?i)^(?:text|message)\s+([\w.'-]+(?:\s+[\w.'-]+)??)\s+(?:saying\s+|that\s+|and\s+(?:say|tell)\s+(?:her|him|them)\s+)?(.+)$`)
	reTellName = regexp.MustCompile(`(?i)^tell\s+([\w.'-]+(?:\s+[\w.'-]+)??)\s+(?:that\s+)?(.+)$`)
	reSendName = regexp.MustCompile(`(?i)^send\s+([\w.'-]+(?:\s+[\w.'-]+)?)\s+a\s+(?:message|text)\s+(?:saying\s+|that\s+)?(.+)$`)

	reSchedule = regexp.MustCompile(`(?i)^(?:schedule|put)\s+(.+?)(?:\s+on\s+(?:the|my)\s+calendar)?(?:\s+(for|at|on)\s+(.+))?$`)

	reSearch = regexp.MustCompile(`(?i)^(?:search\s+(?:for\s+)?|look\s+up\s+|find\s+out\s+|check\s+)(.+)$`)
)

// Parse classifies the command text. The rules run in priority order;
// the first match wins.
func (p *RuleParser) Parse(ctx context.Context, dc *command.DetectedCommand) (*command.Action, error) {
	text := strings.TrimSpace(dc.CommandText)
	text = strings.TrimSuffix(text, ".")
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}

	a := &command.Action{OriginalCommand: dc.CommandText}

	switch {
	case reGrocery.MatchString(text):
		m := reGrocery.FindStringSubmatch(text)
		a.Type = command.ActionAddGrocery
		a.GroceryItem = strings.TrimSpace(m[1])
		a.Confidence = 0.95

	case reReminder.MatchString(text):
		m := reReminder.FindStringSubmatch(text)
		a.Type = command.ActionSetReminder
		a.Confidence = 0.9
		rest := m[1]
		if tm := reReminderTime.FindString(rest); tm != "" {
			a.ReminderTime = strings.TrimSpace(tm)
			rest = strings.Replace(rest, tm, "", 1)
		}
		rest = strings.TrimSpace(rest)
		rest = strings.TrimPrefix(rest, "to ")
		a.ReminderMessage = strings.TrimSpace(rest)

	case reTask.MatchString(text):
		m := reTask.FindStringSubmatch(text)
		a.Type = command.ActionAddTask
		a.Confidence = 0.9
		if m[1] != "" {
			a.TaskDetails = strings.TrimSpace(m[1])
		} else {
			a.TaskDetails = strings.TrimSpace(text[len(m[0]):])
		}

	case p.parseSend(text, a):
		// a populated in parseSend

	case strings.Contains(strings.ToLower(text), "calendar") && reSchedule.MatchString(text):
		m := reSchedule.FindStringSubmatch(text)
		a.Type = command.ActionScheduleEvent
		a.Confidence = 0.8
		a.EventTitle = strings.TrimSpace(m[1])
		if m[3] != "" {
			a.EventTime = strings.TrimSpace(m[3])
		}

	case reSearch.MatchString(text):
		m := reSearch.FindStringSubmatch(text)
		a.Type = command.ActionSearchInfo
		a.Confidence = 0.75
		a.SearchQuery = strings.TrimSpace(m[1])

	default:
		return nil, fmt.Errorf("no rule matched %q", dc.CommandText)
	}

	if a.Type == command.ActionSendMessage {
		resolveTarget(a, a.TargetName, p.contacts, p.logger)
	}

	p.logger.Debug("rule parse", "type", a.Type, "confidence", a.Confidence)
	return a, nil
}

// parseSend tries the message-sending phrasings. Returns true and
// fills a on match.
func (p *RuleParser) parseSend(text string, a *command.Action) bool {
	for _, re := range []*regexp.Regexp{reSendTo, reSendName, reTextName, reTellName} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		a.Type = command.ActionSendMessage
		a.Confidence = 0.85
		a.TargetName = strings.TrimSpace(m[1])
		a.Message = strings.TrimSpace(m[2])
		return true
	}
	return false
}
