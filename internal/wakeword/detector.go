// Package wakeword detects "Hey Zeke" command spans in transcript
// text and filters out incidental mentions of the name.
package wakeword

import (
	"regexp"
	"strings"

	"github.com/zekehq/zeke-agent/internal/command"
	"github.com/zekehq/zeke-agent/internal/transcripts"
)

// minCommandLength filters noise: a fragment shorter than this after
// the trigger is a bare mention, not a command.
const minCommandLength = 5

// Trigger patterns, ordered. Greeting+name first: it is the most
// explicit form and its span consumes the comma after the name.
var triggerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(hey|hi|ok|okay)[,]?\s+zeke\b`),
	regexp.MustCompile(`(?i)\bzeke[,]?\s+(please\s+)?(remind|tell|send|add|create|schedule|set|search|find|check|text|message)\b`),
}

// sentenceEnd marks where the command fragment stops so we do not
// swallow unrelated follow-on speech.
var sentenceEnd = regexp.MustCompile(`[.!?\n]`)

// Match is a trigger hit within a single piece of text.
type Match struct {
	Trigger     string
	CommandText string
}

// Detect scans text for a trigger phrase and extracts the command
// fragment that follows it.
func Detect(text string) (Match, bool) {
	for i, pat := range triggerPatterns {
		loc := pat.FindStringIndex(text)
		if loc == nil {
			continue
		}

		trigger := text[loc[0]:loc[1]]
		rest := text[loc[1]:]

		// The name+verb form keeps the verb as part of the command.
		if i == 1 {
			verbStart := strings.Index(strings.ToLower(trigger), "zeke") + len("zeke")
			rest = trigger[verbStart:] + rest
			trigger = strings.TrimSpace(trigger[:verbStart])
		}

		rest = strings.TrimLeft(rest, " \t,.:;-")
		if end := sentenceEnd.FindStringIndex(rest); end != nil {
			rest = rest[:end[0]]
		}
		rest = strings.TrimSpace(rest)

		if len(rest) < minCommandLength {
			return Match{}, false
		}

		return Match{Trigger: trigger, CommandText: rest}, true
	}

	return Match{}, false
}

// NormalizeCommand canonicalizes command text for deduplication:
// lowercase, collapsed whitespace, no trailing punctuation.
func NormalizeCommand(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.TrimRight(text, ".!?,;: ")
	return strings.Join(strings.Fields(text), " ")
}

// DetectSegment walks a segment's content tree, applying Detect per
// leaf node. Sibling text on either side of a hit becomes surrounding
// context, and per-node speaker attribution and timestamps are
// preserved. Commands with identical normalized text collapse to one
// per segment.
func DetectSegment(seg *transcripts.Segment) []command.DetectedCommand {
	leaves := transcripts.Leaves(seg.Content)
	if len(leaves) == 0 && seg.Markdown != "" {
		leaves = transcripts.Leaves(transcripts.ParseMarkdown(seg.Markdown))
	}

	seen := make(map[string]bool)
	var out []command.DetectedCommand

	for i, leaf := range leaves {
		m, ok := Detect(leaf.Text)
		if !ok {
			continue
		}

		norm := NormalizeCommand(m.CommandText)
		if seen[norm] {
			continue
		}
		seen[norm] = true

		dc := command.DetectedCommand{
			SegmentID:    seg.ID,
			SegmentTitle: seg.Title,
			Timestamp:    seg.StartTime,
			Trigger:      m.Trigger,
			CommandText:  m.CommandText,
			SpeakerName:  leaf.SpeakerName,
			Context:      siblingContext(leaves, i),
			Excerpt:      excerpt(leaves, i),
		}
		if leaf.StartTime != nil {
			dc.Timestamp = *leaf.StartTime
		}
		out = append(out, dc)
	}

	return out
}

// siblingContext joins the nearest preceding and following sibling
// text around index i.
func siblingContext(leaves []*transcripts.ContentNode, i int) string {
	var parts []string
	if i > 0 && leaves[i-1].Text != "" {
		parts = append(parts, leaves[i-1].Text)
	}
	if i+1 < len(leaves) && leaves[i+1].Text != "" {
		parts = append(parts, leaves[i+1].Text)
	}
	return strings.Join(parts, " … ")
}

// excerpt returns a window of up to two leaves on each side of the
// hit, attributed, for the ledger's audit trail.
func excerpt(leaves []*transcripts.ContentNode, i int) string {
	lo := max(0, i-2)
	hi := min(len(leaves), i+3)

	var b strings.Builder
	for _, leaf := range leaves[lo:hi] {
		if leaf.SpeakerName != "" {
			b.WriteString(leaf.SpeakerName)
			b.WriteString(": ")
		}
		b.WriteString(leaf.Text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
