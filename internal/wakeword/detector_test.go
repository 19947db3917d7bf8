package wakeword

import (
	"testing"
	"time"

	"github.com/zekehq/zeke-agent/internal/transcripts"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantTrigger string
		wantCommand string
		wantOK      bool
	}{
		{
			name:        "greeting form",
			text:        "Hey ZEKE, remind me to call Bob in 30 minutes. Anyway, how was the game?",
			wantTrigger: "Hey ZEKE",
			wantCommand: "remind me to call Bob in 30 minutes",
			wantOK:      true,
		},
		{
			name:        "okay form",
			text:        "okay zeke add milk to the grocery list",
			wantTrigger: "okay zeke",
			wantCommand: "add milk to the grocery list",
			wantOK:      true,
		},
		{
			name:        "name plus verb form",
			text:        "Zeke, schedule a dentist appointment for tomorrow.",
			wantTrigger: "Zeke",
			wantCommand: "schedule a dentist appointment for tomorrow",
			wantOK:      true,
		},
		{
			name:   "bare mention",
			text:   "zeke was the name of my dog growing up",
			wantOK: false,
		},
		{
			name:   "trigger with nothing after",
			text:   "hey zeke.",
			wantOK: false,
		},
		{
			name:   "trigger with noise-length fragment",
			text:   "hey zeke, ok.",
			wantOK: false,
		},
		{
			name:   "no trigger at all",
			text:   "remind me to call Bob",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := Detect(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Detect ok = %v, want %v (match %+v)", ok, tt.wantOK, m)
			}
			if !ok {
				return
			}
			if m.Trigger != tt.wantTrigger {
				t.Errorf("trigger = %q, want %q", m.Trigger, tt.wantTrigger)
			}
			if m.CommandText != tt.wantCommand {
				t.Errorf("command = %q, want %q", m.CommandText, tt.wantCommand)
			}
		})
	}
}

func TestNormalizeCommand(t *testing.T) {
	a := NormalizeCommand("  Remind me to   call Bob! ")
	b := NormalizeCommand("remind me to call bob")
	if a != b {
		t.Errorf("normalized forms differ: %q vs %q", a, b)
	}
}

func testSegment() *transcripts.Segment {
	ts := time.Date(2026, 3, 1, 8, 12, 0, 0, time.UTC)
	return &transcripts.Segment{
		ID:        "seg-1",
		Title:     "Morning walk",
		StartTime: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Content: []*transcripts.ContentNode{
			{
				Type: "section",
				Text: "Morning walk",
				Children: []*transcripts.ContentNode{
					{Type: "utterance", Text: "Beautiful day out here.", SpeakerName: "Alice", SpeakerRole: transcripts.RoleOther},
					{Type: "utterance", Text: "Hey Zeke, remind me to call Bob in 30 minutes.", SpeakerName: "You", SpeakerRole: transcripts.RoleUser, StartTime: &ts},
					{Type: "utterance", Text: "Sure, after the walk.", SpeakerName: "Alice", SpeakerRole: transcripts.RoleOther},
					// Same command phrased identically later in the segment.
					{Type: "utterance", Text: "Hey Zeke, remind me to call Bob in 30 minutes.", SpeakerName: "You", SpeakerRole: transcripts.RoleUser},
				},
			},
		},
	}
}

func TestDetectSegment(t *testing.T) {
	cmds := DetectSegment(testSegment())
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command after in-segment dedup, got %d", len(cmds))
	}

	c := cmds[0]
	if c.SegmentID != "seg-1" || c.SegmentTitle != "Morning walk" {
		t.Errorf("segment fields = %q/%q", c.SegmentID, c.SegmentTitle)
	}
	if c.SpeakerName != "You" {
		t.Errorf("speaker = %q, want You", c.SpeakerName)
	}
	// Per-node timestamp wins over segment start.
	if c.Timestamp.Hour() != 8 || c.Timestamp.Minute() != 12 {
		t.Errorf("timestamp = %v, want node time 08:12", c.Timestamp)
	}
	if c.Context == "" || c.Excerpt == "" {
		t.Error("expected surrounding context and excerpt")
	}
}

func TestDetectSegment_MarkdownFallback(t *testing.T) {
	seg := &transcripts.Segment{
		ID:        "seg-2",
		Title:     "Kitchen",
		StartTime: time.Now(),
		Markdown:  "**You:** Hey Zeke, add coffee to the grocery list.",
	}

	cmds := DetectSegment(seg)
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command from markdown fallback, got %d", len(cmds))
	}
	if cmds[0].CommandText != "add coffee to the grocery list" {
		t.Errorf("command = %q", cmds[0].CommandText)
	}
}

func TestIsActionable(t *testing.T) {
	actionable := []string{
		"remind me to call Bob in 30 minutes",
		"add milk to the grocery list",
		"can you text Alice that I'm running late",
		"what's the weather tomorrow",
		"please schedule a meeting with Dan",
		"I need to check the weather before we leave",
	}
	for _, s := range actionable {
		if !IsActionable(s) {
			t.Errorf("IsActionable(%q) = false, want true", s)
		}
	}

	notActionable := []string{
		"was the name of my dog",
		"sounds like my uncle",
		"",
	}
	for _, s := range notActionable {
		if IsActionable(s) {
			t.Errorf("IsActionable(%q) = true, want false", s)
		}
	}
}
