// Package transcripts provides read-only access to the external
// conversation recorder: time-ordered segments of transcribed speech,
// with per-utterance structure when the source delivers it.
package transcripts

import "time"

// SpeakerRole classifies who produced an utterance, as reported by
// the recorder's diarization.
type SpeakerRole string

const (
	RoleUser    SpeakerRole = "user"
	RoleOther   SpeakerRole = "other"
	RoleUnknown SpeakerRole = "unknown"
)

// ContentNode is a recursive tree node within a segment. Structured
// transcripts preserve per-utterance speaker attribution and timing
// that flattened markdown loses.
type ContentNode struct {
	Type        string         `json:"type"`
	Text        string         `json:"text,omitempty"`
	StartTime   *time.Time     `json:"start_time,omitempty"`
	SpeakerName string         `json:"speaker_name,omitempty"`
	SpeakerRole SpeakerRole    `json:"speaker_role,omitempty"`
	Children    []*ContentNode `json:"children,omitempty"`
}

// Segment is the atomic unit of recorded speech. Immutable once
// fetched; owned by the external source.
type Segment struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Starred   bool           `json:"starred"`
	Markdown  string         `json:"markdown,omitempty"`
	Content   []*ContentNode `json:"content,omitempty"`
}

// Leaves returns the leaf nodes of a content tree in document order.
func Leaves(nodes []*ContentNode) []*ContentNode {
	var out []*ContentNode
	var walk func(n *ContentNode)
	walk = func(n *ContentNode) {
		if len(n.Children) == 0 {
			out = append(out, n)
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return out
}
