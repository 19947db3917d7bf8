package transcripts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListSegments(t *testing.T) {
	var gotSince string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"segments": [
			{"id": "seg-1", "title": "Morning", "start_time": "2026-03-01T08:00:00Z", "end_time": "2026-03-01T08:30:00Z",
			 "markdown": "**You:** Hey Zeke, what is the weather today?"},
			{"id": "seg-2", "title": "Standup", "start_time": "2026-03-01T09:00:00Z", "end_time": "2026-03-01T09:15:00Z",
			 "content": [{"type": "utterance", "text": "hello", "speaker_name": "Alice", "speaker_role": "other"}]}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit", nil)
	since := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	segs, err := c.ListSegments(context.Background(), since)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if gotSince != "2026-03-01T06:00:00Z" {
		t.Errorf("since = %q", gotSince)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("auth = %q", gotAuth)
	}

	// Markdown-only segment gets a reconstructed tree.
	if len(segs[0].Content) == 0 {
		t.Fatal("expected content tree for markdown segment")
	}
	leaves := Leaves(segs[0].Content)
	if len(leaves) != 1 || leaves[0].SpeakerRole != RoleUser {
		t.Errorf("leaves = %+v", leaves)
	}

	// Structured segment keeps what the source sent.
	if len(segs[1].Content) != 1 || segs[1].Content[0].SpeakerName != "Alice" {
		t.Errorf("structured content = %+v", segs[1].Content)
	}
}

func TestListSegments_SourceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busted", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, err := c.ListSegments(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
