package calendar

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCreateEvent(t *testing.T) {
	var gotPath, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "zeke" || pass != "hunter2" {
			t.Errorf("basic auth = %s:%s", user, pass)
		}
		body, _ := io.ReadAll(r.Body)
		gotPath = r.URL.Path
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c, err := NewClient(server.URL, "zeke", "hunter2", "/calendars/household", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	start := time.Date(2026, 9, 4, 14, 0, 0, 0, time.UTC)
	path, err := c.CreateEvent(context.Background(), "Dentist appointment", start, 0)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	if !strings.HasPrefix(gotPath, "/calendars/household/") || !strings.HasSuffix(gotPath, ".ics") {
		t.Errorf("PUT path = %q", gotPath)
	}
	if path == "" {
		t.Error("expected object path")
	}
	for _, want := range []string{"BEGIN:VEVENT", "SUMMARY:Dentist appointment", "DTSTART"} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("body missing %q:\n%s", want, gotBody)
		}
	}
}

func TestCreateEventEmptyTitle(t *testing.T) {
	c, err := NewClient("http://localhost:1", "", "", "/cal", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.CreateEvent(context.Background(), "", time.Now(), time.Hour); err == nil {
		t.Fatal("expected error for empty title")
	}
}
