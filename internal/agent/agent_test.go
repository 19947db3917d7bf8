package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zekehq/zeke-agent/internal/contacts"
	"github.com/zekehq/zeke-agent/internal/exec"
	"github.com/zekehq/zeke-agent/internal/household"
	"github.com/zekehq/zeke-agent/internal/ledger"
	"github.com/zekehq/zeke-agent/internal/parser"
	"github.com/zekehq/zeke-agent/internal/reminders"
	"github.com/zekehq/zeke-agent/internal/settings"
	"github.com/zekehq/zeke-agent/internal/tools"
	"github.com/zekehq/zeke-agent/internal/transcripts"
)

// fakeSource serves a fixed set of segments.
type fakeSource struct {
	segments []*transcripts.Segment
	err      error
	calls    int
}

func (f *fakeSource) ListSegments(ctx context.Context, since time.Time) ([]*transcripts.Segment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.segments, nil
}

// blockingSource parks ListSegments until released, for overlap tests.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingSource) ListSegments(ctx context.Context, since time.Time) ([]*transcripts.Segment, error) {
	b.started <- struct{}{}
	<-b.release
	return nil, nil
}

func utterance(speaker, text string) *transcripts.ContentNode {
	return &transcripts.ContentNode{
		Type:        "utterance",
		Text:        text,
		SpeakerName: speaker,
		SpeakerRole: transcripts.RoleOther,
	}
}

func segment(id string, texts ...string) *transcripts.Segment {
	seg := &transcripts.Segment{
		ID:        id,
		Title:     "Kitchen conversation",
		StartTime: time.Now().Add(-time.Hour),
	}
	for _, text := range texts {
		seg.Content = append(seg.Content, utterance("Sarah", text))
	}
	return seg
}

// testHarness wires an agent with real stores in a temp dir and a
// rule parser over a one-contact directory.
type testHarness struct {
	agent     *Agent
	ledger    *ledger.Store
	settings  *settings.Store
	household *household.Store
	reminders *reminders.Service
	notifier  *stubNotifier
	source    *fakeSource
}

type stubNotifier struct {
	sms    []string
	direct []string
}

func (n *stubNotifier) SendSMS(ctx context.Context, phone, message, source string) error {
	n.sms = append(n.sms, phone+": "+message)
	return nil
}

func (n *stubNotifier) NotifyUser(ctx context.Context, message string) error {
	n.direct = append(n.direct, message)
	return nil
}

func newHarness(t *testing.T, seed settings.Settings, source *fakeSource) *testHarness {
	t.Helper()
	dir := t.TempDir()

	led, err := ledger.NewStore(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	set, err := settings.NewStore(filepath.Join(dir, "settings.db"), seed)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	t.Cleanup(func() { set.Close() })

	contactStore, err := contacts.NewStore(filepath.Join(dir, "contacts.db"), nil)
	if err != nil {
		t.Fatalf("contacts: %v", err)
	}
	t.Cleanup(func() { contactStore.Close() })
	c, err := contactStore.Upsert("Sarah", "sister")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := contactStore.SetFact(c.ID, contacts.FactPhone, "+15551234567"); err != nil {
		t.Fatalf("set fact: %v", err)
	}

	hh, err := household.NewStore(filepath.Join(dir, "household.db"), nil)
	if err != nil {
		t.Fatalf("household: %v", err)
	}
	t.Cleanup(func() { hh.Close() })

	remStore, err := reminders.NewStore(filepath.Join(dir, "reminders.db"))
	if err != nil {
		t.Fatalf("reminders: %v", err)
	}
	t.Cleanup(func() { remStore.Close() })

	notifier := &stubNotifier{}
	remSvc := reminders.NewService(remStore, notifier, nil)
	if err := remSvc.Start(context.Background()); err != nil {
		t.Fatalf("reminders start: %v", err)
	}
	t.Cleanup(remSvc.Stop)

	registry := tools.NewRegistry(tools.Deps{
		Notifier:  notifier,
		Household: hh,
		Reminders: remSvc,
	}, nil)

	a := New(Deps{
		Source:   source,
		Parser:   parser.NewRuleParser(contactStore, nil),
		Ledger:   led,
		Settings: set,
		Router:   exec.NewRouter(registry, []string{tools.AllowAll}, nil),
		Notifier: notifier,
	}, nil)

	return &testHarness{
		agent:     a,
		ledger:    led,
		settings:  set,
		household: hh,
		reminders: remSvc,
		notifier:  notifier,
		source:    source,
	}
}

func autoExecSettings() settings.Settings {
	s := settings.Defaults()
	s.AutoExecute = true
	s.RequireApprovalSMS = false
	return s
}

func TestScanReminderHappyPath(t *testing.T) {
	source := &fakeSource{segments: []*transcripts.Segment{
		segment("seg-1", "Hey ZEKE, remind me to take out the trash in 30 minutes"),
	}}
	h := newHarness(t, autoExecSettings(), source)

	result, err := h.agent.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Detected != 1 || result.Executed != 1 {
		t.Errorf("result = %+v, want 1 detected 1 executed", result)
	}

	entries, _ := h.ledger.Recent(10)
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d", len(entries))
	}
	if entries[0].Status != ledger.StatusCompleted {
		t.Errorf("status = %s, want completed", entries[0].Status)
	}

	pending, _ := h.reminders.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending reminders = %d, want 1", len(pending))
	}
	if pending[0].Message != "take out the trash" {
		t.Errorf("reminder message = %q", pending[0].Message)
	}
}

func TestScanDuplicateRescan(t *testing.T) {
	source := &fakeSource{segments: []*transcripts.Segment{
		segment("seg-1", "Hey ZEKE, add milk to the grocery list"),
	}}
	h := newHarness(t, autoExecSettings(), source)

	if _, err := h.agent.Scan(context.Background()); err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	second, err := h.agent.Scan(context.Background())
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if second.Detected != 0 || second.Executed != 0 {
		t.Errorf("second scan = %+v, want nothing new", second)
	}

	entries, _ := h.ledger.Recent(10)
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want 1 after rescan", len(entries))
	}
	items, _ := h.household.Open(household.ListGrocery)
	if len(items) != 1 {
		t.Errorf("grocery items = %d, want exactly 1", len(items))
	}
}

func TestScanUnknownContactSkips(t *testing.T) {
	source := &fakeSource{segments: []*transcripts.Segment{
		segment("seg-1", "Hey ZEKE, tell Zelda that dinner is ready"),
	}}
	h := newHarness(t, autoExecSettings(), source)

	result, err := h.agent.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Skipped != 1 || result.Executed != 0 {
		t.Errorf("result = %+v, want 1 skipped 0 executed", result)
	}

	entries, _ := h.ledger.Recent(10)
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Status != ledger.StatusSkipped {
		t.Errorf("status = %s, want skipped", entries[0].Status)
	}
	if entries[0].ResultMessage == "" {
		t.Error("skip reason not recorded")
	}
	if len(h.notifier.sms) != 0 {
		t.Errorf("sms sent despite unknown contact: %v", h.notifier.sms)
	}
}

func TestScanBareMentionIgnored(t *testing.T) {
	source := &fakeSource{segments: []*transcripts.Segment{
		segment("seg-1", "I heard ZEKE was the name of my dog"),
	}}
	h := newHarness(t, autoExecSettings(), source)

	result, err := h.agent.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Detected != 0 {
		t.Errorf("detected = %d, want 0 for bare mention", result.Detected)
	}
	entries, _ := h.ledger.Recent(10)
	if len(entries) != 0 {
		t.Errorf("ledger entries = %d, want 0", len(entries))
	}
}

func TestScanApprovalGating(t *testing.T) {
	seed := settings.Defaults()
	seed.AutoExecute = false
	source := &fakeSource{segments: []*transcripts.Segment{
		segment("seg-1", "Hey ZEKE, add milk to the grocery list"),
	}}
	h := newHarness(t, seed, source)

	result, err := h.agent.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Pending != 1 || result.Executed != 0 {
		t.Errorf("result = %+v, want 1 pending", result)
	}

	pending, _ := h.ledger.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	items, _ := h.household.Open(household.ListGrocery)
	if len(items) != 0 {
		t.Error("command executed before approval")
	}
	if len(h.notifier.direct) != 1 {
		t.Errorf("approval notifications = %d, want 1", len(h.notifier.direct))
	}

	outcome, err := h.agent.Approve(context.Background(), pending[0].ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !outcome.Success {
		t.Errorf("outcome = %+v", outcome)
	}

	items, _ = h.household.Open(household.ListGrocery)
	if len(items) != 1 {
		t.Errorf("grocery items after approval = %d, want 1", len(items))
	}

	// A second approval of the same command is rejected: the entry is
	// terminal now.
	if _, err := h.agent.Approve(context.Background(), pending[0].ID); err == nil {
		t.Error("expected error approving a completed command")
	}
}

func TestScanSMSApprovalGate(t *testing.T) {
	seed := settings.Defaults() // AutoExecute true, RequireApprovalSMS true
	source := &fakeSource{segments: []*transcripts.Segment{
		segment("seg-1", "Hey ZEKE, text Sarah that dinner is at seven"),
		segment("seg-2", "Hey ZEKE, add milk to the grocery list"),
	}}
	h := newHarness(t, seed, source)

	result, err := h.agent.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	// The SMS waits for approval; the grocery add runs.
	if result.Pending != 1 || result.Executed != 1 {
		t.Errorf("result = %+v, want 1 pending 1 executed", result)
	}
	if len(h.notifier.sms) != 0 {
		t.Errorf("sms sent without approval: %v", h.notifier.sms)
	}
}

func TestScanSourceFailureKeepsWatermark(t *testing.T) {
	source := &fakeSource{err: errors.New("recorder unreachable")}
	h := newHarness(t, autoExecSettings(), source)

	result, err := h.agent.Scan(context.Background())
	if err == nil {
		t.Fatal("expected error from failing source")
	}
	if result.Err == "" {
		t.Error("scan result should carry the error")
	}

	st, _ := h.settings.Get()
	if !st.LastScanTime.IsZero() {
		t.Error("watermark advanced despite source failure")
	}
}

func TestScanDisabled(t *testing.T) {
	seed := settings.Defaults()
	seed.Enabled = false
	source := &fakeSource{segments: []*transcripts.Segment{
		segment("seg-1", "Hey ZEKE, add milk to the grocery list"),
	}}
	h := newHarness(t, seed, source)

	result, err := h.agent.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Detected != 0 || source.calls != 0 {
		t.Errorf("disabled agent still scanned: %+v calls=%d", result, source.calls)
	}
}

func TestScanOverlapDropped(t *testing.T) {
	blocking := &blockingSource{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	dir := t.TempDir()
	led, err := ledger.NewStore(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })
	set, err := settings.NewStore(filepath.Join(dir, "settings.db"), autoExecSettings())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	t.Cleanup(func() { set.Close() })

	registry := tools.NewRegistry(tools.Deps{}, nil)
	a := New(Deps{
		Source:   blocking,
		Parser:   parser.NewRuleParser(nil, nil),
		Ledger:   led,
		Settings: set,
		Router:   exec.NewRouter(registry, nil, nil),
	}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := a.Scan(context.Background())
		done <- err
	}()
	<-blocking.started

	if _, err := a.Scan(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("overlapping scan error = %v, want ErrScanInProgress", err)
	}

	close(blocking.release)
	if err := <-done; err != nil {
		t.Errorf("first scan: %v", err)
	}
}

func TestApproveWrongState(t *testing.T) {
	source := &fakeSource{segments: []*transcripts.Segment{
		segment("seg-1", "Hey ZEKE, add milk to the grocery list"),
	}}
	h := newHarness(t, autoExecSettings(), source)

	if _, err := h.agent.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	entries, _ := h.ledger.Recent(1)
	if len(entries) != 1 {
		t.Fatal("no entry")
	}

	_, err := h.agent.Approve(context.Background(), entries[0].ID)
	if err == nil {
		t.Error("expected error approving a completed command")
	}

	_, err = h.agent.Approve(context.Background(), "no-such-id")
	if err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestMultipleCommandsOneFailureDoesNotAbortBatch(t *testing.T) {
	source := &fakeSource{segments: []*transcripts.Segment{
		segment("seg-1",
			"Hey ZEKE, tell Zelda that dinner is ready", // skipped: unknown contact
			"Hey ZEKE, add milk to the grocery list",    // executes
		),
	}}
	h := newHarness(t, autoExecSettings(), source)

	result, err := h.agent.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Detected != 2 {
		t.Errorf("detected = %d, want 2", result.Detected)
	}
	if result.Executed != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 1 executed 1 skipped", result)
	}
}
