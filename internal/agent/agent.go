// Package agent runs the periodic transcript scan: detect wake-word
// commands, filter, parse, validate, and execute or park them for
// approval, recording every step in the ledger.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zekehq/zeke-agent/internal/command"
	"github.com/zekehq/zeke-agent/internal/events"
	"github.com/zekehq/zeke-agent/internal/exec"
	"github.com/zekehq/zeke-agent/internal/ledger"
	"github.com/zekehq/zeke-agent/internal/notify"
	"github.com/zekehq/zeke-agent/internal/parser"
	"github.com/zekehq/zeke-agent/internal/settings"
	"github.com/zekehq/zeke-agent/internal/transcripts"
	"github.com/zekehq/zeke-agent/internal/wakeword"
)

// ErrScanInProgress is returned when a tick overlaps a running scan.
// The overlapping tick is dropped, never queued.
var ErrScanInProgress = errors.New("scan already in progress")

// SegmentSource fetches transcript segments newer than a watermark.
type SegmentSource interface {
	ListSegments(ctx context.Context, since time.Time) ([]*transcripts.Segment, error)
}

// ExecutionPublisher pushes execution events to external listeners
// (MQTT). May be nil.
type ExecutionPublisher interface {
	PublishExecution(ctx context.Context, ev notify.ExecutionEvent)
}

// ScanResult summarizes one tick.
type ScanResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Segments  int           `json:"segments"`
	Detected  int           `json:"detected"`
	Parsed    int           `json:"parsed"`
	Executed  int           `json:"executed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Pending   int           `json:"pending"`
	Err       string        `json:"error,omitempty"`
}

// Deps are the agent's injected collaborators.
type Deps struct {
	Source    SegmentSource
	Parser    parser.Parser
	Ledger    *ledger.Store
	Settings  *settings.Store
	Router    *exec.Router
	Notifier  notify.Notifier
	Publisher ExecutionPublisher
	Bus       *events.Bus
}

// Agent is the scan loop.
type Agent struct {
	deps   Deps
	logger *slog.Logger

	mu         sync.Mutex
	inProgress bool
	lastResult *ScanResult
}

// New creates an agent. Source, Parser, Ledger, Settings and Router
// are required; the rest may be nil.
func New(deps Deps, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		deps:   deps,
		logger: logger.With("component", "agent"),
	}
}

// Run ticks at the configured interval until ctx is cancelled. The
// interval is re-read from settings each cycle so admin changes take
// effect without a restart. One scan runs immediately at startup.
func (a *Agent) Run(ctx context.Context) {
	a.tick(ctx)

	for {
		interval := a.interval()
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopped")
			return
		case <-time.After(interval):
			a.tick(ctx)
		}
	}
}

func (a *Agent) interval() time.Duration {
	st, err := a.deps.Settings.Get()
	if err != nil || st.ScanIntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(st.ScanIntervalMinutes) * time.Minute
}

func (a *Agent) tick(ctx context.Context) {
	if _, err := a.Scan(ctx); err != nil && !errors.Is(err, ErrScanInProgress) {
		a.logger.Error("scan failed", "error", err)
	}
}

// LastResult returns the most recent scan summary, or nil before the
// first tick completes.
func (a *Agent) LastResult() *ScanResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastResult
}

// Scan runs one tick. Safe to call concurrently with the loop: if a
// scan is already running the call returns ErrScanInProgress.
func (a *Agent) Scan(ctx context.Context) (*ScanResult, error) {
	a.mu.Lock()
	if a.inProgress {
		a.mu.Unlock()
		a.logger.Debug("overlapping scan dropped")
		return nil, ErrScanInProgress
	}
	a.inProgress = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inProgress = false
		a.mu.Unlock()
	}()

	result := &ScanResult{StartedAt: time.Now()}
	finish := func() *ScanResult {
		result.Duration = time.Since(result.StartedAt)
		a.mu.Lock()
		a.lastResult = result
		a.mu.Unlock()
		return result
	}

	st, err := a.deps.Settings.Get()
	if err != nil {
		result.Err = err.Error()
		return finish(), fmt.Errorf("load settings: %w", err)
	}
	if !st.Enabled {
		a.logger.Debug("agent disabled, skipping scan")
		return finish(), nil
	}

	a.deps.Bus.Publish(events.Event{
		Timestamp: result.StartedAt,
		Source:    events.SourceScan,
		Kind:      events.KindScanStart,
		Data:      map[string]any{"lookback_hours": st.LookbackHours},
	})

	since := result.StartedAt.Add(-time.Duration(st.LookbackHours) * time.Hour)
	segments, err := a.deps.Source.ListSegments(ctx, since)
	if err != nil {
		// Abort the tick and leave the watermark alone: the next tick
		// re-covers this window.
		result.Err = err.Error()
		a.publishScanComplete(result)
		return finish(), fmt.Errorf("list segments: %w", err)
	}
	result.Segments = len(segments)

	for _, seg := range segments {
		for _, dc := range wakeword.DetectSegment(seg) {
			a.processCommand(ctx, st, dc, result)
		}
	}

	if err := a.deps.Settings.SetLastScanTime(result.StartedAt); err != nil {
		a.logger.Error("record scan watermark", "error", err)
	}

	a.publishScanComplete(result)
	a.logger.Info("scan complete",
		"segments", result.Segments,
		"detected", result.Detected,
		"executed", result.Executed,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"pending", result.Pending,
	)
	return finish(), nil
}

// processCommand pushes one detection through the pipeline. Errors
// are recorded against the entry and never abort the batch.
func (a *Agent) processCommand(ctx context.Context, st settings.Settings, dc command.DetectedCommand, result *ScanResult) {
	log := a.logger.With("segment", dc.SegmentID)

	if !wakeword.IsActionable(dc.CommandText) {
		log.Debug("mention not actionable", "text", dc.CommandText)
		return
	}

	entry := ledger.NewEntry(dc, wakeword.NormalizeCommand(dc.CommandText))
	if err := a.deps.Ledger.Insert(entry); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			log.Debug("duplicate command, ignoring", "command", entry.NormalizedCommand)
			return
		}
		log.Error("ledger insert", "error", err)
		return
	}
	result.Detected++
	a.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceScan,
		Kind:      events.KindCommandDetected,
		Data:      map[string]any{"command_id": entry.ID, "segment_id": dc.SegmentID, "trigger": dc.Trigger},
	})

	action, err := a.deps.Parser.Parse(ctx, &dc)
	if err != nil {
		log.Warn("parse failed", "command", dc.CommandText, "error", err)
		a.transition(entry.ID, ledger.StatusFailed, "parse: "+err.Error())
		result.Failed++
		return
	}

	payload, err := action.MarshalPayload()
	if err != nil {
		a.transition(entry.ID, ledger.StatusFailed, err.Error())
		result.Failed++
		return
	}
	contactID := ""
	if action.TargetContact != nil {
		contactID = action.TargetContact.ID
	}
	if err := a.deps.Ledger.AttachAction(entry.ID, string(action.Type), payload, contactID, action.Confidence); err != nil {
		log.Error("attach action", "error", err)
		result.Failed++
		return
	}
	result.Parsed++

	if ok, reason := command.Validate(action); !ok {
		log.Info("command skipped", "reason", reason)
		a.transition(entry.ID, ledger.StatusSkipped, reason)
		result.Skipped++
		a.deps.Bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceScan,
			Kind:      events.KindCommandSkipped,
			Data:      map[string]any{"command_id": entry.ID, "reason": reason},
		})
		return
	}

	if a.needsApproval(st, action) {
		a.transition(entry.ID, ledger.StatusPendingApproval, "")
		result.Pending++
		a.deps.Bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceScan,
			Kind:      events.KindApprovalRequired,
			Data:      map[string]any{"command_id": entry.ID, "action_type": string(action.Type)},
		})
		if a.deps.Notifier != nil {
			msg := fmt.Sprintf("ZEKE heard %q and needs approval to run it.", dc.CommandText)
			if err := a.deps.Notifier.NotifyUser(ctx, msg); err != nil {
				log.Warn("approval notification failed", "error", err)
			}
		}
		return
	}

	a.execute(ctx, st, entry.ID, action, &dc, result)
}

// needsApproval gates execution: everything waits when autoExecute is
// off, and outbound SMS waits when the SMS approval toggle is on.
func (a *Agent) needsApproval(st settings.Settings, action *command.Action) bool {
	if !st.AutoExecute {
		return true
	}
	return st.RequireApprovalSMS && action.Type == command.ActionSendMessage
}

// execute runs the router for one parsed command and records the
// outcome.
func (a *Agent) execute(ctx context.Context, st settings.Settings, id string, action *command.Action, dc *command.DetectedCommand, result *ScanResult) {
	if err := a.deps.Ledger.Transition(id, ledger.StatusExecuting, ""); err != nil {
		a.logger.Error("transition to executing", "id", id, "error", err)
		result.Failed++
		return
	}

	outcome := a.deps.Router.Execute(ctx, action, dc)

	final := ledger.StatusCompleted
	if !outcome.Success {
		final = ledger.StatusFailed
		result.Failed++
	} else {
		result.Executed++
	}
	a.transition(id, final, outcome.Message)

	a.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceRouter,
		Kind:      events.KindCommandExecuted,
		Data: map[string]any{
			"command_id":  id,
			"action_type": string(action.Type),
			"ok":          outcome.Success,
			"message":     outcome.Message,
		},
	})

	if st.NotifyOnExecution && a.deps.Publisher != nil {
		a.deps.Publisher.PublishExecution(ctx, notify.ExecutionEvent{
			CommandID:  id,
			ActionType: string(action.Type),
			Status:     string(final),
			Message:    outcome.Message,
		})
	}
}

// Approve runs a pending_approval command now.
func (a *Agent) Approve(ctx context.Context, id string) (exec.Outcome, error) {
	entry, err := a.deps.Ledger.Get(id)
	if err != nil {
		return exec.Outcome{}, fmt.Errorf("load command: %w", err)
	}
	if entry.Status != ledger.StatusPendingApproval {
		return exec.Outcome{}, fmt.Errorf("command %s is %s, not pending_approval", id, entry.Status)
	}

	action, err := command.UnmarshalPayload(entry.ActionPayload)
	if err != nil {
		return exec.Outcome{}, fmt.Errorf("restore action: %w", err)
	}

	st, err := a.deps.Settings.Get()
	if err != nil {
		return exec.Outcome{}, fmt.Errorf("load settings: %w", err)
	}

	dc := command.DetectedCommand{
		SegmentID:    entry.SegmentID,
		SegmentTitle: entry.SegmentTitle,
		Timestamp:    entry.Timestamp,
		Trigger:      entry.Trigger,
		CommandText:  entry.CommandText,
		SpeakerName:  entry.SpeakerName,
		Context:      entry.Context,
		Excerpt:      entry.Excerpt,
	}

	var result ScanResult
	a.execute(ctx, st, id, action, &dc, &result)

	updated, err := a.deps.Ledger.Get(id)
	if err != nil {
		return exec.Outcome{}, err
	}
	return exec.Outcome{
		Success: updated.Status == ledger.StatusCompleted,
		Message: updated.ResultMessage,
	}, nil
}

func (a *Agent) transition(id string, status ledger.Status, message string) {
	if err := a.deps.Ledger.Transition(id, status, message); err != nil {
		a.logger.Error("ledger transition", "id", id, "status", status, "error", err)
	}
}

func (a *Agent) publishScanComplete(r *ScanResult) {
	a.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceScan,
		Kind:      events.KindScanComplete,
		Data: map[string]any{
			"segments": r.Segments,
			"detected": r.Detected,
			"executed": r.Executed,
			"failed":   r.Failed,
			"skipped":  r.Skipped,
			"pending":  r.Pending,
			"error":    r.Err,
		},
	})
}
