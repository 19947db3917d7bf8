package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zekehq/zeke-agent/internal/notify"
)

// missedGrace is how far past due a pending reminder may be at boot
// and still be delivered. Older ones are marked missed rather than
// firing hours late.
const missedGrace = time.Hour

// Service delivers reminders when they come due.
type Service struct {
	store    *Store
	notifier notify.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer // reminder ID -> timer
	running bool
	wg      sync.WaitGroup
}

// NewService creates a reminder service. notifier may be nil; firing
// without one records a failure instead of delivering.
func NewService(store *Store, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "reminders"),
		timers:   make(map[string]*time.Timer),
	}
}

// Start replays persisted pending reminders into the timer map.
// Reminders more than missedGrace past due are marked missed; ones
// slightly past due fire immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	pending, err := s.store.Pending()
	if err != nil {
		return fmt.Errorf("load pending reminders: %w", err)
	}

	replayed, missed := 0, 0
	now := time.Now()
	for _, r := range pending {
		if now.Sub(r.ScheduledFor) > missedGrace {
			if err := s.store.SetStatus(r.ID, StatusMissed); err != nil {
				s.logger.Error("mark missed", "id", r.ID, "error", err)
			}
			missed++
			continue
		}
		s.arm(r)
		replayed++
	}

	s.logger.Info("reminders replayed", "pending", replayed, "missed", missed)
	return nil
}

// Stop cancels all timers and waits for in-flight deliveries.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("reminders stopped")
}

// Schedule persists a reminder and arms its timer.
func (s *Service) Schedule(message, phone string, at time.Time) (*Reminder, error) {
	if message == "" {
		return nil, fmt.Errorf("empty reminder message")
	}

	r := &Reminder{
		Message:      message,
		Phone:        phone,
		ScheduledFor: at,
	}
	if err := s.store.Create(r); err != nil {
		return nil, err
	}

	s.arm(r)
	s.logger.Info("reminder scheduled", "id", r.ID, "at", at.Format(time.RFC3339))
	return r, nil
}

// Cancel stops the timer and marks the row cancelled.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	return s.store.SetStatus(id, StatusCancelled)
}

// Pending returns reminders awaiting delivery.
func (s *Service) Pending() ([]*Reminder, error) {
	return s.store.Pending()
}

func (s *Service) arm(r *Reminder) {
	delay := time.Until(r.ScheduledFor)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, exists := s.timers[r.ID]; exists {
		timer.Stop()
	}
	s.timers[r.ID] = time.AfterFunc(delay, func() {
		s.fire(r.ID)
	})
}

// fire delivers one reminder. Always records an outcome; a delivery
// problem is a failed row, never a crash.
func (s *Service) fire(id string) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	r, err := s.store.Get(id)
	if err != nil {
		s.logger.Error("load reminder for delivery", "id", id, "error", err)
		return
	}
	if r.Status != StatusPending {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status := StatusSent
	if s.notifier == nil {
		status = StatusFailed
		s.logger.Error("no notifier configured, reminder not delivered", "id", id)
	} else if err := s.notifier.SendSMS(ctx, r.Phone, "Reminder: "+r.Message, "reminders"); err != nil {
		status = StatusFailed
		s.logger.Error("reminder delivery failed", "id", id, "error", err)
	}

	if err := s.store.SetStatus(id, status); err != nil {
		s.logger.Error("record reminder outcome", "id", id, "error", err)
	}
	s.logger.Info("reminder fired", "id", id, "status", status)
}
