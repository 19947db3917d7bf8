package reminders

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists reminders in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a reminder store using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			message TEXT NOT NULL,
			phone TEXT NOT NULL,
			scheduled_for TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL,
			delivered_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_reminders_status ON reminders(status, scheduled_for);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewID returns a UUIDv7 string (time-ordered), falling back to v4.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Create inserts a pending reminder.
func (s *Store) Create(r *Reminder) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}

	_, err := s.db.Exec(`
		INSERT INTO reminders (id, message, phone, scheduled_for, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Message, r.Phone,
		r.ScheduledFor.UTC().Format(time.RFC3339Nano),
		r.Status, r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

// Get returns one reminder by id.
func (s *Store) Get(id string) (*Reminder, error) {
	row := s.db.QueryRow(
		`SELECT id, message, phone, scheduled_for, status, created_at, delivered_at
		 FROM reminders WHERE id = ?`, id)
	return scanReminder(row)
}

// Pending returns reminders awaiting delivery, soonest first.
func (s *Store) Pending() ([]*Reminder, error) {
	rows, err := s.db.Query(
		`SELECT id, message, phone, scheduled_for, status, created_at, delivered_at
		 FROM reminders WHERE status = ? ORDER BY scheduled_for`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetStatus records the outcome of a delivery attempt.
func (s *Store) SetStatus(id, status string) error {
	var delivered any
	if status == StatusSent {
		delivered = time.Now().UTC().Format(time.RFC3339Nano)
	}

	res, err := s.db.Exec(
		`UPDATE reminders SET status = ?, delivered_at = ? WHERE id = ?`,
		status, delivered, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder not found: %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReminder(row scannable) (*Reminder, error) {
	var r Reminder
	var scheduledStr, createdStr string
	var deliveredStr sql.NullString

	err := row.Scan(&r.ID, &r.Message, &r.Phone, &scheduledStr, &r.Status, &createdStr, &deliveredStr)
	if err != nil {
		return nil, err
	}

	r.ScheduledFor, _ = time.Parse(time.RFC3339Nano, scheduledStr)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	if deliveredStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deliveredStr.String)
		r.DeliveredAt = &t
	}
	return &r, nil
}
