package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned by Insert when an entry with the same
// (segment_id, normalized_command) pair already exists. Callers treat
// this as "already handled", not as a failure.
var ErrDuplicate = errors.New("command already recorded for this segment")

// ErrInvalidTransition is returned when a status update would leave a
// terminal state or skip an edge of the state machine.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

const entryColumns = `id, segment_id, segment_title, timestamp, trigger_phrase, command_text,
	normalized_command, speaker_name, context, excerpt, status, action_type, action_payload,
	resolved_contact_id, confidence, result_message, created_at, updated_at`

// Store persists ledger entries in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) the ledger database.
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

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		segment_id TEXT NOT NULL,
		segment_title TEXT,
		timestamp TEXT NOT NULL,
		trigger_phrase TEXT NOT NULL,
		command_text TEXT NOT NULL,
		normalized_command TEXT NOT NULL,
		speaker_name TEXT,
		context TEXT,
		excerpt TEXT,
		status TEXT NOT NULL,
		action_type TEXT,
		action_payload TEXT,
		resolved_contact_id TEXT,
		confidence REAL,
		result_message TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_commands_dedupe
		ON commands(segment_id, normalized_command);
	CREATE INDEX IF NOT EXISTS idx_commands_status ON commands(status);
	CREATE INDEX IF NOT EXISTS idx_commands_created_at ON commands(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// NewID generates a new UUIDv7, falling back to v4.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Insert records a newly detected command. Returns ErrDuplicate when
// the (segment, normalized command) pair is already in the ledger.
func (s *Store) Insert(e *Entry) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Status == "" {
		e.Status = StatusDetected
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM commands WHERE segment_id = ? AND normalized_command = ?`,
		e.SegmentID, e.NormalizedCommand).Scan(&exists)
	if err != nil {
		return fmt.Errorf("dedupe check: %w", err)
	}
	if exists > 0 {
		return ErrDuplicate
	}

	_, err = s.db.Exec(`
		INSERT INTO commands (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SegmentID, e.SegmentTitle, e.Timestamp.Format(time.RFC3339Nano),
		e.Trigger, e.CommandText, e.NormalizedCommand,
		nullStr(e.SpeakerName), nullStr(e.Context), nullStr(e.Excerpt),
		string(e.Status), nullStr(e.ActionType), nullStr(e.ActionPayload),
		nullStr(e.ResolvedContactID), e.Confidence, nullStr(e.ResultMessage),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// Exists reports whether the (segment, normalized command) pair is
// already recorded, regardless of status.
func (s *Store) Exists(segmentID, normalized string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM commands WHERE segment_id = ? AND normalized_command = ?`,
		segmentID, normalized).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("exists check: %w", err)
	}
	return count > 0, nil
}

// Get retrieves an entry by ID.
func (s *Store) Get(id string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM commands WHERE id = ?`, id)
	return scanEntry(row)
}

// Transition moves an entry to a new status, optionally updating the
// result message. The state machine is enforced here: illegal edges,
// including any edge out of a terminal state, return
// ErrInvalidTransition.
func (s *Store) Transition(id string, next Status, resultMessage string) error {
	cur, err := s.Get(id)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}

	if !CanTransition(cur.Status, next) {
		return &ErrInvalidTransition{From: cur.Status, To: next}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if resultMessage != "" {
		_, err = s.db.Exec(
			`UPDATE commands SET status = ?, result_message = ?, updated_at = ? WHERE id = ?`,
			string(next), resultMessage, now, id)
	} else {
		_, err = s.db.Exec(
			`UPDATE commands SET status = ?, updated_at = ? WHERE id = ?`,
			string(next), now, id)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// AttachAction records the parser's output on an entry alongside the
// detected -> parsed transition.
func (s *Store) AttachAction(id, actionType, payload, contactID string, confidence float64) error {
	cur, err := s.Get(id)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}
	if !CanTransition(cur.Status, StatusParsed) {
		return &ErrInvalidTransition{From: cur.Status, To: StatusParsed}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(`
		UPDATE commands SET status = ?, action_type = ?, action_payload = ?,
			resolved_contact_id = ?, confidence = ?, updated_at = ?
		WHERE id = ?
	`, string(StatusParsed), actionType, payload, nullStr(contactID), confidence, now, id)
	if err != nil {
		return fmt.Errorf("attach action: %w", err)
	}
	return nil
}

// Recent returns the newest entries, any status.
func (s *Store) Recent(limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+entryColumns+` FROM commands ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Pending returns entries awaiting manual approval, oldest first.
func (s *Store) Pending() ([]*Entry, error) {
	rows, err := s.db.Query(
		`SELECT `+entryColumns+` FROM commands WHERE status = ? ORDER BY created_at ASC`,
		string(StatusPendingApproval))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountByStatus returns entry counts grouped by status.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM commands GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*Entry, error) {
	var e Entry
	var ts, status, createdAt, updatedAt string
	var speaker, context, excerpt, actionType, payload, contactID, result sql.NullString
	var confidence sql.NullFloat64

	err := row.Scan(&e.ID, &e.SegmentID, &e.SegmentTitle, &ts, &e.Trigger, &e.CommandText,
		&e.NormalizedCommand, &speaker, &context, &excerpt, &status, &actionType, &payload,
		&contactID, &confidence, &result, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	e.SpeakerName = speaker.String
	e.Context = context.String
	e.Excerpt = excerpt.String
	e.Status = Status(status)
	e.ActionType = actionType.String
	e.ActionPayload = payload.String
	e.ResolvedContactID = contactID.String
	if confidence.Valid {
		e.Confidence = confidence.Float64
	}
	e.ResultMessage = result.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
