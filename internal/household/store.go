// Package household persists the shared task and grocery lists that
// spoken commands add to.
package household

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Item is one entry on a list.
type Item struct {
	ID        string    `json:"id"`
	List      string    `json:"list"` // "task" or "grocery"
	Text      string    `json:"text"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	ListTask    = "task"
	ListGrocery = "grocery"
)

// Store manages list persistence in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a household store using the given database path.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS list_items (
			id TEXT PRIMARY KEY,
			list TEXT NOT NULL,
			text TEXT NOT NULL,
			done INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_list_items_list ON list_items(list, done);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add appends an item to a list. Re-adding text already open on the
// same list is a no-op returning the existing item, so a rescan or a
// repeated request never produces "milk" twice.
func (s *Store) Add(list, text string) (*Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty item text")
	}

	existing, err := s.findOpen(list, text)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Debug("list item already present", "list", list, "text", text)
		return existing, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	item := &Item{
		ID:        id.String(),
		List:      list,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.Exec(
		`INSERT INTO list_items (id, list, text, done, created_at) VALUES (?, ?, ?, 0, ?)`,
		item.ID, item.List, item.Text, item.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	return item, nil
}

// Open returns the not-yet-done items on a list, oldest first.
func (s *Store) Open(list string) ([]*Item, error) {
	rows, err := s.db.Query(
		`SELECT id, list, text, done, created_at FROM list_items
		 WHERE list = ? AND done = 0 ORDER BY created_at`,
		list)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkDone completes an item.
func (s *Store) MarkDone(id string) error {
	res, err := s.db.Exec(`UPDATE list_items SET done = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item not found: %s", id)
	}
	return nil
}

func (s *Store) findOpen(list, text string) (*Item, error) {
	row := s.db.QueryRow(
		`SELECT id, list, text, done, created_at FROM list_items
		 WHERE list = ? AND done = 0 AND LOWER(text) = LOWER(?)`,
		list, text)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*Item, error) {
	var item Item
	var done int
	var createdStr string

	if err := row.Scan(&item.ID, &item.List, &item.Text, &done, &createdStr); err != nil {
		return nil, err
	}
	item.Done = done != 0
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	return &item, nil
}
