// Package contacts provides the directory used to resolve message
// targets. People are stored with multi-value facts (a contact can
// have two phone numbers); resolution tries an exact name match
// first, then a substring fallback.
package contacts

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// FactPhone is the facts key for phone numbers.
const FactPhone = "phone"

// activeFilter excludes soft-deleted rows from lookups.
const activeFilter = "deleted_at IS NULL"

// Contact represents a person in the directory.
type Contact struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Relationship string              `json:"relationship,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Facts        map[string][]string `json:"facts,omitempty"`
}

// Phone returns the contact's first phone number, or "".
func (c *Contact) Phone() string {
	if v := c.Facts[FactPhone]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Store manages contact persistence in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a contact store using the given database path.
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
		CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			relationship TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_contacts_deleted ON contacts(deleted_at);

		-- Name uniqueness applies to active rows only, so a deleted
		-- contact's name can be reused.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_name_active
			ON contacts(LOWER(name)) WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS contact_facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_id TEXT NOT NULL REFERENCES contacts(id),
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_contact_facts_contact_id ON contact_facts(contact_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert creates a contact, or updates the existing one with the same
// name (case-insensitive).
func (s *Store) Upsert(name, relationship string) (*Contact, error) {
	now := time.Now().UTC()

	existing, err := s.FindByName(name)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		if relationship != "" && relationship != existing.Relationship {
			_, err = s.db.Exec(`UPDATE contacts SET relationship = ?, updated_at = ? WHERE id = ?`,
				relationship, now.Format(time.RFC3339), existing.ID)
			if err != nil {
				return nil, fmt.Errorf("update: %w", err)
			}
			existing.Relationship = relationship
		}
		return existing, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	c := &Contact{
		ID:           id.String(),
		Name:         name,
		Relationship: relationship,
		CreatedAt:    now,
		UpdatedAt:    now,
		Facts:        map[string][]string{},
	}

	_, err = s.db.Exec(`
		INSERT INTO contacts (id, name, relationship, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.Name, nullStr(c.Relationship), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	return c, nil
}

// SetFact adds a structured attribute. The exact (contact, key, value)
// triple is a no-op when it already exists; multiple values per key
// are supported.
func (s *Store) SetFact(contactID, key, value string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM contact_facts WHERE contact_id = ? AND key = ? AND value = ?`,
		contactID, key, value).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check existing fact: %w", err)
	}
	if exists > 0 {
		return nil
	}

	_, err = s.db.Exec(
		`INSERT INTO contact_facts (contact_id, key, value, updated_at) VALUES (?, ?, ?, ?)`,
		contactID, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set fact: %w", err)
	}
	return nil
}

// FindByName returns the contact with a case-insensitive exact name
// match, facts populated. Returns sql.ErrNoRows when not found.
func (s *Store) FindByName(name string) (*Contact, error) {
	row := s.db.QueryRow(
		`SELECT id, name, relationship, created_at, updated_at FROM contacts
		 WHERE LOWER(name) = LOWER(?) AND `+activeFilter,
		name)
	c, err := scanContact(row)
	if err != nil {
		return nil, err
	}
	c.Facts, err = s.facts(c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Search returns contacts whose name contains the query, facts
// populated, name order.
func (s *Store) Search(query string) ([]*Contact, error) {
	rows, err := s.db.Query(
		`SELECT id, name, relationship, created_at, updated_at
		 FROM contacts WHERE name LIKE ? AND `+activeFilter+` ORDER BY name LIMIT 20`,
		"%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		if c.Facts, err = s.facts(c.ID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Resolve finds the best contact for a spoken name: exact match
// first, then the first substring match. Returns nil when nothing
// matches; downstream validation turns that into a skipped command
// rather than guessing a number.
func (s *Store) Resolve(name string) (*Contact, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	c, err := s.FindByName(name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	matches, err := s.Search(name)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		s.logger.Debug("no contact match", "name", name)
		return nil, nil
	}
	return matches[0], nil
}

// ListAll returns every active contact, facts populated.
func (s *Store) ListAll() ([]*Contact, error) {
	return s.Search("")
}

// Delete soft-deletes a contact. Its facts stay in place so an upsert
// with the same name starts a fresh contact without inheriting them.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(
		`UPDATE contacts SET deleted_at = ? WHERE id = ? AND `+activeFilter,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("contact %s not found", id)
	}
	return nil
}

func (s *Store) facts(contactID string) (map[string][]string, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM contact_facts WHERE contact_id = ? ORDER BY key, id`,
		contactID)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	facts := make(map[string][]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		facts[key] = append(facts[key], value)
	}
	return facts, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanContact(row scannable) (*Contact, error) {
	var c Contact
	var relationship sql.NullString
	var createdStr, updatedStr string

	if err := row.Scan(&c.ID, &c.Name, &relationship, &createdStr, &updatedStr); err != nil {
		return nil, err
	}

	c.Relationship = relationship.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return &c, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
