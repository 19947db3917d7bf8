// Package settings persists the context agent's process-wide
// configuration: a single row, loaded at startup, read at each scan,
// written on scan completion and on admin toggles.
package settings

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Settings is the context agent's mutable configuration.
type Settings struct {
	Enabled             bool      `json:"enabled"`
	LookbackHours       int       `json:"lookback_hours"`
	ScanIntervalMinutes int       `json:"scan_interval_minutes"`
	AutoExecute         bool      `json:"auto_execute"`
	RequireApprovalSMS  bool      `json:"require_approval_for_sms"`
	NotifyOnExecution   bool      `json:"notify_on_execution"`
	LastScanTime        time.Time `json:"last_scan_time,omitempty"`
}

// Defaults returns the settings seeded on first run.
func Defaults() Settings {
	return Settings{
		Enabled:             true,
		LookbackHours:       4,
		ScanIntervalMinutes: 15,
		AutoExecute:         true,
		RequireApprovalSMS:  true,
		NotifyOnExecution:   true,
	}
}

// Store persists the single settings row.
type Store struct {
	db *sql.DB
}

// NewStore opens the settings database, seeding the row with seed on
// first run. Subsequent runs keep whatever the admin last saved.
func NewStore(dbPath string, seed Settings) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(seed); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(seed Settings) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS agent_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			enabled INTEGER NOT NULL,
			lookback_hours INTEGER NOT NULL,
			scan_interval_minutes INTEGER NOT NULL,
			auto_execute INTEGER NOT NULL,
			require_approval_sms INTEGER NOT NULL,
			notify_on_execution INTEGER NOT NULL,
			last_scan_time TEXT
		)
	`)
	if err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM agent_settings`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err = s.db.Exec(`
			INSERT INTO agent_settings
				(id, enabled, lookback_hours, scan_interval_minutes, auto_execute, require_approval_sms, notify_on_execution, last_scan_time)
			VALUES (1, ?, ?, ?, ?, ?, ?, NULL)
		`, boolInt(seed.Enabled), seed.LookbackHours, seed.ScanIntervalMinutes,
			boolInt(seed.AutoExecute), boolInt(seed.RequireApprovalSMS), boolInt(seed.NotifyOnExecution))
		return err
	}
	return nil
}

// Get loads the settings row.
func (s *Store) Get() (Settings, error) {
	var out Settings
	var enabled, autoExec, approval, notify int
	var lastScan sql.NullString

	err := s.db.QueryRow(`
		SELECT enabled, lookback_hours, scan_interval_minutes, auto_execute,
			require_approval_sms, notify_on_execution, last_scan_time
		FROM agent_settings WHERE id = 1
	`).Scan(&enabled, &out.LookbackHours, &out.ScanIntervalMinutes,
		&autoExec, &approval, &notify, &lastScan)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}

	out.Enabled = enabled == 1
	out.AutoExecute = autoExec == 1
	out.RequireApprovalSMS = approval == 1
	out.NotifyOnExecution = notify == 1
	if lastScan.Valid {
		out.LastScanTime, _ = time.Parse(time.RFC3339Nano, lastScan.String)
	}
	return out, nil
}

// Put replaces the settings row.
func (s *Store) Put(in Settings) error {
	var lastScan sql.NullString
	if !in.LastScanTime.IsZero() {
		lastScan = sql.NullString{String: in.LastScanTime.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.Exec(`
		UPDATE agent_settings SET enabled = ?, lookback_hours = ?, scan_interval_minutes = ?,
			auto_execute = ?, require_approval_sms = ?, notify_on_execution = ?, last_scan_time = ?
		WHERE id = 1
	`, boolInt(in.Enabled), in.LookbackHours, in.ScanIntervalMinutes,
		boolInt(in.AutoExecute), boolInt(in.RequireApprovalSMS), boolInt(in.NotifyOnExecution), lastScan)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// SetLastScanTime advances the scan watermark without touching the
// admin-controlled fields.
func (s *Store) SetLastScanTime(t time.Time) error {
	_, err := s.db.Exec(`UPDATE agent_settings SET last_scan_time = ? WHERE id = 1`,
		t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
