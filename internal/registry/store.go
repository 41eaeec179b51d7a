// Package registry persists the entities the tracker has created so that
// a restart can restore previously seen devices (with their names)
// before the first poll. It plays the part of a home-automation entity
// registry: rows are keyed by domain and unique id and grouped by the
// config entry that owns them.
package registry

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// DomainDeviceTracker is the entity domain used for tracked devices.
const DomainDeviceTracker = "device_tracker"

// Entry is one registered entity.
type Entry struct {
	Domain        string
	UniqueID      string
	Platform      string
	ConfigEntryID string
	OriginalName  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is a SQLite-backed entity registry. All public methods are safe
// for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the registry database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database, creating the schema on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entity_registry (
			domain          TEXT NOT NULL,
			unique_id       TEXT NOT NULL,
			platform        TEXT NOT NULL,
			config_entry_id TEXT NOT NULL,
			original_name   TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			PRIMARY KEY (domain, unique_id)
		)
	`); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_entity_registry_entry ON entity_registry (config_entry_id)`)
	return err
}

// Register inserts an entity or refreshes an existing one. An empty
// OriginalName never overwrites a stored name.
func (s *Store) Register(e Entry) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT INTO entity_registry
			(domain, unique_id, platform, config_entry_id, original_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (domain, unique_id) DO UPDATE SET
			platform        = excluded.platform,
			config_entry_id = excluded.config_entry_id,
			original_name   = CASE WHEN excluded.original_name = ''
			                       THEN entity_registry.original_name
			                       ELSE excluded.original_name END,
			updated_at      = excluded.updated_at`,
		e.Domain, e.UniqueID, e.Platform, e.ConfigEntryID, e.OriginalName, now, now,
	)
	if err != nil {
		return fmt.Errorf("register %s/%s: %w", e.Domain, e.UniqueID, err)
	}
	return nil
}

// Lookup returns the entry for domain/uniqueID, or nil if none exists.
func (s *Store) Lookup(domain, uniqueID string) (*Entry, error) {
	row := s.db.QueryRow(
		`SELECT domain, unique_id, platform, config_entry_id, original_name, created_at, updated_at
		 FROM entity_registry WHERE domain = ? AND unique_id = ?`,
		domain, uniqueID,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s/%s: %w", domain, uniqueID, err)
	}
	return e, nil
}

// EntriesForConfigEntry returns every entity owned by a config entry,
// oldest first.
func (s *Store) EntriesForConfigEntry(configEntryID string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT domain, unique_id, platform, config_entry_id, original_name, created_at, updated_at
		 FROM entity_registry WHERE config_entry_id = ?
		 ORDER BY created_at, unique_id`,
		configEntryID,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries for %s: %w", configEntryID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var e Entry
	var created, updated string
	if err := sc.Scan(&e.Domain, &e.UniqueID, &e.Platform, &e.ConfigEntryID, &e.OriginalName, &created, &updated); err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, created)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &e, nil
}
