package arc

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/abelbrown/zeitgeist/internal/logging"
)

// ErrCorrupt is returned when persistent registry state exists but cannot
// be read. This is distinct from legitimate first-run emptiness: the system
// must not silently start with an empty registry over a corrupt one, so the
// operator gets an explicit decision point at startup.
var ErrCorrupt = errors.New("registry state is corrupt")

const schemaVersion = "1"

// Store persists registry state (stories plus the divergence baseline) in
// SQLite. All cycle mutations are applied as one transaction.
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens (or creates) the registry database. An empty or missing
// database is initialized; an existing database that cannot be validated
// fails with ErrCorrupt.
func OpenStore(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so the whole connection pool sees one database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping failed: %v", ErrCorrupt, err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates tables on first run, and validates the schema marker
// on every subsequent run. Tables present without a readable marker means
// the state is not ours to trust.
func (s *Store) initSchema() error {
	var tables int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table'`).Scan(&tables); err != nil {
		return fmt.Errorf("%w: cannot inspect schema: %v", ErrCorrupt, err)
	}

	if tables == 0 {
		schema := `
		CREATE TABLE registry_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE stories (
			id TEXT PRIMARY KEY,
			canonical_title TEXT NOT NULL,
			fingerprint TEXT NOT NULL,      -- JSON array
			first_centroid TEXT NOT NULL,   -- JSON array
			first_seen DATETIME NOT NULL,
			last_seen DATETIME NOT NULL,
			links TEXT NOT NULL,            -- JSON array of link refs
			entities TEXT NOT NULL,         -- JSON object: entity -> count
			phase TEXT NOT NULL,
			velocity_history TEXT NOT NULL, -- JSON array
			peak_velocity REAL NOT NULL DEFAULT 0,
			missed_cycles INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX idx_stories_last_seen ON stories(last_seen DESC);

		CREATE TABLE divergence_baseline (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			expected_ratio REAL NOT NULL,
			observations INTEGER NOT NULL
		);
		`
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("create registry schema: %w", err)
		}
		if _, err := s.db.Exec(`INSERT INTO registry_meta (key, value) VALUES ('schema_version', ?)`, schemaVersion); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
		logging.Info("Registry database initialized")
		return nil
	}

	var version string
	err := s.db.QueryRow(`SELECT value FROM registry_meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil {
		return fmt.Errorf("%w: schema marker unreadable: %v", ErrCorrupt, err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: schema version %q, want %q", ErrCorrupt, version, schemaVersion)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// LoadStories reads every persisted story. An unreadable row is corruption,
// not data to skip.
func (s *Store) LoadStories() ([]*Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, canonical_title, fingerprint, first_centroid, first_seen,
		       last_seen, links, entities, phase, velocity_history,
		       peak_velocity, missed_cycles
		FROM stories`)
	if err != nil {
		return nil, fmt.Errorf("%w: query stories: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	var stories []*Story
	for rows.Next() {
		var st Story
		var fingerprint, firstCentroid, links, entities, history string
		err := rows.Scan(&st.ID, &st.CanonicalTitle, &fingerprint, &firstCentroid,
			&st.FirstSeen, &st.LastSeen, &links, &entities, &st.Phase,
			&history, &st.PeakVelocity, &st.MissedCycles)
		if err != nil {
			return nil, fmt.Errorf("%w: scan story: %v", ErrCorrupt, err)
		}
		if err := json.Unmarshal([]byte(fingerprint), &st.Fingerprint); err != nil {
			return nil, fmt.Errorf("%w: story %s fingerprint: %v", ErrCorrupt, st.ID, err)
		}
		if err := json.Unmarshal([]byte(firstCentroid), &st.FirstCentroid); err != nil {
			return nil, fmt.Errorf("%w: story %s first centroid: %v", ErrCorrupt, st.ID, err)
		}
		if err := json.Unmarshal([]byte(links), &st.Links); err != nil {
			return nil, fmt.Errorf("%w: story %s links: %v", ErrCorrupt, st.ID, err)
		}
		if err := json.Unmarshal([]byte(entities), &st.Entities); err != nil {
			return nil, fmt.Errorf("%w: story %s entities: %v", ErrCorrupt, st.ID, err)
		}
		if err := json.Unmarshal([]byte(history), &st.Velocity); err != nil {
			return nil, fmt.Errorf("%w: story %s velocity history: %v", ErrCorrupt, st.ID, err)
		}
		stories = append(stories, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate stories: %v", ErrCorrupt, err)
	}
	return stories, nil
}

// UpsertStories writes the given stories in a single transaction. Either
// all of a cycle's mutations commit, or none do.
func (s *Store) UpsertStories(stories []*Story) error {
	if len(stories) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin registry commit: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO stories (id, canonical_title, fingerprint, first_centroid,
			first_seen, last_seen, links, entities, phase, velocity_history,
			peak_velocity, missed_cycles)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			canonical_title = excluded.canonical_title,
			fingerprint = excluded.fingerprint,
			last_seen = excluded.last_seen,
			links = excluded.links,
			entities = excluded.entities,
			phase = excluded.phase,
			velocity_history = excluded.velocity_history,
			peak_velocity = excluded.peak_velocity,
			missed_cycles = excluded.missed_cycles
	`)
	if err != nil {
		return fmt.Errorf("prepare story upsert: %w", err)
	}
	defer stmt.Close()

	for _, st := range stories {
		fingerprint, _ := json.Marshal(st.Fingerprint)
		firstCentroid, _ := json.Marshal(st.FirstCentroid)
		links, _ := json.Marshal(st.Links)
		entities, _ := json.Marshal(st.Entities)
		history, _ := json.Marshal(st.Velocity)

		_, err := stmt.Exec(st.ID, st.CanonicalTitle, string(fingerprint),
			string(firstCentroid), st.FirstSeen.UTC(), st.LastSeen.UTC(),
			string(links), string(entities), string(st.Phase), string(history),
			st.PeakVelocity, st.MissedCycles)
		if err != nil {
			return fmt.Errorf("upsert story %s: %w", st.ID, err)
		}
	}

	return tx.Commit()
}

// LoadBaseline returns the persisted divergence baseline, if any.
func (s *Store) LoadBaseline() (expected float64, observations int, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.QueryRow(`SELECT expected_ratio, observations FROM divergence_baseline WHERE id = 1`).
		Scan(&expected, &observations)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: read baseline: %v", ErrCorrupt, err)
	}
	return expected, observations, true, nil
}

// SaveBaseline persists the divergence baseline.
func (s *Store) SaveBaseline(expected float64, observations int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO divergence_baseline (id, expected_ratio, observations)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			expected_ratio = excluded.expected_ratio,
			observations = excluded.observations
	`, expected, observations)
	if err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}
