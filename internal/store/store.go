// Package store is the engine's admin storage: queue order, serialised
// jobs, spilled article payloads and the history table, all under the
// admin directory with sqlite for the structured parts.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nzbdaemon/nzbd/internal/queue"
)

// schemaVersion leads the database; a mismatch triggers the repair-on-start
// pass instead of a guess at old formats.
const schemaVersion = 1

var ErrNeedsRepair = errors.New("admin state incompatible or corrupt")

const schema = `
CREATE TABLE IF NOT EXISTS schema_info (
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS queue_order (
	id  INTEGER PRIMARY KEY CHECK (id = 0),
	ids TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
	id   TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL,
	fail_msg     TEXT,
	bytes        INTEGER NOT NULL DEFAULT 0,
	path         TEXT,
	stage_log    TEXT,
	completed_at INTEGER NOT NULL
);
`

type Store struct {
	db       *sql.DB
	adminDir string
}

func Open(adminDir string) (*Store, error) {
	if err := os.MkdirAll(adminDir, 0755); err != nil {
		return nil, fmt.Errorf("create admin dir: %w", err)
	}

	dbPath := filepath.Join(adminDir, "nzbd.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	s := &Store{db: db, adminDir: adminDir}

	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) bootstrap() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_info LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec("INSERT INTO schema_info (version) VALUES (?)", schemaVersion)
		return err
	case err != nil:
		return err
	case version != schemaVersion:
		return fmt.Errorf("%w: schema version %d, want %d", ErrNeedsRepair, version, schemaVersion)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveJob writes the versioned job snapshot. Implements queue.Store.
func (s *Store) SaveJob(job *queue.Job) error {
	blob, err := job.Snapshot()
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	_, err = s.db.Exec("INSERT OR REPLACE INTO jobs (id, data) VALUES (?, ?)", job.ID, blob)
	return err
}

// SaveOrder persists the queue ordering as a single row.
func (s *Store) SaveOrder(ids []string) error {
	blob, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO queue_order (id, ids) VALUES (0, ?)", blob)
	return err
}

// DeleteJob drops the job row and its spilled payloads.
func (s *Store) DeleteJob(id string) error {
	if _, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.adminDir, id))
}

// LoadQueue restores the queue in saved order. Any corrupt or
// version-mismatched blob fails the whole load with ErrNeedsRepair; the
// caller then runs the repair pass over incomplete/.
func (s *Store) LoadQueue() ([]*queue.Job, error) {
	var orderBlob []byte
	err := s.db.QueryRow("SELECT ids FROM queue_order WHERE id = 0").Scan(&orderBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(orderBlob, &ids); err != nil {
		return nil, fmt.Errorf("%w: queue order: %v", ErrNeedsRepair, err)
	}

	var jobs []*queue.Job
	for _, id := range ids {
		var blob []byte
		err := s.db.QueryRow("SELECT data FROM jobs WHERE id = ?", id).Scan(&blob)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}

		job, err := queue.RestoreJob(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: job %s: %v", ErrNeedsRepair, id, err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Wipe clears the structured state ahead of a repair rebuild. Spilled
// payloads stay on disk; their jobs may be reconstructed.
func (s *Store) Wipe() error {
	for _, table := range []string{"jobs", "queue_order"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}
	_, err := s.db.Exec("UPDATE schema_info SET version = ?", schemaVersion)
	return err
}
