package store

import (
	"encoding/json"
	"time"

	"github.com/nzbdaemon/nzbd/internal/queue"
)

// HistoryEntry is one finished job as the API and UI see it.
type HistoryEntry struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	FailMsg     string            `json:"fail_msg,omitempty"`
	Bytes       int64             `json:"bytes"`
	Path        string            `json:"path"`
	StageLog    []queue.StageLine `json:"stage_log,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Record stores a finished job in the history table. Implements the
// assembler's HistoryRecorder.
func (s *Store) Record(job *queue.Job, dir string) error {
	stageLog, err := json.Marshal(job.StageLog)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT OR REPLACE INTO history
		(id, name, status, fail_msg, bytes, path, stage_log, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, string(job.Status), job.FailMsg,
		job.BytesTotal, dir, stageLog, time.Now().Unix())
	return err
}

// History returns the most recent entries, newest first.
func (s *Store) History(limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`SELECT id, name, status, fail_msg, bytes, path, stage_log, completed_at
		FROM history ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var failMsg, path *string
		var stageLog []byte
		var completed int64

		if err := rows.Scan(&e.ID, &e.Name, &e.Status, &failMsg, &e.Bytes, &path, &stageLog, &completed); err != nil {
			return nil, err
		}
		if failMsg != nil {
			e.FailMsg = *failMsg
		}
		if path != nil {
			e.Path = *path
		}
		if len(stageLog) > 0 {
			_ = json.Unmarshal(stageLog, &e.StageLog)
		}
		e.CompletedAt = time.Unix(completed, 0)
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
