package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SnapshotVersion leads every serialised job blob. A mismatch on load
// triggers the repair-on-start pass instead of a best-effort parse.
const SnapshotVersion = 1

var ErrSnapshotVersion = errors.New("incompatible snapshot version")

type jobSnapshot struct {
	Version  int     `json:"version"`
	Job      *Job    `json:"job"`
	Files    []*File `json:"files"`
	Finished []*File `json:"finished,omitempty"`
}

// Snapshot serialises the job with its files and articles. Fetcher state
// is deliberately not persisted; in-flight fetches do not survive a
// restart and their articles simply come back pending.
func (j *Job) Snapshot() ([]byte, error) {
	snap := jobSnapshot{
		Version:  SnapshotVersion,
		Job:      j,
		Files:    j.Files,
		Finished: j.FinishedFiles,
	}
	return json.Marshal(&snap)
}

// RestoreJob reverses Snapshot.
func RestoreJob(data []byte) (*Job, error) {
	var snap jobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("corrupt job blob: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSnapshotVersion, snap.Version, SnapshotVersion)
	}
	if snap.Job == nil {
		return nil, errors.New("corrupt job blob: missing job")
	}

	job := snap.Job
	job.Files = snap.Files
	job.FinishedFiles = snap.Finished

	for _, f := range job.Files {
		f.JobID = job.ID
		for _, a := range f.Articles {
			a.FileID = f.ID
			a.Fetcher = ""
			a.Tries = 0
		}
	}

	return job, nil
}
