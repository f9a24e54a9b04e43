package store

import (
	"os"
	"path/filepath"

	"github.com/segmentio/ksuid"

	"github.com/nzbdaemon/nzbd/internal/queue"
)

// Repair reconstructs a minimal queue by scanning the incomplete
// directory. Runs when the admin state is corrupt or from an incompatible
// version. Without the source NZBs there is nothing left to fetch, so the
// recovered jobs come back paused for the operator to decide on; their
// partial data stays on disk for PAR2.
func Repair(incompleteDir string) ([]*queue.Job, error) {
	entries, err := os.ReadDir(incompleteDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var jobs []*queue.Job
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		var bytes int64
		filepath.WalkDir(filepath.Join(incompleteDir, entry.Name()), func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if info, err := d.Info(); err == nil {
				bytes += info.Size()
			}
			return nil
		})

		job := &queue.Job{
			ID:         ksuid.New().String(),
			Name:       entry.Name(),
			Priority:   queue.PriorityNormal,
			Status:     queue.StatusPaused,
			BytesTotal: bytes,
		}
		job.LogStage("repair", "queue state rebuilt from incomplete directory")
		jobs = append(jobs, job)
	}

	return jobs, nil
}
