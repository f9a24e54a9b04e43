package queue

import (
	"context"
	"time"
)

// Assignment is what an idle connection worker gets back: everything it
// needs to fetch one article without touching queue internals again.
type Assignment struct {
	MessageID string
	Bytes     int64
	PartNum   int
	FileID    string
	JobID     string
	JobName   string
	Groups    []string

	// NeedFilename is set when the parent file's name is still the
	// sanitized subject; the worker should publish the header name.
	NeedFilename bool

	// Ctx fires when the job is removed; the worker aborts its read.
	Ctx context.Context
}

// GetNextArticle picks the next article for a newly idle connection on the
// given server. It walks jobs in queue order, honouring pause state, job
// priority, propagation windows, try-lists and the fill-server rule, and
// marks the returned article's fetcher. Returns nil when the server has
// nothing to do.
//
// The walk runs inline on the calling worker goroutine under the queue
// lock; per-server hints remember where the last scan got to so a long
// queue is not re-walked from the top every time.
func (q *Queue) GetNextArticle(sv ServerView, actives []ServerView) *Assignment {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	globalPause := q.paused

	if globalPause && !q.hasForceJobLocked() {
		return nil
	}

	n := len(q.jobs)
	if n == 0 {
		return nil
	}

	// Resume the walk at the job that last yielded for this server; the
	// hint is cleared whenever the queue shape or an article result
	// changes. Top-only mode always starts at the head.
	start := q.hints[sv.ID]
	if start >= n || q.cfg.Download.TopOnly {
		start = 0
	}

	for k := 0; k < n; k++ {
		i := (start + k) % n
		job := q.jobs[i]

		if !job.runnable(globalPause, now) {
			if q.cfg.Download.TopOnly && job.Status != StatusPaused {
				return nil
			}
			continue
		}
		if job.tried(sv.ID) {
			continue
		}

		if a := q.pickFromJobLocked(job, sv, actives); a != nil {
			q.hints[sv.ID] = i
			if job.Status == StatusQueued || job.Status == StatusPropagating {
				job.Status = StatusDownloading
			}
			return a
		}

		// Nothing in this job for this server; remember that until an
		// article result or server recovery resets the list.
		job.addTry(sv.ID)

		if q.cfg.Download.TopOnly {
			return nil
		}
	}

	return nil
}

func (q *Queue) hasForceJobLocked() bool {
	for _, job := range q.jobs {
		if job.Priority == PriorityForce && !job.Removed {
			switch job.Status {
			case StatusPaused, StatusCompleted, StatusFailed, StatusDeleted:
			default:
				return true
			}
		}
	}
	return false
}

// pickFromJobLocked walks the job's files in parse order and each file's
// articles in part order, so part-1 headers are learned early and the
// assembler sees payloads arrive roughly in write order.
func (q *Queue) pickFromJobLocked(job *Job, sv ServerView, actives []ServerView) *Assignment {
	for _, f := range job.Files {
		if f.Deleted {
			continue
		}
		for _, a := range f.Articles {
			if !a.availableTo(sv, actives) {
				continue
			}

			a.Fetcher = sv.ID
			return &Assignment{
				MessageID:    a.MessageID,
				Bytes:        a.Bytes,
				PartNum:      a.PartNum,
				FileID:       f.ID,
				JobID:        job.ID,
				JobName:      job.Name,
				Groups:       f.Groups,
				NeedFilename: !f.FilenameChecked,
				Ctx:          job.Ctx(),
			}
		}
	}
	return nil
}
