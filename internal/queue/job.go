package queue

import (
	"context"
	"time"
)

// StageLine is one entry of the per-job stage log handed to post-processing
// and history: missing articles, CRC failures, server warnings.
type StageLine struct {
	Stage string    `json:"stage"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// Job is one NZB worth of work: an ordered list of files, a priority, and
// the bookkeeping the scheduler and the failure model need.
type Job struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Script   string `json:"script,omitempty"`
	Password string `json:"password,omitempty"`

	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	Files         []*File `json:"-"`
	FinishedFiles []*File `json:"-"`

	// MD5Sum of the source NZB; doubles as the duplicate key.
	MD5Sum          string `json:"md5sum,omitempty"`
	DuplicateStatus string `json:"duplicate_status,omitempty"`

	AvgDate          time.Time `json:"avg_date"`
	PropagationUntil time.Time `json:"propagation_until"`

	// TryList holds servers that currently have nothing to offer this job.
	TryList map[string]bool `json:"try_list,omitempty"`

	BadArticles   int         `json:"bad_articles"`
	TotalArticles int         `json:"total_articles"`
	StageLog      []StageLine `json:"stage_log,omitempty"`

	BytesTotal int64 `json:"bytes_total"`

	// JobMD5 is the combined md5 over the assembled files, hex.
	JobMD5 string `json:"job_md5,omitempty"`

	FailMsg string `json:"fail_msg,omitempty"`

	Removed bool `json:"-"`

	// Save coalescing: writes to the admin store are spaced out so a busy
	// job does not hammer the disk.
	SaveTimeout time.Duration `json:"-"`
	NextSave    time.Time     `json:"-"`
	dirty       bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Ctx is the job's cancellation context; a worker streaming one of its
// articles aborts when it fires.
func (j *Job) Ctx() context.Context {
	if j.ctx == nil {
		return context.Background()
	}
	return j.ctx
}

func (j *Job) armContext() {
	j.ctx, j.cancel = context.WithCancel(context.Background())
}

func (j *Job) abort() {
	j.Removed = true
	if j.cancel != nil {
		j.cancel()
	}
}

func (j *Job) tried(serverID string) bool {
	return j.TryList[serverID]
}

func (j *Job) addTry(serverID string) {
	if j.TryList == nil {
		j.TryList = make(map[string]bool)
	}
	j.TryList[serverID] = true
}

func (j *Job) resetTryLists() {
	j.TryList = nil
	for _, f := range j.Files {
		for _, a := range f.Articles {
			if a.Lost {
				continue
			}
			a.TryList = nil
		}
	}
}

// Propagating reports whether the job is still inside its propagation
// window. Force priority ignores the window.
func (j *Job) Propagating(now time.Time) bool {
	if j.Priority == PriorityForce {
		return false
	}
	return now.Before(j.PropagationUntil)
}

// runnable reports whether the scheduler may hand out articles for this
// job under the given global pause state.
func (j *Job) runnable(globalPause bool, now time.Time) bool {
	if j.Removed {
		return false
	}
	switch j.Status {
	case StatusPaused, StatusGrabbing, StatusCompleted, StatusFailed, StatusDeleted:
		return false
	}
	if j.Priority == PriorityStop {
		return false
	}
	if j.Priority == PriorityForce {
		return true
	}
	if globalPause {
		return false
	}
	return !j.Propagating(now)
}

// BytesLeft sums the remaining bytes over all unfinished files.
func (j *Job) BytesLeft() int64 {
	var left int64
	for _, f := range j.Files {
		left += f.BytesLeft
	}
	return left
}

// ArticleIDs over every file, finished ones included.
func (j *Job) ArticleIDs() []string {
	var ids []string
	for _, f := range j.Files {
		ids = append(ids, f.ArticleIDs()...)
	}
	for _, f := range j.FinishedFiles {
		ids = append(ids, f.ArticleIDs()...)
	}
	return ids
}

// LogStage appends a line to the job's stage log.
func (j *Job) LogStage(stage, text string) {
	j.StageLog = append(j.StageLog, StageLine{Stage: stage, Text: text, Time: time.Now()})
}

// hasWork reports whether any file still has a pending article.
func (j *Job) hasWork() bool {
	for _, f := range j.Files {
		if !f.done() {
			return true
		}
	}
	return false
}
