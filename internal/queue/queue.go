package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nzbdaemon/nzbd/internal/config"
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/notify"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateJob = errors.New("duplicate job")
)

// ServerView is the scheduler's picture of one usable server: identity,
// fill flag and tier. The server pool produces these.
type ServerView struct {
	ID       string
	Optional bool
	Tier     int
}

// AssemblerSink receives completed files and job-finalize signals. Items
// for one job are consumed in submission order, which is what makes the
// post-processing handoff happen after the last write.
type AssemblerSink interface {
	SubmitFile(job *Job, file *File)
	SubmitFinalize(job *Job)
	// Retry resubmits work the assembler parked on disk full.
	Retry()
}

// Store persists queue order and job state so a crash resumes near the
// last file boundary.
type Store interface {
	SaveJob(*Job) error
	SaveOrder(ids []string) error
	DeleteJob(id string) error
}

// CacheEvictor drops cached payloads of a removed job.
type CacheEvictor interface {
	EvictJob(articleIDs []string)
}

// Queue owns every job; jobs own files; files own articles. All mutation
// happens under one lock, which also serialises RegisterArticleResult so
// the file-done transition is observed exactly once.
type Queue struct {
	mu sync.RWMutex

	cfg *config.Config
	log *logger.Logger

	jobs []*Job
	byID map[string]*Job

	paused bool

	asm      AssemblerSink
	store    Store
	cache    CacheEvictor
	notifier notify.Notifier

	// Per-server scan hints; amortise the queue walk for big queues.
	hints map[string]int
}

func New(cfg *config.Config, log *logger.Logger, asm AssemblerSink, store Store, cache CacheEvictor, notifier notify.Notifier) *Queue {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Queue{
		cfg:      cfg,
		log:      log,
		byID:     make(map[string]*Job),
		asm:      asm,
		store:    store,
		cache:    cache,
		notifier: notifier,
		hints:    make(map[string]int),
	}
}

// Add inserts a built job into its priority bucket. Duplicate detection is
// by NZB md5: with no_dupes set, the second copy comes in paused and
// tagged instead of downloading twice.
func (q *Queue) Add(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	if q.cfg.Download.NoDupes && job.MD5Sum != "" {
		for _, other := range q.jobs {
			if other.MD5Sum == job.MD5Sum {
				job.DuplicateStatus = "duplicate"
				job.Priority = PriorityDuplicate
				break
			}
		}
	}

	switch job.Priority {
	case PriorityDefault:
		job.Priority = PriorityNormal
	case PriorityDuplicate:
		job.Priority = PriorityLow
		job.Status = StatusPaused
	case PriorityRepair:
		job.Priority = PriorityHigh
	}

	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.Propagating(time.Now()) && job.Status == StatusQueued {
		job.Status = StatusPropagating
	}
	if job.SaveTimeout == 0 {
		job.SaveTimeout = 10 * time.Second
	}
	job.armContext()

	q.insertByPriority(job)
	q.byID[job.ID] = job
	q.invalidateHints()

	q.saveJobLocked(job, true)
	q.saveOrderLocked()

	q.notifier.Event(notify.JobAdded, job.Name, "")
	q.log.Info("Queued %s (%d files, %d MB)", job.Name, len(job.Files), job.BytesTotal/1024/1024)

	// Stop drains straight to post-processing with whatever has decoded.
	if job.Priority == PriorityStop {
		q.endJobLocked(job)
	}

	return nil
}

// insertByPriority places the job at the end of its priority bucket.
func (q *Queue) insertByPriority(job *Job) {
	pos := len(q.jobs)
	for i, other := range q.jobs {
		if other.Priority < job.Priority {
			pos = i
			break
		}
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[pos+1:], q.jobs[pos:])
	q.jobs[pos] = job
}

// Remove takes a job out of the queue. Idempotent: removing twice is the
// same as once. Workers holding one of its articles abort via the job
// context; cached payloads are evicted by the caller-side engine.
func (q *Queue) Remove(id string, deleteFiles bool) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	job.abort()
	job.Status = StatusDeleted
	q.dropLocked(job)

	if q.cache != nil {
		q.cache.EvictJob(job.ArticleIDs())
	}
	if q.store != nil {
		_ = q.store.DeleteJob(job.ID)
	}
	q.saveOrderLocked()

	q.log.Info("Removed %s (delete_files=%v)", job.Name, deleteFiles)
	return job, nil
}

func (q *Queue) dropLocked(job *Job) {
	delete(q.byID, job.ID)
	for i, other := range q.jobs {
		if other.ID == job.ID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	q.invalidateHints()
}

func (q *Queue) Pause(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status == StatusDownloading || job.Status == StatusQueued || job.Status == StatusPropagating {
		job.Status = StatusPaused
		q.saveJobLocked(job, true)
	}
	return nil
}

func (q *Queue) Resume(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status == StatusPaused {
		if job.Propagating(time.Now()) {
			job.Status = StatusPropagating
		} else {
			job.Status = StatusQueued
		}
		q.saveJobLocked(job, true)
	}
	return nil
}

// SetPriority re-inserts the job inside its new bucket.
func (q *Queue) SetPriority(id string, prio Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return ErrJobNotFound
	}
	if prio == PriorityDefault {
		prio = PriorityNormal
	}

	if prio == PriorityStop {
		// Stop does not park the job; it drains it to post-processing with
		// whatever has decoded so far.
		job.Priority = PriorityStop
		job.LogStage("download", "Stopped, handed to post-processing")
		q.endJobLocked(job)
		return nil
	}

	for i, other := range q.jobs {
		if other.ID == job.ID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	job.Priority = prio
	q.insertByPriority(job)
	q.invalidateHints()
	q.saveJobLocked(job, true)
	q.saveOrderLocked()
	return nil
}

// Move places the job at the target position, clamped to the queue bounds.
func (q *Queue) Move(id string, pos int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return ErrJobNotFound
	}

	for i, other := range q.jobs {
		if other.ID == job.ID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	if pos < 0 {
		pos = 0
	}
	if pos > len(q.jobs) {
		pos = len(q.jobs)
	}
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[pos+1:], q.jobs[pos:])
	q.jobs[pos] = job
	q.invalidateHints()
	q.saveOrderLocked()
	return nil
}

// Switch swaps the queue positions of two jobs.
func (q *Queue) Switch(a, b string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ai, bi := -1, -1
	for i, job := range q.jobs {
		switch job.ID {
		case a:
			ai = i
		case b:
			bi = i
		}
	}
	if ai < 0 || bi < 0 {
		return ErrJobNotFound
	}
	q.jobs[ai], q.jobs[bi] = q.jobs[bi], q.jobs[ai]
	q.invalidateHints()
	q.saveOrderLocked()
	return nil
}

// Rename changes the visible name and, when given, the unpack password.
func (q *Queue) Rename(id, name, password string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return ErrJobNotFound
	}
	if name != "" {
		job.Name = name
	}
	if password != "" {
		job.Password = password
	}
	q.saveJobLocked(job, true)
	return nil
}

// PauseAll stops the scheduler from handing out anything below Force.
func (q *Queue) PauseAll() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.log.Info("Downloader paused")
}

func (q *Queue) ResumeAll() {
	q.mu.Lock()
	q.paused = false
	asm := q.asm
	q.mu.Unlock()

	// Assembly parked on a full disk gets another chance now.
	if asm != nil {
		asm.Retry()
	}
	q.log.Info("Downloader resumed")
}

func (q *Queue) Paused() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.paused
}

// Get returns a job by id.
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.byID[id]
	return job, ok
}

// Jobs returns a snapshot of the queue order.
func (q *Queue) Jobs() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.jobs)
}

// JobOfArticle finds which queued job owns a message-id. Used by the
// shutdown path to spill cached payloads under the right job directory.
func (q *Queue) JobOfArticle(messageID string) (string, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, job := range q.jobs {
		for _, lists := range [][]*File{job.Files, job.FinishedFiles} {
			for _, f := range lists {
				for _, a := range f.Articles {
					if a.MessageID == messageID {
						return job.ID, true
					}
				}
			}
		}
	}
	return "", false
}

// ResetTryLists clears job and article try-lists. The server pool calls
// this when a blocked server unblocks or a disabled one is re-enabled, so
// stalled jobs get retried (stall prevention).
func (q *Queue) ResetTryLists() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		job.resetTryLists()
	}
	q.invalidateHints()
}

// StopIdleJobs sweeps for jobs that have no pending articles and no busy
// fetcher and forces them to end. Run periodically by the engine.
func (q *Queue) StopIdleJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.Removed || job.hasWork() {
			continue
		}
		if activeFetchers(job) > 0 {
			continue
		}
		q.log.Debug("Idle sweep ending job %s", job.Name)
		q.endJobLocked(job)
	}
}

func activeFetchers(job *Job) int {
	n := 0
	for _, f := range job.Files {
		for _, a := range f.Articles {
			if a.Fetcher != "" {
				n++
			}
		}
	}
	return n
}

// endJobLocked takes the job off the active queue and hands it to the
// assembler for finalisation. The assembler performs the actual
// post-processing handoff once its writes for the job are done.
func (q *Queue) endJobLocked(job *Job) {
	if job.Status != StatusFailed {
		job.Status = StatusChecking
	}

	// Any files never submitted (e.g. under-complete after lost articles)
	// go to the assembler now so payloads are flushed before finalize.
	for _, f := range job.Files {
		if len(f.DecodedIDs()) > 0 {
			job.FinishedFiles = append(job.FinishedFiles, f)
			if q.asm != nil {
				q.asm.SubmitFile(job, f)
			}
		}
	}
	job.Files = nil

	q.dropLocked(job)
	q.saveJobLocked(job, true)
	q.saveOrderLocked()

	if q.asm != nil {
		q.asm.SubmitFinalize(job)
	}
}

// FailJob ends the job immediately with the given reason.
func (q *Queue) FailJob(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusFailed
	job.FailMsg = reason
	job.LogStage("download", reason)
	q.endJobLocked(job)
	return nil
}

// FlushDirty persists jobs whose coalesced save window has expired. The
// engine runs this on a timer and at shutdown (with force).
func (q *Queue) FlushDirty(force bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, job := range q.jobs {
		if !job.dirty {
			continue
		}
		if force || now.After(job.NextSave) {
			q.saveJobLocked(job, true)
		}
	}
	if force {
		q.saveOrderLocked()
	}
}

// saveJobLocked writes the job through the store, honouring the per-job
// save timeout unless immediate.
func (q *Queue) saveJobLocked(job *Job, immediate bool) {
	if q.store == nil {
		return
	}
	now := time.Now()
	if !immediate && now.Before(job.NextSave) {
		job.dirty = true
		return
	}
	if err := q.store.SaveJob(job); err != nil {
		q.log.Error("Failed to save job %s: %v", job.ID, err)
		return
	}
	job.dirty = false
	job.NextSave = now.Add(job.SaveTimeout)
}

func (q *Queue) saveOrderLocked() {
	if q.store == nil {
		return
	}
	ids := make([]string, 0, len(q.jobs))
	for _, job := range q.jobs {
		ids = append(ids, job.ID)
	}
	if err := q.store.SaveOrder(ids); err != nil {
		q.log.Error("Failed to save queue order: %v", err)
	}
}

func (q *Queue) invalidateHints() {
	for k := range q.hints {
		delete(q.hints, k)
	}
}

// Restore loads jobs in a given order at startup. Jobs that were mid
// download resume as queued.
func (q *Queue) Restore(jobs []*Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].Priority > jobs[j].Priority
	})

	for _, job := range jobs {
		if job.Status == StatusDownloading || job.Status == StatusFetching {
			job.Status = StatusQueued
		}
		if job.SaveTimeout == 0 {
			job.SaveTimeout = 10 * time.Second
		}
		job.armContext()
		q.jobs = append(q.jobs, job)
		q.byID[job.ID] = job
	}
	q.invalidateHints()
}
