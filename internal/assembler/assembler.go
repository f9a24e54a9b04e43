// Package assembler is the single writer of the incomplete directories: it
// consumes decoded payloads from the article cache and turns them back
// into files. One goroutine, one channel; items for a job are processed in
// submission order, so the finalize handoff to post-processing always
// happens after the job's last write.
package assembler

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/nzbdaemon/nzbd/internal/cache"
	"github.com/nzbdaemon/nzbd/internal/decoder"
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/notify"
	"github.com/nzbdaemon/nzbd/internal/postproc"
	"github.com/nzbdaemon/nzbd/internal/queue"
)

// Pauser lets the assembler stop the whole downloader when the disk
// fills; the queue implements it.
type Pauser interface {
	PauseAll()
}

// HistoryRecorder receives finished jobs for the history table.
type HistoryRecorder interface {
	Record(job *queue.Job, dir string) error
}

// item is one unit of assembler work. File items carry value snapshots
// taken under the queue lock at submission time, so the Run goroutine
// never reads live queue state. Finalize items carry the job itself: the
// queue has dropped it by then and stops touching it.
type item struct {
	jobID   string
	jobName string

	fileID   string
	filename string
	ids      []string // payload ids still to write, part order
	path     string   // resolved target, sticky across disk-full retries

	job      *queue.Job
	finalize bool
}

type Assembler struct {
	log           *logger.Logger
	cache         *cache.ArticleCache
	incompleteDir string

	postproc postproc.Handler
	history  HistoryRecorder
	notifier notify.Notifier
	pauser   Pauser

	work  chan item
	retry chan struct{}

	// mu guards handles, md5s and removed against RemoveJobDir, which runs
	// on the caller's goroutine.
	mu      sync.Mutex
	handles map[string]*os.File
	md5s    map[string]hash.Hash
	removed map[string]bool

	// Run-goroutine state.
	nameCount map[string]int
	fileMD5   map[string]string
	stalled   []item
}

func New(log *logger.Logger, c *cache.ArticleCache, incompleteDir string,
	pp postproc.Handler, hist HistoryRecorder, n notify.Notifier, pauser Pauser) *Assembler {

	if n == nil {
		n = notify.Discard{}
	}

	return &Assembler{
		log:           log,
		cache:         c,
		incompleteDir: incompleteDir,
		postproc:      pp,
		history:       hist,
		notifier:      n,
		pauser:        pauser,
		work:          make(chan item, 64),
		retry:         make(chan struct{}, 1),
		handles:       make(map[string]*os.File),
		md5s:          make(map[string]hash.Hash),
		removed:       make(map[string]bool),
		nameCount:     make(map[string]int),
		fileMD5:       make(map[string]string),
	}
}

// SetPauser wires the downloader pause hook. The queue is built after the
// assembler, so this cannot be a New argument.
func (a *Assembler) SetPauser(p Pauser) {
	a.pauser = p
}

// SubmitFile queues a completed file for assembly. Called under the queue
// lock; the snapshot is what makes later queue mutations invisible here.
// Implements queue.AssemblerSink.
func (a *Assembler) SubmitFile(job *queue.Job, file *queue.File) {
	a.work <- item{
		jobID:    job.ID,
		jobName:  job.Name,
		fileID:   file.ID,
		filename: file.Filename,
		ids:      file.DecodedIDs(),
	}
}

// SubmitFinalize queues the end-of-job handoff.
func (a *Assembler) SubmitFinalize(job *queue.Job) {
	a.work <- item{jobID: job.ID, jobName: job.Name, job: job, finalize: true}
}

// Retry resubmits work parked by a disk-full stop. The queue calls this
// when the downloader resumes.
func (a *Assembler) Retry() {
	select {
	case a.retry <- struct{}{}:
	default:
	}
}

// Run consumes the work channel until ctx fires. It is the only goroutine
// that touches incomplete/, which is what removes any need for file locks
// between workers.
func (a *Assembler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.closeAll()
			return
		case <-a.retry:
			a.retryStalled()
		case it := <-a.work:
			a.dispatch(it)
		}
	}
}

func (a *Assembler) dispatch(it item) {
	a.mu.Lock()
	gone := a.removed[it.jobID]
	a.mu.Unlock()
	if gone {
		return
	}

	if it.finalize {
		a.finalizeJob(it)
	} else {
		a.assembleFile(it)
	}
}

// retryStalled re-runs everything parked on disk full, in the original
// order so finalizes stay behind their files.
func (a *Assembler) retryStalled() {
	pending := a.stalled
	a.stalled = nil
	for _, it := range pending {
		a.dispatch(it)
	}
}

func (a *Assembler) jobDir(name string) string {
	return filepath.Join(a.incompleteDir, sanitizeDirName(name))
}

func (a *Assembler) assembleFile(it item) {
	dir := a.jobDir(it.jobName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		a.log.Error("Cannot create %s: %v", dir, err)
		return
	}

	if it.path == "" {
		it.path = a.targetPath(it, dir)
	}

	for i, id := range it.ids {
		payload, ok := a.cache.Get(id)
		if !ok {
			// Spilled or evicted between completion and assembly; the
			// stage log already accounts for it.
			a.log.Warn("Payload %s missing from cache for %s", id, it.filename)
			continue
		}

		if err := a.writePayload(it.path, payload); err != nil {
			if isDiskFull(err) {
				// Put the payload back, park the unwritten tail and stop
				// the downloader until space is freed. Retry picks the
				// tail up again.
				a.cache.Load(payload)
				it.ids = it.ids[i:]
				a.stalled = append(a.stalled, it)

				a.log.Error("Disk full writing %s", it.path)
				a.notifier.Event(notify.DiskFull, it.jobName, it.path)
				if a.pauser != nil {
					// Async: PauseAll takes the queue lock, and a queue
					// goroutine may be blocked submitting to us right now.
					go a.pauser.PauseAll()
				}
				return
			}
			a.log.Error("Write failed for %s: %v", it.path, err)
			return
		}
	}

	a.mu.Lock()
	if h, ok := a.md5s[it.path]; ok {
		a.fileMD5[it.fileID] = hex.EncodeToString(h.Sum(nil))
	}
	a.mu.Unlock()

	a.log.Debug("Assembled %s", it.filename)
}

// targetPath resolves filename collisions inside a job by numbering
// duplicates, the way a second "readme.txt" becomes "readme.1.txt".
func (a *Assembler) targetPath(it item, dir string) string {
	name := it.filename
	if name == "" {
		name = it.fileID
	}

	key := it.jobID + "/" + name
	n := a.nameCount[key]
	a.nameCount[key] = n + 1

	if n > 0 {
		ext := filepath.Ext(name)
		name = fmt.Sprintf("%s.%d%s", name[:len(name)-len(ext)], n, ext)
	}

	return filepath.Join(dir, name)
}

func (a *Assembler) writePayload(path string, payload *decoder.Payload) error {
	f, h, err := a.handle(path)
	if err != nil {
		return err
	}

	if _, err := f.Write(payload.Body); err != nil {
		return err
	}
	h.Write(payload.Body)
	return nil
}

func (a *Assembler) handle(path string) (*os.File, hash.Hash, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if f, ok := a.handles[path]; ok {
		return f, a.md5s[path], nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	a.handles[path] = f
	a.md5s[path] = md5.New()
	return f, a.md5s[path], nil
}

// finalizeJob closes the job's handles, publishes the file md5s, computes
// the job md5, records history and hands the job to post-processing.
func (a *Assembler) finalizeJob(it item) {
	if a.hasStalled(it.jobID) {
		// Files parked on disk full must land first; the finalize waits
		// behind them in the stalled list.
		a.stalled = append(a.stalled, it)
		return
	}

	job := it.job
	dir := a.jobDir(it.jobName)

	a.closeDir(dir)

	combined := md5.New()
	for _, f := range job.FinishedFiles {
		if m, ok := a.fileMD5[f.ID]; ok {
			f.MD5 = m
			delete(a.fileMD5, f.ID)
		}
		io.WriteString(combined, f.MD5)
	}
	job.JobMD5 = hex.EncodeToString(combined.Sum(nil))

	if job.Status != queue.StatusFailed {
		job.Status = queue.StatusCompleted
	}

	if a.history != nil {
		if err := a.history.Record(job, dir); err != nil {
			a.log.Error("History record failed for %s: %v", job.Name, err)
		}
	}

	if job.Status == queue.StatusFailed {
		a.notifier.Event(notify.JobFailed, job.Name, job.FailMsg)
	} else {
		a.notifier.Event(notify.JobDone, job.Name, "")
	}

	if a.postproc != nil {
		a.postproc.Handle(job, dir)
	}

	a.log.Info("Finished %s: status=%s md5=%s", job.Name, job.Status, job.JobMD5)
}

func (a *Assembler) hasStalled(jobID string) bool {
	for _, it := range a.stalled {
		if it.jobID == jobID {
			return true
		}
	}
	return false
}

func (a *Assembler) closeDir(dir string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for path, f := range a.handles {
		if filepath.Dir(path) == dir {
			f.Sync()
			f.Close()
			delete(a.handles, path)
			delete(a.md5s, path)
		}
	}
}

// RemoveJobDir deletes a removed job's incomplete directory. Runs on the
// caller's goroutine; work for the job still in flight is dropped when it
// arrives.
func (a *Assembler) RemoveJobDir(job *queue.Job) error {
	dir := a.jobDir(job.Name)

	a.mu.Lock()
	a.removed[job.ID] = true
	for path, f := range a.handles {
		if filepath.Dir(path) == dir {
			f.Close()
			delete(a.handles, path)
			delete(a.md5s, path)
		}
	}
	a.mu.Unlock()

	return os.RemoveAll(dir)
}

func (a *Assembler) closeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for path, f := range a.handles {
		f.Sync()
		f.Close()
		delete(a.handles, path)
	}
}

func isDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

func sanitizeDirName(name string) string {
	out := []rune(name)
	for i, r := range out {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			out[i] = '_'
		}
	}
	return string(out)
}
