package queue

import (
	"fmt"
	"testing"

	"github.com/nzbdaemon/nzbd/internal/config"
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/nzb"
)

func testConfig() *config.Config {
	return &config.Config{
		Download: config.DownloadConfig{
			CacheLimitMB:   64,
			ArticleRetries: 2,
		},
	}
}

// fakeSink records assembler submissions. Calls arrive synchronously under
// the queue lock, on the test goroutine.
type fakeSink struct {
	files     []string
	finalized []string
	retries   int
}

func (s *fakeSink) SubmitFile(job *Job, file *File) { s.files = append(s.files, file.ID) }
func (s *fakeSink) SubmitFinalize(job *Job)         { s.finalized = append(s.finalized, job.ID) }
func (s *fakeSink) Retry()                          { s.retries++ }

func newTestQueue(cfg *config.Config, sink AssemblerSink) *Queue {
	return New(cfg, logger.Discard(), sink, nil, nil, nil)
}

// makeJob builds a job with the given shape through the NZB builder.
func makeJob(name string, prio Priority, files, parts int) *Job {
	model := &nzb.Model{}
	for f := 0; f < files; f++ {
		file := nzb.File{
			Subject: fmt.Sprintf("\"%s-file%02d.bin\" yEnc (1/%d)", name, f, parts),
			Groups:  []string{"alt.binaries.test"},
		}
		for p := 1; p <= parts; p++ {
			file.Segments = append(file.Segments, nzb.Segment{
				Number:    p,
				Bytes:     1000,
				MessageID: fmt.Sprintf("%s-f%d-p%d@test", name, f, p),
			})
		}
		model.Files = append(model.Files, file)
	}

	return FromNZB(model, "md5-"+name, BuildOptions{Name: name, Priority: prio})
}

func TestAddOrdersByPriority(t *testing.T) {
	q := newTestQueue(testConfig(), nil)

	low := makeJob("low", PriorityLow, 1, 1)
	normal := makeJob("normal", PriorityNormal, 1, 1)
	high := makeJob("high", PriorityHigh, 1, 1)
	normal2 := makeJob("normal2", PriorityNormal, 1, 1)

	for _, j := range []*Job{low, normal, high, normal2} {
		if err := q.Add(j); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	var names []string
	for _, j := range q.Jobs() {
		names = append(names, j.Name)
	}
	want := []string{"high", "normal", "normal2", "low"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Expected queue order %v, got %v", want, names)
		}
	}
}

func TestAddResolvesSentinels(t *testing.T) {
	q := newTestQueue(testConfig(), nil)

	def := makeJob("def", PriorityDefault, 1, 1)
	rep := makeJob("rep", PriorityRepair, 1, 1)
	q.Add(def)
	q.Add(rep)

	if def.Priority != PriorityNormal {
		t.Errorf("Expected default to resolve to normal, got %v", def.Priority)
	}
	if rep.Priority != PriorityHigh {
		t.Errorf("Expected repair to resolve to high, got %v", rep.Priority)
	}
}

func TestAddDuplicateDetection(t *testing.T) {
	cfg := testConfig()
	cfg.Download.NoDupes = true
	q := newTestQueue(cfg, nil)

	first := makeJob("orig", PriorityNormal, 1, 1)
	second := makeJob("copy", PriorityNormal, 1, 1)
	second.MD5Sum = first.MD5Sum

	q.Add(first)
	q.Add(second)

	if second.DuplicateStatus != "duplicate" {
		t.Errorf("Expected duplicate status, got %q", second.DuplicateStatus)
	}
	if second.Status != StatusPaused || second.Priority != PriorityLow {
		t.Errorf("Duplicate should come in paused at low priority, got %v/%v",
			second.Status, second.Priority)
	}
	if first.Status == StatusPaused {
		t.Error("Original job must not be affected")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	q := newTestQueue(testConfig(), nil)
	job := makeJob("gone", PriorityNormal, 1, 2)
	q.Add(job)

	if _, err := q.Remove(job.ID, false); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := q.Remove(job.ID, false); err != ErrJobNotFound {
		t.Fatalf("Second remove should report not-found, got %v", err)
	}
	if q.Len() != 0 {
		t.Error("Queue should be empty after remove")
	}
	if job.Ctx().Err() == nil {
		t.Error("Remove must cancel the job context")
	}
}

func TestPauseResume(t *testing.T) {
	q := newTestQueue(testConfig(), nil)
	job := makeJob("pausable", PriorityNormal, 1, 1)
	q.Add(job)

	if err := q.Pause(job.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if job.Status != StatusPaused {
		t.Fatalf("Expected paused, got %v", job.Status)
	}

	if err := q.Resume(job.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("Expected queued after resume, got %v", job.Status)
	}
}

func TestMoveAndSwitch(t *testing.T) {
	q := newTestQueue(testConfig(), nil)
	a := makeJob("a", PriorityNormal, 1, 1)
	b := makeJob("b", PriorityNormal, 1, 1)
	c := makeJob("c", PriorityNormal, 1, 1)
	for _, j := range []*Job{a, b, c} {
		q.Add(j)
	}

	if err := q.Move(c.ID, 0); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if q.Jobs()[0].ID != c.ID {
		t.Error("Move to position 0 did not take")
	}

	if err := q.Switch(a.ID, b.ID); err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	jobs := q.Jobs()
	if jobs[1].ID != b.ID || jobs[2].ID != a.ID {
		t.Error("Switch did not swap positions")
	}

	// Out-of-range positions clamp instead of failing.
	if err := q.Move(c.ID, 99); err != nil {
		t.Fatalf("Clamped move failed: %v", err)
	}
	if last := q.Jobs()[2]; last.ID != c.ID {
		t.Errorf("Expected job c at the tail, got %s", last.Name)
	}
}

func TestSetPriorityReorders(t *testing.T) {
	q := newTestQueue(testConfig(), nil)
	a := makeJob("a", PriorityNormal, 1, 1)
	b := makeJob("b", PriorityNormal, 1, 1)
	q.Add(a)
	q.Add(b)

	if err := q.SetPriority(b.ID, PriorityForce); err != nil {
		t.Fatalf("SetPriority failed: %v", err)
	}
	if q.Jobs()[0].ID != b.ID {
		t.Error("Force job should lead the queue")
	}
}

func TestRename(t *testing.T) {
	q := newTestQueue(testConfig(), nil)
	job := makeJob("old-name", PriorityNormal, 1, 1)
	q.Add(job)

	if err := q.Rename(job.ID, "new-name", "secret"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if job.Name != "new-name" || job.Password != "secret" {
		t.Errorf("Rename did not apply: name=%q password=%q", job.Name, job.Password)
	}
}

func TestStopPriorityDrainsToPostProcessing(t *testing.T) {
	sink := &fakeSink{}
	q := newTestQueue(testConfig(), sink)

	job := makeJob("stopme", PriorityNormal, 1, 2)
	q.Add(job)

	if err := q.SetPriority(job.ID, PriorityStop); err != nil {
		t.Fatalf("SetPriority failed: %v", err)
	}

	if len(sink.finalized) != 1 || sink.finalized[0] != job.ID {
		t.Fatalf("Stop must hand the job to post-processing, finalized=%v", sink.finalized)
	}
	if q.Len() != 0 {
		t.Errorf("Stopped job should leave the queue, %d remain", q.Len())
	}
	if job.Status != StatusChecking {
		t.Errorf("Expected checking status, got %v", job.Status)
	}

	// The idle sweep has nothing left to do and must not double-finalize.
	for i := 0; i < 5; i++ {
		q.StopIdleJobs()
	}
	if len(sink.finalized) != 1 {
		t.Errorf("Idle sweep double-finalized: %v", sink.finalized)
	}
}

func TestAddStopPriorityDrainsImmediately(t *testing.T) {
	sink := &fakeSink{}
	q := newTestQueue(testConfig(), sink)

	job := makeJob("instant", PriorityStop, 1, 1)
	if err := q.Add(job); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if len(sink.finalized) != 1 {
		t.Fatalf("Expected an immediate finalize, got %v", sink.finalized)
	}
	if q.Len() != 0 {
		t.Errorf("Expected an empty queue, got %d", q.Len())
	}
}

func TestResumeAllRetriesStalledAssembly(t *testing.T) {
	sink := &fakeSink{}
	q := newTestQueue(testConfig(), sink)

	q.PauseAll()
	q.ResumeAll()

	if sink.retries != 1 {
		t.Errorf("Expected 1 assembler retry on resume, got %d", sink.retries)
	}
}

func TestBuilderShape(t *testing.T) {
	job := makeJob("shape", PriorityNormal, 2, 3)

	if len(job.Files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(job.Files))
	}
	if job.TotalArticles != 6 {
		t.Errorf("Expected 6 articles, got %d", job.TotalArticles)
	}
	if job.BytesTotal != 6000 {
		t.Errorf("Expected 6000 bytes total, got %d", job.BytesTotal)
	}
	for _, f := range job.Files {
		for i, a := range f.Articles {
			if a.PartNum != i+1 {
				t.Fatalf("Articles not in part order: index %d has part %d", i, a.PartNum)
			}
		}
		if f.Filename == "" || f.FilenameChecked {
			t.Error("Filename should start as the sanitized subject, unchecked")
		}
	}
}
