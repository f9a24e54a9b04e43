package assembler

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/nzbdaemon/nzbd/internal/cache"
	"github.com/nzbdaemon/nzbd/internal/decoder"
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/queue"
)

type recordedJob struct {
	job *queue.Job
	dir string
}

type fakeHistory struct{ records []recordedJob }

func (h *fakeHistory) Record(job *queue.Job, dir string) error {
	h.records = append(h.records, recordedJob{job, dir})
	return nil
}

func testAssembler(t *testing.T, hist HistoryRecorder) (*Assembler, *cache.ArticleCache, string) {
	t.Helper()
	dir := t.TempDir()
	c := cache.New(64 * 1024 * 1024)
	a := New(logger.Discard(), c, dir, nil, hist, nil, nil)
	return a, c, dir
}

func fileWithParts(jobID string, ids ...string) *queue.File {
	f := &queue.File{ID: "file-1", JobID: jobID, Filename: "out.bin", FilenameChecked: true}
	for i, id := range ids {
		f.Articles = append(f.Articles, &queue.Article{
			MessageID: id, PartNum: i + 1, FileID: f.ID, Decoded: true,
		})
	}
	return f
}

func fileItem(job *queue.Job, file *queue.File) item {
	return item{
		jobID:    job.ID,
		jobName:  job.Name,
		fileID:   file.ID,
		filename: file.Filename,
		ids:      file.DecodedIDs(),
	}
}

func finalizeItem(job *queue.Job) item {
	return item{jobID: job.ID, jobName: job.Name, job: job, finalize: true}
}

func TestAssembleFileConcatenatesInPartOrder(t *testing.T) {
	a, c, dir := testAssembler(t, nil)

	job := &queue.Job{ID: "j1", Name: "My Download"}
	file := fileWithParts(job.ID, "<p1@t>", "<p2@t>", "<p3@t>")

	// Deposit out of order; part order comes from the file's article list.
	c.Put(&decoder.Payload{MessageID: "<p2@t>", Body: []byte("BBBB"), CRCOK: true})
	c.Put(&decoder.Payload{MessageID: "<p1@t>", Body: []byte("AAAA"), CRCOK: true})
	c.Put(&decoder.Payload{MessageID: "<p3@t>", Body: []byte("CC"), CRCOK: true})

	a.assembleFile(fileItem(job, file))

	out, err := os.ReadFile(filepath.Join(dir, "My Download", "out.bin"))
	if err != nil {
		t.Fatalf("Assembled file missing: %v", err)
	}
	if string(out) != "AAAABBBBCC" {
		t.Fatalf("Expected AAAABBBBCC, got %q", out)
	}

	sum := md5.Sum([]byte("AAAABBBBCC"))
	if a.fileMD5[file.ID] != hex.EncodeToString(sum[:]) {
		t.Errorf("File md5 mismatch: got %s", a.fileMD5[file.ID])
	}

	if c.Len() != 0 {
		t.Error("Assembly must consume the cached payloads")
	}
}

// Items carry snapshots taken at submission time; whatever the queue does
// to the job afterwards must not reach the assembler goroutine.
func TestSubmitFileSnapshotsQueueState(t *testing.T) {
	a, c, dir := testAssembler(t, nil)

	job := &queue.Job{ID: "j1", Name: "steady"}
	file := fileWithParts(job.ID, "<p1@t>")
	c.Put(&decoder.Payload{MessageID: "<p1@t>", Body: []byte("data"), CRCOK: true})

	a.SubmitFile(job, file)
	it := <-a.work

	job.Name = "renamed"
	job.Files = nil
	file.Filename = "other.bin"

	if it.jobName != "steady" || it.filename != "out.bin" {
		t.Fatalf("Item leaked live state: jobName=%q filename=%q", it.jobName, it.filename)
	}

	a.assembleFile(it)
	if out, _ := os.ReadFile(filepath.Join(dir, "steady", "out.bin")); string(out) != "data" {
		t.Fatalf("Expected the snapshot name and filename to win, got %q", out)
	}
}

func TestTargetPathNumbersDuplicates(t *testing.T) {
	a, c, dir := testAssembler(t, nil)

	job := &queue.Job{ID: "j1", Name: "dup"}
	first := fileWithParts(job.ID, "<a@t>")
	second := &queue.File{ID: "file-2", JobID: job.ID, Filename: "out.bin", FilenameChecked: true,
		Articles: []*queue.Article{{MessageID: "<b@t>", PartNum: 1, FileID: "file-2", Decoded: true}}}

	c.Put(&decoder.Payload{MessageID: "<a@t>", Body: []byte("one"), CRCOK: true})
	c.Put(&decoder.Payload{MessageID: "<b@t>", Body: []byte("two"), CRCOK: true})

	a.assembleFile(fileItem(job, first))
	a.assembleFile(fileItem(job, second))

	if out, _ := os.ReadFile(filepath.Join(dir, "dup", "out.bin")); string(out) != "one" {
		t.Errorf("First file wrong: %q", out)
	}
	if out, _ := os.ReadFile(filepath.Join(dir, "dup", "out.1.bin")); string(out) != "two" {
		t.Errorf("Numbered duplicate wrong: %q", out)
	}
}

func TestFinalizeJobRecordsHistory(t *testing.T) {
	hist := &fakeHistory{}
	a, c, dir := testAssembler(t, hist)

	job := &queue.Job{ID: "j1", Name: "finished", Status: queue.StatusChecking}
	file := fileWithParts(job.ID, "<p1@t>")
	c.Put(&decoder.Payload{MessageID: "<p1@t>", Body: []byte("data"), CRCOK: true})

	a.assembleFile(fileItem(job, file))
	job.FinishedFiles = []*queue.File{file}
	a.finalizeJob(finalizeItem(job))

	if job.Status != queue.StatusCompleted {
		t.Errorf("Expected completed, got %v", job.Status)
	}
	if file.MD5 == "" {
		t.Error("Finalize must publish the file md5")
	}
	if job.JobMD5 == "" {
		t.Error("Expected a combined job md5")
	}
	if len(hist.records) != 1 {
		t.Fatalf("Expected 1 history record, got %d", len(hist.records))
	}
	if hist.records[0].dir != filepath.Join(dir, "finished") {
		t.Errorf("History recorded wrong dir: %s", hist.records[0].dir)
	}
	if len(a.handles) != 0 {
		t.Error("Finalize must close the job's file handles")
	}
}

// A file parked on disk full keeps its payloads cached; Retry after the
// downloader resumes writes the remainder and only then lets the job
// finalize.
func TestStalledAssemblyResumesAfterRetry(t *testing.T) {
	hist := &fakeHistory{}
	a, c, dir := testAssembler(t, hist)

	job := &queue.Job{ID: "j1", Name: "lowdisk", Status: queue.StatusChecking}
	file := fileWithParts(job.ID, "<p1@t>", "<p2@t>")
	c.Put(&decoder.Payload{MessageID: "<p1@t>", Body: []byte("AAAA"), CRCOK: true})
	c.Put(&decoder.Payload{MessageID: "<p2@t>", Body: []byte("BBBB"), CRCOK: true})

	// The parked state a disk-full stop leaves behind: the file unwritten,
	// its payloads still in the cache.
	a.stalled = append(a.stalled, fileItem(job, file))
	job.FinishedFiles = []*queue.File{file}

	// A finalize arriving while the file is parked must wait behind it.
	a.finalizeJob(finalizeItem(job))
	if len(hist.records) != 0 {
		t.Fatal("Finalize ran before the parked file was written")
	}
	if job.Status == queue.StatusCompleted {
		t.Fatal("Job completed with its file still unwritten")
	}

	a.retryStalled()

	out, err := os.ReadFile(filepath.Join(dir, "lowdisk", "out.bin"))
	if err != nil || string(out) != "AAAABBBB" {
		t.Fatalf("Parked file not written after retry: %q (%v)", out, err)
	}
	if job.Status != queue.StatusCompleted {
		t.Errorf("Expected completed after retry, got %v", job.Status)
	}
	if len(hist.records) != 1 {
		t.Errorf("Expected 1 history record after retry, got %d", len(hist.records))
	}
	if c.Len() != 0 {
		t.Error("Retry must consume the stranded payloads")
	}
}

func TestFinalizeFailedJobKeepsFailure(t *testing.T) {
	hist := &fakeHistory{}
	a, _, _ := testAssembler(t, hist)

	job := &queue.Job{ID: "j1", Name: "broken", Status: queue.StatusFailed, FailMsg: "too many missing articles"}
	a.finalizeJob(finalizeItem(job))

	if job.Status != queue.StatusFailed {
		t.Errorf("Failed status must survive finalize, got %v", job.Status)
	}
	if len(hist.records) != 1 || hist.records[0].job.FailMsg == "" {
		t.Error("Failed jobs belong in history with their reason")
	}
}

func TestRemoveJobDir(t *testing.T) {
	a, c, dir := testAssembler(t, nil)

	job := &queue.Job{ID: "j1", Name: "removed"}
	file := fileWithParts(job.ID, "<p1@t>")
	c.Put(&decoder.Payload{MessageID: "<p1@t>", Body: []byte("data"), CRCOK: true})
	a.assembleFile(fileItem(job, file))

	if err := a.RemoveJobDir(job); err != nil {
		t.Fatalf("RemoveJobDir failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "removed")); !os.IsNotExist(err) {
		t.Error("Job directory survived removal")
	}
	if len(a.handles) != 0 {
		t.Error("Open handles must be closed on removal")
	}

	// Work still in flight for the removed job is dropped, not re-created.
	a.dispatch(fileItem(job, file))
	if _, err := os.Stat(filepath.Join(dir, "removed")); !os.IsNotExist(err) {
		t.Error("Dispatch resurrected a removed job's directory")
	}
}

func TestSanitizeDirName(t *testing.T) {
	got := sanitizeDirName(`a/b\c:d*e?f"g<h>i|j`)
	want := "a_b_c_d_e_f_g_h_i_j"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
