package queue

import "fmt"

// Result classifies the outcome of one article fetch attempt.
type Result int

const (
	// ResultOK: article decoded and deposited in the cache.
	ResultOK Result = iota
	// ResultMissing: server answered 430/423; the server goes on the
	// article's try-list.
	ResultMissing
	// ResultCRC: decoder flagged a checksum mismatch. Treated like a
	// missing article: the serving server joins the try-list, another
	// server may carry a clean copy.
	ResultCRC
	// ResultTransient: network trouble or a temporary server error; the
	// article stays with the same server for a bounded number of retries.
	ResultTransient
	// ResultRequeue: the attempt never reached the article (connect
	// failure, server blocked mid-flight). No penalty anywhere; the
	// article simply goes back to pending.
	ResultRequeue
)

// RegisterArticleResult records the outcome of a fetch. Called by the
// connection workers; serialised under the queue lock so the file-done
// transition fires exactly once. actives is the current active server set,
// used to decide when an article is lost everywhere.
func (q *Queue) RegisterArticleResult(assign *Assignment, serverID string, res Result, actives []ServerView) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[assign.JobID]
	if !ok || job.Removed {
		return
	}

	file, article := q.findLocked(job, assign.FileID, assign.MessageID)
	if article == nil {
		return
	}

	article.Fetcher = ""
	delete(q.hints, serverID)

	switch res {
	case ResultOK:
		article.Decoded = true
		article.Tries = 0
		file.BytesLeft -= article.Bytes
		delete(job.TryList, serverID)

	case ResultMissing:
		article.addTry(serverID)
		article.Tries = 0
		job.LogStage("download", fmt.Sprintf("Article %s missing on %s", article.MessageID, serverID))
		// The article just became available to servers further down the
		// chain; their stale "nothing here" marks must go.
		job.TryList = nil
		q.checkLostLocked(job, file, article, actives)

	case ResultCRC:
		article.addTry(serverID)
		article.Tries = 0
		job.LogStage("download", fmt.Sprintf("CRC error in article %s from %s", article.MessageID, serverID))
		job.TryList = nil
		q.checkLostLocked(job, file, article, actives)

	case ResultTransient:
		article.Tries++
		if article.Tries >= q.cfg.Download.ArticleRetries {
			article.addTry(serverID)
			article.Tries = 0
			job.TryList = nil
			q.checkLostLocked(job, file, article, actives)
		}

	case ResultRequeue:
		// The attempt never reached the article; the server may still have
		// it, so no try-list changes anywhere.
		delete(job.TryList, serverID)
	}

	q.advanceLocked(job, file)
}

// advanceLocked moves a file to finished when its last article is handled
// and ends the job when nothing is left anywhere.
func (q *Queue) advanceLocked(job *Job, file *File) {
	if job.Status == StatusFailed {
		// Bad-article tolerance tripped: abort early, let whatever was
		// decoded reach disk so PAR2 can still be attempted downstream.
		q.endJobLocked(job)
		return
	}

	if file != nil && file.done() {
		for i, f := range job.Files {
			if f.ID == file.ID {
				job.Files = append(job.Files[:i], job.Files[i+1:]...)
				break
			}
		}
		job.FinishedFiles = append(job.FinishedFiles, file)
		if q.asm != nil {
			q.asm.SubmitFile(job, file)
		}
		q.saveJobLocked(job, false)
	}

	if !job.hasWork() && activeFetchers(job) == 0 {
		q.endJobLocked(job)
	}
}

// checkLostLocked declares the article lost once every active server has
// refused it, and applies the job's bad-article tolerance.
func (q *Queue) checkLostLocked(job *Job, file *File, article *Article, actives []ServerView) {
	if article.Lost || !article.lostOn(actives) {
		return
	}

	article.Lost = true
	job.BadArticles++
	job.LogStage("download", fmt.Sprintf("Article %s lost on all servers", article.MessageID))
	q.log.Warn("Article %s of %s lost on all servers", article.MessageID, job.Name)

	tol := q.cfg.Download.BadArticlePercent
	if tol > 0 && job.TotalArticles > 0 && job.BadArticles*100 > job.TotalArticles*tol {
		job.Status = StatusFailed
		job.FailMsg = fmt.Sprintf("Aborted, too many missing articles (%d of %d)",
			job.BadArticles, job.TotalArticles)
		q.log.Error("%s: %s", job.Name, job.FailMsg)
	}
}

func (q *Queue) findLocked(job *Job, fileID, messageID string) (*File, *Article) {
	for _, f := range job.Files {
		if f.ID != fileID {
			continue
		}
		for _, a := range f.Articles {
			if a.MessageID == messageID {
				return f, a
			}
		}
	}
	return nil, nil
}

// SetFileFilename publishes the filename decoded from an article header to
// the parent file, before the body has even finished streaming.
func (q *Queue) SetFileFilename(jobID, fileID, name string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[jobID]
	if !ok {
		return
	}
	for _, f := range job.Files {
		if f.ID == fileID {
			f.SetFilename(name)
			return
		}
	}
}
