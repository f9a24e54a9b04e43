package queue

import (
	"sort"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/nzbdaemon/nzbd/internal/nzb"
)

// BuildOptions carries the per-job knobs the NZB-to-job builder accepts
// from the caller (API upload, watch folder, one-shot CLI).
type BuildOptions struct {
	Name             string
	Category         string
	Script           string
	Password         string
	Priority         Priority
	PropagationDelay time.Duration
}

// FromNZB turns a parsed NZB model into a job ready for Add. Files keep
// the NZB parse order sorted by subject, matching how posters number
// multi-part sets.
func FromNZB(model *nzb.Model, md5sum string, opts BuildOptions) *Job {
	jobID := ksuid.New().String()

	job := &Job{
		ID:       jobID,
		Name:     opts.Name,
		Category: opts.Category,
		Script:   opts.Script,
		Password: opts.Password,
		Priority: opts.Priority,
		Status:   StatusQueued,
		MD5Sum:   md5sum,
		TryList:  make(map[string]bool),
	}

	if job.Password == "" {
		job.Password = model.Password()
	}

	files := make([]nzb.File, len(model.Files))
	copy(files, model.Files)
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Subject < files[j].Subject
	})

	var dateSum int64
	var dated int64
	for _, src := range files {
		f := newFile(ksuid.New().String(), jobID, src)
		job.Files = append(job.Files, f)
		job.BytesTotal += f.BytesTotal
		job.TotalArticles += len(f.Articles)

		if src.Date > 0 {
			dateSum += src.Date
			dated++
		}
	}

	if dated > 0 {
		job.AvgDate = time.Unix(dateSum/dated, 0)
	}

	// Young posts sit out the propagation window so servers that have not
	// received all articles yet are not burned onto try-lists.
	if opts.PropagationDelay > 0 {
		born := job.AvgDate
		if born.IsZero() {
			born = time.Now()
		}
		until := born.Add(opts.PropagationDelay)
		if until.After(time.Now()) {
			job.PropagationUntil = until
		}
	}

	return job
}
