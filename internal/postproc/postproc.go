// Package postproc is the boundary to the post-processing pipeline (PAR2
// verify, unpack, user script). The engine only hands jobs over; what
// happens after is not its business.
package postproc

import (
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/queue"
)

// Handler receives a finished job: its incomplete directory, the stage log
// collected during download, and the final status.
type Handler interface {
	Handle(job *queue.Job, dir string)
}

// LogHandler is the built-in no-op pipeline: it only records the handoff.
// Deployments wire a real pipeline here.
type LogHandler struct {
	Logger *logger.Logger
}

func (h *LogHandler) Handle(job *queue.Job, dir string) {
	if h.Logger == nil {
		return
	}
	h.Logger.Info("Post-processing %s (%s), status=%s, bad_articles=%d",
		job.Name, dir, job.Status, job.BadArticles)
}
