// Package notify carries best-effort engine events to interested
// collaborators (desktop notifications, webhooks). The engine never blocks
// on a notifier and never fails because one did.
package notify

import "github.com/nzbdaemon/nzbd/internal/logger"

type Kind string

const (
	JobAdded         Kind = "job_added"
	JobDone          Kind = "job_done"
	JobFailed        Kind = "job_failed"
	DiskFull         Kind = "disk_full"
	ServerAuthFailed Kind = "server_auth_failed"
	ServerDisabled   Kind = "server_disabled"
)

type Notifier interface {
	Event(kind Kind, subject string, detail string)
}

// LogNotifier writes events to the engine log. Default sink.
type LogNotifier struct {
	Logger *logger.Logger
}

func (n *LogNotifier) Event(kind Kind, subject string, detail string) {
	if n.Logger == nil {
		return
	}
	n.Logger.Info("[event:%s] %s %s", kind, subject, detail)
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Event(kind Kind, subject string, detail string) {
	for _, n := range m {
		n.Event(kind, subject, detail)
	}
}

// Discard drops every event. Used by tests.
type Discard struct{}

func (Discard) Event(Kind, string, string) {}
