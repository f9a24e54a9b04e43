package queue

// Priority orders jobs in the queue. Higher downloads first. Force bypasses
// the global pause and the propagation delay; Stop drains the job straight
// to post-processing.
type Priority int

const (
	PriorityStop   Priority = -2
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
	PriorityForce  Priority = 2

	// Sentinels used by callers; resolved to a real level on Add.
	PriorityDefault   Priority = -100
	PriorityDuplicate Priority = -101
	PriorityRepair    Priority = -102
)

func (p Priority) String() string {
	switch p {
	case PriorityStop:
		return "stop"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityForce:
		return "force"
	case PriorityDefault:
		return "default"
	case PriorityDuplicate:
		return "duplicate"
	case PriorityRepair:
		return "repair"
	}
	return "unknown"
}

// ParsePriority maps an API string to a priority level.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "stop":
		return PriorityStop, true
	case "low":
		return PriorityLow, true
	case "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "force":
		return PriorityForce, true
	case "default":
		return PriorityDefault, true
	}
	return PriorityNormal, false
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusGrabbing    Status = "grabbing"
	StatusChecking    Status = "checking"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusFetching    Status = "fetching"
	StatusPropagating Status = "propagating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusDeleted     Status = "deleted"
)
