package controllers

// QueueSlot is one job as the queue listing reports it.
type QueueSlot struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	BytesTotal int64  `json:"bytes_total"`
	BytesLeft  int64  `json:"bytes_left"`
	Files      int    `json:"files"`
	BadArticle int    `json:"bad_articles,omitempty"`
	Duplicate  string `json:"duplicate_status,omitempty"`
}

type QueueList struct {
	Paused bool        `json:"paused"`
	Slots  []QueueSlot `json:"slots"`
}

// ServerSlot is one news server with its live health and speed.
type ServerSlot struct {
	ID          string  `json:"id"`
	Host        string  `json:"host"`
	State       string  `json:"state"`
	Warning     string  `json:"warning,omitempty"`
	Tier        int     `json:"tier"`
	Fill        bool    `json:"fill"`
	Connections int     `json:"connections"`
	MaxConns    int     `json:"max_connections"`
	BPS         float64 `json:"bps"`
	TotalBytes  int64   `json:"total_bytes"`
}

// StatusInfo is the daemon-level status summary.
type StatusInfo struct {
	Paused       bool    `json:"paused"`
	QueueSize    int     `json:"queue_size"`
	BytesLeft    int64   `json:"bytes_left"`
	BPS          float64 `json:"bps"`
	SpeedLimitKB int     `json:"speed_limit_kb"`
	CacheArts    int     `json:"cache_articles"`
	CacheBytes   int64   `json:"cache_bytes"`
}

type OKResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
