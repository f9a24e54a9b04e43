package server

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nzbdaemon/nzbd/internal/config"
)

// State of one configured news server.
type State int

const (
	// StateActive: usable.
	StateActive State = iota
	// StateBlocked: too many consecutive connect failures; unblocks on a
	// schedule.
	StateBlocked
	// StateDisabled: fatal rejection (auth, quota); stays down until the
	// operator re-enables it.
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateBlocked:
		return "blocked"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

// Server wraps one configured NNTP server: its connection budget, health
// counters and block/unblock schedule.
type Server struct {
	Config config.ServerConfig

	mu        sync.Mutex
	state     State
	failures  int
	unblockAt time.Time
	warning   string
	schedule  *backoff.ExponentialBackOff

	// slots caps live connections at max_connections.
	slots chan struct{}
}

func newServer(cfg config.ServerConfig) *Server {
	sched := backoff.NewExponentialBackOff()
	sched.InitialInterval = time.Minute
	sched.MaxInterval = time.Hour
	sched.Multiplier = 2
	sched.RandomizationFactor = 0.1
	sched.MaxElapsedTime = 0 // never give up on a blocked server
	sched.Reset()

	return &Server{
		Config:   cfg,
		schedule: sched,
		slots:    make(chan struct{}, cfg.MaxConnections),
	}
}

func (s *Server) ID() string { return s.Config.ID }

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) Warning() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warning
}

// TryAcquire takes a connection slot without blocking. Returns false when
// the server is at max_connections or not active.
func (s *Server) TryAcquire() bool {
	if s.State() != StateActive {
		return false
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) Release() {
	select {
	case <-s.slots:
	default:
	}
}

// Busy returns the number of live connections.
func (s *Server) Busy() int {
	return len(s.slots)
}
