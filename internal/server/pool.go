package server

import (
	"fmt"
	"sort"
	"time"

	"github.com/nzbdaemon/nzbd/internal/config"
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/notify"
)

// ErrorKind classifies server-level failures reported by workers.
type ErrorKind int

const (
	// ErrorConnect: dial/timeout/protocol trouble; counts towards the
	// block threshold.
	ErrorConnect ErrorKind = iota
	// ErrorAuth: 481/482/502 on AUTHINFO; disables the server.
	ErrorAuth
	// ErrorQuota: payment/quota rejection; disables with a distinct tag.
	ErrorQuota
)

// blockThreshold is the number of consecutive connect failures before a
// server is taken out of rotation.
const blockThreshold = 3

// View is the scheduler-facing summary of a usable server.
type View struct {
	ID       string
	Optional bool
	Tier     int
}

// Pool owns the configured servers, orders them by tier and tracks their
// health. When a blocked or disabled server comes back, OnRecover fires so
// the queue can reset its try-lists.
type Pool struct {
	servers  []*Server
	log      *logger.Logger
	notifier notify.Notifier
	meter    *BPSMeter

	// OnRecover is called (outside any pool lock) when a server rejoins
	// the active set.
	OnRecover func()
}

func NewPool(cfgs []config.ServerConfig, log *logger.Logger, notifier notify.Notifier) *Pool {
	if notifier == nil {
		notifier = notify.Discard{}
	}

	p := &Pool{
		log:      log,
		notifier: notifier,
		meter:    NewBPSMeter(),
	}

	for _, cfg := range cfgs {
		p.servers = append(p.servers, newServer(cfg))
	}

	// Tier order, non-optional ahead of fill servers inside a tier.
	sort.SliceStable(p.servers, func(i, j int) bool {
		a, b := p.servers[i].Config, p.servers[j].Config
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return !a.Optional && b.Optional
	})

	return p
}

func (p *Pool) Servers() []*Server {
	return p.servers
}

func (p *Pool) Get(id string) (*Server, bool) {
	for _, s := range p.servers {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

func (p *Pool) Meter() *BPSMeter {
	return p.meter
}

// ActiveViews returns the active servers in tier order. The scheduler uses
// this both for iteration and for the "lost on all servers" decision.
func (p *Pool) ActiveViews() []View {
	var views []View
	for _, s := range p.servers {
		if s.State() != StateActive {
			continue
		}
		views = append(views, View{
			ID:       s.ID(),
			Optional: s.Config.Optional,
			Tier:     s.Config.Priority,
		})
	}
	return views
}

// TotalCapacity is the connection budget over all servers, active or not.
func (p *Pool) TotalCapacity() int {
	total := 0
	for _, s := range p.servers {
		total += s.Config.MaxConnections
	}
	return total
}

// ReportSuccess resets the failure count and feeds bandwidth accounting.
func (p *Pool) ReportSuccess(s *Server, bytes int64) {
	s.mu.Lock()
	s.failures = 0
	s.warning = ""
	s.schedule.Reset()
	s.mu.Unlock()

	p.meter.Add(s.ID(), bytes)
}

// ReportError records a server-level failure and applies its effect:
// connect errors block after a threshold with an exponential unblock
// schedule, auth/quota rejections disable until the operator intervenes.
// Article-level outcomes (430, CRC) never reach the pool; they live on the
// article try-lists.
func (p *Pool) ReportError(s *Server, kind ErrorKind, detail string) {
	s.mu.Lock()

	switch kind {
	case ErrorConnect:
		s.failures++
		if s.failures >= blockThreshold && s.state == StateActive {
			delay := s.schedule.NextBackOff()
			s.state = StateBlocked
			s.unblockAt = time.Now().Add(delay)
			s.warning = fmt.Sprintf("unreachable, retrying in %s", delay.Round(time.Second))
			s.mu.Unlock()
			p.log.Warn("Server %s blocked for %s: %s", s.ID(), delay.Round(time.Second), detail)
			return
		}
		s.mu.Unlock()

	case ErrorAuth:
		s.state = StateDisabled
		s.warning = "authentication rejected, check username/password"
		s.mu.Unlock()
		p.log.Error("Server %s disabled: authentication rejected (%s)", s.ID(), detail)
		p.notifier.Event(notify.ServerAuthFailed, s.ID(), detail)
		p.notifier.Event(notify.ServerDisabled, s.ID(), "auth")

	case ErrorQuota:
		s.state = StateDisabled
		s.warning = "account problem (quota/payment), check your provider"
		s.mu.Unlock()
		p.log.Error("Server %s disabled: account/quota problem (%s)", s.ID(), detail)
		p.notifier.Event(notify.ServerDisabled, s.ID(), "quota")
	}
}

// Tick unblocks servers whose back-off has expired. The engine calls this
// periodically; recovery resets queue try-lists via OnRecover.
func (p *Pool) Tick() {
	recovered := false
	now := time.Now()

	for _, s := range p.servers {
		s.mu.Lock()
		if s.state == StateBlocked && now.After(s.unblockAt) {
			s.state = StateActive
			s.failures = 0
			s.warning = ""
			recovered = true
			p.log.Info("Server %s unblocked", s.ID())
		}
		s.mu.Unlock()
	}

	if recovered && p.OnRecover != nil {
		p.OnRecover()
	}
}

// Enable re-activates a disabled or blocked server.
func (p *Pool) Enable(id string) error {
	s, ok := p.Get(id)
	if !ok {
		return fmt.Errorf("unknown server: %s", id)
	}

	s.mu.Lock()
	s.state = StateActive
	s.failures = 0
	s.warning = ""
	s.schedule.Reset()
	s.mu.Unlock()

	p.log.Info("Server %s enabled", id)
	if p.OnRecover != nil {
		p.OnRecover()
	}
	return nil
}

// Disable takes a server out of rotation until Enable.
func (p *Pool) Disable(id string) error {
	s, ok := p.Get(id)
	if !ok {
		return fmt.Errorf("unknown server: %s", id)
	}

	s.mu.Lock()
	s.state = StateDisabled
	s.warning = "disabled by operator"
	s.mu.Unlock()

	p.log.Info("Server %s disabled", id)
	return nil
}
