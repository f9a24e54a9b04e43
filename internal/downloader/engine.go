// Package downloader runs the connection workers: one goroutine per
// configured connection slot, each looping "ask the scheduler, fetch,
// decode, deposit, report". The scheduler itself runs inline on the
// calling worker; there is no dispatcher goroutine.
package downloader

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nzbdaemon/nzbd/internal/assembler"
	"github.com/nzbdaemon/nzbd/internal/cache"
	"github.com/nzbdaemon/nzbd/internal/config"
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/queue"
	"github.com/nzbdaemon/nzbd/internal/server"
	"github.com/nzbdaemon/nzbd/internal/store"
)

type Engine struct {
	cfg   *config.Config
	log   *logger.Logger
	pool  *server.Pool
	queue *queue.Queue
	cache *cache.ArticleCache
	asm   *assembler.Assembler
	store *store.Store

	limitMu sync.RWMutex
	limiter *rate.Limiter // nil when unlimited
}

func New(cfg *config.Config, log *logger.Logger, pool *server.Pool, q *queue.Queue,
	c *cache.ArticleCache, asm *assembler.Assembler, st *store.Store) *Engine {

	e := &Engine{
		cfg:   cfg,
		log:   log,
		pool:  pool,
		queue: q,
		cache: c,
		asm:   asm,
		store: st,
	}
	e.SetSpeedLimit(cfg.Download.SpeedLimitKB)

	// A recovering server means stalled try-lists may resolve.
	pool.OnRecover = q.ResetTryLists

	return e
}

// SetSpeedLimit applies a global ceiling in KB/s; 0 removes it.
func (e *Engine) SetSpeedLimit(kbps int) {
	e.limitMu.Lock()
	defer e.limitMu.Unlock()

	if kbps <= 0 {
		e.limiter = nil
		return
	}
	bps := rate.Limit(kbps * 1024)
	e.limiter = rate.NewLimiter(bps, kbps*1024)
}

func (e *Engine) SpeedLimit() int {
	e.limitMu.RLock()
	defer e.limitMu.RUnlock()

	if e.limiter == nil {
		return 0
	}
	return int(e.limiter.Limit()) / 1024
}

// Run starts the assembler, the workers and the maintenance sweep, and
// blocks until ctx fires. On the way out it spills unassembled payloads so
// a restart resumes without re-fetching them.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.asm.Run(gctx)
		return nil
	})

	for _, s := range e.pool.Servers() {
		for i := 0; i < s.Config.MaxConnections; i++ {
			s := s
			g.Go(func() error {
				e.worker(gctx, s)
				return nil
			})
		}
	}

	g.Go(func() error {
		e.maintain(gctx)
		return nil
	})

	<-gctx.Done()
	e.cache.Close()
	err := g.Wait()

	e.spillPending()
	e.queue.FlushDirty(true)

	return err
}

// maintain runs the periodic housekeeping: unblock servers whose back-off
// expired, end idle jobs, flush coalesced saves.
func (e *Engine) maintain(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pool.Tick()
			e.queue.StopIdleJobs()
			e.queue.FlushDirty(false)
		}
	}
}

// spillPending writes whatever the cache still holds to the admin
// directory, keyed by owning job.
func (e *Engine) spillPending() {
	if e.store == nil {
		return
	}

	for _, payload := range e.cache.Drain() {
		jobID, ok := e.queue.JobOfArticle(payload.MessageID)
		if !ok {
			continue
		}
		if err := e.store.SpillArticle(jobID, payload); err != nil {
			e.log.Error("Failed to spill article %s: %v", payload.MessageID, err)
		}
	}
}

// LoadSpilled re-fills the cache from the admin directory at startup.
func (e *Engine) LoadSpilled() {
	if e.store == nil {
		return
	}

	for _, job := range e.queue.Jobs() {
		payloads, err := e.store.LoadSpilled(job.ID)
		if err != nil {
			e.log.Warn("Could not reload spilled articles for %s: %v", job.Name, err)
			continue
		}
		for _, p := range payloads {
			e.cache.Load(p)
		}
		if len(payloads) > 0 {
			e.log.Info("Reloaded %d pending articles for %s", len(payloads), job.Name)
		}
	}
}

// views adapts the pool's server summaries for the scheduler.
func views(pool *server.Pool) []queue.ServerView {
	active := pool.ActiveViews()
	out := make([]queue.ServerView, len(active))
	for i, v := range active {
		out[i] = queue.ServerView{ID: v.ID, Optional: v.Optional, Tier: v.Tier}
	}
	return out
}
