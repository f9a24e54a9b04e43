// Package app wires the engine's components into one context value that
// the API controllers and the CLI share. There are no package-level
// singletons; tests build their own context.
package app

import (
	"github.com/nzbdaemon/nzbd/internal/assembler"
	"github.com/nzbdaemon/nzbd/internal/cache"
	"github.com/nzbdaemon/nzbd/internal/config"
	"github.com/nzbdaemon/nzbd/internal/downloader"
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/notify"
	"github.com/nzbdaemon/nzbd/internal/queue"
	"github.com/nzbdaemon/nzbd/internal/server"
	"github.com/nzbdaemon/nzbd/internal/store"
)

// Context holds the live engine. Shutdown is closed by the API's shutdown
// endpoint; the main loop watches it.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Queue     *queue.Queue
	Pool      *server.Pool
	Cache     *cache.ArticleCache
	Assembler *assembler.Assembler
	Engine    *downloader.Engine
	Store     *store.Store
	Notifier  notify.Notifier

	Shutdown chan struct{}

	// RestartCode is read after Shutdown closes: 0 plain stop, 7 restart,
	// 8 restart with queue repair.
	RestartCode int
}

func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config:   cfg,
		Logger:   log,
		Shutdown: make(chan struct{}),
	}
}
