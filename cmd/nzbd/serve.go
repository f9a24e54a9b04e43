package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/nzbdaemon/nzbd/internal/api"
	"github.com/nzbdaemon/nzbd/internal/app"
	"github.com/nzbdaemon/nzbd/internal/assembler"
	"github.com/nzbdaemon/nzbd/internal/cache"
	"github.com/nzbdaemon/nzbd/internal/config"
	"github.com/nzbdaemon/nzbd/internal/downloader"
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/notify"
	"github.com/nzbdaemon/nzbd/internal/postproc"
	"github.com/nzbdaemon/nzbd/internal/queue"
	"github.com/nzbdaemon/nzbd/internal/server"
	"github.com/nzbdaemon/nzbd/internal/store"
)

func serveCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(repair)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "rebuild the queue from the incomplete directory")

	return cmd
}

func serve(forceRepair bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return err
	}

	log.Info("nzbd %s starting", version)

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ac := cache.New(int64(cfg.Download.CacheLimitMB) * 1024 * 1024)
	notifier := &notify.LogNotifier{Logger: log}

	pool := server.NewPool(cfg.Servers, log, notifier)

	asm := assembler.New(log, ac, cfg.Dirs.Incomplete,
		&postproc.LogHandler{Logger: log}, st, notifier, nil)

	q := queue.New(cfg, log, asm, st, ac, notifier)

	// The assembler pauses the queue when the disk fills; wired after both
	// exist.
	asm.SetPauser(q)

	engine := downloader.New(cfg, log, pool, q, ac, asm, st)

	if err := restoreQueue(cfg, log, st, q, forceRepair); err != nil {
		return err
	}
	engine.LoadSpilled()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCtx := app.NewContext(cfg, log)
	appCtx.Queue = q
	appCtx.Pool = pool
	appCtx.Cache = ac
	appCtx.Assembler = asm
	appCtx.Engine = engine
	appCtx.Store = st
	appCtx.Notifier = notifier

	e := echo.New()
	api.RegisterRoutes(e, appCtx)

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: e}
	go func() {
		log.Info("API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server failed: %v", err)
		}
	}()

	engineCtx, cancelEngine := context.WithCancel(context.Background())
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(engineCtx)
	}()

	select {
	case <-ctx.Done():
		log.Info("Signal received, shutting down")
	case <-appCtx.Shutdown:
		log.Info("Shutdown requested via API")
	case err := <-engineDone:
		cancelEngine()
		return err
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutCtx)

	cancelEngine()
	<-engineDone

	log.Info("Shutdown complete")

	if appCtx.RestartCode != 0 {
		os.Exit(appCtx.RestartCode)
	}
	return nil
}

// openStore opens the admin database; an incompatible schema is treated as
// damage and the structured state is rebuilt from scratch.
func openStore(cfg *config.Config, log *logger.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.Dirs.Admin)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, store.ErrNeedsRepair) {
		return nil, err
	}

	log.Warn("Admin database incompatible, rebuilding: %v", err)
	dbPath := filepath.Join(cfg.Dirs.Admin, "nzbd.db")
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(dbPath + suffix)
	}
	return store.Open(cfg.Dirs.Admin)
}

// restoreQueue loads the saved queue, falling back to the repair scan of
// the incomplete directory when the saved state cannot be trusted.
func restoreQueue(cfg *config.Config, log *logger.Logger, st *store.Store, q *queue.Queue, forceRepair bool) error {
	if !forceRepair {
		jobs, err := st.LoadQueue()
		if err == nil {
			if len(jobs) > 0 {
				log.Info("Restored %d jobs from admin state", len(jobs))
			}
			q.Restore(jobs)
			return nil
		}
		if !errors.Is(err, store.ErrNeedsRepair) {
			return err
		}
		log.Warn("Saved queue unusable, repairing: %v", err)
	}

	if err := st.Wipe(); err != nil {
		return err
	}

	jobs, err := store.Repair(cfg.Dirs.Incomplete)
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		log.Info("Repair recovered %d jobs from %s", len(jobs), cfg.Dirs.Incomplete)
	}
	q.Restore(jobs)
	for _, job := range jobs {
		st.SaveJob(job)
	}
	return nil
}
