package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nzbdaemon/nzbd/internal/assembler"
	"github.com/nzbdaemon/nzbd/internal/cache"
	"github.com/nzbdaemon/nzbd/internal/config"
	"github.com/nzbdaemon/nzbd/internal/downloader"
	"github.com/nzbdaemon/nzbd/internal/logger"
	"github.com/nzbdaemon/nzbd/internal/notify"
	"github.com/nzbdaemon/nzbd/internal/nzb"
	"github.com/nzbdaemon/nzbd/internal/postproc"
	"github.com/nzbdaemon/nzbd/internal/queue"
	"github.com/nzbdaemon/nzbd/internal/server"
)

// addCmd posts an NZB file to a running daemon, or downloads it with an
// in-process engine when --oneshot is set.
func addCmd() *cobra.Command {
	var (
		name     string
		category string
		priority string
		password string
		oneshot  bool
	)

	cmd := &cobra.Command{
		Use:   "add <file.nzb>",
		Short: "Queue an NZB on a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				base := filepath.Base(args[0])
				name = strings.TrimSuffix(base, filepath.Ext(base))
			}

			if oneshot {
				return runOneshot(args[0], name, category, priority, password)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			params := url.Values{}
			params.Set("name", name)
			if category != "" {
				params.Set("category", category)
			}
			if priority != "" {
				params.Set("priority", priority)
			}
			if password != "" {
				params.Set("password", password)
			}

			endpoint := fmt.Sprintf("http://127.0.0.1:%s/api/queue?%s", cfg.Port, params.Encode())
			resp, err := http.Post(endpoint, "application/x-nzb", f)
			if err != nil {
				return fmt.Errorf("is the daemon running? %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon rejected the NZB: %s", strings.TrimSpace(string(body)))
			}

			fmt.Println(strings.TrimSpace(string(body)))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "job name (default: file name)")
	cmd.Flags().StringVar(&category, "category", "", "job category")
	cmd.Flags().StringVar(&priority, "priority", "", "priority: force, high, normal, low, stop")
	cmd.Flags().StringVar(&password, "password", "", "unpack password")
	cmd.Flags().BoolVar(&oneshot, "oneshot", false, "download in-process instead of posting to a daemon")

	return cmd
}

// doneNotifier resolves the one-shot wait: the assembler fires job_done or
// job_failed after its last write for the job.
type doneNotifier struct{ ch chan notify.Kind }

func (n *doneNotifier) Event(kind notify.Kind, subject, detail string) {
	switch kind {
	case notify.JobDone, notify.JobFailed:
		select {
		case n.ch <- kind:
		default:
		}
	}
}

// runOneshot spins up the full engine without the API or the admin store,
// downloads the one NZB and exits when it finalizes.
func runOneshot(path, name, category, priority, password string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	model, md5sum, err := nzb.NewParser().Parse(f)
	f.Close()
	if err != nil {
		return err
	}

	prio := queue.PriorityDefault
	if p, ok := queue.ParsePriority(priority); ok {
		prio = p
	}

	doneN := &doneNotifier{ch: make(chan notify.Kind, 1)}

	ac := cache.New(int64(cfg.Download.CacheLimitMB) * 1024 * 1024)
	asm := assembler.New(log, ac, cfg.Dirs.Incomplete,
		&postproc.LogHandler{Logger: log}, nil, doneN, nil)
	q := queue.New(cfg, log, asm, nil, ac, nil)
	asm.SetPauser(q)
	pool := server.NewPool(cfg.Servers, log, nil)
	engine := downloader.New(cfg, log, pool, q, ac, asm, nil)

	job := queue.FromNZB(model, md5sum, queue.BuildOptions{
		Name:     name,
		Category: category,
		Password: password,
		Priority: prio,
	})
	if err := q.Add(job); err != nil {
		return err
	}

	sig, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(engCtx) }()

	var result notify.Kind
	select {
	case <-sig.Done():
		log.Info("Interrupted")
	case result = <-doneN.ch:
	}

	cancel()
	<-done

	switch result {
	case notify.JobFailed:
		return fmt.Errorf("%s failed: %s", job.Name, job.FailMsg)
	case notify.JobDone:
		fmt.Printf("Finished %s\n", job.Name)
	}
	return nil
}
