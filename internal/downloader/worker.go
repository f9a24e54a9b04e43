package downloader

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/nzbdaemon/nzbd/internal/decoder"
	"github.com/nzbdaemon/nzbd/internal/nntp"
	"github.com/nzbdaemon/nzbd/internal/queue"
	"github.com/nzbdaemon/nzbd/internal/server"
)

// idleWait is how long a worker with nothing to do sleeps before asking
// the scheduler again.
const idleWait = 500 * time.Millisecond

// worker is the per-connection loop. It owns at most one live connection
// to its server and recycles it across articles; any error tears the
// connection down and the next round redials.
func (e *Engine) worker(ctx context.Context, srv *server.Server) {
	var conn *nntp.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	view := queue.ServerView{
		ID:       srv.ID(),
		Optional: srv.Config.Optional,
		Tier:     srv.Config.Priority,
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !srv.TryAcquire() {
			// Blocked, disabled, or all slots busy elsewhere.
			if conn != nil {
				conn.Close()
				conn = nil
			}
			sleep(ctx, idleWait)
			continue
		}

		assign := e.queue.GetNextArticle(view, views(e.pool))
		if assign == nil {
			srv.Release()
			sleep(ctx, idleWait)
			continue
		}

		conn = e.fetch(ctx, srv, conn, assign)
		srv.Release()
	}
}

// fetch runs one article through connect→group→body→decode→cache→report
// and returns the connection for reuse (nil when it died).
func (e *Engine) fetch(ctx context.Context, srv *server.Server, conn *nntp.Conn, assign *queue.Assignment) *nntp.Conn {
	actives := views(e.pool)

	if conn == nil {
		var err error
		conn, err = nntp.Dial(ctx, srv.Config)
		if err != nil {
			e.reportConnError(srv, err)
			e.queue.RegisterArticleResult(assign, srv.ID(), queue.ResultRequeue, actives)
			return nil
		}
	}

	if srv.Config.RequiresGroup && len(assign.Groups) > 0 {
		if err := conn.Group(assign.Groups[0]); err != nil {
			conn.Close()
			e.reportConnError(srv, err)
			e.queue.RegisterArticleResult(assign, srv.ID(), queue.ResultRequeue, actives)
			return nil
		}
	}

	// The job context aborts the read mid-body when the job is removed.
	body, stop, err := conn.Body(assign.Ctx, assign.MessageID)
	if err != nil {
		switch {
		case errors.Is(err, nntp.ErrArticleMissing):
			e.queue.RegisterArticleResult(assign, srv.ID(), queue.ResultMissing, actives)
			return conn
		case errors.Is(err, nntp.ErrServerFault):
			conn.Close()
			e.reportConnError(srv, err)
			e.queue.RegisterArticleResult(assign, srv.ID(), queue.ResultRequeue, actives)
			return nil
		default:
			conn.Close()
			e.reportConnError(srv, err)
			e.queue.RegisterArticleResult(assign, srv.ID(), queue.ResultRequeue, actives)
			return nil
		}
	}

	var onFilename func(string)
	if assign.NeedFilename {
		jobID, fileID := assign.JobID, assign.FileID
		onFilename = func(name string) {
			e.queue.SetFileFilename(jobID, fileID, name)
		}
	}

	payload, err := decoder.Decode(e.limitReader(ctx, body), assign.Bytes, onFilename)

	// Leave the connection clean for the next article: the dot terminator
	// must be consumed even though the decoder stops at the trailer.
	if err == nil {
		_, err = io.Copy(io.Discard, body)
	}
	stop()

	if assign.Ctx.Err() != nil {
		// Job removed mid-read; the watcher killed the socket.
		conn.Close()
		return nil
	}

	if err != nil {
		if errors.Is(err, decoder.ErrNoEncoding) || errors.Is(err, decoder.ErrTruncated) {
			e.queue.RegisterArticleResult(assign, srv.ID(), queue.ResultTransient, actives)
			conn.Close()
			return nil
		}
		// Socket died mid-body.
		conn.Close()
		e.reportConnError(srv, err)
		e.queue.RegisterArticleResult(assign, srv.ID(), queue.ResultRequeue, actives)
		return nil
	}

	if !payload.CRCOK {
		e.queue.RegisterArticleResult(assign, srv.ID(), queue.ResultCRC, actives)
		return conn
	}

	payload.MessageID = assign.MessageID

	if !e.deposit(assign, payload) {
		return conn
	}

	e.pool.ReportSuccess(srv, int64(len(payload.Body)))
	e.queue.RegisterArticleResult(assign, srv.ID(), queue.ResultOK, actives)

	return conn
}

// deposit puts the payload in the cache unless the job was removed while
// the body streamed. Eviction has already run by then, so a payload that
// slips in now would sit in the cache until shutdown.
func (e *Engine) deposit(assign *queue.Assignment, payload *decoder.Payload) bool {
	if err := e.cache.Put(payload); err != nil {
		// Cache closed: we are shutting down.
		return false
	}
	if assign.Ctx.Err() != nil {
		e.cache.EvictJob([]string{payload.MessageID})
		return false
	}
	return true
}

func (e *Engine) reportConnError(srv *server.Server, err error) {
	switch {
	case errors.Is(err, nntp.ErrAuthRejected):
		e.pool.ReportError(srv, server.ErrorAuth, err.Error())
	case errors.Is(err, nntp.ErrQuotaExceeded):
		e.pool.ReportError(srv, server.ErrorQuota, err.Error())
	default:
		e.pool.ReportError(srv, server.ErrorConnect, err.Error())
	}
}

// limitReader applies the global token bucket to a body stream. Tokens are
// charged per chunk after the read, so the bucket never stalls a read that
// already happened, only the next one.
func (e *Engine) limitReader(ctx context.Context, r io.Reader) io.Reader {
	return &rateReader{engine: e, ctx: ctx, r: r}
}

type rateReader struct {
	engine *Engine
	ctx    context.Context
	r      io.Reader
}

func (rr *rateReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if n > 0 {
		rr.engine.limitMu.RLock()
		limiter := rr.engine.limiter
		rr.engine.limitMu.RUnlock()

		if limiter != nil {
			b := limiter.Burst()
			for waited := 0; waited < n; {
				chunk := n - waited
				if chunk > b {
					chunk = b
				}
				if err := limiter.WaitN(rr.ctx, chunk); err != nil {
					break
				}
				waited += chunk
			}
		}
	}
	return n, err
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
