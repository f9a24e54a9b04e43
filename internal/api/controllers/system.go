package controllers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/nzbdaemon/nzbd/internal/app"
)

type SystemController struct {
	App *app.Context
}

// Status reports queue totals, current speed and cache usage.
func (ctrl *SystemController) Status(c *echo.Context) error {
	var left int64
	jobs := ctrl.App.Queue.Jobs()
	for _, job := range jobs {
		left += job.BytesLeft()
	}

	return c.JSON(http.StatusOK, StatusInfo{
		Paused:       ctrl.App.Queue.Paused(),
		QueueSize:    len(jobs),
		BytesLeft:    left,
		BPS:          ctrl.App.Pool.Meter().TotalBPS(),
		SpeedLimitKB: ctrl.App.Engine.SpeedLimit(),
		CacheArts:    ctrl.App.Cache.Len(),
		CacheBytes:   ctrl.App.Cache.Used(),
	})
}

func (ctrl *SystemController) PauseAll(c *echo.Context) error {
	ctrl.App.Queue.PauseAll()
	return c.JSON(http.StatusOK, OKResponse{Status: "ok"})
}

func (ctrl *SystemController) ResumeAll(c *echo.Context) error {
	ctrl.App.Queue.ResumeAll()
	return c.JSON(http.StatusOK, OKResponse{Status: "ok"})
}

// SpeedLimit gets or sets the global download ceiling in KB/s. 0 clears it.
func (ctrl *SystemController) SpeedLimit(c *echo.Context) error {
	if v := c.QueryParam("kb"); v != "" {
		kb, err := strconv.Atoi(v)
		if err != nil || kb < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "kb must be a non-negative integer"})
		}
		ctrl.App.Engine.SetSpeedLimit(kb)
		ctrl.App.Logger.Info("Speed limit set to %d KB/s", kb)
	}
	return c.JSON(http.StatusOK, map[string]int{"speed_limit_kb": ctrl.App.Engine.SpeedLimit()})
}

// Servers lists every configured server with its health and speed.
func (ctrl *SystemController) Servers(c *echo.Context) error {
	meter := ctrl.App.Pool.Meter()

	var out []ServerSlot
	for _, s := range ctrl.App.Pool.Servers() {
		out = append(out, ServerSlot{
			ID:          s.ID(),
			Host:        s.Config.Host,
			State:       s.State().String(),
			Warning:     s.Warning(),
			Tier:        s.Config.Priority,
			Fill:        s.Config.Optional,
			Connections: s.Busy(),
			MaxConns:    s.Config.MaxConnections,
			BPS:         meter.BPS(s.ID()),
			TotalBytes:  meter.TotalBytes(s.ID()),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (ctrl *SystemController) EnableServer(c *echo.Context) error {
	if err := ctrl.App.Pool.Enable(c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, OKResponse{Status: "ok"})
}

func (ctrl *SystemController) DisableServer(c *echo.Context) error {
	if err := ctrl.App.Pool.Disable(c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, OKResponse{Status: "ok"})
}

// History returns finished jobs, newest first.
func (ctrl *SystemController) History(c *echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	entries, err := ctrl.App.Store.History(limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, entries)
}

// Shutdown stops the daemon. mode=restart asks the wrapper to start us
// again; mode=repair additionally rebuilds the queue from the download
// directory on the next start.
func (ctrl *SystemController) Shutdown(c *echo.Context) error {
	switch c.QueryParam("mode") {
	case "restart":
		ctrl.App.RestartCode = 7
	case "repair":
		ctrl.App.RestartCode = 8
	}

	// Respond first, then trip the main loop.
	err := c.JSON(http.StatusOK, OKResponse{Status: "shutting down"})
	close(ctrl.App.Shutdown)
	return err
}
