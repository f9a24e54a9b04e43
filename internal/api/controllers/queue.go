package controllers

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/nzbdaemon/nzbd/internal/app"
	"github.com/nzbdaemon/nzbd/internal/nzb"
	"github.com/nzbdaemon/nzbd/internal/queue"
)

type QueueController struct {
	App *app.Context
}

// List returns the queue in download order.
func (ctrl *QueueController) List(c *echo.Context) error {
	jobs := ctrl.App.Queue.Jobs()

	out := QueueList{
		Paused: ctrl.App.Queue.Paused(),
		Slots:  make([]QueueSlot, 0, len(jobs)),
	}
	for _, job := range jobs {
		out.Slots = append(out.Slots, QueueSlot{
			ID:         job.ID,
			Name:       job.Name,
			Category:   job.Category,
			Status:     string(job.Status),
			Priority:   job.Priority.String(),
			BytesTotal: job.BytesTotal,
			BytesLeft:  job.BytesLeft(),
			Files:      len(job.Files),
			BadArticle: job.BadArticles,
			Duplicate:  job.DuplicateStatus,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// Add accepts an NZB upload, either as multipart form field "nzbfile" or as
// the raw request body, and queues it.
func (ctrl *QueueController) Add(c *echo.Context) error {
	var (
		body io.ReadCloser
		name = c.QueryParam("name")
	)

	if fh, err := c.FormFile("nzbfile"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		body = f
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
		}
	} else {
		body = c.Request().Body
	}
	defer body.Close()

	model, md5sum, err := nzb.NewParser().Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	if name == "" {
		name = "download-" + md5sum[:8]
	}

	prio := queue.PriorityDefault
	if p, ok := queue.ParsePriority(c.QueryParam("priority")); ok {
		prio = p
	}

	job := queue.FromNZB(model, md5sum, queue.BuildOptions{
		Name:             name,
		Category:         c.QueryParam("category"),
		Script:           c.QueryParam("script"),
		Password:         c.QueryParam("password"),
		Priority:         prio,
		PropagationDelay: ctrl.App.Config.Download.PropagationDelay,
	})

	if err := ctrl.App.Queue.Add(job); err != nil {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, OKResponse{Status: "ok", ID: job.ID})
}

func (ctrl *QueueController) Remove(c *echo.Context) error {
	deleteFiles := c.QueryParam("delete_files") == "1"

	job, err := ctrl.App.Queue.Remove(c.Param("id"), deleteFiles)
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	if deleteFiles {
		ctrl.App.Assembler.RemoveJobDir(job)
	}
	return c.JSON(http.StatusOK, OKResponse{Status: "ok", ID: job.ID})
}

func (ctrl *QueueController) Pause(c *echo.Context) error {
	return ctrl.simple(c, ctrl.App.Queue.Pause(c.Param("id")))
}

func (ctrl *QueueController) Resume(c *echo.Context) error {
	return ctrl.simple(c, ctrl.App.Queue.Resume(c.Param("id")))
}

func (ctrl *QueueController) SetPriority(c *echo.Context) error {
	prio, ok := queue.ParsePriority(c.QueryParam("priority"))
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown priority"})
	}
	return ctrl.simple(c, ctrl.App.Queue.SetPriority(c.Param("id"), prio))
}

func (ctrl *QueueController) Move(c *echo.Context) error {
	pos, err := strconv.Atoi(c.QueryParam("pos"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "pos must be an integer"})
	}
	return ctrl.simple(c, ctrl.App.Queue.Move(c.Param("id"), pos))
}

func (ctrl *QueueController) Switch(c *echo.Context) error {
	return ctrl.simple(c, ctrl.App.Queue.Switch(c.Param("id"), c.QueryParam("with")))
}

func (ctrl *QueueController) Rename(c *echo.Context) error {
	return ctrl.simple(c, ctrl.App.Queue.Rename(c.Param("id"),
		c.QueryParam("name"), c.QueryParam("password")))
}

func (ctrl *QueueController) simple(c *echo.Context, err error) error {
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, OKResponse{Status: "ok"})
}
