package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/nzbdaemon/nzbd/internal/api/controllers"
	"github.com/nzbdaemon/nzbd/internal/app"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	queueCtrl := &controllers.QueueController{App: app}
	sysCtrl := &controllers.SystemController{App: app}

	// Queue
	e.GET("/api/queue", queueCtrl.List)
	e.POST("/api/queue", queueCtrl.Add)
	e.DELETE("/api/queue/:id", queueCtrl.Remove)
	e.POST("/api/queue/:id/pause", queueCtrl.Pause)
	e.POST("/api/queue/:id/resume", queueCtrl.Resume)
	e.POST("/api/queue/:id/priority", queueCtrl.SetPriority)
	e.POST("/api/queue/:id/move", queueCtrl.Move)
	e.POST("/api/queue/:id/switch", queueCtrl.Switch)
	e.POST("/api/queue/:id/rename", queueCtrl.Rename)

	// Downloader
	e.POST("/api/pause", sysCtrl.PauseAll)
	e.POST("/api/resume", sysCtrl.ResumeAll)
	e.GET("/api/speedlimit", sysCtrl.SpeedLimit)
	e.POST("/api/speedlimit", sysCtrl.SpeedLimit)

	// Servers
	e.GET("/api/servers", sysCtrl.Servers)
	e.POST("/api/servers/:id/enable", sysCtrl.EnableServer)
	e.POST("/api/servers/:id/disable", sysCtrl.DisableServer)

	// Status, history, lifecycle
	e.GET("/api/status", sysCtrl.Status)
	e.GET("/api/history", sysCtrl.History)
	e.POST("/api/shutdown", sysCtrl.Shutdown)
}
