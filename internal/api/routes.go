package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kmajdoub/botfleet/internal/logstream"
	"github.com/kmajdoub/botfleet/internal/registry"
	"github.com/kmajdoub/botfleet/internal/session"
)

// registerRoutes sets up all control API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth)

	api := router.Group("/api")
	api.POST("/sessions", handleCreateSession(opts.Service))
	api.GET("/sessions", handleListSessions(opts.Service))
	api.GET("/sessions/:id", handleGetSession(opts.Service))
	api.POST("/sessions/:id/stop", handleStopSession(opts.Service))
	api.GET("/sessions/:id/logs", handleSessionLogs(opts.Service, opts.Hub))
	api.GET("/catalog/:kind", handleCatalog(opts))
	api.GET("/summaries", handleSummaries(opts))
}

// writeError maps domain sentinels onto HTTP statuses with a stable
// machine-readable code.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, session.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, session.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrAlreadyRunning):
		status, code = http.StatusConflict, "already_running"
	case errors.Is(err, session.ErrDuplicate):
		status, code = http.StatusConflict, "duplicate"
	case errors.Is(err, session.ErrSpawn):
		status, code = http.StatusBadGateway, "spawn_failed"
	}
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleCreateSession(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var d session.Descriptor
		if err := c.ShouldBindJSON(&d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": "invalid request body: " + err.Error()})
			return
		}
		sess, err := svc.CreateSession(c.Request.Context(), d)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	}
}

func handleListSessions(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f registry.Filter
		if v := c.Query("status"); v != "" {
			st := session.Status(v)
			if !st.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": "unknown status " + v})
				return
			}
			f.Status = st
		}
		if v := c.Query("type"); v != "" {
			ty := session.Type(v)
			if !ty.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": "unknown session type " + v})
				return
			}
			f.Type = ty
		}
		if v := c.Query("active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": "active must be a boolean"})
				return
			}
			f.Active = active
		}
		sessions := svc.ListSessions(f)
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
	}
}

func handleGetSession(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := svc.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

func handleStopSession(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := svc.StopSession(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id, "stopping": true})
	}
}

func handleCatalog(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Param("kind") {
		case "paths":
			paths, err := opts.Catalog.ListPaths()
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"paths": paths})
		case "jobs":
			jobs, err := opts.Catalog.ListJobs()
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"jobs": jobs})
		case "session-types":
			c.JSON(http.StatusOK, gin.H{"sessionTypes": session.Types()})
		case "unload-types":
			c.JSON(http.StatusOK, gin.H{"unloadTypes": session.UnloadTypes()})
		case "path-types":
			c.JSON(http.StatusOK, gin.H{"pathTypes": session.PathTypes()})
		default:
			c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "unknown catalog kind " + c.Param("kind")})
		}
	}
}

func handleSummaries(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		sums, err := opts.Archive.ListSummaries(c.Request.Context(), c.Query("leader"), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"summaries": sums, "count": len(sums)})
	}
}

// handleSessionLogs streams the session's log lines over SSE. Only
// lines produced after the request attaches are delivered.
func handleSessionLogs(svc *Service, hub *logstream.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := svc.GetSession(id); err != nil {
			writeError(c, err)
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		sub := hub.Subscribe(id)
		defer hub.Unsubscribe(sub)

		writeSSE(c.Writer, "connected", gin.H{"sessionId": id})
		c.Writer.Flush()

		ctx := c.Request.Context()
		batches := make(chan []string)
		errs := make(chan error, 1)
		go func() {
			for {
				batch, err := sub.Next(ctx)
				if err != nil {
					errs <- err
					return
				}
				select {
				case batches <- batch:
				case <-ctx.Done():
					return
				}
			}
		}()

		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", gin.H{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case err := <-errs:
				if errors.Is(err, logstream.ErrClosed) {
					writeSSE(c.Writer, "end", gin.H{"sessionId": id})
					c.Writer.Flush()
				}
				return
			case batch := <-batches:
				writeSSE(c.Writer, "logs", gin.H{"lines": batch})
				c.Writer.Flush()
			}
		}
	}
}
