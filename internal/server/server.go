// Package server exposes the synchronous sync-invocation API and the run
// history endpoints over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fernwake/prodsync/internal/hierarchy"
	"github.com/fernwake/prodsync/internal/notify"
	"github.com/fernwake/prodsync/internal/syncrun"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB            *gorm.DB
	Port          int
	SourceBaseURL string
	Sync          syncrun.Options
	Notifier      notify.Notifier
	Out           io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("server: db is required")
	}
	if opts.SourceBaseURL == "" {
		return fmt.Errorf("server: source base URL is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		db:       opts.DB,
		baseURL:  opts.SourceBaseURL,
		sync:     opts.Sync,
		notifier: opts.Notifier,
		newAPI: func(baseURL, apiKey string) hierarchy.API {
			return hierarchy.NewClient(baseURL, apiKey)
		},
	}
	s.registerRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "prodsync API listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Server carries handler dependencies. newAPI is swappable so tests can
// drive the full pipeline against a mock source API.
type Server struct {
	db       *gorm.DB
	baseURL  string
	sync     syncrun.Options
	notifier notify.Notifier
	newAPI   func(baseURL, apiKey string) hierarchy.API
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.POST("/api/sync", s.handleSync)
	router.GET("/api/runs", s.handleRuns)
	router.GET("/api/runs/:id", s.handleRun)
}

func (s *Server) handleRuns(c *gin.Context) {
	runs, err := syncrun.History(s.db, c.Query("workspace_id"), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "runs": runs})
}

func (s *Server) handleRun(c *gin.Context) {
	run, err := syncrun.Get(s.db, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "run": run})
}
