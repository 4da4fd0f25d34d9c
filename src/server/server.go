package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"broker-observer/src/helpers"
	"broker-observer/src/interfaces"
	"broker-observer/src/logger"
	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

// SessionSource reports the currently active broker sessions.
type SessionSource interface {
	SessionStatus() []models.MSessionStatus
}

// SnapshotSource reports the latest book payloads seen on the channels.
type SnapshotSource interface {
	Latest() map[string]interface{}
}

// APIServer is the read-only status surface. It never mutates pipeline
// state; operators flip behavior through the shared store instead.
type APIServer struct {
	store     interfaces.IStateStore
	sessions  SessionSource
	snapshots SnapshotSource
	logger    *logger.Logger

	engine    *gin.Engine
	server    *http.Server
	startedAt time.Time
}

// -----------------------------------------------------------------------------

func NewAPIServer(store interfaces.IStateStore, sessions SessionSource, snapshots SnapshotSource, log *logger.Logger) *APIServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &APIServer{
		store:     store,
		sessions:  sessions,
		snapshots: snapshots,
		logger:    log.Named("api"),
		engine:    engine,
		startedAt: time.Now(),
	}

	api := engine.Group("/api")
	api.GET("/health", s.healthHandler)
	api.GET("/sessions", s.sessionsHandler)
	api.GET("/latest", s.latestHandler)

	return s
}

// -----------------------------------------------------------------------------

// Start runs the HTTP server until the context is cancelled.
func (s *APIServer) Start(ctx context.Context, host string, port int) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) healthHandler(c *gin.Context) {
	storeStatus := "ok"
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		storeStatus = err.Error()
	}

	mem := helpers.GetMemoryStats()

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"store":          storeStatus,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"memory": gin.H{
			"process_alloc_mb": mem.ProcessAllocMB,
			"process_sys_mb":   mem.ProcessSysMB,
			"system_total_mb":  mem.SystemTotalMB,
		},
	})
}

func (s *APIServer) sessionsHandler(c *gin.Context) {
	statuses := s.sessions.SessionStatus()
	c.JSON(http.StatusOK, gin.H{"sessions": statuses, "count": len(statuses)})
}

func (s *APIServer) latestHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshots.Latest())
}
