package graceful

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/piogold/ico_service/pkg/logger"
)

// Shutdowner is a component that drains within a timeout.
type Shutdowner interface {
	Shutdown(timeout time.Duration) error
}

// ShutdownManager stops the HTTP server, then workers, then closes resources.
type ShutdownManager struct {
	server      *http.Server
	shutdowners []Shutdowner
	closers     []io.Closer
	hooks       []func(context.Context) error
	timeout     time.Duration
	logger      *logger.Logger
}

func NewShutdownManager(server *http.Server, timeout time.Duration, log *logger.Logger) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{server: server, timeout: timeout, logger: log}
}

// Register adds a component drained after the server stops accepting requests.
func (sm *ShutdownManager) Register(s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, s)
}

// RegisterCloser adds a resource closed last (database, redis).
func (sm *ShutdownManager) RegisterCloser(c io.Closer) {
	sm.closers = append(sm.closers, c)
}

// RegisterHook adds a context-aware shutdown func such as the tracer flush.
func (sm *ShutdownManager) RegisterHook(fn func(context.Context) error) {
	sm.hooks = append(sm.hooks, fn)
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then shuts everything down.
func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sm.Shutdown()
}

// Shutdown runs the shutdown sequence immediately.
func (sm *ShutdownManager) Shutdown() {
	sm.logger.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
		}
	}

	for _, s := range sm.shutdowners {
		if err := s.Shutdown(sm.timeout); err != nil {
			sm.logger.Warn("Component shutdown error", "error", err)
		}
	}

	for _, h := range sm.hooks {
		if err := h(ctx); err != nil {
			sm.logger.Warn("Shutdown hook error", "error", err)
		}
	}

	for _, c := range sm.closers {
		if err := c.Close(); err != nil {
			sm.logger.Warn("Resource close error", "error", err)
		}
	}

	sm.logger.Info("Shutdown complete")
}
