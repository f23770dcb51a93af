package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/calyxpay/lib-offers/offers/log"
)

// ErrNoServerConfigured indicates no HTTP server was configured for the manager.
var ErrNoServerConfigured = errors.New("no server configured: use WithHTTPServer()")

// Closer is a named resource released during shutdown, after the HTTP
// server drained. Closers run in registration order.
type Closer struct {
	Name  string
	Close func(ctx context.Context) error
}

// ServerManager runs a Fiber HTTP server and handles its graceful shutdown,
// releasing registered resources (message broker, database pool) afterwards.
type ServerManager struct {
	httpServer         *fiber.App
	httpAddress        string
	logger             log.Logger
	closers            []Closer
	serversStarted     chan struct{}
	serversStartedOnce sync.Once
	shutdownChan       <-chan struct{}
	shutdownOnce       sync.Once
	shutdownTimeout    time.Duration
	startupErrors      chan error
}

// NewServerManager creates a new instance of ServerManager. A nil logger is
// replaced with a no-op logger.
func NewServerManager(logger log.Logger) *ServerManager {
	if logger == nil {
		logger = log.NewNop()
	}

	return &ServerManager{
		logger:          logger,
		serversStarted:  make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startupErrors:   make(chan error, 1),
	}
}

// WithHTTPServer configures the HTTP server for the ServerManager.
func (sm *ServerManager) WithHTTPServer(app *fiber.App, address string) *ServerManager {
	sm.httpServer = app
	sm.httpAddress = address

	return sm
}

// WithCloser registers a resource to release after the server drained.
func (sm *ServerManager) WithCloser(name string, close func(ctx context.Context) error) *ServerManager {
	sm.closers = append(sm.closers, Closer{Name: name, Close: close})

	return sm
}

// WithShutdownChannel configures a custom shutdown channel. This lets tests
// trigger shutdown deterministically instead of relying on OS signals.
func (sm *ServerManager) WithShutdownChannel(ch <-chan struct{}) *ServerManager {
	sm.shutdownChan = ch

	return sm
}

// WithShutdownTimeout configures the deadline passed to resource closers.
// Defaults to 30 seconds.
func (sm *ServerManager) WithShutdownTimeout(d time.Duration) *ServerManager {
	sm.shutdownTimeout = d

	return sm
}

// ServersStarted returns a channel closed once the server goroutine has been
// launched. It signals the goroutine was spawned, not that the socket is
// bound; tests use it to coordinate shutdown timing.
func (sm *ServerManager) ServersStarted() <-chan struct{} {
	return sm.serversStarted
}

// StartWithGracefulShutdown starts the configured server and blocks until a
// termination signal arrives, the shutdown channel closes, or the server
// fails to start. It then drains the server and releases every closer.
func (sm *ServerManager) StartWithGracefulShutdown() error {
	if sm.httpServer == nil {
		return ErrNoServerConfigured
	}

	sm.startServer()
	sm.handleShutdown()

	return nil
}

func (sm *ServerManager) startServer() {
	go func() {
		sm.logger.Log(context.Background(), log.LevelInfo, "starting http server",
			log.String("address", sm.httpAddress))

		if err := sm.httpServer.Listen(sm.httpAddress); err != nil {
			sm.logger.Log(context.Background(), log.LevelError, "http server failed",
				log.Err(err))

			select {
			case sm.startupErrors <- fmt.Errorf("http server: %w", err):
			default:
			}
		}
	}()

	sm.serversStartedOnce.Do(func() {
		close(sm.serversStarted)
	})
}

func (sm *ServerManager) handleShutdown() {
	if sm.shutdownChan != nil {
		select {
		case <-sm.shutdownChan:
		case err := <-sm.startupErrors:
			sm.logger.Log(context.Background(), log.LevelError, "server startup failed", log.Err(err))
		}
	} else {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		select {
		case <-c:
			signal.Stop(c)
		case err := <-sm.startupErrors:
			sm.logger.Log(context.Background(), log.LevelError, "server startup failed", log.Err(err))
		}
	}

	sm.executeShutdown()
}

// executeShutdown drains the server, releases closers in order, and syncs
// the logger. It is idempotent: only the first invocation runs the sequence.
func (sm *ServerManager) executeShutdown() {
	sm.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
		defer cancel()

		sm.logger.Log(ctx, log.LevelInfo, "gracefully shutting down")

		if err := sm.httpServer.ShutdownWithContext(ctx); err != nil {
			sm.logger.Log(ctx, log.LevelError, "http server shutdown failed", log.Err(err))
		}

		for _, closer := range sm.closers {
			sm.logger.Log(ctx, log.LevelInfo, "closing resource", log.String("name", closer.Name))

			if err := closer.Close(ctx); err != nil {
				sm.logger.Log(ctx, log.LevelError, "resource close failed",
					log.String("name", closer.Name), log.Err(err))
			}
		}

		if err := sm.logger.Sync(ctx); err != nil {
			sm.logger.Log(ctx, log.LevelWarn, "logger sync failed", log.Err(err))
		}

		sm.logger.Log(ctx, log.LevelInfo, "graceful shutdown completed")
	})
}
