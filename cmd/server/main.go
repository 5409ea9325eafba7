/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the MealSphere settlement engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Configure structured logging
  3. Initialize SQLite store
  4. Connect the cache (Redis when -redis is set, in-process otherwise)
  5. Create API handler with dependencies
  6. Start the rollover scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: mealsphere.db)
           Use ":memory:" for in-memory database
  -redis   Redis address, e.g. localhost:6379 (default: unset,
           falls back to the in-process cache)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close cache and database connections
  4. Exit

EXAMPLES:
  # Run with file database and in-process cache
  ./server -db="./data/mealsphere.db"

  # Run with Redis-backed cache
  ./server -redis=localhost:6379

ENVIRONMENT:
  LOG_LEVEL  debug|info|warn|error (default: info)

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mealsphere/settlement-engine/api"
	"github.com/mealsphere/settlement-engine/cache"
	"github.com/mealsphere/settlement-engine/engine"
	"github.com/mealsphere/settlement-engine/logging"
	"github.com/mealsphere/settlement-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "mealsphere.db", "SQLite database path")
	redisAddr := flag.String("redis", "", "Redis address (empty uses the in-process cache)")
	flag.Parse()

	logging.Setup()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		slog.Error("failed to initialize database", "error", err, "path", *dbPath)
		os.Exit(1)
	}
	defer store.Close()

	// Pick the cache backend
	var c engine.Cache
	if *redisAddr != "" {
		rc, err := cache.DialRedis(context.Background(), *redisAddr)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err, "addr", *redisAddr)
			os.Exit(1)
		}
		defer rc.Close()
		c = rc
		slog.Info("using redis cache", "addr", *redisAddr)
	} else {
		c = cache.NewMemory()
		slog.Info("using in-process cache")
	}

	// Initialize handler and router
	handler := api.NewHandler(store, c)
	router := api.NewRouter(handler)

	// Auto-close expired monthly periods in the background
	scheduler := api.NewRolloverScheduler(handler)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
