package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"collabd/internal/api"
	"collabd/internal/config"
	"collabd/internal/db"
	"collabd/internal/discovery"
	"collabd/internal/repository"
	"collabd/internal/services/collaboration"
	"collabd/internal/telemetry"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

Startup order:
1. Config (env, then flags) and tracing, so everything after is traced
2. Storage backend: file, PostgreSQL (GORM) or Redis
3. Session manager: bus + session store + presence registry
4. TCP protocol listener and the HTTP listener (health, snapshots, /ws)
5. Optional mDNS announcement

Shutdown runs in reverse: stop accepting, end every connection (presence is
withdrawn per connection), then close storage and flush traces.
*/

func main() {
	log.Println("🚀 Starting collaboration server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Flags override the environment
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "TCP address for protocol connections")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for document snapshots (file storage)")
	flag.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "HTTP address for health checks, snapshots and /ws")
	flag.StringVar(&cfg.StorageBackend, "storage", cfg.StorageBackend, "storage backend: file, postgres or redis")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid config: %v", err)
	}

	jaegerShutdown, err := telemetry.InitJaeger("collabd", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	storage, closeStorage, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to open %s storage: %v", cfg.StorageBackend, err)
	}
	defer closeStorage()

	sessionManager := collaboration.NewSessionManager(storage, collaboration.Options{
		BusBacklog:    cfg.BusBacklog,
		OutboundQueue: cfg.OutboundQueue,
		IdleTimeout:   cfg.IdleTimeout,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("❌ Failed to listen on %s: %v", cfg.ListenAddr, err)
	}
	tcpServer := collaboration.NewTCPServer(sessionManager)
	go func() {
		if err := tcpServer.Serve(ctx, ln); err != nil {
			log.Fatalf("❌ TCP server error: %v", err)
		}
	}()

	wsHandler := collaboration.NewWebSocketHandler(sessionManager)
	handler := api.NewHandler(sessionManager.Store(), sessionManager.Presence(), sessionManager, wsHandler)
	router := api.SetupRoutes(handler)

	// No WriteTimeout: /ws requests live as long as the connection.
	server := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("🌐 HTTP listening on http://%s", cfg.HealthAddr)
		log.Printf("📚 HTTP Endpoints:")
		log.Printf("   GET /health                             - Liveness probe")
		log.Printf("   GET /api/health                         - Session, user and connection counts")
		log.Printf("   GET /api/rooms/{room}/docs/{doc}        - Live document snapshot")
		log.Printf("   GET /api/rooms/{room}/docs/{doc}/users  - Session members")
		log.Printf("   GET /ws                                 - Protocol over WebSocket")
		log.Println()

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP server error: %v", err)
		}
	}()

	if cfg.MDNSEnabled {
		if announcement, err := advertise(cfg.MDNSService, ln.Addr()); err != nil {
			log.Printf("⚠️  mDNS disabled: %v", err)
		} else {
			defer announcement.Shutdown()
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	// Stop accepting protocol connections
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked /ws connections are not tracked by Shutdown; the session
	// manager ends them below.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP server forced to shutdown: %v", err)
	}

	sessionManager.Shutdown()

	log.Println("✓ Server shutdown complete")
}

// openStorage builds the persistence gateway named by cfg.StorageBackend.
// The returned close function is always non-nil.
func openStorage(cfg *config.Config) (collaboration.Storage, func(), error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		database, err := db.NewGorm(cfg)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := database.Close(); err != nil {
				log.Printf("⚠️  Failed to close database: %v", err)
			}
		}
		return repository.NewSnapshotRepository(database.DB), closeDB, nil

	case config.StorageRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rdb, err := repository.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("✓ Redis connected at %s", cfg.RedisAddr)
		closeRedis := func() {
			if err := rdb.Close(); err != nil {
				log.Printf("⚠️  Failed to close redis: %v", err)
			}
		}
		return repository.NewRedisStore(rdb, cfg.RedisKeyPrefix), closeRedis, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, err
	}
	log.Printf("✓ Storing documents under %s", cfg.DataDir)
	return repository.NewFileStore(cfg.DataDir), func() {}, nil
}

func advertise(service string, addr net.Addr) (*discovery.Announcement, error) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	return discovery.Advertise(service, port)
}
