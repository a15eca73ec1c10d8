package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/shiva/sosdispatch/config"
	"github.com/shiva/sosdispatch/internal/handler"
	"github.com/shiva/sosdispatch/internal/notify"
	"github.com/shiva/sosdispatch/internal/repository"
	"github.com/shiva/sosdispatch/internal/service"
	"github.com/shiva/sosdispatch/pkg/cache"
	"github.com/shiva/sosdispatch/pkg/db"
	"github.com/shiva/sosdispatch/pkg/keylock"
	"github.com/shiva/sosdispatch/pkg/messaging"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// ── Storage ─────────────────────────────────────────
	var (
		store repository.Store
		dir   repository.ReporterDirectory
	)
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		defer pgPool.Close()
		log.Println("✓ PostgreSQL connected")

		if cfg.Store.Migrate {
			if err := repository.Migrate(ctx, pgPool); err != nil {
				log.Fatalf("failed to migrate: %v", err)
			}
			log.Println("✓ Schema migrated")
		}
		store = repository.NewPostgresStore(pgPool, cfg.Store.TxTimeout)
		dir = repository.NewPostgresDirectory(pgPool)
	default:
		store = repository.NewMemoryStore()
		dir = repository.NewMemoryDirectory()
		log.Println("✓ In-memory store ready")
	}

	// ── Notifiers ───────────────────────────────────────
	var (
		notifiers   notify.Multi
		redisClient *redis.Client
		natsClient  *messaging.Client
	)
	if cfg.Notify.Enabled("log") {
		notifiers = append(notifiers, notify.LogNotifier{})
	}
	if cfg.Notify.Enabled("redis") {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis, "sosdispatch")
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("✓ Redis connected")
		notifiers = append(notifiers, notify.NewRedisNotifier(redisClient, cfg.Notify.LastTTL))
	}
	if cfg.Notify.Enabled("nats") {
		natsClient, err = messaging.Connect(cfg.NATS)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer natsClient.Close()
		log.Println("✓ NATS connected")
		notifiers = append(notifiers, notify.NewNATSNotifier(natsClient))
	}

	// ── Initialize layers ───────────────────────────────
	locks := keylock.New()
	var notifier notify.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}
	coord := service.NewCoordinator(store, locks, notifier, cfg.Notify.Timeout)
	svc := handler.Services{
		Cases:    service.NewCaseService(store, dir, locks),
		Registry: service.NewUnitRegistry(store, locks),
		Coord:    coord,
		Feed:     service.NewFeedService(store, dir),
	}

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler(store, redisClient, natsClient)).Methods(http.MethodGet)
	handler.Routes(router, svc, []byte(cfg.Auth.JWTSecret))

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      handler.Wrap(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("🚀 Dispatch listening on %s (store=%s, notifiers=%v)",
			cfg.Server.ServerAddr(), cfg.Store.Backend, cfg.Notify.Notifiers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	// In-flight unit notifications finish before the transports close.
	if err := coord.Drain(shutdownCtx); err != nil {
		log.Printf("notifications not drained: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler checks the store and whichever notifier transports are up.
func healthHandler(store repository.Store, redisClient *redis.Client, natsClient *messaging.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}
		check := func(name string, err error) {
			if err != nil {
				resp.Status = "degraded"
				resp.Services[name] = "unhealthy: " + err.Error()
				return
			}
			resp.Services[name] = "healthy"
		}

		check("store", store.Ping(r.Context()))
		if redisClient != nil {
			check("redis", redisClient.Ping(r.Context()).Err())
		}
		if natsClient != nil {
			check("nats", natsClient.HealthCheck())
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
