package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/G4FproAPI/Astra-OSS/internal/accounts"
	"github.com/G4FproAPI/Astra-OSS/internal/admin"
	"github.com/G4FproAPI/Astra-OSS/internal/audit"
	"github.com/G4FproAPI/Astra-OSS/internal/config"
	"github.com/G4FproAPI/Astra-OSS/internal/db"
	"github.com/G4FproAPI/Astra-OSS/internal/gateway"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
	"github.com/G4FproAPI/Astra-OSS/internal/provider"
	"github.com/G4FproAPI/Astra-OSS/internal/provider/loader"
	"github.com/G4FproAPI/Astra-OSS/internal/ratelimit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Account store and rate limiter share one backend
	var (
		store   accounts.Store
		limiter ratelimit.Limiter
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Printf("⚠️  Using in-memory store; accounts are lost on restart")
		store = accounts.NewMemoryStore()
		limiter = ratelimit.NewMemoryLimiter()
	default:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("Invalid REDIS_URL:", err)
		}
		client := redis.NewClient(opt)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to connect to redis:", err)
		}
		store = accounts.NewRedisStore(client, accounts.WithKeyPrefix(cfg.RedisKeyPrefix))

		// Windows may live on a dedicated instance
		prefix := ratelimit.WithKeyPrefix(cfg.RedisKeyPrefix + "ratelimit:")
		if cfg.RateLimitRedis != "" {
			rl, err := ratelimit.NewRateLimiter(cfg.RateLimitRedis, prefix)
			if err != nil {
				log.Fatal("Invalid RATELIMIT_REDIS_URL:", err)
			}
			limiter = rl
		} else {
			limiter = ratelimit.NewRedisLimiter(client, prefix)
		}
	}
	defer limiter.Close()

	// Request log database is optional
	var (
		recorder  gateway.RequestRecorder
		analytics admin.Analytics
	)
	if cfg.DatabaseURL != "" {
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		defer database.Close()
		if err := database.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to prepare database schema:", err)
		}
		recorder, analytics = database, database
	} else {
		log.Printf("DATABASE_URL not set; request logging disabled")
	}

	// Model table and providers
	catalog, err := models.LoadCatalog(cfg.ModelConfigFile)
	if err != nil {
		log.Fatal("Failed to load model config:", err)
	}
	proxies, err := provider.LoadProxies(cfg.ProxiesFile)
	if err != nil {
		log.Fatal("Failed to load proxies:", err)
	}
	providersCfg, err := loader.Load(cfg.ProvidersFile)
	if err != nil {
		log.Fatal("Failed to load providers:", err)
	}
	registry := provider.NewRegistry(providersCfg.Build(proxies)...)
	for _, p := range registry.All() {
		d := p.Descriptor()
		log.Printf("Enabled provider: %s (%d models, streaming=%t, priority=%t)", d.Name, len(d.Models), d.Streaming, d.Priority)
	}

	// Audit dispatcher
	sinks := []audit.Sink{audit.NewLogSink(slog.Default())}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, audit.NewWebhookSink(cfg.WebhookURL, nil))
	}
	events := audit.NewDispatcher(sinks, 2, audit.WithQueueSize(cfg.AuditQueueSize))
	defer events.Close()

	billing, err := gateway.ParseStreamBilling(cfg.StreamBilling)
	if err != nil {
		log.Fatal("Invalid STREAM_BILLING:", err)
	}

	accountant := accounts.NewAccountant(store)
	opts := []gateway.Option{
		gateway.WithEmitter(events),
		gateway.WithStreamBilling(billing),
		gateway.WithOwnedBy(cfg.ModelsOwnedBy),
	}
	if recorder != nil {
		opts = append(opts, gateway.WithRequestRecorder(recorder))
	}
	gw := gateway.New(store, accountant, limiter, catalog, registry, opts...)

	// Initialize router
	router := mux.NewRouter()
	admin.NewAdminHandler(store, accountant, analytics, cfg.JWTSecret, cfg.AdminSecret).RegisterRoutes(router)
	gw.RegisterRoutes(router)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           gateway.CORS(gateway.AccessLog(router)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.ServerPort)
		log.Printf("Admin API available at /admin/*")
		log.Printf("OpenAI-compatible API available at /v1/*")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}

	// Request log writes must land before the pool closes
	gw.Drain()
	log.Println("Server gracefully stopped")
}
