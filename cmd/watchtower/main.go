package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"go-watchtower/internal/watch"
	"go-watchtower/pkg/chat"
	"go-watchtower/pkg/config"
	"go-watchtower/pkg/database"
	"go-watchtower/pkg/evegateway"
	"go-watchtower/pkg/logging"
	"go-watchtower/pkg/version"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"
)

// customLoggerMiddleware logs requests but excludes health check endpoints
func customLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/health") {
			next.ServeHTTP(w, r)
			return
		}
		middleware.Logger(next).ServeHTTP(w, r)
	})
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	versionInfo := version.Get()
	log.Printf("🏷️  Version: %s | Build: %s", version.GetVersionString(), versionInfo.BuildDate)
	log.Printf("🖥️  CPUs: %d | GOMAXPROCS: %d", runtime.NumCPU(), runtime.GOMAXPROCS(0))

	ctx := context.Background()

	telemetry := logging.NewTelemetryManager()
	if err := telemetry.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer telemetry.Shutdown(ctx)

	mongodb, err := database.NewMongoDB(ctx, "watchtower")
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongodb.Close(ctx)

	redis, err := database.NewRedis(ctx)
	if err != nil {
		slog.Warn("Redis unavailable, ESI caching falls back to in-memory", "error", err)
		redis = nil
	} else {
		defer redis.Close()
	}

	// Initialize Chi router
	r := chi.NewRouter()
	r.Use(customLoggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// Shared EVE Online ESI client
	esiClient := evegateway.NewClient(redis)

	botToken := config.GetBotToken()
	if botToken == "" {
		log.Fatalf("BOT_TOKEN is required")
	}
	messenger := chat.NewDiscordMessenger(botToken)

	watchModule := watch.New(mongodb, redis, esiClient, messenger)
	if err := watchModule.Initialize(ctx); err != nil {
		// A corrupt or unreachable corpus means the poller would run blind;
		// refuse to start rather than silently track nothing.
		log.Fatalf("Failed to load tracked corporations: %v", err)
	}

	r.Route("/watch", func(sub chi.Router) {
		watchModule.Routes(sub)
	})

	humaConfig := huma.DefaultConfig("Go Watchtower API", "1.0.0")
	humaConfig.Info.Description = "EVE Online corporate asset monitoring and notification relay"
	unifiedAPI := humachi.New(r, humaConfig)
	watchModule.RegisterUnifiedRoutes(unifiedAPI, "/watch")

	go watchModule.StartBackgroundTasks(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.GetCallbackServerPort()),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Starting watchtower API server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Received shutdown signal, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	watchModule.Stop()

	slog.Info("Watchtower shutdown completed successfully")
}
