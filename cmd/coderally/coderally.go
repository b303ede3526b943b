package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coderally/coderally/internal/api"
	"github.com/coderally/coderally/internal/bot"
	"github.com/coderally/coderally/internal/config"
	"github.com/coderally/coderally/internal/db"
	"github.com/coderally/coderally/internal/lobby"
	"github.com/coderally/coderally/internal/session"
	"github.com/coderally/coderally/internal/track"
	"github.com/coderally/coderally/internal/version"
)

var (
	listen        = flag.String("listen", "", "Listen address (overrides config)")
	configPath    = flag.String("config", "", "Path to JSON config file")
	dbFile        = flag.String("db", "coderally.db", "Path to the SQLite database")
	migrationsDir = flag.String("migrations", "migrations", "Path to the migrations directory")
	lobbyMaxAge   = flag.Duration("lobby-max-age", 2*time.Hour, "Age after which idle lobbies are removed")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	factory := func(difficulty string, seed int64) *track.Track {
		return track.Generate(&cfg.Game, seed, track.ParseDifficulty(difficulty))
	}

	registry := session.NewRegistry()
	lobbies := lobby.NewManager(&cfg.Game, factory)
	lobbies.StartCleanup(10*time.Minute, *lobbyMaxAge)
	defer lobbies.Stop()

	store := bot.NewStore(database)
	bots := bot.NewManager(&cfg.Bot, &cfg.Physics, cfg.BotCadence())

	mux := api.NewServer(cfg, registry, lobbies, store, bots).ServeMux()
	server := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: api.LoggingMiddleware(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("coderally %s listening on %s", version.Version, cfg.Server.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	// Stop every live session so tick loops exit before the process does.
	for _, id := range registry.IDs() {
		registry.Remove(id)
	}

	log.Printf("graceful shutdown complete")
}
