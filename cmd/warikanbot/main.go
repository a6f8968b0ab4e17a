package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/susu3304/warikanbot/internal/api"
	"github.com/susu3304/warikanbot/internal/bot"
	"github.com/susu3304/warikanbot/internal/commands"
	"github.com/susu3304/warikanbot/internal/config"
	"github.com/susu3304/warikanbot/internal/db"
	"github.com/susu3304/warikanbot/internal/db/memory"
	"github.com/susu3304/warikanbot/internal/db/sqlite"
	"github.com/susu3304/warikanbot/internal/entry"
	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Connect to the ledger store and run migrations
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer store.Close()

	sessions, err := openSessions(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open session store", zap.String("kind", cfg.SessionStore), zap.Error(err))
	}

	svc := ledger.NewService(store, logger.Named("ledger"))
	machine := entry.NewMachine(svc, sessions,
		entry.WithTTL(cfg.SessionTTL),
		entry.WithLogger(logger.Named("entry")),
	)
	warikan := commands.NewWarikan(svc, machine, logger.Named("commands"))

	// Initialize Discord bot
	discordBot, err := bot.New(cfg.DiscordToken, warikan, machine, logger.Named("bot"))
	if err != nil {
		logger.Fatal("Failed to create discord bot", zap.Error(err))
	}
	if err := discordBot.Start(); err != nil {
		logger.Fatal("Failed to start discord bot", zap.Error(err))
	}
	defer discordBot.Stop()

	// Start API server only when OAuth is configured
	var apiServer *api.API
	if cfg.APIEnabled() {
		apiServer = api.New(cfg, svc, logger.Named("api"))
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("API server error", zap.Error(err))
			}
		}()
	} else {
		logger.Info("Discord OAuth not configured, API server disabled")
	}

	logger.Info("warikanbot running",
		zap.String("store", cfg.StoreDriver),
		zap.String("sessions", cfg.SessionStore),
		zap.Duration("session_ttl", cfg.SessionTTL),
	)

	// Wait for signal to stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down...")
	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API server shutdown failed", zap.Error(err))
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return database, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	case config.StoreMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openSessions(ctx context.Context, cfg *config.Config) (entry.SessionStore, error) {
	if cfg.SessionStore != config.SessionRedis {
		return entry.NewMemoryStore(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return entry.NewRedisStore(client, cfg.SessionTTL), nil
}
