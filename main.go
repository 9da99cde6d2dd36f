package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"go.uber.org/zap"

	"discord-invite-tracker/internal/bot"
	"discord-invite-tracker/internal/config"
	"discord-invite-tracker/internal/database"
	"discord-invite-tracker/internal/logging"
	"discord-invite-tracker/internal/redis"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}

	// Fewer collections for a long running gateway process; the limit
	// keeps the heap bounded on small hosts.
	debug.SetGCPercent(200)
	debug.SetMemoryLimit(1 << 30)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Bot stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := database.Open(openCtx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Database ready", zap.String("driver", cfg.Database.Driver))

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.New(openCtx, cfg.Redis)
		if err != nil {
			_ = db.Close()
			return err
		}
		logger.Info("Redis ready", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Info("Redis disabled, caching in process only")
	}

	b, err := bot.New(cfg, db, rdb, logger)
	if err != nil {
		_ = db.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return err
	}

	return b.Start(ctx)
}
