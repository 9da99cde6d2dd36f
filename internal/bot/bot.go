package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-invite-tracker/internal/cache"
	"discord-invite-tracker/internal/commands"
	"discord-invite-tracker/internal/config"
	"discord-invite-tracker/internal/database"
	"discord-invite-tracker/internal/directory"
	"discord-invite-tracker/internal/queue"
	"discord-invite-tracker/internal/redis"
	"discord-invite-tracker/internal/services"
	"discord-invite-tracker/internal/tracker"
)

type Bot struct {
	Session    *discordgo.Session
	DB         *database.Database
	Redis      *redis.Client
	Cache      *cache.Cache
	Tracker    *tracker.Tracker
	Invites    *services.InviteService
	Router     *queue.Router
	Registry   *commands.Registry
	Dispatcher *commands.Dispatcher
	Logger     *zap.Logger

	cfg     *config.Config
	ownerID string
	ctx     context.Context
	metrics *http.Server
}

// New wires the bot. rdb may be nil, which keeps the read cache in
// process.
func New(cfg *config.Config, db *database.Database, rdb *redis.Client, logger *zap.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("session error: %w", err)
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildInvites

	s.Client = newHTTPClient()
	s.StateEnabled = false
	s.ShouldReconnectOnError = true
	s.ShouldRetryOnRateLimit = true
	s.MaxRestRetries = 3

	var l2 cache.Remote
	if rdb != nil {
		l2 = rdb
	}
	c, err := cache.NewCache(l2, cache.Config{
		L1MaxCost:     cfg.Cache.L1MaxCost,
		L1NumCounters: cfg.Cache.L1NumCounters,
		DefaultTTL:    cfg.Cache.TTL.Std(),
	})
	if err != nil {
		return nil, err
	}

	dir := directory.NewDiscord(s)
	tr := tracker.New(dir, db, logger.Named("tracker"), tracker.Config{
		FetchTimeout: cfg.Tracker.FetchTimeout.Std(),
	})
	invites := services.NewInviteService(db, dir, tr, c, logger.Named("invites"))

	deps := commands.Deps{
		Invites:   invites,
		DB:        db,
		Heartbeat: s.HeartbeatLatency,
	}
	if rdb != nil {
		deps.Redis = rdb
	}

	b := &Bot{
		Session:    s,
		DB:         db,
		Redis:      rdb,
		Cache:      c,
		Tracker:    tr,
		Invites:    invites,
		Router:     queue.NewRouter(queue.Config{Workers: cfg.Tracker.Workers, Size: cfg.Tracker.QueueSize}, logger.Named("queue")),
		Registry:   commands.All(deps),
		Dispatcher: commands.NewDispatcher(logger.Named("commands")),
		Logger:     logger,
		cfg:        cfg,
		ownerID:    cfg.OwnerID,
		ctx:        context.Background(),
	}

	s.AddHandler(b.Ready)
	s.AddHandler(b.GuildCreate)
	s.AddHandler(b.GuildDelete)
	s.AddHandler(b.GuildMemberAdd)
	s.AddHandler(b.GuildMemberRemove)
	s.AddHandler(b.InviteCreate)
	s.AddHandler(b.InviteDelete)
	s.AddHandler(b.InteractionCreate)

	return b, nil
}

// Start connects to the gateway, registers commands and serves until ctx
// is done.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx
	b.Router.Start(ctx)
	b.startMetricsServer()

	if err := b.connect(ctx); err != nil {
		return errors.Join(err, b.Close())
	}
	go b.monitorHeartbeat(ctx)

	<-ctx.Done()
	return b.Close()
}

func (b *Bot) connect(ctx context.Context) error {
	// Resolved before Open so handlers never see it change.
	if b.ownerID == "" {
		app, err := b.Session.Application("@me")
		if err != nil {
			b.Logger.Warn("Failed to resolve application owner", zap.Error(err))
		} else if app.Owner != nil {
			b.ownerID = app.Owner.ID
		}
	}

	b.Logger.Info("Connecting to Discord Gateway")
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("gateway connection failed: %w", err)
	}

	// State is disabled, so the bot user may be missing.
	if b.Session.State.User == nil {
		u, err := b.Session.User("@me", discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to get bot user: %w", err)
		}
		b.Session.State.User = u
	}
	b.Logger.Info("Logged in",
		zap.String("username", b.Session.State.User.Username),
		zap.String("user_id", b.Session.State.User.ID))

	defs := b.Registry.Definitions()
	if _, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, "", defs, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	b.Logger.Info("Registered commands", zap.Int("count", len(defs)))
	return nil
}

// Close disconnects from the gateway, drains queued events and releases
// storage.
func (b *Bot) Close() error {
	b.Logger.Info("Shutting down")

	errs := []error{b.Session.Close()}
	b.Router.Stop()

	if b.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, b.metrics.Shutdown(ctx))
		cancel()
	}

	b.Cache.Close()
	if b.Redis != nil {
		errs = append(errs, b.Redis.Close())
	}
	errs = append(errs, b.DB.Close())
	_ = b.Logger.Sync()
	return errors.Join(errs...)
}
