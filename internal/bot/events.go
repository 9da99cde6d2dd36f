package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/models"
	"discord-invite-tracker/internal/queue"
	"discord-invite-tracker/internal/tracker"
)

// submit routes fn onto the guild's worker so events of one guild are
// applied in arrival order.
func (b *Bot) submit(guildID, kind string, fn func(ctx context.Context)) {
	err := b.Router.Submit(b.ctx, queue.Event{GuildID: guildID, Kind: kind, Handle: fn})
	if err != nil && !errors.Is(err, queue.ErrStopped) && !errors.Is(err, context.Canceled) {
		b.Logger.Warn("Dropped guild event",
			zap.String("guild_id", guildID),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

func (b *Bot) Ready(s *discordgo.Session, r *discordgo.Ready) {
	// State tracking is disabled, so the user is filled in by hand.
	if s.State.User == nil {
		s.State.User = r.User
	}

	ids := make([]string, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		ids = append(ids, g.ID)
	}
	b.Logger.Info("Gateway ready", zap.String("user", r.User.Username), zap.Int("guilds", len(ids)))

	go func() {
		if err := b.warmUp(b.ctx, ids); err != nil {
			b.Logger.Warn("Some guild invites could not be cached", zap.Error(err))
		}
	}()
}

// warmUp syncs every guild through its worker, so a warm-up fetch is
// ordered with the joins of the same guild. At most WarmupConcurrency
// syncs are outstanding at once.
func (b *Bot) warmUp(ctx context.Context, guildIDs []string) error {
	limit := b.cfg.Tracker.WarmupConcurrency
	if limit <= 0 {
		limit = 4
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(limit)
	for _, id := range guildIDs {
		g.Go(func() error {
			if err := b.syncThroughRouter(ctx, id); err != nil {
				b.Logger.Warn("Failed to cache guild invites", zap.String("guild_id", id), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("guild %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (b *Bot) syncThroughRouter(ctx context.Context, guildID string) error {
	done := make(chan error, 1)
	err := b.Router.Submit(ctx, queue.Event{GuildID: guildID, Kind: "guild_sync", Handle: func(ctx context.Context) {
		err := errors.New("sync interrupted")
		defer func() { done <- err }()
		err = b.Tracker.Sync(ctx, guildID)
	}})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) GuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Unavailable {
		return
	}
	b.submit(g.ID, "guild_create", func(ctx context.Context) {
		// Guilds already warmed by READY are left alone.
		if b.Tracker.State(g.ID) == tracker.Synced {
			return
		}
		if err := b.Tracker.Sync(ctx, g.ID); err != nil {
			b.Logger.Warn("Failed to cache guild invites", zap.String("guild_id", g.ID), zap.Error(err))
		}
	})
}

func (b *Bot) GuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	b.submit(g.ID, "guild_delete", func(ctx context.Context) {
		b.Tracker.Forget(g.ID)
	})
}

func (b *Bot) GuildMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil {
		return
	}
	guildID, userID := m.GuildID, m.User.ID
	b.submit(guildID, "member_add", func(ctx context.Context) {
		att, err := b.Invites.MemberJoined(ctx, guildID, userID)
		if err != nil {
			b.Logger.Error("Failed to attribute join",
				zap.String("guild_id", guildID),
				zap.String("user_id", userID),
				zap.String("outcome", att.Outcome),
				zap.Error(err))
			return
		}
		if att.Attributed() {
			b.Logger.Info("Join attributed",
				zap.String("guild_id", guildID),
				zap.String("user_id", userID),
				zap.String("code", att.Code),
				zap.String("creator_id", att.Invite.CreatorID))
		}
	})
}

func (b *Bot) GuildMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.User == nil {
		return
	}
	guildID, userID := m.GuildID, m.User.ID
	b.submit(guildID, "member_remove", func(ctx context.Context) {
		changed, err := b.Invites.MemberLeft(ctx, userID)
		if err != nil {
			b.Logger.Error("Failed to mark member as left", zap.String("user_id", userID), zap.Error(err))
			return
		}
		if changed {
			b.Logger.Info("Member left", zap.String("guild_id", guildID), zap.String("user_id", userID))
		}
	})
}

func (b *Bot) InviteCreate(s *discordgo.Session, e *discordgo.InviteCreate) {
	if e.Invite == nil {
		return
	}
	guildID := e.GuildID
	in := newInviteFromEvent(e)
	botID := ""
	if s.State.User != nil {
		botID = s.State.User.ID
	}

	b.submit(guildID, "invite_create", func(ctx context.Context) {
		b.Tracker.ObserveCreated(guildID, in.Code, e.Uses)

		// Invites made through /create-invite are stored by the command.
		if in.CreatorID == "" || in.CreatorID == botID {
			return
		}
		created, err := b.Invites.TrackInvite(ctx, in)
		if err != nil {
			b.Logger.Error("Failed to track invite", zap.String("code", in.Code), zap.Error(err))
			return
		}
		if created {
			b.Logger.Info("Tracking invite",
				zap.String("guild_id", guildID),
				zap.String("code", in.Code),
				zap.String("creator_id", in.CreatorID))
		}
	})
}

func newInviteFromEvent(e *discordgo.InviteCreate) models.NewInvite {
	in := models.NewInvite{Code: e.Code, ChannelID: e.ChannelID}
	if e.Inviter != nil {
		in.CreatorID = e.Inviter.ID
	}
	if e.MaxUses > 0 {
		maxUses := e.MaxUses
		in.MaxUses = &maxUses
	}
	if e.MaxAge > 0 {
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		expires := created.Add(time.Duration(e.MaxAge) * time.Second)
		in.ExpiresAt = &expires
	}
	return in
}

func (b *Bot) InviteDelete(s *discordgo.Session, e *discordgo.InviteDelete) {
	guildID, code := e.GuildID, e.Code
	b.submit(guildID, "invite_delete", func(ctx context.Context) {
		b.Tracker.ObserveDeleted(guildID, code)
	})
}

func (b *Bot) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	cmd, ok := b.Registry.Lookup(name)
	if !ok {
		b.Logger.Warn("Unknown command", zap.String("command", name))
		return
	}

	fctx := framework.NewSlashContext(b.ctx, s, i, b.ownerID)
	b.Dispatcher.Dispatch(b.ctx, cmd, fctx)
}
