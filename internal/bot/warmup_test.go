package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-invite-tracker/internal/config"
	"discord-invite-tracker/internal/database"
	"discord-invite-tracker/internal/directory"
	"discord-invite-tracker/internal/models"
	"discord-invite-tracker/internal/queue"
	"discord-invite-tracker/internal/services"
	"discord-invite-tracker/internal/tracker"
)

// slowDirectory answers its first invite listing with the counts read at
// call time but only after release is closed.
type slowDirectory struct {
	*directory.Memory
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (d *slowDirectory) ListInvites(ctx context.Context, guildID string) ([]directory.InviteCount, error) {
	live, err := d.Memory.ListInvites(ctx, guildID)
	first := false
	d.once.Do(func() { first = true })
	if first {
		close(d.read)
		<-d.release
	}
	return live, err
}

type botFixture struct {
	bot *Bot
	db  *database.Database
	dir *directory.Memory
}

func newBotFixture(t *testing.T, lister tracker.InviteLister, dir *directory.Memory) *botFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "invites.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := discordgo.New("Bot test")
	if err != nil {
		t.Fatal(err)
	}

	tr := tracker.New(lister, db, nil, tracker.Config{})
	router := queue.NewRouter(queue.Config{Workers: 2}, nil)
	router.Start(ctx)
	t.Cleanup(router.Stop)

	return &botFixture{
		bot: &Bot{
			Session: s,
			DB:      db,
			Tracker: tr,
			Invites: services.NewInviteService(db, dir, tr, nil, nil),
			Router:  router,
			Logger:  zap.NewNop(),
			cfg:     &config.Config{Tracker: config.TrackerConfig{WarmupConcurrency: 2}},
			ctx:     ctx,
		},
		db:  db,
		dir: dir,
	}
}

func (f *botFixture) track(t *testing.T, creator, code string) {
	t.Helper()
	in := models.NewInvite{CreatorID: creator, Code: code, ChannelID: "c1"}
	if _, err := f.db.CreateInvite(context.Background(), in); err != nil {
		t.Fatalf("track %s: %v", code, err)
	}
}

func (f *botFixture) join(userID string) {
	f.bot.GuildMemberAdd(f.bot.Session, &discordgo.GuildMemberAdd{
		Member: &discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: userID}},
	})
}

// settle waits until every event already queued for g1 has run.
func (f *botFixture) settle(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	err := f.bot.Router.Submit(context.Background(), queue.Event{GuildID: "g1", Kind: "settle", Handle: func(context.Context) {
		close(done)
	}})
	if err != nil {
		t.Fatal(err)
	}
	<-done
}

func TestWarmupOrderedWithJoins(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(b *Bot)
	}{
		{
			name: "ready",
			trigger: func(b *Bot) {
				b.Ready(b.Session, &discordgo.Ready{
					User:   &discordgo.User{ID: "bot", Username: "tracker"},
					Guilds: []*discordgo.Guild{{ID: "g1"}},
				})
			},
		},
		{
			name: "guild create",
			trigger: func(b *Bot) {
				b.GuildCreate(b.Session, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g1"}})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := directory.NewMemory()
			dir.Set("g1", directory.InviteCount{Code: "A", Uses: 5}, directory.InviteCount{Code: "B", Uses: 0})
			slow := &slowDirectory{Memory: dir, read: make(chan struct{}), release: make(chan struct{})}
			f := newBotFixture(t, slow, dir)
			f.track(t, "alice", "A")
			f.track(t, "bob", "B")

			tt.trigger(f.bot)
			<-slow.read

			// The warm-up already read {A:5 B:0} when these joins arrive.
			dir.Use("g1", "A")
			f.join("u1")
			close(slow.release)
			f.settle(t)
			dir.Use("g1", "B")
			f.join("u2")
			f.bot.Router.Stop()

			if snap := f.bot.Tracker.Snapshot("g1"); snap["A"] != 6 || snap["B"] != 1 {
				t.Errorf("expected snapshot {A:6 B:1}, got %v", snap)
			}
			for _, creator := range []string{"alice", "bob"} {
				stats, err := f.db.GetUserStats(context.Background(), creator)
				if err != nil {
					t.Fatal(err)
				}
				if stats.ActiveUses != 1 {
					t.Errorf("expected one active use for %s, got %d", creator, stats.ActiveUses)
				}
			}
		})
	}
}

func TestWarmUpReportsFailures(t *testing.T) {
	dir := directory.NewMemory()
	dir.Set("g1", directory.InviteCount{Code: "A", Uses: 1})
	dir.Set("g2", directory.InviteCount{Code: "B", Uses: 1})
	dir.FailNext("list", directory.ErrForbidden)
	f := newBotFixture(t, dir, dir)
	f.bot.cfg.Tracker.WarmupConcurrency = 1

	err := f.bot.warmUp(context.Background(), []string{"g1", "g2"})
	if !errors.Is(err, directory.ErrForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}

	synced := 0
	for _, g := range []string{"g1", "g2"} {
		if f.bot.Tracker.State(g) == tracker.Synced {
			synced++
		}
	}
	if synced != 1 {
		t.Errorf("expected one guild synced, got %d", synced)
	}
}

func TestWarmUpAfterStop(t *testing.T) {
	dir := directory.NewMemory()
	f := newBotFixture(t, dir, dir)
	f.bot.Router.Stop()

	if err := f.bot.warmUp(context.Background(), []string{"g1"}); !errors.Is(err, queue.ErrStopped) {
		t.Errorf("expected stopped router error, got %v", err)
	}
}
