package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/cache"
	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/metrics"
	"discord-invite-tracker/internal/utils"
)

var Ping = &discordgo.ApplicationCommand{
	Name:        "ping",
	Description: "Check bot latency",
}

type latency struct {
	took time.Duration
	err  error
}

func measure(ctx context.Context, p Pinger) latency {
	if p == nil {
		return latency{err: errDisabled}
	}
	start := time.Now()
	err := p.Ping(ctx)
	return latency{took: time.Since(start), err: err}
}

var errDisabled = errors.New("disabled")

func (l latency) String() string {
	switch {
	case l.err == errDisabled:
		return "`Disabled`"
	case l.err != nil:
		return "`" + utils.EmojiCross + " Error`"
	}
	return fmt.Sprintf("`%dms`", l.took.Milliseconds())
}

func PingCmd(ctx framework.Context, deps Deps) error {
	pingCtx, cancel := context.WithTimeout(ctx.Context(), 5*time.Second)
	defer cancel()

	// Measure Database and Redis Latency concurrently
	var dbLatency, redisLatency latency
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dbLatency = measure(pingCtx, deps.DB)
	}()
	go func() {
		defer wg.Done()
		redisLatency = measure(pingCtx, deps.Redis)
	}()
	wg.Wait()

	var apiLatency time.Duration
	if deps.Heartbeat != nil {
		apiLatency = deps.Heartbeat()
	}

	rt := metrics.Runtime()
	var cacheStats cache.Metrics
	if deps.Invites != nil {
		cacheStats = deps.Invites.Cache.GetMetrics()
	}

	embed := &discordgo.MessageEmbed{
		Title: utils.EmojiTick + " Pong!",
		Color: utils.ColorDark,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "API Latency", Value: fmt.Sprintf("`%dms`", apiLatency.Milliseconds()), Inline: true},
			{Name: "Database", Value: dbLatency.String(), Inline: true},
			{Name: "Redis", Value: redisLatency.String(), Inline: true},
			{Name: "Cache Hit Rate", Value: fmt.Sprintf("`%.0f%%`", cacheStats.L1HitRate*100), Inline: true},
			{Name: "Uptime", Value: "`" + formatUptime(rt.Uptime) + "`", Inline: true},
			{Name: "Memory", Value: fmt.Sprintf("`%d MB` / `%d` goroutines", rt.HeapAllocMB, rt.Goroutines), Inline: true},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if author := ctx.GetAuthor(); author != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    fmt.Sprintf("Requested by %s", author.Username),
			IconURL: author.AvatarURL(""),
		}
	}
	return ctx.ReplyEmbed(embed, false)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}
