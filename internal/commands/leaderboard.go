package commands

import (
	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/services"
	"discord-invite-tracker/internal/utils"
)

const defaultLeaderboardSize = 10

var Leaderboard = &discordgo.ApplicationCommand{
	Name:        "leaderboard",
	Description: "Show the invite leaderboard",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "limit",
			Description: "Number of users to show (default: 10)",
			MinValue:    floatPtr(1),
			MaxValue:    25,
		},
	},
}

func LeaderboardCmd(ctx framework.Context, svc *services.InviteService) error {
	limit := defaultLeaderboardSize
	if v, ok := ctx.IntOption("limit"); ok && v >= 1 && v <= 25 {
		limit = int(v)
	}

	page, rank, own, err := svc.Leaderboard(ctx.Context(), limit, ctx.Actor().UserID)
	if err != nil {
		return err
	}
	if len(page) == 0 {
		return ctx.ReplyEphemeral("No invite data available yet.")
	}

	// The caller's line is only added when the page does not show it.
	if rank <= len(page) {
		rank = 0
	}
	return ctx.ReplyEmbed(utils.LeaderboardEmbed(page, rank, own), false)
}
