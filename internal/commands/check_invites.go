package commands

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/services"
	"discord-invite-tracker/internal/utils"
)

var CheckInvites = &discordgo.ApplicationCommand{
	Name:        "check-invites",
	Description: "Check your invite statistics",
}

func CheckInvitesCmd(ctx framework.Context, svc *services.InviteService) error {
	stats, err := svc.Stats(ctx.Context(), ctx.Actor().UserID)
	if err != nil {
		return err
	}
	if len(stats.Invites) == 0 {
		return ctx.ReplyEphemeral("You haven't created any invites yet. Use `/create-invite` to create your first invite!")
	}
	return ctx.ReplyEmbed(utils.UserStatsEmbed(stats, time.Now()), true)
}
