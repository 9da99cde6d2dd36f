package commands

import (
	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/permissions"
	"discord-invite-tracker/internal/services"
	"discord-invite-tracker/internal/utils"
)

var AdminInvites = &discordgo.ApplicationCommand{
	Name:        "admin-invites",
	Description: "View all created invites (Admin only)",
}

var adminInvitesPolicy = &permissions.Policy{GuildOnly: true, Level: permissions.LevelAdmin}

func AdminInvitesCmd(ctx framework.Context, svc *services.InviteService) error {
	summary, err := svc.AdminSummary(ctx.Context())
	if err != nil {
		return err
	}
	if summary.TotalInvites == 0 {
		return ctx.ReplyEphemeral("No invites have been created yet.")
	}
	return ctx.ReplyEmbed(utils.AdminSummaryEmbed(summary), true)
}
