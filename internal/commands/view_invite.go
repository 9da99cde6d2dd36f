package commands

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/services"
	"discord-invite-tracker/internal/utils"
)

var ViewInvite = &discordgo.ApplicationCommand{
	Name:        "view-invite",
	Description: "View detailed information about a specific invite",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "code",
			Description: "The invite code to view",
			Required:    true,
		},
	},
}

func ViewInviteCmd(ctx framework.Context, svc *services.InviteService) error {
	code, _ := ctx.StringOption("code")
	code = strings.TrimSpace(code)
	if code == "" {
		return utils.SendError(ctx, "Please provide an invite code.")
	}

	details, err := svc.InviteDetails(ctx.Context(), code)
	if err != nil {
		return err
	}
	if details == nil {
		return ctx.ReplyEphemeral(utils.EmojiCross + " Invite code not found.")
	}

	actor := ctx.Actor()
	if details.Invite.CreatorID != actor.UserID && !actor.Has(discordgo.PermissionAdministrator) {
		return ctx.ReplyEphemeral(utils.EmojiCross + " You can only view invites you created.")
	}
	return ctx.ReplyEmbed(utils.InviteDetailsEmbed(details), true)
}
