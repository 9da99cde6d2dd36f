package commands

import (
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/database"
	"discord-invite-tracker/internal/services"
	"discord-invite-tracker/internal/utils"
)

var ListUsers = &discordgo.ApplicationCommand{
	Name:        "list-users",
	Description: "List users who joined using your invites",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "invite_code",
			Description: "Specific invite code to check (optional)",
		},
	},
}

func ListUsersCmd(ctx framework.Context, svc *services.InviteService) error {
	code, _ := ctx.StringOption("invite_code")
	code = strings.TrimSpace(code)

	users, err := svc.JoinedUsers(ctx.Context(), ctx.Actor().UserID, code)
	switch {
	case err == nil:
	case errors.Is(err, database.ErrNotFound):
		return ctx.ReplyEphemeral(utils.EmojiCross + " Invite code not found.")
	case errors.Is(err, services.ErrNotOwner):
		return ctx.ReplyEphemeral(utils.EmojiCross + " You can only view users for invites you created.")
	default:
		return err
	}

	if len(users) == 0 {
		if code != "" {
			return ctx.ReplyEphemeral("No users have joined using invite `" + code + "` yet.")
		}
		return ctx.ReplyEphemeral("No users have joined using your invites yet.")
	}
	return ctx.ReplyEmbed(utils.JoinedUsersEmbed(code, users), true)
}
