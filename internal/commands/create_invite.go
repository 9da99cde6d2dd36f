package commands

import (
	"errors"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/database"
	"discord-invite-tracker/internal/directory"
	"discord-invite-tracker/internal/permissions"
	"discord-invite-tracker/internal/services"
	"discord-invite-tracker/internal/utils"
)

var CreateInvite = &discordgo.ApplicationCommand{
	Name:        "create-invite",
	Description: "Create a new invite link for tracking",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "channel",
			Description:  "The channel to create the invite for",
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildVoice},
			Required:     true,
		},
		{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "max_uses",
			Description: "Maximum number of uses (optional)",
			MinValue:    floatPtr(1),
			MaxValue:    100,
		},
		{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "expires_in",
			Description: "Expiration time in hours (optional)",
			MinValue:    floatPtr(1),
			MaxValue:    168,
		},
	},
}

var createInvitePolicy = &permissions.Policy{GuildOnly: true}

func CreateInviteCmd(ctx framework.Context, svc *services.InviteService) error {
	channelID, ok := ctx.StringOption("channel")
	if !ok {
		return utils.SendError(ctx, "Please choose a channel.")
	}
	maxUses, _ := ctx.IntOption("max_uses")
	expiresIn, _ := ctx.IntOption("expires_in")
	if maxUses < 0 || maxUses > 100 || expiresIn < 0 || expiresIn > 168 {
		return utils.SendError(ctx, "Max uses must be 1-100 and expiry 1-168 hours.")
	}

	if err := ctx.Defer(true); err != nil {
		return err
	}

	res, err := svc.CreateInvite(ctx.Context(), services.CreateRequest{
		GuildID:        ctx.GetGuildID(),
		ChannelID:      channelID,
		CreatorID:      ctx.Actor().UserID,
		MaxUses:        int(maxUses),
		ExpiresInHours: int(expiresIn),
	})
	switch {
	case err == nil:
	case errors.Is(err, directory.ErrForbidden):
		return utils.SendError(ctx, "Failed to create invite. The bot may not have permission to create invites in this channel.")
	case errors.Is(err, database.ErrConflict):
		return utils.SendError(ctx, "There was a conflict with the invite code. Please try creating the invite again.")
	default:
		return err
	}

	return ctx.ReplyEmbed(utils.InviteCreatedEmbed(res.Invite.Code, channelID, int(maxUses), int(expiresIn), res.Existing), true)
}
