package utils

import (
	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
)

// GenericFailure is the only text an actor sees when a command fails.
const GenericFailure = EmojiCross + " Something went wrong while running this command. Please try again."

func ErrorEmbed(message string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       EmojiCross + " Error",
		Description: message,
		Color:       ColorRed,
	}
}

// SendError sends an ephemeral error message
func SendError(ctx framework.Context, message string) error {
	return ctx.ReplyEmbed(ErrorEmbed(message), true)
}
