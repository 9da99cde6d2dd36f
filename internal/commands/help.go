package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/permissions"
	"discord-invite-tracker/internal/utils"
)

var Help = &discordgo.ApplicationCommand{
	Name:        "help",
	Description: "Show available commands",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "command",
			Description: "Specific command to get help for",
			Required:    false,
		},
	},
}

func HelpCmd(ctx framework.Context, registry *Registry) error {
	if name, ok := ctx.StringOption("command"); ok && name != "" {
		cmd, found := registry.Lookup(strings.TrimPrefix(strings.TrimSpace(name), "/"))
		if !found {
			return utils.SendError(ctx, fmt.Sprintf("Unknown command `%s`.", name))
		}
		return ctx.ReplyEmbed(commandHelp(cmd), true)
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Bot Commands",
		Description: "Use `/help command:<name>` for details on one command.",
		Color:       utils.ColorDark,
	}
	for _, cmd := range registry.Commands() {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "/" + cmd.Name() + restriction(cmd),
			Value: cmd.Definition().Description,
		})
	}
	return ctx.ReplyEmbed(embed, true)
}

func restriction(cmd Command) string {
	p := cmd.Permissions()
	switch {
	case p == nil:
		return ""
	case p.OwnerOnly:
		return " (Owner)"
	case p.Level != permissions.LevelNone && p.Level != permissions.LevelUser:
		return fmt.Sprintf(" (%s)", strings.ToUpper(string(p.Level[:1]))+string(p.Level[1:]))
	}
	return ""
}

func commandHelp(cmd Command) *discordgo.MessageEmbed {
	def := cmd.Definition()
	embed := &discordgo.MessageEmbed{
		Title:       "/" + def.Name + restriction(cmd),
		Description: def.Description,
		Color:       utils.ColorDark,
	}
	for _, opt := range def.Options {
		value := opt.Description
		if opt.Required {
			value += " (required)"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: opt.Name, Value: value, Inline: true})
	}
	return embed
}
