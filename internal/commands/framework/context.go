package framework

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/permissions"
)

// Context is one command invocation as seen by a command. The first reply
// answers the interaction; later replies are sent as follow-ups.
type Context interface {
	Context() context.Context
	GetGuildID() string
	GetChannelID() string
	GetAuthor() *discordgo.User
	Actor() permissions.Actor
	StringOption(name string) (string, bool)
	IntOption(name string) (int64, bool)
	Defer(ephemeral bool) error
	Reply(content string) error
	ReplyEphemeral(content string) error
	ReplyEmbed(embed *discordgo.MessageEmbed, ephemeral bool) error
	Responded() bool
}

// SlashContext implements Context for Slash Commands
type SlashContext struct {
	ctx         context.Context
	Session     *discordgo.Session
	Interaction *discordgo.InteractionCreate
	actor       permissions.Actor
	options     map[string]*discordgo.ApplicationCommandInteractionDataOption

	mu        sync.Mutex
	responded bool
}

func NewSlashContext(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, ownerID string) *SlashContext {
	c := &SlashContext{
		ctx:         ctx,
		Session:     s,
		Interaction: i,
		actor:       permissions.ActorFromInteraction(i, ownerID),
		options:     make(map[string]*discordgo.ApplicationCommandInteractionDataOption),
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		for _, opt := range i.ApplicationCommandData().Options {
			c.options[opt.Name] = opt
		}
	}
	return c
}

func (c *SlashContext) Context() context.Context {
	return c.ctx
}

func (c *SlashContext) GetGuildID() string {
	return c.Interaction.GuildID
}

func (c *SlashContext) GetChannelID() string {
	return c.Interaction.ChannelID
}

func (c *SlashContext) GetAuthor() *discordgo.User {
	if c.Interaction.Member != nil {
		return c.Interaction.Member.User
	}
	return c.Interaction.User
}

func (c *SlashContext) Actor() permissions.Actor {
	return c.actor
}

// StringOption returns string, user, channel and role options by name.
func (c *SlashContext) StringOption(name string) (string, bool) {
	opt, ok := c.options[name]
	if !ok {
		return "", false
	}
	switch opt.Type {
	case discordgo.ApplicationCommandOptionString,
		discordgo.ApplicationCommandOptionChannel,
		discordgo.ApplicationCommandOptionUser,
		discordgo.ApplicationCommandOptionRole:
		s, ok := opt.Value.(string)
		return s, ok
	}
	return "", false
}

func (c *SlashContext) IntOption(name string) (int64, bool) {
	opt, ok := c.options[name]
	if !ok || opt.Type != discordgo.ApplicationCommandOptionInteger {
		return 0, false
	}
	// Interaction JSON decodes numbers as float64.
	f, ok := opt.Value.(float64)
	return int64(f), ok
}

func (c *SlashContext) Responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

// claim marks the interaction answered and reports whether this call was
// the first.
func (c *SlashContext) claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	first := !c.responded
	c.responded = true
	return first
}

func (c *SlashContext) Defer(ephemeral bool) error {
	if !c.claim() {
		return nil
	}
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return c.Session.InteractionRespond(c.Interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(c.ctx))
}

func (c *SlashContext) Reply(content string) error {
	return c.send(content, nil, false)
}

func (c *SlashContext) ReplyEphemeral(content string) error {
	return c.send(content, nil, true)
}

func (c *SlashContext) ReplyEmbed(embed *discordgo.MessageEmbed, ephemeral bool) error {
	return c.send("", []*discordgo.MessageEmbed{embed}, ephemeral)
}

func (c *SlashContext) send(content string, embeds []*discordgo.MessageEmbed, ephemeral bool) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	if c.claim() {
		return c.Session.InteractionRespond(c.Interaction.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Embeds:  embeds,
				Flags:   flags,
			},
		}, discordgo.WithContext(c.ctx))
	}

	_, err := c.Session.FollowupMessageCreate(c.Interaction.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Embeds:  embeds,
		Flags:   flags,
	}, discordgo.WithContext(c.ctx))
	return err
}
