package commands

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
	"discord-invite-tracker/internal/permissions"
	"discord-invite-tracker/internal/services"
)

// Command is one slash command the bot serves.
type Command interface {
	Name() string
	Definition() *discordgo.ApplicationCommand
	// Permissions returns nil when anyone may run the command.
	Permissions() *permissions.Policy
	Execute(ctx framework.Context) error
}

// Pinger is anything whose round trip ping can tell about.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators commands are built with.
type Deps struct {
	Invites *services.InviteService
	DB      Pinger
	// Redis may be nil when the shared cache is disabled.
	Redis Pinger
	// Heartbeat reports the gateway heartbeat latency.
	Heartbeat func() time.Duration
}

type command struct {
	def    *discordgo.ApplicationCommand
	policy *permissions.Policy
	run    func(ctx framework.Context) error
}

func (c *command) Name() string                              { return c.def.Name }
func (c *command) Definition() *discordgo.ApplicationCommand { return c.def }
func (c *command) Permissions() *permissions.Policy          { return c.policy }
func (c *command) Execute(ctx framework.Context) error       { return c.run(ctx) }

// Helper for float pointers
func floatPtr(v float64) *float64 {
	return &v
}
