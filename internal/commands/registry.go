package commands

import (
	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/commands/framework"
)

// Registry is the fixed table of commands, in help order.
type Registry struct {
	commands []Command
	byName   map[string]Command
}

func NewRegistry(cmds ...Command) *Registry {
	r := &Registry{byName: make(map[string]Command, len(cmds))}
	for _, cmd := range cmds {
		r.Add(cmd)
	}
	return r
}

// Add registers cmd, replacing a command of the same name.
func (r *Registry) Add(cmd Command) {
	r.byName[cmd.Name()] = cmd
	for i, c := range r.commands {
		if c.Name() == cmd.Name() {
			r.commands[i] = cmd
			return
		}
	}
	r.commands = append(r.commands, cmd)
}

func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.byName[name]
	return cmd, ok
}

func (r *Registry) Commands() []Command {
	return r.commands
}

// Definitions returns the application commands to register with Discord.
func (r *Registry) Definitions() []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, 0, len(r.commands))
	for _, cmd := range r.commands {
		defs = append(defs, cmd.Definition())
	}
	return defs
}

// All builds the bot's command table.
func All(deps Deps) *Registry {
	svc := deps.Invites
	r := NewRegistry(
		&command{def: CreateInvite, policy: createInvitePolicy, run: func(ctx framework.Context) error {
			return CreateInviteCmd(ctx, svc)
		}},
		&command{def: CheckInvites, run: func(ctx framework.Context) error {
			return CheckInvitesCmd(ctx, svc)
		}},
		&command{def: Leaderboard, run: func(ctx framework.Context) error {
			return LeaderboardCmd(ctx, svc)
		}},
		&command{def: AdminInvites, policy: adminInvitesPolicy, run: func(ctx framework.Context) error {
			return AdminInvitesCmd(ctx, svc)
		}},
		&command{def: ViewInvite, run: func(ctx framework.Context) error {
			return ViewInviteCmd(ctx, svc)
		}},
		&command{def: ListUsers, run: func(ctx framework.Context) error {
			return ListUsersCmd(ctx, svc)
		}},
		&command{def: Ping, run: func(ctx framework.Context) error {
			return PingCmd(ctx, deps)
		}},
	)
	r.Add(&command{def: Help, run: func(ctx framework.Context) error {
		return HelpCmd(ctx, r)
	}})
	return r
}
