// Package permissions decides whether an actor may run a command.
package permissions

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

type Level string

const (
	LevelNone      Level = ""
	LevelUser      Level = "user"
	LevelModerator Level = "moderator"
	LevelAdmin     Level = "admin"
	LevelOwner     Level = "owner"
)

// ModeratorPermissions are the capabilities any one of which grants the
// moderator level.
const ModeratorPermissions int64 = discordgo.PermissionAdministrator |
	discordgo.PermissionModerateMembers |
	discordgo.PermissionBanMembers |
	discordgo.PermissionKickMembers |
	discordgo.PermissionManageMessages

// User-facing denial reasons.
const (
	ReasonOwnerOnly     = "This command is restricted to the bot owner only."
	ReasonGuildOnly     = "This command can only be used in a server."
	ReasonUser          = "You are not authorized to use this command."
	ReasonChannel       = "This command cannot be used in this channel."
	ReasonMembership    = "Unable to verify your server membership."
	ReasonRole          = "You do not have the required role to use this command."
	ReasonLevelOwner    = "This command requires bot owner permissions."
	ReasonLevelAdmin    = "This command requires administrator permissions."
	ReasonLevelMod      = "This command requires moderator permissions."
	ReasonUnknownLevel  = "Unknown permission level."
	ReasonCustomFailed  = "Custom permission check failed."
	ReasonCustomErrored = "Permission check encountered an error."
)

// Actor is who invoked a command and where.
type Actor struct {
	UserID    string
	GuildID   string
	ChannelID string
	Roles     []string
	// Permissions is the member's computed permission bitset in the channel.
	Permissions int64
	IsOwner     bool
}

func (a Actor) InGuild() bool { return a.GuildID != "" }

func (a Actor) Has(perm int64) bool { return a.Permissions&perm != 0 }

// Policy restricts a command. The zero value allows everyone.
type Policy struct {
	OwnerOnly   bool
	GuildOnly   bool
	Users       []string
	Channels    []string
	Roles       []string
	Level       Level
	CustomCheck func(Actor) (bool, error)
}

type Result struct {
	Allowed bool
	Reason  string
	// Err is set when CustomCheck failed; it is for logs, never for the actor.
	Err error
}

var allow = Result{Allowed: true}

func deny(reason string) Result { return Result{Reason: reason} }

// Evaluate checks policy against actor in the order owner-only, guild-only,
// users, channels, roles, level, custom check and stops at the first
// failure. A nil policy allows.
func Evaluate(actor Actor, policy *Policy) Result {
	if policy == nil {
		return allow
	}

	if policy.OwnerOnly && !actor.IsOwner {
		return deny(ReasonOwnerOnly)
	}

	if policy.GuildOnly && !actor.InGuild() {
		return deny(ReasonGuildOnly)
	}

	if len(policy.Users) > 0 && !slices.Contains(policy.Users, actor.UserID) {
		return deny(ReasonUser)
	}

	if len(policy.Channels) > 0 && !slices.Contains(policy.Channels, actor.ChannelID) {
		return deny(ReasonChannel)
	}

	if len(policy.Roles) > 0 {
		if !actor.InGuild() {
			return deny(ReasonMembership)
		}
		if !slices.ContainsFunc(policy.Roles, func(r string) bool { return slices.Contains(actor.Roles, r) }) {
			return deny(ReasonRole)
		}
	}

	if res := checkLevel(actor, policy.Level); !res.Allowed {
		return res
	}

	if policy.CustomCheck != nil {
		return runCustom(actor, policy.CustomCheck)
	}

	return allow
}

// checkLevel grants elevated levels by capability bits. Outside a guild the
// actor holds no bits, so only the owner passes.
func checkLevel(actor Actor, level Level) Result {
	switch level {
	case LevelNone, LevelUser:
		return allow
	case LevelModerator:
		if actor.IsOwner || actor.Has(ModeratorPermissions) {
			return allow
		}
		return deny(ReasonLevelMod)
	case LevelAdmin:
		if actor.IsOwner || actor.Has(discordgo.PermissionAdministrator) {
			return allow
		}
		return deny(ReasonLevelAdmin)
	case LevelOwner:
		if actor.IsOwner {
			return allow
		}
		return deny(ReasonLevelOwner)
	default:
		return deny(ReasonUnknownLevel)
	}
}

func runCustom(actor Actor, check func(Actor) (bool, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Reason: ReasonCustomErrored, Err: &PanicError{Value: r}}
		}
	}()

	ok, err := check(actor)
	if err != nil {
		return Result{Reason: ReasonCustomErrored, Err: err}
	}
	if !ok {
		return deny(ReasonCustomFailed)
	}
	return allow
}

// PanicError carries a value recovered from a custom check.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "permission check panicked"
}

// ActorFromInteraction builds the actor of an interaction. Direct message
// interactions carry no member and produce an actor outside any guild.
func ActorFromInteraction(i *discordgo.InteractionCreate, ownerID string) Actor {
	a := Actor{ChannelID: i.ChannelID, GuildID: i.GuildID}
	switch {
	case i.Member != nil:
		if i.Member.User != nil {
			a.UserID = i.Member.User.ID
		}
		a.Roles = i.Member.Roles
		a.Permissions = i.Member.Permissions
	case i.User != nil:
		a.UserID = i.User.ID
	}
	a.IsOwner = ownerID != "" && a.UserID == ownerID
	return a
}
