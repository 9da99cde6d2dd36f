package permissions

import (
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func member(perms int64, roles ...string) Actor {
	return Actor{UserID: "u1", GuildID: "g1", ChannelID: "c1", Roles: roles, Permissions: perms}
}

func TestNilPolicyAllows(t *testing.T) {
	if res := Evaluate(Actor{}, nil); !res.Allowed {
		t.Errorf("expected nil policy to allow, got %+v", res)
	}
}

func TestModeratorLevel(t *testing.T) {
	policy := &Policy{Level: LevelModerator}

	res := Evaluate(member(discordgo.PermissionSendMessages), policy)
	if res.Allowed || res.Reason != ReasonLevelMod {
		t.Errorf("expected denial without moderator capabilities, got %+v", res)
	}

	res = Evaluate(member(discordgo.PermissionBanMembers), policy)
	if !res.Allowed {
		t.Errorf("expected ban-members to pass moderator level, got %+v", res)
	}

	owner := member(0)
	owner.IsOwner = true
	if res := Evaluate(owner, policy); !res.Allowed {
		t.Errorf("expected owner to pass moderator level, got %+v", res)
	}
}

func TestAdminAndOwnerLevels(t *testing.T) {
	if res := Evaluate(member(discordgo.PermissionBanMembers), &Policy{Level: LevelAdmin}); res.Allowed {
		t.Error("expected moderator capability to fail admin level")
	}
	if res := Evaluate(member(discordgo.PermissionAdministrator), &Policy{Level: LevelAdmin}); !res.Allowed {
		t.Error("expected administrator to pass admin level")
	}
	if res := Evaluate(member(discordgo.PermissionAdministrator), &Policy{Level: LevelOwner}); res.Allowed {
		t.Error("expected administrator to fail owner level")
	}
	if res := Evaluate(member(0), &Policy{Level: Level("superuser")}); res.Reason != ReasonUnknownLevel {
		t.Errorf("expected unknown level denial, got %+v", res)
	}
	if res := Evaluate(member(0), &Policy{Level: LevelUser}); !res.Allowed {
		t.Error("expected user level to pass")
	}
}

func TestLevelOutsideGuild(t *testing.T) {
	dm := Actor{UserID: "u1", ChannelID: "dm"}
	if res := Evaluate(dm, &Policy{Level: LevelModerator}); res.Allowed {
		t.Error("expected direct message actor to fail moderator level")
	}
	dm.IsOwner = true
	if res := Evaluate(dm, &Policy{Level: LevelAdmin}); !res.Allowed {
		t.Error("expected owner to pass admin level in direct messages")
	}
}

func TestEvaluationOrder(t *testing.T) {
	// Fails guild-only, users and level at once; guild-only is reported.
	dm := Actor{UserID: "stranger"}
	res := Evaluate(dm, &Policy{GuildOnly: true, Users: []string{"u1"}, Level: LevelAdmin})
	if res.Reason != ReasonGuildOnly {
		t.Errorf("expected guild-only reason first, got %q", res.Reason)
	}

	res = Evaluate(member(0), &Policy{OwnerOnly: true, GuildOnly: true})
	if res.Reason != ReasonOwnerOnly {
		t.Errorf("expected owner-only reason first, got %q", res.Reason)
	}

	called := false
	res = Evaluate(member(0), &Policy{Channels: []string{"other"}, CustomCheck: func(Actor) (bool, error) {
		called = true
		return true, nil
	}})
	if res.Reason != ReasonChannel || called {
		t.Errorf("expected channel denial before custom check, got %+v called=%v", res, called)
	}
}

func TestUsersChannelsRoles(t *testing.T) {
	a := member(0, "r1", "r2")

	if res := Evaluate(a, &Policy{Users: []string{"u1"}}); !res.Allowed {
		t.Error("expected listed user to pass")
	}
	if res := Evaluate(a, &Policy{Users: []string{"u9"}}); res.Reason != ReasonUser {
		t.Errorf("expected user denial, got %+v", res)
	}
	if res := Evaluate(a, &Policy{Channels: []string{"c1"}}); !res.Allowed {
		t.Error("expected listed channel to pass")
	}
	if res := Evaluate(a, &Policy{Roles: []string{"r9", "r2"}}); !res.Allowed {
		t.Error("expected any matching role to pass")
	}
	if res := Evaluate(a, &Policy{Roles: []string{"r9"}}); res.Reason != ReasonRole {
		t.Errorf("expected role denial, got %+v", res)
	}
	if res := Evaluate(Actor{UserID: "u1"}, &Policy{Roles: []string{"r1"}}); res.Reason != ReasonMembership {
		t.Errorf("expected membership denial outside a guild, got %+v", res)
	}
}

func TestCustomCheck(t *testing.T) {
	a := member(0)

	res := Evaluate(a, &Policy{CustomCheck: func(Actor) (bool, error) { return false, nil }})
	if res.Reason != ReasonCustomFailed {
		t.Errorf("expected custom failure reason, got %+v", res)
	}

	boom := errors.New("lookup failed")
	res = Evaluate(a, &Policy{CustomCheck: func(Actor) (bool, error) { return true, boom }})
	if res.Allowed || res.Reason != ReasonCustomErrored || !errors.Is(res.Err, boom) {
		t.Errorf("expected generic denial carrying the error, got %+v", res)
	}

	res = Evaluate(a, &Policy{CustomCheck: func(Actor) (bool, error) { panic("nil map") }})
	var pe *PanicError
	if res.Allowed || res.Reason != ReasonCustomErrored || !errors.As(res.Err, &pe) {
		t.Errorf("expected panic converted to denial, got %+v", res)
	}

	res = Evaluate(a, &Policy{CustomCheck: func(x Actor) (bool, error) { return x.UserID == "u1", nil }})
	if !res.Allowed {
		t.Error("expected passing custom check to allow")
	}
}

func TestActorFromInteraction(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		GuildID:   "g1",
		ChannelID: "c1",
		Member: &discordgo.Member{
			User:        &discordgo.User{ID: "owner"},
			Roles:       []string{"r1"},
			Permissions: discordgo.PermissionKickMembers,
		},
	}}

	a := ActorFromInteraction(i, "owner")
	if a.UserID != "owner" || !a.IsOwner || !a.InGuild() || !a.Has(discordgo.PermissionKickMembers) {
		t.Errorf("unexpected actor %+v", a)
	}

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ChannelID: "dm",
		User:      &discordgo.User{ID: "u2"},
	}}
	a = ActorFromInteraction(dm, "owner")
	if a.UserID != "u2" || a.IsOwner || a.InGuild() {
		t.Errorf("unexpected direct message actor %+v", a)
	}
}
