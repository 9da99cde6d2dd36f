// Package directory talks to the guild's invite list on Discord.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/tidwall/gjson"

	"discord-invite-tracker/internal/metrics"
)

var (
	// ErrUnavailable covers transport failures, timeouts, 5xx and rate limits.
	ErrUnavailable = errors.New("guild directory unavailable")
	// ErrUnknownInvite is Discord's 10006 Unknown Invite.
	ErrUnknownInvite = errors.New("unknown invite")
	// ErrForbidden is Discord's 50013 Missing Permissions.
	ErrForbidden = errors.New("missing permissions")
)

// Discord JSON error codes.
const (
	codeUnknownInvite      = 10006
	codeMissingAccess      = 50001
	codeMissingPermissions = 50013
)

// InviteCount is one row of a guild's live invite list. The list order is
// the order Discord returned.
type InviteCount struct {
	Code      string
	Uses      int
	InviterID string
	ChannelID string
	Bot       bool
}

type CreateOptions struct {
	// MaxUses of 0 means unlimited.
	MaxUses int
	// MaxAgeSeconds of 0 means never expires.
	MaxAgeSeconds int
	Unique        bool
	Reason        string
}

type CreatedInvite struct {
	Code      string
	ChannelID string
	MaxUses   int
	MaxAge    int
}

type Directory interface {
	ListInvites(ctx context.Context, guildID string) ([]InviteCount, error)
	CreateInvite(ctx context.Context, guildID, channelID string, opts CreateOptions) (*CreatedInvite, error)
	DeleteInvite(ctx context.Context, code, reason string) error
}

// Discord is the Directory backed by the REST API of a gateway session.
type Discord struct {
	session *discordgo.Session
}

func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{session: s}
}

func (d *Discord) ListInvites(ctx context.Context, guildID string) ([]InviteCount, error) {
	invites, err := d.session.GuildInvites(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("list_invites", err)
	}

	out := make([]InviteCount, 0, len(invites))
	for _, inv := range invites {
		if inv == nil {
			continue
		}
		ic := InviteCount{Code: inv.Code, Uses: inv.Uses}
		if inv.Inviter != nil {
			ic.InviterID = inv.Inviter.ID
			ic.Bot = inv.Inviter.Bot
		}
		if inv.Channel != nil {
			ic.ChannelID = inv.Channel.ID
		}
		out = append(out, ic)
	}
	return out, nil
}

// CreateInvite creates an invite on channelID. guildID is only used for
// error context; Discord derives the guild from the channel.
func (d *Discord) CreateInvite(ctx context.Context, guildID, channelID string, opts CreateOptions) (*CreatedInvite, error) {
	reqOpts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if opts.Reason != "" {
		reqOpts = append(reqOpts, discordgo.WithAuditLogReason(opts.Reason))
	}

	inv, err := d.session.ChannelInviteCreate(channelID, discordgo.Invite{
		MaxAge:  opts.MaxAgeSeconds,
		MaxUses: opts.MaxUses,
		Unique:  opts.Unique,
	}, reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("guild %s: %w", guildID, classify("create_invite", err))
	}

	return &CreatedInvite{
		Code:      inv.Code,
		ChannelID: channelID,
		MaxUses:   inv.MaxUses,
		MaxAge:    inv.MaxAge,
	}, nil
}

func (d *Discord) DeleteInvite(ctx context.Context, code, reason string) error {
	reqOpts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		reqOpts = append(reqOpts, discordgo.WithAuditLogReason(reason))
	}
	if _, err := d.session.InviteDelete(code, reqOpts...); err != nil {
		return classify("delete_invite", err)
	}
	return nil
}

// classify maps a discordgo error onto the package sentinels. The original
// error stays in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	sentinel := sentinelFor(err)
	if errors.Is(sentinel, ErrUnavailable) {
		metrics.RecordDirectoryFailure(op)
	}
	if sentinel == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}

func sentinelFor(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrUnavailable
	}

	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		// Transport or decode failure, no HTTP answer to inspect.
		return ErrUnavailable
	}

	status := 0
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return ErrUnavailable
	}

	switch gjson.GetBytes(restErr.ResponseBody, "code").Int() {
	case codeUnknownInvite:
		return ErrUnknownInvite
	case codeMissingPermissions, codeMissingAccess:
		return ErrForbidden
	}
	if status == http.StatusForbidden {
		return ErrForbidden
	}
	return nil
}
