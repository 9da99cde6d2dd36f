package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-invite-tracker/internal/models"
	"discord-invite-tracker/internal/pool"
)

const dateLayout = "2006-01-02"

func usesLabel(uses int, maxUses *int) string {
	if maxUses != nil && *maxUses > 0 {
		return fmt.Sprintf("%d/%d", uses, *maxUses)
	}
	return strconv.Itoa(uses)
}

func expiryLabel(expiresAt *time.Time) string {
	if expiresAt == nil {
		return "Never"
	}
	return expiresAt.Format(dateLayout)
}

func rankPrefix(index int) string {
	switch index {
	case 0:
		return "🥇"
	case 1:
		return "🥈"
	case 2:
		return "🥉"
	default:
		return fmt.Sprintf("**%d.**", index+1)
	}
}

func leaderboardLine(prefix string, e *models.LeaderboardEntry) string {
	return fmt.Sprintf("%s <@%s> - **%d** active, **%d** total uses (%d invites)",
		prefix, e.CreatorID, e.ActiveUses, e.TotalUses, e.TotalInvites)
}

func UserStatsEmbed(stats *models.UserStats, now time.Time) *discordgo.MessageEmbed {
	live := 0
	for _, inv := range stats.Invites {
		if !inv.Expired(now) {
			live++
		}
	}

	embed := &discordgo.MessageEmbed{
		Title: EmojiStats + " Your Invite Statistics",
		Color: ColorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Total Invites Created", Value: strconv.Itoa(stats.TotalInvites), Inline: true},
			{Name: "Active Uses", Value: strconv.Itoa(stats.ActiveUses), Inline: true},
			{Name: "Total Uses", Value: strconv.Itoa(stats.TotalUses), Inline: true},
			{Name: "Active Invites", Value: strconv.Itoa(live), Inline: true},
		},
		Timestamp: now.Format(time.RFC3339),
	}

	if len(stats.Invites) > 0 {
		list := pool.JoinLines(stats.Invites, MaxListedInvites, func(inv *models.Invite) string {
			line := fmt.Sprintf("`%s` - %s uses", inv.Code, usesLabel(inv.Uses, inv.MaxUses))
			if inv.ExpiresAt != nil {
				line += fmt.Sprintf(" (expires %s)", expiryLabel(inv.ExpiresAt))
			}
			return line
		})
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Your Invites", Value: list})
	}
	return embed
}

// LeaderboardEmbed renders a page of the leaderboard. When ownRank is
// positive the caller's own line is appended.
func LeaderboardEmbed(entries []*models.LeaderboardEntry, ownRank int, own *models.LeaderboardEntry) *discordgo.MessageEmbed {
	rank := 0
	rankings := pool.JoinLines(entries, 0, func(e *models.LeaderboardEntry) string {
		line := leaderboardLine(rankPrefix(rank), e)
		rank++
		return line
	})

	embed := &discordgo.MessageEmbed{
		Title:       EmojiTrophy + " Invite Leaderboard",
		Description: "Top inviters by total uses",
		Color:       ColorGold,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Rankings", Value: rankings},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if ownRank > 0 && own != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Your Position",
			Value: leaderboardLine(fmt.Sprintf("**%d.**", ownRank), own),
		})
	}
	return embed
}

func AdminSummaryEmbed(summary *models.AdminSummary) *discordgo.MessageEmbed {
	var creators strings.Builder
	for i, c := range summary.Creators {
		if i == MaxListedCreators {
			fmt.Fprintf(&creators, "\n... and %d more creators", len(summary.Creators)-i)
			break
		}
		fmt.Fprintf(&creators, "\n<@%s>: %d invites, %d/%d active uses", c.CreatorID, c.TotalInvites, c.ActiveUses, c.TotalUses)
	}
	creatorText := creators.String()
	if creatorText == "" {
		creatorText = "No data"
	}

	embed := &discordgo.MessageEmbed{
		Title:       EmojiStats + " All Created Invites",
		Description: fmt.Sprintf("Total invites: %d\nTotal uses: %d (%d active)", summary.TotalInvites, summary.TotalUses, summary.TotalActive),
		Color:       ColorCoral,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Creators Summary", Value: creatorText},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	var recent []string
	for i, inv := range summary.Invites {
		if i == MaxRecentInvites {
			break
		}
		recent = append(recent, fmt.Sprintf("`%s` by <@%s> - %d/%d uses", inv.Code, inv.CreatorID, inv.ActiveUses, inv.Uses))
	}
	if len(recent) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Recent Invites", Value: strings.Join(recent, "\n")})
	}
	return embed
}

func InviteDetailsEmbed(details *models.InviteDetails) *discordgo.MessageEmbed {
	inv := details.Invite

	var active, left []*models.UsageRecord
	for _, u := range details.Usages {
		if u.IsActive {
			active = append(active, u)
		} else {
			left = append(left, u)
		}
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s Invite Details: `%s`", EmojiInvite, inv.Code),
		Color: ColorTeal,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Creator", Value: "<@" + inv.CreatorID + ">", Inline: true},
			{Name: "Channel", Value: "<#" + inv.ChannelID + ">", Inline: true},
			{Name: "Created", Value: inv.CreatedAt.Format(dateLayout), Inline: true},
			{Name: "Uses", Value: usesLabel(inv.Uses, inv.MaxUses), Inline: true},
			{Name: "Expires", Value: expiryLabel(inv.ExpiresAt), Inline: true},
			{Name: "Active Users", Value: strconv.Itoa(len(active)), Inline: true},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if len(details.Usages) == 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Users", Value: "No users have joined with this invite yet."})
		return embed
	}

	if len(active) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("Active Users (%d)", len(active)),
			Value: usageLines(active, ""),
		})
	}
	if len(left) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("Users Who Left (%d)", len(left)),
			Value: usageLines(left, ""),
		})
	}
	if shown := min(len(active), MaxListedInvites) + min(len(left), MaxListedInvites); shown < len(details.Usages) {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Showing %d/%d users", shown, len(details.Usages))}
	}
	return embed
}

func usageLines(usages []*models.UsageRecord, code string) string {
	return pool.JoinLines(usages, MaxListedInvites, func(u *models.UsageRecord) string {
		return usageLine(u, code)
	})
}

func usageLine(u *models.UsageRecord, code string) string {
	line := "<@" + u.UserID + ">"
	if code != "" {
		line += " - Via `" + code + "`"
	}
	line += " - Joined " + u.JoinedAt.Format(dateLayout)
	if !u.IsActive {
		leftAt := "Unknown"
		if u.LeftAt != nil {
			leftAt = u.LeftAt.Format(dateLayout)
		}
		line += " (Left " + leftAt + ")"
	}
	return line
}

// JoinedUsersEmbed lists users who joined via one code, or via any of the
// caller's invites when code is empty.
func JoinedUsersEmbed(code string, users []*models.JoinedUser) *discordgo.MessageEmbed {
	title := EmojiUsers + " All Users from Your Invites"
	field := "Recent Users"
	if code != "" {
		title = fmt.Sprintf("%s Users who joined via `%s`", EmojiUsers, code)
		field = "Users"
	}

	list := pool.JoinLines(users, MaxListedUsers, func(ju *models.JoinedUser) string {
		via := ju.InviteCode
		if code != "" {
			via = ""
		}
		return usageLine(&ju.UsageRecord, via)
	})

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("**Total:** %d users", len(users)),
		Color:       ColorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{Name: field, Value: list},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// InviteCreatedEmbed confirms a tracked invite. existing marks a repeat of
// an invite the caller already owns.
func InviteCreatedEmbed(code, channelID string, maxUses, expiresInHours int, existing bool) *discordgo.MessageEmbed {
	maxLabel := "Unlimited"
	if maxUses > 0 {
		maxLabel = strconv.Itoa(maxUses)
	}
	expiry := "Never"
	if expiresInHours > 0 {
		expiry = fmt.Sprintf("In %d hours", expiresInHours)
	}

	title := EmojiTick + " Invite created successfully!"
	color := ColorGreen
	if existing {
		title = EmojiInfo + " You already have this invite"
		color = ColorYellow
	}

	return &discordgo.MessageEmbed{
		Title: title,
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Code", Value: "`" + code + "`", Inline: true},
			{Name: "Link", Value: "https://discord.gg/" + code, Inline: true},
			{Name: "Channel", Value: "<#" + channelID + ">", Inline: true},
			{Name: "Max Uses", Value: maxLabel, Inline: true},
			{Name: "Expires", Value: expiry, Inline: true},
		},
	}
}
