package models

import "time"

// Invite is a tracked join link. Code is unique; ID is assigned by storage
// and increases with insertion order.
type Invite struct {
	ID        int64      `json:"id"`
	CreatorID string     `json:"creator_id"`
	Code      string     `json:"code"`
	Uses      int        `json:"uses"`
	MaxUses   *int       `json:"max_uses,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ChannelID string     `json:"channel_id"`
}

// Expired reports whether the invite had an expiry in the past at t.
func (i *Invite) Expired(t time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(t)
}

// NewInvite is the input to Database.CreateInvite.
type NewInvite struct {
	CreatorID string
	Code      string
	MaxUses   *int
	ExpiresAt *time.Time
	ChannelID string
}

// UsageRecord is one (invite, user) join/leave lifecycle.
type UsageRecord struct {
	ID       int64      `json:"id"`
	InviteID int64      `json:"invite_id"`
	UserID   string     `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
	IsActive bool       `json:"is_active"`
}

type UserStats struct {
	UserID       string    `json:"user_id"`
	TotalInvites int       `json:"total_invites"`
	TotalUses    int       `json:"total_uses"`
	ActiveUses   int       `json:"active_uses"`
	Invites      []*Invite `json:"invites"`
}

type LeaderboardEntry struct {
	CreatorID    string `json:"creator_id"`
	TotalInvites int    `json:"total_invites"`
	TotalUses    int    `json:"total_uses"`
	ActiveUses   int    `json:"active_uses"`
}

type AdminInvite struct {
	Invite
	ActiveUses int `json:"active_uses"`
}

type CreatorSummary struct {
	CreatorID    string `json:"creator_id"`
	TotalInvites int    `json:"total_invites"`
	TotalUses    int    `json:"total_uses"`
	ActiveUses   int    `json:"active_uses"`
}

// AdminSummary is the guild-wide view used by the admin command.
// Invites are newest first; Creators keep first-seen order of that list.
type AdminSummary struct {
	Invites      []*AdminInvite    `json:"invites"`
	Creators     []*CreatorSummary `json:"creators"`
	TotalInvites int               `json:"total_invites"`
	TotalUses    int               `json:"total_uses"`
	TotalActive  int               `json:"total_active"`
}

type InviteDetails struct {
	Invite *Invite        `json:"invite"`
	Usages []*UsageRecord `json:"usages"`
}

// JoinedUser is a usage record annotated with the code it came through.
type JoinedUser struct {
	UsageRecord
	InviteCode string `json:"invite_code"`
}

// Drift is one invite whose cached uses disagree with its active records.
type Drift struct {
	InviteID   int64  `json:"invite_id"`
	Code       string `json:"code"`
	Uses       int    `json:"uses"`
	ActiveUses int    `json:"active_uses"`
}

// Helper to get current time in milliseconds
func Now() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// ToMillis converts t to unix milliseconds in UTC.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis is the inverse of ToMillis.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
