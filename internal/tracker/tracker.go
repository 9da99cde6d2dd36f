// Package tracker attributes member joins to invites by diffing invite use
// counters between observations.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"discord-invite-tracker/internal/directory"
	"discord-invite-tracker/internal/metrics"
	"discord-invite-tracker/internal/models"
)

// InviteLister is the part of the guild directory the tracker reads.
type InviteLister interface {
	ListInvites(ctx context.Context, guildID string) ([]directory.InviteCount, error)
}

// UsageRecorder is the part of the ledger the tracker writes through.
type UsageRecorder interface {
	GetInviteByCode(ctx context.Context, code string) (*models.Invite, error)
	RecordUsage(ctx context.Context, inviteID int64, userID string) (int64, error)
}

type State int

const (
	Unsynced State = iota
	Synced
)

func (s State) String() string {
	if s == Synced {
		return "synced"
	}
	return "unsynced"
}

// Attribution is the result of one join.
type Attribution struct {
	GuildID string
	UserID  string
	// Code is the invite whose counter moved, empty when none did.
	Code    string
	Invite  *models.Invite
	UsageID int64
	Outcome string
	Reason  string
}

// Attributed reports whether the join was stored against an invite.
func (a Attribution) Attributed() bool {
	return a.Outcome == metrics.OutcomeAttributed
}

type Config struct {
	FetchTimeout time.Duration
}

// Tracker keeps one snapshot of invite use counts per guild. Snapshot access
// is guarded by mu; the directory and ledger are never called with mu held.
//
// Every fetch takes a sequence number when it starts. A snapshot is only
// replaced by a fetch that started after the one it came from, so a slow
// fetch can never roll a guild back to counts older than what is held.
type Tracker struct {
	dir    InviteLister
	ledger UsageRecorder
	logger *zap.Logger
	cfg    Config

	mu        sync.RWMutex
	snapshots map[string]map[string]int
	seq       uint64
	// stored is the sequence of the fetch each guild's snapshot came from.
	stored map[string]uint64
}

func New(dir InviteLister, ledger UsageRecorder, logger *zap.Logger, cfg Config) *Tracker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		dir:       dir,
		ledger:    ledger,
		logger:    logger,
		cfg:       cfg,
		snapshots: make(map[string]map[string]int),
		stored:    make(map[string]uint64),
	}
}

func (t *Tracker) nextSeq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return t.seq
}

func (t *Tracker) fetch(ctx context.Context, guildID string) ([]directory.InviteCount, uint64, error) {
	seq := t.nextSeq()
	ctx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	defer cancel()
	live, err := t.dir.ListInvites(ctx, guildID)
	return live, seq, err
}

// Sync fetches the guild's invites and replaces its snapshot. On failure
// the previous snapshot, if any, is kept.
func (t *Tracker) Sync(ctx context.Context, guildID string) error {
	live, seq, err := t.fetch(ctx, guildID)
	if err != nil {
		return fmt.Errorf("sync guild %s: %w", guildID, err)
	}
	if !t.store(guildID, live, seq) {
		t.logger.Debug("Discarded stale invite fetch", zap.String("guild_id", guildID))
	}
	return nil
}

// store replaces the guild's snapshot with live unless a fetch that started
// later has already been stored. It reports whether live was kept.
func (t *Tracker) store(guildID string, live []directory.InviteCount, seq uint64) bool {
	snap := make(map[string]int, len(live))
	for _, inv := range live {
		snap[inv.Code] = inv.Uses
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq < t.stored[guildID] {
		return false
	}
	t.snapshots[guildID] = snap
	t.stored[guildID] = seq
	return true
}

// Forget drops the guild's snapshot, returning it to Unsynced. Fetches
// already in flight for the guild are discarded when they finish.
func (t *Tracker) Forget(guildID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	delete(t.snapshots, guildID)
	t.stored[guildID] = t.seq
}

// ObserveCreated adds a new invite to a synced snapshot. A count already
// held for the code is never lowered.
func (t *Tracker) ObserveCreated(guildID, code string, uses int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap, ok := t.snapshots[guildID]
	if !ok {
		return
	}
	if cur, seen := snap[code]; !seen || uses > cur {
		snap[code] = uses
	}
}

// ObserveDeleted removes an invite from a synced snapshot.
func (t *Tracker) ObserveDeleted(guildID, code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if snap, ok := t.snapshots[guildID]; ok {
		delete(snap, code)
	}
}

func (t *Tracker) State(guildID string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.snapshots[guildID]; ok {
		return Synced
	}
	return Unsynced
}

// Snapshot returns a copy of the guild's snapshot, nil when unsynced.
func (t *Tracker) Snapshot(guildID string) map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.snapshots[guildID]
	if !ok {
		return nil
	}
	out := make(map[string]int, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

// Attribute decides which invite userID joined guildID through and records
// it in the ledger. The first invite in directory order whose live count
// exceeds the snapshot wins; an invite missing from the snapshot counts from
// zero. After a successful fetch the snapshot is replaced with the live
// counts whatever the ledger outcome. A failed fetch leaves it untouched.
func (t *Tracker) Attribute(ctx context.Context, guildID, userID string) (Attribution, error) {
	att := Attribution{GuildID: guildID, UserID: userID}

	live, seq, err := t.fetch(ctx, guildID)
	if err != nil {
		att.Outcome = metrics.OutcomeUnavailable
		att.Reason = "directory unavailable"
		metrics.RecordAttribution(att.Outcome)
		t.logger.Warn("Failed to fetch invites for join",
			zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return att, fmt.Errorf("attribute join in %s: %w", guildID, err)
	}

	t.mu.RLock()
	baseline := t.snapshots[guildID]
	att.Code = diff(baseline, live)
	t.mu.RUnlock()

	defer t.store(guildID, live, seq)

	if att.Code == "" {
		att.Outcome = metrics.OutcomeUnattributed
		att.Reason = "no invite counter moved"
		metrics.RecordAttribution(att.Outcome)
		return att, nil
	}

	inv, err := t.ledger.GetInviteByCode(ctx, att.Code)
	if err != nil {
		return t.ledgerFailed(att, err)
	}
	if inv == nil {
		att.Outcome = metrics.OutcomeUntracked
		att.Reason = "invite is not tracked"
		metrics.RecordAttribution(att.Outcome)
		return att, nil
	}
	att.Invite = inv

	usageID, err := t.ledger.RecordUsage(ctx, inv.ID, userID)
	if err != nil {
		return t.ledgerFailed(att, err)
	}
	att.UsageID = usageID
	att.Outcome = metrics.OutcomeAttributed
	metrics.RecordAttribution(att.Outcome)
	return att, nil
}

func (t *Tracker) ledgerFailed(att Attribution, err error) (Attribution, error) {
	att.Outcome = metrics.OutcomeLedgerError
	att.Reason = "ledger unavailable"
	metrics.RecordAttribution(att.Outcome)
	t.logger.Error("Failed to record invite usage",
		zap.String("guild_id", att.GuildID), zap.String("user_id", att.UserID),
		zap.String("code", att.Code), zap.Error(err))
	return att, fmt.Errorf("attribute join via %s: %w", att.Code, err)
}

// diff returns the first code in live order whose count grew over the
// baseline, or "" when none did.
func diff(baseline map[string]int, live []directory.InviteCount) string {
	for _, inv := range live {
		if inv.Uses > baseline[inv.Code] {
			return inv.Code
		}
	}
	return ""
}

// IsUnavailable reports whether err came from an unreachable directory.
func IsUnavailable(err error) bool {
	return errors.Is(err, directory.ErrUnavailable)
}
