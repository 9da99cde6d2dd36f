package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"discord-invite-tracker/internal/cache"
	"discord-invite-tracker/internal/database"
	"discord-invite-tracker/internal/directory"
	"discord-invite-tracker/internal/models"
	"discord-invite-tracker/internal/tracker"
)

const (
	keyLeaderboard  = "invites:leaderboard"
	keyAdminSummary = "invites:admin"
	keyStatsPrefix  = "invites:stats:"
)

// ErrNotOwner is returned when an actor asks about an invite they did not
// create.
var ErrNotOwner = errors.New("invite belongs to another creator")

// CreateRequest describes an invite a member asked the bot to create.
type CreateRequest struct {
	GuildID   string
	ChannelID string
	CreatorID string
	// MaxUses of 0 is unlimited.
	MaxUses int
	// ExpiresInHours of 0 never expires.
	ExpiresInHours int
}

type CreateResult struct {
	Invite *models.Invite
	// Existing is set when the ledger already tracked the code for the
	// same creator.
	Existing bool
}

// InviteService joins the ledger, the guild directory and the join tracker,
// and keeps the read cache consistent with ledger writes.
type InviteService struct {
	DB        *database.Database
	Directory directory.Directory
	Tracker   *tracker.Tracker
	Cache     *cache.Cache
	Logger    *zap.Logger
}

func NewInviteService(db *database.Database, dir directory.Directory, tr *tracker.Tracker, c *cache.Cache, logger *zap.Logger) *InviteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InviteService{
		DB:        db,
		Directory: dir,
		Tracker:   tr,
		Cache:     c,
		Logger:    logger,
	}
}

// Stats returns the invite statistics of userID.
func (s *InviteService) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	return cache.Fetch(ctx, s.Cache, keyStatsPrefix+userID, func(ctx context.Context) (*models.UserStats, error) {
		return s.DB.GetUserStats(ctx, userID)
	})
}

// Leaderboard returns the first limit entries and the caller's own rank
// (1-based) with their entry. rank is 0 when the caller has no invites.
func (s *InviteService) Leaderboard(ctx context.Context, limit int, userID string) (page []*models.LeaderboardEntry, rank int, own *models.LeaderboardEntry, err error) {
	all, err := cache.Fetch(ctx, s.Cache, keyLeaderboard, func(ctx context.Context) ([]*models.LeaderboardEntry, error) {
		return s.DB.GetLeaderboard(ctx, 0)
	})
	if err != nil {
		return nil, 0, nil, err
	}

	page = all
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	for i, e := range all {
		if e.CreatorID == userID {
			return page, i + 1, e, nil
		}
	}
	return page, 0, nil, nil
}

func (s *InviteService) AdminSummary(ctx context.Context) (*models.AdminSummary, error) {
	return cache.Fetch(ctx, s.Cache, keyAdminSummary, s.DB.GetAdminSummary)
}

// InviteDetails returns nil when the code is not tracked.
func (s *InviteService) InviteDetails(ctx context.Context, code string) (*models.InviteDetails, error) {
	return s.DB.GetInviteDetails(ctx, code)
}

// JoinedUsers lists who joined through creatorID's invites, or through the
// single invite code when it is set. A code owned by someone else yields
// ErrNotOwner and an unknown code database.ErrNotFound.
func (s *InviteService) JoinedUsers(ctx context.Context, creatorID, code string) ([]*models.JoinedUser, error) {
	if code == "" {
		return s.DB.GetJoinedUsers(ctx, creatorID)
	}

	inv, err := s.DB.GetInviteByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: %s", database.ErrNotFound, code)
	}
	if inv.CreatorID != creatorID {
		return nil, ErrNotOwner
	}

	usages, err := s.DB.GetInviteUsages(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	users := make([]*models.JoinedUser, 0, len(usages))
	for _, u := range usages {
		users = append(users, &models.JoinedUser{UsageRecord: *u, InviteCode: inv.Code})
	}
	return users, nil
}

// CreateInvite creates an invite in the guild and starts tracking it. When
// the ledger refuses the code the invite is deleted from the guild again so
// no untracked link is left behind.
func (s *InviteService) CreateInvite(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	created, err := s.Directory.CreateInvite(ctx, req.GuildID, req.ChannelID, directory.CreateOptions{
		MaxUses:       req.MaxUses,
		MaxAgeSeconds: req.ExpiresInHours * 3600,
		Unique:        true,
		Reason:        "Invite created for <@" + req.CreatorID + ">",
	})
	if err != nil {
		return nil, fmt.Errorf("create invite in %s: %w", req.ChannelID, err)
	}

	existing, err := s.DB.GetInviteByCode(ctx, created.Code)
	if err != nil {
		s.rollback(ctx, created.Code, err)
		return nil, err
	}
	if existing != nil && existing.CreatorID == req.CreatorID {
		return &CreateResult{Invite: existing, Existing: true}, nil
	}

	in := models.NewInvite{
		CreatorID: req.CreatorID,
		Code:      created.Code,
		ChannelID: created.ChannelID,
	}
	if req.MaxUses > 0 {
		maxUses := req.MaxUses
		in.MaxUses = &maxUses
	}
	if req.ExpiresInHours > 0 {
		expires := time.Now().Add(time.Duration(req.ExpiresInHours) * time.Hour).UTC()
		in.ExpiresAt = &expires
	}

	id, err := s.DB.CreateInvite(ctx, in)
	if err != nil {
		s.rollback(ctx, created.Code, err)
		return nil, err
	}

	if s.Tracker != nil {
		s.Tracker.ObserveCreated(req.GuildID, created.Code, 0)
	}
	s.invalidate(ctx, req.CreatorID)

	inv, err := s.DB.GetInviteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: invite %d", database.ErrNotFound, id)
	}
	return &CreateResult{Invite: inv}, nil
}

func (s *InviteService) rollback(ctx context.Context, code string, cause error) {
	s.Logger.Error("Failed to store created invite, deleting it",
		zap.String("code", code), zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Directory.DeleteInvite(ctx, code, "Invite could not be tracked"); err != nil && !errors.Is(err, directory.ErrUnknownInvite) {
		s.Logger.Error("Failed to roll back created invite", zap.String("code", code), zap.Error(err))
	}
}

// TrackInvite starts tracking an invite created outside the bot. An invite
// whose code is already tracked is left alone and reported as not created.
func (s *InviteService) TrackInvite(ctx context.Context, in models.NewInvite) (bool, error) {
	existing, err := s.DB.GetInviteByCode(ctx, in.Code)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if _, err := s.DB.CreateInvite(ctx, in); err != nil {
		return false, err
	}
	s.invalidate(ctx, in.CreatorID)
	return true, nil
}

// MemberJoined attributes a join and refreshes the cached views of the
// credited creator.
func (s *InviteService) MemberJoined(ctx context.Context, guildID, userID string) (tracker.Attribution, error) {
	att, err := s.Tracker.Attribute(ctx, guildID, userID)
	if att.Attributed() {
		s.invalidate(ctx, att.Invite.CreatorID)
	}
	return att, err
}

// MemberLeft marks userID as gone from every invite they were counted
// against.
func (s *InviteService) MemberLeft(ctx context.Context, userID string) (bool, error) {
	creators, err := s.DB.GetActiveCreators(ctx, userID)
	if err != nil {
		return false, err
	}
	changed, err := s.DB.MarkUserLeft(ctx, userID)
	if err != nil {
		return false, err
	}
	if changed {
		s.invalidate(ctx, creators...)
	}
	return changed, nil
}

func (s *InviteService) invalidate(ctx context.Context, creatorIDs ...string) {
	keys := []string{keyLeaderboard, keyAdminSummary}
	for _, id := range creatorIDs {
		keys = append(keys, keyStatsPrefix+id)
	}
	s.Cache.Delete(ctx, keys...)
}
