package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"discord-invite-tracker/internal/models"
)

// CreateInvite stores a new invite and returns its id. Repeating the call for
// the same code and creator returns the existing id; a code owned by another
// creator yields ErrConflict and leaves the stored row alone.
func (d *Database) CreateInvite(ctx context.Context, in models.NewInvite) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx, d.q(`
		INSERT INTO invites (creator_id, code, uses, max_uses, expires_at, created_at, channel_id)
		VALUES (?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING
		RETURNING id
	`), in.CreatorID, in.Code, nullInt(in.MaxUses), nullMillis(in.ExpiresAt), models.Now(), in.ChannelID).Scan(&id)

	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		// Lost the race or a repeat: decide by the stored owner.
	default:
		return 0, persistErr("CreateInvite", err)
	}

	existing, err := d.GetInviteByCode(ctx, in.Code)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, persistErr("CreateInvite", fmt.Errorf("code %q conflicted but is not stored", in.Code))
	}
	if existing.CreatorID != in.CreatorID {
		return 0, fmt.Errorf("%w: %s", ErrConflict, in.Code)
	}
	return existing.ID, nil
}

// DeleteInviteByCode removes an invite that has no usage records yet and
// reports whether a row was deleted.
func (d *Database) DeleteInviteByCode(ctx context.Context, code string) (bool, error) {
	res, err := d.db.ExecContext(ctx, d.q(`
		DELETE FROM invites
		WHERE code = ? AND NOT EXISTS (SELECT 1 FROM invite_usages u WHERE u.invite_id = invites.id)
	`), code)
	if err != nil {
		return false, persistErr("DeleteInviteByCode", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("DeleteInviteByCode", err)
	}
	return n > 0, nil
}

// RecordUsage records that userID joined through inviteID and returns the
// usage record id. A returning user reactivates their previous record. The
// invite's use counter grows exactly when a record becomes active, so a
// repeat call for an already active record changes nothing.
func (d *Database) RecordUsage(ctx context.Context, inviteID int64, userID string) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr("RecordUsage", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, d.q(`SELECT 1 FROM invites WHERE id = ?`), inviteID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: id %d", ErrNotFound, inviteID)
	}
	if err != nil {
		return 0, persistErr("RecordUsage", err)
	}

	var usageID int64
	activated := true

	err = tx.QueryRowContext(ctx, d.q(`
		UPDATE invite_usages SET is_active = TRUE, left_at = NULL
		WHERE invite_id = ? AND user_id = ? AND is_active = FALSE
		RETURNING id
	`), inviteID, userID).Scan(&usageID)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, d.q(`
			INSERT INTO invite_usages (invite_id, user_id, joined_at, is_active)
			VALUES (?, ?, ?, TRUE)
			ON CONFLICT (invite_id, user_id) DO NOTHING
			RETURNING id
		`), inviteID, userID, models.Now()).Scan(&usageID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		// Already active.
		activated = false
		err = tx.QueryRowContext(ctx, d.q(`SELECT id FROM invite_usages WHERE invite_id = ? AND user_id = ?`),
			inviteID, userID).Scan(&usageID)
	}
	if err != nil {
		return 0, persistErr("RecordUsage", err)
	}

	if activated {
		if _, err := tx.ExecContext(ctx, d.q(`UPDATE invites SET uses = uses + 1 WHERE id = ?`), inviteID); err != nil {
			return 0, persistErr("RecordUsage", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, persistErr("RecordUsage", err)
	}
	return usageID, nil
}

// MarkUserLeft deactivates every active usage record of userID and lowers
// the matching invite counters, never below zero. It reports whether any
// record changed.
func (d *Database) MarkUserLeft(ctx context.Context, userID string) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, persistErr("MarkUserLeft", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, d.q(`
		UPDATE invite_usages SET is_active = FALSE, left_at = ?
		WHERE user_id = ? AND is_active = TRUE
		RETURNING invite_id
	`), models.Now(), userID)
	if err != nil {
		return false, persistErr("MarkUserLeft", err)
	}
	var inviteIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return false, persistErr("MarkUserLeft", err)
		}
		inviteIDs = append(inviteIDs, id)
	}
	if err := rows.Close(); err != nil {
		return false, persistErr("MarkUserLeft", err)
	}
	if err := rows.Err(); err != nil {
		return false, persistErr("MarkUserLeft", err)
	}

	for _, id := range inviteIDs {
		if _, err := tx.ExecContext(ctx, d.q(`
			UPDATE invites SET uses = CASE WHEN uses > 0 THEN uses - 1 ELSE 0 END WHERE id = ?
		`), id); err != nil {
			return false, persistErr("MarkUserLeft", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, persistErr("MarkUserLeft", err)
	}
	return len(inviteIDs) > 0, nil
}

// GetActiveCreators lists the creators of the invites userID is currently
// counted against.
func (d *Database) GetActiveCreators(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT DISTINCT i.creator_id FROM invite_usages u
		JOIN invites i ON u.invite_id = i.id
		WHERE u.user_id = ? AND u.is_active = TRUE
		ORDER BY i.creator_id
	`), userID)
	if err != nil {
		return nil, persistErr("GetActiveCreators", err)
	}
	defer rows.Close()

	var creators []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("GetActiveCreators", err)
		}
		creators = append(creators, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("GetActiveCreators", err)
	}
	return creators, nil
}

// GetUserInvites lists the invites created by creatorID, oldest first.
func (d *Database) GetUserInvites(ctx context.Context, creatorID string) ([]*models.Invite, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`SELECT `+inviteColumns+` FROM invites WHERE creator_id = ? ORDER BY id`), creatorID)
	if err != nil {
		return nil, persistErr("GetUserInvites", err)
	}
	defer rows.Close()

	invites := []*models.Invite{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, persistErr("GetUserInvites", err)
		}
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("GetUserInvites", err)
	}
	return invites, nil
}

// GetUserStats aggregates the invites created by userID.
func (d *Database) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	invites, err := d.GetUserInvites(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &models.UserStats{UserID: userID, TotalInvites: len(invites), Invites: invites}
	for _, inv := range invites {
		stats.TotalUses += inv.Uses
	}

	err = d.db.QueryRowContext(ctx, d.q(`
		SELECT COUNT(*) FROM invite_usages u
		JOIN invites i ON u.invite_id = i.id
		WHERE i.creator_id = ? AND u.is_active = TRUE
	`), userID).Scan(&stats.ActiveUses)
	if err != nil {
		return nil, persistErr("GetUserStats", err)
	}
	return stats, nil
}

const leaderboardQuery = `
	SELECT i.creator_id,
		COUNT(*) AS total_invites,
		SUM(i.uses) AS total_uses,
		COALESCE(SUM(a.active), 0) AS active_uses
	FROM invites i
	LEFT JOIN (
		SELECT invite_id, COUNT(*) AS active FROM invite_usages
		WHERE is_active = TRUE GROUP BY invite_id
	) a ON a.invite_id = i.id
	GROUP BY i.creator_id
	ORDER BY total_uses DESC, MIN(i.id) ASC
`

// GetLeaderboard ranks creators by total uses. Ties keep the order in which
// the creators first created an invite. A limit <= 0 returns every creator.
func (d *Database) GetLeaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error) {
	query := leaderboardQuery
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, d.q(query), args...)
	if err != nil {
		return nil, persistErr("GetLeaderboard", err)
	}
	defer rows.Close()

	entries := []*models.LeaderboardEntry{}
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.CreatorID, &e.TotalInvites, &e.TotalUses, &e.ActiveUses); err != nil {
			return nil, persistErr("GetLeaderboard", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("GetLeaderboard", err)
	}
	return entries, nil
}

// GetCreatorRank returns the 1-based leaderboard position of creatorID, or 0
// and nil when the creator has no invites.
func (d *Database) GetCreatorRank(ctx context.Context, creatorID string) (int, *models.LeaderboardEntry, error) {
	entries, err := d.GetLeaderboard(ctx, 0)
	if err != nil {
		return 0, nil, err
	}
	for i, e := range entries {
		if e.CreatorID == creatorID {
			return i + 1, e, nil
		}
	}
	return 0, nil, nil
}

// GetAdminSummary lists every invite newest first with per-invite active
// counts, plus per-creator and overall totals.
func (d *Database) GetAdminSummary(ctx context.Context) (*models.AdminSummary, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT i.id, i.creator_id, i.code, i.uses, i.max_uses, i.expires_at, i.created_at, i.channel_id,
			(SELECT COUNT(*) FROM invite_usages u WHERE u.invite_id = i.id AND u.is_active = TRUE)
		FROM invites i
		ORDER BY i.created_at DESC, i.id DESC
	`)
	if err != nil {
		return nil, persistErr("GetAdminSummary", err)
	}
	defer rows.Close()

	summary := &models.AdminSummary{Invites: []*models.AdminInvite{}, Creators: []*models.CreatorSummary{}}
	byCreator := make(map[string]*models.CreatorSummary)

	for rows.Next() {
		var (
			ai        models.AdminInvite
			maxUses   sql.NullInt64
			expiresAt sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&ai.ID, &ai.CreatorID, &ai.Code, &ai.Uses, &maxUses, &expiresAt, &createdAt, &ai.ChannelID, &ai.ActiveUses); err != nil {
			return nil, persistErr("GetAdminSummary", err)
		}
		if maxUses.Valid {
			v := int(maxUses.Int64)
			ai.MaxUses = &v
		}
		if expiresAt.Valid {
			t := models.FromMillis(expiresAt.Int64)
			ai.ExpiresAt = &t
		}
		ai.CreatedAt = models.FromMillis(createdAt)
		summary.Invites = append(summary.Invites, &ai)

		cs, ok := byCreator[ai.CreatorID]
		if !ok {
			cs = &models.CreatorSummary{CreatorID: ai.CreatorID}
			byCreator[ai.CreatorID] = cs
			summary.Creators = append(summary.Creators, cs)
		}
		cs.TotalInvites++
		cs.TotalUses += ai.Uses
		cs.ActiveUses += ai.ActiveUses

		summary.TotalInvites++
		summary.TotalUses += ai.Uses
		summary.TotalActive += ai.ActiveUses
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("GetAdminSummary", err)
	}
	return summary, nil
}

// GetInviteUsages lists the usage records of one invite, earliest join first.
func (d *Database) GetInviteUsages(ctx context.Context, inviteID int64) ([]*models.UsageRecord, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT id, invite_id, user_id, joined_at, left_at, is_active
		FROM invite_usages WHERE invite_id = ?
		ORDER BY joined_at, id
	`), inviteID)
	if err != nil {
		return nil, persistErr("GetInviteUsages", err)
	}
	defer rows.Close()

	usages := []*models.UsageRecord{}
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, persistErr("GetInviteUsages", err)
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("GetInviteUsages", err)
	}
	return usages, nil
}

// GetInviteDetails returns nil, nil when the code is not tracked.
func (d *Database) GetInviteDetails(ctx context.Context, code string) (*models.InviteDetails, error) {
	inv, err := d.GetInviteByCode(ctx, code)
	if err != nil || inv == nil {
		return nil, err
	}
	usages, err := d.GetInviteUsages(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &models.InviteDetails{Invite: inv, Usages: usages}, nil
}

// GetJoinedUsers lists everyone who joined through any invite of creatorID,
// most recent join first.
func (d *Database) GetJoinedUsers(ctx context.Context, creatorID string) ([]*models.JoinedUser, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT u.id, u.invite_id, u.user_id, u.joined_at, u.left_at, u.is_active, i.code
		FROM invite_usages u
		JOIN invites i ON u.invite_id = i.id
		WHERE i.creator_id = ?
		ORDER BY u.joined_at DESC, u.id DESC
	`), creatorID)
	if err != nil {
		return nil, persistErr("GetJoinedUsers", err)
	}
	defer rows.Close()

	users := []*models.JoinedUser{}
	for rows.Next() {
		var (
			ju       models.JoinedUser
			joinedAt int64
			leftAt   sql.NullInt64
		)
		if err := rows.Scan(&ju.ID, &ju.InviteID, &ju.UserID, &joinedAt, &leftAt, &ju.IsActive, &ju.InviteCode); err != nil {
			return nil, persistErr("GetJoinedUsers", err)
		}
		ju.JoinedAt = models.FromMillis(joinedAt)
		if leftAt.Valid {
			t := models.FromMillis(leftAt.Int64)
			ju.LeftAt = &t
		}
		users = append(users, &ju)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("GetJoinedUsers", err)
	}
	return users, nil
}

// Reconcile compares every invite's cached use counter with its number of
// active usage records. With fix set the counters are rewritten to the
// active count in one transaction. The returned drifts describe the state
// before fixing.
func (d *Database) Reconcile(ctx context.Context, fix bool) ([]*models.Drift, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("Reconcile", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT i.id, i.code, i.uses, COALESCE(a.active, 0)
		FROM invites i
		LEFT JOIN (
			SELECT invite_id, COUNT(*) AS active FROM invite_usages
			WHERE is_active = TRUE GROUP BY invite_id
		) a ON a.invite_id = i.id
		WHERE i.uses <> COALESCE(a.active, 0)
		ORDER BY i.id
	`)
	if err != nil {
		return nil, persistErr("Reconcile", err)
	}
	drifts := []*models.Drift{}
	for rows.Next() {
		var dr models.Drift
		if err := rows.Scan(&dr.InviteID, &dr.Code, &dr.Uses, &dr.ActiveUses); err != nil {
			rows.Close()
			return nil, persistErr("Reconcile", err)
		}
		drifts = append(drifts, &dr)
	}
	if err := rows.Close(); err != nil {
		return nil, persistErr("Reconcile", err)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("Reconcile", err)
	}

	if !fix || len(drifts) == 0 {
		return drifts, nil
	}

	for _, dr := range drifts {
		if _, err := tx.ExecContext(ctx, d.q(`UPDATE invites SET uses = ? WHERE id = ?`), dr.ActiveUses, dr.InviteID); err != nil {
			return nil, persistErr("Reconcile", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr("Reconcile", err)
	}
	return drifts, nil
}

func scanUsage(row scanner) (*models.UsageRecord, error) {
	var (
		u        models.UsageRecord
		joinedAt int64
		leftAt   sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.InviteID, &u.UserID, &joinedAt, &leftAt, &u.IsActive); err != nil {
		return nil, err
	}
	u.JoinedAt = models.FromMillis(joinedAt)
	if leftAt.Valid {
		t := models.FromMillis(leftAt.Int64)
		u.LeftAt = &t
	}
	return &u, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return models.ToMillis(*t)
}
