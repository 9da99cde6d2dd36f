package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"discord-invite-tracker/internal/models"
)

const inviteColumns = `id, creator_id, code, uses, max_uses, expires_at, created_at, channel_id`

// PreparedStatements holds the lookups hit on every member join.
type PreparedStatements struct {
	getInviteByCode *sql.Stmt
	getInviteByID   *sql.Stmt
}

func (ps *PreparedStatements) close() {
	for _, stmt := range []*sql.Stmt{ps.getInviteByCode, ps.getInviteByID} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

func (d *Database) prepareStatements() (*PreparedStatements, error) {
	ps := &PreparedStatements{}

	var err error
	ps.getInviteByCode, err = d.db.Prepare(d.q(`SELECT ` + inviteColumns + ` FROM invites WHERE code = ?`))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare getInviteByCode: %w", err)
	}

	ps.getInviteByID, err = d.db.Prepare(d.q(`SELECT ` + inviteColumns + ` FROM invites WHERE id = ?`))
	if err != nil {
		ps.close()
		return nil, fmt.Errorf("failed to prepare getInviteByID: %w", err)
	}
	return ps, nil
}

// InitPreparedStatements pre-compiles the hot lookups.
func (d *Database) InitPreparedStatements() error {
	ps, err := d.prepareStatements()
	if err != nil {
		return err
	}
	if old := d.stmts.Swap(ps); old != nil {
		old.close()
	}
	return nil
}

// reprepare replaces old after the server dropped it. Concurrent callers
// holding the same old set prepare at most one replacement that sticks.
func (d *Database) reprepare(old *PreparedStatements) {
	ps, err := d.prepareStatements()
	if err != nil {
		return
	}
	if !d.stmts.CompareAndSwap(old, ps) {
		ps.close()
		return
	}
	if old != nil {
		old.close()
	}
}

// ClosePreparedStatements closes all prepared statements
func (d *Database) ClosePreparedStatements() {
	if ps := d.stmts.Swap(nil); ps != nil {
		ps.close()
	}
}

func isBadPreparedStatement(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "cached plan") ||
		strings.Contains(errStr, "closed the connection") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "bad connection") ||
		strings.Contains(errStr, "statement is closed")
}

// GetInviteByCode returns nil, nil when no invite has the code.
func (d *Database) GetInviteByCode(ctx context.Context, code string) (*models.Invite, error) {
	return d.lookupInvite(ctx, "GetInviteByCode", func(ps *PreparedStatements) *sql.Stmt { return ps.getInviteByCode },
		`SELECT `+inviteColumns+` FROM invites WHERE code = ?`, code, true)
}

// GetInviteByID returns nil, nil when no invite has the id.
func (d *Database) GetInviteByID(ctx context.Context, id int64) (*models.Invite, error) {
	return d.lookupInvite(ctx, "GetInviteByID", func(ps *PreparedStatements) *sql.Stmt { return ps.getInviteByID },
		`SELECT `+inviteColumns+` FROM invites WHERE id = ?`, id, true)
}

func (d *Database) lookupInvite(ctx context.Context, op string, pick func(*PreparedStatements) *sql.Stmt, query string, arg any, retry bool) (*models.Invite, error) {
	ps := d.stmts.Load()
	var stmt *sql.Stmt
	if ps != nil {
		stmt = pick(ps)
	}

	var row *sql.Row
	if stmt != nil {
		row = stmt.QueryRowContext(ctx, arg)
	} else {
		row = d.db.QueryRowContext(ctx, d.q(query), arg)
	}

	inv, err := scanInvite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if retry && isBadPreparedStatement(err) {
		d.reprepare(ps)
		return d.lookupInvite(ctx, op, pick, query, arg, false)
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return inv, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvite(row scanner) (*models.Invite, error) {
	var (
		inv       models.Invite
		maxUses   sql.NullInt64
		expiresAt sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&inv.ID, &inv.CreatorID, &inv.Code, &inv.Uses, &maxUses, &expiresAt, &createdAt, &inv.ChannelID); err != nil {
		return nil, err
	}
	if maxUses.Valid {
		v := int(maxUses.Int64)
		inv.MaxUses = &v
	}
	if expiresAt.Valid {
		t := models.FromMillis(expiresAt.Int64)
		inv.ExpiresAt = &t
	}
	inv.CreatedAt = models.FromMillis(createdAt)
	return &inv, nil
}
