// Package identity holds the membership oracle consumed by the engine. The
// oracle is a trust boundary: every gated operation re-queries it, so role
// and membership changes take effect on the next call, never retroactively.
package identity

import (
	"context"
	"database/sql"
)

// MembershipOracle answers membership questions for one DAO. Implementations
// must be authoritative at call time; the engine never caches answers.
type MembershipOracle interface {
	IsMember(ctx context.Context, daoID, identity string) (bool, error)
	// RoleOf returns 0 for non-members and members without a role.
	RoleOf(ctx context.Context, daoID, identity string) (int, error)
	IsAdmin(ctx context.Context, daoID, identity string) (bool, error)
}

// Directory is the sqlite-backed oracle over the members table.
type Directory struct {
	DB *sql.DB
}

func (d Directory) IsMember(ctx context.Context, daoID, identity string) (bool, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT 1 FROM members WHERE dao_id=? AND identity=? LIMIT 1`, daoID, identity)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (d Directory) RoleOf(ctx context.Context, daoID, identity string) (int, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT role FROM members WHERE dao_id=? AND identity=?`, daoID, identity)
	var role int
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return role, nil
}

func (d Directory) IsAdmin(ctx context.Context, daoID, identity string) (bool, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT 1 FROM members WHERE dao_id=? AND identity=? AND is_admin=1 LIMIT 1`, daoID, identity)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
