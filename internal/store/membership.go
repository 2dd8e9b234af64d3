package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/memberprop/internal/model"
)

// memberJoin resolves member names for a table aliased as m with
// member_id and member_kind columns.
const memberJoin = `
	LEFT JOIN directory_users u ON m.member_kind = 1 AND u.id = m.member_id
	LEFT JOIN directory_groups g ON m.member_kind = 2 AND g.id = m.member_id`

const memberDetailColumns = `m.member_id, m.member_kind,
	COALESCE(u.name, g.name, ''), COALESCE(u.display_name, g.display_name, ''),
	COALESCE(u.enabled, g.enabled, 1)`

func scanMember(row rowScanner, extra ...any) (model.Member, error) {
	var m model.Member
	var kind int
	dest := append([]any{&m.ID, &kind, &m.Name, &m.DisplayName, &m.Enabled}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Member{}, err
	}
	m.Kind = model.MemberKind(kind)
	return m, nil
}

// DirectMembers returns the direct members of a group with their roles.
func (q *queries) DirectMembers(ctx context.Context, groupID string) (model.RoleSet, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+memberDetailColumns+`, m.role
		FROM group_members m`+memberJoin+`
		WHERE m.group_id = ?
		ORDER BY m.member_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query direct members of %s: %w", groupID, err)
	}
	return scanRoleSet(rows)
}

// DirectEdge returns the membership edge of memberID in groupID, or
// ErrNotFound.
func (q *queries) DirectEdge(ctx context.Context, groupID, memberID string) (model.MembershipEdge, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+memberDetailColumns+`, m.role, m.added_by, m.added_at
		FROM group_members m`+memberJoin+`
		WHERE m.group_id = ? AND m.member_id = ?
	`, groupID, memberID)

	var role, addedBy string
	var addedAt int64
	member, err := scanMember(row, &role, &addedBy, &addedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MembershipEdge{}, fmt.Errorf("edge %s/%s: %w", groupID, memberID, ErrNotFound)
	}
	if err != nil {
		return model.MembershipEdge{}, fmt.Errorf("edge %s/%s: %w", groupID, memberID, err)
	}
	return model.MembershipEdge{
		GroupID: groupID,
		Member:  member,
		Role:    model.Role(role),
		AddedBy: addedBy,
		AddedAt: fromMillis(addedAt),
	}, nil
}

// DirectRole returns the role memberID holds directly in groupID, or NONE.
func (q *queries) DirectRole(ctx context.Context, groupID, memberID string) (model.Role, error) {
	var role string
	err := q.q.QueryRowContext(ctx,
		`SELECT role FROM group_members WHERE group_id = ? AND member_id = ?`,
		groupID, memberID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoleNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("direct role %s/%s: %w", groupID, memberID, err)
	}
	return model.Role(role), nil
}

// AddMember upserts a direct membership edge and returns the effective role
// granted together with the edge it replaced (nil if none). The effective
// role is NONE when the member already holds role, or when role is NONE.
func (q *queries) AddMember(ctx context.Context, groupID string, m model.Member, role model.Role, addedBy string, at time.Time) (model.Role, *model.MembershipEdge, error) {
	if role.IsNone() {
		return model.RoleNone, nil, nil
	}

	var prev *model.MembershipEdge
	edge, err := q.DirectEdge(ctx, groupID, m.ID)
	switch {
	case err == nil:
		if edge.Role == role {
			return model.RoleNone, nil, nil
		}
		prev = &edge
	case !errors.Is(err, ErrNotFound):
		return "", nil, err
	}

	if err := q.PutEdge(ctx, model.MembershipEdge{GroupID: groupID, Member: m, Role: role, AddedBy: addedBy, AddedAt: at}); err != nil {
		return "", nil, err
	}
	return role, prev, nil
}

// RemoveMember deletes a direct membership edge and returns it, or nil if
// the member was not present.
func (q *queries) RemoveMember(ctx context.Context, groupID, memberID string) (*model.MembershipEdge, error) {
	edge, err := q.DirectEdge(ctx, groupID, memberID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := q.DeleteEdge(ctx, groupID, memberID); err != nil {
		return nil, err
	}
	return &edge, nil
}

// PutEdge writes an edge verbatim, replacing any existing one.
func (q *queries) PutEdge(ctx context.Context, e model.MembershipEdge) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO group_members (group_id, member_id, member_kind, role, added_by, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, member_id) DO UPDATE SET
			role = excluded.role,
			added_by = excluded.added_by,
			added_at = excluded.added_at
	`, e.GroupID, e.Member.ID, int(e.Member.Kind), string(e.Role), e.AddedBy, toMillis(e.AddedAt))
	if err != nil {
		return fmt.Errorf("put edge %s/%s: %w", e.GroupID, e.Member.ID, err)
	}
	return nil
}

// DeleteEdge removes an edge if present.
func (q *queries) DeleteEdge(ctx context.Context, groupID, memberID string) error {
	_, err := q.q.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND member_id = ?`, groupID, memberID)
	if err != nil {
		return fmt.Errorf("delete edge %s/%s: %w", groupID, memberID, err)
	}
	return nil
}

// reachSQL walks group containment downward from a root group. UNION
// deduplicates rows so the walk terminates even on a cyclic graph.
const reachSQL = `
	WITH RECURSIVE reach(member_id, member_kind) AS (
		SELECT member_id, member_kind FROM group_members WHERE group_id = ?
		UNION
		SELECT gm.member_id, gm.member_kind
		FROM group_members gm JOIN reach r ON r.member_kind = 2 AND gm.group_id = r.member_id
	)`

// ExplodedMembers returns every direct and indirect member of a group.
// Direct members keep their direct role; indirect members get GROUP_MEMBER.
// The group itself is never reported as its own member.
func (q *queries) ExplodedMembers(ctx context.Context, groupID string) (model.RoleSet, error) {
	rows, err := q.q.QueryContext(ctx, reachSQL+`
		SELECT `+memberDetailColumns+`, COALESCE(d.role, ?)
		FROM reach m
		LEFT JOIN group_members d ON d.group_id = ? AND d.member_id = m.member_id`+memberJoin+`
		WHERE m.member_id != ?
		ORDER BY m.member_id
	`, groupID, string(model.RoleGroupMember), groupID, groupID)
	if err != nil {
		return nil, fmt.Errorf("query exploded members of %s: %w", groupID, err)
	}
	return scanRoleSet(rows)
}

// IsExplodedMember reports whether memberID is reachable from groupID.
func (q *queries) IsExplodedMember(ctx context.Context, groupID, memberID string) (bool, error) {
	var found int
	err := q.q.QueryRowContext(ctx, reachSQL+`
		SELECT EXISTS (SELECT 1 FROM reach WHERE member_id = ?)
	`, groupID, memberID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("exploded membership %s/%s: %w", groupID, memberID, err)
	}
	return found == 1, nil
}

// Ancestors returns every group that directly or indirectly contains
// memberID, ascending.
func (q *queries) Ancestors(ctx context.Context, memberID string) ([]string, error) {
	return q.strings(ctx, `
		WITH RECURSIVE up(group_id) AS (
			SELECT group_id FROM group_members WHERE member_id = ?
			UNION
			SELECT gm.group_id FROM group_members gm JOIN up ON gm.member_id = up.group_id
		)
		SELECT group_id FROM up WHERE group_id != ? ORDER BY group_id
	`, memberID, memberID)
}

// ParentGroups returns the groups holding memberID as a direct member.
func (q *queries) ParentGroups(ctx context.Context, memberID string) ([]string, error) {
	return q.strings(ctx,
		`SELECT group_id FROM group_members WHERE member_id = ? ORDER BY group_id`, memberID)
}

// MemberGroups returns the direct Group members of a group.
func (q *queries) MemberGroups(ctx context.Context, groupID string) ([]string, error) {
	return q.strings(ctx,
		`SELECT member_id FROM group_members WHERE group_id = ? AND member_kind = 2 ORDER BY member_id`, groupID)
}

// AddBackReference records that memberID is an exploded member of groupID.
func (q *queries) AddBackReference(ctx context.Context, memberID, groupID string) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO member_groups (member_id, group_id) VALUES (?, ?)`, memberID, groupID)
	if err != nil {
		return fmt.Errorf("add back-reference %s->%s: %w", memberID, groupID, err)
	}
	return nil
}

// RemoveBackReference drops a back-reference if present.
func (q *queries) RemoveBackReference(ctx context.Context, memberID, groupID string) error {
	_, err := q.q.ExecContext(ctx,
		`DELETE FROM member_groups WHERE member_id = ? AND group_id = ?`, memberID, groupID)
	if err != nil {
		return fmt.Errorf("remove back-reference %s->%s: %w", memberID, groupID, err)
	}
	return nil
}

// BackReferences returns the groups memberID is recorded as belonging to.
func (q *queries) BackReferences(ctx context.Context, memberID string) ([]string, error) {
	return q.strings(ctx,
		`SELECT group_id FROM member_groups WHERE member_id = ? ORDER BY group_id`, memberID)
}

func scanRoleSet(rows *sql.Rows) (model.RoleSet, error) {
	defer rows.Close()

	out := make(model.RoleSet)
	for rows.Next() {
		var role string
		m, err := scanMember(rows, &role)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out.Put(m, model.Role(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
