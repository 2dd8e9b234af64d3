package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/memberprop/internal/model"
)

const userColumns = `id, name, display_name, realm_id, enabled, outsider, admin, shadow`

const groupColumns = `id, group_id, name, display_name, group_type, origin_type, owner_id,
	realm_external, enabled, accessible_users, shadow`

// CreateUser inserts a user. Names are NFC-normalized.
func (q *queries) CreateUser(ctx context.Context, u model.User) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO directory_users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, model.NormalizeName(u.Name), u.DisplayName, u.RealmID, u.Enabled, u.Outsider, u.Admin, u.Shadow)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	return nil
}

// User returns the user with the given ID.
func (q *queries) User(ctx context.Context, id string) (model.User, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM directory_users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return model.User{}, fmt.Errorf("user %s: %w", id, err)
	}
	return u, nil
}

// UserByName returns the user with the given (normalized) name.
func (q *queries) UserByName(ctx context.Context, name string) (model.User, error) {
	name = model.NormalizeName(name)
	row := q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM directory_users WHERE name = ?`, name)
	u, err := scanUser(row)
	if err != nil {
		return model.User{}, fmt.Errorf("user %q: %w", name, err)
	}
	return u, nil
}

// FindOrShadowUser returns the named user, creating a shadow placeholder in
// realmID when none exists. created reports whether a shadow was inserted.
func (q *queries) FindOrShadowUser(ctx context.Context, realmID, name string, ids model.IDGenerator) (u model.User, created bool, err error) {
	name = model.NormalizeName(name)
	if name == "" {
		return model.User{}, false, fmt.Errorf("user with empty name: %w", ErrNotFound)
	}
	u, err = q.UserByName(ctx, name)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.User{}, false, err
	}
	u = model.User{ID: ids.NewID(), Name: name, RealmID: realmID, Enabled: true, Shadow: true}
	if err := q.CreateUser(ctx, u); err != nil {
		return model.User{}, false, err
	}
	return u, true, nil
}

// SetUserEnabled flips the enabled flag of a user.
func (q *queries) SetUserEnabled(ctx context.Context, id string, enabled bool) error {
	return q.execOne(ctx, "user "+id, `UPDATE directory_users SET enabled = ? WHERE id = ?`, enabled, id)
}

// CreateGroup inserts a group. An empty GroupID defaults to the ID.
func (q *queries) CreateGroup(ctx context.Context, g model.Group) error {
	if g.GroupID == "" {
		g.GroupID = g.ID
	}
	if g.Origin == "" {
		g.Origin = model.OriginNative
	}
	if g.Type == "" {
		g.Type = model.GroupTypePublicOpen
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO directory_groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.GroupID, model.NormalizeName(g.Name), g.DisplayName, string(g.Type), string(g.Origin), g.OwnerID,
		g.RealmExternal, g.Enabled, g.AccessibleUsers, g.Shadow)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", g.ID, err)
	}
	return nil
}

// Group returns the group with the given internal ID.
func (q *queries) Group(ctx context.Context, id string) (model.Group, error) {
	return q.groupWhere(ctx, "id", id)
}

// GroupByGroupID returns the group with the given external-facing group ID.
func (q *queries) GroupByGroupID(ctx context.Context, groupID string) (model.Group, error) {
	return q.groupWhere(ctx, "group_id", groupID)
}

// GroupByName returns the group with the given (normalized) name.
func (q *queries) GroupByName(ctx context.Context, name string) (model.Group, error) {
	return q.groupWhere(ctx, "name", model.NormalizeName(name))
}

func (q *queries) groupWhere(ctx context.Context, column, value string) (model.Group, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM directory_groups WHERE `+column+` = ?`, value)
	g, err := scanGroup(row)
	if err != nil {
		return model.Group{}, fmt.Errorf("group %s=%q: %w", column, value, err)
	}
	return g, nil
}

// FindOrShadowGroup returns the named group, creating a static shadow group
// mastered by the identity provider when none exists.
func (q *queries) FindOrShadowGroup(ctx context.Context, name string, ids model.IDGenerator) (g model.Group, created bool, err error) {
	name = model.NormalizeName(name)
	if name == "" {
		return model.Group{}, false, fmt.Errorf("group with empty name: %w", ErrNotFound)
	}
	g, err = q.GroupByName(ctx, name)
	if err == nil {
		return g, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Group{}, false, err
	}
	id := ids.NewID()
	g = model.Group{
		ID:      id,
		GroupID: id,
		Name:    name,
		Type:    model.GroupTypeStatic,
		Origin:  model.OriginIdP,
		Enabled: true,
		Shadow:  true,
	}
	if err := q.CreateGroup(ctx, g); err != nil {
		return model.Group{}, false, err
	}
	return g, true, nil
}

// SetGroupOwner replaces the owner of a group.
func (q *queries) SetGroupOwner(ctx context.Context, groupID, ownerID string) error {
	return q.execOne(ctx, "group "+groupID, `UPDATE directory_groups SET owner_id = ? WHERE id = ?`, ownerID, groupID)
}

// SetAccessibleUsers stores the accessible-user count of a group.
func (q *queries) SetAccessibleUsers(ctx context.Context, groupID string, n int) error {
	return q.execOne(ctx, "group "+groupID, `UPDATE directory_groups SET accessible_users = ? WHERE id = ?`, n, groupID)
}

// GroupsOwnedBy returns the IDs of groups owned by the user, ascending.
func (q *queries) GroupsOwnedBy(ctx context.Context, userID string) ([]string, error) {
	return q.strings(ctx, `SELECT id FROM directory_groups WHERE owner_id = ? ORDER BY id`, userID)
}

// Member resolves an ID to a user or group member.
func (q *queries) Member(ctx context.Context, id string) (model.Member, error) {
	u, err := q.User(ctx, id)
	if err == nil {
		return u.Member(), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Member{}, err
	}
	g, err := q.Group(ctx, id)
	if err == nil {
		return g.Member(), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Member{}, err
	}
	return model.Member{}, fmt.Errorf("member %s: %w", id, ErrNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.DisplayName, &u.RealmID, &u.Enabled, &u.Outsider, &u.Admin, &u.Shadow)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

func scanGroup(row rowScanner) (model.Group, error) {
	var g model.Group
	var typ, origin string
	err := row.Scan(&g.ID, &g.GroupID, &g.Name, &g.DisplayName, &typ, &origin, &g.OwnerID,
		&g.RealmExternal, &g.Enabled, &g.AccessibleUsers, &g.Shadow)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Group{}, ErrNotFound
	}
	g.Type = model.GroupType(typ)
	g.Origin = model.OriginType(origin)
	return g, err
}

// execOne runs an UPDATE/DELETE that must touch exactly one row.
func (q *queries) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// strings runs a single-column query.
func (q *queries) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
