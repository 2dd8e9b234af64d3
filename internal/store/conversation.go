package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/memberprop/internal/model"
)

const conversationColumns = `id, name, scoping, hierarchy_id, indexing_threads`

// CreateHierarchy inserts a Hierarchical-Members object.
func (q *queries) CreateHierarchy(ctx context.Context, id string) error {
	if _, err := q.q.ExecContext(ctx, `INSERT INTO hierarchies (id) VALUES (?)`, id); err != nil {
		return fmt.Errorf("insert hierarchy %s: %w", id, err)
	}
	return nil
}

// AddHierarchyMember upserts a direct member of a hierarchy.
func (q *queries) AddHierarchyMember(ctx context.Context, hierarchyID string, m model.Member, role model.Role) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO hierarchy_members (hierarchy_id, member_id, member_kind, role)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hierarchy_id, member_id) DO UPDATE SET role = excluded.role
	`, hierarchyID, m.ID, int(m.Kind), string(role))
	if err != nil {
		return fmt.Errorf("add hierarchy member %s/%s: %w", hierarchyID, m.ID, err)
	}
	return nil
}

// HierarchyMembers returns the direct members of a hierarchy.
func (q *queries) HierarchyMembers(ctx context.Context, hierarchyID string) (model.RoleSet, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+memberDetailColumns+`, m.role
		FROM hierarchy_members m`+memberJoin+`
		WHERE m.hierarchy_id = ?
		ORDER BY m.member_id
	`, hierarchyID)
	if err != nil {
		return nil, fmt.Errorf("query hierarchy members of %s: %w", hierarchyID, err)
	}
	return scanRoleSet(rows)
}

// HierarchyHasDirectMembers reports whether a hierarchy has any direct member.
func (q *queries) HierarchyHasDirectMembers(ctx context.Context, hierarchyID string) (bool, error) {
	var found int
	err := q.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM hierarchy_members WHERE hierarchy_id = ?)`, hierarchyID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("hierarchy members of %s: %w", hierarchyID, err)
	}
	return found == 1, nil
}

// CreateConversation inserts a conversation.
func (q *queries) CreateConversation(ctx context.Context, c model.Conversation) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Scoping, c.HierarchyID, c.IndexingThreads)
	if err != nil {
		return fmt.Errorf("insert conversation %s: %w", c.ID, err)
	}
	return nil
}

// Conversation returns the conversation with the given ID.
func (q *queries) Conversation(ctx context.Context, id string) (model.Conversation, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("conversation %s: %w", id, err)
	}
	return c, nil
}

// AddConversationMember upserts a direct member of a conversation.
func (q *queries) AddConversationMember(ctx context.Context, conversationID string, m model.Member, role model.Role) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO conversation_members (conversation_id, member_id, member_kind, role)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, member_id) DO UPDATE SET role = excluded.role
	`, conversationID, m.ID, int(m.Kind), string(role))
	if err != nil {
		return fmt.Errorf("add conversation member %s/%s: %w", conversationID, m.ID, err)
	}
	return nil
}

// ConversationMembers returns the direct members of a conversation.
func (q *queries) ConversationMembers(ctx context.Context, conversationID string) (model.RoleSet, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+memberDetailColumns+`, m.role
		FROM conversation_members m`+memberJoin+`
		WHERE m.conversation_id = ?
		ORDER BY m.member_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query conversation members of %s: %w", conversationID, err)
	}
	return scanRoleSet(rows)
}

// GroupConversations returns every conversation that holds one of the
// groups as a direct member or through its hierarchy, ordered by ID.
func (q *queries) GroupConversations(ctx context.Context, groupIDs []string) ([]model.Conversation, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	in := placeholders(len(groupIDs))
	args := make([]any, 0, 2*len(groupIDs))
	for _, id := range groupIDs {
		args = append(args, id)
	}
	for _, id := range groupIDs {
		args = append(args, id)
	}

	rows, err := q.q.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE id IN (SELECT conversation_id FROM conversation_members WHERE member_id IN (`+in+`))
		   OR (hierarchy_id != '' AND hierarchy_id IN (
				SELECT hierarchy_id FROM hierarchy_members WHERE member_id IN (`+in+`)))
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query group conversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// ConversationRoles returns the calculated user roles of a conversation.
func (q *queries) ConversationRoles(ctx context.Context, conversationID string) (map[string]model.Role, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT user_id, role FROM conversation_roles WHERE conversation_id = ? ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query conversation roles of %s: %w", conversationID, err)
	}
	defer rows.Close()

	out := make(map[string]model.Role)
	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			return nil, fmt.Errorf("scan conversation role: %w", err)
		}
		out[userID] = model.Role(role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// ReplaceConversationRoles overwrites the calculated roles of a conversation.
func (q *queries) ReplaceConversationRoles(ctx context.Context, conversationID string, roles map[string]model.Role) error {
	if _, err := q.q.ExecContext(ctx,
		`DELETE FROM conversation_roles WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear conversation roles of %s: %w", conversationID, err)
	}
	for userID, role := range roles {
		if role.IsNone() {
			continue
		}
		if _, err := q.q.ExecContext(ctx,
			`INSERT INTO conversation_roles (conversation_id, user_id, role) VALUES (?, ?, ?)`,
			conversationID, userID, string(role)); err != nil {
			return fmt.Errorf("insert conversation role %s/%s: %w", conversationID, userID, err)
		}
	}
	return nil
}

// ConversationRole returns the strongest role a user holds in a conversation,
// directly or through the calculated role map. NONE if neither applies.
func (q *queries) ConversationRole(ctx context.Context, conversationID, userID string) (model.Role, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT role FROM conversation_members WHERE conversation_id = ? AND member_id = ?
		UNION ALL
		SELECT role FROM conversation_roles WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID, conversationID, userID)
	if err != nil {
		return "", fmt.Errorf("conversation role %s/%s: %w", conversationID, userID, err)
	}
	defer rows.Close()

	best := model.RoleNone
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return "", fmt.Errorf("scan conversation role: %w", err)
		}
		if r := model.Role(role); r.Rank() > best.Rank() {
			best = r
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows: %w", err)
	}
	return best, nil
}

// AdjustIndexingThreads adds delta to the indexing-thread counter of each
// conversation. Counters never go below zero.
func (q *queries) AdjustIndexingThreads(ctx context.Context, conversationIDs []string, delta int) error {
	for _, id := range conversationIDs {
		_, err := q.q.ExecContext(ctx,
			`UPDATE conversations SET indexing_threads = MAX(indexing_threads + ?, 0) WHERE id = ?`, delta, id)
		if err != nil {
			return fmt.Errorf("adjust indexing threads of %s: %w", id, err)
		}
	}
	return nil
}

// ResetIndexingThreads zeroes the indexing-thread counter of each conversation.
func (q *queries) ResetIndexingThreads(ctx context.Context, conversationIDs []string) error {
	for _, id := range conversationIDs {
		if _, err := q.q.ExecContext(ctx,
			`UPDATE conversations SET indexing_threads = 0 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("reset indexing threads of %s: %w", id, err)
		}
	}
	return nil
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(&c.ID, &c.Name, &c.Scoping, &c.HierarchyID, &c.IndexingThreads)
	return c, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
