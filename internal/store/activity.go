package store

import (
	"context"
	"fmt"

	"github.com/roach88/memberprop/internal/model"
)

// AppendActivity writes an activity entry and returns its sequence number.
func (q *queries) AppendActivity(ctx context.Context, e model.ActivityEntry) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO activity_log (action, group_id, member_id, actor_id, detail, stack, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(e.Action), e.GroupID, e.MemberID, e.ActorID, e.Detail, e.Stack, toMillis(e.At))
	if err != nil {
		return 0, fmt.Errorf("append activity for %s: %w", e.GroupID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("activity seq: %w", err)
	}
	return seq, nil
}

// ActivityEntries returns the activity of a group in append order.
// An empty groupID returns every entry.
func (q *queries) ActivityEntries(ctx context.Context, groupID string) ([]model.ActivityEntry, error) {
	query := `SELECT seq, action, group_id, member_id, actor_id, detail, stack, created_at FROM activity_log`
	var args []any
	if groupID != "" {
		query += ` WHERE group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY seq`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		var action string
		var at int64
		if err := rows.Scan(&e.Seq, &action, &e.GroupID, &e.MemberID, &e.ActorID, &e.Detail, &e.Stack, &at); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Action = model.ActivityAction(action)
		e.At = fromMillis(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
