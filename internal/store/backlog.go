package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/memberprop/internal/model"
)

const backlogColumns = `id, seq, actor_id, group_id, external_group_id, operation, members,
	group_type, group_name, status_code, status_message, created_at`

// BacklogFilter narrows BacklogRecords. Zero fields match everything.
type BacklogFilter struct {
	GroupID    string
	StatusCode string
	Operation  model.SyncOperation
}

// InsertBacklogRecord persists a sync backlog record. A zero Seq is
// replaced with the next sequence number, which is written back into r.
func (q *queries) InsertBacklogRecord(ctx context.Context, r *model.SyncBacklogRecord) error {
	if r.Seq == 0 {
		seq, err := q.MaxBacklogSeq(ctx)
		if err != nil {
			return err
		}
		r.Seq = seq + 1
	}
	if r.StatusCode == "" {
		r.StatusCode = model.SyncStatusInit
	}
	members, err := model.EncodeRoleAssignments(r.Members)
	if err != nil {
		return fmt.Errorf("encode backlog members: %w", err)
	}

	created := toMillis(r.CreatedAt)
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO sync_backlog (`+backlogColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Seq, r.ActorID, r.GroupID, r.ExternalGroupID, string(r.Operation), string(members),
		string(r.GroupType), r.GroupName, r.StatusCode, r.StatusMessage, created, created)
	if err != nil {
		return fmt.Errorf("insert backlog record %s: %w", r.ID, err)
	}
	return nil
}

// MaxBacklogSeq returns the highest backlog sequence number, or 0.
func (q *queries) MaxBacklogSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := q.q.QueryRowContext(ctx, `SELECT MAX(seq) FROM sync_backlog`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max backlog seq: %w", err)
	}
	return seq.Int64, nil
}

// BacklogRecord returns one record by ID.
func (q *queries) BacklogRecord(ctx context.Context, id string) (model.SyncBacklogRecord, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+backlogColumns+` FROM sync_backlog WHERE id = ?`, id)
	r, err := scanBacklog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncBacklogRecord{}, fmt.Errorf("backlog record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.SyncBacklogRecord{}, fmt.Errorf("backlog record %s: %w", id, err)
	}
	return r, nil
}

// BacklogRecords returns matching records ordered by sequence number.
func (q *queries) BacklogRecords(ctx context.Context, f BacklogFilter) ([]model.SyncBacklogRecord, error) {
	query := `SELECT ` + backlogColumns + ` FROM sync_backlog WHERE 1 = 1`
	var args []any
	if f.GroupID != "" {
		query += ` AND group_id = ?`
		args = append(args, f.GroupID)
	}
	if f.StatusCode != "" {
		query += ` AND status_code = ?`
		args = append(args, f.StatusCode)
	}
	if f.Operation != "" {
		query += ` AND operation = ?`
		args = append(args, string(f.Operation))
	}
	query += ` ORDER BY seq`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query backlog: %w", err)
	}
	defer rows.Close()

	var out []model.SyncBacklogRecord
	for rows.Next() {
		r, err := scanBacklog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backlog: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// UpdateBacklogStatus records the outcome of an external delivery attempt.
func (q *queries) UpdateBacklogStatus(ctx context.Context, id, code, message string) error {
	return q.execOne(ctx, "backlog record "+id, `
		UPDATE sync_backlog SET status_code = ?, status_message = ?, updated_at = ? WHERE id = ?
	`, code, message, toMillis(q.now()), id)
}

func scanBacklog(row rowScanner) (model.SyncBacklogRecord, error) {
	var r model.SyncBacklogRecord
	var op, members, typ string
	var created int64
	err := row.Scan(&r.ID, &r.Seq, &r.ActorID, &r.GroupID, &r.ExternalGroupID, &op, &members,
		&typ, &r.GroupName, &r.StatusCode, &r.StatusMessage, &created)
	if err != nil {
		return model.SyncBacklogRecord{}, err
	}
	r.Operation = model.SyncOperation(op)
	r.GroupType = model.GroupType(typ)
	r.CreatedAt = fromMillis(created)
	r.Members, err = model.DecodeRoleAssignments([]byte(members))
	if err != nil {
		return model.SyncBacklogRecord{}, fmt.Errorf("decode members of %s: %w", r.ID, err)
	}
	return r, nil
}
