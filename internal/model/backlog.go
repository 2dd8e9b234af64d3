package model

import "time"

// SyncOperation is the kind of change owed to the external document system.
type SyncOperation string

const (
	SyncCreate       SyncOperation = "CREATE"
	SyncMemberAdd    SyncOperation = "MEMBER_ADD"
	SyncMemberModify SyncOperation = "MEMBER_MODIFY"
	SyncMemberRemove SyncOperation = "MEMBER_REMOVE"
)

// Local backlog status codes. INIT is set at creation; the external-sync
// collaborator moves a record to a terminal status.
const (
	SyncStatusInit    = "INIT"
	SyncStatusSuccess = "SUCCESS"
	SyncStatusFailed  = "FAILED"
)

// SyncBacklogRecord is a durable intent describing one pending external
// sync operation.
type SyncBacklogRecord struct {
	ID              string           `json:"id"`
	Seq             int64            `json:"seq"`
	ActorID         string           `json:"actor_id"`
	GroupID         string           `json:"group_id"`
	ExternalGroupID string           `json:"external_group_id"`
	Operation       SyncOperation    `json:"operation"`
	Members         []RoleAssignment `json:"members"`
	GroupType       GroupType        `json:"group_type"`
	GroupName       string           `json:"group_name"`
	StatusCode      string           `json:"status_code"`
	StatusMessage   string           `json:"status_message"`
	CreatedAt       time.Time        `json:"created_at"`
}

// MemberRoles returns the record's members as a RoleSet.
func (r SyncBacklogRecord) MemberRoles() RoleSet {
	s := make(RoleSet, len(r.Members))
	for _, a := range r.Members {
		s[a.Member.ID] = a
	}
	return s
}
