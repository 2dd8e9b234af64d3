package model

import (
	"fmt"
	"strings"
)

// Locator identifies which field of a ChangeRequest names the member.
type Locator int

const (
	LocateNone Locator = iota
	LocateByMemberID
	LocateByGroupID
	LocateByUserName
	LocateByGroupName
	LocateByConversation
)

// String implements fmt.Stringer.
func (l Locator) String() string {
	switch l {
	case LocateByMemberID:
		return "member_id"
	case LocateByGroupID:
		return "group_id"
	case LocateByUserName:
		return "user_name"
	case LocateByGroupName:
		return "group_name"
	case LocateByConversation:
		return "conversation_id"
	default:
		return "none"
	}
}

// ChangeRequest asks for one member to be added to or removed from a Group.
//
// Exactly one locator is honoured; when several are set the first in
// Locator order wins.
type ChangeRequest struct {
	MemberID       string `json:"member_id,omitempty" yaml:"member_id,omitempty"`
	GroupID        string `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	UserName       string `json:"user_name,omitempty" yaml:"user_name,omitempty"`
	UserRealmID    string `json:"user_realm_id,omitempty" yaml:"user_realm_id,omitempty"`
	SendInvitation bool   `json:"send_invitation,omitempty" yaml:"send_invitation,omitempty"`
	GroupName      string `json:"group_name,omitempty" yaml:"group_name,omitempty"`
	GroupRealmID   string `json:"group_realm_id,omitempty" yaml:"group_realm_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Delete         bool   `json:"delete,omitempty" yaml:"delete,omitempty"`
	Role           Role   `json:"role,omitempty" yaml:"role,omitempty"`
}

// Locator returns the locator that resolution will use.
func (c ChangeRequest) Locator() Locator {
	switch {
	case c.MemberID != "":
		return LocateByMemberID
	case strings.TrimSpace(c.GroupID) != "":
		return LocateByGroupID
	case c.UserName != "":
		return LocateByUserName
	case c.GroupName != "":
		return LocateByGroupName
	case c.ConversationID != "":
		return LocateByConversation
	default:
		return LocateNone
	}
}

// String renders every field, for failure logs.
func (c ChangeRequest) String() string {
	return fmt.Sprintf("ChangeRequest{member_id=%q, user_name=%q, user_realm_id=%q, group_name=%q, group_id=%q, group_realm_id=%q, conversation_id=%q, send_invitation=%t, delete=%t, role=%s}",
		c.MemberID, c.UserName, c.UserRealmID, c.GroupName, c.GroupID, c.GroupRealmID, c.ConversationID, c.SendInvitation, c.Delete, c.Role)
}

// AddMember is shorthand for an add-by-ID request.
func AddMember(id string, role Role) ChangeRequest {
	return ChangeRequest{MemberID: id, Role: role}
}

// RemoveMember is shorthand for a remove-by-ID request.
func RemoveMember(id string) ChangeRequest {
	return ChangeRequest{MemberID: id, Delete: true}
}
