package docsync

import (
	"strings"

	"github.com/roach88/memberprop/internal/model"
)

const (
	externalGroupPrefix = "dGroupID:"
	remoteGroupPrefix   = "GS"
)

// ExternalGroupID maps a group ID to its identifier in the document system.
func ExternalGroupID(groupID string) string {
	return externalGroupPrefix + groupID
}

// GroupIDFromExternal reverses ExternalGroupID.
func GroupIDFromExternal(external string) (string, bool) {
	return strings.CutPrefix(external, externalGroupPrefix)
}

// RemoteGroupName is the member name under which a nested group appears in
// the document system.
func RemoteGroupName(groupID string) string {
	return remoteGroupPrefix + groupID
}

// ExternalGroupType maps a group type to the document system's group type.
func ExternalGroupType(t model.GroupType) string {
	switch t {
	case model.GroupTypePrivateClosed:
		return "app_private"
	case model.GroupTypePublicClosed:
		return "app_public_closed"
	case model.GroupTypePublicOpen:
		return "app_public_open"
	default:
		return "static"
	}
}

// ExternalRole maps a conversation role to the document system's role.
func ExternalRole(r model.Role) string {
	if r == model.RoleGroupManager {
		return "manager"
	}
	return "downloader"
}

// RoleFromExternal reverses ExternalRole.
func RoleFromExternal(s string) model.Role {
	if s == "manager" {
		return model.RoleGroupManager
	}
	return model.RoleGroupMember
}

// RemoteName is the name a member is known by in the document system.
func RemoteName(m model.Member) string {
	if m.IsGroup() {
		return RemoteGroupName(m.ID)
	}
	return m.Name
}
