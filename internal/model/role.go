package model

import (
	"fmt"
	"strings"
)

// Role is a member's conversation role within a Group or Conversation.
type Role string

const (
	RoleNone         Role = "NONE"
	RoleMember       Role = "MEMBER"
	RoleGroupMember  Role = "GROUP_MEMBER"
	RoleManager      Role = "MANAGER"
	RoleGroupManager Role = "GROUP_MANAGER"
)

// ParseRole validates a role string. Empty means GROUP_MEMBER.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case "":
		return RoleGroupMember, nil
	case RoleNone, RoleMember, RoleGroupMember, RoleManager, RoleGroupManager:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsNone reports whether the role grants nothing.
func (r Role) IsNone() bool { return r == "" || r == RoleNone }

// IsManager reports whether the role carries management rights.
func (r Role) IsManager() bool { return r == RoleManager || r == RoleGroupManager }

// Rank orders roles by privilege; higher wins when roles are combined.
func (r Role) Rank() int {
	switch r {
	case RoleMember, RoleGroupMember:
		return 1
	case RoleManager, RoleGroupManager:
		return 2
	default:
		return 0
	}
}

// UnmarshalText lets YAML and JSON decoders accept lower-case role names.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
