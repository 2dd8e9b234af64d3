package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MemberKind discriminates the Member variant.
type MemberKind int

const (
	// MemberKindUser is a User member.
	MemberKindUser MemberKind = iota + 1
	// MemberKindGroup is a Group member.
	MemberKindGroup
)

// String implements fmt.Stringer.
func (k MemberKind) String() string {
	switch k {
	case MemberKindUser:
		return "user"
	case MemberKindGroup:
		return "group"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Member is anything that can belong to a Group: a User or another Group.
//
// Members are resolved once at the boundary and carried by value afterwards.
// Two Members are the same member iff their IDs are equal.
type Member struct {
	ID          string     `json:"id" yaml:"id"`
	Kind        MemberKind `json:"kind" yaml:"kind"`
	Name        string     `json:"name" yaml:"name"`
	DisplayName string     `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
}

// IsUser reports whether the member is a User.
func (m Member) IsUser() bool { return m.Kind == MemberKindUser }

// IsGroup reports whether the member is a Group.
func (m Member) IsGroup() bool { return m.Kind == MemberKindGroup }

// Label returns the display name, falling back to the name.
func (m Member) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}

// String implements fmt.Stringer.
func (m Member) String() string {
	return fmt.Sprintf("%s:%s(%s)", m.Kind, m.Name, m.ID)
}

// User is a person account.
type User struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	RealmID     string `json:"realm_id,omitempty" yaml:"realm_id,omitempty"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	// Outsider users belong to a foreign realm and may not join Groups.
	Outsider bool `json:"outsider,omitempty" yaml:"outsider,omitempty"`
	// Admin users pass every privilege check.
	Admin bool `json:"admin,omitempty" yaml:"admin,omitempty"`
	// Shadow marks a placeholder created on first reference.
	Shadow bool `json:"shadow,omitempty" yaml:"shadow,omitempty"`
}

// Member returns the user as a Member.
func (u User) Member() Member {
	return Member{ID: u.ID, Kind: MemberKindUser, Name: u.Name, DisplayName: u.DisplayName, Enabled: u.Enabled}
}

// GroupType controls who may see and join a Group.
type GroupType string

const (
	GroupTypePrivateClosed GroupType = "private_closed"
	GroupTypePublicClosed  GroupType = "public_closed"
	GroupTypePublicOpen    GroupType = "public_open"
	GroupTypeStatic        GroupType = "static"
)

// ParseGroupType validates a group type string. Empty means public_open.
func ParseGroupType(s string) (GroupType, error) {
	switch GroupType(strings.ToLower(s)) {
	case "":
		return GroupTypePublicOpen, nil
	case GroupTypePrivateClosed, GroupTypePublicClosed, GroupTypePublicOpen, GroupTypeStatic:
		return GroupType(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown group type %q", s)
	}
}

// OriginType records where a Group's membership is mastered.
type OriginType string

const (
	OriginNative OriginType = "native"
	OriginIdP    OriginType = "idp"
)

// Group is a named set of Members.
type Group struct {
	ID string `json:"id" yaml:"id"`
	// GroupID is the stable string identifier shared with the external
	// document system.
	GroupID     string     `json:"group_id" yaml:"group_id"`
	Name        string     `json:"name" yaml:"name"`
	DisplayName string     `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Type        GroupType  `json:"type" yaml:"type"`
	Origin      OriginType `json:"origin" yaml:"origin"`
	OwnerID     string     `json:"owner_id" yaml:"owner_id"`
	// RealmExternal groups are visible to everyone.
	RealmExternal   bool `json:"realm_external,omitempty" yaml:"realm_external,omitempty"`
	Enabled         bool `json:"enabled" yaml:"enabled"`
	AccessibleUsers int  `json:"accessible_users" yaml:"accessible_users"`
	Shadow          bool `json:"shadow,omitempty" yaml:"shadow,omitempty"`
}

// Member returns the group as a Member.
func (g Group) Member() Member {
	return Member{ID: g.ID, Kind: MemberKindGroup, Name: g.Name, DisplayName: g.DisplayName, Enabled: g.Enabled}
}

// MembershipEdge is one direct (Group, Member, Role) fact.
type MembershipEdge struct {
	GroupID string    `json:"group_id"`
	Member  Member    `json:"member"`
	Role    Role      `json:"role"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// Conversation is a space whose access may derive from Group membership.
type Conversation struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Scoping conversations derive membership from Group access and gate
	// access for dependents.
	Scoping bool `json:"scoping" yaml:"scoping"`
	// HierarchyID names the shared Hierarchical-Members object, if any.
	HierarchyID string `json:"hierarchy_id,omitempty" yaml:"hierarchy_id,omitempty"`
	// IndexingThreads counts background reindex passes in flight.
	IndexingThreads int `json:"indexing_threads" yaml:"indexing_threads"`
}

// RoleAssignment pairs a member with a role.
type RoleAssignment struct {
	Member Member `json:"member"`
	Role   Role   `json:"role"`
}

// RoleSet maps member ID to assignment.
type RoleSet map[string]RoleAssignment

// Put sets the member's role, replacing any previous one.
func (s RoleSet) Put(m Member, r Role) {
	s[m.ID] = RoleAssignment{Member: m, Role: r}
}

// Raise sets the member's role only if it outranks the current one.
func (s RoleSet) Raise(m Member, r Role) {
	if cur, ok := s[m.ID]; ok && cur.Role.Rank() >= r.Rank() {
		return
	}
	s.Put(m, r)
}

// Has reports whether the member ID is present.
func (s RoleSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the member IDs in ascending order.
func (s RoleSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sorted returns the assignments ordered by member ID.
func (s RoleSet) Sorted() []RoleAssignment {
	out := make([]RoleAssignment, 0, len(s))
	for _, id := range s.IDs() {
		out = append(out, s[id])
	}
	return out
}

// Members returns the members ordered by ID.
func (s RoleSet) Members() []Member {
	out := make([]Member, 0, len(s))
	for _, id := range s.IDs() {
		out = append(out, s[id].Member)
	}
	return out
}

// Users returns the subset of User members.
func (s RoleSet) Users() RoleSet {
	out := make(RoleSet)
	for id, a := range s {
		if a.Member.IsUser() {
			out[id] = a
		}
	}
	return out
}

// Clone returns a shallow copy.
func (s RoleSet) Clone() RoleSet {
	out := make(RoleSet, len(s))
	for id, a := range s {
		out[id] = a
	}
	return out
}

// Minus returns the assignments whose IDs are absent from other.
func (s RoleSet) Minus(other RoleSet) RoleSet {
	out := make(RoleSet)
	for id, a := range s {
		if !other.Has(id) {
			out[id] = a
		}
	}
	return out
}

// Equal reports whether both sets hold the same IDs with the same roles.
func (s RoleSet) Equal(other RoleSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id, a := range s {
		b, ok := other[id]
		if !ok || a.Role != b.Role {
			return false
		}
	}
	return true
}

// NewRoleSet builds a RoleSet giving every member the same role.
func NewRoleSet(role Role, members ...Member) RoleSet {
	s := make(RoleSet, len(members))
	for _, m := range members {
		s.Put(m, role)
	}
	return s
}

// SortMembers orders members by ID in place and returns them.
func SortMembers(ms []Member) []Member {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
	return ms
}

// ActivityAction names an activity log entry.
type ActivityAction string

const (
	ActivityMemberAdded        ActivityAction = "GROUP_MEMBER_ADDED"
	ActivityMemberRemoved      ActivityAction = "GROUP_MEMBER_REMOVED"
	ActivityMemberChangeFailed ActivityAction = "GROUP_MEMBER_CHANGE_FAILED"
)

// ActivityEntry is one audit record.
type ActivityEntry struct {
	Seq      int64          `json:"seq"`
	Action   ActivityAction `json:"action"`
	GroupID  string         `json:"group_id"`
	MemberID string         `json:"member_id,omitempty"`
	ActorID  string         `json:"actor_id,omitempty"`
	Detail   string         `json:"detail,omitempty"`
	Stack    string         `json:"stack,omitempty"`
	At       time.Time      `json:"at"`
}
