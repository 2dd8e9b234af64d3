package docsync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/memberprop/internal/model"
)

// Memory is an in-process stand-in for the document system. It keeps the
// remote membership per external group and logs every call. The CLI uses
// it when no remote endpoint is configured.
//
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	groups map[string]*remoteGroup
}

type remoteGroup struct {
	name    string
	typ     string
	members map[string]string // remote name -> external role
}

var (
	_ Client       = (*Memory)(nil)
	_ MemberLister = (*Memory)(nil)
)

// NewMemory creates an empty remote.
func NewMemory() *Memory {
	return &Memory{groups: make(map[string]*remoteGroup)}
}

// GroupCreated implements Client.
func (m *Memory) GroupCreated(_ context.Context, r model.SyncBacklogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := &remoteGroup{name: r.GroupName, typ: ExternalGroupType(r.GroupType), members: make(map[string]string)}
	for _, a := range r.Members {
		g.members[RemoteName(a.Member)] = ExternalRole(a.Role)
	}
	m.groups[r.ExternalGroupID] = g
	slog.Info("docsync: group created", "external_group_id", r.ExternalGroupID, "type", g.typ, "members", len(r.Members))
	return nil
}

// GroupMembershipAdded implements Client.
func (m *Memory) GroupMembershipAdded(_ context.Context, r model.SyncBacklogRecord) error {
	return m.put(r, "added")
}

// GroupMembershipModified implements Client.
func (m *Memory) GroupMembershipModified(_ context.Context, r model.SyncBacklogRecord) error {
	return m.put(r, "modified")
}

func (m *Memory) put(r model.SyncBacklogRecord, verb string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.group(r.ExternalGroupID)
	if err != nil {
		return err
	}
	for _, a := range r.Members {
		g.members[RemoteName(a.Member)] = ExternalRole(a.Role)
	}
	slog.Info("docsync: membership "+verb, "external_group_id", r.ExternalGroupID, "members", len(r.Members))
	return nil
}

// GroupMembershipRemoved implements Client.
func (m *Memory) GroupMembershipRemoved(_ context.Context, r model.SyncBacklogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.group(r.ExternalGroupID)
	if err != nil {
		return err
	}
	for _, a := range r.Members {
		delete(g.members, RemoteName(a.Member))
	}
	slog.Info("docsync: membership removed", "external_group_id", r.ExternalGroupID, "members", len(r.Members))
	return nil
}

// ViewGroupMembers implements MemberLister. Members are sorted by name.
func (m *Memory) ViewGroupMembers(_ context.Context, externalGroupID string) ([]RemoteMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.group(externalGroupID)
	if err != nil {
		return nil, err
	}
	out := make([]RemoteMember, 0, len(g.members))
	for name, role := range g.members {
		out = append(out, RemoteMember{Name: name, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoveGroupMembersByName implements MemberLister.
func (m *Memory) RemoveGroupMembersByName(_ context.Context, externalGroupID string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.group(externalGroupID)
	if err != nil {
		return err
	}
	for _, n := range names {
		delete(g.members, n)
	}
	return nil
}

// group requires m.mu held. Unknown groups are created on first touch, the
// way the document system provisions a group on its first membership call.
func (m *Memory) group(externalGroupID string) (*remoteGroup, error) {
	if externalGroupID == "" {
		return nil, fmt.Errorf("empty external group id")
	}
	g, ok := m.groups[externalGroupID]
	if !ok {
		g = &remoteGroup{members: make(map[string]string)}
		m.groups[externalGroupID] = g
	}
	return g, nil
}
