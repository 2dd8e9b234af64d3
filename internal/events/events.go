// Package events carries membership notifications from the engine to
// listeners.
//
// Dispatch is synchronous: Fire calls every registered listener in
// registration order on the caller's goroutine, inside the caller's
// transaction. The listener's context carries that transaction
// (store.TxFrom); listeners must read through it, since the store's only
// connection is held until commit, and can defer durable side effects with
// its OnCommit.
package events

import (
	"context"
	"sync"

	"github.com/roach88/memberprop/internal/model"
)

// EventType distinguishes between notification kinds.
type EventType string

const (
	// GroupAccessible fires once per user that became an exploded member.
	GroupAccessible EventType = "GROUP_ACCESSIBLE"
	// GroupInaccessible fires once per user that stopped being an exploded member.
	GroupInaccessible EventType = "GROUP_INACCESSIBLE"
	// GroupMembershipChanged carries the exploded user delta of a group.
	GroupMembershipChanged EventType = "GROUP_MEMBERSHIP_CHANGED"
	// GroupMembersChanged carries the direct member delta of a group,
	// including members whose role changed.
	GroupMembersChanged EventType = "GROUP_MEMBERS_CHANGED"
	// GroupOrphaned fires when a group is left with no exploded members.
	GroupOrphaned EventType = "GROUP_ORPHANED"
	// BacklogObjectCreated fires when a sync backlog record is persisted.
	BacklogObjectCreated EventType = "BACKLOG_OBJECT_CREATED"
	// ConversationReindexed fires after a conversation's roles are recomputed.
	ConversationReindexed EventType = "CONVERSATION_REINDEXED"
	// UserInvited fires when a shadow user is created with an invitation.
	UserInvited EventType = "USER_INVITED"
)

// Event is one notification. Which fields are set depends on Type.
type Event struct {
	Type         EventType
	Group        model.Group
	Member       model.Member
	Added        model.RoleSet
	Removed      []model.Member
	Record       *model.SyncBacklogRecord
	Conversation *model.Conversation
	// SendMail reports whether accessibility mail should go out for a
	// reindexed conversation.
	SendMail bool
	// ConsolidateFollowup asks the mail sender to fold follow-up
	// notifications of closed conversations into one message.
	ConsolidateFollowup bool
}

// Listener receives events.
type Listener interface {
	OnEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Bus fans events out to listeners.
//
// Thread-safety: Register and Fire may be called concurrently.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewBus creates a bus with the given listeners.
func NewBus(listeners ...Listener) *Bus {
	return &Bus{listeners: listeners}
}

// Register adds a listener.
func (b *Bus) Register(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Fire delivers ev to every listener in registration order.
func (b *Bus) Fire(ctx context.Context, ev Event) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		l.OnEvent(ctx, ev)
	}
}
