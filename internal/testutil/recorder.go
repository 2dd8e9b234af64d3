package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/memberprop/internal/docsync"
	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
)

// TraceSyncReplayed is the trace type of a record delivered to the
// document system.
const TraceSyncReplayed = "SYNC_REPLAYED"

// TraceLine is one observable effect of a batch: an event on the bus or a
// delivery to the document system.
type TraceLine struct {
	Seq             int      `json:"seq"`
	Type            string   `json:"type"`
	Group           string   `json:"group,omitempty"`
	Member          string   `json:"member,omitempty"`
	Added           []string `json:"added,omitempty"`
	Removed         []string `json:"removed,omitempty"`
	AccessibleUsers *int     `json:"accessible_users,omitempty"`
	Operation       string   `json:"operation,omitempty"`
	Conversation    string   `json:"conversation,omitempty"`
	SendMail        bool     `json:"send_mail,omitempty"`
	Consolidate     bool     `json:"consolidate,omitempty"`
}

// Recorder captures events and docs-sync deliveries into one ordered trace.
//
// Thread-safety: safe for concurrent use; the worker may deliver while a
// test goroutine reads.
type Recorder struct {
	mu    sync.Mutex
	lines []TraceLine
}

var _ events.Listener = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnEvent implements events.Listener.
func (r *Recorder) OnEvent(_ context.Context, ev events.Event) {
	line := TraceLine{
		Type:    string(ev.Type),
		Group:   ev.Group.ID,
		Member:  ev.Member.ID,
		Added:   assignments(ev.Added),
		Removed: memberIDs(ev.Removed),
	}
	switch ev.Type {
	case events.GroupAccessible, events.GroupInaccessible, events.GroupMembersChanged, events.GroupMembershipChanged:
		n := ev.Group.AccessibleUsers
		line.AccessibleUsers = &n
	case events.BacklogObjectCreated:
		if ev.Record != nil {
			line.Operation = string(ev.Record.Operation)
			line.Added = assignments(ev.Record.MemberRoles())
		}
	case events.ConversationReindexed:
		if ev.Conversation != nil {
			line.Conversation = ev.Conversation.ID
		}
		line.SendMail = ev.SendMail
		line.Consolidate = ev.ConsolidateFollowup
	}
	r.append(line)
}

// Client wraps next so that every successful delivery is traced as
// SYNC_REPLAYED.
func (r *Recorder) Client(next docsync.Client) docsync.Client {
	return &recordingClient{next: next, rec: r}
}

// Lines returns a copy of the trace.
func (r *Recorder) Lines() []TraceLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceLine(nil), r.lines...)
}

// Types returns the trace's types in order.
func (r *Recorder) Types() []string {
	lines := r.Lines()
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Type
	}
	return out
}

// Count returns how many lines have the given type.
func (r *Recorder) Count(typ string) int {
	n := 0
	for _, l := range r.Lines() {
		if l.Type == typ {
			n++
		}
	}
	return n
}

// Reset drops the trace.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}

// JSONLines renders the trace as one JSON object per line.
func (r *Recorder) JSONLines() ([]byte, error) {
	return EncodeTrace(r.Lines())
}

// EncodeTrace renders trace lines as one JSON object per line.
func EncodeTrace(lines []TraceLine) ([]byte, error) {
	var b strings.Builder
	for _, l := range lines {
		data, err := json.Marshal(l)
		if err != nil {
			return nil, fmt.Errorf("marshal trace line %d: %w", l.Seq, err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func (r *Recorder) append(l TraceLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.Seq = len(r.lines) + 1
	r.lines = append(r.lines, l)
}

type recordingClient struct {
	next docsync.Client
	rec  *Recorder
}

func (c *recordingClient) deliver(ctx context.Context, rec model.SyncBacklogRecord, fn func(context.Context, model.SyncBacklogRecord) error) error {
	if err := fn(ctx, rec); err != nil {
		return err
	}
	c.rec.append(TraceLine{
		Type:      TraceSyncReplayed,
		Group:     rec.GroupID,
		Operation: string(rec.Operation),
		Added:     assignments(rec.MemberRoles()),
	})
	return nil
}

func (c *recordingClient) GroupCreated(ctx context.Context, r model.SyncBacklogRecord) error {
	return c.deliver(ctx, r, c.next.GroupCreated)
}

func (c *recordingClient) GroupMembershipAdded(ctx context.Context, r model.SyncBacklogRecord) error {
	return c.deliver(ctx, r, c.next.GroupMembershipAdded)
}

func (c *recordingClient) GroupMembershipModified(ctx context.Context, r model.SyncBacklogRecord) error {
	return c.deliver(ctx, r, c.next.GroupMembershipModified)
}

func (c *recordingClient) GroupMembershipRemoved(ctx context.Context, r model.SyncBacklogRecord) error {
	return c.deliver(ctx, r, c.next.GroupMembershipRemoved)
}

// ViewGroupMembers forwards to next when it can list members.
func (c *recordingClient) ViewGroupMembers(ctx context.Context, externalGroupID string) ([]docsync.RemoteMember, error) {
	l, ok := c.next.(docsync.MemberLister)
	if !ok {
		return nil, fmt.Errorf("%T cannot list members", c.next)
	}
	return l.ViewGroupMembers(ctx, externalGroupID)
}

// RemoveGroupMembersByName forwards to next when it can list members.
func (c *recordingClient) RemoveGroupMembersByName(ctx context.Context, externalGroupID string, names []string) error {
	l, ok := c.next.(docsync.MemberLister)
	if !ok {
		return fmt.Errorf("%T cannot remove members by name", c.next)
	}
	return l.RemoveGroupMembersByName(ctx, externalGroupID, names)
}

// assignments renders "id=ROLE" entries in ID order.
func assignments(s model.RoleSet) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for _, a := range s.Sorted() {
		out = append(out, a.Member.ID+"="+string(a.Role))
	}
	return out
}

func memberIDs(ms []model.Member) []string {
	if len(ms) == 0 {
		return nil
	}
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
