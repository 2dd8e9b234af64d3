// Package policy decides whether an actor may change or see group membership.
package policy

import (
	"context"
	"fmt"

	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/session"
)

// Directory is the read access the checks need. *store.Tx and *store.Store
// implement it.
type Directory interface {
	DirectRole(ctx context.Context, groupID, memberID string) (model.Role, error)
	IsExplodedMember(ctx context.Context, groupID, memberID string) (bool, error)
	ConversationRole(ctx context.Context, conversationID, userID string) (model.Role, error)
}

// Checker is the privilege-check collaborator of the engine.
type Checker interface {
	CheckAddMember(ctx context.Context, d Directory, actor model.User, g model.Group, m model.Member, role model.Role) error
	CheckRemoveMember(ctx context.Context, d Directory, actor model.User, g model.Group, m model.Member) error
	CheckDiscoverer(ctx context.Context, d Directory, actor model.User, conversationID string) error
	CanViewGroup(ctx context.Context, d Directory, actor model.User, g model.Group) (bool, error)
}

// DeniedError reports a failed privilege check.
type DeniedError struct {
	Action  string
	ActorID string
	Target  string
	Reason  string
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied for %s on %s: %s", e.Action, e.ActorID, e.Target, e.Reason)
}

// Default implements the standard group rules:
//   - admins may do anything
//   - owners and managers may add and remove members of native groups
//   - identity-provider groups are changed by admins only
//   - any user may join a public-open group as a plain member and may leave
//     any group
//
// Derived recomputations (session.WithIndexing) skip the membership checks.
type Default struct{}

var _ Checker = Default{}

// CheckAddMember implements Checker.
func (Default) CheckAddMember(ctx context.Context, d Directory, actor model.User, g model.Group, m model.Member, role model.Role) error {
	if actor.Admin || session.IsIndexing(ctx) {
		return nil
	}
	deny := func(reason string) error {
		return &DeniedError{Action: "add member " + m.ID, ActorID: actor.ID, Target: g.ID, Reason: reason}
	}
	if g.Origin == model.OriginIdP {
		return deny("membership is mastered by the identity provider")
	}
	ok, err := canManage(ctx, d, actor, g)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if m.ID == actor.ID && g.Type == model.GroupTypePublicOpen && !role.IsManager() {
		return nil
	}
	return deny("not owner or manager")
}

// CheckRemoveMember implements Checker.
func (Default) CheckRemoveMember(ctx context.Context, d Directory, actor model.User, g model.Group, m model.Member) error {
	if actor.Admin || m.ID == actor.ID || session.IsIndexing(ctx) {
		return nil
	}
	deny := func(reason string) error {
		return &DeniedError{Action: "remove member " + m.ID, ActorID: actor.ID, Target: g.ID, Reason: reason}
	}
	if g.Origin == model.OriginIdP {
		return deny("membership is mastered by the identity provider")
	}
	ok, err := canManage(ctx, d, actor, g)
	if err != nil {
		return err
	}
	if !ok {
		return deny("not owner or manager")
	}
	return nil
}

// CheckDiscoverer requires a non-NONE role on the conversation.
func (Default) CheckDiscoverer(ctx context.Context, d Directory, actor model.User, conversationID string) error {
	if actor.Admin {
		return nil
	}
	role, err := d.ConversationRole(ctx, conversationID, actor.ID)
	if err != nil {
		return err
	}
	if role.IsNone() {
		return &DeniedError{Action: "discover", ActorID: actor.ID, Target: conversationID, Reason: "no role on conversation"}
	}
	return nil
}

// CanViewGroup hides private-closed groups of the internal realm from
// everyone but admins, the owner and exploded members.
func (Default) CanViewGroup(ctx context.Context, d Directory, actor model.User, g model.Group) (bool, error) {
	if actor.Admin || g.RealmExternal || g.Type != model.GroupTypePrivateClosed || g.OwnerID == actor.ID {
		return true, nil
	}
	return d.IsExplodedMember(ctx, g.ID, actor.ID)
}

func canManage(ctx context.Context, d Directory, actor model.User, g model.Group) (bool, error) {
	if g.OwnerID != "" && g.OwnerID == actor.ID {
		return true, nil
	}
	role, err := d.DirectRole(ctx, g.ID, actor.ID)
	if err != nil {
		return false, err
	}
	return role.IsManager(), nil
}
