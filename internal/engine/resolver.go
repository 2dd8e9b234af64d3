package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/store"
)

// resolveForAdd turns an add request into concrete role assignments.
// A conversation locator expands to every direct member of that
// conversation, each granted the requested role.
func (r *run) resolveForAdd(ctx context.Context, g model.Group, req model.ChangeRequest, role model.Role) ([]model.RoleAssignment, error) {
	switch req.Locator() {
	case model.LocateByMemberID:
		m, err := r.tx.Member(ctx, req.MemberID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &MembershipError{Code: ErrCodeMemberNotFound, Message: fmt.Sprintf("member %s not found", req.MemberID), GroupID: g.ID, MemberID: req.MemberID}
		}
		if err != nil {
			return nil, err
		}
		if err := r.checkOutsider(ctx, g, m); err != nil {
			return nil, err
		}
		return []model.RoleAssignment{{Member: m, Role: role}}, nil

	case model.LocateByGroupID:
		mg, err := r.groupByGroupID(ctx, g, req.GroupID)
		if err != nil {
			return nil, err
		}
		return []model.RoleAssignment{{Member: mg.Member(), Role: role}}, nil

	case model.LocateByUserName:
		u, created, err := r.tx.FindOrShadowUser(ctx, req.UserRealmID, req.UserName, r.e.ids)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &MembershipError{Code: ErrCodeUserNotFound, Message: fmt.Sprintf("user %q not found", req.UserName), GroupID: g.ID}
		}
		if err != nil {
			return nil, err
		}
		if created {
			slog.Info("created shadow user", "batch", r.batchNo, "user_id", u.ID, "name", u.Name, "realm_id", u.RealmID)
			if req.SendInvitation {
				r.e.bus.Fire(ctx, events.Event{Type: events.UserInvited, Group: g, Member: u.Member()})
			}
		}
		if u.Outsider {
			return nil, outsiderError(g, u.Member())
		}
		return []model.RoleAssignment{{Member: u.Member(), Role: role}}, nil

	case model.LocateByGroupName:
		mg, created, err := r.tx.FindOrShadowGroup(ctx, req.GroupName, r.e.ids)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &MembershipError{Code: ErrCodeGroupNotFound, Message: fmt.Sprintf("group %q not found", req.GroupName), GroupID: g.ID}
		}
		if err != nil {
			return nil, err
		}
		if created {
			slog.Info("created shadow group", "batch", r.batchNo, "group_id", mg.ID, "name", mg.Name)
		}
		return []model.RoleAssignment{{Member: mg.Member(), Role: role}}, nil

	case model.LocateByConversation:
		return r.resolveConversation(ctx, g, req.ConversationID, role)

	default:
		return nil, &MembershipError{Code: ErrCodeNoMemberLocator, Message: "no member locator specified", GroupID: g.ID}
	}
}

func (r *run) resolveConversation(ctx context.Context, g model.Group, conversationID string, role model.Role) ([]model.RoleAssignment, error) {
	c, err := r.tx.Conversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &MembershipError{Code: ErrCodeMemberNotFound, Message: fmt.Sprintf("conversation %s not found", conversationID), GroupID: g.ID}
	}
	if err != nil {
		return nil, err
	}
	if !r.trusted {
		if err := r.e.checker.CheckDiscoverer(ctx, r.tx, r.actor, c.ID); err != nil {
			return nil, privilegeError(g.ID, "", err)
		}
	}

	members, err := r.tx.ConversationMembers(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	out := make([]model.RoleAssignment, 0, len(members))
	for _, a := range members.Sorted() {
		if err := r.checkOutsider(ctx, g, a.Member); err != nil {
			return nil, err
		}
		out = append(out, model.RoleAssignment{Member: a.Member, Role: role})
	}
	return out, nil
}

// resolveForRemove accepts only the member ID, group ID and user name
// locators.
func (r *run) resolveForRemove(ctx context.Context, g model.Group, req model.ChangeRequest) (model.Member, error) {
	switch req.Locator() {
	case model.LocateByMemberID:
		m, err := r.tx.Member(ctx, req.MemberID)
		if errors.Is(err, store.ErrNotFound) {
			return model.Member{}, &MembershipError{Code: ErrCodeMemberNotFound, Message: fmt.Sprintf("member %s not found", req.MemberID), GroupID: g.ID, MemberID: req.MemberID}
		}
		return m, err

	case model.LocateByGroupID:
		mg, err := r.groupByGroupID(ctx, g, req.GroupID)
		if err != nil {
			return model.Member{}, err
		}
		return mg.Member(), nil

	case model.LocateByUserName:
		u, err := r.tx.UserByName(ctx, req.UserName)
		if errors.Is(err, store.ErrNotFound) {
			return model.Member{}, &MembershipError{Code: ErrCodeUserNotFound, Message: fmt.Sprintf("user %q not found", req.UserName), GroupID: g.ID}
		}
		if err != nil {
			return model.Member{}, err
		}
		return u.Member(), nil

	default:
		return model.Member{}, &MembershipError{Code: ErrCodeNoMemberLocator, Message: "no member locator specified for removal", GroupID: g.ID}
	}
}

func (r *run) groupByGroupID(ctx context.Context, g model.Group, groupID string) (model.Group, error) {
	mg, err := r.tx.GroupByGroupID(ctx, strings.TrimSpace(groupID))
	if errors.Is(err, store.ErrNotFound) {
		return model.Group{}, &MembershipError{Code: ErrCodeGroupNotFound, Message: fmt.Sprintf("group %s not found", groupID), GroupID: g.ID}
	}
	return mg, err
}

func (r *run) checkOutsider(ctx context.Context, g model.Group, m model.Member) error {
	if !m.IsUser() {
		return nil
	}
	u, err := r.tx.User(ctx, m.ID)
	if err != nil {
		return err
	}
	if u.Outsider {
		return outsiderError(g, m)
	}
	return nil
}

func outsiderError(g model.Group, m model.Member) error {
	return &MembershipError{
		Code:     ErrCodeOutsiderNotAllowed,
		Message:  fmt.Sprintf("outsider %s may not join groups", m.Name),
		GroupID:  g.ID,
		MemberID: m.ID,
	}
}
